package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/storyguess/internal/model"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Error codes, shared by HTTP responses and websocket error frames
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInvalidRoomCode     = "INVALID_ROOM_CODE"
	CodeInvalidRoomName     = "INVALID_ROOM_NAME"
	CodeInvalidCapacity     = "INVALID_CAPACITY"
	CodeEmptyName           = "EMPTY_NAME"
	CodeNameTooLong         = "NAME_TOO_LONG"
	CodeEmptyContent        = "EMPTY_CONTENT"
	CodeContentTooLong      = "CONTENT_TOO_LONG"
	CodeInvalidGenre        = "INVALID_GENRE"
	CodeInvalidReaction     = "INVALID_REACTION"
	CodeReactionLimit       = "REACTION_LIMIT"
	CodeSelfGuess           = "SELF_GUESS"
	CodeAlreadyGuessed      = "ALREADY_GUESSED"
	CodeNotHost             = "NOT_HOST"
	CodeInsufficientPlayers = "INSUFFICIENT_PLAYERS"
	CodeNotAllReady         = "NOT_ALL_READY"
	CodeRoomNotFound        = "ROOM_NOT_FOUND"
	CodePlayerNotFound      = "PLAYER_NOT_FOUND"
	CodeStoryNotFound       = "STORY_NOT_FOUND"
	CodeRoomFull            = "ROOM_FULL"
	CodeRoomInProgress      = "ROOM_IN_PROGRESS"
	CodeWrongPhase          = "WRONG_PHASE"
	CodeStoryNotActive      = "STORY_NOT_ACTIVE"
	CodeCodeSpaceExhausted  = "CODE_SPACE_EXHAUSTED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternalError       = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

type mapping struct {
	target error
	status int
	code   string
}

var mappings = []mapping{
	// Validation
	{model.ErrMissingIdentity, http.StatusUnauthorized, CodeUnauthorized},
	{model.ErrInvalidRoomCode, http.StatusBadRequest, CodeInvalidRoomCode},
	{model.ErrInvalidRoomName, http.StatusBadRequest, CodeInvalidRoomName},
	{model.ErrInvalidCapacity, http.StatusBadRequest, CodeInvalidCapacity},
	{model.ErrEmptyName, http.StatusBadRequest, CodeEmptyName},
	{model.ErrNameTooLong, http.StatusBadRequest, CodeNameTooLong},
	{model.ErrEmptyContent, http.StatusBadRequest, CodeEmptyContent},
	{model.ErrContentTooLong, http.StatusBadRequest, CodeContentTooLong},
	{model.ErrInvalidGenre, http.StatusBadRequest, CodeInvalidGenre},
	{model.ErrInvalidReaction, http.StatusBadRequest, CodeInvalidReaction},
	{model.ErrReactionLimit, http.StatusBadRequest, CodeReactionLimit},
	{model.ErrSelfGuess, http.StatusBadRequest, CodeSelfGuess},
	{model.ErrInsufficientPlayers, http.StatusBadRequest, CodeInsufficientPlayers},
	{model.ErrNotAllReady, http.StatusBadRequest, CodeNotAllReady},
	{model.ErrNotHost, http.StatusForbidden, CodeNotHost},

	// Not found
	{model.ErrRoomNotFound, http.StatusNotFound, CodeRoomNotFound},
	{model.ErrPlayerNotFound, http.StatusNotFound, CodePlayerNotFound},
	{model.ErrStoryNotFound, http.StatusNotFound, CodeStoryNotFound},

	// Stale state and duplicates
	{model.ErrWrongPhase, http.StatusConflict, CodeWrongPhase},
	{model.ErrStoryNotActive, http.StatusConflict, CodeStoryNotActive},
	{model.ErrAlreadyGuessed, http.StatusConflict, CodeAlreadyGuessed},

	// Capacity
	{model.ErrRoomFull, http.StatusConflict, CodeRoomFull},
	{model.ErrRoomInProgress, http.StatusConflict, CodeRoomInProgress},
	{model.ErrCodeSpaceExhausted, http.StatusServiceUnavailable, CodeCodeSpaceExhausted},
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status err maps to
func Status(err error) int {
	return toHTTPError(err).status
}

// FromError returns the API error body for err
func FromError(err error) APIError {
	return toHTTPError(err).apiError
}

// toHTTPError converts an error to an httpError. Unknown errors are store or
// programming failures and never leak their message.
func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	for _, m := range mappings {
		if errors.Is(err, m.target) {
			message := m.target.Error()
			// Stale-state errors carry the phases involved
			var stale *model.StaleStateError
			if errors.As(err, &stale) {
				message = stale.Error()
			}
			return &httpError{m.status, APIError{m.code, message}}
		}
	}
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Player identity required"}}
}

// NewRateLimitedError creates a rate limit error
func NewRateLimitedError() error {
	return &httpError{http.StatusTooManyRequests, APIError{CodeRateLimited, "Too many actions, slow down"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
