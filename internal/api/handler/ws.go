package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mcoot/storyguess/internal/api/apierr"
	"github.com/mcoot/storyguess/internal/api/middleware"
	"github.com/mcoot/storyguess/internal/api/response"
	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/services/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = time.Minute
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 4096
	wsOutBuffer  = 16
)

// Action types accepted on the websocket
const (
	ActionJoin      = "join"
	ActionLeave     = "leave"
	ActionReady     = "ready"
	ActionStart     = "start"
	ActionStory     = "story"
	ActionGuess     = "guess"
	ActionReact     = "react"
	ActionPlayAgain = "play_again"
	ActionState     = "state"
)

// Frame types sent on the websocket
const (
	FrameSnapshot = "snapshot"
	FrameEvent    = "event"
	FrameAck      = "ack"
	FrameError    = "error"
)

// WSAction is a client frame. Only the fields relevant to Type are read.
type WSAction struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	Name            string `json:"name,omitempty"`
	Avatar          string `json:"avatar,omitempty"`
	Ready           *bool  `json:"ready,omitempty"`
	Content         string `json:"content,omitempty"`
	Genre           string `json:"genre,omitempty"`
	StoryID         string `json:"story_id,omitempty"`
	GuessedAuthorID string `json:"guessed_author_id,omitempty"`
	Kind            string `json:"kind,omitempty"`
}

// WSFrame is a server frame
type WSFrame struct {
	Type      string             `json:"type"`
	RequestID string             `json:"request_id,omitempty"`
	Snapshot  *response.Snapshot `json:"snapshot,omitempty"`
	Event     *response.Event    `json:"event,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     *apierr.APIError   `json:"error,omitempty"`
}

// WSConfig configures per-connection limits
type WSConfig struct {
	// Rate is the sustained number of actions per second a connection may send
	Rate rate.Limit
	// Burst is the number of actions allowed above Rate
	Burst int
}

// DefaultWSConfig returns the default websocket limits
func DefaultWSConfig() WSConfig {
	return WSConfig{Rate: 5, Burst: 10}
}

// WSHandler serves a live per-viewer session over a websocket
type WSHandler struct {
	coord    *session.Coordinator
	cfg      WSConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(coord *session.Coordinator, cfg WSConfig, logger *slog.Logger) *WSHandler {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultWSConfig().Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultWSConfig().Burst
	}
	return &WSHandler{
		coord:  coord,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Rooms are joined from phones scanning a QR code on any host
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve handles GET /api/v1/rooms/{code}/ws
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	code := roomCode(r)
	localID := middleware.GetLocalID(r.Context())
	if localID == "" {
		localID = model.LocalID(r.URL.Query().Get("player_id"))
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Open before upgrading so an unknown room gets a normal 404
	sess, err := h.coord.Open(ctx, code, localID)
	if err != nil {
		WriteError(w, err)
		return
	}
	defer func() { _ = sess.Close() }()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("room_code", string(code)), slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.Close() }()

	c := &wsConn{
		handler: h,
		conn:    conn,
		sess:    sess,
		localID: localID,
		out:     make(chan WSFrame, wsOutBuffer),
		limiter: rate.NewLimiter(h.cfg.Rate, h.cfg.Burst),
	}

	h.logger.LogAttrs(ctx, slog.LevelInfo, "websocket connected",
		slog.String("room_code", string(code)),
		slog.Bool("identified", localID != ""),
	)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx)
		cancel()
		// Unblocks the reader
		_ = conn.Close()
	}()

	c.sendSnapshot(ctx, "")
	c.readPump(ctx)
	cancel()
	<-writerDone

	h.logger.LogAttrs(ctx, slog.LevelInfo, "websocket disconnected", slog.String("room_code", string(code)))
}

type wsConn struct {
	handler *WSHandler
	conn    *websocket.Conn
	sess    *session.Session
	localID model.LocalID
	out     chan WSFrame
	limiter *rate.Limiter
}

// enqueue hands a frame to the writer. It gives up once ctx is done.
func (c *wsConn) enqueue(ctx context.Context, f WSFrame) {
	select {
	case c.out <- f:
	case <-ctx.Done():
	}
}

func (c *wsConn) sendError(ctx context.Context, requestID string, err error) {
	apiErr := apierr.FromError(err)
	c.enqueue(ctx, WSFrame{Type: FrameError, RequestID: requestID, Error: &apiErr})
}

func (c *wsConn) sendSnapshot(ctx context.Context, requestID string) {
	snap, err := c.sess.Snapshot(ctx)
	if err != nil {
		c.sendError(ctx, requestID, err)
		return
	}
	out := response.SnapshotFromSession(snap)
	c.enqueue(ctx, WSFrame{Type: FrameSnapshot, RequestID: requestID, Snapshot: &out})
}

func (c *wsConn) readPump(ctx context.Context) {
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.handler.logger.Debug("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		var action WSAction
		if err := json.Unmarshal(data, &action); err != nil {
			c.sendError(ctx, "", apierr.NewInvalidRequestError("Invalid frame"))
			continue
		}
		if !c.limiter.Allow() {
			c.sendError(ctx, action.RequestID, apierr.NewRateLimitedError())
			continue
		}
		c.dispatch(ctx, action)
	}
}

func (c *wsConn) dispatch(ctx context.Context, a WSAction) {
	if a.Type == ActionState {
		c.sendSnapshot(ctx, a.RequestID)
		return
	}
	if c.localID == "" {
		c.sendError(ctx, a.RequestID, model.ErrMissingIdentity)
		return
	}

	result, err := c.apply(ctx, a)
	if err != nil {
		c.sendError(ctx, a.RequestID, err)
		return
	}
	c.enqueue(ctx, WSFrame{Type: FrameAck, RequestID: a.RequestID, Result: result})
}

func (c *wsConn) apply(ctx context.Context, a WSAction) (any, error) {
	coord := c.handler.coord
	code := c.sess.RoomCode()

	switch a.Type {
	case ActionJoin:
		p, err := coord.Join(ctx, code, c.localID, a.Name, a.Avatar)
		if err != nil {
			return nil, err
		}
		return response.PlayerFromModel(p), nil
	case ActionLeave:
		return nil, coord.Leave(ctx, code, c.localID)
	case ActionReady:
		ready := true
		if a.Ready != nil {
			ready = *a.Ready
		}
		return nil, coord.SetReady(ctx, code, c.localID, ready)
	case ActionStart:
		return nil, coord.StartGame(ctx, code, c.localID)
	case ActionStory:
		s, err := coord.SubmitStory(ctx, code, c.localID, a.Content, model.Genre(a.Genre))
		if err != nil {
			return nil, err
		}
		return response.StoryFromModel(s), nil
	case ActionGuess:
		g, err := coord.SubmitGuess(ctx, code, c.localID, model.StoryID(a.StoryID), model.PlayerID(a.GuessedAuthorID))
		if err != nil {
			return nil, err
		}
		return response.GuessFromModel(g), nil
	case ActionReact:
		active, err := coord.React(ctx, code, c.localID, model.StoryID(a.StoryID), model.ReactionKind(a.Kind))
		if err != nil {
			return nil, err
		}
		return response.Reaction{StoryID: a.StoryID, Kind: a.Kind, Active: active}, nil
	case ActionPlayAgain:
		return nil, coord.PlayAgain(ctx, code, c.localID)
	default:
		return nil, apierr.NewInvalidRequestError("Unknown action type")
	}
}

// writePump owns all writes to the connection. It returns when the session
// ends, a write fails, or ctx is cancelled.
func (c *wsConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	events := c.sess.Events()
	for {
		select {
		case <-ctx.Done():
			c.writeClose(websocket.CloseNormalClosure, "")
			return
		case f := <-c.out:
			if err := c.write(f); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				// Flush whatever replies are already queued
				c.drain()
				c.writeClose(websocket.CloseNormalClosure, "room_closed")
				return
			}
			out := response.EventFromSession(ev)
			if err := c.write(WSFrame{Type: FrameEvent, Event: &out}); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) drain() {
	for {
		select {
		case f := <-c.out:
			if err := c.write(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(f WSFrame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(f)
}

func (c *wsConn) writeClose(code int, reason string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
