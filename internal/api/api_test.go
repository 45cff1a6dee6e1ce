package api_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/storyguess/internal/api"
	"github.com/mcoot/storyguess/internal/api/apierr"
	"github.com/mcoot/storyguess/internal/api/handler"
	"github.com/mcoot/storyguess/internal/api/response"
	"github.com/mcoot/storyguess/internal/factory"
	"github.com/mcoot/storyguess/internal/testutil"
)

// testServer creates a test server with all dependencies
type testServer struct {
	handler http.Handler
	app     *factory.TestApp
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	app := factory.NewTestApp()
	t.Cleanup(func() { _ = app.Close() })

	router := api.NewRouter(api.RouterConfig{
		Logger:      testutil.NopLogger(),
		Coordinator: app.Coordinator,
		HubManager:  app.HubManager,
		PublicURL:   "https://play.example.com",
		StorageName: "memory",
		WebSocket:   handler.WSConfig{Rate: 100, Burst: 100},
	})

	return &testServer{handler: router, app: app}
}

func (ts *testServer) request(method, path string, body any, localID string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if localID != "" {
		req.Header.Set("Authorization", "Bearer "+localID)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[apierr.ErrorResponse](t, rr).Error.Code
}

// createRoom creates a room with a fixed code
func (ts *testServer) createRoom(t *testing.T, code string) response.RoomDetail {
	t.Helper()
	ts.app.MockRandom.QueueString(code)
	rr := ts.request(http.MethodPost, "/api/v1/rooms", map[string]any{"name": "Game Night"}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[response.RoomDetail](t, rr)
}

func (ts *testServer) join(t *testing.T, code, localID, name string) response.Player {
	t.Helper()
	rr := ts.request(http.MethodPost, "/api/v1/rooms/"+code+"/join", map[string]string{"name": name}, localID)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[response.Player](t, rr)
}

// startedRoom returns a room of three players in the writing phase
func (ts *testServer) startedRoom(t *testing.T, code string) {
	t.Helper()
	ts.createRoom(t, code)
	for _, p := range [][2]string{{"dev-ann", "Ann"}, {"dev-bob", "Bob"}, {"dev-cat", "Cat"}} {
		ts.join(t, code, p[0], p[1])
		rr := ts.request(http.MethodPost, "/api/v1/rooms/"+code+"/ready", map[string]bool{"ready": true}, p[0])
		require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	}
	rr := ts.request(http.MethodPost, "/api/v1/rooms/"+code+"/start", nil, "dev-ann")
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	health := decode[response.Health](t, rr)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "memory", health.Storage)
}

func TestCreateAndGetRoom(t *testing.T) {
	ts := newTestServer(t)

	created := ts.createRoom(t, "RMHALL")
	assert.Equal(t, "RMHALL", created.Code)
	assert.Equal(t, "lobby", created.Phase)
	assert.Equal(t, 5, created.MaxPlayers)
	assert.Equal(t, "https://play.example.com/?room=RMHALL", created.JoinURL)

	ts.join(t, "RMHALL", "dev-ann", "Ann")

	// Codes are case-insensitive
	rr := ts.request(http.MethodGet, "/api/v1/rooms/rmhall", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	detail := decode[response.RoomDetail](t, rr)
	require.Len(t, detail.Players, 1)
	assert.Equal(t, "Ann", detail.Players[0].Name)
	assert.True(t, detail.Players[0].IsHost)
}

func TestCreateRoomValidation(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodPost, "/api/v1/rooms", map[string]any{"name": "x", "max_players": 9}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidCapacity, errorCode(t, rr))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rooms", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierr.CodeInvalidRequest, errorCode(t, rec))
}

func TestUnknownRoom(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/rooms/ZZZZZZ", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodeRoomNotFound, errorCode(t, rr))
}

func TestActionsRequireIdentity(t *testing.T) {
	ts := newTestServer(t)
	ts.createRoom(t, "WHEREU")

	rr := ts.request(http.MethodPost, "/api/v1/rooms/WHEREU/join", map[string]string{"name": "Ann"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, apierr.CodeUnauthorized, errorCode(t, rr))
}

func TestJoinSetsCookie(t *testing.T) {
	ts := newTestServer(t)
	ts.createRoom(t, "CRUMBS")

	rr := ts.request(http.MethodPost, "/api/v1/rooms/CRUMBS/join", map[string]string{"name": "Ann"}, "dev-ann")
	require.Equal(t, http.StatusOK, rr.Code)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "player_id", cookies[0].Name)
	assert.Equal(t, "dev-ann", cookies[0].Value)

	// The cookie alone identifies the caller
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/CRUMBS/state", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[response.Snapshot](t, rec)
	require.NotNil(t, snap.Self)
	assert.Equal(t, "Ann", snap.Self.Name)
}

func TestStartRules(t *testing.T) {
	ts := newTestServer(t)
	ts.createRoom(t, "STARTS")
	ts.join(t, "STARTS", "dev-ann", "Ann")
	ts.join(t, "STARTS", "dev-bob", "Bob")

	rr := ts.request(http.MethodPost, "/api/v1/rooms/STARTS/start", nil, "dev-bob")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, apierr.CodeNotHost, errorCode(t, rr))

	rr = ts.request(http.MethodPost, "/api/v1/rooms/STARTS/start", nil, "dev-ann")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInsufficientPlayers, errorCode(t, rr))
}

func TestFullRoundOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.startedRoom(t, "PLAYER")

	for _, id := range []string{"dev-ann", "dev-bob", "dev-cat"} {
		rr := ts.request(http.MethodPost, "/api/v1/rooms/PLAYER/stories",
			map[string]string{"content": "I once met a bear named " + id, "genre": "funny"}, id)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	// Bob sees the active story without its author
	rr := ts.request(http.MethodGet, "/api/v1/rooms/PLAYER/state", nil, "dev-bob")
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode[response.Snapshot](t, rr)
	assert.Equal(t, "guessing", snap.Phase)
	require.NotNil(t, snap.ActiveStory)
	assert.Empty(t, snap.ActiveStory.AuthorID)

	storyID := snap.ActiveStory.ID
	authorID := ""
	var guessers []string
	for _, id := range []string{"dev-ann", "dev-bob", "dev-cat"} {
		s := decode[response.Snapshot](t, ts.request(http.MethodGet, "/api/v1/rooms/PLAYER/state", nil, id))
		if s.ActiveStory.IsOwn {
			authorID = s.Self.ID
			continue
		}
		guessers = append(guessers, id)
	}
	require.NotEmpty(t, authorID)
	require.Len(t, guessers, 2)

	// Results are hidden until reveal
	rr = ts.request(http.MethodGet, "/api/v1/rooms/PLAYER/results", nil, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apierr.CodeWrongPhase, errorCode(t, rr))

	rr = ts.request(http.MethodPost, "/api/v1/rooms/PLAYER/reactions",
		map[string]string{"story_id": storyID, "kind": "joy"}, guessers[0])
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[response.Reaction](t, rr).Active)

	for _, id := range guessers {
		rr = ts.request(http.MethodPost, "/api/v1/rooms/PLAYER/guesses",
			map[string]string{"story_id": storyID, "guessed_author_id": authorID}, id)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	// A second guess is rejected
	rr = ts.request(http.MethodPost, "/api/v1/rooms/PLAYER/guesses",
		map[string]string{"story_id": storyID, "guessed_author_id": authorID}, guessers[0])
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/rooms/PLAYER/results", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	results := decode[struct {
		Results []response.GuessResult `json:"results"`
	}](t, rr)
	require.Len(t, results.Results, 2)
	for _, res := range results.Results {
		assert.True(t, res.IsCorrect)
	}

	rr = ts.request(http.MethodGet, "/api/v1/rooms/PLAYER/state", nil, "dev-ann")
	snap = decode[response.Snapshot](t, rr)
	assert.Equal(t, "reveal", snap.Phase)
	assert.Equal(t, authorID, snap.ActiveStory.AuthorID)
	assert.Equal(t, []response.ReactionCount{{Kind: "joy", Count: 1}}, snap.Reactions)

	rr = ts.request(http.MethodPost, "/api/v1/rooms/PLAYER/play-again", nil, "dev-cat")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/rooms/PLAYER", nil, "")
	assert.Equal(t, "lobby", decode[response.RoomDetail](t, rr).Phase)
}

func TestStaleSubmitIsConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.createRoom(t, "STALE2")
	ts.join(t, "STALE2", "dev-ann", "Ann")

	rr := ts.request(http.MethodPost, "/api/v1/rooms/STALE2/stories",
		map[string]string{"content": "too early"}, "dev-ann")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, apierr.CodeWrongPhase, errorCode(t, rr))
}

func TestQRCode(t *testing.T) {
	ts := newTestServer(t)
	ts.createRoom(t, "QRSCAN")

	rr := ts.request(http.MethodGet, "/api/v1/rooms/QRSCAN/qr", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")))
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)
	ts.createRoom(t, "EVENTS")

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/rooms/EVENTS/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed waiting for %q", prefix)
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor("event: connected")
	ts.join(t, "EVENTS", "dev-ann", "Ann")
	waitFor("event: players_changed")
}

func TestWebSocketSession(t *testing.T) {
	ts := newTestServer(t)
	ts.createRoom(t, "SKTWS2")

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/rooms/SKTWS2/ws?player_id=dev-ann"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	read := func() handler.WSFrame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var f handler.WSFrame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}
	readUntil := func(frameType, requestID string) handler.WSFrame {
		t.Helper()
		for {
			f := read()
			if f.Type == frameType && f.RequestID == requestID {
				return f
			}
		}
	}

	first := read()
	require.Equal(t, handler.FrameSnapshot, first.Type)
	assert.Nil(t, first.Snapshot.Self)

	require.NoError(t, conn.WriteJSON(handler.WSAction{Type: handler.ActionJoin, RequestID: "1", Name: "Ann"}))

	// The ack and the change event may arrive in either order
	var acked, joined bool
	for !acked || !joined {
		f := read()
		switch {
		case f.Type == handler.FrameAck && f.RequestID == "1":
			assert.NotNil(t, f.Result)
			acked = true
		case f.Type == handler.FrameEvent && f.Event.Snapshot != nil && f.Event.Snapshot.Self != nil:
			assert.Equal(t, "Ann", f.Event.Snapshot.Self.Name)
			joined = true
		}
	}

	require.NoError(t, conn.WriteJSON(handler.WSAction{Type: handler.ActionStart, RequestID: "2"}))
	errFrame := readUntil(handler.FrameError, "2")
	assert.Equal(t, apierr.CodeInsufficientPlayers, errFrame.Error.Code)

	require.NoError(t, conn.WriteJSON(handler.WSAction{Type: "dance", RequestID: "3"}))
	errFrame = readUntil(handler.FrameError, "3")
	assert.Equal(t, apierr.CodeInvalidRequest, errFrame.Error.Code)
}

func TestWebSocketRateLimit(t *testing.T) {
	app := factory.NewTestApp()
	t.Cleanup(func() { _ = app.Close() })
	router := api.NewRouter(api.RouterConfig{
		Logger:      testutil.NopLogger(),
		Coordinator: app.Coordinator,
		HubManager:  app.HubManager,
		WebSocket:   handler.WSConfig{Rate: 0.001, Burst: 1},
	})
	app.MockRandom.QueueString("THRTLE")
	_, err := app.Coordinator.CreateRoom(t.Context(), "Limits", 0)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/rooms/THRTLE/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(handler.WSAction{Type: handler.ActionState, RequestID: "a"}))
	require.NoError(t, conn.WriteJSON(handler.WSAction{Type: handler.ActionState, RequestID: "b"}))

	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var f handler.WSFrame
		require.NoError(t, conn.ReadJSON(&f))
		if f.RequestID == "b" {
			require.Equal(t, handler.FrameError, f.Type)
			assert.Equal(t, apierr.CodeRateLimited, f.Error.Code)
			return
		}
	}
}
