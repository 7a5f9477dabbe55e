package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/ripple/internal/auth"
	"github.com/friendsincode/ripple/internal/broadcast"
	"github.com/friendsincode/ripple/internal/eventbus"
	"github.com/friendsincode/ripple/internal/events"
	"github.com/friendsincode/ripple/internal/models"
	"github.com/friendsincode/ripple/internal/provider"
	"github.com/friendsincode/ripple/internal/queue"
	"github.com/friendsincode/ripple/internal/roomlock"
	"github.com/friendsincode/ripple/internal/rooms"
	"github.com/friendsincode/ripple/internal/store"
)

type fakePlayback struct {
	mu         sync.Mutex
	enqueued   []models.TrackMetadata
	removeErr  error
	enqueueErr error
	skipped    []string
	viewers    []*models.Submitter

	joined chan models.Submitter
	left   chan models.Submitter
	chats  chan string
}

func newFakePlayback() *fakePlayback {
	return &fakePlayback{
		joined: make(chan models.Submitter, 4),
		left:   make(chan models.Submitter, 4),
		chats:  make(chan string, 4),
	}
}

func (f *fakePlayback) EnqueueOrStart(_ context.Context, _ string, submitter models.Submitter, meta models.TrackMetadata) ([]models.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.enqueued = append(f.enqueued, meta)
	track := models.NewTrack(meta, submitter)
	return []models.QueueItem{{Submitter: submitter, Track: &track}}, nil
}

func (f *fakePlayback) RemoveFromQueue(context.Context, string, string, int64) error {
	return f.removeErr
}

func (f *fakePlayback) GetQueueView(_ context.Context, _ string, viewer *models.Submitter) []models.QueueItem {
	f.mu.Lock()
	f.viewers = append(f.viewers, viewer)
	f.mu.Unlock()
	return []models.QueueItem{{Submitter: models.Submitter{ID: "u2", Username: "bea"}}}
}

func (f *fakePlayback) GetPlaybackSnapshot(_ context.Context, roomID string, viewer *models.Submitter) models.Snapshot {
	f.mu.Lock()
	f.viewers = append(f.viewers, viewer)
	f.mu.Unlock()
	return models.Snapshot{RoomID: roomID, Queue: []models.QueueItem{}, History: []models.Track{}}
}

func (f *fakePlayback) Skip(_ context.Context, _ string, requester models.Submitter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipped = append(f.skipped, requester.ID)
	return nil
}

func (f *fakePlayback) Like(context.Context, string, models.Submitter) error { return nil }

func (f *fakePlayback) UserJoined(_ context.Context, _ string, user models.Submitter) {
	f.joined <- user
}

func (f *fakePlayback) UserLeft(_ context.Context, _ string, user models.Submitter) {
	f.left <- user
}

func (f *fakePlayback) Chat(_ context.Context, _ string, _ models.Submitter, text string) {
	f.chats <- text
}

type fakeRooms map[string]bool

func (f fakeRooms) FindByID(_ context.Context, id string) (models.Room, error) {
	if !f[id] {
		return models.Room{}, rooms.ErrRoomNotFound
	}
	return models.Room{ID: id}, nil
}

type fakeMetadata struct{}

func (fakeMetadata) Fetch(_ context.Context, rawURL string) (models.TrackMetadata, error) {
	if !strings.Contains(rawURL, "youtube.com") {
		return models.TrackMetadata{}, fmt.Errorf("%w: %s", provider.ErrUnsupportedProvider, rawURL)
	}
	return models.TrackMetadata{Title: "song", Duration: 1000, URL: rawURL, Provider: "YouTube"}, nil
}

type testEnv struct {
	router   http.Handler
	playback *fakePlayback
	hub      *broadcast.Hub
	verifier *auth.Verifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pb := newFakePlayback()
	hub := broadcast.NewHub(8, zerolog.Nop())
	verifier := auth.NewVerifier([]byte("test-secret"))

	a := New(Deps{
		Playback: pb,
		Rooms:    fakeRooms{"r1": true},
		Metadata: fakeMetadata{},
		Verifier: verifier,
		Hub:      hub,
		Logger:   zerolog.Nop(),
	})
	r := chi.NewRouter()
	a.Routes(r)
	return &testEnv{router: r, playback: pb, hub: hub, verifier: verifier}
}

func (e *testEnv) token(t *testing.T, id, username string) string {
	t.Helper()
	tok, err := e.verifier.Issue(models.Principal{ID: id, Username: username}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEnqueueRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/v1/rooms/r1/queue", "", `{"url":"https://www.youtube.com/watch?v=abc"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestEnqueue(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "u1", "ana")

	rec := env.do(http.MethodPost, "/api/v1/rooms/r1/queue", tok, `{"url":"https://www.youtube.com/watch?v=abc"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp queueResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Queue) != 1 || resp.Queue[0].Submitter.ID != "u1" {
		t.Fatalf("unexpected queue: %+v", resp.Queue)
	}
}

func TestEnqueueValidation(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "u1", "ana")

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{`, "invalid_json"},
		{"missing url", `{"url":"  "}`, "url_required"},
		{"unsupported provider", `{"url":"https://example.com/song"}`, "unsupported_provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/v1/rooms/r1/queue", tok, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.code) {
				t.Fatalf("expected %q in body, got %s", tt.code, rec.Body.String())
			}
		})
	}
}

func TestUnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/v1/rooms/nope/playback", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRemoveErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "u1", "ana")

	tests := []struct {
		name   string
		path   string
		err    error
		status int
	}{
		{"removed", "/api/v1/rooms/r1/queue/0", nil, http.StatusNoContent},
		{"bad index", "/api/v1/rooms/r1/queue/first", nil, http.StatusBadRequest},
		{"out of range", "/api/v1/rooms/r1/queue/9", queue.ErrOutOfRange, http.StatusBadRequest},
		{"not owner", "/api/v1/rooms/r1/queue/0", queue.ErrNotOwner, http.StatusForbidden},
		{"conflict", "/api/v1/rooms/r1/queue/0", fmt.Errorf("remove queue entry: %w", store.ErrConflict), http.StatusConflict},
		{"store down", "/api/v1/rooms/r1/queue/0", fmt.Errorf("%w: lindex", store.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{"lock store down", "/api/v1/rooms/r1/queue/0", fmt.Errorf("%w: acquire room lock: %w", store.ErrStoreUnavailable, fmt.Errorf("dial tcp: connection refused")), http.StatusServiceUnavailable},
		{"lock timeout", "/api/v1/rooms/r1/queue/0", fmt.Errorf("%w: room r1", roomlock.ErrLockTimeout), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.playback.removeErr = tt.err
			rec := env.do(http.MethodDelete, tt.path, tok, "")
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestReadsPassViewer(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "u1", "ana")

	if rec := env.do(http.MethodGet, "/api/v1/rooms/r1/queue", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("guest queue read: %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/rooms/r1/playback", tok, ""); rec.Code != http.StatusOK {
		t.Fatalf("playback read: %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/rooms/r1/queue", "garbage", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected invalid token to be rejected, got %d", rec.Code)
	}

	env.playback.mu.Lock()
	defer env.playback.mu.Unlock()
	if len(env.playback.viewers) != 2 {
		t.Fatalf("expected two reads, got %d", len(env.playback.viewers))
	}
	if env.playback.viewers[0] != nil {
		t.Fatalf("guest should read as anonymous")
	}
	if v := env.playback.viewers[1]; v == nil || v.ID != "u1" {
		t.Fatalf("expected viewer u1, got %+v", v)
	}
}

func TestSkipUsesPrincipal(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/v1/rooms/r1/skip", env.token(t, "u7", "gus"), "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(env.playback.skipped) != 1 || env.playback.skipped[0] != "u7" {
		t.Fatalf("unexpected skips: %v", env.playback.skipped)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *ws.Conn) wsMessage {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if msg.Type != "ping" {
			return msg
		}
	}
}

func TestRoomWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/rooms/r1/ws?token=" + env.token(t, "u1", "ana")
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusInternalError, "test done")

	if msg := readFrame(t, ctx, conn); msg.Type != snapshotMessage {
		t.Fatalf("expected snapshot first, got %q", msg.Type)
	}

	select {
	case user := <-env.playback.joined:
		if user.ID != "u1" {
			t.Fatalf("unexpected joined user %+v", user)
		}
	case <-ctx.Done():
		t.Fatal("join was not announced")
	}

	env.hub.Deliver(eventbus.Message{
		RoomID:  "r1",
		Event:   events.EventTrackStarted,
		Payload: json.RawMessage(`{"track":null}`),
	})
	if msg := readFrame(t, ctx, conn); msg.Type != string(events.EventTrackStarted) || string(msg.Payload) != `{"track":null}` {
		t.Fatalf("unexpected relayed frame: %+v", msg)
	}

	if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"chat","text":"  hello  "}`)); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	select {
	case text := <-env.playback.chats:
		if text != "hello" {
			t.Fatalf("expected trimmed chat, got %q", text)
		}
	case <-ctx.Done():
		t.Fatal("chat was not relayed")
	}

	conn.Close(ws.StatusNormalClosure, "bye")
	select {
	case user := <-env.playback.left:
		if user.ID != "u1" {
			t.Fatalf("unexpected left user %+v", user)
		}
	case <-ctx.Done():
		t.Fatal("leave was not announced")
	}
}

func TestGuestWebSocketIsSilent(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/rooms/r1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusInternalError, "test done")

	if msg := readFrame(t, ctx, conn); msg.Type != snapshotMessage {
		t.Fatalf("expected snapshot first, got %q", msg.Type)
	}
	if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"chat","text":"hi"}`)); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	conn.Close(ws.StatusNormalClosure, "bye")

	select {
	case <-env.playback.joined:
		t.Fatal("guest should not be announced")
	case text := <-env.playback.chats:
		t.Fatalf("guest chat should be ignored, got %q", text)
	case <-time.After(200 * time.Millisecond):
	}
}
