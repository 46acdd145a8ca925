package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voxpipe/voxd/internal/daemon"
	"github.com/voxpipe/voxd/internal/engine"
	"github.com/voxpipe/voxd/internal/models"
	"github.com/voxpipe/voxd/internal/server"
)

// stubEngine is a minimal daemon.Engine whose run loop blocks until
// cancelled.
type stubEngine struct {
	mu          sync.Mutex
	initialized bool
}

func (s *stubEngine) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *stubEngine) Initialize(context.Context, func(engine.InitEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

func (s *stubEngine) RunLoop(ctx context.Context, _ func(string)) error {
	<-ctx.Done()
	return nil
}

func (s *stubEngine) Close() error { return nil }

// stubTrigger records TriggerInit calls.
type stubTrigger struct {
	mu      sync.Mutex
	started bool
	calls   int
}

func (s *stubTrigger) TriggerInit(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.started
}

func newTestServer(t *testing.T, eng daemon.Engine, trigger server.InitTrigger) (*httptest.Server, *daemon.Controller) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := daemon.NewController(eng, daemon.WithControllerLogger(quiet))
	t.Cleanup(ctrl.Shutdown)

	srv := server.New(ctrl, trigger,
		server.WithLogger(quiet),
		server.WithModel(models.WhisperBaseEn),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, ctrl
}

func postJSON(t *testing.T, ts *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := ts.Client().Post(ts.URL+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding %s response: %v", path, err)
	}
	return resp.StatusCode, body
}

func getJSON(t *testing.T, ts *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding %s response: %v", path, err)
	}
	return resp.StatusCode, body
}

func TestStatus(t *testing.T) {
	t.Parallel()
	ts, ctrl := newTestServer(t, &stubEngine{initialized: true}, nil)

	code, body := getJSON(t, ts, "/v1/status")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if body["state"] != "initializing" {
		t.Errorf("state = %v, want initializing", body["state"])
	}
	if body["model"] != string(models.WhisperBaseEn) {
		t.Errorf("model = %v", body["model"])
	}

	ctrl.MarkReady()
	_, body = getJSON(t, ts, "/v1/status")
	if body["state"] != "paused" {
		t.Errorf("state = %v, want paused", body["state"])
	}
	if body["initialized"] != true {
		t.Errorf("initialized = %v, want true", body["initialized"])
	}
}

func TestStart_GuardViolationIs409(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &stubEngine{initialized: true}, nil)

	code, body := postJSON(t, ts, "/v1/start")
	if code != http.StatusConflict {
		t.Fatalf("status code = %d, want 409", code)
	}
	errBody := body["error"].(map[string]any)
	if errBody["kind"] != "wrong_state" {
		t.Errorf("error kind = %v", errBody["kind"])
	}
}

func TestStart_NotInitializedIs412(t *testing.T) {
	t.Parallel()
	ts, ctrl := newTestServer(t, &stubEngine{}, nil)
	ctrl.MarkReady()

	code, body := postJSON(t, ts, "/v1/start")
	if code != http.StatusPreconditionFailed {
		t.Fatalf("status code = %d, want 412", code)
	}
	errBody := body["error"].(map[string]any)
	if errBody["kind"] != "not_initialized" {
		t.Errorf("error kind = %v", errBody["kind"])
	}
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()
	ts, ctrl := newTestServer(t, &stubEngine{initialized: true}, nil)
	ctrl.MarkReady()

	code, body := postJSON(t, ts, "/v1/start")
	if code != http.StatusOK {
		t.Fatalf("start status code = %d", code)
	}
	if body["state"] != "listening" {
		t.Errorf("state after start = %v", body["state"])
	}

	code, body = postJSON(t, ts, "/v1/stop")
	if code != http.StatusOK {
		t.Fatalf("stop status code = %d", code)
	}
	if body["state"] != "paused" {
		t.Errorf("state after stop = %v", body["state"])
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	ts, ctrl := newTestServer(t, &stubEngine{initialized: true}, nil)

	code, _ := postJSON(t, ts, "/v1/shutdown")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}

	select {
	case <-ctrl.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not shut down")
	}
	if got := ctrl.State(); got != daemon.StateStopped {
		t.Fatalf("state = %v, want stopped", got)
	}
}

func TestModelsDownload(t *testing.T) {
	t.Parallel()
	trigger := &stubTrigger{started: true}
	ts, _ := newTestServer(t, &stubEngine{}, trigger)

	code, body := postJSON(t, ts, "/v1/models/download")
	if code != http.StatusAccepted {
		t.Fatalf("status code = %d, want 202", code)
	}
	if body["status"] != "started" {
		t.Errorf("status = %v, want started", body["status"])
	}

	trigger.mu.Lock()
	trigger.started = false
	trigger.mu.Unlock()
	_, body = postJSON(t, ts, "/v1/models/download")
	if body["status"] != "already_running" {
		t.Errorf("status = %v, want already_running", body["status"])
	}
}

func TestModelsDownload_NoTrigger(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &stubEngine{}, nil)

	code, _ := postJSON(t, ts, "/v1/models/download")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", code)
	}
}

func TestReadiness(t *testing.T) {
	t.Parallel()
	eng := &stubEngine{}
	ts, _ := newTestServer(t, eng, nil)

	code, _ := getJSON(t, ts, "/healthz")
	if code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}

	code, _ = getJSON(t, ts, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before init = %d, want 503", code)
	}

	eng.mu.Lock()
	eng.initialized = true
	eng.mu.Unlock()
	code, _ = getJSON(t, ts, "/readyz")
	if code != http.StatusOK {
		t.Fatalf("readyz after init = %d, want 200", code)
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	ts, ctrl := newTestServer(t, &stubEngine{initialized: true}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	// Give the handler a moment to register its subscription.
	time.Sleep(100 * time.Millisecond)
	ctrl.MarkReady()

	var msg map[string]any
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if msg["type"] != "state_change" || msg["state"] != "paused" {
		t.Fatalf("event = %v, want state_change/paused", msg)
	}

	ctrl.Publish(daemon.TranscriptionEvent{Text: "hello"})
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("reading second event: %v", err)
	}
	if msg["type"] != "transcription" || msg["text"] != "hello" {
		t.Fatalf("event = %v, want transcription/hello", msg)
	}
}
