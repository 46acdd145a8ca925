// Package server exposes the daemon's control API: lifecycle operations,
// status, a websocket event stream, health probes, and metrics. The API is
// plain HTTP+JSON served over the daemon's unix socket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxpipe/voxd/internal/daemon"
	"github.com/voxpipe/voxd/internal/engine"
	"github.com/voxpipe/voxd/internal/health"
	"github.com/voxpipe/voxd/internal/models"
	"github.com/voxpipe/voxd/internal/observe"
)

// InitTrigger starts a background initialization attempt. *daemon.Runner is
// the production implementation.
type InitTrigger interface {
	TriggerInit(ctx context.Context) bool
}

// Server builds the control API handler around a daemon controller.
type Server struct {
	ctrl    *daemon.Controller
	trigger InitTrigger
	model   models.ID
	logger  *slog.Logger
	metrics *observe.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithModel names the configured speech model in status responses.
func WithModel(id models.ID) Option {
	return func(s *Server) { s.model = id }
}

// New creates a Server for ctrl. trigger may be nil when re-initialization is
// not supported (the models/download endpoint then returns 503).
func New(ctrl *daemon.Controller, trigger InitTrigger, opts ...Option) *Server {
	s := &Server{
		ctrl:    ctrl,
		trigger: trigger,
		logger:  slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the full control API handler with observability middleware
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/start", s.handleStart)
	mux.HandleFunc("POST /v1/stop", s.handleStop)
	mux.HandleFunc("POST /v1/shutdown", s.handleShutdown)
	mux.HandleFunc("POST /v1/models/download", s.handleModelsDownload)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	h := health.New(health.Checker{
		Name: "engine",
		Check: func(context.Context) error {
			if !s.ctrl.Status().Initialized {
				return errors.New("engine not initialized")
			}
			return nil
		},
	})
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// statusResponse is the JSON body for GET /v1/status.
type statusResponse struct {
	State       string    `json:"state"`
	Initialized bool      `json:"initialized"`
	Model       models.ID `json:"model,omitempty"`
}

// errorResponse is the JSON body for failed operations.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// okResponse is the JSON body for successful operations.
type okResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, r, s.ctrl.StartListening())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, r, s.ctrl.StopListening())
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	// Respond before the controller closes the listener out from under the
	// connection.
	writeJSON(w, http.StatusOK, okResponse{Status: "ok", State: daemon.StateStopped.String()})
	go s.ctrl.Shutdown()
}

func (s *Server) handleModelsDownload(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errorBody{
			Kind:    daemon.ErrorModelMissing.String(),
			Message: "re-initialization is not available",
		}})
		return
	}
	// The download outlives this request; detach its lifetime from the
	// request context but keep trace attribution.
	started := s.trigger.TriggerInit(context.WithoutCancel(r.Context()))
	status := "already_running"
	if started {
		status = "started"
	}
	writeJSON(w, http.StatusAccepted, okResponse{Status: status, State: s.ctrl.State().String()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.ctrl.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		State:       st.State.String(),
		Initialized: st.Initialized,
		Model:       s.model,
	})
}

// eventMessage is the wire form of one daemon event.
type eventMessage struct {
	Type       string `json:"type"`
	State      string `json:"state,omitempty"`
	Text       string `json:"text,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Model      string `json:"model,omitempty"`
	Downloaded int64  `json:"downloaded,omitempty"`
	Total      int64  `json:"total,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Message    string `json:"message,omitempty"`
}

// wireEvent converts a daemon event into its wire form.
func wireEvent(ev daemon.Event) eventMessage {
	switch e := ev.(type) {
	case daemon.StateChangeEvent:
		return eventMessage{Type: "state_change", State: e.State.String()}
	case daemon.TranscriptionEvent:
		return eventMessage{Type: "transcription", Text: e.Text}
	case daemon.InitProgressEvent:
		return eventMessage{
			Type:       "init_progress",
			Stage:      e.Progress.Kind.String(),
			Model:      string(e.Progress.Model),
			Downloaded: e.Progress.Downloaded,
			Total:      e.Progress.Total,
		}
	case daemon.DaemonErrorEvent:
		return eventMessage{
			Type:    "error",
			Kind:    e.Kind.String(),
			Message: e.Message,
			Model:   string(e.Model),
		}
	default:
		return eventMessage{Type: "unknown"}
	}
}

// handleEvents upgrades to a websocket and streams daemon events in order
// until the client disconnects or the daemon shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	sub := s.ctrl.Subscribe()
	defer sub.Cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "event stream closed")
				return
			}
			if err := wsjson.Write(ctx, conn, wireEvent(ev)); err != nil {
				observe.Logger(ctx).Debug("event stream write failed", "error", err)
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// writeResult maps a lifecycle operation result onto the HTTP response:
// state-guard violations are 409, an un-initialized engine is 412, anything
// else unexpected is 500.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, okResponse{Status: "ok", State: s.ctrl.State().String()})
		return
	}

	status := http.StatusInternalServerError
	kind := daemon.ErrorMicAccessDenied
	switch {
	case errors.Is(err, daemon.ErrWrongState):
		status = http.StatusConflict
		kind = daemon.ErrorWrongState
	case errors.Is(err, engine.ErrNotInitialized):
		status = http.StatusPreconditionFailed
		kind = daemon.ErrorNotInitialized
	}
	observe.Logger(r.Context()).Warn("lifecycle operation rejected",
		"path", r.URL.Path,
		"error", err,
	)
	writeJSON(w, status, errorResponse{Error: errorBody{
		Kind:    kind.String(),
		Message: err.Error(),
	}})
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
