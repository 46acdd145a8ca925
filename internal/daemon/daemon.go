package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxpipe/voxd/internal/engine"
	"github.com/voxpipe/voxd/internal/models"
)

// shutdownGrace is how long the control server may take to drain in-flight
// requests before being closed forcibly. Event stream connections stay open
// indefinitely, so a forced close after the grace period is the normal path.
const shutdownGrace = 5 * time.Second

// RunnerConfig holds the process-level daemon settings.
type RunnerConfig struct {
	// SocketPath is the unix socket the control API listens on.
	SocketPath string

	// PIDFile, when non-empty, is written with the daemon's pid on start and
	// removed on exit.
	PIDFile string

	// Model names the configured speech model, used in error events.
	Model models.ID

	// MetricsAddr, when non-empty, is a TCP address serving /metrics so
	// Prometheus can scrape without speaking unix sockets.
	MetricsAddr string
}

// Runner ties the controller, the engine, and the control server into one
// supervised process. Construct with NewRunner, then call Run once.
type Runner struct {
	cfg        RunnerConfig
	controller *Controller
	engine     Engine
	logger     *slog.Logger

	initMu       sync.Mutex
	initInFlight bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger overrides the default logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner supervising ctrl and its engine.
func NewRunner(cfg RunnerConfig, ctrl *Controller, eng Engine, opts ...RunnerOption) (*Runner, error) {
	if cfg.SocketPath == "" {
		return nil, errors.New("daemon: socket path is required")
	}
	if ctrl == nil || eng == nil {
		return nil, errors.New("daemon: controller and engine are required")
	}
	r := &Runner{
		cfg:        cfg,
		controller: ctrl,
		engine:     eng,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// TriggerInit starts a background initialization attempt unless one is
// already running or the engine is initialized. Reports whether an attempt
// was started. Used at daemon start and to retry after a model error.
func (r *Runner) TriggerInit(ctx context.Context) bool {
	if r.engine.IsInitialized() {
		r.controller.MarkReady()
		return false
	}
	r.initMu.Lock()
	if r.initInFlight {
		r.initMu.Unlock()
		return false
	}
	r.initInFlight = true
	r.initMu.Unlock()

	go func() {
		defer func() {
			r.initMu.Lock()
			r.initInFlight = false
			r.initMu.Unlock()
		}()
		r.runInit(ctx)
	}()
	return true
}

// runInit performs one initialization attempt, forwarding progress to the
// event stream. A failure leaves the daemon in the initializing state so the
// attempt can be re-triggered.
func (r *Runner) runInit(ctx context.Context) {
	err := r.engine.Initialize(ctx, func(ev engine.InitEvent) {
		r.controller.Publish(InitProgressEvent{Progress: ev})
	})
	if err != nil {
		r.logger.Error("engine initialization failed", "error", err, "model", r.cfg.Model)
		r.controller.Publish(DaemonErrorEvent{
			Kind:    errorKind(err, ErrorModelMissing),
			Message: err.Error(),
			Model:   r.cfg.Model,
		})
		return
	}
	r.controller.MarkReady()
}

// Run starts the control server on the unix socket and the background
// initialization task, then blocks until ctx is cancelled or the controller
// shuts down. The pid file and socket are cleaned up on exit.
func (r *Runner) Run(ctx context.Context, handler http.Handler) error {
	if r.cfg.PIDFile != "" {
		pid := []byte(strconv.Itoa(os.Getpid()))
		if err := os.WriteFile(r.cfg.PIDFile, pid, 0o644); err != nil {
			return fmt.Errorf("writing pid file: %w", err)
		}
		defer os.Remove(r.cfg.PIDFile)
	}

	// A stale socket from a crashed daemon would fail the bind.
	if err := os.Remove(r.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", r.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", r.cfg.SocketPath, err)
	}
	defer os.Remove(r.cfg.SocketPath)
	if err := os.Chmod(r.cfg.SocketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("restricting socket permissions: %w", err)
	}

	r.logger.Info("daemon started",
		"socket", r.cfg.SocketPath,
		"pid", os.Getpid(),
		"model", r.cfg.Model,
	)

	srv := &http.Server{Handler: handler}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if r.cfg.MetricsAddr != "" {
		mln, err := net.Listen("tcp", r.cfg.MetricsAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listening on %s: %w", r.cfg.MetricsAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		metricsSrv = &http.Server{Handler: mux}
		r.logger.Info("metrics listener started", "addr", r.cfg.MetricsAddr)
		g.Go(func() error {
			if err := metricsSrv.Serve(mln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-r.controller.Done():
		}
		r.controller.Shutdown()

		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutCtx)
		}
		if err := srv.Shutdown(shutCtx); err != nil {
			// Long-lived event streams hold connections open; close them.
			return srv.Close()
		}
		return nil
	})
	g.Go(func() error {
		r.TriggerInit(gctx)
		return nil
	})
	return g.Wait()
}
