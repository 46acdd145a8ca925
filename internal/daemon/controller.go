// Package daemon supervises the dictation engine: a lifecycle state machine
// over {initializing, stopped, paused, listening}, exclusive ownership of the
// single engine instance, and an ordered event stream for clients.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxpipe/voxd/internal/engine"
	"github.com/voxpipe/voxd/internal/models"
	"github.com/voxpipe/voxd/internal/observe"
)

// ErrWrongState is returned when a lifecycle operation is called from a state
// that forbids it. The state is never mutated in that case.
var ErrWrongState = errors.New("daemon: wrong state")

// Engine is the pipeline the controller supervises. *engine.Engine is the
// production implementation.
type Engine interface {
	IsInitialized() bool
	Initialize(ctx context.Context, onProgress func(engine.InitEvent)) error
	RunLoop(ctx context.Context, onTranscription func(text string)) error
	Close() error
}

// runTask is one spawned run-loop invocation. It exists only while the state
// is listening.
type runTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns the engine and arbitrates concurrent lifecycle requests.
// The engine is a movable resource: it lives in the controller's idle slot
// except while a run task holds it, and every task completion path returns it
// to the slot before the state leaves listening.
type Controller struct {
	broadcaster *Broadcaster
	logger      *slog.Logger
	metrics     *observe.Metrics
	autoStart   bool

	mu     sync.Mutex
	state  State
	engine Engine // idle slot; nil while a run task owns the engine
	task   *runTask

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger overrides the default logger.
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// WithControllerMetrics overrides the default metrics instance.
func WithControllerMetrics(m *observe.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithAutoStart makes MarkReady start listening immediately after the
// initializing→paused transition.
func WithAutoStart(auto bool) ControllerOption {
	return func(c *Controller) { c.autoStart = auto }
}

// NewController creates a Controller in the initializing state holding eng.
func NewController(eng Engine, opts ...ControllerOption) *Controller {
	c := &Controller{
		logger:     slog.Default(),
		metrics:    observe.DefaultMetrics(),
		state:      StateInitializing,
		engine:     eng,
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.broadcaster = NewBroadcaster(c.metrics)
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status is a point-in-time lifecycle snapshot.
type Status struct {
	State       State
	Initialized bool
}

// Status returns the current state together with engine readiness. A run
// task only exists with an initialized engine, so a non-empty task implies
// readiness; a stopped daemon never reports an initialized engine.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	var init bool
	switch {
	case c.state == StateStopped:
	case c.task != nil:
		init = true
	case c.engine != nil:
		init = c.engine.IsInitialized()
	}
	return Status{State: c.state, Initialized: init}
}

// Subscribe registers a new event stream subscriber.
func (c *Controller) Subscribe() *Subscription {
	return c.broadcaster.Subscribe()
}

// Publish delivers an event to all subscribers. Used by the initialization
// task to forward progress.
func (c *Controller) Publish(ev Event) {
	c.broadcaster.Publish(ev)
}

// Done is closed once Shutdown has completed.
func (c *Controller) Done() <-chan struct{} {
	return c.shutdownCh
}

// setStateLocked transitions to next and broadcasts the change. Caller holds
// c.mu. Broadcasting under the mutex keeps the event stream ordered
// consistently with the state machine.
func (c *Controller) setStateLocked(next State) {
	prev := c.state
	c.state = next
	c.metrics.RecordStateTransition(context.Background(), prev.String(), next.String())
	c.logger.Info("state changed", "from", prev, "to", next)
	c.broadcaster.Publish(StateChangeEvent{State: next})
}

// MarkReady transitions initializing→paused. Idempotent: from any other
// state it is a no-op. When auto-start is configured the daemon begins
// listening immediately.
func (c *Controller) MarkReady() {
	c.mu.Lock()
	if c.state != StateInitializing {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StatePaused)
	auto := c.autoStart
	c.mu.Unlock()

	if auto {
		if err := c.StartListening(); err != nil {
			c.logger.Warn("auto-start failed", "error", err)
		}
	}
}

// StartListening spawns the run loop. From paused with an initialized engine
// it takes the engine out of the idle slot and transitions to listening; the
// state check and the engine move share one critical section, so of two
// concurrent callers exactly one spawns a task and the other observes
// listening and succeeds as a no-op.
func (c *Controller) StartListening() error {
	c.mu.Lock()
	switch c.state {
	case StateListening:
		c.mu.Unlock()
		return nil
	case StateInitializing, StateStopped:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot start listening while %s", ErrWrongState, state)
	}

	eng := c.engine
	if eng == nil {
		// Paused always holds the engine; a nil slot here means the state
		// machine was corrupted.
		c.mu.Unlock()
		return fmt.Errorf("%w: engine slot empty while %s", ErrWrongState, StatePaused)
	}
	if !eng.IsInitialized() {
		c.mu.Unlock()
		c.broadcaster.Publish(DaemonErrorEvent{
			Kind:    ErrorNotInitialized,
			Message: "engine is not initialized yet",
		})
		return engine.ErrNotInitialized
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &runTask{cancel: cancel, done: make(chan struct{})}
	c.engine = nil
	c.task = task
	c.setStateLocked(StateListening)
	c.mu.Unlock()

	go c.run(ctx, eng, task)
	return nil
}

// run drives one run-loop invocation and always hands the engine back through
// finishTask, even when the loop panics.
func (c *Controller) run(ctx context.Context, eng Engine, task *runTask) {
	var (
		runErr   error
		panicked bool
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				runErr = fmt.Errorf("run loop panicked: %v", r)
			}
		}()
		runErr = eng.RunLoop(ctx, func(text string) {
			c.broadcaster.Publish(TranscriptionEvent{Text: text})
		})
	}()
	c.finishTask(eng, task, runErr, panicked)
}

// finishTask is the single reclaim path for every run-loop outcome: the
// engine returns to the idle slot, the state is forced back to paused, and
// abnormal outcomes are broadcast. Runs before task.done is closed, so a
// stop_listening caller waiting on the task observes the capture released and
// the engine reclaimed.
func (c *Controller) finishTask(eng Engine, task *runTask, runErr error, panicked bool) {
	c.mu.Lock()
	c.engine = eng
	if c.task == task {
		c.task = nil
	}
	switch {
	case panicked:
		c.logger.Error("run loop panicked", "error", runErr)
		c.broadcaster.Publish(DaemonErrorEvent{
			Kind:    ErrorEngineTaskPanicked,
			Message: runErr.Error(),
		})
	case runErr != nil:
		c.logger.Error("run loop failed", "error", runErr)
		c.broadcaster.Publish(DaemonErrorEvent{
			Kind:    errorKind(runErr, ErrorMicAccessDenied),
			Message: runErr.Error(),
		})
	}
	if c.state == StateListening {
		c.setStateLocked(StatePaused)
	}
	c.mu.Unlock()
	close(task.done)
}

// StopListening cancels the run task and waits for it to finish. From paused
// it is a no-op; from initializing or stopped it is an error. When it
// returns, the capture device has been released and the engine is back in the
// idle slot.
func (c *Controller) StopListening() error {
	c.mu.Lock()
	switch c.state {
	case StatePaused:
		c.mu.Unlock()
		return nil
	case StateInitializing, StateStopped:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot stop listening while %s", ErrWrongState, state)
	}
	task := c.task
	c.mu.Unlock()

	// The task may have self-terminated between the state check and here; in
	// that case finishTask already ran and done is closed.
	if task != nil {
		task.cancel()
		<-task.done
	}
	return nil
}

// Shutdown stops listening, transitions to stopped, and releases the engine.
// Idempotent; Done is closed once shutdown completes.
func (c *Controller) Shutdown() {
	// The Stopped transition and the task snapshot share one critical
	// section: once the state is stopped StartListening rejects newcomers, so
	// the snapshot is the last run task there will ever be, and finishTask
	// leaves the stopped state alone while it drains.
	c.mu.Lock()
	task := c.task
	if c.state != StateStopped {
		c.setStateLocked(StateStopped)
	}
	c.mu.Unlock()

	if task != nil {
		task.cancel()
		<-task.done
	}

	// finishTask has returned the engine to the idle slot by now.
	c.mu.Lock()
	eng := c.engine
	c.engine = nil
	c.mu.Unlock()

	if eng != nil {
		if err := eng.Close(); err != nil {
			c.logger.Warn("closing engine", "error", err)
		}
	}
	c.shutdownOnce.Do(func() {
		c.broadcaster.Close()
		close(c.shutdownCh)
	})
}

// errorKind maps an error to the kind surfaced across the daemon boundary.
func errorKind(err error, fallback ErrorKind) ErrorKind {
	switch {
	case errors.Is(err, engine.ErrNotInitialized):
		return ErrorNotInitialized
	case errors.Is(err, ErrWrongState):
		return ErrorWrongState
	case errors.Is(err, models.ErrMissing):
		return ErrorModelMissing
	case errors.Is(err, models.ErrCorrupted):
		return ErrorModelCorrupted
	default:
		return fallback
	}
}
