package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxpipe/voxd/internal/engine"
	"github.com/voxpipe/voxd/internal/models"
	"github.com/voxpipe/voxd/internal/observe"
)

// State is the daemon lifecycle state.
type State int

const (
	// StateInitializing is the initial state while models are acquired.
	StateInitializing State = iota

	// StateStopped is terminal for the process.
	StateStopped

	// StatePaused means ready but not capturing.
	StatePaused

	// StateListening means the run loop is live.
	StateListening
)

// String returns the lowercase state name used in logs and the API.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StateListening:
		return "listening"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrorKind classifies errors surfaced across the daemon boundary.
type ErrorKind int

const (
	ErrorNotInitialized ErrorKind = iota
	ErrorWrongState
	ErrorEngineTaskPanicked
	ErrorModelMissing
	ErrorModelCorrupted
	ErrorMicAccessDenied
)

// String returns the snake_case kind name used in logs and the API.
func (k ErrorKind) String() string {
	switch k {
	case ErrorNotInitialized:
		return "not_initialized"
	case ErrorWrongState:
		return "wrong_state"
	case ErrorEngineTaskPanicked:
		return "engine_task_panicked"
	case ErrorModelMissing:
		return "model_missing"
	case ErrorModelCorrupted:
		return "model_corrupted"
	case ErrorMicAccessDenied:
		return "mic_access_denied"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Event is one entry in the daemon's ordered event stream. The concrete types
// are [StateChangeEvent], [TranscriptionEvent], [InitProgressEvent], and
// [DaemonErrorEvent].
type Event interface {
	isEvent()
}

// StateChangeEvent reports a lifecycle state transition.
type StateChangeEvent struct {
	State State
}

// TranscriptionEvent carries the text of one completed utterance.
type TranscriptionEvent struct {
	Text string
}

// InitProgressEvent reports engine initialization progress.
type InitProgressEvent struct {
	Progress engine.InitEvent
}

// DaemonErrorEvent reports an error that crossed the daemon boundary.
type DaemonErrorEvent struct {
	Kind    ErrorKind
	Message string

	// Model names the affected model for model-related kinds.
	Model models.ID
}

func (StateChangeEvent) isEvent()   {}
func (TranscriptionEvent) isEvent() {}
func (InitProgressEvent) isEvent()  {}
func (DaemonErrorEvent) isEvent()   {}

// subscriberBuffer is the per-subscriber queue capacity. When a subscriber
// falls this far behind, its oldest queued event is dropped to make room, so
// slow consumers lose history instead of stalling the daemon.
const subscriberBuffer = 256

// Broadcaster fans events out to any number of subscribers. Events published
// by concurrent goroutines are delivered to every subscriber in one global
// order.
type Broadcaster struct {
	metrics *observe.Metrics

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(metrics *observe.Metrics) *Broadcaster {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Broadcaster{
		metrics: metrics,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscription is one subscriber's view of the event stream. Cancel it when
// done or the subscriber entry leaks.
type Subscription struct {
	b  *Broadcaster
	ch chan Event
}

// Events returns the ordered event channel. It is closed when the
// subscription is cancelled or the broadcaster shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Cancel removes the subscription and closes its channel. Safe to call more
// than once.
func (s *Subscription) Cancel() {
	s.b.remove(s)
}

// Subscribe registers a new subscriber. The returned subscription receives
// every event published after this call.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{b: b, ch: make(chan Event, subscriberBuffer)}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	b.metrics.EventSubscribers.Add(context.Background(), 1)
	return sub
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
	b.metrics.EventSubscribers.Add(context.Background(), -1)
}

// Publish delivers ev to every current subscriber. Publishing never blocks:
// a full subscriber queue drops its oldest event to admit the new one.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		// Queue full: evict the oldest, then retry once. The second send can
		// only fail if another eviction raced in, which cannot happen under
		// b.mu.
		select {
		case <-sub.ch:
			b.metrics.DroppedEvents.Add(context.Background(), 1)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close cancels every subscription and rejects future publishes. Subsequent
// Subscribe calls return an already-closed subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
		b.metrics.EventSubscribers.Add(context.Background(), -1)
	}
}
