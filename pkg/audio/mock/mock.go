// Package mock provides test doubles for the audio capture interfaces.
//
// Use Source to verify the engine starts capture exactly when it should, and
// Handle to script the samples the run loop drains.
//
// Example:
//
//	h := &mock.Handle{Rate: 48000}
//	h.Push([]float32{0.1, 0.2})
//	src := &mock.Source{Handle: h}
package mock

import (
	"sync"

	"github.com/voxpipe/voxd/pkg/audio"
)

// Source is a mock implementation of audio.Source.
type Source struct {
	mu sync.Mutex

	// Handle is returned by Start. If nil, Start returns a new default Handle.
	Handle audio.CaptureHandle

	// StartErr, if non-nil, is returned as the error from Start.
	StartErr error

	// StartCallCount is the number of times Start was called.
	StartCallCount int
}

// Start records the call and returns Handle, StartErr.
func (s *Source) Start() (audio.CaptureHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCallCount++
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	if s.Handle != nil {
		return s.Handle, nil
	}
	return &Handle{Rate: audio.TargetSampleRate}, nil
}

// StartCalls returns the recorded number of Start invocations. Thread-safe.
func (s *Source) StartCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartCallCount
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)

// Handle is a mock implementation of audio.CaptureHandle. Queue sample chunks
// with Push; each TryRecv call pops one queued chunk.
type Handle struct {
	mu sync.Mutex

	// Rate is the value returned by SampleRate.
	Rate int

	// StopCallCount is the number of times Stop was called.
	StopCallCount int

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	queue [][]float32
}

// Push queues a chunk to be returned by a future TryRecv call.
func (h *Handle) Push(chunk []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]float32, len(chunk))
	copy(cp, chunk)
	h.queue = append(h.queue, cp)
}

// SampleRate returns Rate.
func (h *Handle) SampleRate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Rate
}

// TryRecv pops and returns the oldest queued chunk, or nil when the queue is
// empty or the handle is stopped.
func (h *Handle) TryRecv() []float32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.StopCallCount > 0 || len(h.queue) == 0 {
		return nil
	}
	chunk := h.queue[0]
	h.queue = h.queue[1:]
	return chunk
}

// Stop records the call and returns StopErr.
func (h *Handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.StopCallCount++
	return h.StopErr
}

// StopCalls returns the recorded number of Stop invocations. Thread-safe.
func (h *Handle) StopCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.StopCallCount
}

// Ensure Handle implements audio.CaptureHandle at compile time.
var _ audio.CaptureHandle = (*Handle)(nil)
