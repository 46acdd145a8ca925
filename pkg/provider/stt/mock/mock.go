// Package mock provides a test double for the stt.Transcriber interface.
//
// Script the returned text via Text (or per-call Texts) and inspect the
// utterances that were submitted for transcription.
package mock

import (
	"context"
	"sync"

	"github.com/voxpipe/voxd/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the utterance passed to Transcribe.
	Samples []float32

	// SampleRate is the rate passed to Transcribe.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Texts are returned one per Transcribe call, in order. When exhausted
	// (or empty), Transcribe returns Text instead.
	Texts []string

	// Text is the fallback result once Texts is exhausted.
	Text string

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Transcribe records the call and returns the next scripted text.
func (t *Transcriber) Transcribe(_ context.Context, samples []float32, sampleRate int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make([]float32, len(samples))
	copy(cp, samples)
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Samples: cp, SampleRate: sampleRate})

	if t.TranscribeErr != nil {
		return "", t.TranscribeErr
	}
	if n := len(t.TranscribeCalls); n <= len(t.Texts) {
		return t.Texts[n-1], nil
	}
	return t.Text, nil
}

// Close records the call and returns CloseErr.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCallCount++
	return t.CloseErr
}

// Calls returns a copy of the recorded Transcribe calls. Thread-safe.
func (t *Transcriber) Calls() []TranscribeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscribeCall, len(t.TranscribeCalls))
	copy(out, t.TranscribeCalls)
	return out
}

// ResetCalls clears all recorded call history. Thread-safe.
func (t *Transcriber) ResetCalls() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
	t.CloseCallCount = 0
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
