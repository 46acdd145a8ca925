package resilience

import (
	"context"
	"errors"

	"github.com/voxpipe/voxd/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple speech-to-text backends. Each backend has its own circuit breaker,
// so a primary that keeps failing is bypassed until its reset timeout elapses.
type STTFallback struct {
	group   *FallbackGroup[stt.Transcriber]
	closers []stt.Transcriber
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		closers: []stt.Transcriber{primary},
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
	f.closers = append(f.closers, t)
}

// Transcribe runs the utterance through the first healthy backend. If the
// primary fails or its breaker is open, the fallbacks are tried in order.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, samples, sampleRate)
	})
}

// Close closes every registered backend and returns the joined errors.
func (f *STTFallback) Close() error {
	var errs []error
	for _, t := range f.closers {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
