// Package mock provides a test double for the vad.Scorer interface.
//
// Script per-frame scores via Scores (consumed in order) or a fixed Score
// value, and inspect the frames that were submitted.
package mock

import (
	"sync"

	"github.com/voxpipe/voxd/pkg/provider/vad"
)

// ScoreCall records a single invocation of Scorer.Score.
type ScoreCall struct {
	// Frame is a copy of the samples passed to Score.
	Frame []float32
}

// Scorer is a mock implementation of vad.Scorer.
type Scorer struct {
	mu sync.Mutex

	// Scores are returned one per Score call, in order. When exhausted (or
	// empty), Score returns ScoreValue instead.
	Scores []float64

	// ScoreValue is the fallback result once Scores is exhausted.
	ScoreValue float64

	// ScoreErr, if non-nil, is returned by every Score call.
	ScoreErr error

	// ErrOnCall, when > 0, makes only the n-th Score call (1-based) return
	// ScoreErr, leaving the other calls unaffected.
	ErrOnCall int

	// ScoreCalls records every call to Score in order.
	ScoreCalls []ScoreCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int
}

// Score records the call and returns the next scripted score.
func (s *Scorer) Score(frame []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]float32, len(frame))
	copy(cp, frame)
	s.ScoreCalls = append(s.ScoreCalls, ScoreCall{Frame: cp})
	n := len(s.ScoreCalls)

	if s.ScoreErr != nil && (s.ErrOnCall == 0 || s.ErrOnCall == n) {
		return 0, s.ScoreErr
	}
	if n <= len(s.Scores) {
		return s.Scores[n-1], nil
	}
	return s.ScoreValue, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Calls returns a copy of the recorded Score calls. Thread-safe.
func (s *Scorer) Calls() []ScoreCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScoreCall, len(s.ScoreCalls))
	copy(out, s.ScoreCalls)
	return out
}

// ResetCalls clears all recorded call history. Thread-safe.
func (s *Scorer) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScoreCalls = nil
	s.ResetCallCount = 0
}

// Ensure Scorer implements vad.Scorer at compile time.
var _ vad.Scorer = (*Scorer)(nil)
