// Package vad defines the Scorer interface for frame-level speech classifiers.
//
// A scorer answers one narrow question: how likely is it that a single
// fixed-size audio frame contains speech? The hysteresis state machine that
// turns per-frame scores into utterance boundaries lives in internal/vad and
// is deliberately separate, so scorers stay stateless-looking to the pipeline
// even when they carry internal model state between frames.
//
// Scoring is synchronous by design: Score returns immediately with a result,
// making it suitable for the low-latency pipeline stage that gates which audio
// reaches the transcriber. A single Scorer serves a single audio stream; it is
// not required to be safe for concurrent use.
package vad

// Scorer classifies one audio frame at a time.
type Scorer interface {
	// Score returns the speech probability for a single frame of mono 16 kHz
	// samples, in the range [0.0, 1.0]. Implementations may keep internal
	// state between calls (noise-floor estimates, model hidden state), so
	// frames must be supplied in stream order.
	//
	// Returns an error if the frame cannot be scored. Callers treat a scoring
	// failure as non-fatal for the stream.
	Score(frame []float32) (float64, error)

	// Reset clears accumulated state. Use when the audio stream is
	// interrupted or restarted so stale state does not affect the next
	// stream.
	Reset()
}
