// Package vad turns per-frame speech scores into utterance boundaries.
//
// The Detector is a hysteresis state machine with two states, silence and
// speaking. A configurable number of consecutive speech-scored frames is
// required before SpeechStart fires, and likewise for silence before
// SpeechEnd, which suppresses chatter at a single noisy threshold crossing.
// There is no lookahead: audio before the frame that confirms SpeechStart is
// not recoverable at this layer.
package vad

import (
	"fmt"
	"log/slog"

	"github.com/voxpipe/voxd/pkg/provider/vad"
)

// Event is the detection result for one processed frame.
type Event int

const (
	// EventNone indicates no state change.
	EventNone Event = iota

	// EventSpeechStart indicates the detector has entered the speaking state.
	EventSpeechStart

	// EventSpeechEnd indicates the detector has left the speaking state.
	EventSpeechEnd
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Config holds the detector parameters.
type Config struct {
	// FrameSize is the number of samples per frame. Process returns an error
	// for frames of any other size.
	FrameSize int

	// SpeechThreshold is the score at or above which a frame counts toward a
	// silence → speaking transition. Range (0, 1].
	SpeechThreshold float64

	// SilenceThreshold is the score below which a frame counts toward a
	// speaking → silence transition. Must be ≤ SpeechThreshold; setting it
	// lower widens the hysteresis band. Scores between the two thresholds
	// advance neither transition.
	SilenceThreshold float64

	// MinSpeechFrames is the number of consecutive speech frames required
	// before SpeechStart fires.
	MinSpeechFrames int

	// MinSilenceFrames is the number of consecutive silence frames required
	// before SpeechEnd fires.
	MinSilenceFrames int
}

// DefaultConfig returns the detector defaults: 512-sample frames (32 ms at
// 16 kHz), start after 2 speech frames, end after 8 silence frames.
func DefaultConfig() Config {
	return Config{
		FrameSize:        512,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
		MinSpeechFrames:  2,
		MinSilenceFrames: 8,
	}
}

// Detector segments a frame stream into utterances. One Detector serves one
// stream; it is not safe for concurrent use.
type Detector struct {
	cfg    Config
	scorer vad.Scorer

	speaking     bool
	speechCount  int
	silenceCount int
}

// NewDetector creates a detector that classifies frames with scorer.
func NewDetector(cfg Config, scorer vad.Scorer) (*Detector, error) {
	if scorer == nil {
		return nil, fmt.Errorf("vad: scorer is required")
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("vad: frame size %d is invalid", cfg.FrameSize)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("vad: speech threshold %.3f out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("vad: silence threshold %.3f must be in [0, %.3f]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	if cfg.MinSpeechFrames < 1 || cfg.MinSilenceFrames < 1 {
		return nil, fmt.Errorf("vad: minimum frame counts must be >= 1")
	}
	return &Detector{cfg: cfg, scorer: scorer}, nil
}

// FrameSize returns the required frame size in samples.
func (d *Detector) FrameSize() int {
	return d.cfg.FrameSize
}

// IsSpeaking reports whether the detector is currently in the speaking state.
func (d *Detector) IsSpeaking() bool {
	return d.speaking
}

// Process scores one frame and advances the state machine. A scorer failure
// is non-fatal: it is logged, the state is left unchanged, and EventNone is
// returned with a nil error. Only a wrongly sized frame is an error.
func (d *Detector) Process(frame []float32) (Event, error) {
	if len(frame) != d.cfg.FrameSize {
		return EventNone, fmt.Errorf("vad: frame size %d does not match expected %d", len(frame), d.cfg.FrameSize)
	}

	score, err := d.scorer.Score(frame)
	if err != nil {
		slog.Warn("vad: frame scoring failed, skipping frame", "error", err)
		return EventNone, nil
	}

	switch {
	case score >= d.cfg.SpeechThreshold:
		d.speechCount++
		d.silenceCount = 0
		if !d.speaking && d.speechCount >= d.cfg.MinSpeechFrames {
			d.speaking = true
			slog.Debug("speech started", "score", score)
			return EventSpeechStart, nil
		}

	case score < d.cfg.SilenceThreshold:
		d.silenceCount++
		d.speechCount = 0
		if d.speaking && d.silenceCount >= d.cfg.MinSilenceFrames {
			d.speaking = false
			slog.Debug("speech ended", "score", score)
			return EventSpeechEnd, nil
		}

	default:
		// Hysteresis band: ambiguous frames advance neither transition.
		d.speechCount = 0
		d.silenceCount = 0
	}

	return EventNone, nil
}

// Reset returns the detector to the silence state and clears the scorer's
// accumulated state.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechCount = 0
	d.silenceCount = 0
	d.scorer.Reset()
}
