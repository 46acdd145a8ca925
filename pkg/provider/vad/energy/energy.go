// Package energy implements [vad.Scorer] with an adaptive RMS energy
// classifier. It needs no model file, runs in pure Go, and tracks a rolling
// noise-floor estimate so the same configuration works across quiet and noisy
// rooms. Scores approach 1.0 as frame energy rises above the estimated floor
// and stay well below 0.5 for frames at floor level.
package energy

import (
	"errors"
	"math"

	"github.com/voxpipe/voxd/pkg/provider/vad"
)

const (
	// defaultSensitivity is the multiple of the noise floor a frame's RMS
	// must reach to score 0.5.
	defaultSensitivity = 2.5

	// defaultAdaptRate is the exponential smoothing factor applied to the
	// noise-floor estimate on quiet frames.
	defaultAdaptRate = 0.05

	// minNoiseFloor keeps the floor estimate away from zero on digital
	// silence, which would otherwise make any non-zero frame score as speech.
	minNoiseFloor = 1e-4
)

// Scorer is an adaptive RMS energy scorer. Create one per audio stream with
// [New]; it is not safe for concurrent use.
type Scorer struct {
	sensitivity float64
	adaptRate   float64

	noiseFloor float64
}

// Compile-time assertion that Scorer satisfies vad.Scorer.
var _ vad.Scorer = (*Scorer)(nil)

// Option is a functional option for configuring a Scorer.
type Option func(*Scorer)

// WithSensitivity sets the noise-floor multiple at which a frame scores 0.5.
// Lower values trigger on quieter speech; higher values reject more noise.
func WithSensitivity(s float64) Option {
	return func(sc *Scorer) {
		if s > 0 {
			sc.sensitivity = s
		}
	}
}

// WithAdaptRate sets the smoothing factor for noise-floor adaptation, in
// (0, 1]. Higher values track changing background noise faster.
func WithAdaptRate(a float64) Option {
	return func(sc *Scorer) {
		if a > 0 && a <= 1 {
			sc.adaptRate = a
		}
	}
}

// New creates an energy scorer with the default sensitivity and adaptation
// rate.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		sensitivity: defaultSensitivity,
		adaptRate:   defaultAdaptRate,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score returns the speech probability of the frame based on its RMS energy
// relative to the adaptive noise floor.
func (s *Scorer) Score(frame []float32) (float64, error) {
	if len(frame) == 0 {
		return 0, errors.New("energy: empty frame")
	}

	var sum float64
	for _, x := range frame {
		sum += float64(x) * float64(x)
	}
	rms := math.Sqrt(sum / float64(len(frame)))

	if s.noiseFloor == 0 {
		s.noiseFloor = math.Max(rms, minNoiseFloor)
	}

	// Only quiet frames update the floor, so speech does not drag the
	// estimate upward.
	if rms < s.noiseFloor*1.5 {
		s.noiseFloor = s.noiseFloor*(1-s.adaptRate) + rms*s.adaptRate
		if s.noiseFloor < minNoiseFloor {
			s.noiseFloor = minNoiseFloor
		}
	}

	score := rms / (rms + s.sensitivity*s.noiseFloor)
	return score, nil
}

// Reset clears the noise-floor estimate.
func (s *Scorer) Reset() {
	s.noiseFloor = 0
}
