package audio

import "time"

// TargetSampleRate is the sample rate every downstream consumer of captured
// audio expects: the voice-activity scorer and the speech-to-text models both
// operate on 16 kHz mono.
const TargetSampleRate = 16000

// Buffer holds mono float32 samples at a known sample rate. It is the unit of
// audio handed between pipeline stages — capture drains produce buffers at the
// device's native rate, the resampler produces buffers at [TargetSampleRate],
// and a completed utterance is one buffer handed to the transcriber.
type Buffer struct {
	// Samples are mono audio samples normalised to [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int
}

// NewBuffer creates a buffer wrapping the given samples.
func NewBuffer(samples []float32, sampleRate int) Buffer {
	return Buffer{Samples: samples, SampleRate: sampleRate}
}

// Duration returns the playback duration of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Append adds samples from other to b. Both buffers must share a sample rate;
// mixing rates is a programming error upstream, so Append drops mismatched
// input and returns false instead of corrupting the accumulated audio.
func (b *Buffer) Append(other Buffer) bool {
	if other.SampleRate != b.SampleRate {
		return false
	}
	b.Samples = append(b.Samples, other.Samples...)
	return true
}

// Clear removes all samples, keeping the allocated capacity for reuse.
func (b *Buffer) Clear() {
	b.Samples = b.Samples[:0]
}

// Empty reports whether the buffer holds no samples.
func (b Buffer) Empty() bool {
	return len(b.Samples) == 0
}
