// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A transcriber is a batch capability: given the samples of one complete
// utterance and their sample rate, return text. There is no streaming surface
// — the pipeline only transcribes an utterance after the voice-activity stage
// has judged it complete, so partial results would have nothing to attach to.
//
// Implementations are fixed at construction (model path, language); there is
// no runtime backend switching mid-session. Implementations must be safe for
// concurrent use unless documented otherwise.
package stt

import "context"

// Transcriber converts one utterance of audio into text.
type Transcriber interface {
	// Transcribe runs speech recognition over samples, mono float32 at
	// sampleRate Hz. The returned text is trimmed; an empty string with a nil
	// error means the backend recognised no words (blank audio is not an
	// error).
	//
	// The ctx bounds the inference; implementations should abandon work when
	// it is cancelled. Returns an error if the audio cannot be processed.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)

	// Close releases backend resources (loaded models, native handles).
	// Calling Close more than once is safe and returns nil.
	Close() error
}
