// Package whisper implements [stt.Transcriber] with the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// The ggml model is loaded once in [New] and shared by every Transcribe call;
// each call creates its own whisper context, so concurrent transcriptions do
// not interfere.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxpipe/voxd/pkg/provider/stt"
)

// ModelSampleRate is the only sample rate whisper.cpp accepts.
const ModelSampleRate = 16000

// Transcriber is a batch whisper.cpp transcriber.
type Transcriber struct {
	language string

	mu     sync.Mutex
	model  whisperlib.Model
	closed bool
}

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the transcription language code (e.g. "en", "de").
// An empty value selects whisper's automatic language detection.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// New loads the ggml model at modelPath. The caller must call Close when the
// transcriber is no longer needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{model: model}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe runs whisper inference over one utterance and returns the joined
// segment text.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context cancelled before inference: %w", err)
	}
	if sampleRate != ModelSampleRate {
		return "", fmt.Errorf("whisper: sample rate %d not supported, need %d", sampleRate, ModelSampleRate)
	}
	if len(samples) == 0 {
		return "", errors.New("whisper: no samples")
	}

	t.mu.Lock()
	closed := t.closed
	model := t.model
	t.mu.Unlock()
	if closed {
		return "", errors.New("whisper: transcriber is closed")
	}

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	lang := t.language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// Close releases the whisper model. Safe to call repeatedly.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.model.Close()
}
