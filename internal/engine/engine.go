// Package engine runs the dictation pipeline: microphone capture, resampling,
// voice-activity segmentation, and transcription of completed utterances.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxpipe/voxd/internal/models"
	"github.com/voxpipe/voxd/internal/observe"
	"github.com/voxpipe/voxd/internal/vad"
	"github.com/voxpipe/voxd/pkg/audio"
	"github.com/voxpipe/voxd/pkg/audio/portaudio"
	"github.com/voxpipe/voxd/pkg/provider/stt"
	sttwhisper "github.com/voxpipe/voxd/pkg/provider/stt/whisper"
	vadprovider "github.com/voxpipe/voxd/pkg/provider/vad"
	vadenergy "github.com/voxpipe/voxd/pkg/provider/vad/energy"
)

// ErrNotInitialized is returned by RunLoop when Initialize has not completed
// successfully yet.
var ErrNotInitialized = errors.New("engine: not initialized")

const (
	// tickInterval is how often the run loop drains the capture queue.
	tickInterval = 10 * time.Millisecond

	// resampleChunk is the input chunk size fed to the resampler.
	resampleChunk = 1024
)

// InitEventKind discriminates initialization progress events.
type InitEventKind int

const (
	// InitDownloading reports model download progress.
	InitDownloading InitEventKind = iota

	// InitLoading reports that the model file is being loaded into memory.
	InitLoading

	// InitReady reports that initialization completed.
	InitReady
)

// String returns the kind name for logs and the event stream.
func (k InitEventKind) String() string {
	switch k {
	case InitDownloading:
		return "downloading"
	case InitLoading:
		return "loading"
	case InitReady:
		return "ready"
	default:
		return fmt.Sprintf("InitEventKind(%d)", int(k))
	}
}

// InitEvent is one initialization progress update.
type InitEvent struct {
	Kind  InitEventKind
	Model models.ID

	// Downloaded and Total carry byte counts for InitDownloading events.
	Downloaded int64
	Total      int64
}

// Config holds the pipeline parameters.
type Config struct {
	// Model is the catalogued speech model to transcribe with.
	Model models.ID

	// Language is the transcription language, "auto" for detection.
	Language string

	// VAD configures the voice-activity segmenter. Zero value means
	// [vad.DefaultConfig].
	VAD vad.Config

	// DumpDir, when non-empty, receives a WAV file per completed utterance.
	DumpDir string
}

// ModelResolver locates a speech model file on disk, downloading it when
// absent. *models.Manager is the production implementation.
type ModelResolver interface {
	Ensure(ctx context.Context, id models.ID, onProgress models.ProgressFunc) (string, error)
}

// Engine owns the dictation pipeline. Construct with New, call Initialize
// once, then RunLoop for each listening session. Initialize and RunLoop must
// not be called concurrently with each other; the daemon controller enforces
// this by treating the engine as an exclusively owned resource.
type Engine struct {
	cfg     Config
	manager ModelResolver
	source  audio.Source
	logger  *slog.Logger
	metrics *observe.Metrics

	newScorer      func() vadprovider.Scorer
	newTranscriber func(modelPath string) (stt.Transcriber, error)

	mu          sync.Mutex
	initialized bool
	detector    *vad.Detector
	transcriber stt.Transcriber
}

// Option configures an Engine.
type Option func(*Engine)

// WithCaptureSource overrides the microphone capture source.
func WithCaptureSource(s audio.Source) Option {
	return func(e *Engine) { e.source = s }
}

// WithScorerFactory overrides how the voice-activity scorer is built.
func WithScorerFactory(f func() vadprovider.Scorer) Option {
	return func(e *Engine) { e.newScorer = f }
}

// WithTranscriberFactory overrides how the transcriber is built from a model
// file path.
func WithTranscriberFactory(f func(modelPath string) (stt.Transcriber, error)) Option {
	return func(e *Engine) { e.newTranscriber = f }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine. The resolver locates and downloads the speech model;
// everything else defaults to the production pipeline (portaudio capture,
// energy scorer, whisper transcriber) unless overridden by options.
func New(cfg Config, manager ModelResolver, opts ...Option) (*Engine, error) {
	if manager == nil {
		return nil, errors.New("engine: models manager is required")
	}
	if cfg.VAD == (vad.Config{}) {
		cfg.VAD = vad.DefaultConfig()
	}
	if cfg.Language == "" {
		cfg.Language = "auto"
	}
	e := &Engine{
		cfg:     cfg,
		manager: manager,
		source:  &portaudio.Source{},
		logger:  slog.Default(),
		metrics: observe.DefaultMetrics(),
		newScorer: func() vadprovider.Scorer {
			return vadenergy.New()
		},
	}
	e.newTranscriber = func(modelPath string) (stt.Transcriber, error) {
		return sttwhisper.New(modelPath, sttwhisper.WithLanguage(cfg.Language))
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// IsInitialized reports whether Initialize has completed successfully.
func (e *Engine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Initialize resolves the speech model, downloading it when absent, and loads
// the transcriber and voice-activity detector. Progress is reported through
// onProgress (may be nil). Idempotent: once initialized, further calls return
// immediately. On failure the engine stays un-initialized and Initialize can
// be retried.
func (e *Engine) Initialize(ctx context.Context, onProgress func(InitEvent)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	emit := func(ev InitEvent) {
		if onProgress != nil {
			onProgress(ev)
		}
	}

	path, err := e.manager.Ensure(ctx, e.cfg.Model, func(p models.Progress) {
		emit(InitEvent{
			Kind:       InitDownloading,
			Model:      p.Model,
			Downloaded: p.Downloaded,
			Total:      p.Total,
		})
	})
	if err != nil {
		return fmt.Errorf("resolving model %q: %w", e.cfg.Model, err)
	}

	emit(InitEvent{Kind: InitLoading, Model: e.cfg.Model})

	detector, err := vad.NewDetector(e.cfg.VAD, e.newScorer())
	if err != nil {
		return fmt.Errorf("building voice-activity detector: %w", err)
	}
	transcriber, err := e.newTranscriber(path)
	if err != nil {
		return fmt.Errorf("loading model %q: %w", e.cfg.Model, err)
	}

	e.detector = detector
	e.transcriber = transcriber
	e.initialized = true
	emit(InitEvent{Kind: InitReady, Model: e.cfg.Model})
	e.logger.Info("engine initialized", "model", e.cfg.Model, "language", e.cfg.Language)
	return nil
}

// Close releases the loaded transcriber. The engine must not be running.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil
	}
	e.initialized = false
	e.detector = nil
	t := e.transcriber
	e.transcriber = nil
	return t.Close()
}

// RunLoop captures audio and transcribes utterances until ctx is cancelled.
// Each successful non-empty transcription is delivered through
// onTranscription. Cancellation is the normal exit and returns nil after the
// capture stream is stopped. A capture start failure is returned as-is with
// nothing left running. Transcription and scoring failures are logged and
// skipped; they never stop the loop.
func (e *Engine) RunLoop(ctx context.Context, onTranscription func(text string)) error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	detector := e.detector
	transcriber := e.transcriber
	e.mu.Unlock()
	detector.Reset()

	handle, err := e.source.Start()
	if err != nil {
		return fmt.Errorf("starting capture: %w", err)
	}
	nativeRate := handle.SampleRate()
	resampler, err := audio.NewResampler(nativeRate, audio.TargetSampleRate, resampleChunk)
	if err != nil {
		stopErr := handle.Stop()
		return errors.Join(fmt.Errorf("building resampler: %w", err), stopErr)
	}

	e.logger.Info("listening", "native_rate", nativeRate, "frame_size", detector.FrameSize())

	run := &runState{
		engine:      e,
		detector:    detector,
		transcriber: transcriber,
		handle:      handle,
		resampler:   resampler,
		speech:      audio.NewBuffer(nil, audio.TargetSampleRate),
		deliver:     onTranscription,
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := handle.Stop(); err != nil {
				e.logger.Warn("stopping capture", "error", err)
			}
			e.logger.Info("listening stopped")
			return nil
		case <-ticker.C:
			run.tick(ctx)
		}
	}
}

// runState holds the per-session pipeline buffers.
type runState struct {
	engine      *Engine
	detector    *vad.Detector
	transcriber stt.Transcriber
	handle      audio.CaptureHandle
	resampler   *audio.Resampler

	// raw accumulates captured samples at the native rate until a whole
	// resampler chunk is available.
	raw []float32

	// pending accumulates resampled samples until a whole detector frame is
	// available.
	pending []float32

	// speech accumulates the current utterance while the detector reports
	// speech.
	speech  audio.Buffer
	deliver func(text string)
}

// tick drains the capture queue and pushes everything available through the
// pipeline.
func (s *runState) tick(ctx context.Context) {
	for {
		chunk := s.handle.TryRecv()
		if len(chunk) == 0 {
			break
		}
		s.raw = append(s.raw, chunk...)
	}

	if whole := len(s.raw) / s.resampler.ChunkSize() * s.resampler.ChunkSize(); whole > 0 {
		out, err := s.resampler.Process(s.raw[:whole])
		if err != nil {
			observe.Logger(ctx).Warn("resampling failed, dropping chunk", "error", err)
		} else {
			s.pending = append(s.pending, out...)
		}
		s.raw = append(s.raw[:0], s.raw[whole:]...)
	}

	frameSize := s.detector.FrameSize()
	for len(s.pending) >= frameSize {
		s.processFrame(ctx, s.pending[:frameSize])
		s.pending = append(s.pending[:0], s.pending[frameSize:]...)
	}
}

// processFrame feeds one frame to the detector and reacts to utterance
// boundaries. Audio heard while speaking is appended before the frame is
// scored so the frame that triggers SpeechEnd is still part of the utterance.
func (s *runState) processFrame(ctx context.Context, frame []float32) {
	if s.detector.IsSpeaking() {
		s.speech.Append(audio.NewBuffer(frame, audio.TargetSampleRate))
	}

	event, err := s.detector.Process(frame)
	if err != nil {
		observe.Logger(ctx).Warn("frame rejected", "error", err)
		return
	}

	switch event {
	case vad.EventSpeechStart:
		s.engine.metrics.RecordVADEvent(ctx, "speech_start")
		s.speech.Clear()
		s.speech.Append(audio.NewBuffer(frame, audio.TargetSampleRate))
	case vad.EventSpeechEnd:
		s.engine.metrics.RecordVADEvent(ctx, "speech_end")
		s.finishUtterance(ctx)
	}
}

// finishUtterance transcribes the accumulated speech buffer and clears it.
// The buffer is cleared even when transcription fails so a bad utterance
// cannot leak into the next one.
func (s *runState) finishUtterance(ctx context.Context) {
	defer s.speech.Clear()
	if s.speech.Empty() {
		return
	}

	audioSeconds := s.speech.Duration().Seconds()
	samples := make([]float32, len(s.speech.Samples))
	copy(samples, s.speech.Samples)

	if dir := s.engine.cfg.DumpDir; dir != "" {
		if path, err := audio.DumpWAV(dir, audio.NewBuffer(samples, audio.TargetSampleRate)); err != nil {
			observe.Logger(ctx).Warn("utterance dump failed", "error", err)
		} else {
			observe.Logger(ctx).Debug("utterance dumped", "path", path)
		}
	}

	ctx, span := observe.StartSpan(ctx, "stt.transcribe")
	defer span.End()
	start := time.Now()
	text, err := s.transcriber.Transcribe(ctx, samples, audio.TargetSampleRate)
	s.engine.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		s.engine.metrics.RecordSTTError(ctx, "whisper")
		s.engine.metrics.RecordUtterance(ctx, "error", audioSeconds)
		observe.Logger(ctx).Error("transcription failed", "error", err, "audio_seconds", audioSeconds)
		return
	}
	if text == "" {
		s.engine.metrics.RecordUtterance(ctx, "empty", audioSeconds)
		observe.Logger(ctx).Debug("utterance produced no text", "audio_seconds", audioSeconds)
		return
	}

	s.engine.metrics.RecordUtterance(ctx, "ok", audioSeconds)
	observe.Logger(ctx).Info("utterance transcribed",
		"audio_seconds", audioSeconds,
		"chars", len(text),
	)
	s.deliver(text)
}
