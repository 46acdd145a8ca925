package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxpipe/voxd/internal/engine"
	"github.com/voxpipe/voxd/internal/models"
	"github.com/voxpipe/voxd/internal/vad"
	"github.com/voxpipe/voxd/pkg/audio"
	audiomock "github.com/voxpipe/voxd/pkg/audio/mock"
	"github.com/voxpipe/voxd/pkg/provider/stt"
	sttmock "github.com/voxpipe/voxd/pkg/provider/stt/mock"
	vadprovider "github.com/voxpipe/voxd/pkg/provider/vad"
	vadmock "github.com/voxpipe/voxd/pkg/provider/vad/mock"
)

// fakeResolver is a ModelResolver that skips downloading entirely.
type fakeResolver struct {
	mu    sync.Mutex
	path  string
	err   error
	calls int
}

func (f *fakeResolver) Ensure(_ context.Context, id models.ID, onProgress models.ProgressFunc) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if onProgress != nil {
		onProgress(models.Progress{Model: id, Downloaded: 50, Total: 100})
	}
	return f.path, nil
}

func (f *fakeResolver) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeResolver) ensureCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testDeps bundles the mocks wired into a test engine.
type testDeps struct {
	resolver    *fakeResolver
	source      *audiomock.Source
	handle      *audiomock.Handle
	scorer      *vadmock.Scorer
	transcriber *sttmock.Transcriber
}

// newTestEngine builds an engine with a single-frame hysteresis (one speech
// frame starts an utterance, one silence frame ends it) over 512-sample
// frames, backed entirely by mocks.
func newTestEngine(t *testing.T, captureRate int) (*engine.Engine, *testDeps) {
	t.Helper()
	deps := &testDeps{
		resolver:    &fakeResolver{path: "/models/ggml-tiny.bin"},
		handle:      &audiomock.Handle{Rate: captureRate},
		scorer:      &vadmock.Scorer{},
		transcriber: &sttmock.Transcriber{Text: "hello world"},
	}
	deps.source = &audiomock.Source{Handle: deps.handle}

	cfg := engine.Config{
		Model: models.WhisperTiny,
		VAD: vad.Config{
			FrameSize:        512,
			SpeechThreshold:  0.5,
			SilenceThreshold: 0.35,
			MinSpeechFrames:  1,
			MinSilenceFrames: 1,
		},
	}
	e, err := engine.New(cfg, deps.resolver,
		engine.WithCaptureSource(deps.source),
		engine.WithScorerFactory(func() vadprovider.Scorer { return deps.scorer }),
		engine.WithTranscriberFactory(func(string) (stt.Transcriber, error) { return deps.transcriber, nil }),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return e, deps
}

// startLoop runs RunLoop in the background and returns a channel carrying its
// result plus a channel of delivered transcriptions.
func startLoop(ctx context.Context, e *engine.Engine) (<-chan error, <-chan string) {
	done := make(chan error, 1)
	texts := make(chan string, 16)
	go func() {
		done <- e.RunLoop(ctx, func(text string) { texts <- text })
	}()
	return done, texts
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not return")
		return nil
	}
}

// chunk returns n samples at a constant amplitude.
func chunk(n int, amplitude float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amplitude
	}
	return out
}

func TestRunLoop_NotInitialized(t *testing.T) {
	t.Parallel()
	e, deps := newTestEngine(t, audio.TargetSampleRate)

	err := e.RunLoop(context.Background(), func(string) {})
	if !errors.Is(err, engine.ErrNotInitialized) {
		t.Fatalf("RunLoop error = %v, want ErrNotInitialized", err)
	}
	if deps.source.StartCalls() != 0 {
		t.Fatal("capture was started by an un-initialized engine")
	}
}

func TestInitialize_EmitsProgressInOrder(t *testing.T) {
	t.Parallel()
	e, deps := newTestEngine(t, audio.TargetSampleRate)

	var events []engine.InitEvent
	if err := e.Initialize(context.Background(), func(ev engine.InitEvent) {
		events = append(events, ev)
	}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !e.IsInitialized() {
		t.Fatal("IsInitialized = false after successful Initialize")
	}

	want := []engine.InitEventKind{engine.InitDownloading, engine.InitLoading, engine.InitReady}
	if len(events) != len(want) {
		t.Fatalf("got %d init events, want %d: %+v", len(events), len(want), events)
	}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Errorf("event %d kind = %v, want %v", i, events[i].Kind, kind)
		}
		if events[i].Model != models.WhisperTiny {
			t.Errorf("event %d model = %q", i, events[i].Model)
		}
	}
	if events[0].Downloaded != 50 || events[0].Total != 100 {
		t.Errorf("download progress = %d/%d, want 50/100", events[0].Downloaded, events[0].Total)
	}

	// Second call is a no-op.
	if err := e.Initialize(context.Background(), func(engine.InitEvent) {
		t.Error("progress emitted by an already initialized engine")
	}); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if deps.resolver.ensureCalls() != 1 {
		t.Fatalf("model resolved %d times, want 1", deps.resolver.ensureCalls())
	}
}

func TestInitialize_FailureIsRetryable(t *testing.T) {
	t.Parallel()
	e, deps := newTestEngine(t, audio.TargetSampleRate)
	deps.resolver.setErr(models.ErrCorrupted)

	err := e.Initialize(context.Background(), nil)
	if !errors.Is(err, models.ErrCorrupted) {
		t.Fatalf("Initialize error = %v, want ErrCorrupted", err)
	}
	if e.IsInitialized() {
		t.Fatal("engine initialized despite resolver failure")
	}

	deps.resolver.setErr(nil)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("retried Initialize: %v", err)
	}
	if !e.IsInitialized() {
		t.Fatal("IsInitialized = false after successful retry")
	}
}

func TestRunLoop_TranscribesUtterance(t *testing.T) {
	t.Parallel()
	e, deps := newTestEngine(t, audio.TargetSampleRate)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Frame scores: speech, speech, silence, silence. With single-frame
	// hysteresis that is one utterance spanning three frames.
	deps.scorer.Scores = []float64{0.9, 0.9, 0.1, 0.1}
	deps.handle.Push(chunk(1024, 0.5))
	deps.handle.Push(chunk(1024, 0.5))

	ctx, cancel := context.WithCancel(context.Background())
	done, texts := startLoop(ctx, e)

	waitFor(t, func() bool { return len(deps.transcriber.Calls()) == 1 }, "transcription")
	cancel()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}

	call := deps.transcriber.Calls()[0]
	if got, want := len(call.Samples), 3*512; got != want {
		t.Errorf("transcribed %d samples, want %d", got, want)
	}
	if call.SampleRate != audio.TargetSampleRate {
		t.Errorf("transcribed at %d Hz, want %d", call.SampleRate, audio.TargetSampleRate)
	}

	select {
	case text := <-texts:
		if text != "hello world" {
			t.Errorf("delivered text = %q, want %q", text, "hello world")
		}
	default:
		t.Error("transcription was not delivered")
	}
}

func TestRunLoop_CancelMidUtterance(t *testing.T) {
	t.Parallel()
	e, deps := newTestEngine(t, audio.TargetSampleRate)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// All speech, so the utterance never completes.
	deps.scorer.ScoreValue = 0.9
	deps.handle.Push(chunk(1024, 0.5))

	ctx, cancel := context.WithCancel(context.Background())
	done, texts := startLoop(ctx, e)

	waitFor(t, func() bool { return len(deps.scorer.Calls()) >= 2 }, "frames scored")
	cancel()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}

	if got := len(deps.transcriber.Calls()); got != 0 {
		t.Errorf("transcriber called %d times for an unfinished utterance", got)
	}
	if got := deps.handle.StopCalls(); got != 1 {
		t.Errorf("capture stopped %d times, want 1", got)
	}
	select {
	case text := <-texts:
		t.Errorf("unexpected delivery %q", text)
	default:
	}
}

func TestRunLoop_FailedTranscriptionClearsBuffer(t *testing.T) {
	t.Parallel()
	e, deps := newTestEngine(t, audio.TargetSampleRate)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	deps.transcriber.TranscribeErr = errors.New("model blew up")
	// Two utterances of two frames each.
	deps.scorer.Scores = []float64{0.9, 0.1, 0.9, 0.1}
	deps.handle.Push(chunk(1024, 0.5))
	deps.handle.Push(chunk(1024, 0.5))

	ctx, cancel := context.WithCancel(context.Background())
	done, texts := startLoop(ctx, e)

	waitFor(t, func() bool { return len(deps.transcriber.Calls()) == 2 }, "both transcription attempts")
	cancel()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}

	// The failed first utterance must not leak into the second.
	for i, call := range deps.transcriber.Calls() {
		if got, want := len(call.Samples), 2*512; got != want {
			t.Errorf("call %d transcribed %d samples, want %d", i, got, want)
		}
	}
	select {
	case text := <-texts:
		t.Errorf("unexpected delivery %q", text)
	default:
	}
}

func TestRunLoop_EmptyTranscriptionNotDelivered(t *testing.T) {
	t.Parallel()
	e, deps := newTestEngine(t, audio.TargetSampleRate)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	deps.transcriber.Text = ""
	deps.scorer.Scores = []float64{0.9, 0.1}
	deps.handle.Push(chunk(1024, 0.5))

	ctx, cancel := context.WithCancel(context.Background())
	done, texts := startLoop(ctx, e)

	waitFor(t, func() bool { return len(deps.transcriber.Calls()) == 1 }, "transcription")
	cancel()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}

	select {
	case text := <-texts:
		t.Errorf("empty transcription delivered as %q", text)
	default:
	}
}

func TestRunLoop_CaptureStartFailure(t *testing.T) {
	t.Parallel()
	e, deps := newTestEngine(t, audio.TargetSampleRate)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	micErr := errors.New("device busy")
	deps.source.StartErr = micErr

	err := e.RunLoop(context.Background(), func(string) {})
	if !errors.Is(err, micErr) {
		t.Fatalf("RunLoop error = %v, want wrapped %v", err, micErr)
	}
	if got := deps.handle.StopCalls(); got != 0 {
		t.Errorf("Stop called %d times after a failed Start", got)
	}
}

func TestRunLoop_ResamplesNativeRate(t *testing.T) {
	t.Parallel()
	e, deps := newTestEngine(t, 32000)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// 2048 samples at 32 kHz resample to roughly 1024 at 16 kHz, enough for
	// two detector frames.
	deps.scorer.ScoreValue = 0.1
	deps.handle.Push(chunk(1024, 0.2))
	deps.handle.Push(chunk(1024, 0.2))

	ctx, cancel := context.WithCancel(context.Background())
	done, _ := startLoop(ctx, e)

	waitFor(t, func() bool { return len(deps.scorer.Calls()) >= 1 }, "resampled frame scored")
	cancel()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}

	for i, call := range deps.scorer.Calls() {
		if len(call.Frame) != 512 {
			t.Errorf("frame %d has %d samples, want 512", i, len(call.Frame))
		}
	}
}

func TestClose_ReleasesTranscriber(t *testing.T) {
	t.Parallel()
	e, deps := newTestEngine(t, audio.TargetSampleRate)
	if err := e.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if deps.transcriber.CloseCallCount != 1 {
		t.Fatalf("transcriber closed %d times, want 1", deps.transcriber.CloseCallCount)
	}
	if e.IsInitialized() {
		t.Fatal("IsInitialized = true after Close")
	}

	// A closed engine behaves like an un-initialized one.
	if err := e.RunLoop(context.Background(), func(string) {}); !errors.Is(err, engine.ErrNotInitialized) {
		t.Fatalf("RunLoop error = %v, want ErrNotInitialized", err)
	}
}
