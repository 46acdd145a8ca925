// Package observe provides application-wide observability primitives for
// voxd: OpenTelemetry metrics, in-process tracing for log correlation,
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxd metrics.
const meterName = "github.com/voxpipe/voxd"

// Metrics holds all OpenTelemetry metric instruments for the daemon.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// UtteranceAudioDuration tracks the audio length of completed utterances
	// in seconds.
	UtteranceAudioDuration metric.Float64Histogram

	// --- Counters ---

	// VADEvents counts voice-activity transitions. Use with attribute:
	//   attribute.String("event", ...)
	VADEvents metric.Int64Counter

	// Utterances counts completed utterances. Use with attribute:
	//   attribute.String("status", ...) — one of ok, empty, error
	Utterances metric.Int64Counter

	// StateTransitions counts daemon state transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// DroppedEvents counts events dropped from slow subscriber queues.
	DroppedEvents metric.Int64Counter

	// --- Error counters ---

	// STTErrors counts transcription failures. Use with attribute:
	//   attribute.String("provider", ...)
	STTErrors metric.Int64Counter

	// --- Gauges ---

	// EventSubscribers tracks the number of live event stream subscribers.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for transcription latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// audioBuckets defines histogram bucket boundaries (in seconds) for utterance
// audio lengths.
var audioBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("voxd.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceAudioDuration, err = m.Float64Histogram("voxd.utterance.audio_duration",
		metric.WithDescription("Audio length of completed utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(audioBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.VADEvents, err = m.Int64Counter("voxd.vad.events",
		metric.WithDescription("Total voice-activity transitions by event."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxd.utterances",
		metric.WithDescription("Total completed utterances by status."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("voxd.daemon.transitions",
		metric.WithDescription("Total daemon state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.DroppedEvents, err = m.Int64Counter("voxd.events.dropped",
		metric.WithDescription("Total events dropped from slow subscriber queues."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.STTErrors, err = m.Int64Counter("voxd.stt.errors",
		metric.WithDescription("Total transcription failures by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.EventSubscribers, err = m.Int64UpDownCounter("voxd.event.subscribers",
		metric.WithDescription("Number of live event stream subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxd.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordVADEvent records a voice-activity transition counter increment.
func (m *Metrics) RecordVADEvent(ctx context.Context, event string) {
	m.VADEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordUtterance records a completed utterance with its outcome status and
// audio length.
func (m *Metrics) RecordUtterance(ctx context.Context, status string, audioSeconds float64) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.UtteranceAudioDuration.Record(ctx, audioSeconds)
}

// RecordStateTransition records a daemon state transition counter increment.
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordSTTError records a transcription failure counter increment.
func (m *Metrics) RecordSTTError(ctx context.Context, provider string) {
	m.STTErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
