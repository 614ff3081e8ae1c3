// Package observe provides application-wide observability primitives for
// Elocute: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Elocute metrics.
const meterName = "github.com/elocute/elocute"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DetectDuration tracks single landmark detection latency.
	DetectDuration metric.Float64Histogram

	// VideoTickDuration tracks one full video pipeline tick (detect + gaze
	// metrics + pattern analysis).
	VideoTickDuration metric.Float64Histogram

	// AudioTickDuration tracks one full audio pipeline tick.
	AudioTickDuration metric.Float64Histogram

	// --- Counters ---

	// DetectorFailures counts per-frame detector failures. Use with attribute:
	//   attribute.String("source", ...)
	DetectorFailures metric.Int64Counter

	// DetectorTransitions counts detector tier transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	DetectorTransitions metric.Int64Counter

	// FillerEvents counts detected filler words. Use with attribute:
	//   attribute.String("kind", ...)
	FillerEvents metric.Int64Counter

	// TickOverruns counts pipeline ticks skipped because the previous tick was
	// still running. Use with attribute:
	//   attribute.String("modality", ...)
	TickOverruns metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// DetectorState reports the numeric detector manager state. Use with
	// attribute:
	//   attribute.String("state", ...)
	DetectorState metric.Int64Gauge

	// EngagementScore reports the most recent overall engagement score.
	EngagementScore metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for real-time pipeline ticks, which must finish well inside a 12 Hz frame
// interval.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.083, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DetectDuration, err = m.Float64Histogram("elocute.detector.detect.duration",
		metric.WithDescription("Latency of a single landmark detection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VideoTickDuration, err = m.Float64Histogram("elocute.video.tick.duration",
		metric.WithDescription("Latency of one video pipeline tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioTickDuration, err = m.Float64Histogram("elocute.audio.tick.duration",
		metric.WithDescription("Latency of one audio pipeline tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DetectorFailures, err = m.Int64Counter("elocute.detector.failures",
		metric.WithDescription("Total per-frame detector failures by source."),
	); err != nil {
		return nil, err
	}
	if met.DetectorTransitions, err = m.Int64Counter("elocute.detector.transitions",
		metric.WithDescription("Total detector tier transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.FillerEvents, err = m.Int64Counter("elocute.voice.filler.events",
		metric.WithDescription("Total detected filler words by kind."),
	); err != nil {
		return nil, err
	}
	if met.TickOverruns, err = m.Int64Counter("elocute.tick.overruns",
		metric.WithDescription("Total pipeline ticks skipped due to an overrunning previous tick."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("elocute.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}
	if met.DetectorState, err = m.Int64Gauge("elocute.detector.state",
		metric.WithDescription("Numeric detector manager state."),
	); err != nil {
		return nil, err
	}
	if met.EngagementScore, err = m.Float64Gauge("elocute.engagement.score",
		metric.WithDescription("Most recent overall engagement score."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("elocute.http.request.duration",
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

// RecordDetectorFailure records a per-frame detector failure.
func (m *Metrics) RecordDetectorFailure(ctx context.Context, source string) {
	m.DetectorFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordDetectorTransition records a tier transition and updates the state
// gauge.
func (m *Metrics) RecordDetectorTransition(ctx context.Context, from, to string, code int64) {
	m.DetectorTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
	m.DetectorState.Record(ctx, code,
		metric.WithAttributes(attribute.String("state", to)),
	)
}

// RecordFiller records a detected filler word.
func (m *Metrics) RecordFiller(ctx context.Context, kind string) {
	m.FillerEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTickOverrun records a skipped pipeline tick.
func (m *Metrics) RecordTickOverrun(ctx context.Context, modality string) {
	m.TickOverruns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("modality", modality)),
	)
}

// RecordEngagement updates the engagement score gauge.
func (m *Metrics) RecordEngagement(ctx context.Context, score float64) {
	m.EngagementScore.Record(ctx, score)
}
