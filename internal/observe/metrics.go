// Package observe provides observability primitives for coachvox:
// OpenTelemetry metrics with a Prometheus exporter bridge and structured
// logging setup.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all coachvox metrics.
const meterName = "github.com/pkarolyi/coachvox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use, the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// WakeDetections counts detected wake phrases. Use with attribute:
	//   attribute.String("mode", ...)
	WakeDetections metric.Int64Counter

	// WakeRestarts counts wake-session restarts after transient recognizer
	// failures.
	WakeRestarts metric.Int64Counter

	// UtterancesSent counts utterances delivered to the analysis service.
	// Use with attribute: attribute.String("mode", ...)
	UtterancesSent metric.Int64Counter

	// CapturesAbandoned counts capture cycles that ended without a send
	// (silence with empty transcript, cancel, or capture error). Use with
	// attribute: attribute.String("reason", ...)
	CapturesAbandoned metric.Int64Counter

	// TransportErrors counts failed outbound sends on the duplex channel.
	TransportErrors metric.Int64Counter

	// PlaybackFailures counts response playback failures. Playback is
	// best-effort, so these never abort a session.
	PlaybackFailures metric.Int64Counter

	// CaptureDuration tracks the length of capture cycles that resulted in
	// a send.
	CaptureDuration metric.Float64Histogram

	// ResponseLatency tracks time from the end-of-utterance marker to the
	// service's analysis response.
	ResponseLatency metric.Float64Histogram

	// EngineState reports the engine's current state as a gauge; the value
	// is the numeric state with the state name attached as an attribute.
	EngineState metric.Int64Gauge
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice capture and analysis roundtrips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.WakeDetections, err = m.Int64Counter("coachvox.wake.detections",
		metric.WithDescription("Total detected wake phrases by mode."),
	); err != nil {
		return nil, err
	}
	if met.WakeRestarts, err = m.Int64Counter("coachvox.wake.restarts",
		metric.WithDescription("Total wake-session restarts after transient failures."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesSent, err = m.Int64Counter("coachvox.utterances.sent",
		metric.WithDescription("Total utterances sent to the analysis service by mode."),
	); err != nil {
		return nil, err
	}
	if met.CapturesAbandoned, err = m.Int64Counter("coachvox.captures.abandoned",
		metric.WithDescription("Total capture cycles abandoned without a send, by reason."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("coachvox.transport.errors",
		metric.WithDescription("Total failed outbound sends on the analysis channel."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFailures, err = m.Int64Counter("coachvox.playback.failures",
		metric.WithDescription("Total response playback failures."),
	); err != nil {
		return nil, err
	}

	if met.CaptureDuration, err = m.Float64Histogram("coachvox.capture.duration",
		metric.WithDescription("Length of capture cycles that resulted in a send."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseLatency, err = m.Float64Histogram("coachvox.response.latency",
		metric.WithDescription("Time from end-of-utterance to analysis response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.EngineState, err = m.Int64Gauge("coachvox.engine.state",
		metric.WithDescription("Current engine state (numeric, with state name attribute)."),
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

// RecordEngineState records the engine's current state gauge.
func (m *Metrics) RecordEngineState(ctx context.Context, value int64, name string) {
	m.EngineState.Record(ctx, value, metric.WithAttributes(attribute.String("state", name)))
}
