package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestCounterObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	counters := []struct {
		name string
		c    metric.Int64Counter
	}{
		{"coachvox.wake.detections", m.WakeDetections},
		{"coachvox.wake.restarts", m.WakeRestarts},
		{"coachvox.utterances.sent", m.UtterancesSent},
		{"coachvox.captures.abandoned", m.CapturesAbandoned},
		{"coachvox.transport.errors", m.TransportErrors},
		{"coachvox.playback.failures", m.PlaybackFailures},
	}
	for _, c := range counters {
		c.c.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", "fifa")))
	}

	rm := collect(t, reader)
	for _, c := range counters {
		found := findMetric(rm, c.name)
		if found == nil {
			t.Errorf("metric %q not collected", c.name)
			continue
		}
		sum, ok := found.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
			t.Errorf("metric %q: unexpected data %+v", c.name, found.Data)
		}
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CaptureDuration.Record(ctx, 2.5)
	m.ResponseLatency.Record(ctx, 0.75)

	rm := collect(t, reader)
	for _, name := range []string{"coachvox.capture.duration", "coachvox.response.latency"} {
		found := findMetric(rm, name)
		if found == nil {
			t.Errorf("metric %q not collected", name)
			continue
		}
		hist, ok := found.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
			t.Errorf("metric %q: unexpected data %+v", name, found.Data)
		}
	}
}

func TestEngineStateGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEngineState(ctx, 3, "capturing")
	m.RecordEngineState(ctx, 1, "wake_listening")

	rm := collect(t, reader)
	found := findMetric(rm, "coachvox.engine.state")
	if found == nil {
		t.Fatal("engine state gauge not collected")
	}
	gauge, ok := found.Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) == 0 {
		t.Fatalf("unexpected gauge data %+v", found.Data)
	}
}
