package observe_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/halvard/vesper/internal/observe"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			out[metric.Name] = metric
		}
	}
	return out
}

func TestNewMetrics_CreatesAllInstruments(t *testing.T) {
	t.Parallel()
	m, _ := newTestMetrics(t)

	if m.DispatchDuration == nil || m.ActionDuration == nil || m.SynthesisDuration == nil {
		t.Error("latency histograms should be created")
	}
	if m.DispatchOutcomes == nil || m.Disambiguations == nil || m.ActionRuns == nil {
		t.Error("counters should be created")
	}
	if m.PendingDisambiguations == nil || m.RegisteredCommands == nil {
		t.Error("gauges should be created")
	}
}

func TestMetrics_RecordDispatchOutcome(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDispatchOutcome(ctx, "matched")
	m.RecordDispatchOutcome(ctx, "matched")
	m.RecordDispatchOutcome(ctx, "no_match")

	got := collect(t, reader)
	md, ok := got["vesper.dispatch.outcomes"]
	if !ok {
		t.Fatalf("metric not found; have %v", names(got))
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total outcomes = %d, want 3", total)
	}
}

func TestMetrics_Histograms(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.DispatchDuration.Record(ctx, 0.05)
	m.ActionDuration.Record(ctx, 1.2)

	got := collect(t, reader)
	for _, name := range []string{"vesper.dispatch.duration", "vesper.action.duration"} {
		md, ok := got[name]
		if !ok {
			t.Errorf("metric %q not found; have %v", name, names(got))
			continue
		}
		hist, ok := md.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) == 0 {
			t.Errorf("metric %q holds no histogram points", name)
		}
	}
}

func TestDefaultMetrics_IsSingleton(t *testing.T) {
	t.Parallel()
	if observe.DefaultMetrics() != observe.DefaultMetrics() {
		t.Error("DefaultMetrics should return the same instance")
	}
}

func names(m map[string]metricdata.Metrics) []string {
	out := make([]string, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	return out
}
