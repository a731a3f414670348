// Package observe provides application-wide observability primitives for
// Vesper: OpenTelemetry metrics, distributed tracing, structured logging,
// and an HTTP handler that exposes them.
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

// meterName is the instrumentation scope name used for all Vesper metrics.
const meterName = "github.com/halvard/vesper"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DispatchDuration tracks end-to-end dispatch latency per utterance,
	// from normalized transcript to settled outcome.
	DispatchDuration metric.Float64Histogram

	// ActionDuration tracks action execution latency.
	ActionDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// --- Counters ---

	// DispatchOutcomes counts dispatched utterances by outcome. Use with
	// attribute: attribute.String("outcome", ...) — one of "matched",
	// "no_match", "ambiguous", "low_confidence", "busy", "rejected".
	DispatchOutcomes metric.Int64Counter

	// Disambiguations counts closed disambiguation rounds. Use with
	// attribute: attribute.String("result", ...) — "resolved",
	// "cancelled", or "timeout".
	Disambiguations metric.Int64Counter

	// ActionRuns counts action invocations. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	ActionRuns metric.Int64Counter

	// ModuleReloads counts module load/reload attempts. Use with
	// attributes: attribute.String("module", ...), attribute.String("status", ...)
	ModuleReloads metric.Int64Counter

	// ModuleBackups counts module backup snapshots taken.
	ModuleBackups metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts recognizer/synthesizer errors. Use with
	// attributes: attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// PendingDisambiguations tracks currently open disambiguation rounds.
	PendingDisambiguations metric.Int64UpDownCounter

	// RegisteredCommands tracks the number of commands in the live
	// registry snapshot.
	RegisteredCommands metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DispatchDuration, err = m.Float64Histogram("vesper.dispatch.duration",
		metric.WithDescription("End-to-end dispatch latency per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActionDuration, err = m.Float64Histogram("vesper.action.duration",
		metric.WithDescription("Latency of action execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("vesper.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DispatchOutcomes, err = m.Int64Counter("vesper.dispatch.outcomes",
		metric.WithDescription("Total dispatched utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Disambiguations, err = m.Int64Counter("vesper.disambiguations",
		metric.WithDescription("Total closed disambiguation rounds by result."),
	); err != nil {
		return nil, err
	}
	if met.ActionRuns, err = m.Int64Counter("vesper.action.runs",
		metric.WithDescription("Total action invocations by action name and status."),
	); err != nil {
		return nil, err
	}
	if met.ModuleReloads, err = m.Int64Counter("vesper.module.reloads",
		metric.WithDescription("Total module load and reload attempts by module and status."),
	); err != nil {
		return nil, err
	}
	if met.ModuleBackups, err = m.Int64Counter("vesper.module.backups",
		metric.WithDescription("Total module backup snapshots taken."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("vesper.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PendingDisambiguations, err = m.Int64UpDownCounter("vesper.pending_disambiguations",
		metric.WithDescription("Number of currently open disambiguation rounds."),
	); err != nil {
		return nil, err
	}
	if met.RegisteredCommands, err = m.Int64UpDownCounter("vesper.registered_commands",
		metric.WithDescription("Number of commands in the live registry snapshot."),
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

// RecordDispatchOutcome is a convenience method that records a dispatch
// outcome counter increment.
func (m *Metrics) RecordDispatchOutcome(ctx context.Context, outcome string) {
	m.DispatchOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordDisambiguation is a convenience method that records a closed
// disambiguation round.
func (m *Metrics) RecordDisambiguation(ctx context.Context, result string) {
	m.Disambiguations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordActionRun is a convenience method that records an action invocation
// counter increment with the standard attribute set.
func (m *Metrics) RecordActionRun(ctx context.Context, name, status string) {
	m.ActionRuns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", name),
			attribute.String("status", status),
		),
	)
}

// RecordModuleReload is a convenience method that records a module load or
// reload attempt.
func (m *Metrics) RecordModuleReload(ctx context.Context, module, status string) {
	m.ModuleReloads.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("module", module),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
