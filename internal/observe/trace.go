package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Vesper tracer.
const tracerName = "github.com/halvard/vesper"

// StartTurn opens a span covering one utterance from transcript arrival to
// settled outcome. The word count goes on the span rather than the raw text,
// which may carry spoken secrets.
//
// End the turn by calling the returned span's End. Record the outcome first
// with [EndTurn] so the span carries it as an attribute.
func StartTurn(ctx context.Context, words int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "vesper.turn",
		trace.WithAttributes(attribute.Int("transcript.words", words)),
	)
}

// EndTurn annotates the turn span with the dispatch outcome and ends it.
// Safe to call with a non-recording span.
func EndTurn(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("dispatch.outcome", outcome))
	span.End()
}

// Logger returns an [slog.Logger] that carries the trace and span IDs of the
// active span in ctx, so every log line within a turn can be correlated.
// Without an active span it is just [slog.Default].
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
