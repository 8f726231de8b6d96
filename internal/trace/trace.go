// Package trace provides span helpers for the analysis pipeline. Spans are
// no-ops unless the process installs a tracer provider.
package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/curaition/bitcoin-newsletter"

// StartStoreSpan starts a span for a job-store operation.
func StartStoreSpan(ctx context.Context, op, sessionID string) (context.Context, oteltrace.Span) {
	tr := otel.Tracer(tracerName)
	return tr.Start(ctx, "store."+op,
		oteltrace.WithAttributes(
			attribute.String("session.id", sessionID),
		))
}

// StartBatchSpan starts a span covering the processing of one batch.
func StartBatchSpan(ctx context.Context, sessionID string, batchNumber int) (context.Context, oteltrace.Span) {
	tr := otel.Tracer(tracerName)
	return tr.Start(ctx, "worker.process_batch",
		oteltrace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("batch.number", batchNumber),
		))
}

// StartItemSpan starts a span covering the analysis of one item.
func StartItemSpan(ctx context.Context, itemID int64) (context.Context, oteltrace.Span) {
	tr := otel.Tracer(tracerName)
	return tr.Start(ctx, "worker.analyze_item",
		oteltrace.WithAttributes(
			attribute.Int64("item.id", itemID),
		))
}

// RecordError marks the span as failed and records err. Safe on a nil error.
func RecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
