package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "crmledger"

// StartSyncSpan starts a span for one sync operation on a connection.
func StartSyncSpan(ctx context.Context, operation, connectionID, provider string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync."+operation,
		trace.WithAttributes(
			attribute.String("connection.id", connectionID),
			attribute.String("provider.id", provider),
		),
	)
}

// StartLedgerAppendSpan starts a span for a ledger append.
func StartLedgerAppendSpan(ctx context.Context, tenantID, entryType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ledger.append",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("ledger.entry_type", entryType),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
