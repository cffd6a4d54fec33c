package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
)

const meterName = "crmledger"

// Metrics holds the service's metric instruments. A nil *Metrics records nothing.
type Metrics struct {
	SyncRecords     metric.Int64Counter
	SyncErrors      metric.Int64Counter
	SyncDuration    metric.Float64Histogram
	LedgerAppends   metric.Int64Counter
	ProfileRebuilds metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.GetMeterProvider())
}

// NewMetricsFrom creates the instruments on mp.
func NewMetricsFrom(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SyncRecords, err = meter.Int64Counter("crmledger.sync.records",
		metric.WithDescription("Source records processed by bookkeeping syncs, by outcome"))
	if err != nil {
		return nil, err
	}

	m.SyncErrors, err = meter.Int64Counter("crmledger.sync.errors",
		metric.WithDescription("Per-record sync failures by error kind"))
	if err != nil {
		return nil, err
	}

	m.SyncDuration, err = meter.Float64Histogram("crmledger.sync.duration_seconds",
		metric.WithDescription("Sync operation duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.LedgerAppends, err = meter.Int64Counter("crmledger.ledger.appends",
		metric.WithDescription("Ledger entries appended, by type"))
	if err != nil {
		return nil, err
	}

	m.ProfileRebuilds, err = meter.Int64Counter("crmledger.profile.rebuilds",
		metric.WithDescription("Tenant profile recomputations"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveCache exports an in-process cache's hit and miss totals under the
// given cache name. stats is read on each collection.
func ObserveCache(mp metric.MeterProvider, name string, stats func() (hits, misses uint64)) error {
	meter := mp.Meter(meterName)
	lookups, err := meter.Int64ObservableCounter("crmledger.cache.lookups",
		metric.WithDescription("L1 cache lookups, by cache and result"))
	if err != nil {
		return err
	}
	hitAttrs := metric.WithAttributes(attribute.String("cache", name), attribute.String("result", "hit"))
	missAttrs := metric.WithAttributes(attribute.String("cache", name), attribute.String("result", "miss"))
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		hits, misses := stats()
		o.ObserveInt64(lookups, int64(hits), hitAttrs)     //nolint:gosec // counters stay far below MaxInt64
		o.ObserveInt64(lookups, int64(misses), missAttrs) //nolint:gosec // counters stay far below MaxInt64
		return nil
	}, lookups)
	return err
}

// RecordSync records the outcome counts of one sync operation.
func (m *Metrics) RecordSync(ctx context.Context, provider, operation string, r *bookkeeping.SyncResult) {
	if m == nil || r == nil {
		return
	}
	base := []attribute.KeyValue{attribute.String("provider", provider), attribute.String("operation", operation)}
	add := func(outcome string, n int) {
		if n > 0 {
			m.SyncRecords.Add(ctx, int64(n), metric.WithAttributes(append(base, attribute.String("outcome", outcome))...))
		}
	}
	add("created", r.RecordsCreated)
	add("updated", r.RecordsUpdated)
	add("skipped", r.RecordsSkipped)
	add("failed", len(r.Errors))
	for i := range r.Errors {
		m.SyncErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", string(r.Errors[i].Kind)),
		))
	}
	m.SyncDuration.Record(ctx, r.Duration.Seconds(), metric.WithAttributes(base...))
}

// RecordLedgerAppend counts one appended entry.
func (m *Metrics) RecordLedgerAppend(ctx context.Context, entryType string) {
	if m == nil {
		return
	}
	m.LedgerAppends.Add(ctx, 1, metric.WithAttributes(attribute.String("type", entryType)))
}

// RecordProfileRebuild counts one profile recomputation.
func (m *Metrics) RecordProfileRebuild(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.ProfileRebuilds.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
