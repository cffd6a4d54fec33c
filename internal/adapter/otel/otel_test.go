package otel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/config"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.OTEL{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordSync(context.Background(), "quickbooks", "batch", &bookkeeping.SyncResult{})
	m.RecordLedgerAppend(context.Background(), "rent")
	m.RecordProfileRebuild(context.Background(), "write")
}

func sumOf(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, want Sum[int64]", name, md.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRecordSync(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetricsFrom(mp)
	if err != nil {
		t.Fatal(err)
	}

	r := &bookkeeping.SyncResult{
		RecordsProcessed: 5,
		RecordsCreated:   3,
		RecordsSkipped:   1,
		Errors:           []bookkeeping.SyncError{*bookkeeping.NewSyncError(bookkeeping.KindValidation, "p3", "no mapping")},
		Duration:         1500 * time.Millisecond,
	}
	m.RecordSync(context.Background(), "sage", "batch", r)
	m.RecordLedgerAppend(context.Background(), "rent")
	m.RecordLedgerAppend(context.Background(), "credit")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	if got := sumOf(t, &rm, "crmledger.sync.records"); got != 5 {
		t.Errorf("sync.records = %d, want 5", got)
	}
	if got := sumOf(t, &rm, "crmledger.sync.errors"); got != 1 {
		t.Errorf("sync.errors = %d, want 1", got)
	}
	if got := sumOf(t, &rm, "crmledger.ledger.appends"); got != 2 {
		t.Errorf("ledger.appends = %d, want 2", got)
	}
}

func TestEndSpan(t *testing.T) {
	_, span := StartSyncSpan(context.Background(), "batch", "c1", "sage")
	EndSpan(span, errors.New("boom"))
	_, span = StartLedgerAppendSpan(context.Background(), "t1", "rent")
	EndSpan(span, nil)
}

func TestHTTPMiddleware(t *testing.T) {
	h := HTTPMiddleware("crmledger")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestObserveCache(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	hits, misses := uint64(3), uint64(1)
	if err := ObserveCache(mp, "profile", func() (uint64, uint64) { return hits, misses }); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	if got := sumOf(t, &rm, "crmledger.cache.lookups"); got != 4 {
		t.Fatalf("lookups = %d, want 4", got)
	}
}
