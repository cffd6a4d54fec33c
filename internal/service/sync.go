package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	crmotel "github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/otel"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/config"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/accounting"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/broadcast"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/database"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/lock"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/messagequeue"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/resilience"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/translator"
)

// Sync operation names, used in events, spans and metrics.
const (
	OpSingle  = "single"
	OpBatch   = "batch"
	OpLedger  = "ledger"
	OpPending = "pending"
)

const schedulerLockKey = "sync-scheduler"

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeUpdated
	outcomeSkipped
)

// SyncService pushes payments and ledger entries to bookkeeping providers.
// One record's failure is captured in the result and never aborts the rest.
type SyncService struct {
	store   database.Store
	conns   *ConnectionService
	queue   messagequeue.Queue
	events  broadcast.Broadcaster
	locker  lock.Locker
	metrics *crmotel.Metrics
	cfg     config.Sync
	breaker config.Breaker
	now     func() time.Time

	mu     sync.Mutex
	guards map[string]*callGuard // connection id -> guard
}

// NewSyncService creates a SyncService. queue may be nil.
func NewSyncService(store database.Store, conns *ConnectionService, q messagequeue.Queue, cfg config.Sync, br config.Breaker) *SyncService {
	return &SyncService{
		store:   store,
		conns:   conns,
		queue:   q,
		cfg:     cfg,
		breaker: br,
		now:     time.Now,
		guards:  make(map[string]*callGuard),
	}
}

// SetBroadcaster attaches the UI event channel.
func (s *SyncService) SetBroadcaster(b broadcast.Broadcaster) { s.events = b }

// SetLocker attaches the lock that elects one scheduler across instances.
func (s *SyncService) SetLocker(l lock.Locker) { s.locker = l }

// SetMetrics attaches OpenTelemetry instruments.
func (s *SyncService) SetMetrics(m *crmotel.Metrics) { s.metrics = m }

// callGuard bounds the external calls of one connection.
type callGuard struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *resilience.Breaker
	timeout time.Duration
}

func (s *SyncService) guard(connectionID string, limits bookkeeping.Limits) *callGuard {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.guards[connectionID]; ok {
		return g
	}
	parallel := limits.Concurrency()
	if s.cfg.MaxParallel > 0 {
		parallel = min(parallel, int64(s.cfg.MaxParallel))
	}
	every := rate.Inf
	if limits.RateLimit > 0 {
		every = rate.Limit(float64(limits.RateLimit) / 60)
	}
	g := &callGuard{
		sem:     semaphore.NewWeighted(parallel),
		limiter: rate.NewLimiter(every, int(parallel)),
		breaker: resilience.NewBreaker(s.breaker.MaxFailures, s.breaker.Timeout, resilience.WithFailurePredicate(countsAgainstBreaker)),
		timeout: limits.Timeout,
	}
	s.guards[connectionID] = g
	return g
}

// countsAgainstBreaker trips the breaker only for provider-side trouble;
// bad records must not cut off the rest of the connection.
func countsAgainstBreaker(err error) bool {
	var se *bookkeeping.SyncError
	if errors.As(err, &se) {
		return se.Kind.Retryable()
	}
	return true
}

// do runs one external call under the connection's concurrency, rate and
// breaker limits with the provider timeout.
func (g *callGuard) do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return bookkeeping.NewSyncError(bookkeeping.KindNetwork, "", "waiting for a call slot: "+err.Error())
	}
	defer g.sem.Release(1)
	if err := g.limiter.Wait(ctx); err != nil {
		return bookkeeping.NewSyncError(bookkeeping.KindRateLimit, "", "waiting for rate budget: "+err.Error())
	}
	err := g.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		err := fn(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			se := bookkeeping.NewSyncError(bookkeeping.KindNetwork, "", fmt.Sprintf("provider call timed out after %s", g.timeout))
			se.Err = err
			return se
		}
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		se := bookkeeping.NewSyncError(bookkeeping.KindNetwork, "", "provider circuit open")
		se.Err = err
		return se
	}
	return err
}

// session is one sync operation bound to a connection.
type session struct {
	conn     *bookkeeping.Connection
	provider bookkeeping.Provider
	adapter  accounting.Adapter
	guard    *callGuard
	mappings translator.Mappings
}

func (s *SyncService) open(ctx context.Context, connectionID string) (*session, error) {
	conn, adapter, err := s.conns.Adapter(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.SyncStatus == bookkeeping.StatusDisconnected || conn.SyncStatus == bookkeeping.StatusPaused {
		return nil, fmt.Errorf("%w: connection %s is %s", domain.ErrConflict, connectionID, conn.SyncStatus)
	}
	provider, _ := s.conns.Catalog().Get(conn.ProviderID)
	return &session{
		conn:     conn,
		provider: provider,
		adapter:  adapter,
		guard:    s.guard(conn.ID, provider.Limits),
		mappings: translator.Mappings(conn.Configuration.AccountMappings),
	}, nil
}

func (ss *session) enabled(f bookkeeping.Feature) bool {
	return ss.provider.Supports(f) && ss.conn.Configuration.Enabled(f)
}

// SyncSingle pushes one payment. Record failures are returned in the result;
// the error is only set when the connection itself cannot be used.
func (s *SyncService) SyncSingle(ctx context.Context, connectionID string, p *payment.Payment) (*bookkeeping.SyncResult, error) {
	return s.SyncBatch(ctx, connectionID, []payment.Payment{*p})
}

// SyncBatch pushes payments one after another. A cancelled ctx stops the
// batch between records; the records not started are counted as skipped.
func (s *SyncService) SyncBatch(ctx context.Context, connectionID string, payments []payment.Payment) (*bookkeeping.SyncResult, error) {
	op := OpBatch
	if len(payments) == 1 {
		op = OpSingle
	}
	sess, err := s.open(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, sess, op, func(ctx, recCtx context.Context, r *bookkeeping.SyncResult) {
		s.paymentLoop(ctx, recCtx, sess, payments, r)
	}), nil
}

// SyncLedger posts ledger entries as journal entries, oldest first.
func (s *SyncService) SyncLedger(ctx context.Context, connectionID string, entries []ledger.Entry) (*bookkeeping.SyncResult, error) {
	sess, err := s.open(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, sess, OpLedger, func(ctx, recCtx context.Context, r *bookkeeping.SyncResult) {
		s.ledgerLoop(ctx, recCtx, sess, entries, r)
	}), nil
}

// SyncTenantLedger posts the whole ledger of one tenant of the connection's
// organization.
func (s *SyncService) SyncTenantLedger(ctx context.Context, connectionID, tenantID string) (*bookkeeping.SyncResult, error) {
	conn, err := s.conns.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	if tenant.OrganizationID != conn.OrganizationID {
		return nil, fmt.Errorf("%w: tenant %s does not belong to the connection's organization", domain.ErrValidation, tenantID)
	}
	entries, err := s.store.ListLedgerEntries(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	slices.Reverse(entries)
	return s.SyncLedger(ctx, connectionID, entries)
}

// SyncPayments loads payments by id and syncs them as one batch. Unknown ids
// are reported as validation errors on their record.
func (s *SyncService) SyncPayments(ctx context.Context, connectionID string, ids []string) (*bookkeeping.SyncResult, error) {
	conn, err := s.conns.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	var (
		payments []payment.Payment
		missing  []bookkeeping.SyncError
	)
	for _, id := range ids {
		p, err := s.paymentOf(ctx, conn.OrganizationID, id)
		if errors.Is(err, domain.ErrNotFound) {
			missing = append(missing, *bookkeeping.NewSyncError(bookkeeping.KindValidation, id, "payment not found"))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load payment %s: %w", id, err)
		}
		payments = append(payments, *p)
	}
	r, err := s.SyncBatch(ctx, connectionID, payments)
	if err != nil {
		return nil, err
	}
	r.RecordsProcessed += len(missing)
	r.Errors = append(r.Errors, missing...)
	return r, nil
}

// paymentOf loads a payment, treating payments of other organizations as
// not found.
func (s *SyncService) paymentOf(ctx context.Context, organizationID, id string) (*payment.Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := s.store.GetTenant(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}
	if t.OrganizationID != organizationID {
		return nil, fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// SyncPending pushes everything of the connection's organization that the
// connection has not synced yet: payments first, then ledger entries.
func (s *SyncService) SyncPending(ctx context.Context, connectionID string) (*bookkeeping.SyncResult, error) {
	sess, err := s.open(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	limit := s.cfg.BatchLimit
	payments, err := s.store.ListUnsyncedPayments(ctx, connectionID, sess.conn.OrganizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsynced payments: %w", err)
	}
	var entries []ledger.Entry
	if sess.enabled(bookkeeping.FeatureJournalEntries) {
		entries, err = s.store.ListUnsyncedLedgerEntries(ctx, connectionID, sess.conn.OrganizationID, limit)
		if err != nil {
			return nil, fmt.Errorf("list unsynced ledger entries: %w", err)
		}
	}
	return s.run(ctx, sess, OpPending, func(ctx, recCtx context.Context, r *bookkeeping.SyncResult) {
		s.paymentLoop(ctx, recCtx, sess, payments, r)
		if r.Cancelled {
			r.RecordsSkipped += len(entries)
			return
		}
		s.ledgerLoop(ctx, recCtx, sess, entries, r)
	}), nil
}

// FinancialReport fetches a report from the connection's provider.
func (s *SyncService) FinancialReport(ctx context.Context, connectionID string, kind bookkeeping.ReportKind, from, to time.Time) (*bookkeeping.FinancialReport, error) {
	if kind != bookkeeping.ReportProfitAndLoss && kind != bookkeeping.ReportBalanceSheet {
		return nil, fmt.Errorf("%w: unknown report kind %q", domain.ErrValidation, kind)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: report period ends before it starts", domain.ErrValidation)
	}
	sess, err := s.open(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !sess.enabled(bookkeeping.FeatureReports) {
		return nil, fmt.Errorf("%w: reports are not enabled for connection %s", domain.ErrValidation, connectionID)
	}
	var report *bookkeeping.FinancialReport
	err = sess.guard.do(ctx, func(ctx context.Context) error {
		var err error
		report, err = sess.adapter.GetFinancialReport(ctx, kind, from, to)
		return err
	})
	if err != nil {
		return nil, bookkeeping.AsSyncError(err, "", bookkeeping.KindBusinessLogic)
	}
	return report, nil
}

// run executes body, then stamps the connection and reports the result.
// Records run under recCtx, which ignores cancellation, so a started
// external call is never cut off; body checks ctx between records.
func (s *SyncService) run(ctx context.Context, sess *session, op string, body func(ctx, recCtx context.Context, r *bookkeeping.SyncResult)) *bookkeeping.SyncResult {
	ctx, span := crmotel.StartSyncSpan(ctx, op, sess.conn.ID, sess.provider.ID)
	recCtx := context.WithoutCancel(ctx)
	start := s.now()

	r := bookkeeping.NewSyncResult(sess.conn.ID)
	body(ctx, recCtx, r)
	r.Duration = s.now().Sub(start)
	r.LastSyncDate = s.now().UTC()

	status := sess.conn.SyncStatus
	if updated, err := s.conns.RecordSyncOutcome(recCtx, sess.conn.ID, r); err != nil {
		slog.Warn("failed to record sync outcome", "connection_id", sess.conn.ID, "error", err)
	} else {
		status = updated.SyncStatus
	}

	var spanErr error
	if r.Failed() {
		spanErr = errors.New(r.Summary())
	}
	crmotel.EndSpan(span, spanErr)
	s.metrics.RecordSync(recCtx, sess.provider.ID, op, r)
	slog.Info("bookkeeping sync finished",
		"connection_id", sess.conn.ID, "provider", sess.provider.ID, "operation", op,
		"processed", r.RecordsProcessed, "created", r.RecordsCreated, "updated", r.RecordsUpdated,
		"skipped", r.RecordsSkipped, "errors", len(r.Errors), "cancelled", r.Cancelled,
		"duration", r.Duration)

	ev := bookkeeping.CompletedEvent{
		ConnectionID:   sess.conn.ID,
		OrganizationID: sess.conn.OrganizationID,
		ProviderID:     sess.provider.ID,
		Operation:      op,
		Result:         *r,
		Status:         status,
	}
	publishEvent(recCtx, s.queue, messagequeue.SubjectSyncCompleted, ev)
	if s.events != nil {
		s.events.BroadcastEvent(recCtx, broadcast.EventSyncCompleted, ev)
	}
	return r
}

func (s *SyncService) paymentLoop(ctx, recCtx context.Context, sess *session, payments []payment.Payment, r *bookkeeping.SyncResult) {
	for i := range payments {
		if ctx.Err() != nil {
			r.Cancelled = true
			r.RecordsSkipped += len(payments) - i
			return
		}
		out, err := s.pushPayment(recCtx, sess, &payments[i])
		r.Add(recordResult(out, err, payments[i].ID))
	}
}

func (s *SyncService) ledgerLoop(ctx, recCtx context.Context, sess *session, entries []ledger.Entry, r *bookkeeping.SyncResult) {
	for i := range entries {
		if ctx.Err() != nil {
			r.Cancelled = true
			r.RecordsSkipped += len(entries) - i
			return
		}
		out, err := s.pushEntry(recCtx, sess, &entries[i])
		r.Add(recordResult(out, err, entries[i].ID))
	}
}

// recordResult turns one record's outcome into a single-record result.
// Untyped failures are reported as business_logic errors.
func recordResult(out outcome, err error, recordID string) *bookkeeping.SyncResult {
	r := &bookkeeping.SyncResult{RecordsProcessed: 1}
	if err != nil {
		r.Errors = []bookkeeping.SyncError{*bookkeeping.AsSyncError(err, recordID, bookkeeping.KindBusinessLogic)}
		return r
	}
	switch out {
	case outcomeCreated:
		r.RecordsCreated = 1
	case outcomeUpdated:
		r.RecordsUpdated = 1
	case outcomeSkipped:
		r.RecordsSkipped = 1
	}
	return r
}

// pushPayment creates the invoice of a payment and, once it is completed,
// the provider payment. Sync records make repeated pushes idempotent: a paid
// record is skipped, an invoiced record that completed only gets its payment.
func (s *SyncService) pushPayment(ctx context.Context, sess *session, p *payment.Payment) (outcome, error) {
	if !sess.enabled(bookkeeping.FeatureInvoices) {
		return outcomeSkipped, nil
	}
	rec, err := s.syncRecord(ctx, sess.conn.ID, bookkeeping.RecordPayment, p.ID)
	if err != nil {
		return 0, err
	}
	completed := p.Status == payment.StatusCompleted && sess.enabled(bookkeeping.FeaturePayments)

	if rec != nil {
		if rec.State == bookkeeping.StatePaid || !completed {
			return outcomeSkipped, nil
		}
		pay, err := translator.ToPayment(p, sess.mappings)
		if err != nil {
			return 0, err
		}
		pay.InvoiceExternalID = rec.ExternalID
		if cust, err := s.syncRecord(ctx, sess.conn.ID, bookkeeping.RecordCustomer, p.TenantID); err == nil && cust != nil {
			pay.CustomerExternalID = cust.ExternalID
		}
		if err := s.createPayment(ctx, sess, pay); err != nil {
			return 0, err
		}
		return outcomeUpdated, s.markSynced(ctx, sess, bookkeeping.RecordPayment, p.ID, rec.ExternalID, bookkeeping.StatePaid)
	}

	inv, err := translator.ToInvoice(p, sess.mappings)
	if err != nil {
		return 0, err
	}
	var pay *bookkeeping.Payment
	if completed {
		if pay, err = translator.ToPayment(p, sess.mappings); err != nil {
			return 0, err
		}
	}
	customerID, err := s.ensureCustomer(ctx, sess, p.TenantID)
	if err != nil {
		return 0, err
	}
	inv.CustomerExternalID = customerID

	var ref bookkeeping.ExternalRef
	err = sess.guard.do(ctx, func(ctx context.Context) error {
		var err error
		ref, err = sess.adapter.CreateInvoice(ctx, inv)
		return err
	})
	if err != nil {
		return 0, err
	}
	if err := s.markSynced(ctx, sess, bookkeeping.RecordPayment, p.ID, ref.ExternalID, bookkeeping.StateInvoiced); err != nil {
		return 0, err
	}
	if pay == nil {
		return outcomeCreated, nil
	}
	pay.InvoiceExternalID = ref.ExternalID
	pay.CustomerExternalID = customerID
	if err := s.createPayment(ctx, sess, pay); err != nil {
		return 0, err
	}
	return outcomeCreated, s.markSynced(ctx, sess, bookkeeping.RecordPayment, p.ID, ref.ExternalID, bookkeeping.StatePaid)
}

func (s *SyncService) createPayment(ctx context.Context, sess *session, pay *bookkeeping.Payment) error {
	return sess.guard.do(ctx, func(ctx context.Context) error {
		_, err := sess.adapter.CreatePayment(ctx, pay)
		return err
	})
}

// ensureCustomer returns the provider id of the tenant, creating the customer
// on first use. It returns "" when the connection does not sync customers.
func (s *SyncService) ensureCustomer(ctx context.Context, sess *session, tenantID string) (string, error) {
	if !sess.enabled(bookkeeping.FeatureCustomers) {
		return "", nil
	}
	rec, err := s.syncRecord(ctx, sess.conn.ID, bookkeeping.RecordCustomer, tenantID)
	if err != nil {
		return "", err
	}
	if rec != nil {
		return rec.ExternalID, nil
	}
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return "", bookkeeping.NewSyncError(bookkeeping.KindValidation, tenantID, "tenant not found: "+err.Error())
	}
	cust, err := translator.ToCustomer(tenant)
	if err != nil {
		return "", err
	}
	var ref bookkeeping.ExternalRef
	err = sess.guard.do(ctx, func(ctx context.Context) error {
		var err error
		ref, err = sess.adapter.CreateCustomer(ctx, cust)
		return err
	})
	if err != nil {
		return "", err
	}
	return ref.ExternalID, s.markSynced(ctx, sess, bookkeeping.RecordCustomer, tenantID, ref.ExternalID, bookkeeping.StateCreated)
}

// pushEntry posts one ledger entry unless it was posted before.
func (s *SyncService) pushEntry(ctx context.Context, sess *session, e *ledger.Entry) (outcome, error) {
	if !sess.enabled(bookkeeping.FeatureJournalEntries) {
		return outcomeSkipped, nil
	}
	rec, err := s.syncRecord(ctx, sess.conn.ID, bookkeeping.RecordLedgerEntry, e.ID)
	if err != nil {
		return 0, err
	}
	if rec != nil {
		return outcomeSkipped, nil
	}
	je, err := translator.ToJournalEntry(e, sess.mappings)
	if err != nil {
		return 0, err
	}
	var ref bookkeeping.ExternalRef
	err = sess.guard.do(ctx, func(ctx context.Context) error {
		var err error
		ref, err = sess.adapter.CreateJournalEntry(ctx, je)
		return err
	})
	if err != nil {
		return 0, err
	}
	if ref.Approximated {
		slog.Debug("journal entry approximated by provider", "provider", sess.provider.ID, "entry_id", e.ID)
	}
	return outcomeCreated, s.markSynced(ctx, sess, bookkeeping.RecordLedgerEntry, e.ID, ref.ExternalID, bookkeeping.StatePosted)
}

func (s *SyncService) syncRecord(ctx context.Context, connectionID string, t bookkeeping.RecordType, id string) (*bookkeeping.SyncRecord, error) {
	rec, err := s.store.GetSyncRecord(ctx, connectionID, t, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync record: %w", err)
	}
	return rec, nil
}

func (s *SyncService) markSynced(ctx context.Context, sess *session, t bookkeeping.RecordType, id, externalID string, state bookkeeping.RecordState) error {
	err := s.store.UpsertSyncRecord(ctx, &bookkeeping.SyncRecord{
		ConnectionID: sess.conn.ID,
		RecordType:   t,
		RecordID:     id,
		ExternalID:   externalID,
		State:        state,
		UpdatedAt:    s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save sync record: %w", err)
	}
	return nil
}
