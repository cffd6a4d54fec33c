package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	crmotel "github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/otel"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/cache"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/database"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/messagequeue"
)

// Rebuild reasons, used as the metric attribute.
const (
	reasonRead     = "read"
	reasonLedger   = "ledger"
	reasonPayment  = "payment"
	reasonSettings = "settings"
	reasonSweep    = "sweep"
)

const rentPaymentCategory = "rent_payment"

// ProfileService owns tenant ledgers and the financial profile derived from
// them. Every mutation for a tenant runs under that tenant's mutex, which is
// held until the observer has been called, so observers see updates in
// commit order.
type ProfileService struct {
	store    database.Store
	cache    cache.Cache
	cacheTTL time.Duration
	queue    messagequeue.Queue
	metrics  *crmotel.Metrics
	now      func() time.Time

	tenantLocks sync.Map // tenant id -> *sync.Mutex
	builds      singleflight.Group

	obsMu     sync.RWMutex
	observers map[string]profile.Observer

	trackedMu sync.RWMutex
	tracked   map[string]*profile.Profile
}

// NewProfileService creates a ProfileService. cache and queue are optional.
func NewProfileService(store database.Store, c cache.Cache, cacheTTL time.Duration, q messagequeue.Queue) *ProfileService {
	return &ProfileService{
		store:     store,
		cache:     c,
		cacheTTL:  cacheTTL,
		queue:     q,
		now:       time.Now,
		observers: make(map[string]profile.Observer),
		tracked:   make(map[string]*profile.Profile),
	}
}

// SetMetrics attaches OpenTelemetry instruments.
func (s *ProfileService) SetMetrics(m *crmotel.Metrics) { s.metrics = m }

// SetClock replaces the time source used for status and risk derivation.
func (s *ProfileService) SetClock(now func() time.Time) { s.now = now }

func (s *ProfileService) tenantLock(tenantID string) *sync.Mutex {
	m, _ := s.tenantLocks.LoadOrStore(tenantID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// GetProfile builds the tenant's profile on first request and refreshes it on
// every later one. Concurrent reads of one tenant share a single build.
func (s *ProfileService) GetProfile(ctx context.Context, tenantID string) (*profile.Profile, error) {
	v, err, _ := s.builds.Do(tenantID, func() (any, error) {
		l := s.tenantLock(tenantID)
		l.Lock()
		defer l.Unlock()
		p, _, err := s.rebuild(ctx, tenantID, reasonRead)
		return p, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*profile.Profile), nil
}

// CachedProfile serves the profile from the cache, building it on a miss.
// Local writes go through the cache, so a read after a write on this
// instance observes it.
func (s *ProfileService) CachedProfile(ctx context.Context, tenantID string) (*profile.Profile, error) {
	if s.cache != nil {
		var p profile.Profile
		ok, err := cache.GetJSON(ctx, s.cache, cacheKey(tenantID), &p)
		if err != nil {
			slog.Warn("profile cache read failed", "tenant_id", tenantID, "error", err)
		}
		if ok {
			return &p, nil
		}
	}
	return s.GetProfile(ctx, tenantID)
}

// Tenant returns the tenant record.
func (s *ProfileService) Tenant(ctx context.Context, tenantID string) (*profile.Tenant, error) {
	return s.store.GetTenant(ctx, tenantID)
}

// Subscribe registers fn as the tenant's observer, replacing any previous one.
func (s *ProfileService) Subscribe(tenantID string, fn profile.Observer) {
	s.obsMu.Lock()
	s.observers[tenantID] = fn
	s.obsMu.Unlock()
}

// Unsubscribe removes the tenant's observer.
func (s *ProfileService) Unsubscribe(tenantID string) {
	s.obsMu.Lock()
	delete(s.observers, tenantID)
	s.obsMu.Unlock()
}

// AppendLedgerEntry appends an entry to the tenant's ledger and returns it
// with the refreshed profile.
func (s *ProfileService) AppendLedgerEntry(ctx context.Context, tenantID string, n *ledger.NewEntry) (*ledger.Entry, *profile.Profile, error) {
	if err := n.Validate(); err != nil {
		return nil, nil, err
	}
	l := s.tenantLock(tenantID)
	l.Lock()
	defer l.Unlock()

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	if n.PropertyID == "" {
		n.PropertyID = tenant.PropertyID
	}

	e, err := s.appendLocked(ctx, tenantID, n)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.commit(ctx, tenantID, reasonLedger)
	if err != nil {
		return e, nil, err
	}
	return e, p, nil
}

// ListLedgerEntries returns the tenant's ledger newest first.
func (s *ProfileService) ListLedgerEntries(ctx context.Context, tenantID string) ([]ledger.Entry, error) {
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	return s.store.ListLedgerEntries(ctx, tenantID)
}

// appendLocked writes the entry and publishes the append event. The caller
// holds the tenant lock.
func (s *ProfileService) appendLocked(ctx context.Context, tenantID string, n *ledger.NewEntry) (*ledger.Entry, error) {
	ctx, span := crmotel.StartLedgerAppendSpan(ctx, tenantID, string(n.Type))
	e, err := s.store.AppendLedgerEntry(ctx, tenantID, n)
	crmotel.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	s.metrics.RecordLedgerAppend(ctx, string(e.Type))
	slog.Info("ledger entry appended",
		"tenant_id", tenantID, "entry_id", e.ID, "type", e.Type,
		"amount", e.Amount.String(), "balance", e.Balance.String())

	s.publish(ctx, messagequeue.SubjectLedgerEntryAppended, messagequeue.LedgerEntryAppendedPayload{
		Entry:      *e,
		NewBalance: e.Balance,
		AppendedAt: e.CreatedAt,
	})
	return e, nil
}

// RecordPaymentOutcome turns a payment status change into ledger entries: a
// completed payment credits the tenant, an assessed late fee debits it.
// Redelivered events do not append twice.
func (s *ProfileService) RecordPaymentOutcome(ctx context.Context, ev *payment.StatusChanged) (*profile.Profile, error) {
	p := &ev.Payment
	if p.TenantID == "" || p.ID == "" {
		return nil, fmt.Errorf("%w: payment event without tenant or payment id", domain.ErrValidation)
	}
	if !p.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", domain.ErrValidation, p.Status)
	}

	l := s.tenantLock(p.TenantID)
	l.Lock()
	defer l.Unlock()

	existing, err := s.store.ListLedgerEntries(ctx, p.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}

	if p.LateFee != nil && p.LateFee.IsPositive() && !hasReference(existing, ledger.TypeLateFee, p.ID) {
		_, err := s.appendLocked(ctx, p.TenantID, &ledger.NewEntry{
			PropertyID:  p.PropertyID,
			Date:        ev.OccurredAt,
			Type:        ledger.TypeLateFee,
			Description: "Late fee for rent due " + p.DueDate.Format("2006-01-02"),
			Amount:      *p.LateFee,
			Category:    string(ledger.TypeLateFee),
			Reference:   p.ID,
			CreatedBy:   "payments",
		})
		if err != nil {
			return nil, err
		}
	}

	if p.Status == payment.StatusCompleted && !hasReference(existing, ledger.TypeCredit, p.ID) {
		_, err := s.appendLocked(ctx, p.TenantID, &ledger.NewEntry{
			PropertyID:  p.PropertyID,
			Date:        p.SettledOn(),
			Type:        ledger.TypeCredit,
			Description: "Rent payment received",
			Amount:      p.AmountDue(),
			Category:    rentPaymentCategory,
			Reference:   p.ID,
			CreatedBy:   "payments",
		})
		if err != nil {
			return nil, err
		}
	}

	return s.commit(ctx, p.TenantID, reasonPayment)
}

func hasReference(entries []ledger.Entry, t ledger.EntryType, ref string) bool {
	for i := range entries {
		if entries[i].Type == t && entries[i].Reference == ref {
			return true
		}
	}
	return false
}

// SetAutoPay replaces the tenant's auto-pay setup.
func (s *ProfileService) SetAutoPay(ctx context.Context, tenantID string, ap profile.AutoPay) (*profile.Profile, error) {
	if ap.Enabled {
		if ap.DayOfMonth < 1 || ap.DayOfMonth > 28 {
			return nil, fmt.Errorf("%w: day_of_month must be between 1 and 28", domain.ErrValidation)
		}
		if ap.PaymentMethodID == "" {
			return nil, fmt.Errorf("%w: payment_method_id is required when auto-pay is enabled", domain.ErrValidation)
		}
	}
	return s.updateSettings(ctx, tenantID, func(st *profile.Settings, methods []payment.Method) error {
		if ap.PaymentMethodID != "" && !hasMethod(methods, ap.PaymentMethodID) {
			return fmt.Errorf("%w: payment method %s does not belong to tenant", domain.ErrValidation, ap.PaymentMethodID)
		}
		st.AutoPay = ap
		return nil
	})
}

// SetNotificationPreferences replaces the tenant's reminder settings.
func (s *ProfileService) SetNotificationPreferences(ctx context.Context, tenantID string, prefs profile.NotificationPreferences) (*profile.Profile, error) {
	if prefs.ReminderDaysAhead < 0 || prefs.ReminderDaysAhead > 30 {
		return nil, fmt.Errorf("%w: reminder_days_ahead must be between 0 and 30", domain.ErrValidation)
	}
	return s.updateSettings(ctx, tenantID, func(st *profile.Settings, _ []payment.Method) error {
		st.Notifications = prefs
		return nil
	})
}

func (s *ProfileService) updateSettings(ctx context.Context, tenantID string, apply func(*profile.Settings, []payment.Method) error) (*profile.Profile, error) {
	l := s.tenantLock(tenantID)
	l.Lock()
	defer l.Unlock()

	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	st, err := s.settings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	methods, err := s.store.ListPaymentMethods(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	if err := apply(st, methods); err != nil {
		return nil, err
	}
	st.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertTenantSettings(ctx, st); err != nil {
		return nil, fmt.Errorf("save tenant settings: %w", err)
	}
	return s.commit(ctx, tenantID, reasonSettings)
}

func hasMethod(methods []payment.Method, id string) bool {
	for i := range methods {
		if methods[i].ID == id {
			return true
		}
	}
	return false
}

// Refresh rebuilds a tenant's profile and notifies its observer when the
// profile changed.
func (s *ProfileService) Refresh(ctx context.Context, tenantID string) (*profile.Profile, error) {
	l := s.tenantLock(tenantID)
	l.Lock()
	defer l.Unlock()

	p, changed, err := s.rebuild(ctx, tenantID, reasonSweep)
	if err != nil {
		return nil, err
	}
	if changed {
		s.writeThrough(ctx, p)
		s.notify(p)
	}
	return p, nil
}

// StartSweep refreshes every tracked profile on each tick until ctx is done.
// Status and risk depend on the current date, so profiles drift even without
// mutations.
func (s *ProfileService) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *ProfileService) sweep(ctx context.Context) {
	for _, id := range s.trackedIDs() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Refresh(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.untrack(id)
				continue
			}
			slog.Warn("profile sweep failed", "tenant_id", id, "error", err)
		}
	}
}

// StartPaymentSubscriber consumes payment status changes from the queue.
func (s *ProfileService) StartPaymentSubscriber(ctx context.Context) (cancel func(), err error) {
	if s.queue == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectPaymentStatusChanged, func(msgCtx context.Context, _ string, data []byte) error {
		var ev messagequeue.PaymentStatusChangedPayload
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("unmarshal payment status change: %w", err)
		}
		_, err := s.RecordPaymentOutcome(msgCtx, &ev)
		return err
	})
}

// commit rebuilds after a mutation, mirrors the result into the cache and
// calls the observer. The caller holds the tenant lock.
func (s *ProfileService) commit(ctx context.Context, tenantID, reason string) (*profile.Profile, error) {
	p, _, err := s.rebuild(ctx, tenantID, reason)
	if err != nil {
		return nil, err
	}
	s.writeThrough(ctx, p)
	s.notify(p)
	return p, nil
}

// rebuild derives the profile from the store and tracks it. When nothing but
// the clock moved since the last build, the previous timestamps are kept and
// changed is false. The caller holds the tenant lock.
func (s *ProfileService) rebuild(ctx context.Context, tenantID, reason string) (p *profile.Profile, changed bool, err error) {
	in, err := s.inputs(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	p = profile.Build(in, s.now().UTC())
	s.metrics.RecordProfileRebuild(ctx, reason)

	s.trackedMu.Lock()
	defer s.trackedMu.Unlock()
	if prev, ok := s.tracked[tenantID]; ok && sameState(prev, p) {
		p.UpdatedAt = prev.UpdatedAt
		p.RiskAssessment.LastUpdated = prev.RiskAssessment.LastUpdated
		s.tracked[tenantID] = p
		return p, false, nil
	}
	s.tracked[tenantID] = p
	return p, true, nil
}

func (s *ProfileService) inputs(ctx context.Context, tenantID string) (*profile.Inputs, error) {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	entries, err := s.store.ListLedgerEntries(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	payments, err := s.store.ListPayments(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	methods, err := s.store.ListPaymentMethods(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	st, err := s.settings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &profile.Inputs{
		Tenant:   *tenant,
		Entries:  entries,
		Payments: payments,
		Methods:  methods,
		Settings: *st,
	}, nil
}

func (s *ProfileService) settings(ctx context.Context, tenantID string) (*profile.Settings, error) {
	st, err := s.store.GetTenantSettings(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return &profile.Settings{TenantID: tenantID, Notifications: profile.DefaultNotificationPreferences()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant settings: %w", err)
	}
	return st, nil
}

// sameState compares two profiles ignoring their build timestamps.
func sameState(a, b *profile.Profile) bool {
	ca, cb := *a, *b
	ca.UpdatedAt, cb.UpdatedAt = time.Time{}, time.Time{}
	ca.RiskAssessment.LastUpdated, cb.RiskAssessment.LastUpdated = time.Time{}, time.Time{}
	ja, errA := json.Marshal(&ca)
	jb, errB := json.Marshal(&cb)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

func (s *ProfileService) writeThrough(ctx context.Context, p *profile.Profile) {
	if s.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, cacheKey(p.TenantID), p, s.cacheTTL); err != nil {
		slog.Warn("profile cache write failed", "tenant_id", p.TenantID, "error", err)
	}
}

// notify calls the tenant's observer without holding the observer lock, so
// the observer may call Subscribe or Unsubscribe.
func (s *ProfileService) notify(p *profile.Profile) {
	s.obsMu.RLock()
	fn := s.observers[p.TenantID]
	s.obsMu.RUnlock()
	if fn != nil {
		fn(p)
	}
}

func (s *ProfileService) trackedIDs() []string {
	s.trackedMu.RLock()
	defer s.trackedMu.RUnlock()
	ids := make([]string, 0, len(s.tracked))
	for id := range s.tracked {
		ids = append(ids, id)
	}
	return ids
}

func (s *ProfileService) untrack(tenantID string) {
	s.trackedMu.Lock()
	delete(s.tracked, tenantID)
	s.trackedMu.Unlock()
}

// publish sends a best-effort event; failures are logged.
func (s *ProfileService) publish(ctx context.Context, subject string, payload any) {
	publishEvent(ctx, s.queue, subject, payload)
}

func publishEvent(ctx context.Context, q messagequeue.Queue, subject string, payload any) {
	if q == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := q.Publish(ctx, subject, data); err != nil {
		slog.Error("failed to publish event", "subject", subject, "error", err)
	}
}

func cacheKey(tenantID string) string { return "profile:" + tenantID }
