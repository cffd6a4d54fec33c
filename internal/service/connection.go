package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/accounting"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/database"
)

// ErrConnectionTest is returned by Create and Update when the provider rejects
// the connection test. The wrapped error is the classified *SyncError.
var ErrConnectionTest = errors.New("connection test failed")

// ConnectionService manages bookkeeping connections. Credentials are sealed
// before they reach the store and opened only to build an adapter.
type ConnectionService struct {
	store   database.ConnectionStore
	catalog *bookkeeping.ProviderCatalog
	key     []byte
	factory accounting.Factory
	tweak   func(*accounting.Config)
	now     func() time.Time
}

// NewConnectionService creates a ConnectionService. key is the AES-256 key
// from bookkeeping.DeriveKey.
func NewConnectionService(store database.ConnectionStore, catalog *bookkeeping.ProviderCatalog, key []byte) *ConnectionService {
	return &ConnectionService{
		store:   store,
		catalog: catalog,
		key:     key,
		factory: accounting.New,
		now:     time.Now,
	}
}

// SetAdapterFactory replaces the registry lookup used to build adapters.
func (s *ConnectionService) SetAdapterFactory(f accounting.Factory) { s.factory = f }

// SetAdapterConfig registers a hook applied to every adapter config, used to
// point providers at sandbox hosts.
func (s *ConnectionService) SetAdapterConfig(fn func(*accounting.Config)) { s.tweak = fn }

// Catalog returns the provider catalog the service validates against.
func (s *ConnectionService) Catalog() *bookkeeping.ProviderCatalog { return s.catalog }

// Create validates the request, tests the connection against the provider
// and persists it as active. Nothing is stored when the test fails.
func (s *ConnectionService) Create(ctx context.Context, req *bookkeeping.CreateRequest) (*bookkeeping.Connection, error) {
	if req.OrganizationID == "" {
		return nil, fmt.Errorf("%w: organization id is required", domain.ErrValidation)
	}
	provider, ok := s.catalog.Get(req.ProviderID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, req.ProviderID)
	}
	if err := req.Credentials.Validate(provider.AuthType); err != nil {
		return nil, err
	}
	cfg := req.Configuration
	if err := validateConfiguration(&provider, &cfg); err != nil {
		return nil, err
	}
	if err := s.testCredentials(ctx, &provider, req.Credentials); err != nil {
		return nil, err
	}

	sealed, err := req.Credentials.Seal(s.key)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = provider.Name
	}
	now := s.now().UTC()
	c := &bookkeeping.Connection{
		ID:                uuid.NewString(),
		OrganizationID:    req.OrganizationID,
		ProviderID:        provider.ID,
		Name:              name,
		Configuration:     cfg,
		SyncStatus:        bookkeeping.StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
		SealedCredentials: sealed,
	}
	if err := s.store.CreateConnection(ctx, c); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	slog.Info("bookkeeping connection created",
		"connection_id", c.ID, "organization_id", c.OrganizationID, "provider", c.ProviderID)
	c.Credentials = req.Credentials
	return redacted(c), nil
}

// Get returns a connection with redacted credentials.
func (s *ConnectionService) Get(ctx context.Context, id string) (*bookkeeping.Connection, error) {
	c, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.redact(c), nil
}

// List returns the organization's connections with redacted credentials.
func (s *ConnectionService) List(ctx context.Context, organizationID string) ([]bookkeeping.Connection, error) {
	conns, err := s.store.ListConnections(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	for i := range conns {
		conns[i] = *s.redact(&conns[i])
	}
	return conns, nil
}

// updateAttempts bounds how often Update re-reads a connection whose status
// changed underneath it.
const updateAttempts = 3

// Update merges the non-nil fields of req. New credentials are tested before
// they are stored; status changes must follow the lifecycle. The write only
// lands if the status is still the one the merge was based on; otherwise the
// connection is re-read and the merge repeated.
func (s *ConnectionService) Update(ctx context.Context, id string, req *bookkeeping.UpdateRequest) (*bookkeeping.Connection, error) {
	c, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	provider, ok := s.catalog.Get(c.ProviderID)
	if !ok {
		return nil, fmt.Errorf("%w: connection %s references unknown provider %q", domain.ErrValidation, id, c.ProviderID)
	}

	var (
		name   string
		cfg    bookkeeping.Configuration
		sealed []byte
	)
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", domain.ErrValidation)
		}
	}
	if req.Configuration != nil {
		cfg = *req.Configuration
		if err := validateConfiguration(&provider, &cfg); err != nil {
			return nil, err
		}
	}
	if req.Credentials != nil {
		creds := *req.Credentials
		if err := creds.Validate(provider.AuthType); err != nil {
			return nil, err
		}
		if err := s.testCredentials(ctx, &provider, creds); err != nil {
			return nil, err
		}
		if sealed, err = creds.Seal(s.key); err != nil {
			return nil, err
		}
	}

	for attempt := 1; ; attempt++ {
		read := c.SyncStatus
		if req.Name != nil {
			c.Name = name
		}
		if req.Configuration != nil {
			c.Configuration = cfg
		}
		if sealed != nil {
			c.SealedCredentials = sealed
		}
		if req.SyncStatus != nil {
			if !bookkeeping.CanTransition(read, *req.SyncStatus) {
				return nil, fmt.Errorf("%w: cannot move connection from %s to %s", domain.ErrConflict, read, *req.SyncStatus)
			}
			c.SyncStatus = *req.SyncStatus
		}
		c.UpdatedAt = s.now().UTC()
		c.Credentials = bookkeeping.Credentials{}

		err := s.store.UpdateConnection(ctx, c, read)
		if err == nil {
			return s.redact(c), nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt == updateAttempts {
			return nil, fmt.Errorf("update connection: %w", err)
		}
		slog.Debug("connection changed during update, retrying", "connection_id", id, "attempt", attempt)
		if c, err = s.store.GetConnection(ctx, id); err != nil {
			return nil, err
		}
	}
}

// Delete removes a connection. Syncs already running against it finish with
// their adapter; recording their outcome fails with not found and is logged.
func (s *ConnectionService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteConnection(ctx, id); err != nil {
		return err
	}
	slog.Info("bookkeeping connection deleted", "connection_id", id)
	return nil
}

// Test runs the provider's connection test. The connection is not modified.
func (s *ConnectionService) Test(ctx context.Context, id string) (*bookkeeping.TestResult, error) {
	c, adapter, err := s.Adapter(ctx, id)
	if err != nil {
		return nil, err
	}
	provider, _ := s.catalog.Get(c.ProviderID)
	if err := callTest(ctx, &provider, adapter); err != nil {
		return &bookkeeping.TestResult{Success: false, Message: err.Error()}, nil
	}
	return &bookkeeping.TestResult{Success: true, Message: "connected to " + provider.Name}, nil
}

// Disconnect moves the connection to disconnected. It never leaves that state.
func (s *ConnectionService) Disconnect(ctx context.Context, id string) (*bookkeeping.Connection, error) {
	return s.transition(ctx, id, bookkeeping.StatusDisconnected)
}

// Pause stops scheduled syncs for an active connection.
func (s *ConnectionService) Pause(ctx context.Context, id string) (*bookkeeping.Connection, error) {
	return s.transition(ctx, id, bookkeeping.StatusPaused)
}

// Resume reactivates a paused connection.
func (s *ConnectionService) Resume(ctx context.Context, id string) (*bookkeeping.Connection, error) {
	return s.transition(ctx, id, bookkeeping.StatusActive)
}

func (s *ConnectionService) transition(ctx context.Context, id string, to bookkeeping.SyncStatus) (*bookkeeping.Connection, error) {
	return s.Update(ctx, id, &bookkeeping.UpdateRequest{SyncStatus: &to})
}

// RecordSyncOutcome stamps the connection after a sync. A connection-level
// failure moves it to error, anything else back to active; paused and
// disconnected connections keep their status.
func (s *ConnectionService) RecordSyncOutcome(ctx context.Context, id string, r *bookkeeping.SyncResult) (*bookkeeping.Connection, error) {
	next := bookkeeping.StatusActive
	if r.ConnectionFailed() {
		next = bookkeeping.StatusError
	}
	at := r.LastSyncDate
	if at.IsZero() {
		at = s.now().UTC()
	}
	c, err := s.store.RecordSyncOutcome(ctx, id, next, at, r.Summary())
	if err != nil {
		return nil, fmt.Errorf("record sync outcome: %w", err)
	}
	return s.redact(c), nil
}

// Adapter loads a connection, opens its credentials and builds the provider
// adapter for it.
func (s *ConnectionService) Adapter(ctx context.Context, id string) (*bookkeeping.Connection, accounting.Adapter, error) {
	c, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	provider, ok := s.catalog.Get(c.ProviderID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: connection %s references unknown provider %q", domain.ErrValidation, id, c.ProviderID)
	}
	creds, err := bookkeeping.OpenCredentials(c.SealedCredentials, s.key)
	if err != nil {
		return nil, nil, fmt.Errorf("connection %s: %w", id, err)
	}
	c.Credentials = creds
	adapter, err := s.build(&provider, creds)
	if err != nil {
		return nil, nil, err
	}
	return c, adapter, nil
}

func (s *ConnectionService) build(provider *bookkeeping.Provider, creds bookkeeping.Credentials) (accounting.Adapter, error) {
	cfg := accounting.Config{Provider: *provider, Credentials: creds}
	if s.tweak != nil {
		s.tweak(&cfg)
	}
	a, err := s.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return a, nil
}

func (s *ConnectionService) testCredentials(ctx context.Context, provider *bookkeeping.Provider, creds bookkeeping.Credentials) error {
	adapter, err := s.build(provider, creds)
	if err != nil {
		return err
	}
	if err := callTest(ctx, provider, adapter); err != nil {
		slog.Warn("bookkeeping connection test failed", "provider", provider.ID, "error", err)
		return fmt.Errorf("%w: %w", ErrConnectionTest, err)
	}
	return nil
}

func callTest(ctx context.Context, provider *bookkeeping.Provider, a accounting.Adapter) error {
	ctx, cancel := context.WithTimeout(ctx, provider.Limits.Timeout)
	defer cancel()
	if err := a.TestConnection(ctx); err != nil {
		return bookkeeping.AsSyncError(err, "", bookkeeping.KindNetwork)
	}
	return nil
}

// validateConfiguration fills defaults and rejects features the provider
// does not offer.
func validateConfiguration(p *bookkeeping.Provider, cfg *bookkeeping.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for f, on := range cfg.Features {
		if on && !p.Supports(f) {
			return fmt.Errorf("%w: provider %s does not support %s", domain.ErrValidation, p.ID, f)
		}
	}
	return nil
}

func (s *ConnectionService) redact(c *bookkeeping.Connection) *bookkeeping.Connection {
	if c.Credentials.AuthType == "" && len(c.SealedCredentials) > 0 {
		if creds, err := bookkeeping.OpenCredentials(c.SealedCredentials, s.key); err == nil {
			c.Credentials = creds
		}
	}
	return redacted(c)
}

func redacted(c *bookkeeping.Connection) *bookkeeping.Connection {
	out := *c
	out.Credentials = c.Credentials.Redacted()
	out.SealedCredentials = nil
	return &out
}
