// Package accounting defines the port every bookkeeping provider adapter
// implements, and the registry adapters add themselves to.
package accounting

import (
	"context"
	"net/http"
	"time"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
)

// Adapter is the capability set of one provider. Every adapter implements all
// operations; where a vendor has no native primitive the adapter approximates
// it and marks the returned ExternalRef as Approximated.
type Adapter interface {
	// ProviderID returns the catalog id the adapter serves.
	ProviderID() string

	// TestConnection makes a lightweight authenticated call.
	TestConnection(ctx context.Context) error

	CreateCustomer(ctx context.Context, c *bookkeeping.Customer) (bookkeeping.ExternalRef, error)
	CreateInvoice(ctx context.Context, inv *bookkeeping.Invoice) (bookkeeping.ExternalRef, error)
	CreatePayment(ctx context.Context, p *bookkeeping.Payment) (bookkeeping.ExternalRef, error)
	CreateJournalEntry(ctx context.Context, j *bookkeeping.JournalEntry) (bookkeeping.ExternalRef, error)

	GetFinancialReport(ctx context.Context, kind bookkeeping.ReportKind, from, to time.Time) (*bookkeeping.FinancialReport, error)
}

// Config is what a factory needs to build an adapter for one connection.
type Config struct {
	Provider    bookkeeping.Provider
	Credentials bookkeeping.Credentials

	// BaseURL overrides Provider.BaseURL (sandbox environments, tests).
	BaseURL string
	// TokenURL overrides Provider.TokenURL.
	TokenURL string
	// HTTPClient overrides the default transport.
	HTTPClient *http.Client
	// RetryWait fixes the wait between retries; zero means exponential backoff.
	RetryWait time.Duration
}

// URL returns the effective API base URL.
func (c *Config) URL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return c.Provider.BaseURL
}

// TokenEndpoint returns the effective OAuth2 token URL.
func (c *Config) TokenEndpoint() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return c.Provider.TokenURL
}
