package bookkeeping

import (
	_ "embed"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthType is how a provider authenticates API calls.
type AuthType string

const (
	AuthOAuth2           AuthType = "oauth2"
	AuthAPIKey           AuthType = "api_key"
	AuthUsernamePassword AuthType = "username_password"
)

// Feature is a capability a provider supports.
type Feature string

const (
	FeatureInvoices       Feature = "invoices"
	FeaturePayments       Feature = "payments"
	FeatureCustomers      Feature = "customers"
	FeatureJournalEntries Feature = "journal_entries"
	FeatureReports        Feature = "reports"
)

// Limits bounds how a connection may call the provider.
type Limits struct {
	RateLimit  int           `yaml:"rate_limit" json:"rate_limit"` // requests per minute
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// Concurrency is the number of calls a connection may have in flight:
// one per second of rate budget, at least one.
func (l Limits) Concurrency() int64 {
	return int64(max(1, l.RateLimit/60))
}

// Provider is an immutable catalog entry for an external accounting system.
type Provider struct {
	ID       string    `yaml:"id" json:"id"`
	Name     string    `yaml:"name" json:"name"`
	AuthType AuthType  `yaml:"auth_type" json:"auth_type"`
	BaseURL  string    `yaml:"base_url" json:"base_url"`
	TokenURL string    `yaml:"token_url,omitempty" json:"token_url,omitempty"` // oauth2 only
	Features []Feature `yaml:"features" json:"features"`
	Limits   Limits    `yaml:"limits" json:"limits"`
}

// Supports reports whether the provider offers f.
func (p *Provider) Supports(f Feature) bool {
	return slices.Contains(p.Features, f)
}

//go:embed catalog.yaml
var catalogYAML []byte

// ProviderCatalog is the read-only set of supported providers.
type ProviderCatalog struct {
	byID   map[string]Provider
	sorted []Provider
}

// ParseCatalog builds a catalog from YAML.
func ParseCatalog(data []byte) (*ProviderCatalog, error) {
	var doc struct {
		Providers []Provider `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}

	c := &ProviderCatalog{byID: make(map[string]Provider, len(doc.Providers))}
	for _, p := range doc.Providers {
		if p.ID == "" {
			return nil, fmt.Errorf("provider catalog: entry without id")
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("provider catalog: duplicate id %q", p.ID)
		}
		switch p.AuthType {
		case AuthOAuth2, AuthAPIKey, AuthUsernamePassword:
		default:
			return nil, fmt.Errorf("provider catalog: %s has unknown auth_type %q", p.ID, p.AuthType)
		}
		if p.Limits.Timeout <= 0 {
			return nil, fmt.Errorf("provider catalog: %s needs a positive timeout", p.ID)
		}
		c.byID[p.ID] = p
		c.sorted = append(c.sorted, p)
	}
	sort.Slice(c.sorted, func(i, j int) bool { return c.sorted[i].ID < c.sorted[j].ID })
	return c, nil
}

// Get returns the provider with the given id.
func (c *ProviderCatalog) Get(id string) (Provider, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// All returns every provider sorted by id.
func (c *ProviderCatalog) All() []Provider {
	return slices.Clone(c.sorted)
}

// IDs returns every provider id, sorted.
func (c *ProviderCatalog) IDs() []string {
	ids := make([]string, len(c.sorted))
	for i := range c.sorted {
		ids[i] = c.sorted[i].ID
	}
	return ids
}

var builtin = sync.OnceValues(func() (*ProviderCatalog, error) {
	return ParseCatalog(catalogYAML)
})

// Catalog returns the embedded provider catalog, parsed on first use.
// The embedded file is part of the build, so a parse failure panics.
func Catalog() *ProviderCatalog {
	c, err := builtin()
	if err != nil {
		panic(err)
	}
	return c
}
