// Package restapi is the HTTP transport shared by the bookkeeping provider
// adapters: authentication per auth type, bounded retries with backoff and
// mapping of failures onto bookkeeping error kinds.
package restapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/accounting"
)

const (
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// Client performs JSON calls against one provider for one connection.
type Client struct {
	provider   string
	http       *resty.Client
	auth       Authenticator
	maxRetries int
	retryWait  time.Duration
}

// New builds a client from an adapter config. auth may be nil for
// unauthenticated endpoints.
func New(cfg *accounting.Config, auth Authenticator) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	rc := resty.NewWithClient(hc).
		SetBaseURL(strings.TrimRight(cfg.URL(), "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "crmledger/1")
	if cfg.Provider.Limits.Timeout > 0 {
		rc.SetTimeout(cfg.Provider.Limits.Timeout)
	}
	return &Client{
		provider:   cfg.Provider.ID,
		http:       rc,
		auth:       auth,
		maxRetries: max(0, cfg.Provider.Limits.MaxRetries),
		retryWait:  cfg.RetryWait,
	}
}

// Call describes one request.
type Call struct {
	Method string
	Path   string
	Query  map[string]string
	Header map[string]string
	Body   any
	// Out receives the decoded 2xx response body when non-nil.
	Out any
}

// Do executes c, retrying retryable failures up to the provider's retry
// budget. The returned error is always a *bookkeeping.SyncError.
func (cl *Client) Do(ctx context.Context, c Call) error {
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := cl.once(ctx, &c)
		if err == nil {
			return struct{}{}, nil
		}
		if !err.Retryable {
			return struct{}{}, backoff.Permanent(err)
		}
		slog.DebugContext(ctx, "provider call failed, will retry",
			"provider", cl.provider, "method", c.Method, "path", c.Path, "attempt", attempt, "error", err)
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(cl.backOff()),
		backoff.WithMaxTries(uint(cl.maxRetries)+1), //nolint:gosec // maxRetries is clamped to >= 0
	)
	if err != nil {
		return ClassifyError(err)
	}
	return nil
}

func (cl *Client) backOff() backoff.BackOff {
	if cl.retryWait > 0 {
		return backoff.NewConstantBackOff(cl.retryWait)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = defaultInitialBackoff
	eb.MaxInterval = defaultMaxBackoff
	return eb
}

func (cl *Client) once(ctx context.Context, c *Call) *bookkeeping.SyncError {
	req := cl.http.R().SetContext(ctx)
	if c.Query != nil {
		req.SetQueryParams(c.Query)
	}
	if c.Header != nil {
		req.SetHeaders(c.Header)
	}
	if c.Body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(c.Body)
	}
	if c.Out != nil {
		req.SetResult(c.Out).ForceContentType("application/json")
	}
	if cl.auth != nil {
		if err := cl.auth.Authorize(ctx, req); err != nil {
			return ClassifyError(err)
		}
	}

	start := time.Now()
	resp, err := req.Execute(c.Method, c.Path)
	if err != nil {
		return ClassifyError(err)
	}

	status := resp.StatusCode()
	slog.DebugContext(ctx, "provider call",
		"provider", cl.provider, "method", c.Method, "path", c.Path,
		"status", status, "duration_ms", time.Since(start).Milliseconds())

	if status >= 200 && status < 300 {
		return nil
	}
	return ClassifyStatus(cl.provider, status, resp.Body())
}

// Provider returns the provider id the client talks to.
func (cl *Client) Provider() string { return cl.provider }
