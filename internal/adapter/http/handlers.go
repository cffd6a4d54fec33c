package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/middleware"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/service"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handlers holds the services the HTTP API exposes.
type Handlers struct {
	Connections *service.ConnectionService
	Sync        *service.SyncService
	Profiles    *service.ProfileService
	// Checks are run by /health, keyed by dependency name.
	Checks map[string]HealthCheck
	// Version is reported by the API root.
	Version string
}

// Health reports "ok" when every check passes and 503 otherwise.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type healthStatus struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies,omitempty"`
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Dependencies: make(map[string]string, len(h.Checks))}
	code := http.StatusOK
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			status.Dependencies[name] = err.Error()
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Dependencies[name] = "ok"
	}
	writeJSON(w, code, status)
}

// organization returns the organization the request acts for.
func organization(r *http.Request) string {
	return middleware.OrganizationIDFromContext(r.Context())
}

// connectionOf loads the {id} connection and answers 404 when it belongs to
// another organization.
func (h *Handlers) connectionOf(w http.ResponseWriter, r *http.Request) (*bookkeeping.Connection, bool) {
	c, err := h.Connections.Get(r.Context(), urlParam(r, "id"))
	if err == nil && c.OrganizationID != organization(r) {
		err = domain.ErrNotFound
	}
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return nil, false
	}
	return c, true
}

// tenantOf loads the {id} tenant and answers 404 when it belongs to another
// organization.
func (h *Handlers) tenantOf(w http.ResponseWriter, r *http.Request) (*profile.Tenant, bool) {
	t, err := h.Profiles.Tenant(r.Context(), urlParam(r, "id"))
	if err == nil && t.OrganizationID != organization(r) {
		err = domain.ErrNotFound
	}
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return nil, false
	}
	return t, true
}
