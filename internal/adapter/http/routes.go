package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. mw is applied
// to the /api/v1 group after organization scoping, so per-organization
// middleware such as idempotency sees the organization.
func MountRoutes(r chi.Router, h *Handlers, mw ...func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OrganizationID)
		r.Use(mw...)

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		// Provider catalog
		r.Get("/providers", h.ListProviders)
		r.Get("/providers/{id}", h.GetProvider)

		// Bookkeeping connections
		r.Get("/connections", h.ListConnections)
		r.Post("/connections", h.CreateConnection)
		r.Get("/connections/{id}", h.GetConnection)
		r.Patch("/connections/{id}", h.UpdateConnection)
		r.Delete("/connections/{id}", h.DeleteConnection)
		r.Post("/connections/{id}/test", h.TestConnection)
		r.Post("/connections/{id}/disconnect", h.DisconnectConnection)
		r.Post("/connections/{id}/pause", h.PauseConnection)
		r.Post("/connections/{id}/resume", h.ResumeConnection)

		// Sync
		r.Post("/connections/{id}/sync/payments", h.SyncPayments)
		r.Post("/connections/{id}/sync/ledger", h.SyncLedger)
		r.Post("/connections/{id}/sync/pending", h.SyncPending)
		r.Get("/connections/{id}/reports/{kind}", h.FinancialReport)

		// Tenant ledger and profile
		r.Get("/tenants/{id}/ledger", h.ListLedgerEntries)
		r.Post("/tenants/{id}/ledger", h.AppendLedgerEntry)
		r.Get("/tenants/{id}/profile", h.GetProfile)
		r.Put("/tenants/{id}/autopay", h.SetAutoPay)
		r.Put("/tenants/{id}/notifications", h.SetNotificationPreferences)
	})
}
