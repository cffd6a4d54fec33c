package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
)

type ledgerEntryRequest struct {
	PropertyID  string           `json:"property_id"`
	Date        *time.Time       `json:"date"`
	Type        ledger.EntryType `json:"type" validate:"required,oneof=rent deposit fee late_fee credit debit refund adjustment"`
	Description string           `json:"description" validate:"required,max=500"`
	Amount      decimal.Decimal  `json:"amount" validate:"decimal_nonzero"`
	Category    string           `json:"category" validate:"max=100"`
	Reference   string           `json:"reference" validate:"max=200"`
	CreatedBy   string           `json:"created_by" validate:"max=200"`
}

type ledgerEntryResponse struct {
	Entry   *ledger.Entry    `json:"entry"`
	Profile *profile.Profile `json:"profile"`
}

// ListLedgerEntries handles GET /api/v1/tenants/{id}/ledger
func (h *Handlers) ListLedgerEntries(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantOf(w, r)
	if !ok {
		return
	}
	entries, err := h.Profiles.ListLedgerEntries(r.Context(), t.ID)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// AppendLedgerEntry handles POST /api/v1/tenants/{id}/ledger
func (h *Handlers) AppendLedgerEntry(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantOf(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[ledgerEntryRequest](w, r)
	if !ok {
		return
	}
	n := &ledger.NewEntry{
		PropertyID:  req.PropertyID,
		Type:        req.Type,
		Description: req.Description,
		Amount:      req.Amount,
		Category:    req.Category,
		Reference:   req.Reference,
		CreatedBy:   req.CreatedBy,
	}
	if req.Date != nil {
		n.Date = *req.Date
	}
	if n.CreatedBy == "" {
		n.CreatedBy = "api"
	}
	e, p, err := h.Profiles.AppendLedgerEntry(r.Context(), t.ID, n)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusCreated, ledgerEntryResponse{Entry: e, Profile: p})
}

// GetProfile handles GET /api/v1/tenants/{id}/profile
//
// ?consistency=cached serves the cached profile when one exists.
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantOf(w, r)
	if !ok {
		return
	}
	var (
		p   *profile.Profile
		err error
	)
	if r.URL.Query().Get("consistency") == "cached" {
		p, err = h.Profiles.CachedProfile(r.Context(), t.ID)
	} else {
		p, err = h.Profiles.GetProfile(r.Context(), t.ID)
	}
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SetAutoPay handles PUT /api/v1/tenants/{id}/autopay
func (h *Handlers) SetAutoPay(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantOf(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[profile.AutoPay](w, r)
	if !ok {
		return
	}
	p, err := h.Profiles.SetAutoPay(r.Context(), t.ID, req)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SetNotificationPreferences handles PUT /api/v1/tenants/{id}/notifications
func (h *Handlers) SetNotificationPreferences(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantOf(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[profile.NotificationPreferences](w, r)
	if !ok {
		return
	}
	p, err := h.Profiles.SetNotificationPreferences(r.Context(), t.ID, req)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
