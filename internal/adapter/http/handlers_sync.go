package http

import (
	"net/http"
	"time"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
)

type syncPaymentsRequest struct {
	PaymentIDs []string          `json:"payment_ids" validate:"required_without=Payments,omitempty,max=500,dive,required"`
	Payments   []payment.Payment `json:"payments" validate:"required_without=PaymentIDs,omitempty,max=500"`
}

type syncLedgerRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
}

// SyncPayments handles POST /api/v1/connections/{id}/sync/payments
//
// The body names stored payments by id or carries payment documents. Record
// failures are reported in the result with 200; only connection-level
// problems produce an error status.
func (h *Handlers) SyncPayments(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connectionOf(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[syncPaymentsRequest](w, r)
	if !ok {
		return
	}

	var (
		res *bookkeeping.SyncResult
		err error
	)
	if len(req.PaymentIDs) > 0 {
		res, err = h.Sync.SyncPayments(r.Context(), c.ID, req.PaymentIDs)
	} else {
		for i := range req.Payments {
			t, terr := h.Profiles.Tenant(r.Context(), req.Payments[i].TenantID)
			if terr != nil || t.OrganizationID != c.OrganizationID {
				writeError(w, http.StatusBadRequest, "payment "+req.Payments[i].ID+" references an unknown tenant")
				return
			}
		}
		res, err = h.Sync.SyncBatch(r.Context(), c.ID, req.Payments)
	}
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncLedger handles POST /api/v1/connections/{id}/sync/ledger
func (h *Handlers) SyncLedger(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connectionOf(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[syncLedgerRequest](w, r)
	if !ok {
		return
	}
	res, err := h.Sync.SyncTenantLedger(r.Context(), c.ID, req.TenantID)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncPending handles POST /api/v1/connections/{id}/sync/pending
func (h *Handlers) SyncPending(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connectionOf(w, r)
	if !ok {
		return
	}
	res, err := h.Sync.SyncPending(r.Context(), c.ID)
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// FinancialReport handles GET /api/v1/connections/{id}/reports/{kind}?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handlers) FinancialReport(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connectionOf(w, r)
	if !ok {
		return
	}
	from, err := time.Parse(time.DateOnly, r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be a date (YYYY-MM-DD)")
		return
	}
	to, err := time.Parse(time.DateOnly, r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be a date (YYYY-MM-DD)")
		return
	}
	kind := bookkeeping.ReportKind(urlParam(r, "kind"))
	report, err := h.Sync.FinancialReport(r.Context(), c.ID, kind, from, to)
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
