package http

import (
	"net/http"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
)

// ListProviders handles GET /api/v1/providers
func (h *Handlers) ListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Connections.Catalog().All())
}

// GetProvider handles GET /api/v1/providers/{id}
func (h *Handlers) GetProvider(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Connections.Catalog().Get(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListConnections handles GET /api/v1/connections
func (h *Handlers) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.Connections.List(r.Context(), organization(r))
	if err != nil {
		writeDomainError(w, err, "connections not found")
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

// CreateConnection handles POST /api/v1/connections
func (h *Handlers) CreateConnection(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[bookkeeping.CreateRequest](w, r)
	if !ok {
		return
	}
	req.OrganizationID = organization(r)
	c, err := h.Connections.Create(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "provider not found")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetConnection handles GET /api/v1/connections/{id}
func (h *Handlers) GetConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connectionOf(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateConnection handles PATCH /api/v1/connections/{id}
func (h *Handlers) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connectionOf(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[bookkeeping.UpdateRequest](w, r)
	if !ok {
		return
	}
	updated, err := h.Connections.Update(r.Context(), c.ID, &req)
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteConnection handles DELETE /api/v1/connections/{id}
func (h *Handlers) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connectionOf(w, r)
	if !ok {
		return
	}
	if err := h.Connections.Delete(r.Context(), c.ID); err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestConnection handles POST /api/v1/connections/{id}/test
func (h *Handlers) TestConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connectionOf(w, r)
	if !ok {
		return
	}
	res, err := h.Connections.Test(r.Context(), c.ID)
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DisconnectConnection handles POST /api/v1/connections/{id}/disconnect
func (h *Handlers) DisconnectConnection(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, bookkeeping.StatusDisconnected)
}

// PauseConnection handles POST /api/v1/connections/{id}/pause
func (h *Handlers) PauseConnection(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, bookkeeping.StatusPaused)
}

// ResumeConnection handles POST /api/v1/connections/{id}/resume
func (h *Handlers) ResumeConnection(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, bookkeeping.StatusActive)
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request, to bookkeeping.SyncStatus) {
	c, ok := h.connectionOf(w, r)
	if !ok {
		return
	}
	var (
		updated *bookkeeping.Connection
		err     error
	)
	switch to {
	case bookkeeping.StatusDisconnected:
		updated, err = h.Connections.Disconnect(r.Context(), c.ID)
	case bookkeeping.StatusPaused:
		updated, err = h.Connections.Pause(r.Context(), c.ID)
	default:
		updated, err = h.Connections.Resume(r.Context(), c.ID)
	}
	if err != nil {
		writeDomainError(w, err, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
