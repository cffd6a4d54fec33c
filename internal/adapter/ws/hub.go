// Package ws implements the WebSocket adapter that pushes tenant profile
// updates to connected UI clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/broadcast"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	readLimit    = 4096
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// ProfileSource is the in-process profile surface the hub relays. It holds a
// single observer per tenant; the hub is that observer for every tenant any
// client watches.
type ProfileSource interface {
	GetProfile(ctx context.Context, tenantID string) (*profile.Profile, error)
	Subscribe(tenantID string, fn profile.Observer)
	Unsubscribe(tenantID string)
}

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// clientMessage is what clients send.
type clientMessage struct {
	Type     string `json:"type"`
	TenantID string `json:"tenant_id"`
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	send   chan []byte

	// tenants counts the profiles sent per watched tenant; guarded by Hub.mu.
	tenants map[string]uint64
}

// Hub manages all active WebSocket connections and their tenant subscriptions.
type Hub struct {
	profiles ProfileSource
	origins  []string

	mu       sync.RWMutex
	conns    map[*conn]struct{}
	byTenant map[string]map[*conn]struct{}
}

// NewHub creates a hub relaying profiles from src. originPatterns lists the
// cross-origin hosts allowed to connect; empty means same origin only.
func NewHub(src ProfileSource, originPatterns []string) *Hub {
	return &Hub{
		profiles: src,
		origins:  originPatterns,
		conns:    make(map[*conn]struct{}),
		byTenant: make(map[string]map[*conn]struct{}),
	}
}

// HandleWS upgrades the request and serves the connection until it closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel, send: make(chan []byte, sendBuffer), tenants: map[string]uint64{}}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("websocket connected", "remote", r.RemoteAddr)

	go h.writeLoop(ctx, c)
	defer func() {
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("websocket read failed", "error", err)
			}
			return
		}
		h.handleClientMessage(ctx, c, data)
	}
}

func (h *Hub) handleClientMessage(ctx context.Context, c *conn, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "malformed message")
		return
	}
	if msg.TenantID == "" && (msg.Type == "subscribe" || msg.Type == "unsubscribe") {
		h.sendError(c, "tenant_id is required")
		return
	}
	switch msg.Type {
	case "subscribe":
		sent, ok := h.subscribe(c, msg.TenantID)
		if !ok {
			return
		}
		p, err := h.profiles.GetProfile(ctx, msg.TenantID)
		if err != nil {
			slog.WarnContext(ctx, "profile snapshot failed", "tenant_id", msg.TenantID, "error", err)
			h.sendError(c, "profile unavailable")
			return
		}
		h.sendSnapshot(c, p, sent)
	case "unsubscribe":
		h.unsubscribe(c, msg.TenantID)
	default:
		h.sendError(c, "unknown message type "+msg.Type)
	}
}

// subscribe adds c to the tenant's watchers; the first watcher registers the
// hub as the tenant's profile observer. It returns how many profiles c has
// been sent for the tenant so far.
func (h *Hub) subscribe(c *conn, tenantID string) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sent, dup := c.tenants[tenantID]; dup {
		return sent, true
	}
	if _, ok := h.conns[c]; !ok {
		return 0, false
	}
	c.tenants[tenantID] = 0
	set, ok := h.byTenant[tenantID]
	if !ok {
		set = make(map[*conn]struct{})
		h.byTenant[tenantID] = set
		h.profiles.Subscribe(tenantID, h.pushProfile)
	}
	set[c] = struct{}{}
	return 0, true
}

// sendSnapshot sends p unless a pushed profile reached c after the
// subscription it answers; that push is at least as new as p.
func (h *Hub) sendSnapshot(c *conn, p *profile.Profile, sent uint64) {
	data := encode(broadcast.EventProfileUpdated, p)
	if data == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := c.tenants[p.TenantID]; !ok || cur != sent {
		return
	}
	c.tenants[p.TenantID]++
	h.enqueue(c, data)
}

func (h *Hub) unsubscribe(c *conn, tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(c, tenantID)
}

func (h *Hub) unsubscribeLocked(c *conn, tenantID string) {
	delete(c.tenants, tenantID)
	set, ok := h.byTenant[tenantID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.byTenant, tenantID)
		h.profiles.Unsubscribe(tenantID)
	}
}

// pushProfile is the observer registered with the profile source.
func (h *Hub) pushProfile(p *profile.Profile) {
	data := encode(broadcast.EventProfileUpdated, p)
	if data == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.byTenant[p.TenantID] {
		c.tenants[p.TenantID]++
		h.enqueue(c, data)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err)
				h.remove(c)
				return
			}
		}
	}
}

// enqueue never blocks; a client whose buffer is full is disconnected.
func (h *Hub) enqueue(c *conn, data []byte) {
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("websocket client too slow, disconnecting")
		go h.remove(c)
	}
}

func (h *Hub) sendError(c *conn, msg string) {
	h.enqueue(c, encode("error", map[string]string{"message": msg}))
}

func encode(eventType string, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return nil
	}
	data, err := json.Marshal(Message{Type: eventType, Payload: raw})
	if err != nil {
		slog.Error("marshal ws message", "type", eventType, "error", err)
		return nil
	}
	return data
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		h.enqueue(c, data)
	}
}

// BroadcastToTenant sends a message to the clients watching tenantID.
func (h *Hub) BroadcastToTenant(_ context.Context, tenantID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byTenant[tenantID] {
		h.enqueue(c, data)
	}
}

// BroadcastEvent marshals a typed event and sends it to every client.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	h.Broadcast(ctx, Message{Type: eventType, Payload: data})
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// WatchedTenants returns how many tenants have at least one watcher.
func (h *Hub) WatchedTenants() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTenant)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return
	}
	for tenantID := range c.tenants {
		h.unsubscribeLocked(c, tenantID)
	}
	c.cancel()
	delete(h.conns, c)
	slog.Info("websocket disconnected")
}
