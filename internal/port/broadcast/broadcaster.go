// Package broadcast defines the port for pushing real-time events to
// connected UI clients.
package broadcast

import "context"

// Event types pushed to clients.
const (
	EventProfileUpdated = "profile.updated"
	EventSyncCompleted  = "sync.completed"
)

// Broadcaster sends real-time events to connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to every connected client.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
