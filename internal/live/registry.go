package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the live connection of each session. A new connection for
// a session replaces and closes the previous one.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*websocket.Conn)}
}

// Get returns the active connection for a session.
func (r *Registry) Get(sessionID string) *websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[sessionID]
}

// Register adds conn for sessionID, closing any connection it replaces.
func (r *Registry) Register(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "session replaced")
		slog.Info("Live session replaced", "session_id", sessionID)
	}
	r.active[sessionID] = conn
	slog.Info("Live session registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the active connection for sessionID.
func (r *Registry) Unregister(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[sessionID]; ok && current == conn {
		delete(r.active, sessionID)
		slog.Info("Live session unregistered", "session_id", sessionID)
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// CloseAll terminates every live connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sid, conn := range r.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		slog.Info("Live session closed", "session_id", sid)
	}
	clear(r.active)
}
