package websocket

import (
	"sync"

	"queryflow/pkg/interfaces"
)

// Registry tracks live connections grouped by session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Connection // sessionID -> connID -> Connection
	total    int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds conn under its session.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	sessionID := conn.GetSessionID()
	if sessionID == "" {
		return ErrMissingSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		conns = make(map[string]*Connection)
		r.sessions[sessionID] = conns
	}
	if _, dup := conns[conn.ID()]; !dup {
		r.total++
	}
	conns[conn.ID()] = conn
	return nil
}

// UnregisterConnection removes conn. Unknown connections are ignored.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[conn.GetSessionID()]
	if !ok {
		return
	}
	if registered, ok := conns[conn.ID()]; !ok || registered != conn {
		return
	}
	delete(conns, conn.ID())
	r.total--
	if len(conns) == 0 {
		delete(r.sessions, conn.GetSessionID())
	}
}

// SessionConnections returns the connections subscribed to sessionID.
func (r *Registry) SessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.sessions[sessionID]
	out := make([]*Connection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// Subscribers returns the session's connections as interfaces.Connection
// values for broadcasting.
func (r *Registry) Subscribers(sessionID string) []interfaces.Connection {
	conns := r.SessionConnections(sessionID)
	out := make([]interfaces.Connection, len(conns))
	for i, conn := range conns {
		out[i] = conn
	}
	return out
}

// CloseSession closes and removes every connection of sessionID and returns
// how many were closed.
func (r *Registry) CloseSession(sessionID string) int {
	r.mu.Lock()
	conns := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.total -= len(conns)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}

// GetStats reports connection and session counts.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": r.total,
		"active_sessions":   len(r.sessions),
	}
}
