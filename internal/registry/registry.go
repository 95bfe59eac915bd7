// ABOUTME: Tracks all live client connections, keyed by connection and by user
// ABOUTME: Dismissal synchronously cleans room membership and re-evaluates presence

package registry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/hallwayapp/hallway/internal/auth"
	"github.com/hallwayapp/hallway/internal/protocol"
)

// ErrDuplicateConnection indicates a connection with the same ID is
// already admitted. Connection IDs are generated server-side, so this only
// fires when the transport layer replays a handshake.
var ErrDuplicateConnection = errors.New("connection already admitted")

// RoomCleaner removes a dismissed connection from every room's live set.
type RoomCleaner interface {
	DropConnection(conn *Conn)
}

// PresenceNotifier re-evaluates a user's presence when their connection
// count changes.
type PresenceNotifier interface {
	ConnectionOpened(userID string)
	ConnectionClosed(userID string)
}

// Registry coordinates all live connections.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	byUser map[string]map[string]*Conn
	logger *slog.Logger

	cleaner  RoomCleaner
	presence PresenceNotifier
}

// New creates a Registry. Hooks are wired afterwards via SetHooks because
// the room directory and presence tracker are constructed later.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
		logger: logger.With("component", "registry"),
	}
}

// SetHooks wires the room cleanup and presence re-evaluation callbacks.
func (r *Registry) SetHooks(cleaner RoomCleaner, presence PresenceNotifier) {
	r.cleaner = cleaner
	r.presence = presence
}

// Admit registers a new live connection. An unauthenticated identity is a
// fatal handshake rejection; a duplicate ID means the transport replayed a
// handshake.
func (r *Registry) Admit(conn *Conn) error {
	if conn.UserID == "" {
		return auth.ErrUnauthorized
	}

	r.mu.Lock()
	if _, exists := r.conns[conn.ID]; exists {
		r.mu.Unlock()
		return ErrDuplicateConnection
	}
	r.conns[conn.ID] = conn
	if r.byUser[conn.UserID] == nil {
		r.byUser[conn.UserID] = make(map[string]*Conn)
	}
	r.byUser[conn.UserID][conn.ID] = conn
	total := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("connection admitted",
		"conn_id", conn.ID,
		"user_id", conn.UserID,
		"total_connections", total,
	)

	if r.presence != nil {
		r.presence.ConnectionOpened(conn.UserID)
	}
	return nil
}

// Dismiss removes a connection. Before it returns, the connection is gone
// from every room's live set and presence has been re-evaluated, so no
// later fan-out can target the dead connection. Idempotent.
func (r *Registry) Dismiss(conn *Conn) {
	r.mu.Lock()
	if _, exists := r.conns[conn.ID]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.conns, conn.ID)
	if userConns, ok := r.byUser[conn.UserID]; ok {
		delete(userConns, conn.ID)
		if len(userConns) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	total := len(r.conns)
	r.mu.Unlock()

	if r.cleaner != nil {
		r.cleaner.DropConnection(conn)
	}
	if r.presence != nil {
		r.presence.ConnectionClosed(conn.UserID)
	}
	conn.shutdown()

	r.logger.Info("connection dismissed",
		"conn_id", conn.ID,
		"user_id", conn.UserID,
		"total_connections", total,
	)
}

// ForEachConnectionOf calls fn for every live connection of a user. It
// iterates a fresh snapshot, so a connection dropping mid-iteration never
// affects the caller.
func (r *Registry) ForEachConnectionOf(userID string, fn func(*Conn)) {
	for _, conn := range r.ConnectionsOf(userID) {
		fn(conn)
	}
}

// ConnectionsOf returns a snapshot of a user's live connections.
func (r *Registry) ConnectionsOf(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// LiveConnections returns the number of live connections a user holds.
func (r *Registry) LiveConnections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Len returns the total number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast enqueues an event on every live connection. Used for
// presence transitions, which are globally visible.
func (r *Registry) Broadcast(event protocol.Event) {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Enqueue(event); err != nil {
			r.logger.Warn("broadcast dropped connection",
				"conn_id", conn.ID, "error", err)
		}
	}
}

// Close dismisses every connection, for server shutdown.
func (r *Registry) Close() {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		r.Dismiss(conn)
	}
}
