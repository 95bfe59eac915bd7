// ABOUTME: WebSocket handshake, authentication, and per-connection pump lifecycle
// ABOUTME: A failed handshake never allocates registry or room state

package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/hallwayapp/hallway/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from arbitrary origins in development; the JWT is
	// the actual trust boundary.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bearerToken extracts the JWT from the Authorization header or, for
// browser websocket clients that cannot set headers, the token query
// parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// handleWS authenticates and upgrades a client connection, then runs its
// read pump until the peer goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		s.logger.Warn("websocket handshake rejected", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := registry.NewConn(ws, identity, s.config.Connections.QueueSize, s.logger)
	if err := s.registry.Admit(conn); err != nil {
		s.logger.Warn("connection not admitted", "error", err)
		_ = ws.Close()
		return
	}
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}

	s.notify.SnapshotOnConnect(r.Context(), conn)

	sess := newSession(s, conn)
	go conn.WritePump()
	conn.ReadPump(sess.handleRaw)

	s.registry.Dismiss(conn)
	if s.metrics != nil {
		s.metrics.ConnectionClosed()
	}
}
