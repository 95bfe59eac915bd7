// ABOUTME: Represents a single live client connection and its bidirectional websocket stream
// ABOUTME: Outbound events go through a bounded queue; a full queue drops the connection

package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hallwayapp/hallway/internal/auth"
	"github.com/hallwayapp/hallway/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// DefaultQueueSize is the outbound buffer per connection.
	DefaultQueueSize = 256
)

// ErrConnectionSaturated indicates the outbound queue was full and the
// connection is being dropped. Fatal to that connection only; the client
// reconnects and resyncs via history replay.
var ErrConnectionSaturated = errors.New("connection outbound queue saturated")

// Conn represents one live transport session for a user. A user may hold
// several at once (multi-tab, multi-device).
type Conn struct {
	ID            string
	UserID        string
	DisplayName   string
	Role          string
	Notifications bool

	ws   *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	rooms    map[string]bool
	lastSeen time.Time

	closeOnce sync.Once
	done      chan struct{}

	logger *slog.Logger
}

// NewConn creates a connection for an authenticated identity. The websocket
// may be nil in tests; the pumps are only started by the server. A
// queueSize of zero selects DefaultQueueSize.
func NewConn(ws *websocket.Conn, identity auth.Identity, queueSize int, logger *slog.Logger) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Conn{
		ID:            id,
		UserID:        identity.UserID,
		DisplayName:   identity.DisplayName,
		Role:          identity.Role,
		Notifications: identity.Notifications,
		ws:            ws,
		send:          make(chan []byte, queueSize),
		rooms:         make(map[string]bool),
		lastSeen:      time.Now(),
		done:          make(chan struct{}),
		logger:        logger.With("conn_id", id, "user_id", identity.UserID),
	}
}

// Enqueue encodes an event onto the outbound queue without blocking.
// A full queue means the client cannot keep up: the connection is closed
// so a slow client never stalls delivery to the rest of the room.
func (c *Conn) Enqueue(event protocol.Event) error {
	data, err := protocol.Encode(event)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionSaturated
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn("outbound queue full, dropping connection")
		c.shutdown()
		return ErrConnectionSaturated
	}
}

// Outbound exposes the encoded outbound stream. The write pump consumes
// it in production; tests consume it directly.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Done is closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// shutdown signals both pumps to exit. Safe to call multiple times.
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// AddRoom records a joined room on the connection.
func (c *Conn) AddRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = true
}

// RemoveRoom drops a joined room from the connection.
func (c *Conn) RemoveRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

// InRoom reports whether the connection has joined the room.
func (c *Conn) InRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[roomID]
}

// Rooms returns a snapshot of the connection's joined rooms.
func (c *Conn) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// Touch updates the last-seen timestamp.
func (c *Conn) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = time.Now()
}

// LastSeen returns when the connection last read from the peer.
func (c *Conn) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// ReadPump pumps messages from the websocket to the handler. It blocks
// until the peer disconnects or errors; the caller dismisses the
// connection when it returns.
func (c *Conn) ReadPump(handle func(data []byte)) {
	defer c.shutdown()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.Touch()
		handle(data)
	}
}

// WritePump pumps outbound events to the websocket and keeps the
// connection alive with periodic pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
