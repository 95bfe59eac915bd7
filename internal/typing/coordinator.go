// ABOUTME: Tracks per-room typing indicators with server-side expiry
// ABOUTME: Clients only ever signal "typing"; the stop always comes from the sweeper

package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hallwayapp/hallway/internal/protocol"
)

const (
	// indicatorTTL is how long a typing indicator stays live without a
	// refresh. Clients re-signal while the user keeps typing.
	indicatorTTL = time.Second

	// sweepInterval bounds how stale an expired indicator can appear.
	sweepInterval = 250 * time.Millisecond
)

// broadcaster fans an event out to a room's live connections. Satisfied
// by the room directory.
type broadcaster interface {
	Broadcast(roomID string, event protocol.Event)
}

// Coordinator owns the ephemeral typing state for every room. Typing
// indicators never touch the store; a restart simply forgets them.
type Coordinator struct {
	mu        sync.Mutex
	deadlines map[string]map[string]time.Time

	rooms  broadcaster
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Coordinator and starts its expiry sweeper.
func New(rooms broadcaster, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		deadlines: make(map[string]map[string]time.Time),
		rooms:     rooms,
		logger:    logger.With("component", "typing"),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.sweep(ctx)
	return c
}

// Signal records that a user is typing in a room. The first signal fans
// out isTyping true; refreshes while the indicator is live only extend
// the deadline, so watchers see one transition per burst.
func (c *Coordinator) Signal(roomID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.deadlines[roomID]
	if room == nil {
		room = make(map[string]time.Time)
		c.deadlines[roomID] = room
	}
	_, active := room[userID]
	room[userID] = time.Now().Add(indicatorTTL)

	// Broadcast under the lock: transitions reach the room in the same
	// order the indicator state changed, so a stop can never trail a
	// fresh burst.
	if !active {
		c.rooms.Broadcast(roomID, &protocol.UserTyping{RoomID: roomID, UserID: userID, IsTyping: true})
	}
}

// Stop clears a user's indicator immediately, fanning out the stop event
// if one was live. Used when the user sends the message they were typing.
func (c *Coordinator) Stop(roomID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.deadlines[roomID]
	_, active := room[userID]
	if !active {
		return
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(c.deadlines, roomID)
	}
	c.rooms.Broadcast(roomID, &protocol.UserTyping{RoomID: roomID, UserID: userID, IsTyping: false})
}

// Typing returns the users currently typing in a room.
func (c *Coordinator) Typing(roomID string) []string {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	users := make([]string, 0, len(c.deadlines[roomID]))
	for userID, deadline := range c.deadlines[roomID] {
		if deadline.After(now) {
			users = append(users, userID)
		}
	}
	return users
}

// Close stops the sweeper and waits for it to exit. Pending indicators
// are dropped without stop events; the process is going away anyway.
func (c *Coordinator) Close() {
	c.cancel()
	<-c.done
}

// sweep expires indicators, emitting exactly one stop event per expiry.
func (c *Coordinator) sweep(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.expire(now)
		}
	}
}

func (c *Coordinator) expire(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for roomID, room := range c.deadlines {
		for userID, deadline := range room {
			if !deadline.After(now) {
				delete(room, userID)
				c.rooms.Broadcast(roomID, &protocol.UserTyping{RoomID: roomID, UserID: userID, IsTyping: false})
			}
		}
		if len(room) == 0 {
			delete(c.deadlines, roomID)
		}
	}
}
