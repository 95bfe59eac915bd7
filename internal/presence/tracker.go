// ABOUTME: Derives user presence from live connection counts and explicit status intents
// ABOUTME: Offline is never self-reported; it only follows the last connection closing

package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hallwayapp/hallway/internal/protocol"
)

// User statuses. Offline is derived, never set by intent.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// ErrInvalidStatus is returned for a status outside the allowed set.
var ErrInvalidStatus = errors.New("invalid status")

const (
	onlineSetKey  = "presence:online"
	userKeyPrefix = "presence:user:"
	mirrorTimeout = 2 * time.Second
)

// connectionCounter reports how many live connections a user holds.
// Satisfied by the registry.
type connectionCounter interface {
	LiveConnections(userID string) int
	Broadcast(event protocol.Event)
}

// Tracker holds the authoritative presence map. Transitions fan out to
// every live connection; presence is globally visible rather than scoped
// to shared rooms. An optional Redis mirror lets external services read
// presence without asking the chat server; mirror failures are logged
// and never affect the in-memory state.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]string

	registry connectionCounter
	rdb      *redis.Client
	logger   *slog.Logger
}

// New creates a Tracker. rdb may be nil to disable the Redis mirror.
func New(reg connectionCounter, rdb *redis.Client, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		statuses: make(map[string]string),
		registry: reg,
		rdb:      rdb,
		logger:   logger.With("component", "presence"),
	}
}

// ConnectionOpened runs when the registry admits a connection. The first
// connection of an offline user flips them to online; extra devices
// change nothing.
func (t *Tracker) ConnectionOpened(userID string) {
	t.mu.Lock()
	_, known := t.statuses[userID]
	if !known {
		t.statuses[userID] = StatusOnline
	}
	t.mu.Unlock()

	if known {
		return
	}

	t.registry.Broadcast(&protocol.UserStatusChange{UserID: userID, Status: StatusOnline})
	t.mirror(func(ctx context.Context) error {
		if err := t.rdb.SAdd(ctx, onlineSetKey, userID).Err(); err != nil {
			return err
		}
		return t.rdb.Set(ctx, userKeyPrefix+userID, StatusOnline, 0).Err()
	})
	t.logger.Debug("user online", "user_id", userID)
}

// ConnectionClosed runs when the registry dismisses a connection. Only
// the loss of the user's last connection produces an offline transition.
func (t *Tracker) ConnectionClosed(userID string) {
	if t.registry.LiveConnections(userID) > 0 {
		return
	}

	t.mu.Lock()
	_, known := t.statuses[userID]
	delete(t.statuses, userID)
	t.mu.Unlock()

	if !known {
		return
	}

	t.registry.Broadcast(&protocol.UserStatusChange{UserID: userID, Status: StatusOffline})
	t.mirror(func(ctx context.Context) error {
		if err := t.rdb.SRem(ctx, onlineSetKey, userID).Err(); err != nil {
			return err
		}
		return t.rdb.Del(ctx, userKeyPrefix+userID).Err()
	})
	t.logger.Debug("user offline", "user_id", userID)
}

// SetStatus applies an explicit online/away/busy transition. A no-op
// when the status is unchanged, so repeated intents do not spam every
// client.
func (t *Tracker) SetStatus(userID, status string) error {
	switch status {
	case StatusOnline, StatusAway, StatusBusy:
	default:
		return ErrInvalidStatus
	}

	t.mu.Lock()
	if t.statuses[userID] == status {
		t.mu.Unlock()
		return nil
	}
	t.statuses[userID] = status
	t.mu.Unlock()

	t.registry.Broadcast(&protocol.UserStatusChange{UserID: userID, Status: status})
	t.mirror(func(ctx context.Context) error {
		return t.rdb.Set(ctx, userKeyPrefix+userID, status, 0).Err()
	})
	return nil
}

// Status returns the user's current status.
func (t *Tracker) Status(userID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.statuses[userID]; ok {
		return s
	}
	return StatusOffline
}

// Snapshot returns a copy of all non-offline statuses.
func (t *Tracker) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.statuses))
	for user, status := range t.statuses {
		out[user] = status
	}
	return out
}

// mirror runs a Redis write with a short deadline. Presence keeps working
// when Redis is down; the mirror just goes stale.
func (t *Tracker) mirror(fn func(ctx context.Context) error) {
	if t.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		t.logger.Warn("presence mirror write failed", "error", err)
	}
}
