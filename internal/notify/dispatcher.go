// ABOUTME: Routes unread counters and push payloads to members who missed a message live
// ABOUTME: In-room recipients are skipped; they already received the fan-out

package notify

import (
	"context"
	"log/slog"

	"github.com/hallwayapp/hallway/internal/protocol"
	"github.com/hallwayapp/hallway/internal/registry"
	"github.com/hallwayapp/hallway/internal/room"
	"github.com/hallwayapp/hallway/internal/store"
)

// previewLimit caps the notification body, counted in runes so multi-byte
// content is not cut mid-character.
const previewLimit = 120

// Dispatcher decides, per persisted message, which members get unread
// increments and which also get a push-style notification event.
type Dispatcher struct {
	store    store.Store
	rooms    *room.Directory
	registry *registry.Registry
	logger   *slog.Logger

	// enabled is the server-wide switch; per-user opt-out still applies
	// when it is on.
	enabled bool
}

// New creates a Dispatcher.
func New(s store.Store, rooms *room.Directory, reg *registry.Registry, enabled bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    s,
		rooms:    rooms,
		registry: reg,
		logger:   logger.With("component", "notify"),
		enabled:  enabled,
	}
}

// MessageFanned runs after a message has been persisted and fanned out to
// the room's live connections. Every persisted member without a live
// connection in the room gets an unread increment; those holding a live
// connection elsewhere additionally get a notification event, subject to
// their preference.
func (d *Dispatcher) MessageFanned(ctx context.Context, msg *store.Message) {
	members, err := d.store.ListMembers(ctx, msg.RoomID)
	if err != nil {
		d.logger.Warn("member list unavailable, skipping notifications",
			"room_id", msg.RoomID, "error", err)
		return
	}

	liveInRoom := d.rooms.LiveUserSet(msg.RoomID)
	notification := &protocol.Notification{
		RoomID: msg.RoomID,
		Title:  msg.SenderName,
		Body:   preview(msg),
	}

	for _, member := range members {
		if member == msg.SenderID || liveInRoom[member] {
			continue
		}

		if err := d.store.IncrementUnread(ctx, member, msg.RoomID); err != nil {
			d.logger.Warn("unread increment failed",
				"room_id", msg.RoomID, "user_id", member, "error", err)
		}

		d.registry.ForEachConnectionOf(member, func(conn *registry.Conn) {
			if !d.wantsNotifications(conn) {
				return
			}
			if err := conn.Enqueue(notification); err != nil {
				d.logger.Warn("notification dropped connection",
					"conn_id", conn.ID, "error", err)
			}
		})
	}
}

// ClearOnJoin resets a user's unread counter when they join a room and
// pushes their fresh counts so every device updates its badges.
func (d *Dispatcher) ClearOnJoin(ctx context.Context, roomID, userID string) {
	if err := d.store.ClearUnread(ctx, userID, roomID); err != nil {
		d.logger.Warn("unread clear failed",
			"room_id", roomID, "user_id", userID, "error", err)
		return
	}
	d.pushCounts(ctx, userID)
}

// SnapshotOnConnect sends a user's unread counts to a newly admitted
// connection so the client can render badges before joining anything.
func (d *Dispatcher) SnapshotOnConnect(ctx context.Context, conn *registry.Conn) {
	counts, err := d.store.UnreadCounts(ctx, conn.UserID)
	if err != nil {
		d.logger.Warn("unread snapshot unavailable",
			"user_id", conn.UserID, "error", err)
		return
	}
	if err := conn.Enqueue(&protocol.UnreadCounts{Counts: counts}); err != nil {
		d.logger.Warn("unread snapshot dropped connection",
			"conn_id", conn.ID, "error", err)
	}
}

func (d *Dispatcher) pushCounts(ctx context.Context, userID string) {
	counts, err := d.store.UnreadCounts(ctx, userID)
	if err != nil {
		d.logger.Warn("unread counts unavailable", "user_id", userID, "error", err)
		return
	}
	event := &protocol.UnreadCounts{Counts: counts}
	d.registry.ForEachConnectionOf(userID, func(conn *registry.Conn) {
		if err := conn.Enqueue(event); err != nil {
			d.logger.Warn("unread counts dropped connection",
				"conn_id", conn.ID, "error", err)
		}
	})
}

func (d *Dispatcher) wantsNotifications(conn *registry.Conn) bool {
	return d.enabled && conn.Notifications
}

// preview builds the notification body from the message content.
func preview(msg *store.Message) string {
	body := msg.Content
	if body == "" && msg.AttachmentURL != "" {
		body = "sent an attachment"
	}
	runes := []rune(body)
	if len(runes) <= previewLimit {
		return body
	}
	return string(runes[:previewLimit-1]) + "…"
}
