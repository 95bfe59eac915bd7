// ABOUTME: Validates, persists, and fans out chat messages, edits, deletions, and reactions
// ABOUTME: Persist-then-fan-out runs under the room's serialization point for per-room order

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hallwayapp/hallway/internal/auth"
	"github.com/hallwayapp/hallway/internal/protocol"
	"github.com/hallwayapp/hallway/internal/registry"
	"github.com/hallwayapp/hallway/internal/room"
	"github.com/hallwayapp/hallway/internal/snowflake"
	"github.com/hallwayapp/hallway/internal/store"
)

// ErrForbidden is returned when a caller is not allowed to perform an
// operation (non-sender edit/delete, non-owner pin). Non-fatal; surfaced
// to the offending caller only, never broadcast.
var ErrForbidden = errors.New("forbidden")

// ErrInvalidMessage is returned for messages that fail validation.
var ErrInvalidMessage = errors.New("invalid message")

// Notifier receives every fanned-out message so out-of-room recipients
// get unread counters and push payloads.
type Notifier interface {
	MessageFanned(ctx context.Context, msg *store.Message)
}

// Pipeline is the ordered path from client intent to persisted message to
// room fan-out. One instance serves all rooms; ordering comes from the
// per-room serialization point in the directory.
type Pipeline struct {
	store    store.Store
	rooms    *room.Directory
	registry *registry.Registry
	notifier Notifier
	ids      *snowflake.Node
	logger   *slog.Logger
}

// New creates a Pipeline. notifier may be nil when the notification
// dispatcher is disabled.
func New(s store.Store, rooms *room.Directory, reg *registry.Registry, notifier Notifier, ids *snowflake.Node, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    s,
		rooms:    rooms,
		registry: reg,
		notifier: notifier,
		ids:      ids,
		logger:   logger.With("component", "pipeline"),
	}
}

// Send validates, persists, and fans out a new message. The sender's own
// connections receive the event too, keeping multiple devices consistent.
// Persistence failure aborts the fan-out and is not retried; the caller
// re-submits.
func (p *Pipeline) Send(ctx context.Context, roomID string, sender auth.Identity, content, attachmentURL string, replyTo *int64) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && attachmentURL == "" {
		return nil, fmt.Errorf("%w: empty content without attachment", ErrInvalidMessage)
	}

	if replyTo != nil {
		parent, err := p.store.GetMessage(ctx, *replyTo)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: reply target %d does not exist", ErrInvalidMessage, *replyTo)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
		}
		if parent.RoomID != roomID {
			return nil, fmt.Errorf("%w: reply target is in another room", ErrInvalidMessage)
		}
	}

	if err := p.requireMember(ctx, roomID, sender.UserID); err != nil {
		return nil, err
	}

	msg := &store.Message{
		RoomID:        roomID,
		SenderID:      sender.UserID,
		SenderName:    sender.DisplayName,
		Content:       content,
		AttachmentURL: attachmentURL,
		ReplyTo:       replyTo,
		CreatedAt:     time.Now().UTC(),
	}

	err := p.rooms.WithRoom(roomID, func() error {
		msg.ID = p.ids.Generate()
		if err := p.store.SaveMessage(ctx, msg); err != nil {
			return fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
		}
		p.rooms.Broadcast(roomID, &protocol.NewMessage{Message: msg})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.notifier != nil {
		p.notifier.MessageFanned(ctx, msg)
	}

	p.logger.Debug("message sent", "room_id", roomID, "message_id", msg.ID, "sender", sender.UserID)
	return msg, nil
}

// Edit replaces a message's content. Only the original sender may edit.
// Fan-out uses the room's membership at edit time, not a cached set.
func (p *Pipeline) Edit(ctx context.Context, messageID int64, editorID, newContent string) (*store.Message, error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}

	msg, err := p.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, fmt.Errorf("%w: only the sender may edit", ErrForbidden)
	}

	var updated *store.Message
	err = p.rooms.WithRoom(msg.RoomID, func() error {
		if err := p.store.ApplyEdit(ctx, messageID, newContent, time.Now().UTC()); err != nil {
			return fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
		}
		var gerr error
		updated, gerr = p.getMessage(ctx, messageID)
		if gerr != nil {
			return gerr
		}
		p.rooms.Broadcast(msg.RoomID, &protocol.MessageUpdated{Message: updated})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a message from live fan-out state. The event carries
// only the identifier so already-fetched caches can drop the entry.
// Tombstoning is the store's concern.
func (p *Pipeline) Delete(ctx context.Context, messageID int64, requesterID string) error {
	msg, err := p.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return fmt.Errorf("%w: only the sender may delete", ErrForbidden)
	}

	return p.rooms.WithRoom(msg.RoomID, func() error {
		if err := p.store.ApplyDelete(ctx, messageID, time.Now().UTC()); err != nil {
			return fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
		}
		if pinned := p.rooms.Pinned(msg.RoomID); pinned != nil && pinned.ID == messageID {
			p.rooms.SetPinned(msg.RoomID, nil)
		}
		p.rooms.Broadcast(msg.RoomID, &protocol.MessageDeleted{RoomID: msg.RoomID, MessageID: messageID})
		return nil
	})
}

// React toggles a (user, emoji) reaction and fans out the recomputed
// aggregate so clients replace reaction state wholesale.
func (p *Pipeline) React(ctx context.Context, messageID int64, userID, emoji string) error {
	if emoji == "" {
		return fmt.Errorf("%w: empty emoji", ErrInvalidMessage)
	}

	msg, err := p.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := p.requireMember(ctx, msg.RoomID, userID); err != nil {
		return err
	}

	return p.rooms.WithRoom(msg.RoomID, func() error {
		if _, err := p.store.ToggleReaction(ctx, messageID, userID, emoji); err != nil {
			return fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
		}
		reactions, err := p.store.MessageReactions(ctx, messageID)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
		}
		p.rooms.Broadcast(msg.RoomID, &protocol.MessageReaction{
			RoomID:    msg.RoomID,
			MessageID: messageID,
			Reactions: reactions,
		})
		return nil
	})
}

// MarkRead records a read receipt. Reads never fan out to the whole room;
// only the reading user's own connections hear about it, and senders
// query the highest-read map lazily via history replay.
func (p *Pipeline) MarkRead(ctx context.Context, messageID int64, userID string) error {
	msg, err := p.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := p.requireMember(ctx, msg.RoomID, userID); err != nil {
		return err
	}

	if err := p.store.MarkRead(ctx, messageID, msg.RoomID, userID); err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
	}

	receipt := &protocol.ReadReceipt{RoomID: msg.RoomID, MessageID: messageID, UserID: userID}
	p.registry.ForEachConnectionOf(userID, func(conn *registry.Conn) {
		if err := conn.Enqueue(receipt); err != nil {
			p.logger.Warn("read receipt dropped connection", "conn_id", conn.ID, "error", err)
		}
	})
	return nil
}

// Pin pins or unpins a message in its room. Owner-only: pinning is a
// moderation action on the room, not a sender right.
func (p *Pipeline) Pin(ctx context.Context, messageID int64, requester auth.Identity, pinned bool) error {
	if requester.Role != auth.RoleOwner {
		return fmt.Errorf("%w: only the owner may pin", ErrForbidden)
	}

	msg, err := p.getMessage(ctx, messageID)
	if err != nil {
		return err
	}

	return p.rooms.WithRoom(msg.RoomID, func() error {
		if err := p.store.SetPinned(ctx, messageID, pinned); err != nil {
			return fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
		}
		updated, err := p.getMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if pinned {
			p.rooms.SetPinned(msg.RoomID, updated)
		} else if current := p.rooms.Pinned(msg.RoomID); current != nil && current.ID == messageID {
			p.rooms.SetPinned(msg.RoomID, nil)
		}
		p.rooms.Broadcast(msg.RoomID, &protocol.MessagePinned{
			RoomID:  msg.RoomID,
			Message: updated,
			Pinned:  pinned,
		})
		return nil
	})
}

// requireMember gates send, react, and mark-read on persisted room
// membership so a connection cannot reach into rooms it never joined.
func (p *Pipeline) requireMember(ctx context.Context, roomID, userID string) error {
	ok, err := p.store.IsMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: not a member of the room", ErrForbidden)
	}
	return nil
}

// getMessage loads a message, mapping store errors onto the taxonomy.
func (p *Pipeline) getMessage(ctx context.Context, messageID int64) (*store.Message, error) {
	msg, err := p.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
	}
	return msg, nil
}
