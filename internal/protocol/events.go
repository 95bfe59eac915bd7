// ABOUTME: Server-to-client events as a closed set of tagged variants
// ABOUTME: Encode wraps each variant in a type-tagged JSON envelope

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hallwayapp/hallway/internal/store"
)

// ErrUnknownEvent is returned for envelope types outside the closed set.
var ErrUnknownEvent = errors.New("unknown event type")

// Event is the closed set of server-to-client pushes. Only types in this
// package implement it.
type Event interface {
	EventType() string
}

// RoomHistory carries the bounded history replay sent on join.
type RoomHistory struct {
	RoomID   string           `json:"room_id"`
	Messages []*store.Message `json:"messages"`
	// LastRead maps member user IDs to the highest message ID they have
	// read, queried lazily so reads never fan out per-event.
	LastRead map[string]int64 `json:"last_read,omitempty"`
}

// RoomJoined acknowledges a join with room metadata.
type RoomJoined struct {
	Room    *store.Room    `json:"room"`
	Members []string       `json:"members"`
	Pinned  *store.Message `json:"pinned,omitempty"`
}

// NewMessage announces a freshly persisted message to room members,
// sender included for multi-device consistency.
type NewMessage struct {
	Message *store.Message `json:"message"`
}

// MessageUpdated announces an edit.
type MessageUpdated struct {
	Message *store.Message `json:"message"`
}

// MessageDeleted carries only the identifier so already-fetched caches can
// remove the entry without a content echo.
type MessageDeleted struct {
	RoomID    string `json:"room_id"`
	MessageID int64  `json:"message_id"`
}

// MessageReaction carries the recomputed aggregate, not a delta, so
// clients replace state wholesale and avoid drift.
type MessageReaction struct {
	RoomID    string           `json:"room_id"`
	MessageID int64            `json:"message_id"`
	Reactions []store.Reaction `json:"reactions"`
}

// MessagePinned announces a pin or unpin.
type MessagePinned struct {
	RoomID  string         `json:"room_id"`
	Message *store.Message `json:"message"`
	Pinned  bool           `json:"pinned"`
}

// ReadReceipt confirms a mark-read to the reading user's own connections.
type ReadReceipt struct {
	RoomID    string `json:"room_id"`
	MessageID int64  `json:"message_id"`
	UserID    string `json:"user_id"`
}

// UserTyping is the ephemeral composing signal. IsTyping false is emitted
// exactly once per expiry; clients never time indicators out themselves.
type UserTyping struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// UserStatusChange announces a presence transition.
type UserStatusChange struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// Notification is a desktop/push payload for a user without a live
// connection in the room the event happened in.
type Notification struct {
	RoomID string `json:"room_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// UnreadCounts is the per-room unread snapshot sent on connect and after
// counters change.
type UnreadCounts struct {
	Counts map[string]int `json:"counts"`
}

// Error is surfaced to the offending connection only, never broadcast.
type Error struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Op     string `json:"op,omitempty"`
}

func (RoomHistory) EventType() string      { return "room_history" }
func (RoomJoined) EventType() string       { return "room_joined" }
func (NewMessage) EventType() string       { return "new_message" }
func (MessageUpdated) EventType() string   { return "message_updated" }
func (MessageDeleted) EventType() string   { return "message_deleted" }
func (MessageReaction) EventType() string  { return "message_reaction" }
func (MessagePinned) EventType() string    { return "message_pinned" }
func (ReadReceipt) EventType() string      { return "read_receipt" }
func (UserTyping) EventType() string       { return "user_typing" }
func (UserStatusChange) EventType() string { return "user_status_change" }
func (Notification) EventType() string     { return "notification" }
func (UnreadCounts) EventType() string     { return "unread_counts" }
func (Error) EventType() string            { return "error" }

// Encode wraps an event in its wire envelope.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Payload Event  `json:"payload"`
	}{Type: e.EventType(), Payload: e})
}

// DecodeEvent unwraps a wire envelope into its concrete event type.
// Used by test clients to assert on received events.
func DecodeEvent(data []byte) (Event, error) {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	var event Event
	switch env.Type {
	case "room_history":
		event = &RoomHistory{}
	case "room_joined":
		event = &RoomJoined{}
	case "new_message":
		event = &NewMessage{}
	case "message_updated":
		event = &MessageUpdated{}
	case "message_deleted":
		event = &MessageDeleted{}
	case "message_reaction":
		event = &MessageReaction{}
	case "message_pinned":
		event = &MessagePinned{}
	case "read_receipt":
		event = &ReadReceipt{}
	case "user_typing":
		event = &UserTyping{}
	case "user_status_change":
		event = &UserStatusChange{}
	case "notification":
		event = &Notification{}
	case "unread_counts":
		event = &UnreadCounts{}
	case "error":
		event = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, event); err != nil {
			return nil, err
		}
	}
	return event, nil
}
