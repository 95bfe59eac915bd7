// ABOUTME: Store interface and data types for hallway persistence
// ABOUTME: Defines Room, Message, Reaction structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateRoom is returned when trying to create a room that already exists
var ErrDuplicateRoom = errors.New("room already exists")

// ErrPersistenceUnavailable wraps store failures surfaced to callers.
// The core never retries; the caller decides whether to re-submit.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

// Room represents a named channel with persisted membership.
// MemberCount reflects persisted members, not live connections.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Private     bool      `json:"private"`
	CreatedBy   string    `json:"created_by"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message represents a single chat message within a room.
// IDs are monotonically increasing within a room, so they double as
// display order and "last read" comparison keys.
type Message struct {
	ID            int64      `json:"id"`
	RoomID        string     `json:"room_id"`
	SenderID      string     `json:"sender_id"`
	SenderName    string     `json:"sender_name"`
	Content       string     `json:"content"`
	AttachmentURL string     `json:"attachment_url,omitempty"`
	ReplyTo       *int64     `json:"reply_to,omitempty"`
	Edited        bool       `json:"edited"`
	Pinned        bool       `json:"pinned"`
	CreatedAt     time.Time  `json:"created_at"`
	EditedAt      *time.Time `json:"edited_at,omitempty"`
	Reactions     []Reaction `json:"reactions,omitempty"`
	ReadBy        []string   `json:"read_by,omitempty"`
}

// Reaction is the aggregate for one emoji on one message.
// Clients receive the full aggregate on every change, never deltas.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Store defines the interface for room and message persistence.
// The store is the single source of truth for content; in-memory
// registries cache liveness only.
type Store interface {
	// Rooms and persisted membership
	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)
	ListRooms(ctx context.Context) ([]*Room, error)
	AddMember(ctx context.Context, roomID, userID string) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	ListMembers(ctx context.Context, roomID string) ([]string, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id int64) (*Message, error)
	RoomHistory(ctx context.Context, roomID string, limit int) ([]*Message, error)
	ApplyEdit(ctx context.Context, id int64, content string, editedAt time.Time) error
	ApplyDelete(ctx context.Context, id int64, deletedAt time.Time) error
	SetPinned(ctx context.Context, id int64, pinned bool) error

	// Reactions. ToggleReaction reports whether the reaction was added
	// (true) or removed (false).
	ToggleReaction(ctx context.Context, messageID int64, userID, emoji string) (bool, error)
	MessageReactions(ctx context.Context, messageID int64) ([]Reaction, error)

	// Read receipts
	MarkRead(ctx context.Context, messageID int64, roomID, userID string) error
	LastReadMessage(ctx context.Context, roomID string) (map[string]int64, error)

	// Unread counters, keyed by (user, room)
	IncrementUnread(ctx context.Context, userID, roomID string) error
	ClearUnread(ctx context.Context, userID, roomID string) error
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)

	// Close releases any resources held by the store
	Close() error
}
