// ABOUTME: Client-to-server intents as a closed set of tagged variants
// ABOUTME: ParseIntent dispatches on the envelope type with compile-time exhaustiveness

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownIntent is returned for envelope types outside the closed set.
var ErrUnknownIntent = errors.New("unknown intent type")

// Intent is the closed set of client-to-server requests. Only types in
// this package implement it.
type Intent interface {
	intentType() string
}

// JoinRoom subscribes the connection to a room and requests history replay.
type JoinRoom struct {
	RoomID string `json:"room_id"`
}

// LeaveRoom drops the connection's room subscription and persisted membership.
type LeaveRoom struct {
	RoomID string `json:"room_id"`
}

// CreateRoom registers a new room with the caller as sole member.
type CreateRoom struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private,omitempty"`
}

// SendMessage posts a new message to a room.
type SendMessage struct {
	RoomID        string `json:"room_id"`
	Content       string `json:"content"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	ReplyTo       *int64 `json:"reply_to,omitempty"`
}

// EditMessage replaces the content of a previously sent message.
type EditMessage struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

// DeleteMessage removes a message from live fan-out state.
type DeleteMessage struct {
	MessageID int64 `json:"message_id"`
}

// React toggles a (user, emoji) reaction on a message.
type React struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// MarkRead records that the caller has read a message.
type MarkRead struct {
	MessageID int64 `json:"message_id"`
}

// Typing signals that the caller is composing a message in a room.
// There is no stop-typing intent; indicators expire server-side.
type Typing struct {
	RoomID string `json:"room_id"`
}

// SetStatus explicitly moves the caller to online, away, or busy.
type SetStatus struct {
	Status string `json:"status"`
}

// PinMessage pins or unpins a message in its room.
type PinMessage struct {
	MessageID int64 `json:"message_id"`
	Pinned    bool  `json:"pinned"`
}

func (JoinRoom) intentType() string      { return "join_room" }
func (LeaveRoom) intentType() string     { return "leave_room" }
func (CreateRoom) intentType() string    { return "create_room" }
func (SendMessage) intentType() string   { return "send_message" }
func (EditMessage) intentType() string   { return "edit_message" }
func (DeleteMessage) intentType() string { return "delete_message" }
func (React) intentType() string         { return "react" }
func (MarkRead) intentType() string      { return "mark_read" }
func (Typing) intentType() string        { return "typing" }
func (SetStatus) intentType() string     { return "set_status" }
func (PinMessage) intentType() string    { return "pin_message" }

// IntentName returns the wire-level type tag for an intent.
func IntentName(in Intent) string {
	return in.intentType()
}

// ParseIntent decodes a wire envelope into its concrete intent type.
// Unknown types return ErrUnknownIntent; the caller reports them to the
// offending connection only.
func ParseIntent(data []byte) (Intent, error) {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding intent envelope: %w", err)
	}

	var intent Intent
	switch env.Type {
	case "join_room":
		intent = &JoinRoom{}
	case "leave_room":
		intent = &LeaveRoom{}
	case "create_room":
		intent = &CreateRoom{}
	case "send_message":
		intent = &SendMessage{}
	case "edit_message":
		intent = &EditMessage{}
	case "delete_message":
		intent = &DeleteMessage{}
	case "react":
		intent = &React{}
	case "mark_read":
		intent = &MarkRead{}
	case "typing":
		intent = &Typing{}
	case "set_status":
		intent = &SetStatus{}
	case "pin_message":
		intent = &PinMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, intent); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
		}
	}
	return intent, nil
}

// EncodeIntent wraps an intent in its wire envelope. Used by test clients.
func EncodeIntent(in Intent) ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Payload Intent `json:"payload"`
	}{Type: in.intentType(), Payload: in})
}
