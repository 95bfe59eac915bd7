// ABOUTME: Message, reaction, read-receipt, and unread-counter persistence for SQLiteStore
// ABOUTME: Deleted messages keep a tombstone row and never reappear in history

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveMessage inserts a new message row. The caller assigns the ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, sender_id, sender_name, content, attachment_url, reply_to, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.Content,
		msg.AttachmentURL, msg.ReplyTo, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessage retrieves a single message by ID, including reaction aggregates
// and readers. Deleted messages return ErrNotFound.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, room_id, sender_id, sender_name, content, attachment_url,
		        reply_to, edited, pinned, created_at, edited_at
		 FROM messages WHERE id = ? AND deleted_at IS NULL`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	if err := s.attachAnnotations(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// RoomHistory returns the most recent limit messages of a room in ascending
// ID order. Tombstoned messages are excluded.
func (s *SQLiteStore) RoomHistory(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, sender_id, sender_name, content, attachment_url,
		        reply_to, edited, pinned, created_at, edited_at
		 FROM messages
		 WHERE room_id = ? AND deleted_at IS NULL
		 ORDER BY id DESC LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to ascending order for display
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	for _, msg := range msgs {
		if err := s.attachAnnotations(ctx, msg); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// ApplyEdit replaces a message's content and sets the edited flag.
func (s *SQLiteStore) ApplyEdit(ctx context.Context, id int64, content string, editedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, edited = 1, edited_at = ?
		 WHERE id = ? AND deleted_at IS NULL`, content, editedAt, id)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	return requireRow(res)
}

// ApplyDelete tombstones a message: content is cleared, the row remains so
// the ID stays claimed and replies keep a stable target.
func (s *SQLiteStore) ApplyDelete(ctx context.Context, id int64, deletedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = '', attachment_url = '', deleted_at = ?
		 WHERE id = ? AND deleted_at IS NULL`, deletedAt, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return requireRow(res)
}

// SetPinned flips the pin flag on a message.
func (s *SQLiteStore) SetPinned(ctx context.Context, id int64, pinned bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET pinned = ? WHERE id = ? AND deleted_at IS NULL`,
		boolToInt(pinned), id)
	if err != nil {
		return fmt.Errorf("pinning message: %w", err)
	}
	return requireRow(res)
}

// ToggleReaction adds the (user, emoji) reaction if absent, removes it if
// present. Returns true if the reaction was added.
func (s *SQLiteStore) ToggleReaction(ctx context.Context, messageID int64, userID, emoji string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("removing reaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking reaction removal: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)`,
		messageID, userID, emoji, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("adding reaction: %w", err)
	}
	return true, nil
}

// MessageReactions returns the per-emoji aggregates for a message, ordered
// by first reaction time so client ordering is stable.
func (s *SQLiteStore) MessageReactions(ctx context.Context, messageID int64) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT emoji, user_id FROM reactions WHERE message_id = ? ORDER BY created_at, user_id`,
		messageID)
	if err != nil {
		return nil, fmt.Errorf("querying reactions: %w", err)
	}
	defer rows.Close()

	var order []string
	byEmoji := make(map[string]*Reaction)
	for rows.Next() {
		var emoji, userID string
		if err := rows.Scan(&emoji, &userID); err != nil {
			return nil, fmt.Errorf("scanning reaction: %w", err)
		}
		agg, ok := byEmoji[emoji]
		if !ok {
			agg = &Reaction{Emoji: emoji}
			byEmoji[emoji] = agg
			order = append(order, emoji)
		}
		agg.Count++
		agg.Users = append(agg.Users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reactions := make([]Reaction, 0, len(order))
	for _, emoji := range order {
		reactions = append(reactions, *byEmoji[emoji])
	}
	return reactions, nil
}

// MarkRead records that a user has read a message. Idempotent.
func (s *SQLiteStore) MarkRead(ctx context.Context, messageID int64, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO read_receipts (message_id, room_id, user_id, read_at)
		 VALUES (?, ?, ?, ?)`,
		messageID, roomID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	return nil
}

// LastReadMessage returns, per user, the highest message ID that user has
// read in the room. Used by clients to render read markers lazily.
func (s *SQLiteStore) LastReadMessage(ctx context.Context, roomID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, MAX(message_id) FROM read_receipts WHERE room_id = ? GROUP BY user_id`,
		roomID)
	if err != nil {
		return nil, fmt.Errorf("querying read receipts: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var userID string
		var messageID int64
		if err := rows.Scan(&userID, &messageID); err != nil {
			return nil, fmt.Errorf("scanning read receipt: %w", err)
		}
		result[userID] = messageID
	}
	return result, rows.Err()
}

// IncrementUnread bumps the per-(user, room) unread counter.
func (s *SQLiteStore) IncrementUnread(ctx context.Context, userID, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unread_counts (user_id, room_id, count) VALUES (?, ?, 1)
		 ON CONFLICT (user_id, room_id) DO UPDATE SET count = count + 1`,
		userID, roomID)
	if err != nil {
		return fmt.Errorf("incrementing unread: %w", err)
	}
	return nil
}

// ClearUnread resets the per-(user, room) unread counter.
func (s *SQLiteStore) ClearUnread(ctx context.Context, userID, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM unread_counts WHERE user_id = ? AND room_id = ?`, userID, roomID)
	if err != nil {
		return fmt.Errorf("clearing unread: %w", err)
	}
	return nil
}

// UnreadCounts returns all non-zero unread counters for a user, keyed by room.
func (s *SQLiteStore) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, count FROM unread_counts WHERE user_id = ? AND count > 0`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying unread counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var roomID string
		var count int
		if err := rows.Scan(&roomID, &count); err != nil {
			return nil, fmt.Errorf("scanning unread count: %w", err)
		}
		counts[roomID] = count
	}
	return counts, rows.Err()
}

// attachAnnotations loads reaction aggregates and readers onto a message.
func (s *SQLiteStore) attachAnnotations(ctx context.Context, msg *Message) error {
	reactions, err := s.MessageReactions(ctx, msg.ID)
	if err != nil {
		return err
	}
	msg.Reactions = reactions

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM read_receipts WHERE message_id = ? ORDER BY read_at`, msg.ID)
	if err != nil {
		return fmt.Errorf("querying readers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return fmt.Errorf("scanning reader: %w", err)
		}
		msg.ReadBy = append(msg.ReadBy, userID)
	}
	return rows.Err()
}

func scanMessage(sc scanner) (*Message, error) {
	var msg Message
	var edited, pinned int
	var replyTo sql.NullInt64
	var editedAt sql.NullTime
	if err := sc.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName,
		&msg.Content, &msg.AttachmentURL, &replyTo, &edited, &pinned,
		&msg.CreatedAt, &editedAt); err != nil {
		return nil, err
	}
	msg.Edited = edited != 0
	msg.Pinned = pinned != 0
	if replyTo.Valid {
		msg.ReplyTo = &replyTo.Int64
	}
	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}
	return &msg, nil
}

// requireRow converts a zero-rows-affected update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
