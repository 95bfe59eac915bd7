// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	rooms     map[string]*Room               // keyed by room ID
	members   map[string]map[string]bool     // roomID -> userID set
	messages  map[int64]*Message             // keyed by message ID
	roomMsgs  map[string][]int64             // roomID -> message IDs in insert order
	deleted   map[int64]bool                 // tombstoned message IDs
	reactions map[int64]map[string][]string  // messageID -> emoji -> user IDs
	reads     map[int64]map[string]bool      // messageID -> reader set
	readRooms map[string]map[string]int64    // roomID -> userID -> highest read message ID
	unread    map[string]map[string]int      // userID -> roomID -> count

	// FailOps makes the named operations return the given error, letting
	// tests simulate persistence outages.
	FailOps map[string]error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		rooms:     make(map[string]*Room),
		members:   make(map[string]map[string]bool),
		messages:  make(map[int64]*Message),
		roomMsgs:  make(map[string][]int64),
		deleted:   make(map[int64]bool),
		reactions: make(map[int64]map[string][]string),
		reads:     make(map[int64]map[string]bool),
		readRooms: make(map[string]map[string]int64),
		unread:    make(map[string]map[string]int),
		FailOps:   make(map[string]error),
	}
}

func (m *MockStore) failure(op string) error {
	if err, ok := m.FailOps[op]; ok {
		return err
	}
	return nil
}

// CreateRoom stores a new room.
func (m *MockStore) CreateRoom(ctx context.Context, room *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CreateRoom"); err != nil {
		return err
	}
	if _, exists := m.rooms[room.ID]; exists {
		return ErrDuplicateRoom
	}
	r := *room
	m.rooms[r.ID] = &r
	return nil
}

// GetRoom retrieves a room by ID.
func (m *MockStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := *room
	r.MemberCount = len(m.members[id])
	return &r, nil
}

// ListRooms returns all rooms sorted by ID for determinism.
func (m *MockStore) ListRooms(ctx context.Context) ([]*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]*Room, 0, len(m.rooms))
	for id, room := range m.rooms {
		r := *room
		r.MemberCount = len(m.members[id])
		rooms = append(rooms, &r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

// AddMember records persisted membership.
func (m *MockStore) AddMember(ctx context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.members[roomID] == nil {
		m.members[roomID] = make(map[string]bool)
	}
	m.members[roomID][userID] = true
	return nil
}

// RemoveMember removes persisted membership.
func (m *MockStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.members[roomID], userID)
	return nil
}

// ListMembers returns persisted member IDs, sorted.
func (m *MockStore) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var members []string
	for id := range m.members[roomID] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members, nil
}

// IsMember reports persisted membership.
func (m *MockStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.members[roomID][userID], nil
}

// SaveMessage stores a message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("SaveMessage"); err != nil {
		return err
	}
	copied := *msg
	m.messages[copied.ID] = &copied
	m.roomMsgs[copied.RoomID] = append(m.roomMsgs[copied.RoomID], copied.ID)
	return nil
}

// GetMessage retrieves a non-deleted message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.getMessageLocked(id)
}

func (m *MockStore) getMessageLocked(id int64) (*Message, error) {
	msg, ok := m.messages[id]
	if !ok || m.deleted[id] {
		return nil, ErrNotFound
	}
	copied := *msg
	copied.Reactions = m.aggregateLocked(id)
	copied.ReadBy = nil
	var readers []string
	for userID := range m.reads[id] {
		readers = append(readers, userID)
	}
	sort.Strings(readers)
	copied.ReadBy = readers
	return &copied, nil
}

// RoomHistory returns the most recent limit messages in ascending order.
func (m *MockStore) RoomHistory(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("RoomHistory"); err != nil {
		return nil, err
	}

	ids := m.roomMsgs[roomID]
	var live []int64
	for _, id := range ids {
		if !m.deleted[id] {
			live = append(live, id)
		}
	}
	if limit > 0 && len(live) > limit {
		live = live[len(live)-limit:]
	}

	msgs := make([]*Message, 0, len(live))
	for _, id := range live {
		msg, err := m.getMessageLocked(id)
		if err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// ApplyEdit updates content and sets the edited flag.
func (m *MockStore) ApplyEdit(ctx context.Context, id int64, content string, editedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("ApplyEdit"); err != nil {
		return err
	}
	msg, ok := m.messages[id]
	if !ok || m.deleted[id] {
		return ErrNotFound
	}
	msg.Content = content
	msg.Edited = true
	t := editedAt
	msg.EditedAt = &t
	return nil
}

// ApplyDelete tombstones a message.
func (m *MockStore) ApplyDelete(ctx context.Context, id int64, deletedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("ApplyDelete"); err != nil {
		return err
	}
	if _, ok := m.messages[id]; !ok || m.deleted[id] {
		return ErrNotFound
	}
	m.deleted[id] = true
	return nil
}

// SetPinned flips the pin flag.
func (m *MockStore) SetPinned(ctx context.Context, id int64, pinned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok || m.deleted[id] {
		return ErrNotFound
	}
	msg.Pinned = pinned
	return nil
}

// ToggleReaction adds or removes a (user, emoji) reaction.
func (m *MockStore) ToggleReaction(ctx context.Context, messageID int64, userID, emoji string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("ToggleReaction"); err != nil {
		return false, err
	}
	if m.reactions[messageID] == nil {
		m.reactions[messageID] = make(map[string][]string)
	}
	users := m.reactions[messageID][emoji]
	for i, u := range users {
		if u == userID {
			m.reactions[messageID][emoji] = append(users[:i], users[i+1:]...)
			return false, nil
		}
	}
	m.reactions[messageID][emoji] = append(users, userID)
	return true, nil
}

// MessageReactions returns aggregates for a message.
func (m *MockStore) MessageReactions(ctx context.Context, messageID int64) ([]Reaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.aggregateLocked(messageID), nil
}

func (m *MockStore) aggregateLocked(messageID int64) []Reaction {
	byEmoji := m.reactions[messageID]
	if len(byEmoji) == 0 {
		return nil
	}
	emojis := make([]string, 0, len(byEmoji))
	for emoji, users := range byEmoji {
		if len(users) > 0 {
			emojis = append(emojis, emoji)
		}
	}
	sort.Strings(emojis)

	var aggs []Reaction
	for _, emoji := range emojis {
		users := append([]string(nil), byEmoji[emoji]...)
		aggs = append(aggs, Reaction{Emoji: emoji, Count: len(users), Users: users})
	}
	return aggs
}

// MarkRead records a read receipt.
func (m *MockStore) MarkRead(ctx context.Context, messageID int64, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reads[messageID] == nil {
		m.reads[messageID] = make(map[string]bool)
	}
	m.reads[messageID][userID] = true

	if m.readRooms[roomID] == nil {
		m.readRooms[roomID] = make(map[string]int64)
	}
	if messageID > m.readRooms[roomID][userID] {
		m.readRooms[roomID][userID] = messageID
	}
	return nil
}

// LastReadMessage returns the highest read message ID per user for a room.
func (m *MockStore) LastReadMessage(ctx context.Context, roomID string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]int64, len(m.readRooms[roomID]))
	for userID, id := range m.readRooms[roomID] {
		result[userID] = id
	}
	return result, nil
}

// IncrementUnread bumps the per-(user, room) counter.
func (m *MockStore) IncrementUnread(ctx context.Context, userID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unread[userID] == nil {
		m.unread[userID] = make(map[string]int)
	}
	m.unread[userID][roomID]++
	return nil
}

// ClearUnread resets the per-(user, room) counter.
func (m *MockStore) ClearUnread(ctx context.Context, userID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.unread[userID], roomID)
	return nil
}

// UnreadCounts returns all non-zero counters for a user.
func (m *MockStore) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(m.unread[userID]))
	for roomID, count := range m.unread[userID] {
		if count > 0 {
			counts[roomID] = count
		}
	}
	return counts, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
