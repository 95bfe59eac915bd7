// ABOUTME: Maps room IDs to live member connections and per-room ephemeral state
// ABOUTME: Each room carries its own serialization point so ordering is room-scoped

package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hallwayapp/hallway/internal/protocol"
	"github.com/hallwayapp/hallway/internal/registry"
	"github.com/hallwayapp/hallway/internal/store"
)

// ErrInvalidRoomSpec is returned when a create-room request fails
// validation. Non-fatal; surfaced to the caller only.
var ErrInvalidRoomSpec = errors.New("invalid room spec")

// ErrRoomNotFound is returned when operating on a room that does not exist.
var ErrRoomNotFound = errors.New("room not found")

// maxRoomNameLen bounds the display name of a room.
const maxRoomNameLen = 64

// Spec describes a room to create.
type Spec struct {
	Name        string
	Description string
	Private     bool
}

// JoinResult is what a joining connection receives: room metadata, the
// bounded history replay, and the lazily queried read map.
type JoinResult struct {
	Room     *store.Room
	Members  []string
	History  []*store.Message
	LastRead map[string]int64
	Pinned   *store.Message
}

// state is the per-room live bookkeeping.
type state struct {
	// ser is the room's serialization point: joins and message pipeline
	// operations for one room run one at a time, which is what gives the
	// room its per-room total order. Cross-room operations acquire and
	// release sequentially, never two at once.
	ser sync.Mutex

	// mu guards the live-connection set and pinned cache.
	mu     sync.RWMutex
	conns  map[string]*registry.Conn
	pinned *store.Message
	pinnedLoaded bool
}

// BroadcastObserver receives fan-out volume and drop counts. Satisfied by
// the metrics package.
type BroadcastObserver interface {
	FanOut(events int)
	ConnectionDropped()
}

// Directory maps room identifiers to live state. It caches liveness only;
// the store owns rooms, membership, and content.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*state

	store        store.Store
	historyLimit int
	logger       *slog.Logger
	observer     BroadcastObserver
}

// SetObserver wires an optional broadcast observer. Must be called before
// any traffic flows.
func (d *Directory) SetObserver(o BroadcastObserver) {
	d.observer = o
}

// New creates a Directory backed by the given store. historyLimit bounds
// how many messages a join replays.
func New(s store.Store, historyLimit int, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Directory{
		rooms:        make(map[string]*state),
		store:        s,
		historyLimit: historyLimit,
		logger:       logger.With("component", "rooms"),
	}
}

// state returns the live state for a room, creating it lazily.
func (d *Directory) state(roomID string) *state {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.rooms[roomID]
	if !ok {
		st = &state{conns: make(map[string]*registry.Conn)}
		d.rooms[roomID] = st
	}
	return st
}

// Create registers a new room with the creator as sole persisted member.
func (d *Directory) Create(ctx context.Context, spec Spec, creatorID string) (*store.Room, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidRoomSpec)
	}
	if utf8.RuneCountInString(spec.Name) > maxRoomNameLen {
		return nil, fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRoomSpec, maxRoomNameLen)
	}

	room := &store.Room{
		ID:          uuid.New().String(),
		Name:        spec.Name,
		Description: spec.Description,
		Private:     spec.Private,
		CreatedBy:   creatorID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := d.store.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
	}
	if err := d.store.AddMember(ctx, room.ID, creatorID); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
	}
	room.MemberCount = 1

	d.logger.Info("room created", "room_id", room.ID, "name", room.Name, "created_by", creatorID)
	return room, nil
}

// Join adds the connection to the room's live-member set and returns the
// bounded history replay. Idempotent: joining twice on the same connection
// just returns a fresh snapshot. A non-nil deliver runs with the result
// while the room's serialization point is still held, so a replay enqueued
// there reaches the connection before any concurrent fan-out; a deliver
// error aborts the join.
func (d *Directory) Join(ctx context.Context, roomID string, conn *registry.Conn, deliver func(*JoinResult) error) (*JoinResult, error) {
	room, err := d.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
	}

	st := d.state(roomID)
	st.ser.Lock()
	defer st.ser.Unlock()

	if err := d.store.AddMember(ctx, roomID, conn.UserID); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
	}

	st.mu.Lock()
	st.conns[conn.ID] = conn
	st.mu.Unlock()
	conn.AddRoom(roomID)

	history, err := d.store.RoomHistory(ctx, roomID, d.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
	}
	lastRead, err := d.store.LastReadMessage(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
	}
	members, err := d.store.ListMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
	}

	d.logger.Info("joined room", "room_id", roomID, "user_id", conn.UserID, "conn_id", conn.ID)

	result := &JoinResult{
		Room:     room,
		Members:  members,
		History:  history,
		LastRead: lastRead,
		Pinned:   d.pinnedFromHistory(st, history),
	}
	if deliver != nil {
		if err := deliver(result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// pinnedFromHistory returns the cached pinned message, seeding the cache
// from a history snapshot on first use.
func (d *Directory) pinnedFromHistory(st *state, history []*store.Message) *store.Message {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.pinnedLoaded {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Pinned {
				st.pinned = history[i]
				break
			}
		}
		st.pinnedLoaded = true
	}
	return st.pinned
}

// SetPinned updates the room's pinned message cache.
func (d *Directory) SetPinned(roomID string, msg *store.Message) {
	st := d.state(roomID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pinned = msg
	st.pinnedLoaded = true
}

// Pinned returns the room's cached pinned message, if any.
func (d *Directory) Pinned(roomID string) *store.Message {
	st := d.state(roomID)
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.pinned
}

// Leave removes the connection from the room's live set and drops the
// user's persisted membership. No-op if absent.
func (d *Directory) Leave(ctx context.Context, roomID string, conn *registry.Conn) error {
	st := d.state(roomID)
	st.ser.Lock()
	defer st.ser.Unlock()

	st.mu.Lock()
	delete(st.conns, conn.ID)
	st.mu.Unlock()
	conn.RemoveRoom(roomID)

	if err := d.store.RemoveMember(ctx, roomID, conn.UserID); err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistenceUnavailable, err)
	}

	d.logger.Info("left room", "room_id", roomID, "user_id", conn.UserID, "conn_id", conn.ID)
	return nil
}

// DropConnection removes a dismissed connection from every room it had
// joined. Persisted membership is untouched; the user catches up via
// history replay on reconnect. Implements registry.RoomCleaner.
func (d *Directory) DropConnection(conn *registry.Conn) {
	for _, roomID := range conn.Rooms() {
		st := d.state(roomID)
		st.mu.Lock()
		delete(st.conns, conn.ID)
		st.mu.Unlock()
		conn.RemoveRoom(roomID)
	}
}

// LiveMembers returns the distinct user IDs with at least one live
// connection in the room.
func (d *Directory) LiveMembers(roomID string) []string {
	set := d.LiveUserSet(roomID)
	members := make([]string, 0, len(set))
	for userID := range set {
		members = append(members, userID)
	}
	return members
}

// LiveUserSet returns the live-member user IDs as a set.
func (d *Directory) LiveUserSet(roomID string) map[string]bool {
	st := d.state(roomID)
	st.mu.RLock()
	defer st.mu.RUnlock()

	set := make(map[string]bool, len(st.conns))
	for _, conn := range st.conns {
		set[conn.UserID] = true
	}
	return set
}

// Broadcast fans an event out to every live connection in the room.
// A saturated connection is dropped by Enqueue and never stalls the rest
// of the room.
func (d *Directory) Broadcast(roomID string, event protocol.Event) {
	st := d.state(roomID)
	st.mu.RLock()
	targets := make([]*registry.Conn, 0, len(st.conns))
	for _, conn := range st.conns {
		targets = append(targets, conn)
	}
	st.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Enqueue(event); err != nil {
			d.logger.Warn("fan-out dropped connection",
				"room_id", roomID, "conn_id", conn.ID, "error", err)
			if d.observer != nil {
				d.observer.ConnectionDropped()
			}
		}
	}
	if d.observer != nil {
		d.observer.FanOut(len(targets))
	}
}

// WithRoom runs fn under the room's serialization point. The message
// pipeline uses this so persist-then-fan-out is atomic with respect to
// other operations on the same room.
func (d *Directory) WithRoom(roomID string, fn func() error) error {
	st := d.state(roomID)
	st.ser.Lock()
	defer st.ser.Unlock()
	return fn()
}
