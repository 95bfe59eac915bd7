// ABOUTME: Tests for the room directory
// ABOUTME: Covers create validation, idempotent joins, history replay, fan-out targeting

package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallwayapp/hallway/internal/auth"
	"github.com/hallwayapp/hallway/internal/protocol"
	"github.com/hallwayapp/hallway/internal/registry"
	"github.com/hallwayapp/hallway/internal/store"
)

func newConn(userID string) *registry.Conn {
	return registry.NewConn(nil, auth.Identity{
		UserID:      userID,
		DisplayName: "User " + userID,
		Role:        auth.RoleCollaborator,
	}, 16, nil)
}

func seedRoom(t *testing.T, s *store.MockStore, id string) {
	t.Helper()
	err := s.CreateRoom(context.Background(), &store.Room{
		ID: id, Name: id, CreatedBy: "seed", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedMessage(t *testing.T, s *store.MockStore, id int64, roomID string) {
	t.Helper()
	err := s.SaveMessage(context.Background(), &store.Message{
		ID: id, RoomID: roomID, SenderID: "seed", SenderName: "Seed",
		Content: "msg", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestCreate_Validation(t *testing.T) {
	d := New(store.NewMockStore(), 50, nil)
	ctx := context.Background()

	_, err := d.Create(ctx, Spec{Name: ""}, "alice")
	assert.ErrorIs(t, err, ErrInvalidRoomSpec)

	long := make([]rune, maxRoomNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = d.Create(ctx, Spec{Name: string(long)}, "alice")
	assert.ErrorIs(t, err, ErrInvalidRoomSpec)
}

func TestCreate_CreatorIsSoleMember(t *testing.T) {
	s := store.NewMockStore()
	d := New(s, 50, nil)
	ctx := context.Background()

	room, err := d.Create(ctx, Spec{Name: "design", Description: "mockups"}, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, room.ID)
	assert.Equal(t, 1, room.MemberCount)

	members, err := s.ListMembers(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
}

func TestJoin_UnknownRoom(t *testing.T) {
	d := New(store.NewMockStore(), 50, nil)

	_, err := d.Join(context.Background(), "missing", newConn("alice"), nil)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoin_ReturnsBoundedHistory(t *testing.T) {
	s := store.NewMockStore()
	seedRoom(t, s, "general")
	for i := int64(1); i <= 8; i++ {
		seedMessage(t, s, i, "general")
	}

	d := New(s, 5, nil)
	conn := newConn("alice")

	result, err := d.Join(context.Background(), "general", conn, nil)
	require.NoError(t, err)
	require.Len(t, result.History, 5)
	for i, want := range []int64{4, 5, 6, 7, 8} {
		assert.Equal(t, want, result.History[i].ID)
	}
	assert.True(t, conn.InRoom("general"))
	assert.Contains(t, result.Members, "alice")
}

// A send racing a join must not reach the joining connection ahead of its
// history replay: the deliver callback runs before the serialization point
// is released, so a concurrent WithRoom broadcast queues strictly after it.
func TestJoin_DeliverOrderedBeforeConcurrentBroadcast(t *testing.T) {
	s := store.NewMockStore()
	seedRoom(t, s, "general")
	seedMessage(t, s, 1, "general")

	d := New(s, 50, nil)
	conn := newConn("alice")
	ctx := context.Background()

	var wg sync.WaitGroup
	_, err := d.Join(ctx, "general", conn, func(result *JoinResult) error {
		// Launched while the room is still serialized; its WithRoom
		// blocks until the join completes.
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.WithRoom("general", func() error {
				d.Broadcast("general", &protocol.NewMessage{Message: &store.Message{
					ID: 2, RoomID: "general",
				}})
				return nil
			})
		}()
		return conn.Enqueue(&protocol.RoomHistory{RoomID: "general", Messages: result.History})
	})
	require.NoError(t, err)
	wg.Wait()

	first, err := protocol.DecodeEvent(<-conn.Outbound())
	require.NoError(t, err)
	replay, ok := first.(*protocol.RoomHistory)
	require.True(t, ok, "history replay must arrive first, got %T", first)
	require.Len(t, replay.Messages, 1)

	second, err := protocol.DecodeEvent(<-conn.Outbound())
	require.NoError(t, err)
	live, ok := second.(*protocol.NewMessage)
	require.True(t, ok, "live message must follow the replay, got %T", second)
	assert.Equal(t, int64(2), live.Message.ID)
}

func TestJoin_Idempotent(t *testing.T) {
	s := store.NewMockStore()
	seedRoom(t, s, "general")
	seedMessage(t, s, 1, "general")

	d := New(s, 50, nil)
	conn := newConn("alice")
	ctx := context.Background()

	first, err := d.Join(ctx, "general", conn, nil)
	require.NoError(t, err)
	second, err := d.Join(ctx, "general", conn, nil)
	require.NoError(t, err)

	assert.Equal(t, len(first.History), len(second.History))
	assert.Equal(t, []string{"alice"}, d.LiveMembers("general"))
}

func TestLeave_RemovesLiveAndPersisted(t *testing.T) {
	s := store.NewMockStore()
	seedRoom(t, s, "general")

	d := New(s, 50, nil)
	conn := newConn("alice")
	ctx := context.Background()

	_, err := d.Join(ctx, "general", conn, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, d.LiveMembers("general"))

	require.NoError(t, d.Leave(ctx, "general", conn))
	assert.Empty(t, d.LiveMembers("general"))
	assert.False(t, conn.InRoom("general"))

	ok, err := s.IsMember(ctx, "general", "alice")
	require.NoError(t, err)
	assert.False(t, ok, "leave drops persisted membership")

	// Leaving again is a no-op
	require.NoError(t, d.Leave(ctx, "general", conn))
}

func TestDropConnection_KeepsPersistedMembership(t *testing.T) {
	s := store.NewMockStore()
	seedRoom(t, s, "general")
	seedRoom(t, s, "random")

	d := New(s, 50, nil)
	conn := newConn("alice")
	ctx := context.Background()

	_, err := d.Join(ctx, "general", conn, nil)
	require.NoError(t, err)
	_, err = d.Join(ctx, "random", conn, nil)
	require.NoError(t, err)

	d.DropConnection(conn)

	assert.Empty(t, d.LiveMembers("general"))
	assert.Empty(t, d.LiveMembers("random"))
	assert.Empty(t, conn.Rooms())

	ok, err := s.IsMember(ctx, "general", "alice")
	require.NoError(t, err)
	assert.True(t, ok, "disconnect keeps persisted membership")
}

func TestLiveMembers_DedupesMultiDevice(t *testing.T) {
	s := store.NewMockStore()
	seedRoom(t, s, "general")

	d := New(s, 50, nil)
	ctx := context.Background()

	laptop := newConn("alice")
	phone := newConn("alice")
	_, err := d.Join(ctx, "general", laptop, nil)
	require.NoError(t, err)
	_, err = d.Join(ctx, "general", phone, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice"}, d.LiveMembers("general"))
}

func TestBroadcast_TargetsOnlyRoomConnections(t *testing.T) {
	s := store.NewMockStore()
	seedRoom(t, s, "general")
	seedRoom(t, s, "random")

	d := New(s, 50, nil)
	ctx := context.Background()

	inRoom := newConn("alice")
	elsewhere := newConn("bob")
	_, err := d.Join(ctx, "general", inRoom, nil)
	require.NoError(t, err)
	_, err = d.Join(ctx, "random", elsewhere, nil)
	require.NoError(t, err)

	d.Broadcast("general", &protocol.UserTyping{RoomID: "general", UserID: "carol", IsTyping: true})

	select {
	case data := <-inRoom.Outbound():
		event, err := protocol.DecodeEvent(data)
		require.NoError(t, err)
		assert.IsType(t, &protocol.UserTyping{}, event)
	default:
		t.Fatal("room member received nothing")
	}

	select {
	case <-elsewhere.Outbound():
		t.Fatal("connection outside the room must not receive room events")
	default:
	}
}

func TestBroadcast_SkipsDismissedConnection(t *testing.T) {
	s := store.NewMockStore()
	seedRoom(t, s, "general")

	d := New(s, 50, nil)
	ctx := context.Background()

	stays := newConn("alice")
	leaves := newConn("bob")
	_, err := d.Join(ctx, "general", stays, nil)
	require.NoError(t, err)
	_, err = d.Join(ctx, "general", leaves, nil)
	require.NoError(t, err)

	d.DropConnection(leaves)
	d.Broadcast("general", &protocol.UserTyping{RoomID: "general", UserID: "carol", IsTyping: true})

	select {
	case <-leaves.Outbound():
		t.Fatal("dropped connection must not be targeted")
	default:
	}
	select {
	case <-stays.Outbound():
	default:
		t.Fatal("remaining member should still receive events")
	}
}

func TestPinnedCache(t *testing.T) {
	s := store.NewMockStore()
	seedRoom(t, s, "general")

	d := New(s, 50, nil)
	assert.Nil(t, d.Pinned("general"))

	msg := &store.Message{ID: 7, RoomID: "general", Pinned: true}
	d.SetPinned("general", msg)
	assert.Equal(t, msg, d.Pinned("general"))

	d.SetPinned("general", nil)
	assert.Nil(t, d.Pinned("general"))
}
