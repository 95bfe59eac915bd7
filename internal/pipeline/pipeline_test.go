// ABOUTME: Tests for the message pipeline
// ABOUTME: Covers validation, ordering, authorization, and persistence failure handling

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallwayapp/hallway/internal/auth"
	"github.com/hallwayapp/hallway/internal/protocol"
	"github.com/hallwayapp/hallway/internal/registry"
	"github.com/hallwayapp/hallway/internal/room"
	"github.com/hallwayapp/hallway/internal/snowflake"
	"github.com/hallwayapp/hallway/internal/store"
)

type fixture struct {
	store    *store.MockStore
	rooms    *room.Directory
	registry *registry.Registry
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMockStore()
	d := room.New(s, 50, nil)
	reg := registry.New(nil)
	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return &fixture{
		store:    s,
		rooms:    d,
		registry: reg,
		pipeline: New(s, d, reg, nil, ids, nil),
	}
}

func (f *fixture) join(t *testing.T, roomID, userID string) *registry.Conn {
	t.Helper()
	conn := registry.NewConn(nil, auth.Identity{
		UserID:      userID,
		DisplayName: "User " + userID,
		Role:        auth.RoleCollaborator,
	}, 32, nil)
	require.NoError(t, f.registry.Admit(conn))
	_, err := f.rooms.Join(context.Background(), roomID, conn, nil)
	require.NoError(t, err)
	return conn
}

func (f *fixture) seedRoom(t *testing.T, id string, members ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateRoom(ctx, &store.Room{
		ID: id, Name: id, CreatedBy: "seed",
	}))
	for _, m := range members {
		require.NoError(t, f.store.AddMember(ctx, id, m))
	}
}

func alice() auth.Identity {
	return auth.Identity{UserID: "alice", DisplayName: "Alice", Role: auth.RoleCollaborator}
}

// nextEvent pops one queued event from a connection, failing if none is pending.
func nextEvent(t *testing.T, conn *registry.Conn) protocol.Event {
	t.Helper()
	select {
	case data := <-conn.Outbound():
		event, err := protocol.DecodeEvent(data)
		require.NoError(t, err)
		return event
	default:
		t.Fatal("expected a queued event")
		return nil
	}
}

func assertNoEvent(t *testing.T, conn *registry.Conn) {
	t.Helper()
	select {
	case data := <-conn.Outbound():
		t.Fatalf("unexpected event queued: %s", data)
	default:
	}
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "general", "alice")
	ctx := context.Background()

	_, err := f.pipeline.Send(ctx, "general", alice(), "", "", nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = f.pipeline.Send(ctx, "general", alice(), "   \t\n", "", nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	// Attachment-only messages are valid.
	msg, err := f.pipeline.Send(ctx, "general", alice(), "", "https://cdn.example/cat.png", nil)
	require.NoError(t, err)
	assert.Empty(t, msg.Content)
	assert.Equal(t, "https://cdn.example/cat.png", msg.AttachmentURL)
}

func TestSend_ReplyMustTargetSameRoom(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "general", "alice")
	f.seedRoom(t, "random", "alice")
	ctx := context.Background()

	parent, err := f.pipeline.Send(ctx, "random", alice(), "over here", "", nil)
	require.NoError(t, err)

	_, err = f.pipeline.Send(ctx, "general", alice(), "replying", "", &parent.ID)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	missing := int64(999)
	_, err = f.pipeline.Send(ctx, "general", alice(), "replying", "", &missing)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	reply, err := f.pipeline.Send(ctx, "random", alice(), "replying", "", &parent.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, parent.ID, *reply.ReplyTo)
}

func TestSend_FansOutToAllRoomConnectionsInOrder(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "general")
	ctx := context.Background()

	sender := f.join(t, "general", "alice")
	other := f.join(t, "general", "bob")

	first, err := f.pipeline.Send(ctx, "general", alice(), "one", "", nil)
	require.NoError(t, err)
	second, err := f.pipeline.Send(ctx, "general", alice(), "two", "", nil)
	require.NoError(t, err)

	assert.Less(t, first.ID, second.ID)

	for _, conn := range []*registry.Conn{sender, other} {
		e1 := nextEvent(t, conn).(*protocol.NewMessage)
		e2 := nextEvent(t, conn).(*protocol.NewMessage)
		assert.Equal(t, first.ID, e1.Message.ID)
		assert.Equal(t, second.ID, e2.Message.ID)
	}
}

func TestSend_PersistenceFailureAbortsFanOut(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "general")
	conn := f.join(t, "general", "alice")

	f.store.FailOps["SaveMessage"] = assert.AnError
	_, err := f.pipeline.Send(context.Background(), "general", alice(), "hello", "", nil)
	assert.ErrorIs(t, err, store.ErrPersistenceUnavailable)
	assertNoEvent(t, conn)
}

func TestNonMembersCannotTouchRoom(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "vault", "alice")
	ctx := context.Background()
	conn := f.join(t, "vault", "alice")

	msg, err := f.pipeline.Send(ctx, "vault", alice(), "members only", "", nil)
	require.NoError(t, err)
	nextEvent(t, conn)

	// mallory is authenticated but never joined the room.
	mallory := auth.Identity{UserID: "mallory", DisplayName: "Mallory", Role: auth.RoleCollaborator}
	_, err = f.pipeline.Send(ctx, "vault", mallory, "let me in", "", nil)
	assert.ErrorIs(t, err, ErrForbidden)
	assertNoEvent(t, conn)

	err = f.pipeline.React(ctx, msg.ID, "mallory", "👀")
	assert.ErrorIs(t, err, ErrForbidden)
	assertNoEvent(t, conn)

	err = f.pipeline.MarkRead(ctx, msg.ID, "mallory")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestEdit_SenderOnly(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "general")
	ctx := context.Background()
	conn := f.join(t, "general", "alice")

	msg, err := f.pipeline.Send(ctx, "general", alice(), "draft", "", nil)
	require.NoError(t, err)
	nextEvent(t, conn)

	_, err = f.pipeline.Edit(ctx, msg.ID, "mallory", "hacked")
	assert.ErrorIs(t, err, ErrForbidden)
	assertNoEvent(t, conn)

	updated, err := f.pipeline.Edit(ctx, msg.ID, "alice", "final")
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Content)
	assert.True(t, updated.Edited)

	event := nextEvent(t, conn).(*protocol.MessageUpdated)
	assert.Equal(t, "final", event.Message.Content)
	assert.True(t, event.Message.Edited)
}

func TestEdit_UsesCurrentMembership(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "general", "alice")
	ctx := context.Background()

	msg, err := f.pipeline.Send(ctx, "general", alice(), "before anyone joined", "", nil)
	require.NoError(t, err)

	// Bob joins after the message was sent; he still hears the edit.
	conn := f.join(t, "general", "bob")

	_, err = f.pipeline.Edit(ctx, msg.ID, "alice", "revised")
	require.NoError(t, err)

	event := nextEvent(t, conn).(*protocol.MessageUpdated)
	assert.Equal(t, "revised", event.Message.Content)
}

func TestDelete_SenderOnlyAndIdentifierOnlyEvent(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "general")
	ctx := context.Background()
	conn := f.join(t, "general", "alice")

	msg, err := f.pipeline.Send(ctx, "general", alice(), "oops", "", nil)
	require.NoError(t, err)
	nextEvent(t, conn)

	err = f.pipeline.Delete(ctx, msg.ID, "mallory")
	assert.ErrorIs(t, err, ErrForbidden)
	assertNoEvent(t, conn)

	require.NoError(t, f.pipeline.Delete(ctx, msg.ID, "alice"))

	event := nextEvent(t, conn).(*protocol.MessageDeleted)
	assert.Equal(t, "general", event.RoomID)
	assert.Equal(t, msg.ID, event.MessageID)
}

func TestReact_FansOutFullAggregate(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "general", "bob")
	ctx := context.Background()
	conn := f.join(t, "general", "alice")

	msg, err := f.pipeline.Send(ctx, "general", alice(), "reaction bait", "", nil)
	require.NoError(t, err)
	nextEvent(t, conn)

	err = f.pipeline.React(ctx, msg.ID, "bob", "")
	assert.ErrorIs(t, err, ErrInvalidMessage)

	require.NoError(t, f.pipeline.React(ctx, msg.ID, "bob", "🔥"))
	event := nextEvent(t, conn).(*protocol.MessageReaction)
	require.Len(t, event.Reactions, 1)
	assert.Equal(t, "🔥", event.Reactions[0].Emoji)
	assert.Equal(t, []string{"bob"}, event.Reactions[0].Users)

	// Toggling off removes the entry from the aggregate.
	require.NoError(t, f.pipeline.React(ctx, msg.ID, "bob", "🔥"))
	event = nextEvent(t, conn).(*protocol.MessageReaction)
	assert.Empty(t, event.Reactions)
}

func TestMarkRead_OnlyReadersConnectionsHear(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "general")
	ctx := context.Background()

	aliceConn := f.join(t, "general", "alice")
	bobConn := f.join(t, "general", "bob")

	msg, err := f.pipeline.Send(ctx, "general", alice(), "read me", "", nil)
	require.NoError(t, err)
	nextEvent(t, aliceConn)
	nextEvent(t, bobConn)

	require.NoError(t, f.pipeline.MarkRead(ctx, msg.ID, "bob"))

	event := nextEvent(t, bobConn).(*protocol.ReadReceipt)
	assert.Equal(t, msg.ID, event.MessageID)
	assert.Equal(t, "bob", event.UserID)
	assertNoEvent(t, aliceConn)
}

func TestPin_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "general")
	ctx := context.Background()
	conn := f.join(t, "general", "alice")

	msg, err := f.pipeline.Send(ctx, "general", alice(), "pin me", "", nil)
	require.NoError(t, err)
	nextEvent(t, conn)

	err = f.pipeline.Pin(ctx, msg.ID, alice(), true)
	assert.ErrorIs(t, err, ErrForbidden)

	owner := auth.Identity{UserID: "olive", DisplayName: "Olive", Role: auth.RoleOwner}
	require.NoError(t, f.pipeline.Pin(ctx, msg.ID, owner, true))

	event := nextEvent(t, conn).(*protocol.MessagePinned)
	assert.True(t, event.Pinned)
	assert.Equal(t, msg.ID, event.Message.ID)

	pinned := f.rooms.Pinned("general")
	require.NotNil(t, pinned)
	assert.Equal(t, msg.ID, pinned.ID)

	require.NoError(t, f.pipeline.Pin(ctx, msg.ID, owner, false))
	nextEvent(t, conn)
	assert.Nil(t, f.rooms.Pinned("general"))
}

func TestDelete_ClearsPinnedCache(t *testing.T) {
	f := newFixture(t)
	f.seedRoom(t, "general", "alice")
	ctx := context.Background()

	msg, err := f.pipeline.Send(ctx, "general", alice(), "pinned then gone", "", nil)
	require.NoError(t, err)

	owner := auth.Identity{UserID: "olive", DisplayName: "Olive", Role: auth.RoleOwner}
	require.NoError(t, f.pipeline.Pin(ctx, msg.ID, owner, true))
	require.NoError(t, f.pipeline.Delete(ctx, msg.ID, "alice"))
	assert.Nil(t, f.rooms.Pinned("general"))
}
