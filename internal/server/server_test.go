// ABOUTME: Tests for the server orchestrator and per-connection intent dispatch
// ABOUTME: Covers handshake auth, dispatch routing, error codes, and health endpoints

package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallwayapp/hallway/internal/auth"
	"github.com/hallwayapp/hallway/internal/config"
	"github.com/hallwayapp/hallway/internal/protocol"
	"github.com/hallwayapp/hallway/internal/registry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "hallway.db")
	cfg.Auth.JWTSecret = "test-secret"
	cfg.History.Limit = 50
	cfg.Connections.QueueSize = 64
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(testConfig(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func (s *Server) testSession(t *testing.T, userID, role string) (*session, *registry.Conn) {
	t.Helper()
	conn := registry.NewConn(nil, auth.Identity{
		UserID:        userID,
		DisplayName:   "User " + userID,
		Role:          role,
		Notifications: true,
	}, 64, nil)
	require.NoError(t, s.registry.Admit(conn))
	return newSession(s, conn), conn
}

func send(t *testing.T, sess *session, intent protocol.Intent) {
	t.Helper()
	data, err := protocol.EncodeIntent(intent)
	require.NoError(t, err)
	sess.handleRaw(data)
}

// nextEvent pops the next queued event, skipping presence transitions
// from other users connecting so tests assert on what they exercised.
func nextEvent(t *testing.T, conn *registry.Conn) protocol.Event {
	t.Helper()
	for {
		select {
		case data := <-conn.Outbound():
			event, err := protocol.DecodeEvent(data)
			require.NoError(t, err)
			if _, ok := event.(*protocol.UserStatusChange); ok {
				continue
			}
			return event
		default:
			t.Fatal("expected a queued event")
			return nil
		}
	}
}

func TestCreateRoomThenSend(t *testing.T) {
	srv := newTestServer(t)
	sess, conn := srv.testSession(t, "alice", auth.RoleCollaborator)

	send(t, sess, &protocol.CreateRoom{Name: "design", Description: "mockups"})

	joined := nextEvent(t, conn).(*protocol.RoomJoined)
	assert.Equal(t, "design", joined.Room.Name)
	assert.Equal(t, []string{"alice"}, joined.Members)

	history := nextEvent(t, conn).(*protocol.RoomHistory)
	assert.Empty(t, history.Messages)

	// ClearOnJoin pushes a fresh unread snapshot.
	counts := nextEvent(t, conn).(*protocol.UnreadCounts)
	assert.Empty(t, counts.Counts)

	send(t, sess, &protocol.SendMessage{RoomID: joined.Room.ID, Content: "first post"})

	msg := nextEvent(t, conn).(*protocol.NewMessage)
	assert.Equal(t, "first post", msg.Message.Content)
	assert.Equal(t, "alice", msg.Message.SenderID)
	assert.NotZero(t, msg.Message.ID)
}

func TestUnknownIntentYieldsProtocolError(t *testing.T) {
	srv := newTestServer(t)
	sess, conn := srv.testSession(t, "alice", auth.RoleCollaborator)

	sess.handleRaw([]byte(`{"type":"teleport","payload":{}}`))

	event := nextEvent(t, conn).(*protocol.Error)
	assert.Equal(t, "protocol", event.Code)
}

func TestJoinUnknownRoom(t *testing.T) {
	srv := newTestServer(t)
	sess, conn := srv.testSession(t, "alice", auth.RoleCollaborator)

	send(t, sess, &protocol.JoinRoom{RoomID: "missing"})

	event := nextEvent(t, conn).(*protocol.Error)
	assert.Equal(t, "invalid_room_spec", event.Code)
	assert.Equal(t, "join_room", event.Op)
}

func TestViewerCannotWrite(t *testing.T) {
	srv := newTestServer(t)

	owner, ownerConn := srv.testSession(t, "olive", auth.RoleOwner)
	send(t, owner, &protocol.CreateRoom{Name: "general"})
	joined := nextEvent(t, ownerConn).(*protocol.RoomJoined)

	viewer, viewerConn := srv.testSession(t, "vic", auth.RoleViewer)

	send(t, viewer, &protocol.SendMessage{RoomID: joined.Room.ID, Content: "hi"})

	event := nextEvent(t, viewerConn).(*protocol.Error)
	assert.Equal(t, "forbidden", event.Code)
	assert.Equal(t, "send_message", event.Op)
}

func TestNonMemberCannotSendIntoRoom(t *testing.T) {
	srv := newTestServer(t)

	owner, ownerConn := srv.testSession(t, "olive", auth.RoleOwner)
	send(t, owner, &protocol.CreateRoom{Name: "private-plans", Private: true})
	joined := nextEvent(t, ownerConn).(*protocol.RoomJoined)

	// mallory holds a valid token but never joined the room.
	mallory, malloryConn := srv.testSession(t, "mallory", auth.RoleCollaborator)
	send(t, mallory, &protocol.SendMessage{RoomID: joined.Room.ID, Content: "snooping"})

	event := nextEvent(t, malloryConn).(*protocol.Error)
	assert.Equal(t, "forbidden", event.Code)
	assert.Equal(t, "send_message", event.Op)
}

func TestInvalidStatus(t *testing.T) {
	srv := newTestServer(t)
	sess, conn := srv.testSession(t, "alice", auth.RoleCollaborator)

	send(t, sess, &protocol.SetStatus{Status: "sleeping"})

	event := nextEvent(t, conn).(*protocol.Error)
	assert.Equal(t, "protocol", event.Code)
}

func TestTypingRequiresRoomMembership(t *testing.T) {
	srv := newTestServer(t)
	sess, conn := srv.testSession(t, "alice", auth.RoleCollaborator)

	send(t, sess, &protocol.Typing{RoomID: "not-joined"})

	event := nextEvent(t, conn).(*protocol.Error)
	assert.Equal(t, "forbidden", event.Code)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(srv.handleWS))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "?token=not-a-jwt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(srv.handleWS))
	defer ts.Close()

	token, err := srv.verifier.Generate(auth.Identity{
		UserID:        "alice",
		DisplayName:   "Alice",
		Role:          auth.RoleCollaborator,
		Notifications: true,
	}, time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	readEvent := func() protocol.Event {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		event, err := protocol.DecodeEvent(data)
		require.NoError(t, err)
		return event
	}

	// Connect snapshot and the online presence transition arrive first,
	// in either order.
	sawCounts, sawStatus := false, false
	for i := 0; i < 2; i++ {
		switch readEvent().(type) {
		case *protocol.UnreadCounts:
			sawCounts = true
		case *protocol.UserStatusChange:
			sawStatus = true
		}
	}
	assert.True(t, sawCounts, "expected unread snapshot on connect")
	assert.True(t, sawStatus, "expected online presence event")

	payload, err := protocol.EncodeIntent(&protocol.CreateRoom{Name: "general"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, payload))

	event := readEvent()
	joined, ok := event.(*protocol.RoomJoined)
	require.True(t, ok, "expected room_joined, got %T", event)
	assert.Equal(t, "general", joined.Room.Name)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleReady(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}
