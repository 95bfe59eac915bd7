// ABOUTME: Per-connection intent dispatch with an exhaustive switch over the closed set
// ABOUTME: Maps the error taxonomy onto wire-level error codes for the offending connection

package server

import (
	"context"
	"errors"

	"github.com/hallwayapp/hallway/internal/auth"
	"github.com/hallwayapp/hallway/internal/pipeline"
	"github.com/hallwayapp/hallway/internal/presence"
	"github.com/hallwayapp/hallway/internal/protocol"
	"github.com/hallwayapp/hallway/internal/registry"
	"github.com/hallwayapp/hallway/internal/room"
	"github.com/hallwayapp/hallway/internal/store"
)

// session binds one live connection to the server's components. It is the
// connection-scoped object intents are dispatched through, so handlers
// never look up the calling connection.
type session struct {
	srv  *Server
	conn *registry.Conn
}

func newSession(srv *Server, conn *registry.Conn) *session {
	return &session{srv: srv, conn: conn}
}

// handleRaw decodes and dispatches one inbound frame. Errors go to this
// connection only; the rest of the room never hears about them.
func (s *session) handleRaw(data []byte) {
	intent, err := protocol.ParseIntent(data)
	if err != nil {
		s.sendError("", "protocol", err)
		return
	}

	op := protocol.IntentName(intent)
	if err := s.dispatch(context.Background(), intent); err != nil {
		s.sendError(op, errorCode(err), err)
	}
}

// dispatch routes a parsed intent. The switch is exhaustive over the
// closed intent set; adding a variant without a case here fails review,
// not runtime.
func (s *session) dispatch(ctx context.Context, intent protocol.Intent) error {
	switch in := intent.(type) {
	case *protocol.JoinRoom:
		return s.joinRoom(ctx, in.RoomID)

	case *protocol.LeaveRoom:
		return s.srv.rooms.Leave(ctx, in.RoomID, s.conn)

	case *protocol.CreateRoom:
		return s.createRoom(ctx, in)

	case *protocol.SendMessage:
		if err := s.requireWriter(); err != nil {
			return err
		}
		_, err := s.srv.pipeline.Send(ctx, in.RoomID, s.identity(), in.Content, in.AttachmentURL, in.ReplyTo)
		if err != nil {
			return err
		}
		// Sending implies the composing burst is over.
		s.srv.typing.Stop(in.RoomID, s.conn.UserID)
		s.countMessage("send")
		return nil

	case *protocol.EditMessage:
		if err := s.requireWriter(); err != nil {
			return err
		}
		if _, err := s.srv.pipeline.Edit(ctx, in.MessageID, s.conn.UserID, in.Content); err != nil {
			return err
		}
		s.countMessage("edit")
		return nil

	case *protocol.DeleteMessage:
		if err := s.requireWriter(); err != nil {
			return err
		}
		if err := s.srv.pipeline.Delete(ctx, in.MessageID, s.conn.UserID); err != nil {
			return err
		}
		s.countMessage("delete")
		return nil

	case *protocol.React:
		if err := s.requireWriter(); err != nil {
			return err
		}
		if err := s.srv.pipeline.React(ctx, in.MessageID, s.conn.UserID, in.Emoji); err != nil {
			return err
		}
		s.countMessage("react")
		return nil

	case *protocol.MarkRead:
		return s.srv.pipeline.MarkRead(ctx, in.MessageID, s.conn.UserID)

	case *protocol.Typing:
		if err := s.requireWriter(); err != nil {
			return err
		}
		if !s.conn.InRoom(in.RoomID) {
			return pipeline.ErrForbidden
		}
		s.srv.typing.Signal(in.RoomID, s.conn.UserID)
		return nil

	case *protocol.SetStatus:
		return s.srv.presence.SetStatus(s.conn.UserID, in.Status)

	case *protocol.PinMessage:
		if err := s.srv.pipeline.Pin(ctx, in.MessageID, s.identity(), in.Pinned); err != nil {
			return err
		}
		s.countMessage("pin")
		return nil
	}
	return protocol.ErrUnknownIntent
}

func (s *session) joinRoom(ctx context.Context, roomID string) error {
	// The replay is enqueued while the room's serialization point is
	// still held, so a concurrent send cannot land ahead of the history
	// snapshot it already contains.
	_, err := s.srv.rooms.Join(ctx, roomID, s.conn, func(result *room.JoinResult) error {
		if err := s.conn.Enqueue(&protocol.RoomJoined{
			Room:    result.Room,
			Members: result.Members,
			Pinned:  result.Pinned,
		}); err != nil {
			return err
		}
		return s.conn.Enqueue(&protocol.RoomHistory{
			RoomID:   roomID,
			Messages: result.History,
			LastRead: result.LastRead,
		})
	})
	if err != nil {
		return err
	}

	s.srv.notify.ClearOnJoin(ctx, roomID, s.conn.UserID)
	return nil
}

func (s *session) createRoom(ctx context.Context, in *protocol.CreateRoom) error {
	if err := s.requireWriter(); err != nil {
		return err
	}
	created, err := s.srv.rooms.Create(ctx, room.Spec{
		Name:        in.Name,
		Description: in.Description,
		Private:     in.Private,
	}, s.conn.UserID)
	if err != nil {
		return err
	}
	// Creating implies joining; the ack carries history (empty) too.
	return s.joinRoom(ctx, created.ID)
}

// requireWriter rejects mutating intents from viewer-role connections.
func (s *session) requireWriter() error {
	if s.conn.Role == auth.RoleViewer {
		return pipeline.ErrForbidden
	}
	return nil
}

func (s *session) identity() auth.Identity {
	return auth.Identity{
		UserID:        s.conn.UserID,
		DisplayName:   s.conn.DisplayName,
		Role:          s.conn.Role,
		Notifications: s.conn.Notifications,
	}
}

func (s *session) countMessage(op string) {
	if s.srv.metrics != nil {
		s.srv.metrics.MessageProcessed(op)
	}
}

func (s *session) sendError(op, code string, err error) {
	if s.srv.metrics != nil {
		s.srv.metrics.IntentRejected(code)
	}
	enqueueErr := s.conn.Enqueue(&protocol.Error{
		Code:   code,
		Detail: err.Error(),
		Op:     op,
	})
	if enqueueErr != nil {
		s.srv.logger.Warn("error event dropped connection",
			"conn_id", s.conn.ID, "error", enqueueErr)
	}
}

// errorCode maps the error taxonomy onto wire-level codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, pipeline.ErrForbidden):
		return "forbidden"
	case errors.Is(err, room.ErrInvalidRoomSpec):
		return "invalid_room_spec"
	case errors.Is(err, room.ErrRoomNotFound):
		return "invalid_room_spec"
	case errors.Is(err, pipeline.ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, store.ErrNotFound):
		return "invalid_message"
	case errors.Is(err, store.ErrPersistenceUnavailable):
		return "persistence_unavailable"
	case errors.Is(err, registry.ErrConnectionSaturated):
		return "connection_saturated"
	case errors.Is(err, presence.ErrInvalidStatus):
		return "protocol"
	default:
		return "protocol"
	}
}
