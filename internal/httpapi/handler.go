package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agentworkforce/relaycollab/internal/collab"
	"github.com/agentworkforce/relaycollab/internal/protocol"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

var (
	errConnectionClosed = errors.New("connection closed")
	errIdleTimeout      = errors.New("idle timeout")
)

// handleRoomSocket runs one collaboration session from upgrade to teardown.
func (s *Server) handleRoomSocket(w http.ResponseWriter, r *http.Request, room string, principal Principal, correlationID string) {
	if _, err := s.docs.Ensure(room, func() (string, error) {
		return s.loadSeed(r.Context(), room)
	}); err != nil {
		s.logger.Printf("seed room %s failed: %v", room, err)
		writeError(w, http.StatusBadGateway, "seed_unavailable", "failed to load room seed", correlationID)
		return
	}

	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.logger.Printf("websocket accept for room %s failed: %v", room, err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxFrameBytes)

	session := s.sessions.Create(room, principal.UserID, collab.NewOutbox(s.cfg.OutboxLimit, s.cfg.OutboxPolicy))
	s.logger.Printf("session %s joined room %s as %s", session.ID, room, session.UserID)
	defer s.teardown(session)

	s.broadcast(room, protocol.UserJoined(session.UserID, room), session.ID)
	text, version, cursors, _, err := s.docs.Snapshot(room, 0)
	if err != nil {
		s.logger.Printf("session %s: snapshot room %s failed: %v", session.ID, room, err)
		conn.Close(websocket.StatusInternalError, "room unavailable")
		return
	}
	s.send(session, protocol.SyncResponse(room, text, version, nil, cursors))

	err = s.serveSession(r.Context(), conn, session)
	switch {
	case session.Outbox.Overflowed():
		s.logger.Printf("session %s: outbox overflow, disconnected", session.ID)
	case errors.Is(err, errIdleTimeout):
		s.logger.Printf("session %s: idle timeout", session.ID)
		conn.CloseNow()
	case err == nil || errors.Is(err, errConnectionClosed):
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		s.logger.Printf("session %s ended: %v", session.ID, err)
		conn.CloseNow()
	}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	for _, origin := range s.cfg.AllowedOrigins {
		if origin == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins}
}

// serveSession runs the read loop, the outbox relay and the heartbeat until
// one of them stops.
func (s *Server) serveSession(ctx context.Context, conn *websocket.Conn, session *collab.Session) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.readLoop(ctx, conn, session)
	})
	group.Go(func() error {
		return s.relayOutbox(ctx, conn, session)
	})
	if s.cfg.PingInterval > 0 {
		group.Go(func() error {
			return s.heartbeat(ctx, conn)
		})
	}
	return group.Wait()
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, session *collab.Session) error {
	for {
		readCtx := ctx
		cancel := context.CancelFunc(func() {})
		if s.cfg.IdleTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.cfg.IdleTimeout)
		}
		messageType, data, err := conn.Read(readCtx)
		idle := errors.Is(readCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		if err != nil {
			if idle {
				return errIdleTimeout
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errConnectionClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		if messageType != websocket.MessageText {
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.logger.Printf("session %s: dropping malformed frame: %v", session.ID, err)
			continue
		}
		s.dispatch(session, msg)
	}
}

func (s *Server) relayOutbox(ctx context.Context, conn *websocket.Conn, session *collab.Session) error {
	for {
		frame, ok := session.Outbox.Dequeue(ctx)
		if !ok {
			if session.Outbox.Overflowed() {
				conn.Close(websocket.StatusPolicyViolation, "outbox overflow")
				return collab.ErrOutboxOverflow
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errConnectionClosed
		}
		writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
}

func (s *Server) heartbeat(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// dispatch applies one inbound frame. The principal's user id and the
// session's room always win over ids carried in the frame.
func (s *Server) dispatch(session *collab.Session, msg protocol.Message) {
	room := session.RoomID
	user := session.UserID
	switch msg.Type {
	case protocol.TypeCursorMove:
		if err := s.docs.UpdateCursor(room, user, *msg.Position); err != nil {
			s.sendError(session, err)
			return
		}
		s.broadcast(room, protocol.CursorMove(user, room, *msg.Position), session.ID)

	case protocol.TypeContentUpdate:
		version, err := s.docs.ReplaceContent(room, msg.Content, session.ID)
		if err != nil {
			s.sendError(session, err)
			return
		}
		s.broadcast(room, protocol.SyncResponse(room, msg.Content, version, nil, nil), session.ID)

	case protocol.TypeOperation:
		transformed, _, version, err := s.docs.TransformAndApply(room, *msg.Operation, msg.Version, session.ID)
		if err != nil {
			s.logger.Printf("session %s: operation %s at v%d rejected: %v", session.ID, msg.Operation, msg.Version, err)
			s.sendError(session, err)
			return
		}
		s.broadcast(room, protocol.OperationAck(user, room, transformed, version), "")

	case protocol.TypeSyncRequest:
		text, version, cursors, records, err := s.docs.Snapshot(room, msg.Version)
		if err != nil {
			s.sendError(session, err)
			return
		}
		s.send(session, protocol.SyncResponse(room, text, version, records, cursors))

	default:
		if !msg.Type.ClientOriginated() {
			s.logger.Printf("session %s: dropping server-only %s frame", session.ID, msg.Type)
			return
		}
		s.logger.Printf("session %s: no handler for %s frame", session.ID, msg.Type)
	}
}

// broadcast delivers msg to every session in room except excludeID. A
// failed enqueue affects only that recipient.
func (s *Server) broadcast(room string, msg protocol.Message, excludeID string) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Printf("room %s: encode %s failed: %v", room, msg.Type, err)
		return
	}
	for _, peer := range s.sessions.Get(room) {
		if peer.ID == excludeID {
			continue
		}
		if err := peer.Outbox.Enqueue(frame); err != nil {
			s.logger.Printf("room %s: deliver %s to session %s failed: %v", room, msg.Type, peer.ID, err)
		}
	}
}

func (s *Server) send(session *collab.Session, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Printf("session %s: encode %s failed: %v", session.ID, msg.Type, err)
		return
	}
	if err := session.Outbox.Enqueue(frame); err != nil {
		s.logger.Printf("session %s: deliver %s failed: %v", session.ID, msg.Type, err)
	}
}

func (s *Server) sendError(session *collab.Session, err error) {
	s.send(session, protocol.ErrorMessage(session.RoomID, collab.ErrorCode(err), err.Error()))
}

func (s *Server) teardown(session *collab.Session) {
	session.Outbox.Close()
	if _, ok := s.sessions.Remove(session.ID); !ok {
		return
	}
	if !s.sessions.UserInRoom(session.RoomID, session.UserID) {
		if err := s.docs.RemoveUser(session.RoomID, session.UserID); err != nil {
			s.logger.Printf("session %s: remove cursor failed: %v", session.ID, err)
		}
	}
	s.broadcast(session.RoomID, protocol.UserLeft(session.UserID, session.RoomID), session.ID)
	if dropped := session.Outbox.Dropped(); dropped > 0 {
		s.logger.Printf("session %s left room %s, %d frames dropped", session.ID, session.RoomID, dropped)
		return
	}
	s.logger.Printf("session %s left room %s", session.ID, session.RoomID)
}
