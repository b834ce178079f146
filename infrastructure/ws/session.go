package ws

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/services"
	"chat-relay/sink"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait        = 45 * time.Second
	pingInterval    = (pongWait * 9) / 10
	writeWait       = 10 * time.Second
	maxPayloadBytes = 1 << 20
	disconnectWait  = 5 * time.Second
)

// session is one upgraded connection. Inbound frames are handled one at a
// time by the read loop, so userID needs no lock.
type session struct {
	log      *slog.Logger
	chat     services.IChatService
	codec    Codec
	conn     *websocket.Conn
	sink     *sink.ConnectionSink
	authUser domain.UserID
	userID   domain.UserID
}

func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeLoop(ctx)
	}()

	s.readLoop(ctx)

	disconnectCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), disconnectWait)
	s.chat.Disconnect(disconnectCtx, s.sink, s.userID)
	stop()

	s.sink.Close()
	cancel()
	<-writeDone
	_ = s.conn.Close()
	s.log.Debug("Connection closed", "handle", s.sink.ID(), "user_id", s.userID)
}

func (s *session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(maxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("Unexpected close", "handle", s.sink.ID(), "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(ctx, raw)
	}
}

func (s *session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case <-s.sink.Done():
			return
		case e := <-s.sink.Events():
			payload, err := s.codec.Encode(e)
			if err != nil {
				s.log.Error("Unable to encode event", "event", e.Name(), "error", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				// Unblocks the read loop
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

// handle decodes and dispatches one frame. A panicking handler only fails
// that frame; the connection stays up.
func (s *session) handle(ctx context.Context, raw []byte) {
	frame, err := s.codec.Decode(raw)
	if err != nil {
		s.reject(ctx, "", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Handler panicked", "event", frame.Event, "handle", s.sink.ID(), "panic", fmt.Sprint(r))
			s.reject(ctx, frame.Event, errors.ErrWorkerPanic)
		}
	}()
	if err := s.dispatch(ctx, frame); err != nil {
		s.reject(ctx, frame.Event, err)
	}
}

func (s *session) dispatch(ctx context.Context, frame Frame) error {
	switch frame.Event {
	case event.UserOnline:
		id, err := s.codec.DecodeID(frame.Data, "userId")
		if err != nil {
			return err
		}
		if id == "" {
			return errors.ErrMissingUser
		}
		if err := s.bind(domain.UserID(id)); err != nil {
			return err
		}
		return s.chat.Announce(ctx, s.sink, s.userID)

	case event.JoinConversation:
		id, err := s.codec.DecodeID(frame.Data, "conversationId")
		if err != nil {
			return err
		}
		return s.chat.JoinConversation(ctx, s.sink, s.userID, domain.ConversationID(id))

	case event.LeaveConversation:
		id, err := s.codec.DecodeID(frame.Data, "conversationId")
		if err != nil {
			return err
		}
		if id == "" {
			return errors.ErrMissingConversation
		}
		s.chat.LeaveConversation(s.sink, domain.ConversationID(id))
		return nil

	case event.SendMessage:
		s.send(ctx, frame.Data)
		return nil

	case event.MarkMessagesRead:
		req, err := s.codec.DecodeMarkRead(frame.Data)
		if err != nil {
			return err
		}
		if err := s.identify(domain.UserID(req.UserID)); err != nil {
			return err
		}
		return s.chat.MarkRead(ctx, s.userID, domain.ConversationID(req.ConversationID))

	default:
		return fmt.Errorf("%w: %q", errors.ErrUnknownEvent, frame.Event)
	}
}

// send always answers on the sender connection: the engine acks or rejects
// what it accepted, the rest is rejected here.
func (s *session) send(ctx context.Context, data json.RawMessage) {
	req, err := s.codec.DecodeSend(data)
	if err == nil {
		err = s.identify(domain.UserID(req.SenderID))
	}
	if err != nil {
		if sendErr := s.sink.Send(ctx, event.MessageError{
			Error:         errors.ToWire(err),
			CorrelationID: req.CorrelationID,
		}); sendErr != nil {
			s.log.Debug("Unable to report rejected message", "handle", s.sink.ID(), "error", sendErr)
		}
		return
	}
	err = s.chat.SendMessage(ctx, s.sink, services.SubmitCommand{
		ConversationID: domain.ConversationID(req.ConversationID),
		SenderID:       s.userID,
		Content:        req.Content,
		CorrelationID:  req.CorrelationID,
	})
	if err != nil {
		s.log.Debug("Message rejected", "correlation_id", req.CorrelationID, "error", err)
	}
}

// bind ties the connection to its first announced user.
// With authentication on, that user must be the token subject.
func (s *session) bind(userID domain.UserID) error {
	if s.authUser != "" && userID != s.authUser {
		return errors.ErrIdentityMismatch
	}
	if s.userID != "" && s.userID != userID {
		return errors.ErrIdentityMismatch
	}
	s.userID = userID
	return nil
}

func (s *session) identify(claimed domain.UserID) error {
	if s.userID == "" {
		return errors.ErrNotAnnounced
	}
	if claimed != s.userID {
		return errors.ErrIdentityMismatch
	}
	return nil
}

func (s *session) reject(ctx context.Context, name event.Name, err error) {
	s.log.Debug("Request rejected", "event", name, "handle", s.sink.ID(), "error", err)
	if sendErr := s.sink.Send(ctx, event.Error{Error: errors.ToWire(err), Event: name}); sendErr != nil {
		s.log.Debug("Unable to report rejected request", "handle", s.sink.ID(), "error", sendErr)
	}
}
