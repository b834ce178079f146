//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"log/slog"
)

// IChatService is what a connection handler needs from the core.
type IChatService interface {
	Announce(ctx context.Context, handle contract.Handle, userID domain.UserID) error
	Disconnect(ctx context.Context, handle contract.Handle, userID domain.UserID)
	JoinConversation(ctx context.Context, handle contract.Handle, userID domain.UserID, conversationID domain.ConversationID) error
	LeaveConversation(handle contract.Handle, conversationID domain.ConversationID)
	SendMessage(ctx context.Context, handle contract.Handle, cmd SubmitCommand) error
	MarkRead(ctx context.Context, userID domain.UserID, conversationID domain.ConversationID) error
}

var _ IChatService = (*ChatService)(nil)

type ChatService struct {
	log      *slog.Logger
	gateway  contract.Gateway
	registry contract.IRegistry
	engine   *DeliveryEngine
	tracker  *StatusTracker
	replay   *ReplayService
	presence *PresencePublisher
}

func NewChatService(
	log *slog.Logger,
	gateway contract.Gateway,
	registry contract.IRegistry,
	engine *DeliveryEngine,
	tracker *StatusTracker,
	replay *ReplayService,
	presence *PresencePublisher,
) *ChatService {
	return &ChatService{
		log:      log,
		gateway:  gateway,
		registry: registry,
		engine:   engine,
		tracker:  tracker,
		replay:   replay,
		presence: presence,
	}
}

// Announce binds userID to handle, tells the others and replays the backlog.
// A previous connection of the same user is replaced without notice.
func (s *ChatService) Announce(ctx context.Context, handle contract.Handle, userID domain.UserID) error {
	if userID == "" {
		return errors.ErrMissingUser
	}
	if evicted := s.registry.Register(userID, handle); evicted != nil {
		s.log.Info("Connection replaced", "user_id", userID, "evicted", evicted.ID(), "handle", handle.ID())
	}
	s.presence.Online(ctx, handle, userID)
	return s.replay.Replay(ctx, handle, userID)
}

// Disconnect forgets a closed handle. Offline is only published when handle
// was still the user's current connection.
func (s *ChatService) Disconnect(ctx context.Context, handle contract.Handle, userID domain.UserID) {
	s.registry.Drop(handle)
	if userID == "" {
		return
	}
	if !s.registry.Unregister(userID, handle) {
		s.log.Debug("Stale disconnect ignored", "user_id", userID, "handle", handle.ID())
		return
	}
	s.presence.Offline(ctx, handle, userID)
}

func (s *ChatService) JoinConversation(ctx context.Context, handle contract.Handle, userID domain.UserID, conversationID domain.ConversationID) error {
	if conversationID == "" {
		return errors.ErrMissingConversation
	}
	if userID == "" {
		return errors.ErrNotAnnounced
	}
	participants, err := s.gateway.FindParticipants(ctx, conversationID)
	if err != nil {
		return err
	}
	if !domain.HasParticipant(participants, userID) {
		return errors.ErrNotParticipant
	}
	s.registry.Join(conversationID, handle)
	return nil
}

func (s *ChatService) LeaveConversation(handle contract.Handle, conversationID domain.ConversationID) {
	s.registry.Leave(conversationID, handle)
}

func (s *ChatService) SendMessage(ctx context.Context, handle contract.Handle, cmd SubmitCommand) error {
	_, err := s.engine.Submit(ctx, handle, cmd)
	return err
}

// MarkRead moves the conversation to read for userID and sends one
// messages-read receipt to each online sender.
func (s *ChatService) MarkRead(ctx context.Context, userID domain.UserID, conversationID domain.ConversationID) error {
	if conversationID == "" {
		return errors.ErrMissingConversation
	}
	if userID == "" {
		return errors.ErrMissingUser
	}
	receipts, err := s.tracker.MarkRead(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	for _, receipt := range receipts {
		senderHandle, ok := s.registry.Lookup(receipt.SenderID)
		if !ok {
			continue
		}
		err := senderHandle.Send(ctx, event.MessagesRead{
			MessageIDs:     receipt.MessageIDs,
			ReadBy:         userID,
			ConversationID: conversationID,
		})
		if err != nil {
			s.log.Warn("Read receipt failed", "user_id", receipt.SenderID, "error", err)
		}
	}
	return nil
}
