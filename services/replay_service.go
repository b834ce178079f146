package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"context"
	"log/slog"

	"github.com/samber/lo"
)

// ReplayService pushes what a user missed while offline.
type ReplayService struct {
	log      *slog.Logger
	tracker  *StatusTracker
	registry contract.IRegistry
	metrics  *observability.Metrics
}

func NewReplayService(log *slog.Logger, tracker *StatusTracker, registry contract.IRegistry, metrics *observability.Metrics) *ReplayService {
	return &ReplayService{log: log, tracker: tracker, registry: registry, metrics: metrics}
}

// Replay marks the pending rows of userID as delivered, then sends them to
// handle as one undelivered-messages batch per conversation. Each online
// sender is told which of its messages reached userID.
// Rows already taken by a concurrent replay are not sent twice.
func (s *ReplayService) Replay(ctx context.Context, handle contract.Handle, userID domain.UserID) error {
	views, err := s.tracker.MarkDelivered(ctx, userID)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		return nil
	}
	s.metrics.RecordReplay(len(views))
	s.log.Debug("Replaying backlog", "user_id", userID, "messages", len(views))

	for _, batch := range byConversation(views) {
		err := handle.Send(ctx, batch)
		s.metrics.Pushed(err)
		if err != nil {
			s.log.Warn("Replay push failed", "user_id", userID, "conversation_id", batch.ConversationID, "error", err)
		}
	}

	for _, receipt := range receipts(views) {
		senderHandle, ok := s.registry.Lookup(receipt.SenderID)
		if !ok {
			continue
		}
		err := senderHandle.Send(ctx, event.MessagesDelivered{MessageIDs: receipt.MessageIDs, DeliveredTo: userID})
		s.metrics.Pushed(err)
		if err != nil {
			s.log.Warn("Delivery receipt failed", "user_id", receipt.SenderID, "error", err)
		}
	}
	return nil
}

// byConversation keeps conversations in the order of their first message,
// and messages in creation order inside each batch.
func byConversation(views []domain.StatusView) []event.UndeliveredMessages {
	grouped := lo.GroupBy(views, func(v domain.StatusView) domain.ConversationID { return v.Message.ConversationID })
	order := lo.Uniq(lo.Map(views, func(v domain.StatusView, _ int) domain.ConversationID { return v.Message.ConversationID }))
	return lo.Map(order, func(conversationID domain.ConversationID, _ int) event.UndeliveredMessages {
		return event.UndeliveredMessages{
			ConversationID: conversationID,
			Messages:       lo.Map(grouped[conversationID], func(v domain.StatusView, _ int) event.NewMessage { return event.FromView(v) }),
		}
	})
}
