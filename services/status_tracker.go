package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Receipt groups the messages of one sender that changed status together.
type Receipt struct {
	SenderID   domain.UserID
	MessageIDs []uuid.UUID
}

// StatusTracker owns every status transition. Nothing else writes status rows.
type StatusTracker struct {
	log      *slog.Logger
	gateway  contract.Gateway
	registry contract.IRegistry
	metrics  *observability.Metrics
}

func NewStatusTracker(log *slog.Logger, gateway contract.Gateway, registry contract.IRegistry, metrics *observability.Metrics) *StatusTracker {
	return &StatusTracker{log: log, gateway: gateway, registry: registry, metrics: metrics}
}

// InitialStatuses computes the first status of every participant.
// The sender starts at sent. Another participant starts at delivered when
// online at creation time, sent otherwise.
func (t *StatusTracker) InitialStatuses(participants []domain.UserID, senderID domain.UserID) []domain.StatusAssignment {
	return lo.Map(participants, func(userID domain.UserID, _ int) domain.StatusAssignment {
		status := domain.StatusSent
		if userID != senderID && t.registry.IsOnline(userID) {
			status = domain.StatusDelivered
		}
		return domain.StatusAssignment{UserID: userID, Status: status}
	})
}

// MarkDelivered moves every pending row of userID to delivered and returns
// only the rows this call advanced, in message order.
func (t *StatusTracker) MarkDelivered(ctx context.Context, userID domain.UserID) ([]domain.StatusView, error) {
	views, err := t.gateway.FindStatusRows(ctx, contract.StatusQuery{
		UserID:          userID,
		Statuses:        []domain.Status{domain.StatusSent},
		ExcludeSenderID: userID,
	})
	if err != nil {
		return nil, err
	}
	return t.advance(ctx, views, domain.StatusDelivered)
}

// MarkRead moves the unread rows of userID in one conversation to read.
// It returns one receipt per sender whose messages changed.
func (t *StatusTracker) MarkRead(ctx context.Context, userID domain.UserID, conversationID domain.ConversationID) ([]Receipt, error) {
	views, err := t.gateway.FindStatusRows(ctx, contract.StatusQuery{
		UserID:          userID,
		Statuses:        []domain.Status{domain.StatusSent, domain.StatusDelivered},
		ExcludeSenderID: userID,
		ConversationID:  conversationID,
	})
	if err != nil {
		return nil, err
	}
	advanced, err := t.advance(ctx, views, domain.StatusRead)
	if err != nil {
		return nil, err
	}
	return receipts(advanced), nil
}

func (t *StatusTracker) advance(ctx context.Context, views []domain.StatusView, status domain.Status) ([]domain.StatusView, error) {
	if len(views) == 0 {
		return nil, nil
	}
	rowIDs := lo.Map(views, func(v domain.StatusView, _ int) uuid.UUID { return v.Row.ID })
	now := time.Now().UTC()
	advancedIDs, err := t.gateway.UpdateStatus(ctx, rowIDs, status, now)
	if err != nil {
		return nil, err
	}
	t.metrics.RecordTransitions(status, len(advancedIDs))

	moved := lo.SliceToMap(advancedIDs, func(id uuid.UUID) (uuid.UUID, struct{}) { return id, struct{}{} })
	advanced := lo.Filter(views, func(v domain.StatusView, _ int) bool {
		_, ok := moved[v.Row.ID]
		return ok
	})
	for i := range advanced {
		advanced[i].Row.Advance(status, now)
	}
	t.log.Debug("Status rows advanced", "status", status, "asked", len(rowIDs), "advanced", len(advanced))
	return advanced, nil
}

// receipts groups views by sender, keeping the order senders first appear in.
func receipts(views []domain.StatusView) []Receipt {
	bySender := lo.GroupBy(views, func(v domain.StatusView) domain.UserID { return v.Message.SenderID })
	senders := lo.Uniq(lo.Map(views, func(v domain.StatusView, _ int) domain.UserID { return v.Message.SenderID }))
	return lo.Map(senders, func(senderID domain.UserID, _ int) Receipt {
		return Receipt{
			SenderID:   senderID,
			MessageIDs: lo.Map(bySender[senderID], func(v domain.StatusView, _ int) uuid.UUID { return v.Message.ID }),
		}
	})
}
