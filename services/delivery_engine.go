package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Sanitizer rewrites message content before it is stored.
type Sanitizer interface {
	Sanitize(content string) (sanitized string, words []string, lang string)
}

// Serializer runs fn after every earlier job of the same conversation.
type Serializer interface {
	Do(ctx context.Context, conversationID domain.ConversationID, fn func(ctx context.Context) error) error
}

type SubmitCommand struct {
	ConversationID domain.ConversationID
	SenderID       domain.UserID
	Content        string
	CorrelationID  string
}

// DeliveryEngine accepts a message, stores it with one status row per
// participant, pushes it to the conversation room and acknowledges the sender.
type DeliveryEngine struct {
	log              *slog.Logger
	gateway          contract.Gateway
	registry         contract.IRegistry
	tracker          *StatusTracker
	lanes            Serializer
	sanitizer        Sanitizer
	metrics          *observability.Metrics
	maxContentLength int
}

func NewDeliveryEngine(
	log *slog.Logger,
	gateway contract.Gateway,
	registry contract.IRegistry,
	tracker *StatusTracker,
	lanes Serializer,
	sanitizer Sanitizer,
	metrics *observability.Metrics,
	maxContentLength int,
) *DeliveryEngine {
	return &DeliveryEngine{
		log:              log,
		gateway:          gateway,
		registry:         registry,
		tracker:          tracker,
		lanes:            lanes,
		sanitizer:        sanitizer,
		metrics:          metrics,
		maxContentLength: maxContentLength,
	}
}

// Submit runs the whole pipeline on the conversation lane so that the room
// sees messages in the order they were stored.
// Any failure before the broadcast is reported to the submitting handle only,
// as a message-error carrying the correlation id.
func (e *DeliveryEngine) Submit(ctx context.Context, handle contract.Handle, cmd SubmitCommand) (domain.Message, error) {
	start := time.Now()
	defer e.metrics.ObserveSubmit(start)

	var message domain.Message
	err := e.validate(cmd)
	if err == nil {
		err = e.lanes.Do(ctx, cmd.ConversationID, func(ctx context.Context) error {
			var err error
			message, err = e.persist(ctx, cmd)
			if err != nil {
				return err
			}
			e.broadcast(ctx, message, cmd.CorrelationID)
			return nil
		})
	}

	if err != nil {
		e.reject(ctx, handle, cmd, err)
		return domain.Message{}, err
	}

	e.metrics.Submitted("ok")
	ack := event.MessageSent{CorrelationID: cmd.CorrelationID, MessageID: message.ID}
	if err := handle.Send(ctx, ack); err != nil {
		e.log.Warn("Failed to acknowledge message", "message_id", message.ID, "error", err)
	}
	return message, nil
}

func (e *DeliveryEngine) validate(cmd SubmitCommand) error {
	switch {
	case cmd.ConversationID == "":
		return errors.ErrMissingConversation
	case cmd.SenderID == "":
		return errors.ErrMissingUser
	case strings.TrimSpace(cmd.Content) == "":
		return errors.ErrEmptyContent
	case e.maxContentLength > 0 && utf8.RuneCountInString(cmd.Content) > e.maxContentLength:
		return errors.ErrContentTooLong
	}
	return nil
}

// persist writes the message, its status rows and the conversation bump
// in one unit of work.
func (e *DeliveryEngine) persist(ctx context.Context, cmd SubmitCommand) (domain.Message, error) {
	content := cmd.Content
	if e.sanitizer != nil {
		sanitized, words, lang := e.sanitizer.Sanitize(content)
		if len(words) > 0 {
			e.log.Debug("Message censored",
				"conversation_id", cmd.ConversationID,
				"sender_id", cmd.SenderID,
				"lang", lang,
				"words", len(words))
			e.metrics.RecordCensored(lang, len(words))
		}
		content = sanitized
	}

	var message domain.Message
	err := e.gateway.RunInTx(ctx, func(tx contract.Tx) error {
		participants, err := tx.FindParticipants(ctx, cmd.ConversationID)
		if err != nil {
			return err
		}
		if !domain.HasParticipant(participants, cmd.SenderID) {
			return errors.ErrNotParticipant
		}
		message, err = tx.CreateMessage(ctx, cmd.ConversationID, cmd.SenderID, content)
		if err != nil {
			return err
		}
		assignments := e.tracker.InitialStatuses(participants, cmd.SenderID)
		if err := tx.CreateStatusRows(ctx, message, assignments); err != nil {
			return err
		}
		return tx.TouchConversation(ctx, cmd.ConversationID, message.CreatedAt)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// broadcast pushes new-message to every handle of the room.
// A failed push is logged only; the recipient recovers it on reconnection.
func (e *DeliveryEngine) broadcast(ctx context.Context, message domain.Message, correlationID string) {
	sender, err := e.gateway.FindUser(ctx, message.SenderID)
	if err != nil {
		e.log.Debug("Sender profile unavailable", "user_id", message.SenderID, "error", err)
		sender = domain.User{ID: message.SenderID, Name: string(message.SenderID)}
	}

	payload := event.FromView(domain.StatusView{
		Row:     domain.StatusRow{Status: domain.StatusSent},
		Message: message,
		Sender:  sender,
	})
	payload.CorrelationID = correlationID

	for _, h := range e.registry.RoomHandles(message.ConversationID) {
		err := h.Send(ctx, payload)
		e.metrics.Pushed(err)
		if err != nil {
			e.log.Warn("Push failed", "message_id", message.ID, "handle", h.ID(), "error", err)
		}
	}
}

func (e *DeliveryEngine) reject(ctx context.Context, handle contract.Handle, cmd SubmitCommand, err error) {
	outcome := "failed"
	if errors.IsValidation(err) {
		outcome = "rejected"
	}
	e.metrics.Submitted(outcome)
	e.log.Warn("Message rejected",
		"conversation_id", cmd.ConversationID,
		"user_id", cmd.SenderID,
		"correlation_id", cmd.CorrelationID,
		"error", err)

	reply := event.MessageError{Error: errors.ToWire(err), CorrelationID: cmd.CorrelationID}
	if sendErr := handle.Send(ctx, reply); sendErr != nil {
		e.log.Warn("Failed to report message error", "error", sendErr)
	}
}
