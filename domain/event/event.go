// Package event defines the events exchanged with connected clients.
// Inbound names are parsed by the transport; outbound events are typed
// payloads pushed to a connection handle.
package event

import (
	"chat-relay/domain"
	"time"

	"github.com/google/uuid"
)

type Name string

// Client to server.
const (
	JoinConversation  Name = "join-conversation"
	LeaveConversation Name = "leave-conversation"
	SendMessage       Name = "send-message"
	UserOnline        Name = "user-online"
	MarkMessagesRead  Name = "mark-messages-read"
)

// Server to client.
const (
	NewMessageName          Name = "new-message"
	MessageSentName         Name = "message-sent"
	MessageErrorName        Name = "message-error"
	UndeliveredMessagesName Name = "undelivered-messages"
	MessagesDeliveredName   Name = "messages-delivered"
	MessagesReadName        Name = "messages-read"
	UserStatusChangeName    Name = "user-status-change"
	ErrorName               Name = "error"
)

// ServerEvent is any payload pushed to a client.
type ServerEvent interface {
	Name() Name
}

// NewMessage is the canonical message payload used for live broadcast and
// inside replay batches.
type NewMessage struct {
	ID             uuid.UUID             `json:"id"`
	CorrelationID  string                `json:"correlationId,omitempty"`
	ConversationID domain.ConversationID `json:"conversationId"`
	Content        string                `json:"content"`
	SenderID       domain.UserID         `json:"senderId"`
	SenderName     string                `json:"senderName"`
	SenderImage    *string               `json:"senderImage,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
	Status         domain.Status         `json:"status"`
}

func (NewMessage) Name() Name { return NewMessageName }

type MessageSent struct {
	CorrelationID string    `json:"correlationId"`
	MessageID     uuid.UUID `json:"messageId"`
}

func (MessageSent) Name() Name { return MessageSentName }

type MessageError struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId"`
}

func (MessageError) Name() Name { return MessageErrorName }

type UndeliveredMessages struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	Messages       []NewMessage          `json:"messages"`
}

func (UndeliveredMessages) Name() Name { return UndeliveredMessagesName }

type MessagesDelivered struct {
	MessageIDs  []uuid.UUID   `json:"messageIds"`
	DeliveredTo domain.UserID `json:"deliveredTo"`
}

func (MessagesDelivered) Name() Name { return MessagesDeliveredName }

type MessagesRead struct {
	MessageIDs     []uuid.UUID           `json:"messageIds"`
	ReadBy         domain.UserID         `json:"readBy"`
	ConversationID domain.ConversationID `json:"conversationId"`
}

func (MessagesRead) Name() Name { return MessagesReadName }

type UserStatusChange struct {
	UserID   domain.UserID `json:"userId"`
	IsOnline bool          `json:"isOnline"`
}

func (UserStatusChange) Name() Name { return UserStatusChangeName }

// Error reports a rejected request that is not a send-message.
type Error struct {
	Error string `json:"error"`
	Event Name   `json:"event"`
}

func (Error) Name() Name { return ErrorName }

// FromView builds the canonical payload of a stored message.
func FromView(view domain.StatusView) NewMessage {
	return NewMessage{
		ID:             view.Message.ID,
		ConversationID: view.Message.ConversationID,
		Content:        view.Message.Content,
		SenderID:       view.Message.SenderID,
		SenderName:     view.Sender.Name,
		SenderImage:    view.Sender.Image,
		Timestamp:      view.Message.CreatedAt,
		Status:         view.Row.Status,
	}
}
