// Package domain contains core concepts of the chat system.
// This file defines Message and the identifiers it refers to.
// Messages are immutable once created; only their status rows change.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type UserID string

type ConversationID string

// Message represents an immutable chat message.
// Seq is assigned by storage and orders messages created at the same instant.
type Message struct {
	ID             uuid.UUID
	ConversationID ConversationID
	SenderID       UserID
	Content        string
	CreatedAt      time.Time
	Seq            int64
}

// Before reports whether m was created before other.
func (m Message) Before(other Message) bool {
	if m.Seq != other.Seq {
		return m.Seq < other.Seq
	}
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID.String() < other.ID.String()
}
