package domain

import (
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery lifecycle of one message for one recipient.
// It only moves forward: sent -> delivered -> read.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

func (s Status) Valid() bool { return s.rank() > 0 }

// CanAdvanceTo reports whether moving from s to next is a forward transition.
// Staying on the same status or going back is never allowed.
func (s Status) CanAdvanceTo(next Status) bool {
	return s.Valid() && next.Valid() && next.rank() > s.rank()
}

func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", errors.ErrUnknownStatus, s)
	}
	return status, nil
}

// StatusRow is the per (message, user) delivery record.
type StatusRow struct {
	ID          uuid.UUID
	MessageID   uuid.UUID
	UserID      UserID
	Status      Status
	DeliveredAt *time.Time
	ReadAt      *time.Time
	CreatedAt   time.Time
}

// Advance applies a transition to the row. It returns false and leaves the
// row untouched when the transition would not move the status forward.
// Timestamps are only stamped the first time their status is reached.
func (r *StatusRow) Advance(next Status, at time.Time) bool {
	if !r.Status.CanAdvanceTo(next) {
		return false
	}
	switch next {
	case StatusDelivered:
		if r.DeliveredAt == nil {
			r.DeliveredAt = &at
		}
	case StatusRead:
		if r.ReadAt == nil {
			r.ReadAt = &at
		}
	}
	r.Status = next
	return true
}

// StatusAssignment is the initial status computed for a participant when a
// message is created.
type StatusAssignment struct {
	UserID UserID
	Status Status
}

// StatusView is a status row joined with its message and sender.
type StatusView struct {
	Row     StatusRow
	Message Message
	Sender  User
}
