package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	// ErrValidation covers every malformed inbound request.
	// It is reported to the originating connection only.
	ErrValidation           = fmt.Errorf("validation failed")
	ErrEmptyContent         = fmt.Errorf("%w: content is empty", ErrValidation)
	ErrContentTooLong       = fmt.Errorf("%w: content is too long", ErrValidation)
	ErrMissingConversation  = fmt.Errorf("%w: conversation id is missing", ErrValidation)
	ErrMissingUser          = fmt.Errorf("%w: user id is missing", ErrValidation)
	ErrIdentityMismatch     = fmt.Errorf("%w: user id does not match the connection identity", ErrValidation)
	ErrNotAnnounced         = fmt.Errorf("%w: connection has not announced a user", ErrValidation)
	ErrUnknownEvent         = fmt.Errorf("%w: unknown event", ErrValidation)
	ErrMalformedFrame       = fmt.Errorf("%w: malformed frame", ErrValidation)
	ErrNotParticipant       = fmt.Errorf("%w: user is not a participant of the conversation", ErrValidation)
	ErrConversationNotFound = fmt.Errorf("%w: conversation not found", ErrValidation)

	// ErrPersistence wraps any storage failure.
	ErrPersistence   = fmt.Errorf("persistence failed")
	ErrUserNotFound  = fmt.Errorf("user not found")
	ErrDuplicateRow  = fmt.Errorf("%w: status row already exists", ErrPersistence)
	ErrUnknownStatus = fmt.Errorf("unknown message status")

	ErrInvalidToken = fmt.Errorf("invalid or expired token")
	ErrLaneClosed   = fmt.Errorf("conversation lane closed")

	ErrSlowConsumer     = fmt.Errorf("connection buffer full")
	ErrConnectionClosed = fmt.Errorf("connection closed")
)

// Persistence wraps a storage error so that callers can match ErrPersistence
// while keeping the underlying cause in the chain.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

func IsValidation(err error) bool { return stderrors.Is(err, ErrValidation) }

func IsPersistence(err error) bool { return stderrors.Is(err, ErrPersistence) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// ToWire returns the message shown to a client for a failed operation.
// Storage details never leave the process.
func ToWire(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return err.Error()
	case IsPersistence(err):
		return ErrPersistence.Error()
	default:
		return "internal error"
	}
}
