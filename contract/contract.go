//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Handle is the immutable identity of one live connection.
// Send must not block longer than the handle's own delivery timeout.
type Handle interface {
	ID() uuid.UUID
	Send(ctx context.Context, e event.ServerEvent) error
}

type IRegistry interface {
	Register(userID domain.UserID, handle Handle) (evicted Handle)
	Unregister(userID domain.UserID, handle Handle) bool
	Lookup(userID domain.UserID) (Handle, bool)
	IsOnline(userID domain.UserID) bool
	Join(conversationID domain.ConversationID, handle Handle)
	Leave(conversationID domain.ConversationID, handle Handle)
	RoomHandles(conversationID domain.ConversationID) []Handle
	Drop(handle Handle)
	Others(handle Handle) []Handle
}

// StatusQuery selects status rows of one user.
// ConversationID is optional; an empty value matches every conversation.
type StatusQuery struct {
	UserID          domain.UserID
	Statuses        []domain.Status
	ExcludeSenderID domain.UserID
	ConversationID  domain.ConversationID
}

// Tx is the unit of work used to create a message.
// Everything written through a Tx becomes visible at once or not at all.
type Tx interface {
	FindParticipants(ctx context.Context, conversationID domain.ConversationID) ([]domain.UserID, error)
	CreateMessage(ctx context.Context, conversationID domain.ConversationID, senderID domain.UserID, content string) (domain.Message, error)
	CreateStatusRows(ctx context.Context, message domain.Message, assignments []domain.StatusAssignment) error
	TouchConversation(ctx context.Context, conversationID domain.ConversationID, at time.Time) error
}

// Gateway is the narrow boundary to durable storage.
type Gateway interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	// UpdateStatus advances the given rows to status and returns the ids it
	// actually moved. Rows already at or past status are skipped.
	UpdateStatus(ctx context.Context, rowIDs []uuid.UUID, status domain.Status, at time.Time) ([]uuid.UUID, error)
	FindStatusRows(ctx context.Context, query StatusQuery) ([]domain.StatusView, error)
	FindParticipants(ctx context.Context, conversationID domain.ConversationID) ([]domain.UserID, error)
	FindUser(ctx context.Context, userID domain.UserID) (domain.User, error)
	SetPresence(ctx context.Context, userID domain.UserID, online bool, at time.Time) error
}

// Directory seeds the external entities the core only references.
type Directory interface {
	CreateUser(ctx context.Context, user domain.User) error
	CreateConversation(ctx context.Context, conversationID domain.ConversationID, participants []domain.UserID) error
}
