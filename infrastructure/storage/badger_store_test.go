package storage

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	store, err := NewBadgerStore(db, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
		_ = db.Close()
	})
	return store
}

func seed(t *testing.T, store *BadgerStore, conversationID domain.ConversationID, users ...domain.UserID) {
	t.Helper()
	ctx := context.Background()
	for _, u := range users {
		require.NoError(t, store.CreateUser(ctx, domain.User{ID: u, Name: string(u) + " name"}))
	}
	require.NoError(t, store.CreateConversation(ctx, conversationID, users))
}

// createMessage persists one message with the given initial statuses.
func createMessage(t *testing.T, store *BadgerStore, conversationID domain.ConversationID, sender domain.UserID, content string, assignments ...domain.StatusAssignment) domain.Message {
	t.Helper()
	var message domain.Message
	err := store.RunInTx(context.Background(), func(tx contract.Tx) error {
		var err error
		message, err = tx.CreateMessage(context.Background(), conversationID, sender, content)
		if err != nil {
			return err
		}
		if err := tx.CreateStatusRows(context.Background(), message, assignments); err != nil {
			return err
		}
		return tx.TouchConversation(context.Background(), conversationID, message.CreatedAt)
	})
	require.NoError(t, err)
	return message
}

func TestBadgerStore_Create_Message_And_Find_Rows(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)
	seed(t, store, "c1", "alice", "bob")

	// Given a message from alice while bob is offline
	message := createMessage(t, store, "c1", "alice", "hello",
		domain.StatusAssignment{UserID: "alice", Status: domain.StatusSent},
		domain.StatusAssignment{UserID: "bob", Status: domain.StatusSent})

	// When bob's undelivered rows are fetched
	views, err := store.FindStatusRows(ctx, contract.StatusQuery{
		UserID:          "bob",
		Statuses:        []domain.Status{domain.StatusSent},
		ExcludeSenderID: "bob",
	})

	// Then the row comes back joined with its message and sender
	req.NoError(err)
	req.Len(views, 1)
	req.Equal(message.ID, views[0].Message.ID)
	req.Equal("hello", views[0].Message.Content)
	req.Equal("alice name", views[0].Sender.Name)
	req.Equal(domain.StatusSent, views[0].Row.Status)
	req.Nil(views[0].Row.DeliveredAt)

	// And the sender's own row is excluded from her own queries
	own, err := store.FindStatusRows(ctx, contract.StatusQuery{
		UserID:          "alice",
		Statuses:        []domain.Status{domain.StatusSent},
		ExcludeSenderID: "alice",
	})
	req.NoError(err)
	req.Empty(own)

	// And the conversation was touched
	conversation, err := store.FindConversation(ctx, "c1")
	req.NoError(err)
	req.Equal(message.CreatedAt.UnixNano(), conversation.UpdatedAt.UnixNano())
}

func TestBadgerStore_Delivered_Assignment_Stamps_DeliveredAt(t *testing.T) {
	req := require.New(t)
	store := newBadgerStore(t)
	seed(t, store, "c1", "alice", "bob")

	message := createMessage(t, store, "c1", "alice", "hi",
		domain.StatusAssignment{UserID: "alice", Status: domain.StatusSent},
		domain.StatusAssignment{UserID: "bob", Status: domain.StatusDelivered})

	views, err := store.FindStatusRows(context.Background(), contract.StatusQuery{
		UserID:   "bob",
		Statuses: []domain.Status{domain.StatusDelivered},
	})
	req.NoError(err)
	req.Len(views, 1)
	req.NotNil(views[0].Row.DeliveredAt)
	req.Equal(message.CreatedAt.UnixNano(), views[0].Row.DeliveredAt.UnixNano())
}

func TestBadgerStore_Rows_Are_Ordered_By_Sequence(t *testing.T) {
	req := require.New(t)
	store := newBadgerStore(t)
	seed(t, store, "c1", "alice", "bob")

	var ids []uuid.UUID
	for _, content := range []string{"one", "two", "three", "four"} {
		m := createMessage(t, store, "c1", "alice", content,
			domain.StatusAssignment{UserID: "bob", Status: domain.StatusSent})
		ids = append(ids, m.ID)
	}

	views, err := store.FindStatusRows(context.Background(), contract.StatusQuery{
		UserID:   "bob",
		Statuses: []domain.Status{domain.StatusSent, domain.StatusDelivered},
	})
	req.NoError(err)
	req.Equal(ids, lo.Map(views, func(v domain.StatusView, _ int) uuid.UUID { return v.Message.ID }))
	for i := 1; i < len(views); i++ {
		req.Less(views[i-1].Message.Seq, views[i].Message.Seq)
	}
}

func TestBadgerStore_Unknown_Conversation(t *testing.T) {
	req := require.New(t)
	store := newBadgerStore(t)

	err := store.RunInTx(context.Background(), func(tx contract.Tx) error {
		_, err := tx.FindParticipants(context.Background(), "nope")
		return err
	})

	req.ErrorIs(err, errors.ErrConversationNotFound)
	req.True(errors.IsValidation(err))
}

func TestBadgerStore_Failed_Tx_Writes_Nothing(t *testing.T) {
	req := require.New(t)
	store := newBadgerStore(t)
	seed(t, store, "c1", "alice", "bob")

	// Given a unit of work failing after the message was created
	err := store.RunInTx(context.Background(), func(tx contract.Tx) error {
		message, err := tx.CreateMessage(context.Background(), "c1", "alice", "lost")
		if err != nil {
			return err
		}
		rows := []domain.StatusAssignment{
			{UserID: "bob", Status: domain.StatusSent},
			{UserID: "bob", Status: domain.StatusSent},
		}
		return tx.CreateStatusRows(context.Background(), message, rows)
	})

	// Then the duplicate is refused and nothing is visible
	req.ErrorIs(err, errors.ErrDuplicateRow)
	req.True(errors.IsPersistence(err))
	views, err := store.FindStatusRows(context.Background(), contract.StatusQuery{
		UserID:   "bob",
		Statuses: []domain.Status{domain.StatusSent},
	})
	req.NoError(err)
	req.Empty(views)
}

func TestBadgerStore_UpdateStatus_Is_Conditional(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)
	seed(t, store, "c1", "alice", "bob")
	createMessage(t, store, "c1", "alice", "hi",
		domain.StatusAssignment{UserID: "bob", Status: domain.StatusSent})

	views, err := store.FindStatusRows(ctx, contract.StatusQuery{UserID: "bob", Statuses: []domain.Status{domain.StatusSent}})
	req.NoError(err)
	rowID := views[0].Row.ID
	at := time.Now().UTC()

	// When the row is delivered twice
	first, err := store.UpdateStatus(ctx, []uuid.UUID{rowID}, domain.StatusDelivered, at)
	req.NoError(err)
	second, err := store.UpdateStatus(ctx, []uuid.UUID{rowID}, domain.StatusDelivered, at.Add(time.Minute))
	req.NoError(err)

	// Then only the first call advanced it
	req.Equal([]uuid.UUID{rowID}, first)
	req.Empty(second)

	// When it is read, then asked to go back to delivered
	read, err := store.UpdateStatus(ctx, []uuid.UUID{rowID}, domain.StatusRead, at.Add(2*time.Minute))
	req.NoError(err)
	back, err := store.UpdateStatus(ctx, []uuid.UUID{rowID}, domain.StatusDelivered, at.Add(3*time.Minute))
	req.NoError(err)

	// Then the row never regresses and keeps its first timestamps
	req.Len(read, 1)
	req.Empty(back)
	views, err = store.FindStatusRows(ctx, contract.StatusQuery{UserID: "bob", Statuses: []domain.Status{domain.StatusRead}})
	req.NoError(err)
	req.Len(views, 1)
	req.Equal(at.UnixNano(), views[0].Row.DeliveredAt.UnixNano())
	req.NotNil(views[0].Row.ReadAt)

	// And the old index entries are gone
	stale, err := store.FindStatusRows(ctx, contract.StatusQuery{UserID: "bob", Statuses: []domain.Status{domain.StatusSent, domain.StatusDelivered}})
	req.NoError(err)
	req.Empty(stale)
}

func TestBadgerStore_Concurrent_UpdateStatus_Advances_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)
	seed(t, store, "c1", "alice", "bob")
	for i := 0; i < 5; i++ {
		createMessage(t, store, "c1", "alice", "hi",
			domain.StatusAssignment{UserID: "bob", Status: domain.StatusSent})
	}
	views, err := store.FindStatusRows(ctx, contract.StatusQuery{UserID: "bob", Statuses: []domain.Status{domain.StatusSent}})
	req.NoError(err)
	rowIDs := lo.Map(views, func(v domain.StatusView, _ int) uuid.UUID { return v.Row.ID })

	// When two replays race on the same rows
	var wg sync.WaitGroup
	results := make([][]uuid.UUID, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			advanced, err := store.UpdateStatus(ctx, rowIDs, domain.StatusDelivered, time.Now().UTC())
			if err == nil {
				results[i] = advanced
			}
		}()
	}
	wg.Wait()

	// Then every row was advanced by exactly one of them
	req.Len(append(results[0], results[1]...), len(rowIDs))
	req.ElementsMatch(rowIDs, append(results[0], results[1]...))
}

func TestBadgerStore_Presence_Projection(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)
	seed(t, store, "c1", "alice")
	at := time.Now().UTC()

	req.NoError(store.SetPresence(ctx, "alice", true, at))
	user, err := store.FindUser(ctx, "alice")
	req.NoError(err)
	req.True(user.Online)
	req.Nil(user.LastSeen)

	req.NoError(store.SetPresence(ctx, "alice", false, at.Add(time.Minute)))
	user, err = store.FindUser(ctx, "alice")
	req.NoError(err)
	req.False(user.Online)
	req.Equal(at.Add(time.Minute).UnixNano(), user.LastSeen.UnixNano())

	_, err = store.FindUser(ctx, "ghost")
	req.ErrorIs(err, errors.ErrUserNotFound)
	req.ErrorIs(store.SetPresence(ctx, "ghost", true, at), errors.ErrUserNotFound)
}

func TestBadgerStore_Conversation_Filter(t *testing.T) {
	req := require.New(t)
	store := newBadgerStore(t)
	seed(t, store, "c1", "alice", "bob")
	require.NoError(t, store.CreateConversation(context.Background(), "c2", []domain.UserID{"alice", "bob"}))

	createMessage(t, store, "c1", "alice", "in c1", domain.StatusAssignment{UserID: "bob", Status: domain.StatusDelivered})
	createMessage(t, store, "c2", "alice", "in c2", domain.StatusAssignment{UserID: "bob", Status: domain.StatusDelivered})

	views, err := store.FindStatusRows(context.Background(), contract.StatusQuery{
		UserID:         "bob",
		Statuses:       []domain.Status{domain.StatusSent, domain.StatusDelivered},
		ConversationID: "c2",
	})
	req.NoError(err)
	req.Len(views, 1)
	req.Equal("in c2", views[0].Message.Content)
}
