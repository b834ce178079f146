package services_test

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/infrastructure/storage"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/services"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// recorder is a connection handle that keeps every pushed event.
type recorder struct {
	id     uuid.UUID
	mu     sync.Mutex
	events []event.ServerEvent
}

func newRecorder() *recorder { return &recorder{id: uuid.New()} }

func (r *recorder) ID() uuid.UUID { return r.id }

func (r *recorder) Send(_ context.Context, e event.ServerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) named(name event.Name) []event.ServerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.ServerEvent
	for _, e := range r.events {
		if e.Name() == name {
			out = append(out, e)
		}
	}
	return out
}

type relay struct {
	store    *storage.BadgerStore
	registry *runtime.Registry
	chat     *services.ChatService
}

func newRelay(t *testing.T) relay {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	store, err := storage.NewBadgerStore(db, log)
	require.NoError(t, err)
	lanes := runtime.NewLanes(log, 64, time.Second)
	t.Cleanup(func() {
		lanes.Close()
		_ = store.Close()
		_ = db.Close()
	})

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	registry := runtime.NewRegistry()
	tracker := services.NewStatusTracker(log, store, registry, metrics)
	engine := services.NewDeliveryEngine(log, store, registry, tracker, lanes, nil, metrics, 1000)
	replay := services.NewReplayService(log, tracker, registry, metrics)
	presence := services.NewPresencePublisher(log, store, registry, metrics)
	chat := services.NewChatService(log, store, registry, engine, tracker, replay, presence)

	ctx := context.Background()
	for _, u := range []domain.UserID{"alice", "bob", "carol"} {
		require.NoError(t, store.CreateUser(ctx, domain.User{ID: u, Name: string(u)}))
	}
	require.NoError(t, store.CreateConversation(ctx, "c1", []domain.UserID{"alice", "bob"}))
	return relay{store: store, registry: registry, chat: chat}
}

// connect announces userID and joins the given conversations.
func (r relay) connect(t *testing.T, userID domain.UserID, conversations ...domain.ConversationID) *recorder {
	t.Helper()
	handle := newRecorder()
	require.NoError(t, r.chat.Announce(context.Background(), handle, userID))
	for _, c := range conversations {
		require.NoError(t, r.chat.JoinConversation(context.Background(), handle, userID, c))
	}
	return handle
}

func (r relay) send(t *testing.T, handle *recorder, sender domain.UserID, content string) {
	t.Helper()
	r.sendTo(t, handle, "c1", sender, content)
}

func (r relay) sendTo(t *testing.T, handle *recorder, conversationID domain.ConversationID, sender domain.UserID, content string) {
	t.Helper()
	err := r.chat.SendMessage(context.Background(), handle, services.SubmitCommand{
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        content,
		CorrelationID:  "corr-" + content,
	})
	require.NoError(t, err)
}

func (r relay) rows(t *testing.T, userID domain.UserID, statuses ...domain.Status) []domain.StatusView {
	t.Helper()
	views, err := r.store.FindStatusRows(context.Background(), queryOf(userID, statuses...))
	require.NoError(t, err)
	return views
}

func TestScenario_Recipient_Online_Gets_Message_As_Delivered(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	alice := r.connect(t, "alice", "c1")
	bob := r.connect(t, "bob", "c1")

	// When alice sends while bob is connected and in the room
	r.send(t, alice, "alice", "hi")

	// Then bob gets it live with the echoed correlation id
	pushed := bob.named(event.NewMessageName)
	req.Len(pushed, 1)
	message := pushed[0].(event.NewMessage)
	req.Equal("hi", message.Content)
	req.Equal("corr-hi", message.CorrelationID)
	req.Equal(domain.UserID("alice"), message.SenderID)

	// And alice gets her own broadcast plus the ack
	req.Len(alice.named(event.NewMessageName), 1)
	acks := alice.named(event.MessageSentName)
	req.Len(acks, 1)
	req.Equal(message.ID, acks[0].(event.MessageSent).MessageID)

	// And bob's row was created delivered, alice's sent
	req.Len(r.rows(t, "bob", domain.StatusDelivered), 1)
	req.Len(r.rows(t, "alice", domain.StatusSent), 1)
	req.Empty(r.rows(t, "bob", domain.StatusSent))
}

func TestScenario_Offline_Recipient_Gets_Backlog_On_Reconnect(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	alice := r.connect(t, "alice", "c1")

	// Given bob offline while alice sends three messages
	for _, content := range []string{"one", "two", "three"} {
		r.send(t, alice, "alice", content)
	}
	req.Len(r.rows(t, "bob", domain.StatusSent), 3)

	// When bob comes online
	bob := r.connect(t, "bob")

	// Then he receives one batch for c1, in order, marked delivered
	batches := bob.named(event.UndeliveredMessagesName)
	req.Len(batches, 1)
	batch := batches[0].(event.UndeliveredMessages)
	req.Equal(domain.ConversationID("c1"), batch.ConversationID)
	req.Len(batch.Messages, 3)
	for i, content := range []string{"one", "two", "three"} {
		req.Equal(content, batch.Messages[i].Content)
		req.Equal(domain.StatusDelivered, batch.Messages[i].Status)
	}

	// And alice learns her messages reached bob
	receipts := alice.named(event.MessagesDeliveredName)
	req.Len(receipts, 1)
	receipt := receipts[0].(event.MessagesDelivered)
	req.Equal(domain.UserID("bob"), receipt.DeliveredTo)
	req.Len(receipt.MessageIDs, 3)

	// And alice saw bob coming online
	changes := alice.named(event.UserStatusChangeName)
	req.Contains(changes, event.ServerEvent(event.UserStatusChange{UserID: "bob", IsOnline: true}))

	// And nothing is pending anymore
	req.Empty(r.rows(t, "bob", domain.StatusSent))
	req.Len(r.rows(t, "bob", domain.StatusDelivered), 3)
}

func TestScenario_Backlog_Is_Batched_Per_Conversation(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	req.NoError(r.store.CreateConversation(context.Background(), "c2", []domain.UserID{"carol", "bob"}))
	alice := r.connect(t, "alice", "c1")
	carol := r.connect(t, "carol", "c2")

	// Given bob offline while alice and carol write in two conversations, interleaved
	r.sendTo(t, alice, "c1", "alice", "a1")
	r.sendTo(t, carol, "c2", "carol", "k1")
	r.sendTo(t, alice, "c1", "alice", "a2")
	r.sendTo(t, carol, "c2", "carol", "k2")

	// When bob comes online
	bob := r.connect(t, "bob")

	// Then he receives one batch per conversation, each in creation order
	batches := bob.named(event.UndeliveredMessagesName)
	req.Len(batches, 2)
	contents := map[domain.ConversationID][]string{}
	for _, e := range batches {
		batch := e.(event.UndeliveredMessages)
		for _, m := range batch.Messages {
			req.Equal(batch.ConversationID, m.ConversationID)
			contents[batch.ConversationID] = append(contents[batch.ConversationID], m.Content)
		}
	}
	req.Equal([]string{"a1", "a2"}, contents["c1"])
	req.Equal([]string{"k1", "k2"}, contents["c2"])
	req.Equal(domain.ConversationID("c1"), batches[0].(event.UndeliveredMessages).ConversationID)

	// And each sender gets one receipt naming only its own messages
	for _, sender := range []*recorder{alice, carol} {
		receipts := sender.named(event.MessagesDeliveredName)
		req.Len(receipts, 1)
		receipt := receipts[0].(event.MessagesDelivered)
		req.Equal(domain.UserID("bob"), receipt.DeliveredTo)

		var sent []uuid.UUID
		for _, ack := range sender.named(event.MessageSentName) {
			sent = append(sent, ack.(event.MessageSent).MessageID)
		}
		req.ElementsMatch(sent, receipt.MessageIDs)
	}
}

func TestScenario_Reconnect_Does_Not_Replay_Twice(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	alice := r.connect(t, "alice", "c1")
	r.send(t, alice, "alice", "hello")

	first := r.connect(t, "bob")
	second := r.connect(t, "bob")

	req.Len(first.named(event.UndeliveredMessagesName), 1)
	req.Empty(second.named(event.UndeliveredMessagesName))
}

func TestScenario_Concurrent_Reconnects_Replay_Each_Message_Once(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	alice := r.connect(t, "alice", "c1")
	for i := 0; i < 10; i++ {
		r.send(t, alice, "alice", fmt.Sprintf("m%d", i))
	}

	handles := []*recorder{newRecorder(), newRecorder(), newRecorder()}
	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.chat.Announce(context.Background(), h, "bob")
		}()
	}
	wg.Wait()

	total := 0
	for _, h := range handles {
		for _, b := range h.named(event.UndeliveredMessagesName) {
			total += len(b.(event.UndeliveredMessages).Messages)
		}
	}
	req.Equal(10, total)
}

func TestScenario_Sender_Rows_Never_Move(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	alice := r.connect(t, "alice", "c1")
	r.send(t, alice, "alice", "note to self")

	// When alice reconnects and reads her own conversation
	r.connect(t, "alice")
	req.NoError(r.chat.MarkRead(context.Background(), "alice", "c1"))

	// Then her own row stays sent
	own := r.rows(t, "alice", domain.StatusSent, domain.StatusDelivered, domain.StatusRead)
	req.Len(own, 1)
	req.Equal(domain.StatusSent, own[0].Row.Status)
}

func TestScenario_Mark_Read_Notifies_Sender(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	alice := r.connect(t, "alice", "c1")
	bob := r.connect(t, "bob", "c1")
	r.send(t, alice, "alice", "first")
	r.send(t, alice, "alice", "second")

	// When bob reads the conversation twice
	req.NoError(r.chat.MarkRead(context.Background(), "bob", "c1"))
	req.NoError(r.chat.MarkRead(context.Background(), "bob", "c1"))

	// Then alice gets a single receipt covering both messages
	receipts := alice.named(event.MessagesReadName)
	req.Len(receipts, 1)
	read := receipts[0].(event.MessagesRead)
	req.Equal(domain.UserID("bob"), read.ReadBy)
	req.Equal(domain.ConversationID("c1"), read.ConversationID)
	req.Len(read.MessageIDs, 2)

	// And bob's rows are read with both timestamps set
	rows := r.rows(t, "bob", domain.StatusRead)
	req.Len(rows, 2)
	for _, row := range rows {
		req.NotNil(row.Row.DeliveredAt)
		req.NotNil(row.Row.ReadAt)
	}
	req.Empty(bob.named(event.MessagesReadName))
}

func TestScenario_Disconnect_Publishes_Offline_Once(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	alice := r.connect(t, "alice")
	oldBob := r.connect(t, "bob", "c1")
	newBob := r.connect(t, "bob", "c1")

	// When the replaced connection closes late
	r.chat.Disconnect(context.Background(), oldBob, "bob")

	// Then bob is still online and nobody heard otherwise
	req.True(r.registry.IsOnline("bob"))
	req.NotContains(alice.named(event.UserStatusChangeName), event.ServerEvent(event.UserStatusChange{UserID: "bob", IsOnline: false}))

	// When the current one closes
	r.chat.Disconnect(context.Background(), newBob, "bob")

	// Then alice sees bob offline and last seen is stored
	req.False(r.registry.IsOnline("bob"))
	req.Contains(alice.named(event.UserStatusChangeName), event.ServerEvent(event.UserStatusChange{UserID: "bob", IsOnline: false}))
	user, err := r.store.FindUser(context.Background(), "bob")
	req.NoError(err)
	req.False(user.Online)
	req.NotNil(user.LastSeen)
	req.Nil(r.registry.RoomHandles("c1"))
}

func TestScenario_Message_Sent_While_Offline_Is_Not_Lost(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	alice := r.connect(t, "alice", "c1")
	bob := r.connect(t, "bob", "c1")
	r.chat.Disconnect(context.Background(), bob, "bob")

	r.send(t, alice, "alice", "while you were away")
	req.Empty(bob.named(event.NewMessageName))

	back := r.connect(t, "bob", "c1")
	batches := back.named(event.UndeliveredMessagesName)
	req.Len(batches, 1)
	req.Equal("while you were away", batches[0].(event.UndeliveredMessages).Messages[0].Content)
}

func TestScenario_Concurrent_Sends_Keep_Storage_Order_In_Broadcast(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	alice := r.connect(t, "alice", "c1")
	bob := r.connect(t, "bob", "c1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender, handle := domain.UserID("alice"), alice
			if i%2 == 0 {
				sender, handle = "bob", bob
			}
			_ = r.chat.SendMessage(context.Background(), handle, services.SubmitCommand{
				ConversationID: "c1", SenderID: sender, Content: fmt.Sprintf("m%d", i), CorrelationID: fmt.Sprint(i),
			})
		}()
	}
	wg.Wait()

	// Then both participants saw the same order, which is the storage order
	aliceOrder := idsOf(alice.named(event.NewMessageName))
	bobOrder := idsOf(bob.named(event.NewMessageName))
	req.Len(aliceOrder, 20)
	req.Equal(aliceOrder, bobOrder)

	stored := r.rows(t, "alice", domain.StatusSent, domain.StatusDelivered)
	storedIDs := make([]uuid.UUID, 0, len(stored))
	for _, v := range stored {
		storedIDs = append(storedIDs, v.Message.ID)
	}
	req.Equal(storedIDs, aliceOrder)
}

func queryOf(userID domain.UserID, statuses ...domain.Status) contract.StatusQuery {
	return contract.StatusQuery{UserID: userID, Statuses: statuses}
}

func idsOf(events []event.ServerEvent) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.(event.NewMessage).ID)
	}
	return ids
}

func TestScenario_Join_Requires_Membership(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	carol := r.connect(t, "carol")

	err := r.chat.JoinConversation(context.Background(), carol, "carol", "c1")
	req.ErrorIs(err, errors.ErrNotParticipant)

	err = r.chat.JoinConversation(context.Background(), carol, "carol", "unknown")
	req.ErrorIs(err, errors.ErrConversationNotFound)

	err = r.chat.JoinConversation(context.Background(), carol, "", "c1")
	req.ErrorIs(err, errors.ErrNotAnnounced)
	req.Nil(r.registry.RoomHandles("c1"))

	// And a non member cannot post either
	err = r.chat.SendMessage(context.Background(), carol, services.SubmitCommand{
		ConversationID: "c1", SenderID: "carol", Content: "let me in", CorrelationID: "x",
	})
	req.ErrorIs(err, errors.ErrNotParticipant)
	rejections := carol.named(event.MessageErrorName)
	req.Len(rejections, 1)
	req.Equal("x", rejections[0].(event.MessageError).CorrelationID)
}
