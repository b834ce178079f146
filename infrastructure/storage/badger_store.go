package storage

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	maxConflictRetries = 5
	sequenceBandwidth  = 100
)

var (
	_ contract.Gateway   = (*BadgerStore)(nil)
	_ contract.Directory = (*BadgerStore)(nil)
	_ contract.Tx        = (*badgerTx)(nil)
)

// BadgerStore keeps users, conversations, messages and status rows in Badger.
//
// Key layout:
//
//	user:{userID}                          -> userRecord
//	conv:{conversationID}                  -> conversationRecord
//	msg:{messageID}                        -> messageRecord
//	status:{rowID}                         -> statusRecord
//	status_uq:{messageID}:{userID}         -> rowID
//	idx:{userID}:{status}:{seq}:{rowID}    -> empty
//
// The idx keys carry a 20-digit zero padded sequence so that a prefix scan
// returns rows of one user and status in message order.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
	seq *badger.Sequence
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte("seq:messages"), sequenceBandwidth)
	if err != nil {
		return nil, errors.Persistence("open message sequence", err)
	}
	return &BadgerStore{db: db, log: log, seq: seq}, nil
}

// NewBadgerReader wraps a DB opened read-only. Queries work, creating
// messages does not.
func NewBadgerReader(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log}
}

// Close releases the leased sequence range. The DB itself belongs to the caller.
func (s *BadgerStore) Close() error {
	if s.seq == nil {
		return nil
	}
	return s.seq.Release()
}

type userRecord struct {
	ID       domain.UserID `json:"id"`
	Name     string        `json:"name"`
	Image    *string       `json:"image,omitempty"`
	Online   bool          `json:"online"`
	LastSeen *time.Time    `json:"last_seen,omitempty"`
}

type conversationRecord struct {
	ID           domain.ConversationID `json:"id"`
	Participants []domain.UserID       `json:"participants"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

type messageRecord struct {
	ID             uuid.UUID             `json:"id"`
	Seq            int64                 `json:"seq"`
	ConversationID domain.ConversationID `json:"conversation_id"`
	SenderID       domain.UserID         `json:"sender_id"`
	Content        string                `json:"content"`
	CreatedAt      time.Time             `json:"created_at"`
}

// statusRecord denormalizes the message coordinates used by queries.
type statusRecord struct {
	ID             uuid.UUID             `json:"id"`
	MessageID      uuid.UUID             `json:"message_id"`
	UserID         domain.UserID         `json:"user_id"`
	Status         domain.Status         `json:"status"`
	DeliveredAt    *time.Time            `json:"delivered_at,omitempty"`
	ReadAt         *time.Time            `json:"read_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	ConversationID domain.ConversationID `json:"conversation_id"`
	SenderID       domain.UserID         `json:"sender_id"`
	Seq            int64                 `json:"seq"`
}

func userKey(id domain.UserID) []byte { return []byte(fmt.Sprintf("user:%s", id)) }

func conversationKey(id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("conv:%s", id))
}

func messageKey(id uuid.UUID) []byte { return []byte(fmt.Sprintf("msg:%s", id)) }

func statusKey(id uuid.UUID) []byte { return []byte(fmt.Sprintf("status:%s", id)) }

func uniqueKey(messageID uuid.UUID, userID domain.UserID) []byte {
	return []byte(fmt.Sprintf("status_uq:%s:%s", messageID, userID))
}

func indexPrefix(userID domain.UserID, status domain.Status) []byte {
	return []byte(fmt.Sprintf("idx:%s:%s:", userID, status))
}

func indexKey(row statusRecord) []byte {
	return []byte(fmt.Sprintf("idx:%s:%s:%020d:%s", row.UserID, row.Status, row.Seq, row.ID))
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	bytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, bytes)
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("Badger transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func (s *BadgerStore) RunInTx(ctx context.Context, fn func(tx contract.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.update(func(txn *badger.Txn) error {
		return fn(&badgerTx{store: s, txn: txn})
	})
	return errors.Persistence("run transaction", err)
}

type badgerTx struct {
	store *BadgerStore
	txn   *badger.Txn
}

func (t *badgerTx) FindParticipants(_ context.Context, conversationID domain.ConversationID) ([]domain.UserID, error) {
	return findParticipants(t.txn, conversationID)
}

func findParticipants(txn *badger.Txn, conversationID domain.ConversationID) ([]domain.UserID, error) {
	var conversation conversationRecord
	err := getJSON(txn, conversationKey(conversationID), &conversation)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return conversation.Participants, nil
}

func (t *badgerTx) CreateMessage(_ context.Context, conversationID domain.ConversationID, senderID domain.UserID, content string) (domain.Message, error) {
	if t.store.seq == nil {
		return domain.Message{}, badger.ErrReadOnlyTxn
	}
	next, err := t.store.seq.Next()
	if err != nil {
		return domain.Message{}, err
	}
	record := messageRecord{
		ID:             uuid.New(),
		Seq:            int64(next) + 1,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := setJSON(t.txn, messageKey(record.ID), record); err != nil {
		return domain.Message{}, err
	}
	return toMessage(record), nil
}

func (t *badgerTx) CreateStatusRows(_ context.Context, message domain.Message, assignments []domain.StatusAssignment) error {
	for _, assignment := range assignments {
		_, err := t.txn.Get(uniqueKey(message.ID, assignment.UserID))
		if err == nil {
			return errors.ErrDuplicateRow
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		row := statusRecord{
			ID:             uuid.New(),
			MessageID:      message.ID,
			UserID:         assignment.UserID,
			Status:         assignment.Status,
			CreatedAt:      message.CreatedAt,
			ConversationID: message.ConversationID,
			SenderID:       message.SenderID,
			Seq:            message.Seq,
		}
		if assignment.Status == domain.StatusDelivered {
			row.DeliveredAt = lo.ToPtr(message.CreatedAt)
		}
		if err := setJSON(t.txn, statusKey(row.ID), row); err != nil {
			return err
		}
		if err := t.txn.Set(uniqueKey(message.ID, assignment.UserID), []byte(row.ID.String())); err != nil {
			return err
		}
		if err := t.txn.Set(indexKey(row), nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) TouchConversation(_ context.Context, conversationID domain.ConversationID, at time.Time) error {
	var conversation conversationRecord
	err := getJSON(t.txn, conversationKey(conversationID), &conversation)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrConversationNotFound
	}
	if err != nil {
		return err
	}
	conversation.UpdatedAt = at
	return setJSON(t.txn, conversationKey(conversationID), conversation)
}

// UpdateStatus advances each row only if its current status allows it.
// The re-check happens inside an optimistic transaction: when two callers race
// on the same row, Badger rejects one commit and the retry sees the new status.
func (s *BadgerStore) UpdateStatus(_ context.Context, rowIDs []uuid.UUID, status domain.Status, at time.Time) ([]uuid.UUID, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	var advanced []uuid.UUID
	err := s.update(func(txn *badger.Txn) error {
		advanced = advanced[:0]
		for _, id := range rowIDs {
			var record statusRecord
			err := getJSON(txn, statusKey(id), &record)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			row := toStatusRow(record)
			oldIndex := indexKey(record)
			if !row.Advance(status, at) {
				continue
			}
			record.Status = row.Status
			record.DeliveredAt = row.DeliveredAt
			record.ReadAt = row.ReadAt

			if err := txn.Delete(oldIndex); err != nil {
				return err
			}
			if err := txn.Set(indexKey(record), nil); err != nil {
				return err
			}
			if err := setJSON(txn, statusKey(id), record); err != nil {
				return err
			}
			advanced = append(advanced, id)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Persistence("update status", err)
	}
	return advanced, nil
}

func (s *BadgerStore) FindStatusRows(_ context.Context, query contract.StatusQuery) ([]domain.StatusView, error) {
	var views []domain.StatusView
	err := s.db.View(func(txn *badger.Txn) error {
		senders := make(map[domain.UserID]domain.User)
		for _, status := range query.Statuses {
			prefix := indexPrefix(query.UserID, status)
			options := badger.DefaultIteratorOptions
			options.PrefetchValues = false
			it := txn.NewIterator(options)

			var rowIDs []uuid.UUID
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				key := string(it.Item().Key())
				id, err := uuid.Parse(key[len(key)-36:])
				if err != nil {
					it.Close()
					return err
				}
				rowIDs = append(rowIDs, id)
			}
			it.Close()

			for _, id := range rowIDs {
				view, ok, err := s.loadView(txn, id, query, senders)
				if err != nil {
					return err
				}
				if ok {
					views = append(views, view)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Persistence("find status rows", err)
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Message.Before(views[j].Message)
	})
	return views, nil
}

func (s *BadgerStore) loadView(txn *badger.Txn, id uuid.UUID, query contract.StatusQuery, senders map[domain.UserID]domain.User) (domain.StatusView, bool, error) {
	var record statusRecord
	if err := getJSON(txn, statusKey(id), &record); err != nil {
		return domain.StatusView{}, false, err
	}
	if record.UserID != query.UserID {
		return domain.StatusView{}, false, nil
	}
	if query.ExcludeSenderID != "" && record.SenderID == query.ExcludeSenderID {
		return domain.StatusView{}, false, nil
	}
	if query.ConversationID != "" && record.ConversationID != query.ConversationID {
		return domain.StatusView{}, false, nil
	}

	var message messageRecord
	if err := getJSON(txn, messageKey(record.MessageID), &message); err != nil {
		return domain.StatusView{}, false, err
	}

	sender, ok := senders[record.SenderID]
	if !ok {
		user, err := findUser(txn, record.SenderID)
		if err != nil && !errors.Is(err, errors.ErrUserNotFound) {
			return domain.StatusView{}, false, err
		}
		if err != nil {
			// Sender unknown to the directory: keep the id as display name
			user = domain.User{ID: record.SenderID, Name: string(record.SenderID)}
		}
		senders[record.SenderID] = user
		sender = user
	}

	return domain.StatusView{
		Row:     toStatusRow(record),
		Message: toMessage(message),
		Sender:  sender,
	}, true, nil
}

func (s *BadgerStore) FindParticipants(_ context.Context, conversationID domain.ConversationID) ([]domain.UserID, error) {
	var participants []domain.UserID
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		participants, err = findParticipants(txn, conversationID)
		return err
	})
	if err != nil {
		return nil, errors.Persistence("find participants", err)
	}
	return participants, nil
}

func (s *BadgerStore) FindUser(_ context.Context, userID domain.UserID) (domain.User, error) {
	var user domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = findUser(txn, userID)
		return err
	})
	if errors.Is(err, errors.ErrUserNotFound) {
		return domain.User{}, err
	}
	if err != nil {
		return domain.User{}, errors.Persistence("find user", err)
	}
	return user, nil
}

func findUser(txn *badger.Txn, userID domain.UserID) (domain.User, error) {
	var record userRecord
	err := getJSON(txn, userKey(userID), &record)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{
		ID:       record.ID,
		Name:     record.Name,
		Image:    record.Image,
		Online:   record.Online,
		LastSeen: record.LastSeen,
	}, nil
}

// SetPresence updates the online projection. Last-seen moves on disconnect only.
func (s *BadgerStore) SetPresence(_ context.Context, userID domain.UserID, online bool, at time.Time) error {
	err := s.update(func(txn *badger.Txn) error {
		var record userRecord
		err := getJSON(txn, userKey(userID), &record)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		record.Online = online
		if !online {
			record.LastSeen = lo.ToPtr(at)
		}
		return setJSON(txn, userKey(userID), record)
	})
	return errors.Persistence("set presence", err)
}

func (s *BadgerStore) CreateUser(_ context.Context, user domain.User) error {
	err := s.update(func(txn *badger.Txn) error {
		return setJSON(txn, userKey(user.ID), userRecord{
			ID:       user.ID,
			Name:     user.Name,
			Image:    user.Image,
			Online:   user.Online,
			LastSeen: user.LastSeen,
		})
	})
	return errors.Persistence("create user", err)
}

func (s *BadgerStore) CreateConversation(_ context.Context, conversationID domain.ConversationID, participants []domain.UserID) error {
	now := time.Now().UTC()
	err := s.update(func(txn *badger.Txn) error {
		return setJSON(txn, conversationKey(conversationID), conversationRecord{
			ID:           conversationID,
			Participants: lo.Uniq(participants),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	})
	return errors.Persistence("create conversation", err)
}

// FindConversation returns a conversation's participants and timestamps.
func (s *BadgerStore) FindConversation(_ context.Context, conversationID domain.ConversationID) (domain.Conversation, error) {
	var record conversationRecord
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, conversationKey(conversationID), &record)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrConversationNotFound
		}
		return err
	})
	if err != nil {
		return domain.Conversation{}, errors.Persistence("find conversation", err)
	}
	return domain.Conversation{
		ID:           record.ID,
		Participants: record.Participants,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}, nil
}

func toMessage(record messageRecord) domain.Message {
	return domain.Message{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		SenderID:       record.SenderID,
		Content:        record.Content,
		CreatedAt:      record.CreatedAt,
		Seq:            record.Seq,
	}
}

func toStatusRow(record statusRecord) domain.StatusRow {
	return domain.StatusRow{
		ID:          record.ID,
		MessageID:   record.MessageID,
		UserID:      record.UserID,
		Status:      record.Status,
		DeliveredAt: record.DeliveredAt,
		ReadAt:      record.ReadAt,
		CreatedAt:   record.CreatedAt,
	}
}
