package storage

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

var (
	_ contract.Gateway   = (*PostgresStore)(nil)
	_ contract.Directory = (*PostgresStore)(nil)
	_ contract.Tx        = (*postgresTx)(nil)
)

type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore is the relational Gateway. Status transitions are single
// conditional UPDATE statements, so concurrent callers never advance a row twice.
type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

func NewPostgresStore(dsn string, config PostgresConfig, log *slog.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{db: db, log: log}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Persistence("migrate", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx contract.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Persistence("begin transaction", err)
	}
	if err := fn(&postgresTx{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("Rollback failed", "error", rbErr)
		}
		return errors.Persistence("run transaction", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Persistence("commit transaction", err)
	}
	return nil
}

type postgresTx struct {
	q querier
}

func (t *postgresTx) FindParticipants(ctx context.Context, conversationID domain.ConversationID) ([]domain.UserID, error) {
	return findParticipantsSQL(ctx, t.q, conversationID)
}

func findParticipantsSQL(ctx context.Context, q querier, conversationID domain.ConversationID) ([]domain.UserID, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.user_id
		FROM conversations c
		LEFT JOIN participants p ON p.conversation_id = c.id
		WHERE c.id = $1
		ORDER BY p.position
	`, string(conversationID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := false
	participants := make([]domain.UserID, 0)
	for rows.Next() {
		found = true
		var userID sql.NullString
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		if userID.Valid {
			participants = append(participants, domain.UserID(userID.String))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.ErrConversationNotFound
	}
	return participants, nil
}

func (t *postgresTx) CreateMessage(ctx context.Context, conversationID domain.ConversationID, senderID domain.UserID, content string) (domain.Message, error) {
	message := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`, message.ID, string(conversationID), string(senderID), content, message.CreatedAt).Scan(&message.Seq)
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

func (t *postgresTx) CreateStatusRows(ctx context.Context, message domain.Message, assignments []domain.StatusAssignment) error {
	for _, assignment := range assignments {
		var deliveredAt *time.Time
		if assignment.Status == domain.StatusDelivered {
			deliveredAt = lo.ToPtr(message.CreatedAt)
		}
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO message_status (id, message_id, user_id, status, delivered_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New(), message.ID, string(assignment.UserID), string(assignment.Status), nullTime(deliveredAt), message.CreatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return errors.ErrDuplicateRow
			}
			return err
		}
	}
	return nil
}

func (t *postgresTx) TouchConversation(ctx context.Context, conversationID domain.ConversationID, at time.Time) error {
	result, err := t.q.ExecContext(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, string(conversationID), at)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.ErrConversationNotFound
	}
	return nil
}

// UpdateStatus moves rows to status in one statement. The WHERE clause only
// matches rows still below the target, and RETURNING reports what moved.
func (s *PostgresStore) UpdateStatus(ctx context.Context, rowIDs []uuid.UUID, status domain.Status, at time.Time) ([]uuid.UUID, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	var column string
	var below []string
	switch status {
	case domain.StatusDelivered:
		column, below = "delivered_at", []string{string(domain.StatusSent)}
	case domain.StatusRead:
		column, below = "read_at", []string{string(domain.StatusSent), string(domain.StatusDelivered)}
	default:
		return nil, nil
	}

	ids := lo.Map(rowIDs, func(id uuid.UUID, _ int) string { return id.String() })
	query := fmt.Sprintf(`
		UPDATE message_status
		SET status = $1, %[1]s = COALESCE(%[1]s, $2)
		WHERE id = ANY($3::uuid[]) AND status = ANY($4)
		RETURNING id
	`, column)
	rows, err := s.db.QueryContext(ctx, query, string(status), at, pq.Array(ids), pq.Array(below))
	if err != nil {
		return nil, errors.Persistence("update status", err)
	}
	defer rows.Close()

	var advanced []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Persistence("update status", err)
		}
		advanced = append(advanced, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence("update status", err)
	}
	return advanced, nil
}

func (s *PostgresStore) FindStatusRows(ctx context.Context, query contract.StatusQuery) ([]domain.StatusView, error) {
	statuses := lo.Map(query.Statuses, func(st domain.Status, _ int) string { return string(st) })
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.message_id, s.user_id, s.status, s.delivered_at, s.read_at, s.created_at,
		       m.seq, m.conversation_id, m.sender_id, m.content, m.created_at,
		       u.name, u.image
		FROM message_status s
		JOIN messages m ON m.id = s.message_id
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE s.user_id = $1
		  AND s.status = ANY($2)
		  AND m.sender_id <> $3
		  AND ($4 = '' OR m.conversation_id = $4)
		ORDER BY m.seq ASC
	`, string(query.UserID), pq.Array(statuses), string(query.ExcludeSenderID), string(query.ConversationID))
	if err != nil {
		return nil, errors.Persistence("find status rows", err)
	}
	defer rows.Close()

	var views []domain.StatusView
	for rows.Next() {
		var (
			view                  domain.StatusView
			userID, status        string
			conversationID        string
			senderID              string
			deliveredAt, readAt   sql.NullTime
			senderName, senderImg sql.NullString
		)
		err := rows.Scan(
			&view.Row.ID, &view.Row.MessageID, &userID, &status, &deliveredAt, &readAt, &view.Row.CreatedAt,
			&view.Message.Seq, &conversationID, &senderID, &view.Message.Content, &view.Message.CreatedAt,
			&senderName, &senderImg,
		)
		if err != nil {
			return nil, errors.Persistence("find status rows", err)
		}
		view.Row.UserID = domain.UserID(userID)
		view.Row.Status = domain.Status(status)
		view.Row.DeliveredAt = timePtr(deliveredAt)
		view.Row.ReadAt = timePtr(readAt)
		view.Message.ID = view.Row.MessageID
		view.Message.ConversationID = domain.ConversationID(conversationID)
		view.Message.SenderID = domain.UserID(senderID)
		view.Sender = domain.User{ID: view.Message.SenderID, Name: senderID}
		if senderName.Valid {
			view.Sender.Name = senderName.String
		}
		if senderImg.Valid {
			view.Sender.Image = lo.ToPtr(senderImg.String)
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence("find status rows", err)
	}
	return views, nil
}

func (s *PostgresStore) FindParticipants(ctx context.Context, conversationID domain.ConversationID) ([]domain.UserID, error) {
	participants, err := findParticipantsSQL(ctx, s.db, conversationID)
	if err != nil {
		return nil, errors.Persistence("find participants", err)
	}
	return participants, nil
}

func (s *PostgresStore) FindUser(ctx context.Context, userID domain.UserID) (domain.User, error) {
	var (
		user     domain.User
		id       string
		image    sql.NullString
		lastSeen sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, image, online, last_seen FROM users WHERE id = $1
	`, string(userID)).Scan(&id, &user.Name, &image, &user.Online, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, errors.Persistence("find user", err)
	}
	user.ID = domain.UserID(id)
	if image.Valid {
		user.Image = lo.ToPtr(image.String)
	}
	user.LastSeen = timePtr(lastSeen)
	return user, nil
}

func (s *PostgresStore) SetPresence(ctx context.Context, userID domain.UserID, online bool, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET online = $2, last_seen = CASE WHEN $2 THEN last_seen ELSE $3 END
		WHERE id = $1
	`, string(userID), online, at)
	if err != nil {
		return errors.Persistence("set presence", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Persistence("set presence", err)
	}
	if affected == 0 {
		return errors.ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user domain.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, image, online, last_seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, image = EXCLUDED.image
	`, string(user.ID), user.Name, nullString(user.Image), user.Online, nullTime(user.LastSeen))
	return errors.Persistence("create user", err)
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conversationID domain.ConversationID, participants []domain.UserID) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Persistence("create conversation", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, created_at, updated_at) VALUES ($1, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, string(conversationID), now); err != nil {
		return errors.Persistence("create conversation", err)
	}
	for position, userID := range lo.Uniq(participants) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participants (conversation_id, user_id, position) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, string(conversationID), string(userID), position); err != nil {
			return errors.Persistence("create conversation", err)
		}
	}
	return errors.Persistence("create conversation", tx.Commit())
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return lo.ToPtr(t.Time.UTC())
}
