package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clipdeck/clipdeck/libs/db"
)

var ErrNotFound = errors.New("inbox: message not found")

// Message tracks one inbound broker message by its broker-assigned id.
// processed_at, once set, is never cleared; attempts only grows.
type Message struct {
	MessageID     string
	FirstSeenAt   time.Time
	ProcessedAt   *time.Time
	Attempts      int
	LastAttemptAt *time.Time
	Error         *string
}

// Store is the dedup ledger consulted before any inbound handler runs.
type Store interface {
	Get(ctx context.Context, messageID string) (Message, error)
	RecordAttempt(ctx context.Context, messageID string) (Message, error)
	MarkProcessed(ctx context.Context, messageID string) error
	MarkFailed(ctx context.Context, messageID, errMsg string) error
}

type PgStore struct {
	pool *db.Pool
}

func NewPgStore(pool *db.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Get(ctx context.Context, messageID string) (Message, error) {
	var m Message
	err := s.pool.QueryRow(ctx, `
		SELECT message_id, first_seen_at, processed_at, attempts, last_attempt_at, error
		FROM inbox_messages
		WHERE message_id = $1
	`, messageID).Scan(&m.MessageID, &m.FirstSeenAt, &m.ProcessedAt, &m.Attempts, &m.LastAttemptAt, &m.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// RecordAttempt inserts the message on first sight and bumps the attempt
// counter on every later delivery. The counter never decreases.
func (s *PgStore) RecordAttempt(ctx context.Context, messageID string) (Message, error) {
	var m Message
	err := s.pool.QueryRow(ctx, `
		INSERT INTO inbox_messages (message_id, attempts, last_attempt_at)
		VALUES ($1, 1, now())
		ON CONFLICT (message_id) DO UPDATE
			SET attempts = inbox_messages.attempts + 1,
				last_attempt_at = now()
		RETURNING message_id, first_seen_at, processed_at, attempts, last_attempt_at, error
	`, messageID).Scan(&m.MessageID, &m.FirstSeenAt, &m.ProcessedAt, &m.Attempts, &m.LastAttemptAt, &m.Error)
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// MarkProcessed sets processed_at exactly once and clears any stale error.
func (s *PgStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbox_messages
		SET processed_at = now(), error = NULL
		WHERE message_id = $1 AND processed_at IS NULL
	`, messageID)
	return err
}

// MarkFailed records a truncated handler error; the message stays unprocessed
// so a broker redelivery gets another attempt.
func (s *PgStore) MarkFailed(ctx context.Context, messageID, errMsg string) error {
	if len(errMsg) > 512 {
		errMsg = errMsg[:512]
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE inbox_messages
		SET error = $2
		WHERE message_id = $1 AND processed_at IS NULL
	`, messageID, errMsg)
	return err
}

var _ Store = (*PgStore)(nil)
