package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clipdeck/clipdeck/libs/db"
)

var (
	// ErrNotFound: no cached response for this key.
	ErrNotFound = errors.New("idempotency: no record")
	// ErrKeyReuse: the key exists but was originally used for a different
	// request (hash mismatch). Client misuse: must not replay or overwrite.
	ErrKeyReuse = errors.New("idempotency: key reused for a different request")
	// ErrDuplicate: a concurrent request saved the same (key, hash) first.
	ErrDuplicate = errors.New("idempotency: concurrent save")
)

// Record caches one HTTP response keyed by client idempotency key plus the
// SHA-256 of (method, URI, body).
type Record struct {
	ID          int64
	Key         string
	RequestHash string
	StatusCode  int
	ContentType string
	Body        []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Store interface {
	// Lookup returns the cached record for key, ErrNotFound when absent, or
	// ErrKeyReuse when the key exists with a different request hash.
	Lookup(ctx context.Context, key, requestHash string) (Record, error)
	// Save stores the captured response. ErrDuplicate signals a lost race on
	// the (key, hash) uniqueness constraint; callers resolve it by re-reading.
	Save(ctx context.Context, key, requestHash string, statusCode int, contentType string, body []byte) error
}

type PgStore struct {
	pool *db.Pool
}

func NewPgStore(pool *db.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Lookup(ctx context.Context, key, requestHash string) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT id, idempotency_key, request_hash, status_code, content_type, response_body, created_at, updated_at
		FROM http_idempotency
		WHERE idempotency_key = $1
	`, key).Scan(&rec.ID, &rec.Key, &rec.RequestHash, &rec.StatusCode, &rec.ContentType, &rec.Body, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if rec.RequestHash != requestHash {
		return Record{}, ErrKeyReuse
	}
	return rec, nil
}

func (s *PgStore) Save(ctx context.Context, key, requestHash string, statusCode int, contentType string, body []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO http_idempotency (idempotency_key, request_hash, status_code, content_type, response_body)
		VALUES ($1, $2, $3, $4, $5)
	`, key, requestHash, statusCode, contentType, body)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

var _ Store = (*PgStore)(nil)
