package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clipdeck/clipdeck/libs/db"
)

// HandleRepository owns the handle_reservations table. A row is a claim on a
// handle; uniqueness of the primary key is the reservation mechanism, so two
// concurrent claims on the same handle resolve without any explicit locking.
type HandleRepository struct {
	pool *db.Pool
}

func NewHandleRepository(pool *db.Pool) *HandleRepository {
	return &HandleRepository{pool: pool}
}

func (r *HandleRepository) Reserve(ctx context.Context, handle, profileID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO handle_reservations (handle, reserved_by)
		VALUES ($1, $2)
	`, handle, profileID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrHandleTaken
	}
	return err
}

func (r *HandleRepository) Release(ctx context.Context, handle string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM handle_reservations WHERE handle = $1`, handle)
	return err
}
