package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/clipdeck/clipdeck/libs/db"
)

// Recorder appends events in a transaction of their own. Saga event steps use
// it when the event is the step's only effect; steps that also mutate an
// aggregate call PgStore.Append on their own transaction instead.
type Recorder struct {
	pool  *db.Pool
	store *PgStore
}

func NewRecorder(pool *db.Pool, store *PgStore) *Recorder {
	return &Recorder{pool: pool, store: store}
}

func (r *Recorder) Record(ctx context.Context, meta Meta, events ...Event) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return r.store.Append(ctx, tx, meta, events...)
	})
}
