package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/clipdeck/clipdeck/libs/db"
	otelx "github.com/clipdeck/clipdeck/libs/otel"
)

// Store is what the dispatcher needs from the persistence layer. DrainPending
// must guarantee that events handed to fn are invisible to concurrent drains
// for the duration of the call, and that the marks from the returned
// dispositions become durable together; skip-locked row claims are the sole
// concurrency control between dispatcher instances.
type Store interface {
	DrainPending(ctx context.Context, limit int, fn func(ctx context.Context, events []Event) []Disposition) error
}

// PgStore persists outbox rows in Postgres.
type PgStore struct {
	pool *db.Pool
}

func NewPgStore(pool *db.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Append writes one row per event inside the caller's transaction. It stamps
// a sortable id, created_at, the W3C traceparent from ctx, and the causality
// ids from meta. Committing or rolling back is the caller's business; the
// whole point is that the events share the business mutation's transaction.
func (s *PgStore) Append(ctx context.Context, tx pgx.Tx, meta Meta, events ...Event) error {
	traceparent, _ := otelx.TraceContextStrings(ctx)
	for i := range events {
		evt := &events[i]
		if evt.ID == "" {
			evt.ID = newEventID()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO outbox_events
				(id, event_type, aggregate_type, aggregate_id, payload, correlation_id, causation_id, traceparent)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, evt.ID, evt.EventType, evt.AggregateType, evt.AggregateID, evt.Payload,
			meta.CorrelationID, meta.CausationID, traceparent)
		if err != nil {
			return err
		}
	}
	return nil
}

// FetchPendingBatch locks up to limit undispatched rows, oldest first. Rows
// locked by a concurrent fetch are skipped, not waited on, so parallel
// dispatchers drain disjoint batches and a crashed dispatcher's locks die with
// its transaction.
func (s *PgStore) FetchPendingBatch(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_type, aggregate_type, aggregate_id, payload,
			correlation_id, causation_id, traceparent, created_at
		FROM outbox_events
		WHERE dispatched_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.EventType, &evt.AggregateType, &evt.AggregateID,
			&evt.Payload, &evt.CorrelationID, &evt.CausationID, &evt.Traceparent, &evt.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// MarkDispatched sets dispatched_at exactly once; a dispatched row never goes
// back to pending.
func (s *PgStore) MarkDispatched(ctx context.Context, tx pgx.Tx, id, brokerMessageID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET dispatched_at = now(), broker_message_id = $2, error = NULL
		WHERE id = $1 AND dispatched_at IS NULL
	`, id, brokerMessageID)
	return err
}

func (s *PgStore) MarkFailed(ctx context.Context, tx pgx.Tx, id, errMsg string) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET error = $2
		WHERE id = $1 AND dispatched_at IS NULL
	`, id, truncateError(errMsg))
	return err
}

// DrainPending implements Store: one transaction spans fetch, fn and marks so
// the row locks are held until the dispositions commit.
func (s *PgStore) DrainPending(ctx context.Context, limit int, fn func(ctx context.Context, events []Event) []Disposition) error {
	return db.WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		events, err := s.FetchPendingBatch(ctx, tx, limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, d := range fn(ctx, events) {
			if d.Err != nil {
				if err := s.MarkFailed(ctx, tx, d.EventID, d.Err.Error()); err != nil {
					return err
				}
				continue
			}
			if err := s.MarkDispatched(ctx, tx, d.EventID, d.BrokerMessageID); err != nil {
				return err
			}
		}
		return nil
	})
}

// PendingCount reports undispatched rows; used by ready checks and tests.
func (s *PgStore) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events WHERE dispatched_at IS NULL`).Scan(&n)
	return n, err
}

var _ Store = (*PgStore)(nil)

// Get loads a single row including dispatch bookkeeping; primarily for tests
// and operational inspection.
func (s *PgStore) Get(ctx context.Context, id string) (Event, error) {
	var evt Event
	err := s.pool.QueryRow(ctx, `
		SELECT id, event_type, aggregate_type, aggregate_id, payload,
			correlation_id, causation_id, traceparent, created_at,
			dispatched_at, broker_message_id, error
		FROM outbox_events
		WHERE id = $1
	`, id).Scan(&evt.ID, &evt.EventType, &evt.AggregateType, &evt.AggregateID,
		&evt.Payload, &evt.CorrelationID, &evt.CausationID, &evt.Traceparent, &evt.CreatedAt,
		&evt.DispatchedAt, &evt.BrokerMessageID, &evt.Error)
	if err != nil {
		return Event{}, err
	}
	return evt, nil
}
