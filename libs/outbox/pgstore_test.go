package outbox

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clipdeck/clipdeck/libs/db"
)

// These tests exercise the SQL-level guarantees (transactional append,
// skip-locked batch disjointness, retry visibility) against a real Postgres.
// They skip unless TEST_DATABASE_URL is set.

func testPool(t *testing.T) *db.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS outbox_events (
			id UUID PRIMARY KEY,
			event_type TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}',
			correlation_id TEXT NOT NULL DEFAULT '',
			causation_id TEXT NOT NULL DEFAULT '',
			traceparent TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			dispatched_at TIMESTAMPTZ,
			broker_message_id TEXT,
			error TEXT
		)
	`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE outbox_events`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func appendEvents(t *testing.T, pool *db.Pool, store *PgStore, n int) {
	t.Helper()
	err := db.WithTx(context.Background(), pool, func(ctx context.Context, tx pgx.Tx) error {
		for i := 0; i < n; i++ {
			if err := store.Append(ctx, tx, Meta{CorrelationID: "corr-1"}, Event{
				EventType:     "channel.created.v1",
				AggregateType: "channel",
				AggregateID:   "chan-1",
				Payload:       []byte(`{}`),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestPgStore_AppendRollsBackWithBusinessTx(t *testing.T) {
	pool := testPool(t)
	store := NewPgStore(pool)
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Append(ctx, tx, Meta{}, Event{
		EventType: "channel.created.v1", AggregateType: "channel", AggregateID: "c1", Payload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	n, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("rolled-back append left %d visible rows", n)
	}
}

func TestPgStore_ConcurrentFetchesAreDisjoint(t *testing.T) {
	pool := testPool(t)
	store := NewPgStore(pool)
	ctx := context.Background()
	appendEvents(t, pool, store, 10)

	tx1, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx1.Rollback(ctx) }()
	tx2, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx2.Rollback(ctx) }()

	batch1, err := store.FetchPendingBatch(ctx, tx1, 6)
	if err != nil {
		t.Fatalf("fetch 1: %v", err)
	}
	batch2, err := store.FetchPendingBatch(ctx, tx2, 6)
	if err != nil {
		t.Fatalf("fetch 2: %v", err)
	}

	seen := make(map[string]bool)
	for _, evt := range batch1 {
		seen[evt.ID] = true
	}
	for _, evt := range batch2 {
		if seen[evt.ID] {
			t.Fatalf("event %s appeared in both concurrent batches", evt.ID)
		}
	}
	if len(batch1)+len(batch2) != 10 {
		t.Fatalf("expected the two batches to cover all 10 events, got %d+%d", len(batch1), len(batch2))
	}
}

func TestPgStore_FailedEventStaysPending(t *testing.T) {
	pool := testPool(t)
	store := NewPgStore(pool)
	ctx := context.Background()
	appendEvents(t, pool, store, 1)

	err := store.DrainPending(ctx, 10, func(_ context.Context, events []Event) []Disposition {
		return []Disposition{{EventID: events[0].ID, Err: testError("broker down")}}
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	var got []Event
	err = store.DrainPending(ctx, 10, func(_ context.Context, events []Event) []Disposition {
		got = events
		var ds []Disposition
		for _, evt := range events {
			ds = append(ds, Disposition{EventID: evt.ID, BrokerMessageID: evt.ID})
		}
		return ds
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("failed event not returned by next drain: %v", got)
	}

	n, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 pending after successful redispatch, got %d", n)
	}
}

type testError string

func (e testError) Error() string { return string(e) }
