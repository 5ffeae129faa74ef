package inbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type memStore struct {
	messages map[string]*Message
}

func newMemStore() *memStore {
	return &memStore{messages: make(map[string]*Message)}
}

func (s *memStore) Get(_ context.Context, id string) (Message, error) {
	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return *m, nil
}

func (s *memStore) RecordAttempt(_ context.Context, id string) (Message, error) {
	now := time.Now()
	m, ok := s.messages[id]
	if !ok {
		m = &Message{MessageID: id, FirstSeenAt: now}
		s.messages[id] = m
	}
	m.Attempts++
	m.LastAttemptAt = &now
	return *m, nil
}

func (s *memStore) MarkProcessed(_ context.Context, id string) error {
	m := s.messages[id]
	if m.ProcessedAt == nil {
		now := time.Now()
		m.ProcessedAt = &now
		m.Error = nil
	}
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id, errMsg string) error {
	m := s.messages[id]
	if m.ProcessedAt == nil {
		m.Error = &errMsg
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcess_RedeliveryAfterSuccessIsNoOp(t *testing.T) {
	store := newMemStore()
	calls := 0
	handler := func(context.Context) error {
		calls++
		return nil
	}

	// Processed once, then redelivered three times.
	for i := 0; i < 4; i++ {
		if err := Process(context.Background(), store, testLogger(), "m1", handler); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if calls != 1 {
		t.Fatalf("handler ran %d times, want exactly once", calls)
	}
	m := store.messages["m1"]
	if m.ProcessedAt == nil {
		t.Fatal("message not marked processed")
	}
	if m.Attempts != 1 {
		t.Fatalf("duplicates must not record attempts, got %d", m.Attempts)
	}
}

func TestProcess_FailureLeavesMessageRetriable(t *testing.T) {
	store := newMemStore()
	calls := 0
	handler := func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("downstream unavailable")
		}
		return nil
	}

	if err := Process(context.Background(), store, testLogger(), "m1", handler); err == nil {
		t.Fatal("expected handler error to propagate")
	}
	m := store.messages["m1"]
	if m.ProcessedAt != nil {
		t.Fatal("failed message must stay unprocessed")
	}
	if m.Error == nil || *m.Error != "downstream unavailable" {
		t.Fatalf("expected stored error, got %v", m.Error)
	}
	if m.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", m.Attempts)
	}

	// Broker redelivers; second attempt succeeds and clears the error.
	if err := Process(context.Background(), store, testLogger(), "m1", handler); err != nil {
		t.Fatalf("process: %v", err)
	}
	if m.ProcessedAt == nil || m.Error != nil || m.Attempts != 2 {
		t.Fatalf("unexpected state after retry: %+v", m)
	}
	if calls != 2 {
		t.Fatalf("handler ran %d times, want 2", calls)
	}
}

func TestProcess_DistinctMessagesAreIndependent(t *testing.T) {
	store := newMemStore()
	var handled []string
	handler := func(id string) func(context.Context) error {
		return func(context.Context) error {
			handled = append(handled, id)
			return nil
		}
	}

	_ = Process(context.Background(), store, testLogger(), "m1", handler("m1"))
	_ = Process(context.Background(), store, testLogger(), "m2", handler("m2"))

	if len(handled) != 2 {
		t.Fatalf("expected both messages handled, got %v", handled)
	}
}
