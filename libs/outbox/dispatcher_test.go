package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"
)

type memStore struct {
	events []Event // ordered by CreatedAt
}

func (s *memStore) DrainPending(ctx context.Context, limit int, fn func(ctx context.Context, events []Event) []Disposition) error {
	var batch []Event
	for _, evt := range s.events {
		if evt.DispatchedAt == nil {
			batch = append(batch, evt)
		}
		if len(batch) == limit {
			break
		}
	}
	if len(batch) == 0 {
		return nil
	}
	byID := make(map[string]*Event)
	for i := range s.events {
		byID[s.events[i].ID] = &s.events[i]
	}
	for _, d := range fn(ctx, batch) {
		evt := byID[d.EventID]
		if d.Err != nil {
			msg := truncateError(d.Err.Error())
			evt.Error = &msg
			continue
		}
		now := time.Now()
		evt.DispatchedAt = &now
		id := d.BrokerMessageID
		evt.BrokerMessageID = &id
		evt.Error = nil
	}
	return nil
}

type fakePublisher struct {
	failTypes map[string]bool
	brokerIDs map[string]string
	published []string
}

func (p *fakePublisher) Publish(_ context.Context, evt Event) error {
	if p.failTypes[evt.EventType] {
		return &PublishError{Err: errors.New("broker unavailable")}
	}
	p.published = append(p.published, evt.ID)
	return nil
}

func (p *fakePublisher) BrokerMessageID(evt Event) string {
	return p.brokerIDs[evt.ID]
}

func testDispatcher(store Store, pub Publisher) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(store, pub, logger, DispatcherConfig{Interval: time.Hour, BatchSize: 10})
}

func pendingIDs(s *memStore) []string {
	var ids []string
	for _, evt := range s.events {
		if evt.DispatchedAt == nil {
			ids = append(ids, evt.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func TestTick_PublishesAndMarksDispatched(t *testing.T) {
	store := &memStore{events: []Event{
		{ID: "e1", EventType: "channel.created.v1"},
		{ID: "e2", EventType: "channel.created.v1"},
	}}
	pub := &fakePublisher{}

	if err := testDispatcher(store, pub).Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(pendingIDs(store)) != 0 {
		t.Fatalf("expected no pending events, got %v", pendingIDs(store))
	}
	// Kafka assigns no id: broker_message_id falls back to the outbox id.
	if store.events[0].BrokerMessageID == nil || *store.events[0].BrokerMessageID != "e1" {
		t.Fatalf("expected broker id fallback to outbox id, got %v", store.events[0].BrokerMessageID)
	}
}

func TestTick_BrokerAssignedIDIsStored(t *testing.T) {
	store := &memStore{events: []Event{{ID: "e1", EventType: "profile.updated.v1"}}}
	pub := &fakePublisher{brokerIDs: map[string]string{"e1": "sb-4711"}}

	if err := testDispatcher(store, pub).Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if *store.events[0].BrokerMessageID != "sb-4711" {
		t.Fatalf("expected broker-assigned id, got %q", *store.events[0].BrokerMessageID)
	}
}

func TestTick_FailingEventDoesNotBlockBatch(t *testing.T) {
	store := &memStore{events: []Event{
		{ID: "e1", EventType: "poison.v1"},
		{ID: "e2", EventType: "channel.created.v1"},
		{ID: "e3", EventType: "channel.created.v1"},
	}}
	pub := &fakePublisher{failTypes: map[string]bool{"poison.v1": true}}

	if err := testDispatcher(store, pub).Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if got := pendingIDs(store); len(got) != 1 || got[0] != "e1" {
		t.Fatalf("expected only e1 pending, got %v", got)
	}
	if store.events[0].Error == nil {
		t.Fatal("failed event should carry its error")
	}
	if len(pub.published) != 2 {
		t.Fatalf("expected e2 and e3 published, got %v", pub.published)
	}
}

func TestTick_FailedEventRetriedOnNextTick(t *testing.T) {
	store := &memStore{events: []Event{{ID: "e1", EventType: "poison.v1"}}}
	pub := &fakePublisher{failTypes: map[string]bool{"poison.v1": true}}
	d := testDispatcher(store, pub)

	_ = d.Tick(context.Background())
	if len(pendingIDs(store)) != 1 {
		t.Fatal("event should stay pending after failed publish")
	}

	// Broker recovers; next tick drains it.
	pub.failTypes = nil
	_ = d.Tick(context.Background())
	if len(pendingIDs(store)) != 0 {
		t.Fatal("event should be dispatched after broker recovery")
	}
	if store.events[0].Error != nil {
		t.Fatal("dispatch should clear the stale error")
	}
}

func TestDispatcher_PauseResume(t *testing.T) {
	store := &memStore{events: []Event{{ID: "e1", EventType: "channel.created.v1"}}}
	pub := &fakePublisher{}
	d := testDispatcher(store, pub)

	d.Pause()
	if d.Enabled() {
		t.Fatal("expected disabled")
	}
	d.Resume()
	if !d.Enabled() {
		t.Fatal("expected enabled")
	}
}

func TestTruncateError_Bounded(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	if got := truncateError(string(long)); len(got) != maxErrorLen {
		t.Fatalf("expected %d bytes, got %d", maxErrorLen, len(got))
	}
	if got := truncateError("short"); got != "short" {
		t.Fatalf("short error mangled: %q", got)
	}
}
