package idempotency

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type memStore struct {
	byKey     map[string]Record
	saveErr   error
	saveCalls int
}

func newMemStore() *memStore {
	return &memStore{byKey: make(map[string]Record)}
}

func (s *memStore) Lookup(_ context.Context, key, hash string) (Record, error) {
	rec, ok := s.byKey[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.RequestHash != hash {
		return Record{}, ErrKeyReuse
	}
	return rec, nil
}

func (s *memStore) Save(_ context.Context, key, hash string, status int, contentType string, body []byte) error {
	s.saveCalls++
	if s.saveErr != nil {
		return s.saveErr
	}
	if _, ok := s.byKey[key]; ok {
		return ErrDuplicate
	}
	s.byKey[key] = Record{Key: key, RequestHash: hash, StatusCode: status, ContentType: contentType, Body: body, CreatedAt: time.Now()}
	return nil
}

func testHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"call":%d}`, *calls)
	})
}

func do(t *testing.T, h http.Handler, method, path, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(Header, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func wrap(store Store, calls *int) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Middleware(store, logger)(testHandler(calls))
}

func TestMiddleware_ReplaysIdenticalRequest(t *testing.T) {
	store := newMemStore()
	calls := 0
	h := wrap(store, &calls)

	first := do(t, h, http.MethodPost, "/api/v1/channels", `{"handle":"newchan"}`, "key-1")
	second := do(t, h, http.MethodPost, "/api/v1/channels", `{"handle":"newchan"}`, "key-1")

	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if second.Code != first.Code {
		t.Fatalf("replayed status %d differs from original %d", second.Code, first.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body %q differs from original %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get(ReplayHeader) != "true" {
		t.Fatal("replay must be marked")
	}
	if first.Header().Get(ReplayHeader) != "" {
		t.Fatal("original response must not be marked as replay")
	}
}

func TestMiddleware_ReplayKeepsOriginalContentType(t *testing.T) {
	store := newMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Middleware(store, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))

	do(t, h, http.MethodPost, "/api/v1/exports", "", "key-1")
	rr := do(t, h, http.MethodPost, "/api/v1/exports", "", "key-1")

	if got := rr.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Fatalf("replayed Content-Type = %q, want the original", got)
	}
	if rr.Code != http.StatusAccepted || rr.Body.String() != "queued" {
		t.Fatalf("replay = %d %q, want 202 queued", rr.Code, rr.Body.String())
	}
}

func TestMiddleware_KeyReuseWithDifferentBodyIsRejected(t *testing.T) {
	store := newMemStore()
	calls := 0
	h := wrap(store, &calls)

	do(t, h, http.MethodPost, "/api/v1/channels", `{"handle":"one"}`, "key-1")
	rr := do(t, h, http.MethodPost, "/api/v1/channels", `{"handle":"two"}`, "key-1")

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "IDEMPOTENCY_KEY_REUSED") {
		t.Fatalf("expected key-reuse error, got %s", rr.Body.String())
	}
	if calls != 1 {
		t.Fatalf("mismatched request must not reach the handler, calls=%d", calls)
	}
	if len(store.byKey) != 1 {
		t.Fatal("mismatched request must not overwrite the stored record")
	}
}

func TestMiddleware_DifferentMethodOrPathChangesHash(t *testing.T) {
	store := newMemStore()
	calls := 0
	h := wrap(store, &calls)

	do(t, h, http.MethodPost, "/api/v1/channels", `{}`, "key-1")
	rr := do(t, h, http.MethodPut, "/api/v1/channels", `{}`, "key-1")

	if rr.Code != http.StatusConflict {
		t.Fatalf("same key on a different request signature must conflict, got %d", rr.Code)
	}
}

func TestMiddleware_SaveRaceReplaysWinner(t *testing.T) {
	store := newMemStore()
	calls := 0
	_ = wrap(store, &calls)

	// Seed the winner's record as if a concurrent retry committed first.
	winnerHash := requestHash(http.MethodPost, "/api/v1/channels", []byte(`{"handle":"newchan"}`))
	winner := Record{Key: "key-1", RequestHash: winnerHash, StatusCode: http.StatusCreated, Body: []byte(`{"call":0}`)}

	// Simulate the race: lookup misses, save hits the constraint.
	race := &racingStore{memStore: store, winner: winner}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hRace := Middleware(race, logger)(testHandler(&calls))

	rr := do(t, hRace, http.MethodPost, "/api/v1/channels", `{"handle":"newchan"}`, "key-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected winner's status, got %d", rr.Code)
	}
	if rr.Body.String() != `{"call":0}` {
		t.Fatalf("expected winner's body, got %s", rr.Body.String())
	}
	if calls != 1 {
		t.Fatalf("loser still executes once, calls=%d", calls)
	}
}

// racingStore misses on the first lookup, rejects the save, then serves the
// winner's record, the unique-constraint race in miniature.
type racingStore struct {
	*memStore
	winner  Record
	lookups int
}

func (s *racingStore) Lookup(ctx context.Context, key, hash string) (Record, error) {
	s.lookups++
	if s.lookups == 1 {
		return Record{}, ErrNotFound
	}
	return s.winner, nil
}

func (s *racingStore) Save(context.Context, string, string, int, string, []byte) error {
	return ErrDuplicate
}

func TestMiddleware_PassThroughWithoutKeyOrOnReads(t *testing.T) {
	store := newMemStore()
	calls := 0
	h := wrap(store, &calls)

	do(t, h, http.MethodPost, "/api/v1/channels", `{}`, "")
	do(t, h, http.MethodGet, "/api/v1/channels/c1", "", "key-1")

	if calls != 2 {
		t.Fatalf("expected pass-through for both, calls=%d", calls)
	}
	if store.saveCalls != 0 {
		t.Fatal("pass-through requests must not be cached")
	}
	if len(store.byKey) != 0 {
		t.Fatal("nothing should be stored")
	}
}

func TestMiddleware_SaveFailureStillReturnsResponse(t *testing.T) {
	store := newMemStore()
	store.saveErr = fmt.Errorf("db down")
	calls := 0
	h := wrap(store, &calls)

	rr := do(t, h, http.MethodPost, "/api/v1/channels", `{}`, "key-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected the handler's response despite save failure, got %d", rr.Code)
	}
}
