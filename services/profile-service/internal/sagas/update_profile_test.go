package sagas

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/clipdeck/clipdeck/libs/outbox"
	"github.com/clipdeck/clipdeck/libs/saga"
	"github.com/clipdeck/clipdeck/services/profile-service/internal/model"
	"github.com/clipdeck/clipdeck/services/profile-service/internal/storage"
)

type memProfiles struct {
	rows map[string]model.Profile
}

func (m *memProfiles) Get(_ context.Context, id string) (model.Profile, error) {
	p, ok := m.rows[id]
	if !ok {
		return model.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *memProfiles) Update(_ context.Context, p model.Profile, expectedVersion int64) error {
	cur, ok := m.rows[p.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return storage.ErrVersionMismatch
	}
	p.Version = cur.Version + 1
	p.UpdatedAt = time.Now()
	m.rows[p.ID] = p
	return nil
}

type memEvents struct {
	recorded []outbox.Event
	fail     bool
}

func (m *memEvents) Record(_ context.Context, _ outbox.Meta, events ...outbox.Event) error {
	if m.fail {
		return errors.New("record: outbox insert failed")
	}
	m.recorded = append(m.recorded, events...)
	return nil
}

func seed() (*memProfiles, *memEvents, Deps) {
	profiles := &memProfiles{rows: map[string]model.Profile{
		"p1": {ID: "p1", DisplayName: "Old Name", Bio: "old bio", Version: 1},
	}}
	events := &memEvents{}
	return profiles, events, Deps{Profiles: profiles, Events: events}
}

func run(t *testing.T, sc *saga.Context, steps []saga.Step) error {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return saga.NewExecutor(logger).Execute(context.Background(), sc, steps)
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	var ee *saga.ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("want ExecutionError, got %v", err)
	}
	if ee.Code != code {
		t.Fatalf("code = %q, want %q", ee.Code, code)
	}
}

func TestUpdateProfile_Success(t *testing.T) {
	profiles, events, deps := seed()

	sc, steps := UpdateProfile(deps, UpdateProfileParams{
		ProfileID: "p1", DisplayName: "  New Name  ", Bio: "new bio", AvatarURL: "https://cdn/a.png",
	})
	if err := run(t, sc, steps); err != nil {
		t.Fatalf("execute: %v", err)
	}

	p := profiles.rows["p1"]
	if p.DisplayName != "New Name" || p.Bio != "new bio" || p.Version != 2 {
		t.Fatalf("profile = %+v", p)
	}
	if len(events.recorded) != 1 || events.recorded[0].EventType != "profile.updated.v1" {
		t.Fatalf("events = %+v", events.recorded)
	}
}

func TestUpdateProfile_ValidationRejectsOversizedFields(t *testing.T) {
	_, _, deps := seed()

	sc, steps := UpdateProfile(deps, UpdateProfileParams{
		ProfileID: "p1", DisplayName: strings.Repeat("x", 81),
	})
	wantCode(t, run(t, sc, steps), CodeProfileInvalid)

	sc, steps = UpdateProfile(deps, UpdateProfileParams{
		ProfileID: "p1", DisplayName: "ok", Bio: strings.Repeat("x", 501),
	})
	wantCode(t, run(t, sc, steps), CodeProfileInvalid)
}

func TestUpdateProfile_UnknownProfile(t *testing.T) {
	_, _, deps := seed()

	sc, steps := UpdateProfile(deps, UpdateProfileParams{ProfileID: "ghost", DisplayName: "n"})
	wantCode(t, run(t, sc, steps), CodeProfileNotFound)
}

func TestUpdateProfile_ConcurrentWriteDetected(t *testing.T) {
	profiles, _, deps := seed()

	sc, steps := UpdateProfile(deps, UpdateProfileParams{ProfileID: "p1", DisplayName: "New Name"})
	for i := range steps {
		if steps[i].Name != "apply-profile" {
			continue
		}
		inner := steps[i].Execute
		steps[i].Execute = func(ctx context.Context, sc *saga.Context) error {
			// Simulate a concurrent writer between load and apply.
			p := profiles.rows["p1"]
			p.Version++
			profiles.rows["p1"] = p
			return inner(ctx, sc)
		}
	}
	wantCode(t, run(t, sc, steps), CodeVersionConflict)

	if got := profiles.rows["p1"].DisplayName; got != "Old Name" {
		t.Fatalf("display name = %q, want untouched", got)
	}
}

func TestUpdateProfile_EventFailureRestoresSnapshot(t *testing.T) {
	profiles, events, deps := seed()
	events.fail = true

	sc, steps := UpdateProfile(deps, UpdateProfileParams{
		ProfileID: "p1", DisplayName: "New Name", Bio: "new bio",
	})
	wantCode(t, run(t, sc, steps), saga.CodeInternal)

	p := profiles.rows["p1"]
	if p.DisplayName != "Old Name" || p.Bio != "old bio" {
		t.Fatalf("profile = %+v, want snapshot restored", p)
	}
}
