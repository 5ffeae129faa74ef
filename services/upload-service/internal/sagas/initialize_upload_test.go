package sagas

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/clipdeck/clipdeck/libs/outbox"
	"github.com/clipdeck/clipdeck/libs/saga"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/model"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/quota"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/storage"
)

type memUploads struct {
	rows       map[string]model.Upload
	failInsert bool
}

func (m *memUploads) Insert(_ context.Context, u *model.Upload) error {
	if m.failInsert {
		return errors.New("insert: connection reset")
	}
	m.rows[u.ID] = *u
	return nil
}

func (m *memUploads) Delete(_ context.Context, id string) error {
	delete(m.rows, id)
	return nil
}

type memQuotas struct {
	max  int64
	used int64
}

func (m *memQuotas) Consume(_ context.Context, channelID string, sizeBytes int64) error {
	if channelID == "unprovisioned" {
		return storage.ErrNoQuota
	}
	if m.used+sizeBytes > m.max {
		return storage.ErrQuotaExceeded
	}
	m.used += sizeBytes
	return nil
}

func (m *memQuotas) Release(_ context.Context, _ string, sizeBytes int64) error {
	m.used -= sizeBytes
	if m.used < 0 {
		m.used = 0
	}
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

func seed() (*memUploads, *memQuotas, *memEvents, Deps) {
	uploads := &memUploads{rows: map[string]model.Upload{}}
	quotas := &memQuotas{max: 1000}
	events := &memEvents{}
	deps := Deps{
		Uploads: uploads,
		Quotas:  quotas,
		Events:  events,
		Limits:  quota.NewStaticProvider(quota.Limits{MaxUploadBytes: 500, MaxActiveUploads: 5}),
	}
	return uploads, quotas, events, deps
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

func TestInitializeUpload_Success(t *testing.T) {
	uploads, quotas, events, deps := seed()

	sc, steps := InitializeUpload(deps, InitializeUploadParams{
		ChannelID: "c1", UploaderProfileID: "p1", Filename: "intro.mp4", SizeBytes: 400,
	})
	if err := run(t, sc, steps); err != nil {
		t.Fatalf("execute: %v", err)
	}

	id, _ := saga.Value[string](sc, "upload_id")
	u, ok := uploads.rows[id]
	if !ok || u.Status != model.StatusInitialized || u.SizeBytes != 400 {
		t.Fatalf("upload = %+v", u)
	}
	if quotas.used != 400 {
		t.Fatalf("used = %d", quotas.used)
	}
	if len(events.recorded) != 1 || events.recorded[0].EventType != "upload.initialized.v1" {
		t.Fatalf("events = %+v", events.recorded)
	}
}

func TestInitializeUpload_RejectsBadInput(t *testing.T) {
	_, quotas, _, deps := seed()

	sc, steps := InitializeUpload(deps, InitializeUploadParams{ChannelID: "c1", Filename: "", SizeBytes: 10})
	wantCode(t, run(t, sc, steps), CodeUploadInvalid)

	sc, steps = InitializeUpload(deps, InitializeUploadParams{ChannelID: "c1", Filename: "a.mp4", SizeBytes: 0})
	wantCode(t, run(t, sc, steps), CodeUploadInvalid)

	if quotas.used != 0 {
		t.Fatal("validation failure must not touch quota")
	}
}

func TestInitializeUpload_PerFileLimitEnforced(t *testing.T) {
	_, quotas, _, deps := seed()

	sc, steps := InitializeUpload(deps, InitializeUploadParams{
		ChannelID: "c1", Filename: "huge.mp4", SizeBytes: 501,
	})
	wantCode(t, run(t, sc, steps), CodeQuotaExceeded)
	if quotas.used != 0 {
		t.Fatal("per-file rejection must not consume quota")
	}
}

func TestInitializeUpload_ChannelBudgetEnforced(t *testing.T) {
	_, quotas, _, deps := seed()
	quotas.used = 700

	sc, steps := InitializeUpload(deps, InitializeUploadParams{
		ChannelID: "c1", Filename: "a.mp4", SizeBytes: 400,
	})
	wantCode(t, run(t, sc, steps), CodeQuotaExceeded)
	if quotas.used != 700 {
		t.Fatalf("used = %d, want untouched", quotas.used)
	}
}

func TestInitializeUpload_UnprovisionedChannel(t *testing.T) {
	_, _, _, deps := seed()

	sc, steps := InitializeUpload(deps, InitializeUploadParams{
		ChannelID: "unprovisioned", Filename: "a.mp4", SizeBytes: 10,
	})
	wantCode(t, run(t, sc, steps), CodeChannelUnknown)
}

// A failed creation must hand the reserved bytes back.
func TestInitializeUpload_InsertFailureReleasesQuota(t *testing.T) {
	uploads, quotas, events, deps := seed()
	uploads.failInsert = true

	sc, steps := InitializeUpload(deps, InitializeUploadParams{
		ChannelID: "c1", Filename: "a.mp4", SizeBytes: 400,
	})
	wantCode(t, run(t, sc, steps), CodeUploadInitFailed)

	if quotas.used != 0 {
		t.Fatalf("used = %d, want quota released", quotas.used)
	}
	if len(events.recorded) != 0 {
		t.Fatal("no event may be recorded for a failed initialization")
	}
}

func TestInitializeUpload_EventFailureRollsBackEverything(t *testing.T) {
	uploads, quotas, events, deps := seed()
	events.fail = true

	sc, steps := InitializeUpload(deps, InitializeUploadParams{
		ChannelID: "c1", Filename: "a.mp4", SizeBytes: 400,
	})
	wantCode(t, run(t, sc, steps), saga.CodeInternal)

	if len(uploads.rows) != 0 {
		t.Fatal("upload row must be compensated away")
	}
	if quotas.used != 0 {
		t.Fatalf("used = %d, want quota released", quotas.used)
	}
}
