// Package sagas defines the upload service's multi-step operations as saga
// step lists over narrow store interfaces.
package sagas

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/clipdeck/clipdeck/libs/outbox"
	"github.com/clipdeck/clipdeck/libs/saga"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/model"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/quota"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/storage"
)

const TypeInitializeUpload = "upload.initialize"

const (
	CodeUploadInvalid    = "UPLOAD_INVALID"
	CodeQuotaExceeded    = "QUOTA_EXCEEDED"
	CodeChannelUnknown   = "CHANNEL_NOT_FOUND"
	CodeUploadInitFailed = "UPLOAD_INIT_FAILED"
)

const keyUploadID = "upload_id"

type UploadStore interface {
	Insert(ctx context.Context, u *model.Upload) error
	Delete(ctx context.Context, id string) error
}

type QuotaStore interface {
	Consume(ctx context.Context, channelID string, sizeBytes int64) error
	Release(ctx context.Context, channelID string, sizeBytes int64) error
}

type EventRecorder interface {
	Record(ctx context.Context, meta outbox.Meta, events ...outbox.Event) error
}

type Deps struct {
	Uploads UploadStore
	Quotas  QuotaStore
	Events  EventRecorder
	Limits  quota.Provider
}

type InitializeUploadParams struct {
	ChannelID         string
	UploaderProfileID string
	Filename          string
	SizeBytes         int64
	CorrelationID     string
}

// InitializeUpload reserves quota for the upload before the row exists, so a
// burst of initializations cannot blow past the channel's budget. A failed
// creation hands the reserved bytes back.
func InitializeUpload(d Deps, p InitializeUploadParams) (*saga.Context, []saga.Step) {
	sc := saga.NewContext(TypeInitializeUpload)

	steps := []saga.Step{
		{
			Name: "validate-upload",
			Execute: func(ctx context.Context, _ *saga.Context) error {
				if strings.TrimSpace(p.Filename) == "" {
					return saga.Failf(CodeUploadInvalid, "filename required")
				}
				if p.SizeBytes <= 0 {
					return saga.Failf(CodeUploadInvalid, "size_bytes must be positive")
				}
				limits, err := d.Limits.ChannelLimits(ctx, p.ChannelID)
				if err != nil {
					return err
				}
				if p.SizeBytes > limits.MaxUploadBytes {
					return saga.Failf(CodeQuotaExceeded, "upload of %d bytes exceeds the %s plan's per-file limit", p.SizeBytes, limits.Plan)
				}
				return nil
			},
		},
		{
			Name:        "consume-quota",
			Compensable: true,
			Execute: func(ctx context.Context, _ *saga.Context) error {
				err := d.Quotas.Consume(ctx, p.ChannelID, p.SizeBytes)
				switch {
				case errors.Is(err, storage.ErrNoQuota):
					return saga.Failf(CodeChannelUnknown, "no quota provisioned for channel %s", p.ChannelID)
				case errors.Is(err, storage.ErrQuotaExceeded):
					return saga.Failf(CodeQuotaExceeded, "channel %s is out of upload quota", p.ChannelID)
				}
				return err
			},
			Compensate: func(ctx context.Context, _ *saga.Context) error {
				return d.Quotas.Release(ctx, p.ChannelID, p.SizeBytes)
			},
		},
		{
			Name:        "create-upload",
			Compensable: true,
			Execute: func(ctx context.Context, sc *saga.Context) error {
				u := &model.Upload{
					ID:                uuid.NewString(),
					ChannelID:         p.ChannelID,
					UploaderProfileID: p.UploaderProfileID,
					Filename:          strings.TrimSpace(p.Filename),
					SizeBytes:         p.SizeBytes,
					Status:            model.StatusInitialized,
				}
				if err := d.Uploads.Insert(ctx, u); err != nil {
					return saga.Fail(CodeUploadInitFailed, err)
				}
				sc.Set(keyUploadID, u.ID)
				return nil
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				return d.Uploads.Delete(ctx, sc.String(keyUploadID))
			},
		},
		{
			Name: "record-upload-initialized-event",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				payload, err := json.Marshal(map[string]any{
					"upload_id":           sc.String(keyUploadID),
					"channel_id":          p.ChannelID,
					"uploader_profile_id": p.UploaderProfileID,
					"filename":            strings.TrimSpace(p.Filename),
					"size_bytes":          p.SizeBytes,
				})
				if err != nil {
					return err
				}
				return d.Events.Record(ctx,
					outbox.Meta{CorrelationID: p.CorrelationID, CausationID: sc.SagaID()},
					outbox.Event{
						EventType:     "upload.initialized.v1",
						AggregateType: "upload",
						AggregateID:   sc.String(keyUploadID),
						Payload:       payload,
					})
			},
		},
	}
	return sc, steps
}
