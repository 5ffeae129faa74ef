package sagas

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/clipdeck/clipdeck/libs/outbox"
	"github.com/clipdeck/clipdeck/libs/saga"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/handle"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/model"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/storage"
)

const TypeCreateChannel = "channel.create"

// Context keys shared between steps.
const (
	keyChannelID  = "channel_id"
	keyOldHandle  = "old_handle"
	keyOldVersion = "old_version"
	keyOldChange  = "old_handle_change_at"
	keyOldRole    = "old_role"
	keyHadRole    = "had_role"
	keyBranding   = "old_branding"
	keyOwnerID    = "owner_profile_id"
)

type CreateChannelParams struct {
	OwnerProfileID string
	Handle         string
	Title          string
	Description    string
	CorrelationID  string
}

// CreateChannel reserves the handle, creates the channel aggregate with its
// owner membership, and records channel.created.v1. The reservation and the
// channel row are separate aggregates, which is exactly why this is a saga:
// a failed creation must release the handle for the next claimant.
func CreateChannel(d Deps, p CreateChannelParams) (*saga.Context, []saga.Step) {
	sc := saga.NewContext(TypeCreateChannel)

	steps := []saga.Step{
		{
			Name: "validate-handle",
			Execute: func(_ context.Context, _ *saga.Context) error {
				if err := handle.Validate(p.Handle); err != nil {
					return saga.Fail(CodeHandleInvalid, err)
				}
				return nil
			},
		},
		{
			Name:        "reserve-handle",
			Compensable: true,
			Execute: func(ctx context.Context, _ *saga.Context) error {
				err := d.Handles.Reserve(ctx, p.Handle, p.OwnerProfileID)
				if errors.Is(err, storage.ErrHandleTaken) {
					return saga.Failf(CodeHandleTaken, "handle %q is taken", p.Handle)
				}
				return err
			},
			Compensate: func(ctx context.Context, _ *saga.Context) error {
				return d.Handles.Release(ctx, p.Handle)
			},
		},
		{
			Name:        "create-channel",
			Compensable: true,
			Execute: func(ctx context.Context, sc *saga.Context) error {
				ch := &model.Channel{
					ID:             uuid.NewString(),
					Handle:         p.Handle,
					Title:          p.Title,
					Description:    p.Description,
					OwnerProfileID: p.OwnerProfileID,
				}
				if err := d.Channels.Insert(ctx, ch); err != nil {
					return saga.Fail(CodeChannelCreationFailed, err)
				}
				if err := d.Members.SetRole(ctx, ch.ID, p.OwnerProfileID, model.RoleOwner); err != nil {
					// Partial create: remove the row before failing so the
					// compensation path has a single cleanup to do.
					_ = d.Channels.Delete(ctx, ch.ID)
					return saga.Fail(CodeChannelCreationFailed, err)
				}
				sc.Set(keyChannelID, ch.ID)
				return nil
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				id := sc.String(keyChannelID)
				if err := d.Members.Remove(ctx, id, p.OwnerProfileID); err != nil {
					return err
				}
				return d.Channels.Delete(ctx, id)
			},
		},
		{
			// Once recorded, the event will be delivered; consumers must
			// tolerate duplicates, so this step is deliberately not
			// compensated.
			Name: "record-channel-created-event",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				payload, err := json.Marshal(map[string]string{
					"channel_id":       sc.String(keyChannelID),
					"handle":           p.Handle,
					"title":            p.Title,
					"owner_profile_id": p.OwnerProfileID,
				})
				if err != nil {
					return err
				}
				return d.Events.Record(ctx,
					outbox.Meta{CorrelationID: p.CorrelationID, CausationID: sc.SagaID()},
					outbox.Event{
						EventType:     "channel.created.v1",
						AggregateType: "channel",
						AggregateID:   sc.String(keyChannelID),
						Payload:       payload,
					})
			},
		},
	}
	return sc, steps
}
