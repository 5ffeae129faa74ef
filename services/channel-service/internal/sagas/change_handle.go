package sagas

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/clipdeck/clipdeck/libs/outbox"
	"github.com/clipdeck/clipdeck/libs/saga"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/handle"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/model"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/storage"
)

const TypeChangeHandle = "channel.change_handle"

type ChangeHandleParams struct {
	ChannelID      string
	NewHandle      string
	ActorProfileID string
	CorrelationID  string
}

// ChangeHandle swaps a channel's handle. The old handle stays reserved until
// the swap committed, so at no point can a third party grab either handle
// mid-saga; any failure puts the channel back exactly as it was.
func ChangeHandle(d Deps, p ChangeHandleParams) (*saga.Context, []saga.Step) {
	sc := saga.NewContext(TypeChangeHandle)
	cooldown := d.HandleCooldown
	if cooldown <= 0 {
		cooldown = DefaultHandleCooldown
	}

	steps := []saga.Step{
		{
			Name: "validate-new-handle",
			Execute: func(_ context.Context, _ *saga.Context) error {
				if err := handle.Validate(p.NewHandle); err != nil {
					return saga.Fail(CodeHandleInvalid, err)
				}
				return nil
			},
		},
		{
			// Pure reads: loads the channel, checks authorization and the
			// change cooldown, and snapshots what the commit step needs.
			Name: "load-channel",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				ch, err := d.Channels.Get(ctx, p.ChannelID)
				if errors.Is(err, storage.ErrNotFound) {
					return saga.Failf(CodeChannelNotFound, "channel %s not found", p.ChannelID)
				}
				if err != nil {
					return err
				}
				role, err := d.Members.Role(ctx, p.ChannelID, p.ActorProfileID)
				if errors.Is(err, storage.ErrNoMembership) || (err == nil && role != model.RoleOwner) {
					return saga.Failf(CodeOwnerRequired, "profile %s is not an owner of channel %s", p.ActorProfileID, p.ChannelID)
				}
				if err != nil {
					return err
				}
				if ch.Handle == p.NewHandle {
					return saga.Failf(CodeHandleUnchanged, "handle is already %q", p.NewHandle)
				}
				if ch.LastHandleChangeAt != nil && d.now().Sub(*ch.LastHandleChangeAt) < cooldown {
					return saga.Failf(CodeHandleCooldown, "handle changed at %s, cooldown %s not elapsed",
						ch.LastHandleChangeAt.Format("2006-01-02"), cooldown)
				}
				sc.Set(keyOldHandle, ch.Handle)
				sc.Set(keyOldVersion, ch.Version)
				sc.Set(keyOldChange, ch.LastHandleChangeAt)
				sc.Set(keyOwnerID, ch.OwnerProfileID)
				return nil
			},
		},
		{
			Name:        "reserve-new-handle",
			Compensable: true,
			Execute: func(ctx context.Context, _ *saga.Context) error {
				err := d.Handles.Reserve(ctx, p.NewHandle, p.ActorProfileID)
				if errors.Is(err, storage.ErrHandleTaken) {
					return saga.Failf(CodeHandleTaken, "handle %q is taken", p.NewHandle)
				}
				return err
			},
			Compensate: func(ctx context.Context, _ *saga.Context) error {
				return d.Handles.Release(ctx, p.NewHandle)
			},
		},
		{
			Name:        "commit-new-handle",
			Compensable: true,
			Execute: func(ctx context.Context, sc *saga.Context) error {
				version, _ := saga.Value[int64](sc, keyOldVersion)
				err := d.Channels.UpdateHandle(ctx, p.ChannelID, p.NewHandle, version)
				if errors.Is(err, storage.ErrVersionMismatch) {
					return saga.Failf(CodeVersionConflict, "channel %s was modified concurrently", p.ChannelID)
				}
				return err
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				// The commit bumped the version; revert at the bumped value.
				// RevertHandle restores the snapshotted change timestamp so an
				// undone change leaves the cooldown clock untouched and the
				// caller can retry immediately.
				version, _ := saga.Value[int64](sc, keyOldVersion)
				changedAt, _ := saga.Value[*time.Time](sc, keyOldChange)
				return d.Channels.RevertHandle(ctx, p.ChannelID, sc.String(keyOldHandle), changedAt, version+1)
			},
		},
		{
			Name:        "release-old-handle",
			Compensable: true,
			Execute: func(ctx context.Context, sc *saga.Context) error {
				return d.Handles.Release(ctx, sc.String(keyOldHandle))
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				return d.Handles.Reserve(ctx, sc.String(keyOldHandle), sc.String(keyOwnerID))
			},
		},
		{
			Name: "record-handle-changed-event",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				payload, err := json.Marshal(map[string]string{
					"channel_id": p.ChannelID,
					"old_handle": sc.String(keyOldHandle),
					"new_handle": p.NewHandle,
				})
				if err != nil {
					return err
				}
				return d.Events.Record(ctx,
					outbox.Meta{CorrelationID: p.CorrelationID, CausationID: sc.SagaID()},
					outbox.Event{
						EventType:     "channel.handle_changed.v1",
						AggregateType: "channel",
						AggregateID:   p.ChannelID,
						Payload:       payload,
					})
			},
		},
	}
	return sc, steps
}
