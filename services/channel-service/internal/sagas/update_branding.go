package sagas

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/clipdeck/clipdeck/libs/outbox"
	"github.com/clipdeck/clipdeck/libs/saga"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/model"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/storage"
)

const TypeUpdateBranding = "channel.update_branding"

type UpdateBrandingParams struct {
	ChannelID     string
	Branding      model.Branding
	CorrelationID string
}

// UpdateBranding applies a channel's branding as a unit. Compensation
// restores the snapshot taken at load time (at the bumped version), so a
// failure after the write leaves no half-applied branding behind.
func UpdateBranding(d Deps, p UpdateBrandingParams) (*saga.Context, []saga.Step) {
	sc := saga.NewContext(TypeUpdateBranding)

	steps := []saga.Step{
		{
			Name: "load-channel",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				ch, err := d.Channels.Get(ctx, p.ChannelID)
				if errors.Is(err, storage.ErrNotFound) {
					return saga.Failf(CodeChannelNotFound, "channel %s not found", p.ChannelID)
				}
				if err != nil {
					return err
				}
				sc.Set(keyBranding, ch.Branding)
				sc.Set(keyOldVersion, ch.Version)
				return nil
			},
		},
		{
			Name:        "apply-branding",
			Compensable: true,
			Execute: func(ctx context.Context, sc *saga.Context) error {
				version, _ := saga.Value[int64](sc, keyOldVersion)
				err := d.Channels.UpdateBranding(ctx, p.ChannelID, p.Branding, version)
				if errors.Is(err, storage.ErrVersionMismatch) {
					return saga.Failf(CodeVersionConflict, "channel %s was modified concurrently", p.ChannelID)
				}
				return err
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				old, _ := saga.Value[model.Branding](sc, keyBranding)
				version, _ := saga.Value[int64](sc, keyOldVersion)
				return d.Channels.UpdateBranding(ctx, p.ChannelID, old, version+1)
			},
		},
		{
			Name: "record-branding-updated-event",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				payload, err := json.Marshal(struct {
					ChannelID string         `json:"channel_id"`
					Branding  model.Branding `json:"branding"`
				}{p.ChannelID, p.Branding})
				if err != nil {
					return err
				}
				return d.Events.Record(ctx,
					outbox.Meta{CorrelationID: p.CorrelationID, CausationID: sc.SagaID()},
					outbox.Event{
						EventType:     "channel.branding_updated.v1",
						AggregateType: "channel",
						AggregateID:   p.ChannelID,
						Payload:       payload,
					})
			},
		},
	}
	return sc, steps
}
