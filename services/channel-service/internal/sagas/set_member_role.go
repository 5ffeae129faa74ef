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

const TypeSetMemberRole = "channel.set_member_role"

type SetMemberRoleParams struct {
	ChannelID       string
	ActorProfileID  string
	TargetProfileID string
	Role            model.Role
	CorrelationID   string
}

// SetMemberRole grants or changes a membership role. Only owners may do it,
// and a channel can never lose its last owner.
func SetMemberRole(d Deps, p SetMemberRoleParams) (*saga.Context, []saga.Step) {
	sc := saga.NewContext(TypeSetMemberRole)

	steps := []saga.Step{
		{
			Name: "authorize-actor",
			Execute: func(ctx context.Context, _ *saga.Context) error {
				role, err := d.Members.Role(ctx, p.ChannelID, p.ActorProfileID)
				if errors.Is(err, storage.ErrNoMembership) || (err == nil && role != model.RoleOwner) {
					return saga.Failf(CodeOwnerRequired, "profile %s is not an owner of channel %s", p.ActorProfileID, p.ChannelID)
				}
				return err
			},
		},
		{
			Name: "validate-role",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				if !p.Role.Valid() {
					return saga.Failf(CodeRoleInvalid, "unknown role %q", p.Role)
				}
				current, err := d.Members.Role(ctx, p.ChannelID, p.TargetProfileID)
				switch {
				case errors.Is(err, storage.ErrNoMembership):
					sc.Set(keyHadRole, false)
				case err != nil:
					return err
				default:
					sc.Set(keyHadRole, true)
					sc.Set(keyOldRole, current)
					if current == model.RoleOwner && p.Role != model.RoleOwner {
						owners, err := d.Members.CountOwners(ctx, p.ChannelID)
						if err != nil {
							return err
						}
						if owners <= 1 {
							return saga.Failf(CodeLastOwner, "channel %s would be left without an owner", p.ChannelID)
						}
					}
				}
				return nil
			},
		},
		{
			Name:        "apply-role",
			Compensable: true,
			Execute: func(ctx context.Context, _ *saga.Context) error {
				return d.Members.SetRole(ctx, p.ChannelID, p.TargetProfileID, p.Role)
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				had, _ := saga.Value[bool](sc, keyHadRole)
				if !had {
					return d.Members.Remove(ctx, p.ChannelID, p.TargetProfileID)
				}
				old, _ := saga.Value[model.Role](sc, keyOldRole)
				return d.Members.SetRole(ctx, p.ChannelID, p.TargetProfileID, old)
			},
		},
		{
			Name: "record-member-role-set-event",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				payload, err := json.Marshal(map[string]string{
					"channel_id": p.ChannelID,
					"profile_id": p.TargetProfileID,
					"role":       string(p.Role),
					"granted_by": p.ActorProfileID,
				})
				if err != nil {
					return err
				}
				return d.Events.Record(ctx,
					outbox.Meta{CorrelationID: p.CorrelationID, CausationID: sc.SagaID()},
					outbox.Event{
						EventType:     "channel.member_role_set.v1",
						AggregateType: "channel_member",
						AggregateID:   p.ChannelID + ":" + p.TargetProfileID,
						Payload:       payload,
					})
			},
		},
	}
	return sc, steps
}
