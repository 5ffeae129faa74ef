// Package sagas defines the profile service's multi-step operations as saga
// step lists over narrow store interfaces.
package sagas

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/clipdeck/clipdeck/libs/outbox"
	"github.com/clipdeck/clipdeck/libs/saga"
	"github.com/clipdeck/clipdeck/services/profile-service/internal/model"
	"github.com/clipdeck/clipdeck/services/profile-service/internal/storage"
)

const TypeUpdateProfile = "profile.update"

const (
	CodeProfileInvalid  = "PROFILE_INVALID"
	CodeProfileNotFound = "PROFILE_NOT_FOUND"
	CodeVersionConflict = "VERSION_CONFLICT"
)

const (
	maxDisplayNameLen = 80
	maxBioLen         = 500
)

const keySnapshot = "profile_snapshot"

type ProfileStore interface {
	Get(ctx context.Context, id string) (model.Profile, error)
	Update(ctx context.Context, p model.Profile, expectedVersion int64) error
}

type EventRecorder interface {
	Record(ctx context.Context, meta outbox.Meta, events ...outbox.Event) error
}

type Deps struct {
	Profiles ProfileStore
	Events   EventRecorder
}

type UpdateProfileParams struct {
	ProfileID     string
	DisplayName   string
	Bio           string
	AvatarURL     string
	CorrelationID string
}

// UpdateProfile replaces a profile's public fields. Compensation restores the
// snapshot taken at load time (at the bumped version), so a failure after the
// write leaves no half-applied profile behind.
func UpdateProfile(d Deps, p UpdateProfileParams) (*saga.Context, []saga.Step) {
	sc := saga.NewContext(TypeUpdateProfile)

	steps := []saga.Step{
		{
			Name: "validate-profile",
			Execute: func(_ context.Context, _ *saga.Context) error {
				name := strings.TrimSpace(p.DisplayName)
				if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLen {
					return saga.Failf(CodeProfileInvalid, "display_name must be 1..%d characters", maxDisplayNameLen)
				}
				if utf8.RuneCountInString(p.Bio) > maxBioLen {
					return saga.Failf(CodeProfileInvalid, "bio must be at most %d characters", maxBioLen)
				}
				return nil
			},
		},
		{
			Name: "load-profile",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				prof, err := d.Profiles.Get(ctx, p.ProfileID)
				if errors.Is(err, storage.ErrNotFound) {
					return saga.Failf(CodeProfileNotFound, "profile %s not found", p.ProfileID)
				}
				if err != nil {
					return err
				}
				sc.Set(keySnapshot, prof)
				return nil
			},
		},
		{
			Name:        "apply-profile",
			Compensable: true,
			Execute: func(ctx context.Context, sc *saga.Context) error {
				snap, _ := saga.Value[model.Profile](sc, keySnapshot)
				next := snap
				next.DisplayName = strings.TrimSpace(p.DisplayName)
				next.Bio = p.Bio
				next.AvatarURL = p.AvatarURL
				err := d.Profiles.Update(ctx, next, snap.Version)
				if errors.Is(err, storage.ErrVersionMismatch) {
					return saga.Failf(CodeVersionConflict, "profile %s was modified concurrently", p.ProfileID)
				}
				return err
			},
			Compensate: func(ctx context.Context, sc *saga.Context) error {
				// The apply bumped the version; revert at the bumped value.
				snap, _ := saga.Value[model.Profile](sc, keySnapshot)
				return d.Profiles.Update(ctx, snap, snap.Version+1)
			},
		},
		{
			Name: "record-profile-updated-event",
			Execute: func(ctx context.Context, sc *saga.Context) error {
				payload, err := json.Marshal(map[string]string{
					"profile_id":   p.ProfileID,
					"display_name": strings.TrimSpace(p.DisplayName),
					"avatar_url":   p.AvatarURL,
				})
				if err != nil {
					return err
				}
				return d.Events.Record(ctx,
					outbox.Meta{CorrelationID: p.CorrelationID, CausationID: sc.SagaID()},
					outbox.Event{
						EventType:     "profile.updated.v1",
						AggregateType: "profile",
						AggregateID:   p.ProfileID,
						Payload:       payload,
					})
			},
		},
	}
	return sc, steps
}
