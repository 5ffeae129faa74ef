// Package sagas defines the channel service's multi-step operations as saga
// step lists over narrow store interfaces.
package sagas

import (
	"context"
	"time"

	"github.com/clipdeck/clipdeck/libs/outbox"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/model"
)

type ChannelStore interface {
	Insert(ctx context.Context, ch *model.Channel) error
	Get(ctx context.Context, id string) (model.Channel, error)
	Delete(ctx context.Context, id string) error
	UpdateHandle(ctx context.Context, id, handle string, expectedVersion int64) error
	RevertHandle(ctx context.Context, id, handle string, changedAt *time.Time, expectedVersion int64) error
	UpdateBranding(ctx context.Context, id string, b model.Branding, expectedVersion int64) error
}

type HandleStore interface {
	Reserve(ctx context.Context, handle, profileID string) error
	Release(ctx context.Context, handle string) error
}

type MemberStore interface {
	Role(ctx context.Context, channelID, profileID string) (model.Role, error)
	SetRole(ctx context.Context, channelID, profileID string, role model.Role) error
	Remove(ctx context.Context, channelID, profileID string) error
	CountOwners(ctx context.Context, channelID string) (int, error)
}

type EventRecorder interface {
	Record(ctx context.Context, meta outbox.Meta, events ...outbox.Event) error
}

// Deps bundles everything the channel sagas touch. Now is injectable for the
// cooldown tests.
type Deps struct {
	Channels ChannelStore
	Handles  HandleStore
	Members  MemberStore
	Events   EventRecorder

	HandleCooldown time.Duration
	Now            func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

const DefaultHandleCooldown = 14 * 24 * time.Hour
