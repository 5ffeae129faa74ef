package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clipdeck/clipdeck/libs/db"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/model"
)

type ChannelRepository struct {
	pool *db.Pool
}

func NewChannelRepository(pool *db.Pool) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

func (r *ChannelRepository) Insert(ctx context.Context, ch *model.Channel) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO channels (id, handle, title, description, branding_color, avatar_url, banner_url, owner_profile_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING version, created_at, updated_at
	`, ch.ID, ch.Handle, ch.Title, ch.Description,
		ch.Branding.Color, ch.Branding.AvatarURL, ch.Branding.BannerURL, ch.OwnerProfileID).
		Scan(&ch.Version, &ch.CreatedAt, &ch.UpdatedAt)
}

func (r *ChannelRepository) Get(ctx context.Context, id string) (model.Channel, error) {
	var ch model.Channel
	err := r.pool.QueryRow(ctx, `
		SELECT id, handle, title, description, branding_color, avatar_url, banner_url,
			owner_profile_id, version, last_handle_change_at, created_at, updated_at
		FROM channels
		WHERE id = $1
	`, id).Scan(&ch.ID, &ch.Handle, &ch.Title, &ch.Description,
		&ch.Branding.Color, &ch.Branding.AvatarURL, &ch.Branding.BannerURL,
		&ch.OwnerProfileID, &ch.Version, &ch.LastHandleChangeAt, &ch.CreatedAt, &ch.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Channel{}, ErrNotFound
	}
	if err != nil {
		return model.Channel{}, err
	}
	return ch, nil
}

func (r *ChannelRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	return err
}

// UpdateHandle moves the channel to a new handle iff the caller still holds
// the version it read. Zero rows updated means either a concurrent writer won
// (version mismatch) or the channel vanished.
func (r *ChannelRepository) UpdateHandle(ctx context.Context, id, handle string, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE channels
		SET handle = $2, version = version + 1, last_handle_change_at = now(), updated_at = now()
		WHERE id = $1 AND version = $3
	`, id, handle, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.versionOrNotFound(ctx, id)
	}
	return nil
}

// RevertHandle puts a previously committed handle change back, restoring the
// handle and the change timestamp the caller snapshotted beforehand. Unlike
// UpdateHandle it does not stamp last_handle_change_at, so an undone change
// does not start the cooldown.
func (r *ChannelRepository) RevertHandle(ctx context.Context, id, handle string, changedAt *time.Time, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE channels
		SET handle = $2, last_handle_change_at = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $4
	`, id, handle, changedAt, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.versionOrNotFound(ctx, id)
	}
	return nil
}

func (r *ChannelRepository) UpdateBranding(ctx context.Context, id string, b model.Branding, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE channels
		SET branding_color = $2, avatar_url = $3, banner_url = $4, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $5
	`, id, b.Color, b.AvatarURL, b.BannerURL, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.versionOrNotFound(ctx, id)
	}
	return nil
}

func (r *ChannelRepository) versionOrNotFound(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT true FROM channels WHERE id = $1`, id).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return ErrVersionMismatch
}
