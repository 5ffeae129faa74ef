package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clipdeck/clipdeck/libs/db"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/model"
)

type QuotaRepository struct {
	pool *db.Pool
}

func NewQuotaRepository(pool *db.Pool) *QuotaRepository {
	return &QuotaRepository{pool: pool}
}

// Provision creates the quota row for a channel if it does not exist yet.
// Safe under redelivery: an existing row is left untouched.
func (r *QuotaRepository) Provision(ctx context.Context, channelID string, maxActiveUploads int32, maxTotalBytes int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO channel_quotas (channel_id, max_active_uploads, max_total_bytes)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_id) DO NOTHING
	`, channelID, maxActiveUploads, maxTotalBytes)
	return err
}

func (r *QuotaRepository) Get(ctx context.Context, channelID string) (model.Quota, error) {
	var q model.Quota
	err := r.pool.QueryRow(ctx, `
		SELECT channel_id, max_active_uploads, max_total_bytes, active_uploads, used_bytes, updated_at
		FROM channel_quotas
		WHERE channel_id = $1
	`, channelID).Scan(&q.ChannelID, &q.MaxActiveUploads, &q.MaxTotalBytes, &q.ActiveUploads, &q.UsedBytes, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Quota{}, ErrNoQuota
	}
	if err != nil {
		return model.Quota{}, err
	}
	return q, nil
}

// Consume takes sizeBytes out of the channel's budget in one guarded update,
// so concurrent initializations can never oversubscribe the channel.
func (r *QuotaRepository) Consume(ctx context.Context, channelID string, sizeBytes int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE channel_quotas
		SET used_bytes = used_bytes + $2, active_uploads = active_uploads + 1, updated_at = now()
		WHERE channel_id = $1
		  AND used_bytes + $2 <= max_total_bytes
		  AND active_uploads + 1 <= max_active_uploads
	`, channelID, sizeBytes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT true FROM channel_quotas WHERE channel_id = $1`, channelID).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNoQuota
			}
			return err
		}
		return ErrQuotaExceeded
	}
	return nil
}

// Release gives consumed budget back. Clamped at zero so a double release
// never drives the counters negative.
func (r *QuotaRepository) Release(ctx context.Context, channelID string, sizeBytes int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channel_quotas
		SET used_bytes = GREATEST(used_bytes - $2, 0),
		    active_uploads = GREATEST(active_uploads - 1, 0),
		    updated_at = now()
		WHERE channel_id = $1
	`, channelID, sizeBytes)
	return err
}
