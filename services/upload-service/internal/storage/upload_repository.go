package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clipdeck/clipdeck/libs/db"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/model"
)

type UploadRepository struct {
	pool *db.Pool
}

func NewUploadRepository(pool *db.Pool) *UploadRepository {
	return &UploadRepository{pool: pool}
}

func (r *UploadRepository) Insert(ctx context.Context, u *model.Upload) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO uploads (id, channel_id, uploader_profile_id, filename, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, u.ID, u.ChannelID, u.UploaderProfileID, u.Filename, u.SizeBytes, u.Status).
		Scan(&u.CreatedAt)
}

func (r *UploadRepository) Get(ctx context.Context, id string) (model.Upload, error) {
	var u model.Upload
	err := r.pool.QueryRow(ctx, `
		SELECT id, channel_id, uploader_profile_id, filename, size_bytes, status, created_at
		FROM uploads
		WHERE id = $1
	`, id).Scan(&u.ID, &u.ChannelID, &u.UploaderProfileID, &u.Filename, &u.SizeBytes, &u.Status, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Upload{}, ErrNotFound
	}
	if err != nil {
		return model.Upload{}, err
	}
	return u, nil
}

func (r *UploadRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM uploads WHERE id = $1`, id)
	return err
}

func (r *UploadRepository) ListByChannel(ctx context.Context, channelID string, limit int) ([]model.Upload, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, channel_id, uploader_profile_id, filename, size_bytes, status, created_at
		FROM uploads
		WHERE channel_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Upload
	for rows.Next() {
		var u model.Upload
		if err := rows.Scan(&u.ID, &u.ChannelID, &u.UploaderProfileID, &u.Filename, &u.SizeBytes, &u.Status, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
