package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clipdeck/clipdeck/libs/db"
	"github.com/clipdeck/clipdeck/services/profile-service/internal/model"
)

type ProfileRepository struct {
	pool *db.Pool
}

func NewProfileRepository(pool *db.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

func (r *ProfileRepository) Insert(ctx context.Context, p *model.Profile) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, display_name, bio, avatar_url)
		VALUES ($1, $2, $3, $4)
		RETURNING version, created_at, updated_at
	`, p.ID, p.DisplayName, p.Bio, p.AvatarURL).
		Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
}

func (r *ProfileRepository) Get(ctx context.Context, id string) (model.Profile, error) {
	var p model.Profile
	err := r.pool.QueryRow(ctx, `
		SELECT id, display_name, bio, avatar_url, version, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`, id).Scan(&p.ID, &p.DisplayName, &p.Bio, &p.AvatarURL, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Profile{}, ErrNotFound
	}
	if err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

// Update overwrites the mutable fields iff the caller still holds the version
// it read. Zero rows updated means either a concurrent writer won (version
// mismatch) or the profile vanished.
func (r *ProfileRepository) Update(ctx context.Context, p model.Profile, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles
		SET display_name = $2, bio = $3, avatar_url = $4, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $5
	`, p.ID, p.DisplayName, p.Bio, p.AvatarURL, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT true FROM profiles WHERE id = $1`, p.ID).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrVersionMismatch
	}
	return nil
}
