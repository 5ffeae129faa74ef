package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clipdeck/clipdeck/libs/db"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/model"
)

type MemberRepository struct {
	pool *db.Pool
}

func NewMemberRepository(pool *db.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

func (r *MemberRepository) Role(ctx context.Context, channelID, profileID string) (model.Role, error) {
	var role model.Role
	err := r.pool.QueryRow(ctx, `
		SELECT role FROM channel_members
		WHERE channel_id = $1 AND profile_id = $2
	`, channelID, profileID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoMembership
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

func (r *MemberRepository) SetRole(ctx context.Context, channelID, profileID string, role model.Role) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO channel_members (channel_id, profile_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_id, profile_id) DO UPDATE SET role = EXCLUDED.role
	`, channelID, profileID, role)
	return err
}

func (r *MemberRepository) Remove(ctx context.Context, channelID, profileID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM channel_members WHERE channel_id = $1 AND profile_id = $2
	`, channelID, profileID)
	return err
}

func (r *MemberRepository) CountOwners(ctx context.Context, channelID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM channel_members
		WHERE channel_id = $1 AND role = 'owner'
	`, channelID).Scan(&n)
	return n, err
}
