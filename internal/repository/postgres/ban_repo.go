package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/wanderers-live/merchant-tracker/internal/errs"
)

// BanRepo implements BanRepository using PostgreSQL. User bans live on the
// user row; anonymous client bans get their own registry table.
type BanRepo struct{ db *DB }

// NewBanRepo constructs a ban registry repository.
func NewBanRepo(db *DB) *BanRepo { return &BanRepo{db: db} }

// IsUserBanned reports an unexpired user ban. Returns errs.ErrNotFound for
// an unknown user so callers can fall back to the client-identity check.
func (r *BanRepo) IsUserBanned(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	const q = `SELECT ban_expires FROM users WHERE id=$1`
	var banExpires *time.Time
	if err := r.db.Pool.QueryRow(ctx, q, userID).Scan(&banExpires); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, errs.ErrNotFound
		}
		return false, err
	}
	return banExpires != nil && banExpires.After(now), nil
}

// IsClientBanned reports an unexpired anonymous-identity ban.
func (r *BanRepo) IsClientBanned(ctx context.Context, clientID string, now time.Time) (bool, error) {
	const q = `SELECT expires_at FROM client_bans WHERE client_id=$1`
	var expiresAt time.Time
	err := r.db.Pool.QueryRow(ctx, q, clientID).Scan(&expiresAt)
	switch {
	case err == nil:
		return expiresAt.After(now), nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, err
	}
}

// SetUserBan records or extends a user-level ban.
func (r *BanRepo) SetUserBan(ctx context.Context, userID uuid.UUID, expiresAt time.Time) error {
	const q = `
INSERT INTO users (id, ban_expires)
VALUES ($1,$2)
ON CONFLICT (id) DO UPDATE SET ban_expires=$2`
	_, err := r.db.Pool.Exec(ctx, q, userID, expiresAt)
	return err
}

// SetClientBan records or extends a client-identity ban.
func (r *BanRepo) SetClientBan(ctx context.Context, clientID string, expiresAt time.Time) error {
	const q = `
INSERT INTO client_bans (client_id, expires_at, updated_at)
VALUES ($1,$2,now())
ON CONFLICT (client_id) DO UPDATE SET expires_at=$2, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, clientID, expiresAt)
	return err
}
