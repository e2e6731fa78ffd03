package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/wanderers-live/merchant-tracker/internal/errs"
	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// PushRepo implements PushSubscriptionRepository using PostgreSQL.
type PushRepo struct{ db *DB }

// NewPushRepo constructs a push subscription repository.
func NewPushRepo(db *DB) *PushRepo { return &PushRepo{db: db} }

// GetByToken loads a registration by token.
func (r *PushRepo) GetByToken(ctx context.Context, token string) (*model.PushSubscription, error) {
	const q = `SELECT token, server, legendary_only, updated_at FROM push_subscriptions WHERE token=$1`
	var s model.PushSubscription
	if err := r.db.Pool.QueryRow(ctx, q, token).Scan(&s.Token, &s.Server, &s.LegendaryOnly, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Upsert creates or replaces the registration for its token.
func (r *PushRepo) Upsert(ctx context.Context, sub *model.PushSubscription) error {
	const q = `
INSERT INTO push_subscriptions (token, server, legendary_only, updated_at)
VALUES ($1,$2,$3,now())
ON CONFLICT (token) DO UPDATE SET server=$2, legendary_only=$3, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, sub.Token, sub.Server, sub.LegendaryOnly)
	return err
}

// DeleteByToken removes a registration. Deleting an absent token succeeds.
func (r *PushRepo) DeleteByToken(ctx context.Context, token string) error {
	const q = `DELETE FROM push_subscriptions WHERE token=$1`
	_, err := r.db.Pool.Exec(ctx, q, token)
	return err
}
