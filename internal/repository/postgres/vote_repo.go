package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/wanderers-live/merchant-tracker/internal/errs"
	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// VoteRepo implements VoteRepository using PostgreSQL.
type VoteRepo struct{ db *DB }

// NewVoteRepo constructs a vote repository.
func NewVoteRepo(db *DB) *VoteRepo { return &VoteRepo{db: db} }

const voteCols = `id, merchant_id, client_id, user_id, vote_type, created_at`

// GetVote returns the caller's vote on a merchant, matching either
// identity component.
func (r *VoteRepo) GetVote(ctx context.Context, merchantID uuid.UUID, caller model.CallerIdentity) (*model.Vote, error) {
	const q = `
SELECT ` + voteCols + `
FROM votes
WHERE merchant_id=$1 AND (client_id=$2 OR ($3::uuid IS NOT NULL AND user_id=$3))
LIMIT 1`
	row := r.db.Pool.QueryRow(ctx, q, merchantID, caller.ClientID, caller.UserID)
	var v model.Vote
	if err := row.Scan(&v.ID, &v.MerchantID, &v.ClientID, &v.UserID, &v.Type, &v.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// InsertVote stores a new vote and flags its merchant for tally processing.
func (r *VoteRepo) InsertVote(ctx context.Context, v *model.Vote) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const ins = `
INSERT INTO votes (id, merchant_id, client_id, user_id, vote_type)
VALUES ($1,$2,$3,$4,$5)`
	if _, err = tx.Exec(ctx, ins, v.ID, v.MerchantID, v.ClientID, v.UserID, v.Type); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrConflict
		}
		return fmt.Errorf("insert vote: %w", err)
	}

	const flag = `UPDATE active_merchants SET requires_vote_processing=true WHERE id=$1`
	if _, err = tx.Exec(ctx, flag, v.MerchantID); err != nil {
		return fmt.Errorf("flag merchant: %w", err)
	}
	return nil
}

// UpdateVoteType flips an existing vote in place and re-flags the merchant.
func (r *VoteRepo) UpdateVoteType(ctx context.Context, voteID uuid.UUID, t model.VoteType) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const upd = `UPDATE votes SET vote_type=$2 WHERE id=$1 RETURNING merchant_id`
	var merchantID uuid.UUID
	if err = tx.QueryRow(ctx, upd, voteID, t).Scan(&merchantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return fmt.Errorf("update vote: %w", err)
	}

	const flag = `UPDATE active_merchants SET requires_vote_processing=true WHERE id=$1`
	if _, err = tx.Exec(ctx, flag, merchantID); err != nil {
		return fmt.Errorf("flag merchant: %w", err)
	}
	return nil
}

// ListVotesByVoter returns the caller's votes in non-expired groups of a server.
func (r *VoteRepo) ListVotesByVoter(ctx context.Context, server string, caller model.CallerIdentity, now time.Time) ([]model.Vote, error) {
	const q = `
SELECT v.id, v.merchant_id, v.client_id, v.user_id, v.vote_type, v.created_at
FROM votes v
JOIN active_merchants am ON am.id = v.merchant_id
JOIN merchant_groups g ON g.id = am.group_id
WHERE g.server=$1 AND g.appearance_expires>$2
  AND (v.client_id=$3 OR ($4::uuid IS NOT NULL AND v.user_id=$4))
ORDER BY v.created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, server, now, caller.ClientID, caller.UserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Vote
	for rows.Next() {
		var v model.Vote
		if err := rows.Scan(&v.ID, &v.MerchantID, &v.ClientID, &v.UserID, &v.Type, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
