package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wanderers-live/merchant-tracker/internal/errs"
	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// Concurrent writers are serialized by unique indexes, not advisory locks:
// merchant_groups on (server, merchant_name, appearance) and votes on both
// voter identity components. The loser sees 23505 and retries upstream.
func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23505"
}

// GroupRepo implements GroupRepository using PostgreSQL.
type GroupRepo struct{ db *DB }

// NewGroupRepo constructs a merchant group repository.
func NewGroupRepo(db *DB) *GroupRepo { return &GroupRepo{db: db} }

const groupCols = `id, server, merchant_name, appearance, appearance_expires, next_appearance`

const submissionCols = `id, group_id, zone, card_name, card_rarity, rapport_name, rapport_rarity,
uploaded_by, uploaded_by_user_id, hidden, requires_processing, requires_vote_processing, votes, created_at`

// GetActiveGroup loads the single non-expired group for (server, merchant)
// with all submissions.
func (r *GroupRepo) GetActiveGroup(ctx context.Context, server, merchantName string, now time.Time) (*model.MerchantGroup, error) {
	const q = `
SELECT ` + groupCols + `
FROM merchant_groups
WHERE server=$1 AND merchant_name=$2 AND appearance_expires>$3
ORDER BY appearance DESC
LIMIT 1`
	row := r.db.Pool.QueryRow(ctx, q, server, merchantName, now)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadSubmissions(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// GetGroup loads a group by id with all submissions.
func (r *GroupRepo) GetGroup(ctx context.Context, id uuid.UUID) (*model.MerchantGroup, error) {
	const q = `SELECT ` + groupCols + ` FROM merchant_groups WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadSubmissions(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// GetGroupByMerchant loads the group owning the given submission.
func (r *GroupRepo) GetGroupByMerchant(ctx context.Context, merchantID uuid.UUID) (*model.MerchantGroup, error) {
	const q = `
SELECT g.id, g.server, g.merchant_name, g.appearance, g.appearance_expires, g.next_appearance
FROM merchant_groups g
JOIN active_merchants am ON am.group_id = g.id
WHERE am.id=$1`
	row := r.db.Pool.QueryRow(ctx, q, merchantID)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadSubmissions(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// CreateGroup inserts a new group row. The unique index on
// (server, merchant_name, appearance) serializes concurrent creators;
// the loser gets errs.ErrConflict and re-resolves.
func (r *GroupRepo) CreateGroup(ctx context.Context, g *model.MerchantGroup) error {
	const q = `
INSERT INTO merchant_groups (id, server, merchant_name, appearance, appearance_expires, next_appearance)
VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.db.Pool.Exec(ctx, q, g.ID, g.Server, g.MerchantName, g.Appearance, g.AppearanceExpires, g.NextAppearance)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrConflict
		}
		return err
	}
	return nil
}

// AddSubmission attaches a submission and its self-upvote in one transaction.
func (r *GroupRepo) AddSubmission(ctx context.Context, sub *model.MerchantSubmission, selfVote *model.Vote) (err error) {
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
INSERT INTO active_merchants
(id, group_id, zone, card_name, card_rarity, rapport_name, rapport_rarity,
 uploaded_by, uploaded_by_user_id, hidden, requires_processing, requires_vote_processing, votes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	if _, err = tx.Exec(ctx, ins,
		sub.ID, sub.GroupID, sub.Zone,
		sub.Card.Name, sub.Card.Rarity, sub.Rapport.Name, sub.Rapport.Rarity,
		sub.UploadedBy, sub.UploadedByUserID, sub.Hidden,
		sub.RequiresProcessing, sub.RequiresVoteProcessing, sub.Votes,
	); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	const insVote = `
INSERT INTO votes (id, merchant_id, client_id, user_id, vote_type)
VALUES ($1,$2,$3,$4,$5)`
	if _, err = tx.Exec(ctx, insVote,
		selfVote.ID, selfVote.MerchantID, selfVote.ClientID, selfVote.UserID, selfVote.Type,
	); err != nil {
		return fmt.Errorf("insert self vote: %w", err)
	}
	return nil
}

// HasActiveSubmissionElsewhere reports an unexpired submission by the
// caller on any other server.
func (r *GroupRepo) HasActiveSubmissionElsewhere(ctx context.Context, caller model.CallerIdentity, server string, now time.Time) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1
  FROM active_merchants am
  JOIN merchant_groups g ON g.id = am.group_id
  WHERE g.server <> $1
    AND g.appearance_expires > $2
    AND (am.uploaded_by = $3 OR ($4::uuid IS NOT NULL AND am.uploaded_by_user_id = $4))
)`
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, q, server, now, caller.ClientID, caller.UserID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListActiveGroups returns all non-expired groups for a server with submissions.
func (r *GroupRepo) ListActiveGroups(ctx context.Context, server string, now time.Time) ([]model.MerchantGroup, error) {
	const q = `
SELECT ` + groupCols + `
FROM merchant_groups
WHERE server=$1 AND appearance_expires>$2
ORDER BY merchant_name ASC`
	rows, err := r.db.Pool.Query(ctx, q, server, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MerchantGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadSubmissions(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarkGroupProcessing flips the processing flag on all of the group's
// submissions without fetching the entity.
func (r *GroupRepo) MarkGroupProcessing(ctx context.Context, id uuid.UUID, flag bool) error {
	const q = `UPDATE active_merchants SET requires_processing=$2 WHERE group_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, flag)
	return err
}

func (r *GroupRepo) loadSubmissions(ctx context.Context, g *model.MerchantGroup) error {
	const q = `
SELECT ` + submissionCols + `
FROM active_merchants
WHERE group_id=$1
ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	g.Submissions = nil
	for rows.Next() {
		var s model.MerchantSubmission
		if err := rows.Scan(
			&s.ID, &s.GroupID, &s.Zone,
			&s.Card.Name, &s.Card.Rarity, &s.Rapport.Name, &s.Rapport.Rarity,
			&s.UploadedBy, &s.UploadedByUserID, &s.Hidden,
			&s.RequiresProcessing, &s.RequiresVoteProcessing, &s.Votes, &s.CreatedAt,
		); err != nil {
			return err
		}
		g.Submissions = append(g.Submissions, s)
	}
	return rows.Err()
}

func scanGroup(row pgx.Row) (*model.MerchantGroup, error) {
	var g model.MerchantGroup
	if err := row.Scan(&g.ID, &g.Server, &g.MerchantName, &g.Appearance, &g.AppearanceExpires, &g.NextAppearance); err != nil {
		return nil, err
	}
	return &g, nil
}
