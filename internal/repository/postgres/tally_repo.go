package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// TallyRepo implements TallyRepository using PostgreSQL.
type TallyRepo struct{ db *DB }

// NewTallyRepo constructs a tally outbox repository.
func NewTallyRepo(db *DB) *TallyRepo { return &TallyRepo{db: db} }

// RecomputeFlaggedVotes rewrites cached aggregates from raw vote rows for
// every flagged submission, clears the flag, and returns affected group ids.
func (r *TallyRepo) RecomputeFlaggedVotes(ctx context.Context) ([]uuid.UUID, error) {
	const q = `
UPDATE active_merchants am
SET votes = COALESCE((SELECT SUM(v.vote_type) FROM votes v WHERE v.merchant_id = am.id), 0),
    requires_vote_processing = false
WHERE am.requires_vote_processing
RETURNING am.group_id`
	return r.collectGroupIDs(ctx, q)
}

// ClearFlaggedGroups clears requires_processing and returns affected group ids.
func (r *TallyRepo) ClearFlaggedGroups(ctx context.Context) ([]uuid.UUID, error) {
	const q = `
UPDATE active_merchants
SET requires_processing = false
WHERE requires_processing
RETURNING group_id`
	return r.collectGroupIDs(ctx, q)
}

func (r *TallyRepo) collectGroupIDs(ctx context.Context, q string) ([]uuid.UUID, error) {
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListAutobanCandidates returns uploaders whose aggregate score on
// legendary rapport or rare+ card submissions dropped to or below the
// negated thresholds. Rarity grades follow model.Rarity (4 = legendary,
// 2 = rare). Anonymous uploaders come back with a null user id and are
// banned by client hash.
func (r *TallyRepo) ListAutobanCandidates(ctx context.Context, legendaryRapportThreshold, rareCardThreshold int) ([]model.AutobanCandidate, error) {
	const q = `
SELECT am.uploaded_by,
       am.uploaded_by_user_id,
       COALESCE(u.ban_expires > now(), false) OR COALESCE(cb.expires_at > now(), false) AS banned,
       SUM(am.votes) AS score
FROM active_merchants am
LEFT JOIN users u ON u.id = am.uploaded_by_user_id
LEFT JOIN client_bans cb ON cb.client_id = am.uploaded_by
WHERE am.rapport_rarity = 4 OR am.card_rarity >= 2
GROUP BY am.uploaded_by, am.uploaded_by_user_id, u.ban_expires, cb.expires_at
HAVING SUM(CASE WHEN am.rapport_rarity = 4 THEN am.votes ELSE 0 END) <= -$1
    OR SUM(CASE WHEN am.rapport_rarity < 4 AND am.card_rarity >= 2 THEN am.votes ELSE 0 END) <= -$2`
	rows, err := r.db.Pool.Query(ctx, q, legendaryRapportThreshold, rareCardThreshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AutobanCandidate
	for rows.Next() {
		var c model.AutobanCandidate
		if err := rows.Scan(&c.ClientID, &c.UserID, &c.AlreadyBanned, &c.AggregateVotes); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
