package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// TallyRepository is the outbox the background processor drains: it
// recomputes cached vote aggregates from raw vote rows and clears the
// processing flags the hub sets on the write path.
type TallyRepository interface {
	// RecomputeFlaggedVotes rewrites the cached votes aggregate for every
	// submission flagged requires_vote_processing, clears the flag, and
	// returns the ids of the affected groups.
	RecomputeFlaggedVotes(ctx context.Context) ([]uuid.UUID, error)

	// ClearFlaggedGroups clears requires_processing on flagged submissions
	// and returns the ids of their groups.
	ClearFlaggedGroups(ctx context.Context) ([]uuid.UUID, error)

	// ListAutobanCandidates returns uploaders whose aggregate score on
	// legendary rapport or rare card submissions dropped below the given
	// (negative) thresholds, authenticated and anonymous alike.
	ListAutobanCandidates(ctx context.Context, legendaryRapportThreshold, rareCardThreshold int) ([]model.AutobanCandidate, error)
}
