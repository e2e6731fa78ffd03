package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// VoteRepository provides idempotent vote storage keyed by
// (merchant, voter identity).
type VoteRepository interface {
	// GetVote returns the caller's existing vote on a merchant, matching
	// either identity component, or errs.ErrNotFound.
	GetVote(ctx context.Context, merchantID uuid.UUID, caller model.CallerIdentity) (*model.Vote, error)

	// InsertVote stores a new vote and flags the merchant for tally
	// processing in one transaction. Returns errs.ErrConflict if a
	// concurrent insert for the same voter won.
	InsertVote(ctx context.Context, v *model.Vote) error

	// UpdateVoteType flips an existing vote in place and re-flags the merchant.
	UpdateVoteType(ctx context.Context, voteID uuid.UUID, t model.VoteType) error

	// ListVotesByVoter returns the caller's votes on submissions in
	// non-expired groups of the given server.
	ListVotesByVoter(ctx context.Context, server string, caller model.CallerIdentity, now time.Time) ([]model.Vote, error)
}
