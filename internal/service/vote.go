package service

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	"github.com/wanderers-live/merchant-tracker/internal/errs"
	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// Vote records, flips, or idempotently confirms the caller's vote. The
// result is acknowledged to the caller only; aggregate tallying and the
// follow-up broadcast belong to the background processor.
func (s *TrackerServiceImpl) Vote(ctx context.Context, caller model.CallerIdentity, server string, merchantID uuid.UUID, t model.VoteType) (*model.Vote, error) {
	if !s.ref.IsValidServer(server) {
		return nil, nil
	}
	if t != model.Upvote && t != model.Downvote {
		return nil, nil
	}
	if merchantID == uuid.Nil {
		return nil, nil
	}

	group, err := s.groups.GetGroupByMerchant(ctx, merchantID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	if group.Server != server || !group.IsActive(s.now()) {
		return nil, nil
	}

	return s.applyVote(ctx, caller, merchantID, t)
}

// applyVote is the lookup-then-upsert core shared by Vote and the equality
// merge path. Concurrent inserts by the same voter collapse through the
// unique index: the loser re-fetches and reconciles.
func (s *TrackerServiceImpl) applyVote(ctx context.Context, caller model.CallerIdentity, merchantID uuid.UUID, t model.VoteType) (*model.Vote, error) {
	existing, err := s.votes.GetVote(ctx, merchantID, caller)
	switch {
	case err == nil:
		if existing.Type == t {
			return existing, nil
		}
		if err := s.votes.UpdateVoteType(ctx, existing.ID, t); err != nil {
			return nil, err
		}
		existing.Type = t
		return existing, nil
	case errors.Is(err, errs.ErrNotFound):
		// fall through to insert
	default:
		return nil, err
	}

	v := &model.Vote{
		ID:         uuid.Must(uuid.NewV4()),
		MerchantID: merchantID,
		ClientID:   caller.ClientID,
		UserID:     caller.UserID,
		Type:       t,
		CreatedAt:  s.now(),
	}
	if err := s.votes.InsertVote(ctx, v); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return s.reconcileVote(ctx, caller, merchantID, t)
		}
		return nil, err
	}
	return v, nil
}

func (s *TrackerServiceImpl) reconcileVote(ctx context.Context, caller model.CallerIdentity, merchantID uuid.UUID, t model.VoteType) (*model.Vote, error) {
	existing, err := s.votes.GetVote(ctx, merchantID, caller)
	if err != nil {
		return nil, err
	}
	if existing.Type == t {
		return existing, nil
	}
	if err := s.votes.UpdateVoteType(ctx, existing.ID, t); err != nil {
		return nil, err
	}
	existing.Type = t
	return existing, nil
}
