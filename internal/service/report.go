package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/wanderers-live/merchant-tracker/internal/errs"
	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// ReportMerchant runs the full merge path: normalize, validate, resolve the
// group, dedup against existing submissions, apply ban and cross-server
// policy, persist, and broadcast. Expected rejections return (nil, nil).
func (s *TrackerServiceImpl) ReportMerchant(ctx context.Context, caller model.CallerIdentity, server string, in model.SubmissionInput) (*ReportResult, error) {
	if !s.ref.IsValidServer(server) {
		return nil, nil
	}
	in.Zone = s.ref.NormalizeZone(in.Zone)
	if !s.ref.ValidSubmission(in) {
		return nil, nil
	}

	// Concurrent first reports for the same window race on group creation.
	// The unique index makes the loser fail with ErrConflict; re-resolving
	// then lands on the winner's group and re-runs the merge decision.
	var result *ReportResult
	backoff := retry.WithMaxRetries(3, retry.NewConstant(20*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := s.reportOnce(ctx, caller, server, in)
		if errors.Is(err, errs.ErrConflict) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	if result.Group != nil && !result.Hidden && result.MergedVote == nil {
		public := result.Group.VisibleTo(model.CallerIdentity{})
		s.bcast.BroadcastGroup(server, &public)
	}

	if s.policy.OnReport && result.MergedVote == nil {
		if err := s.RunAutobanSweep(ctx); err != nil {
			s.log.Warn("inline autoban sweep failed", zap.Error(err))
		}
	}
	return result, nil
}

func (s *TrackerServiceImpl) reportOnce(ctx context.Context, caller model.CallerIdentity, server string, in model.SubmissionInput) (*ReportResult, error) {
	now := s.now()

	group, persisted, err := s.resolveGroup(ctx, server, in.MerchantName, now)
	if err != nil {
		return nil, err
	}
	if group == nil {
		// No persisted group and no active window: inactive or unscheduled
		// windows never accept a first write.
		return nil, nil
	}

	if group.HasSubmissionFrom(caller) {
		return nil, nil
	}

	if existing := group.FindEqual(caller, in); existing != nil {
		v, err := s.applyVote(ctx, caller, existing.ID, model.Upvote)
		if err != nil {
			return nil, err
		}
		return &ReportResult{Group: group, MergedVote: v}, nil
	}

	banned, err := s.isBanned(ctx, caller, now)
	if err != nil {
		return nil, err
	}

	elsewhere, err := s.groups.HasActiveSubmissionElsewhere(ctx, caller, server, now)
	if err != nil {
		return nil, err
	}
	if elsewhere {
		return nil, nil
	}

	if !persisted {
		group.ID = uuid.Must(uuid.NewV4())
		if err := s.groups.CreateGroup(ctx, group); err != nil {
			return nil, err
		}
	}

	sub := &model.MerchantSubmission{
		ID:                 uuid.Must(uuid.NewV4()),
		GroupID:            group.ID,
		Zone:               in.Zone,
		Card:               in.Card,
		Rapport:            in.Rapport,
		UploadedBy:         caller.ClientID,
		UploadedByUserID:   caller.UserID,
		Hidden:             banned,
		RequiresProcessing: true,
		Votes:              1, // reflects the seeded self-upvote until the tally runs
		CreatedAt:          now,
	}
	selfVote := &model.Vote{
		ID:         uuid.Must(uuid.NewV4()),
		MerchantID: sub.ID,
		ClientID:   caller.ClientID,
		UserID:     caller.UserID,
		Type:       model.Upvote,
		CreatedAt:  now,
	}
	if err := s.groups.AddSubmission(ctx, sub, selfVote); err != nil {
		return nil, err
	}
	group.Submissions = append(group.Submissions, *sub)

	return &ReportResult{Group: group, Hidden: banned}, nil
}

// resolveGroup prefers the persisted non-expired group; when none exists it
// falls back to the advisory in-memory window projection. The projection is
// only usable while its window is currently active. The bool reports
// whether the returned group is persisted.
func (s *TrackerServiceImpl) resolveGroup(ctx context.Context, server, merchantName string, now time.Time) (*model.MerchantGroup, bool, error) {
	g, err := s.groups.GetActiveGroup(ctx, server, merchantName, now)
	switch {
	case err == nil:
		return g, true, nil
	case errors.Is(err, errs.ErrNotFound):
		projected, ok := s.ref.ProjectGroup(server, merchantName, now)
		if !ok {
			return nil, false, nil
		}
		return &projected, false, nil
	default:
		return nil, false, err
	}
}

// isBanned resolves the ban state for a caller. A user-level ban is
// authoritative when the user record exists; otherwise the anonymous
// client-identity registry decides.
func (s *TrackerServiceImpl) isBanned(ctx context.Context, caller model.CallerIdentity, now time.Time) (bool, error) {
	if caller.UserID.Valid {
		banned, err := s.bans.IsUserBanned(ctx, caller.UserID.UUID, now)
		switch {
		case err == nil:
			return banned, nil
		case errors.Is(err, errs.ErrNotFound):
			// unknown user, fall through to the client check
		default:
			return false, err
		}
	}
	return s.bans.IsClientBanned(ctx, caller.ClientID, now)
}
