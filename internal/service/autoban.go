package service

import (
	"context"

	"go.uber.org/zap"
)

// RunAutobanSweep bans every uploader whose aggregate score on legendary
// rapport or rare card submissions dropped below the configured thresholds.
// A first offense gets the short duration; offending again while already
// banned escalates to the near-permanent one.
func (s *TrackerServiceImpl) RunAutobanSweep(ctx context.Context) error {
	candidates, err := s.tally.ListAutobanCandidates(ctx,
		s.policy.LegendaryRapportDownvoteThreshold,
		s.policy.RareCardDownvoteThreshold,
	)
	if err != nil {
		return err
	}

	now := s.now()
	for _, c := range candidates {
		duration := s.policy.FirstOffenseDuration
		if c.AlreadyBanned {
			duration = s.policy.RepeatOffenseDuration
		}
		expires := now.Add(duration)
		if c.UserID.Valid {
			err = s.bans.SetUserBan(ctx, c.UserID.UUID, expires)
		} else {
			err = s.bans.SetClientBan(ctx, c.ClientID, expires)
		}
		if err != nil {
			return err
		}
		s.log.Info("autoban applied",
			zap.String("client_id", c.ClientID),
			zap.Bool("authenticated", c.UserID.Valid),
			zap.Int64("aggregate_votes", c.AggregateVotes),
			zap.Bool("repeat_offense", c.AlreadyBanned),
			zap.Duration("duration", duration),
		)
	}
	return nil
}
