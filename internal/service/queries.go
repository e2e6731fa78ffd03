package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/wanderers-live/merchant-tracker/internal/errs"
	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// ListActiveGroups returns the server's non-expired groups with the same
// visibility rule the merge path uses: hidden submissions are visible only
// to their uploader. An unknown server yields an empty list, the same
// silent rejection every other tracker operation gives bad input.
func (s *TrackerServiceImpl) ListActiveGroups(ctx context.Context, caller model.CallerIdentity, server string) ([]model.MerchantGroup, error) {
	if !s.ref.IsValidServer(server) {
		return nil, nil
	}
	groups, err := s.groups.ListActiveGroups(ctx, server, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]model.MerchantGroup, 0, len(groups))
	for i := range groups {
		out = append(out, groups[i].VisibleTo(caller))
	}
	return out, nil
}

// ListVotesForCaller returns the caller's votes in the server's active groups.
func (s *TrackerServiceImpl) ListVotesForCaller(ctx context.Context, caller model.CallerIdentity, server string) ([]model.Vote, error) {
	if !s.ref.IsValidServer(server) {
		return nil, nil
	}
	return s.votes.ListVotesByVoter(ctx, server, caller, s.now())
}

// GetPushSubscription loads a registration by token.
func (s *TrackerServiceImpl) GetPushSubscription(ctx context.Context, token string) (*model.PushSubscription, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errs.ErrInvalidInput
	}
	return s.push.GetByToken(ctx, token)
}

// UpsertPushSubscription creates or replaces a registration.
func (s *TrackerServiceImpl) UpsertPushSubscription(ctx context.Context, sub model.PushSubscription) error {
	if strings.TrimSpace(sub.Token) == "" || !s.ref.IsValidServer(sub.Server) {
		return errs.ErrInvalidInput
	}
	return s.push.Upsert(ctx, &sub)
}

// DeletePushSubscription removes a registration; deleting an already
// absent token succeeds.
func (s *TrackerServiceImpl) DeletePushSubscription(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return errs.ErrInvalidInput
	}
	return s.push.DeleteByToken(ctx, token)
}

// CheckClientVersion compares a dotted numeric client version against the
// configured minimum. Unparseable versions are treated as outdated.
func (s *TrackerServiceImpl) CheckClientVersion(version string) bool {
	if s.minClient == "" {
		return true
	}
	return compareVersions(version, s.minClient) >= 0
}

func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimSpace(a), ".")
	bs := strings.Split(strings.TrimSpace(b), ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0
		if i < len(as) {
			n, err := strconv.Atoi(as[i])
			if err != nil {
				return -1
			}
			av = n
		}
		if i < len(bs) {
			n, err := strconv.Atoi(bs[i])
			if err != nil {
				return 1
			}
			bv = n
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
