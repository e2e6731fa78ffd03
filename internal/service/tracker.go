// Package service contains the live tracking hub: submission merge,
// voting, ban policy, and the query projections served to clients.
package service

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/wanderers-live/merchant-tracker/internal/model"
	"github.com/wanderers-live/merchant-tracker/internal/refdata"
	"github.com/wanderers-live/merchant-tracker/internal/repository"
)

// Broadcaster delivers an updated group to every connection subscribed to
// a server partition. Delivery is fire-and-forget; it never blocks the
// triggering request on individual connections.
type Broadcaster interface {
	BroadcastGroup(server string, group *model.MerchantGroup)
}

// ReportResult describes the outcome of an accepted report. A nil result
// with a nil error is a silent rejection; malicious input is intentionally
// indistinguishable from success.
type ReportResult struct {
	// Group is the group state after the change, unfiltered.
	Group *model.MerchantGroup
	// Hidden marks a submission persisted under an active ban: stored,
	// echoed to the submitter, never broadcast.
	Hidden bool
	// MergedVote is set when the report was equal to an existing
	// submission and collapsed into an upvote on it.
	MergedVote *model.Vote
}

// TrackerService is the hub's client-facing core. Every operation takes an
// explicit caller identity resolved by the transport layer.
type TrackerService interface {
	// ReportMerchant validates, merges, persists and broadcasts one report.
	ReportMerchant(ctx context.Context, caller model.CallerIdentity, server string, in model.SubmissionInput) (*ReportResult, error)

	// Vote records, flips, or idempotently confirms the caller's vote on a
	// submission. Returns the recorded vote for the caller's ack, or nil
	// on silent rejection. Never broadcasts.
	Vote(ctx context.Context, caller model.CallerIdentity, server string, merchantID uuid.UUID, t model.VoteType) (*model.Vote, error)

	// ListActiveGroups returns the server's active groups filtered to what
	// the caller may see.
	ListActiveGroups(ctx context.Context, caller model.CallerIdentity, server string) ([]model.MerchantGroup, error)

	// ListVotesForCaller returns the caller's votes in the server's active groups.
	ListVotesForCaller(ctx context.Context, caller model.CallerIdentity, server string) ([]model.Vote, error)

	// GetPushSubscription, UpsertPushSubscription and DeletePushSubscription
	// are keyed CRUD over notification registrations.
	GetPushSubscription(ctx context.Context, token string) (*model.PushSubscription, error)
	UpsertPushSubscription(ctx context.Context, sub model.PushSubscription) error
	DeletePushSubscription(ctx context.Context, token string) error

	// CheckClientVersion reports whether the client version is recent
	// enough to keep talking to the hub.
	CheckClientVersion(version string) bool

	// RunAutobanSweep applies the downvote-threshold ban policy to every
	// offending uploader.
	RunAutobanSweep(ctx context.Context) error

	// BroadcastGroupByID pushes a group's current state to its partition.
	// Entry point for out-of-band processes such as the tally worker.
	BroadcastGroupByID(ctx context.Context, groupID uuid.UUID) error
}

// AutobanPolicy carries the downvote thresholds and ban durations. All of
// these are deployment configuration, not constants.
type AutobanPolicy struct {
	LegendaryRapportDownvoteThreshold int
	RareCardDownvoteThreshold         int
	FirstOffenseDuration              time.Duration
	RepeatOffenseDuration             time.Duration
	// OnReport runs the sweep inline after each accepted report instead of
	// waiting for the periodic sweep.
	OnReport bool
}

type TrackerServiceImpl struct {
	groups repository.GroupRepository
	votes  repository.VoteRepository
	bans   repository.BanRepository
	push   repository.PushSubscriptionRepository
	tally  repository.TallyRepository

	ref       *refdata.Provider
	bcast     Broadcaster
	policy    AutobanPolicy
	minClient string
	log       *zap.Logger
	now       func() time.Time
}

// NewTrackerService constructs the hub core with injected collaborators.
func NewTrackerService(
	groups repository.GroupRepository,
	votes repository.VoteRepository,
	bans repository.BanRepository,
	push repository.PushSubscriptionRepository,
	tally repository.TallyRepository,
	ref *refdata.Provider,
	bcast Broadcaster,
	policy AutobanPolicy,
	minClientVersion string,
	log *zap.Logger,
) *TrackerServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &TrackerServiceImpl{
		groups:    groups,
		votes:     votes,
		bans:      bans,
		push:      push,
		tally:     tally,
		ref:       ref,
		bcast:     bcast,
		policy:    policy,
		minClient: minClientVersion,
		log:       log,
		now:       time.Now,
	}
}

// BroadcastGroupByID pushes a group's current public state to its partition.
func (s *TrackerServiceImpl) BroadcastGroupByID(ctx context.Context, groupID uuid.UUID) error {
	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	public := g.VisibleTo(model.CallerIdentity{})
	s.bcast.BroadcastGroup(g.Server, &public)
	return nil
}
