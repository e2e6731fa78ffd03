package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/wanderers-live/merchant-tracker/internal/errs"
	"github.com/wanderers-live/merchant-tracker/internal/model"
	"github.com/wanderers-live/merchant-tracker/internal/refdata"
	"github.com/wanderers-live/merchant-tracker/internal/repository"
)

// testNow is inside the first window of the test schedule.
var testNow = time.Date(2026, 3, 14, 0, 10, 0, 0, time.UTC)

func testProvider() *refdata.Provider {
	return refdata.New(
		map[string][]string{
			"East": {"Una", "Azena"},
			"West": {"Mari"},
		},
		[]refdata.Merchant{
			{
				Name:  "Ben",
				Zones: []string{"Sapira Cave", "Decerta Plateau"},
				Cards: []model.Card{
					{Name: "Siera", Rarity: model.RarityUncommon},
					{Name: "Wei", Rarity: model.RarityLegendary},
				},
				Rapports: []model.Rapport{
					{Name: "Nineveh", Rarity: model.RarityLegendary},
					{Name: "Stalwart Shield", Rarity: model.RarityRare},
				},
			},
			{
				Name:  "Lucas",
				Zones: []string{"Bitterwind Cliff"},
				Cards: []model.Card{
					{Name: "Seria", Rarity: model.RarityLegendary},
				},
				Rapports: []model.Rapport{
					{Name: "Sian", Rarity: model.RarityLegendary},
				},
			},
		},
		map[string]string{"D'Certa Plateau": "Decerta Plateau"},
		refdata.Schedule{Interval: 4 * time.Hour, Duration: 25 * time.Minute},
	)
}

func validInput() model.SubmissionInput {
	return model.SubmissionInput{
		MerchantName: "Ben",
		Zone:         "Sapira Cave",
		Card:         model.Card{Name: "Wei", Rarity: model.RarityLegendary},
		Rapport:      model.Rapport{Name: "Nineveh", Rarity: model.RarityLegendary},
	}
}

// fakeStore is an in-memory implementation of the group, vote, ban, push
// and tally repositories, shared so the report and vote paths observe each
// other the way they do against the real database.
type fakeStore struct {
	mu     sync.Mutex
	groups map[uuid.UUID]*model.MerchantGroup
	votes  map[uuid.UUID]*model.Vote

	userBans   map[uuid.UUID]time.Time
	knownUsers map[uuid.UUID]struct{}
	clientBans map[string]time.Time

	push map[string]model.PushSubscription

	autobanCandidates []model.AutobanCandidate

	createGroupErrs []error // popped per CreateGroup call, nil entry = success

	// beforeInsertVote runs once inside the next InsertVote with the lock
	// held, simulating a concurrent writer sneaking in first.
	beforeInsertVote func(f *fakeStore)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		groups:     make(map[uuid.UUID]*model.MerchantGroup),
		votes:      make(map[uuid.UUID]*model.Vote),
		userBans:   make(map[uuid.UUID]time.Time),
		knownUsers: make(map[uuid.UUID]struct{}),
		clientBans: make(map[string]time.Time),
		push:       make(map[string]model.PushSubscription),
	}
}

var (
	_ repository.GroupRepository            = (*fakeStore)(nil)
	_ repository.VoteRepository             = (*fakeStore)(nil)
	_ repository.BanRepository              = (*fakeStore)(nil)
	_ repository.PushSubscriptionRepository = (*fakeStore)(nil)
	_ repository.TallyRepository            = (*fakeStore)(nil)
)

func (f *fakeStore) GetActiveGroup(_ context.Context, server, merchantName string, now time.Time) (*model.MerchantGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.groups {
		if g.Server == server && g.MerchantName == merchantName && g.IsActive(now) {
			cp := *g
			cp.Submissions = append([]model.MerchantSubmission(nil), g.Submissions...)
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeStore) GetGroup(_ context.Context, id uuid.UUID) (*model.MerchantGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *g
	cp.Submissions = append([]model.MerchantSubmission(nil), g.Submissions...)
	return &cp, nil
}

func (f *fakeStore) GetGroupByMerchant(_ context.Context, merchantID uuid.UUID) (*model.MerchantGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.groups {
		for i := range g.Submissions {
			if g.Submissions[i].ID == merchantID {
				cp := *g
				cp.Submissions = append([]model.MerchantSubmission(nil), g.Submissions...)
				return &cp, nil
			}
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeStore) CreateGroup(_ context.Context, g *model.MerchantGroup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createGroupErrs) > 0 {
		err := f.createGroupErrs[0]
		f.createGroupErrs = f.createGroupErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, existing := range f.groups {
		if existing.Server == g.Server && existing.MerchantName == g.MerchantName && existing.Appearance.Equal(g.Appearance) {
			return errs.ErrConflict
		}
	}
	cp := *g
	f.groups[g.ID] = &cp
	return nil
}

func (f *fakeStore) AddSubmission(_ context.Context, sub *model.MerchantSubmission, selfVote *model.Vote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[sub.GroupID]
	if !ok {
		return errs.ErrNotFound
	}
	g.Submissions = append(g.Submissions, *sub)
	cp := *selfVote
	f.votes[selfVote.ID] = &cp
	return nil
}

func (f *fakeStore) HasActiveSubmissionElsewhere(_ context.Context, caller model.CallerIdentity, server string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.groups {
		if g.Server == server || !g.IsActive(now) {
			continue
		}
		for i := range g.Submissions {
			if g.Submissions[i].UploadedByCaller(caller) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeStore) ListActiveGroups(_ context.Context, server string, now time.Time) ([]model.MerchantGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.MerchantGroup
	for _, g := range f.groups {
		if g.Server == server && g.IsActive(now) {
			cp := *g
			cp.Submissions = append([]model.MerchantSubmission(nil), g.Submissions...)
			out = append(out, cp)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkGroupProcessing(_ context.Context, id uuid.UUID, flag bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok {
		return errs.ErrNotFound
	}
	for i := range g.Submissions {
		g.Submissions[i].RequiresProcessing = flag
	}
	return nil
}

func (f *fakeStore) GetVote(_ context.Context, merchantID uuid.UUID, caller model.CallerIdentity) (*model.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.votes {
		if v.MerchantID == merchantID && caller.SameVoter(v.ClientID, v.UserID) {
			cp := *v
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeStore) InsertVote(_ context.Context, v *model.Vote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beforeInsertVote != nil {
		hook := f.beforeInsertVote
		f.beforeInsertVote = nil
		hook(f)
	}
	for _, existing := range f.votes {
		if existing.MerchantID != v.MerchantID {
			continue
		}
		if existing.ClientID == v.ClientID {
			return errs.ErrConflict
		}
		// mirrors the partial unique index on (merchant_id, user_id)
		if v.UserID.Valid && existing.UserID.Valid && existing.UserID.UUID == v.UserID.UUID {
			return errs.ErrConflict
		}
	}
	cp := *v
	f.votes[v.ID] = &cp
	f.flagMerchantLocked(v.MerchantID)
	return nil
}

func (f *fakeStore) UpdateVoteType(_ context.Context, voteID uuid.UUID, t model.VoteType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.votes[voteID]
	if !ok {
		return errs.ErrNotFound
	}
	v.Type = t
	f.flagMerchantLocked(v.MerchantID)
	return nil
}

func (f *fakeStore) flagMerchantLocked(merchantID uuid.UUID) {
	for _, g := range f.groups {
		for i := range g.Submissions {
			if g.Submissions[i].ID == merchantID {
				g.Submissions[i].RequiresVoteProcessing = true
			}
		}
	}
}

func (f *fakeStore) ListVotesByVoter(_ context.Context, server string, caller model.CallerIdentity, now time.Time) ([]model.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Vote
	for _, v := range f.votes {
		if !caller.SameVoter(v.ClientID, v.UserID) {
			continue
		}
		g, _ := f.groupOfMerchantLocked(v.MerchantID)
		if g != nil && g.Server == server && g.IsActive(now) {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (f *fakeStore) groupOfMerchantLocked(merchantID uuid.UUID) (*model.MerchantGroup, bool) {
	for _, g := range f.groups {
		for i := range g.Submissions {
			if g.Submissions[i].ID == merchantID {
				return g, true
			}
		}
	}
	return nil, false
}

func (f *fakeStore) IsUserBanned(_ context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, known := f.knownUsers[userID]; !known {
		return false, errs.ErrNotFound
	}
	exp, ok := f.userBans[userID]
	return ok && exp.After(now), nil
}

func (f *fakeStore) IsClientBanned(_ context.Context, clientID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.clientBans[clientID]
	return ok && exp.After(now), nil
}

func (f *fakeStore) SetUserBan(_ context.Context, userID uuid.UUID, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.knownUsers[userID] = struct{}{}
	f.userBans[userID] = expiresAt
	return nil
}

func (f *fakeStore) SetClientBan(_ context.Context, clientID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clientBans[clientID] = expiresAt
	return nil
}

func (f *fakeStore) GetByToken(_ context.Context, token string) (*model.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.push[token]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &sub, nil
}

func (f *fakeStore) Upsert(_ context.Context, sub *model.PushSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.push[sub.Token] = *sub
	return nil
}

func (f *fakeStore) DeleteByToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.push, token)
	return nil
}

func (f *fakeStore) RecomputeFlaggedVotes(_ context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for id, g := range f.groups {
		touched := false
		for i := range g.Submissions {
			if !g.Submissions[i].RequiresVoteProcessing {
				continue
			}
			var sum int32
			for _, v := range f.votes {
				if v.MerchantID == g.Submissions[i].ID {
					sum += int32(v.Type)
				}
			}
			g.Submissions[i].Votes = sum
			g.Submissions[i].RequiresVoteProcessing = false
			touched = true
		}
		if touched {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeStore) ClearFlaggedGroups(_ context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for id, g := range f.groups {
		touched := false
		for i := range g.Submissions {
			if g.Submissions[i].RequiresProcessing {
				g.Submissions[i].RequiresProcessing = false
				touched = true
			}
		}
		if touched {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAutobanCandidates(_ context.Context, _, _ int) ([]model.AutobanCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AutobanCandidate(nil), f.autobanCandidates...), nil
}

// fakeBroadcaster records every fan-out.
type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

type broadcastCall struct {
	server string
	group  model.MerchantGroup
}

func (f *fakeBroadcaster) BroadcastGroup(server string, group *model.MerchantGroup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{server: server, group: *group})
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestService(store *fakeStore, bcast *fakeBroadcaster) *TrackerServiceImpl {
	policy := AutobanPolicy{
		LegendaryRapportDownvoteThreshold: 5,
		RareCardDownvoteThreshold:         10,
		FirstOffenseDuration:              72 * time.Hour,
		RepeatOffenseDuration:             2 * 365 * 24 * time.Hour,
	}
	s := NewTrackerService(store, store, store, store, store, testProvider(), bcast, policy, "1.2.0", nil)
	s.now = func() time.Time { return testNow }
	return s
}

func anonCaller(clientID string) model.CallerIdentity {
	return model.CallerIdentity{ClientID: clientID}
}

func userCaller(clientID string, userID uuid.UUID) model.CallerIdentity {
	return model.CallerIdentity{ClientID: clientID, UserID: uuid.NullUUID{UUID: userID, Valid: true}}
}
