package service

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/wanderers-live/merchant-tracker/internal/errs"
	"github.com/wanderers-live/merchant-tracker/internal/model"
)

func TestReportMerchant_FirstReportCreatesGroup(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	s := newTestService(store, bcast)

	res, err := s.ReportMerchant(context.Background(), anonCaller("c1"), "Una", validInput())
	if err != nil {
		t.Fatalf("ReportMerchant: %v", err)
	}
	if res == nil || res.Group == nil {
		t.Fatalf("want accepted result, got %+v", res)
	}
	if res.Hidden || res.MergedVote != nil {
		t.Fatalf("want plain acceptance, got hidden=%v merged=%v", res.Hidden, res.MergedVote)
	}
	if len(res.Group.Submissions) != 1 {
		t.Fatalf("want 1 submission, got %d", len(res.Group.Submissions))
	}
	sub := res.Group.Submissions[0]
	if sub.UploadedBy != "c1" || !sub.RequiresProcessing || sub.Votes != 1 {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if !res.Group.Appearance.Equal(testNow.Truncate(4 * time.Hour)) {
		t.Fatalf("appearance not window-aligned: %v", res.Group.Appearance)
	}

	// self-upvote seeded
	v, err := store.GetVote(context.Background(), sub.ID, anonCaller("c1"))
	if err != nil {
		t.Fatalf("self vote missing: %v", err)
	}
	if v.Type != model.Upvote {
		t.Fatalf("self vote type = %d", v.Type)
	}

	if bcast.count() != 1 {
		t.Fatalf("want 1 broadcast, got %d", bcast.count())
	}
	if bcast.calls[0].server != "Una" {
		t.Fatalf("broadcast server = %q", bcast.calls[0].server)
	}
}

func TestReportMerchant_RejectsInvalidInput(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	s := newTestService(store, bcast)
	ctx := context.Background()

	bad := validInput()
	bad.Card = model.Card{Name: "Forged", Rarity: model.RarityLegendary}

	cases := []struct {
		name   string
		server string
		in     model.SubmissionInput
	}{
		{"unknown server", "Atlantis", validInput()},
		{"unknown merchant", "Una", model.SubmissionInput{MerchantName: "Nobody", Zone: "Sapira Cave"}},
		{"card not in catalog", "Una", bad},
	}
	for _, tc := range cases {
		res, err := s.ReportMerchant(ctx, anonCaller("c1"), tc.server, tc.in)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if res != nil {
			t.Fatalf("%s: want silent rejection, got %+v", tc.name, res)
		}
	}
	if bcast.count() != 0 {
		t.Fatalf("rejections must not broadcast, got %d", bcast.count())
	}
	if len(store.groups) != 0 {
		t.Fatalf("rejections must not persist, got %d groups", len(store.groups))
	}
}

func TestReportMerchant_NormalizesZoneAlias(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s := newTestService(store, &fakeBroadcaster{})

	in := validInput()
	in.Zone = "D'Certa Plateau"
	res, err := s.ReportMerchant(context.Background(), anonCaller("c1"), "Una", in)
	if err != nil {
		t.Fatalf("ReportMerchant: %v", err)
	}
	if res == nil {
		t.Fatal("aliased zone must validate")
	}
	if got := res.Group.Submissions[0].Zone; got != "Decerta Plateau" {
		t.Fatalf("zone not normalized: %q", got)
	}
}

func TestReportMerchant_OutsideWindowRejected(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s := newTestService(store, &fakeBroadcaster{})
	// 40 minutes in: the 25 minute window closed.
	s.now = func() time.Time { return testNow.Add(30 * time.Minute) }

	res, err := s.ReportMerchant(context.Background(), anonCaller("c1"), "Una", validInput())
	if err != nil {
		t.Fatalf("ReportMerchant: %v", err)
	}
	if res != nil {
		t.Fatalf("want rejection outside window, got %+v", res)
	}
}

func TestReportMerchant_DuplicateFromSameCallerRejected(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	s := newTestService(store, bcast)
	ctx := context.Background()

	if _, err := s.ReportMerchant(ctx, anonCaller("c1"), "Una", validInput()); err != nil {
		t.Fatalf("first report: %v", err)
	}

	// Different payload, same caller, same group.
	in := validInput()
	in.Card = model.Card{Name: "Siera", Rarity: model.RarityUncommon}
	res, err := s.ReportMerchant(ctx, anonCaller("c1"), "Una", in)
	if err != nil {
		t.Fatalf("second report: %v", err)
	}
	if res != nil {
		t.Fatalf("want one submission per caller per group, got %+v", res)
	}
	if bcast.count() != 1 {
		t.Fatalf("want 1 broadcast total, got %d", bcast.count())
	}
}

func TestReportMerchant_EqualPayloadMergesIntoUpvote(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	s := newTestService(store, bcast)
	ctx := context.Background()

	first, err := s.ReportMerchant(ctx, anonCaller("c1"), "Una", validInput())
	if err != nil {
		t.Fatalf("first report: %v", err)
	}

	res, err := s.ReportMerchant(ctx, anonCaller("c2"), "Una", validInput())
	if err != nil {
		t.Fatalf("equal report: %v", err)
	}
	if res == nil || res.MergedVote == nil {
		t.Fatalf("want merge into upvote, got %+v", res)
	}
	if res.MergedVote.Type != model.Upvote {
		t.Fatalf("merged vote type = %d", res.MergedVote.Type)
	}
	if res.MergedVote.MerchantID != first.Group.Submissions[0].ID {
		t.Fatal("merged vote must target the existing submission")
	}

	g, err := store.GetGroup(ctx, first.Group.ID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if len(g.Submissions) != 1 {
		t.Fatalf("merge must not add a submission, got %d", len(g.Submissions))
	}
	// merge acks the voter only, no fan-out
	if bcast.count() != 1 {
		t.Fatalf("want 1 broadcast total, got %d", bcast.count())
	}
}

func TestReportMerchant_EqualPayloadMergeIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s := newTestService(store, &fakeBroadcaster{})
	ctx := context.Background()

	if _, err := s.ReportMerchant(ctx, anonCaller("c1"), "Una", validInput()); err != nil {
		t.Fatalf("first report: %v", err)
	}
	r1, err := s.ReportMerchant(ctx, anonCaller("c2"), "Una", validInput())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	r2, err := s.ReportMerchant(ctx, anonCaller("c2"), "Una", validInput())
	if err != nil {
		t.Fatalf("repeat merge: %v", err)
	}
	if r2 == nil || r2.MergedVote == nil {
		t.Fatalf("repeat merge must still ack, got %+v", r2)
	}
	if r1.MergedVote.ID != r2.MergedVote.ID {
		t.Fatal("repeat merge must reuse the existing vote")
	}
	if len(store.votes) != 2 { // uploader self-vote + c2's vote
		t.Fatalf("want 2 votes, got %d", len(store.votes))
	}
}

func TestReportMerchant_BannedClientStoredHidden(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	s := newTestService(store, bcast)
	ctx := context.Background()

	store.clientBans["badc"] = testNow.Add(time.Hour)

	res, err := s.ReportMerchant(ctx, anonCaller("badc"), "Una", validInput())
	if err != nil {
		t.Fatalf("ReportMerchant: %v", err)
	}
	if res == nil || !res.Hidden {
		t.Fatalf("want hidden acceptance, got %+v", res)
	}
	if !res.Group.Submissions[0].Hidden {
		t.Fatal("submission must be persisted hidden")
	}
	if bcast.count() != 0 {
		t.Fatalf("hidden submissions must not broadcast, got %d", bcast.count())
	}

	// Visible to the submitter, invisible to everyone else.
	own := res.Group.VisibleTo(anonCaller("badc"))
	if len(own.Submissions) != 1 {
		t.Fatal("submitter must see own hidden submission")
	}
	public := res.Group.VisibleTo(model.CallerIdentity{})
	if len(public.Submissions) != 0 {
		t.Fatal("hidden submission leaked to public view")
	}
}

func TestReportMerchant_HiddenSubmissionDoesNotAbsorbEqualReports(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	s := newTestService(store, bcast)
	ctx := context.Background()

	store.clientBans["badc"] = testNow.Add(time.Hour)
	shadow, err := s.ReportMerchant(ctx, anonCaller("badc"), "Una", validInput())
	if err != nil {
		t.Fatalf("shadowed report: %v", err)
	}
	if !shadow.Hidden {
		t.Fatalf("want hidden acceptance, got %+v", shadow)
	}

	// An honest equal report must become its own visible submission, not an
	// upvote on something only the banned uploader can see.
	res, err := s.ReportMerchant(ctx, anonCaller("honest"), "Una", validInput())
	if err != nil {
		t.Fatalf("honest report: %v", err)
	}
	if res == nil || res.MergedVote != nil {
		t.Fatalf("honest report swallowed by shadow, got %+v", res)
	}
	if res.Hidden {
		t.Fatalf("honest report marked hidden: %+v", res)
	}
	if bcast.count() != 1 {
		t.Fatalf("want 1 broadcast for the honest report, got %d", bcast.count())
	}

	g, err := store.GetGroup(ctx, shadow.Group.ID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	public := g.VisibleTo(model.CallerIdentity{})
	if len(public.Submissions) != 1 || public.Submissions[0].UploadedBy != "honest" {
		t.Fatalf("third parties must see the honest submission, got %+v", public.Submissions)
	}
}

func TestReportMerchant_ExpiredClientBanIgnored(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s := newTestService(store, &fakeBroadcaster{})

	store.clientBans["c1"] = testNow.Add(-time.Hour)

	res, err := s.ReportMerchant(context.Background(), anonCaller("c1"), "Una", validInput())
	if err != nil {
		t.Fatalf("ReportMerchant: %v", err)
	}
	if res == nil || res.Hidden {
		t.Fatalf("expired ban must not hide, got %+v", res)
	}
}

func TestReportMerchant_UserBanAuthoritative(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s := newTestService(store, &fakeBroadcaster{})
	ctx := context.Background()

	userID := uuid.Must(uuid.NewV4())
	store.knownUsers[userID] = struct{}{}
	store.userBans[userID] = testNow.Add(time.Hour)
	// client-level state says fine, user-level ban wins
	res, err := s.ReportMerchant(ctx, userCaller("clean-client", userID), "Una", validInput())
	if err != nil {
		t.Fatalf("ReportMerchant: %v", err)
	}
	if res == nil || !res.Hidden {
		t.Fatalf("user ban must hide, got %+v", res)
	}
}

func TestReportMerchant_UnknownUserFallsBackToClientBan(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s := newTestService(store, &fakeBroadcaster{})

	userID := uuid.Must(uuid.NewV4()) // not in knownUsers
	store.clientBans["c1"] = testNow.Add(time.Hour)

	res, err := s.ReportMerchant(context.Background(), userCaller("c1", userID), "Una", validInput())
	if err != nil {
		t.Fatalf("ReportMerchant: %v", err)
	}
	if res == nil || !res.Hidden {
		t.Fatalf("client ban must apply for unknown user, got %+v", res)
	}
}

func TestReportMerchant_CrossServerLockout(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	s := newTestService(store, bcast)
	ctx := context.Background()

	if _, err := s.ReportMerchant(ctx, anonCaller("c1"), "Una", validInput()); err != nil {
		t.Fatalf("first report: %v", err)
	}

	in := model.SubmissionInput{
		MerchantName: "Lucas",
		Zone:         "Bitterwind Cliff",
		Card:         model.Card{Name: "Seria", Rarity: model.RarityLegendary},
		Rapport:      model.Rapport{Name: "Sian", Rarity: model.RarityLegendary},
	}
	res, err := s.ReportMerchant(ctx, anonCaller("c1"), "Mari", in)
	if err != nil {
		t.Fatalf("cross-server report: %v", err)
	}
	if res != nil {
		t.Fatalf("want cross-server lockout, got %+v", res)
	}

	// A different caller is free to report on the other server.
	res, err = s.ReportMerchant(ctx, anonCaller("c2"), "Mari", in)
	if err != nil {
		t.Fatalf("other caller: %v", err)
	}
	if res == nil {
		t.Fatal("unrelated caller must not be locked out")
	}
}

func TestReportMerchant_RetriesOnCreateConflict(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s := newTestService(store, &fakeBroadcaster{})

	store.createGroupErrs = []error{errs.ErrConflict}

	res, err := s.ReportMerchant(context.Background(), anonCaller("c1"), "Una", validInput())
	if err != nil {
		t.Fatalf("ReportMerchant: %v", err)
	}
	if res == nil || len(res.Group.Submissions) != 1 {
		t.Fatalf("retry must land the submission, got %+v", res)
	}
	if len(store.groups) != 1 {
		t.Fatalf("want 1 group after retry, got %d", len(store.groups))
	}
}

func TestReportMerchant_ConflictLoserMergesIntoWinner(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	s := newTestService(store, &fakeBroadcaster{})
	ctx := context.Background()

	// A concurrent winner persisted the same window with an equal payload.
	// The loser's re-resolve must land on it and collapse into an upvote.
	projected, _ := s.ref.ProjectGroup("Una", "Ben", testNow)
	projected.ID = uuid.Must(uuid.NewV4())
	subID := uuid.Must(uuid.NewV4())
	projected.Submissions = []model.MerchantSubmission{{
		ID:         subID,
		GroupID:    projected.ID,
		Zone:       "Sapira Cave",
		Card:       model.Card{Name: "Wei", Rarity: model.RarityLegendary},
		Rapport:    model.Rapport{Name: "Nineveh", Rarity: model.RarityLegendary},
		UploadedBy: "other",
		Votes:      1,
		CreatedAt:  testNow,
	}}
	store.groups[projected.ID] = &projected

	res, err := s.ReportMerchant(ctx, anonCaller("c1"), "Una", validInput())
	if err != nil {
		t.Fatalf("ReportMerchant: %v", err)
	}
	if res == nil || res.MergedVote == nil {
		t.Fatalf("loser must merge into winner's submission, got %+v", res)
	}
	if res.MergedVote.MerchantID != subID {
		t.Fatal("merge targeted the wrong submission")
	}
}
