// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// VoteType is the direction of a vote on a submission.
type VoteType int16

const (
	Downvote VoteType = -1
	Upvote   VoteType = 1
)

// Rarity grades cards and rapport items.
type Rarity int16

const (
	RarityCommon Rarity = iota
	RarityUncommon
	RarityRare
	RarityEpic
	RarityLegendary
)

// CallerIdentity is the voter identity attached to every request by the
// transport layer. ClientID is a stable hash of the network identity;
// UserID is set only when the caller presented a valid token.
type CallerIdentity struct {
	ClientID string
	UserID   uuid.NullUUID
}

// SameVoter reports whether the stored (clientID, userID) pair belongs to
// this caller. Matching on either identity component is enough: an
// anonymous vote and a later authenticated vote from the same client collapse.
func (c CallerIdentity) SameVoter(clientID string, userID uuid.NullUUID) bool {
	if c.ClientID != "" && c.ClientID == clientID {
		return true
	}
	return c.UserID.Valid && userID.Valid && c.UserID.UUID == userID.UUID
}

// Card is an observed card offer.
type Card struct {
	Name   string
	Rarity Rarity
}

// Rapport is an observed rapport item offer.
type Rapport struct {
	Name   string
	Rarity Rarity
}

// SubmissionInput is the payload of one client report before it is attached
// to a group.
type SubmissionInput struct {
	MerchantName string
	Zone         string
	Card         Card
	Rapport      Rapport
}

// MerchantSubmission is one accepted report inside a group. Never deleted,
// only marked Hidden.
type MerchantSubmission struct {
	ID                     uuid.UUID
	GroupID                uuid.UUID
	Zone                   string
	Card                   Card
	Rapport                Rapport
	UploadedBy             string        // client network identity hash
	UploadedByUserID       uuid.NullUUID // authenticated identity, if any
	Hidden                 bool
	RequiresProcessing     bool
	RequiresVoteProcessing bool
	Votes                  int32 // cached aggregate, owned by the tally processor
	CreatedAt              time.Time
}

// UploadedByCaller reports whether the caller is the original uploader,
// matching on either identity component.
func (m *MerchantSubmission) UploadedByCaller(c CallerIdentity) bool {
	return c.SameVoter(m.UploadedBy, m.UploadedByUserID)
}

// EqualPayload is the domain equality predicate: two reports describe the
// same observation when zone, card and rapport all match.
func (m *MerchantSubmission) EqualPayload(in SubmissionInput) bool {
	return strings.EqualFold(m.Zone, in.Zone) &&
		strings.EqualFold(m.Card.Name, in.Card.Name) &&
		strings.EqualFold(m.Rapport.Name, in.Rapport.Name)
}

// MerchantGroup is the canonical record for one appearance window of one
// merchant on one server. At most one active group exists per
// (server, merchant name) pair.
type MerchantGroup struct {
	ID                uuid.UUID
	Server            string
	MerchantName      string
	Appearance        time.Time
	AppearanceExpires time.Time
	NextAppearance    time.Time
	Submissions       []MerchantSubmission
}

// IsActive reports whether the group still accepts submissions and votes.
func (g *MerchantGroup) IsActive(now time.Time) bool {
	return now.Before(g.AppearanceExpires)
}

// HasSubmissionFrom reports whether the caller already uploaded into this group.
func (g *MerchantGroup) HasSubmissionFrom(c CallerIdentity) bool {
	for i := range g.Submissions {
		if g.Submissions[i].UploadedByCaller(c) {
			return true
		}
	}
	return false
}

// FindEqual returns the first submission with an equal payload the caller
// may merge into, or nil. A hidden submission only matches its own
// uploader; an equal report from anyone else must stand on its own, so a
// shadowed submission never absorbs honest reports.
func (g *MerchantGroup) FindEqual(c CallerIdentity, in SubmissionInput) *MerchantSubmission {
	for i := range g.Submissions {
		sub := &g.Submissions[i]
		if sub.Hidden && !sub.UploadedByCaller(c) {
			continue
		}
		if sub.EqualPayload(in) {
			return sub
		}
	}
	return nil
}

// VisibleTo returns a copy of the group retaining only submissions the
// caller may see: everything not hidden, plus the caller's own hidden ones.
func (g *MerchantGroup) VisibleTo(c CallerIdentity) MerchantGroup {
	out := *g
	out.Submissions = make([]MerchantSubmission, 0, len(g.Submissions))
	for i := range g.Submissions {
		sub := g.Submissions[i]
		if !sub.Hidden || sub.UploadedByCaller(c) {
			out.Submissions = append(out.Submissions, sub)
		}
	}
	return out
}

// Vote is one voter's current stance on a submission. Unique per
// (merchant, voter identity); flipped in place on change.
type Vote struct {
	ID         uuid.UUID
	MerchantID uuid.UUID
	ClientID   string
	UserID     uuid.NullUUID
	Type       VoteType
	CreatedAt  time.Time
}

// ClientBan is an anonymous-identity ban row. A zero or past ExpiresAt
// means not currently banned.
type ClientBan struct {
	ClientID  string
	ExpiresAt time.Time
}

// PushSubscription is one client's notification endpoint registration,
// keyed by opaque token. Independent of merchant entities.
type PushSubscription struct {
	Token         string
	Server        string
	LegendaryOnly bool
	UpdatedAt     time.Time
}

// AutobanCandidate is one uploader whose aggregate score tripped a
// downvote threshold during a sweep. UserID is unset for anonymous
// uploaders, which are banned by client hash instead.
type AutobanCandidate struct {
	ClientID       string
	UserID         uuid.NullUUID
	AlreadyBanned  bool
	AggregateVotes int64
}
