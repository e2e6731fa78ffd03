package ws

import (
	"encoding/json"
	"time"

	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// Frame is the envelope for every message in either direction.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Client → server frame types.
const (
	frameSubscribe   = "tracker.subscribe"
	frameUnsubscribe = "tracker.unsubscribe"
	frameReport      = "tracker.report"
	frameVote        = "tracker.vote"
	frameListGroups  = "tracker.groups"
	frameListVotes   = "tracker.votes"
	frameVersion     = "tracker.version"
)

// Server → client frame types.
const (
	frameAck    = "tracker.ack"
	frameError  = "tracker.error"
	frameUpdate = "tracker.update"
)

type serverPayload struct {
	Server string `json:"server"`
}

type reportPayload struct {
	Server   string     `json:"server"`
	Merchant string     `json:"merchant"`
	Zone     string     `json:"zone"`
	Card     cardDTO    `json:"card"`
	Rapport  rapportDTO `json:"rapport"`
}

type votePayload struct {
	Server     string `json:"server"`
	MerchantID string `json:"merchant_id"`
	VoteType   int16  `json:"vote_type"`
}

type versionPayload struct {
	Version string `json:"version"`
}

type ackPayload struct {
	Status string   `json:"status"`
	Vote   *voteDTO `json:"vote,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type versionResult struct {
	Supported bool `json:"supported"`
}

type groupListPayload struct {
	Server string     `json:"server"`
	Groups []groupDTO `json:"groups"`
}

type voteListPayload struct {
	Server string    `json:"server"`
	Votes  []voteDTO `json:"votes"`
}

type updatePayload struct {
	Group groupDTO `json:"group"`
}

type cardDTO struct {
	Name   string `json:"name"`
	Rarity int16  `json:"rarity"`
}

type rapportDTO struct {
	Name   string `json:"name"`
	Rarity int16  `json:"rarity"`
}

type submissionDTO struct {
	ID      string     `json:"id"`
	Zone    string     `json:"zone"`
	Card    cardDTO    `json:"card"`
	Rapport rapportDTO `json:"rapport"`
	Votes   int32      `json:"votes"`
	Hidden  bool       `json:"hidden,omitempty"`
	Own     bool       `json:"own,omitempty"`
}

type groupDTO struct {
	ID                string          `json:"id"`
	Server            string          `json:"server"`
	Merchant          string          `json:"merchant"`
	Appearance        time.Time       `json:"appearance"`
	AppearanceExpires time.Time       `json:"appearance_expires"`
	NextAppearance    time.Time       `json:"next_appearance"`
	Submissions       []submissionDTO `json:"submissions"`
}

type voteDTO struct {
	MerchantID string `json:"merchant_id"`
	VoteType   int16  `json:"vote_type"`
}

func toGroupDTO(g *model.MerchantGroup, caller model.CallerIdentity) groupDTO {
	out := groupDTO{
		ID:                g.ID.String(),
		Server:            g.Server,
		Merchant:          g.MerchantName,
		Appearance:        g.Appearance,
		AppearanceExpires: g.AppearanceExpires,
		NextAppearance:    g.NextAppearance,
		Submissions:       make([]submissionDTO, 0, len(g.Submissions)),
	}
	for i := range g.Submissions {
		sub := &g.Submissions[i]
		out.Submissions = append(out.Submissions, submissionDTO{
			ID:      sub.ID.String(),
			Zone:    sub.Zone,
			Card:    cardDTO{Name: sub.Card.Name, Rarity: int16(sub.Card.Rarity)},
			Rapport: rapportDTO{Name: sub.Rapport.Name, Rarity: int16(sub.Rapport.Rarity)},
			Votes:   sub.Votes,
			Hidden:  sub.Hidden,
			Own:     sub.UploadedByCaller(caller),
		})
	}
	return out
}

func toVoteDTO(v *model.Vote) *voteDTO {
	if v == nil {
		return nil
	}
	return &voteDTO{MerchantID: v.MerchantID.String(), VoteType: int16(v.Type)}
}
