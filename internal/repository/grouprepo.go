// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// GroupRepository provides transactional access to merchant groups and
// their submissions.
type GroupRepository interface {
	// GetActiveGroup loads the non-expired group for (server, merchant)
	// with all submissions, or errs.ErrNotFound.
	GetActiveGroup(ctx context.Context, server, merchantName string, now time.Time) (*model.MerchantGroup, error)

	// GetGroup loads a group by id with all submissions.
	GetGroup(ctx context.Context, id uuid.UUID) (*model.MerchantGroup, error)

	// GetGroupByMerchant loads the group owning the given submission.
	GetGroupByMerchant(ctx context.Context, merchantID uuid.UUID) (*model.MerchantGroup, error)

	// CreateGroup inserts a new group row. Returns errs.ErrConflict when a
	// concurrent writer already created the same (server, merchant, window).
	CreateGroup(ctx context.Context, g *model.MerchantGroup) error

	// AddSubmission attaches a submission to its group and seeds the
	// uploader's automatic self-upvote in one transaction.
	AddSubmission(ctx context.Context, sub *model.MerchantSubmission, selfVote *model.Vote) error

	// HasActiveSubmissionElsewhere reports whether the caller has an
	// unexpired submission on any server other than the given one.
	HasActiveSubmissionElsewhere(ctx context.Context, caller model.CallerIdentity, server string, now time.Time) (bool, error)

	// ListActiveGroups returns all non-expired groups for a server with
	// their submissions, unfiltered; visibility is applied by the service.
	ListActiveGroups(ctx context.Context, server string, now time.Time) ([]model.MerchantGroup, error)

	// MarkGroupProcessing sets the group's processing flag without a full
	// entity fetch.
	MarkGroupProcessing(ctx context.Context, id uuid.UUID, flag bool) error
}
