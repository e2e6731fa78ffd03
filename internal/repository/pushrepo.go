package repository

import (
	"context"

	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// PushSubscriptionRepository is keyed CRUD over push notification
// registrations. Delete of an absent token is success.
type PushSubscriptionRepository interface {
	// GetByToken loads a registration, or errs.ErrNotFound.
	GetByToken(ctx context.Context, token string) (*model.PushSubscription, error)

	// Upsert creates or replaces the registration for its token.
	Upsert(ctx context.Context, sub *model.PushSubscription) error

	// DeleteByToken removes a registration; deleting an already-absent
	// token is not an error.
	DeleteByToken(ctx context.Context, token string) error
}
