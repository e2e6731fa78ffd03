package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// BanRepository is the persisted ban registry for both authenticated users
// and anonymous client identities.
type BanRepository interface {
	// IsUserBanned reports whether the user carries an unexpired ban.
	// Returns errs.ErrNotFound for an unknown user so callers can fall
	// back to the anonymous client-identity check.
	IsUserBanned(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error)

	// IsClientBanned reports whether the anonymous client identity carries
	// an unexpired ban.
	IsClientBanned(ctx context.Context, clientID string, now time.Time) (bool, error)

	// SetUserBan records or extends a user-level ban.
	SetUserBan(ctx context.Context, userID uuid.UUID, expiresAt time.Time) error

	// SetClientBan records or extends a client-identity ban.
	SetClientBan(ctx context.Context, clientID string, expiresAt time.Time) error
}
