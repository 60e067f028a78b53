package repository

import (
	"context"
	"time"

	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/token/domain"
)

// Repository defines persistence for verification token codes.
//
// Tokens are append-and-confirm only: nothing deletes rows, and Confirm is
// the sole mutation. Expiry is evaluated in queries, not by a sweep.
type Repository interface {
	// Create persists the token. The token must have ID set.
	Create(ctx context.Context, c *domain.TokenCode) error
	// FindOngoing returns the most recent unconfirmed token of the given
	// realm/phone/type with expires_at after now, or nil if none.
	FindOngoing(ctx context.Context, realmID, phoneNumber string, t domain.TokenCodeType, now time.Time) (*domain.TokenCode, error)
	// CountSince returns how many tokens of the given realm/phone/type were
	// created at or after since, confirmed or not.
	CountSince(ctx context.Context, realmID, phoneNumber string, t domain.TokenCodeType, since time.Time) (int, error)
	// GetByID returns the token for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.TokenCode, error)
	// Confirm marks the token confirmed by the given account. Confirmation is
	// terminal; there is no un-confirm.
	Confirm(ctx context.Context, id, accountID string) error
}
