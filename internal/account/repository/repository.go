package repository

import (
	"context"

	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/account/domain"
)

// Repository defines the account store operations the verification engine
// needs. Only the identity binder writes through it, and only for the account
// performing verification or accounts found to conflict with it.
type Repository interface {
	// GetByID returns the account for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	// FindByPhone returns every account in the realm whose phone attribute
	// equals phoneNumber, verified or not.
	FindByPhone(ctx context.Context, realmID, phoneNumber string) ([]*domain.Account, error)
	// SetPhone sets the account's phone number and verified flag.
	SetPhone(ctx context.Context, accountID, phoneNumber string, verified bool) error
	// SetPhoneVerified sets only the verified flag, leaving the number as is.
	SetPhoneVerified(ctx context.Context, accountID string, verified bool) error

	// AddRequiredAction records a pending required action; adding an action
	// the account already has is a no-op.
	AddRequiredAction(ctx context.Context, accountID, action string) error
	// RemoveRequiredAction removes a pending required action if present.
	RemoveRequiredAction(ctx context.Context, accountID, action string) error

	// ListCredentialsByType returns the account's stored credentials of the
	// given type, oldest first.
	ListCredentialsByType(ctx context.Context, accountID, credentialType string) ([]*domain.Credential, error)
	// RemoveCredential deletes a stored credential by id.
	RemoveCredential(ctx context.Context, credentialID string) error
	// UpdateCredentialData replaces a stored credential's JSON payload.
	UpdateCredentialData(ctx context.Context, credentialID, data string) error
}
