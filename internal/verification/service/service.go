// Package service implements the phone-number ownership verification engine:
// rate-limited code issuance, code validation, and the identity-binding side
// effects of a successful verification.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	accountdomain "github.com/GreenfieldTrail/keycloak-phone-provider/internal/account/domain"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/server/middleware"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/sms"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/token/domain"
)

// Sentinel errors for the verification engine; handlers map them to HTTP
// status codes.
var (
	// ErrAbuseLimitExceeded means issuance was refused by the hourly rate limit.
	ErrAbuseLimitExceeded = errors.New("requested the maximum number of messages the last hour")
	// ErrDeliveryUnavailable means the message transport failed; no token was
	// persisted and the request is safe to retry.
	ErrDeliveryUnavailable = errors.New("message delivery unavailable")
	// ErrNoOngoingProcess means validation was attempted with no live token
	// for the phone and purpose. The caller should request a new code.
	ErrNoOngoingProcess = errors.New("no ongoing verification process")
	// ErrCodeMismatch means the submitted code does not match the live token.
	ErrCodeMismatch = errors.New("code does not match with expected value")
)

// TokenRepo is the token store as needed by the engine.
type TokenRepo interface {
	Create(ctx context.Context, c *domain.TokenCode) error
	FindOngoing(ctx context.Context, realmID, phoneNumber string, t domain.TokenCodeType, now time.Time) (*domain.TokenCode, error)
	CountSince(ctx context.Context, realmID, phoneNumber string, t domain.TokenCodeType, since time.Time) (int, error)
	GetByID(ctx context.Context, id string) (*domain.TokenCode, error)
	Confirm(ctx context.Context, id, accountID string) error
}

// AccountRepo is the account store as needed by the identity binder.
type AccountRepo interface {
	FindByPhone(ctx context.Context, realmID, phoneNumber string) ([]*accountdomain.Account, error)
	SetPhone(ctx context.Context, accountID, phoneNumber string, verified bool) error
	SetPhoneVerified(ctx context.Context, accountID string, verified bool) error
	AddRequiredAction(ctx context.Context, accountID, action string) error
	RemoveRequiredAction(ctx context.Context, accountID, action string) error
	ListCredentialsByType(ctx context.Context, accountID, credentialType string) ([]*accountdomain.Credential, error)
	RemoveCredential(ctx context.Context, credentialID string) error
	UpdateCredentialData(ctx context.Context, credentialID, data string) error
}

// Options configures the engine.
type Options struct {
	// TokenExpiresIn is the validity window of a freshly issued code.
	TokenExpiresIn time.Duration
	// HourMaximum is the number of issuances allowed per phone and type in a
	// trailing hour; the HourMaximum-th issuance is still allowed, the next
	// one is refused.
	HourMaximum int
	// DuplicatePhoneAllowed reports whether the realm permits the same phone
	// number on multiple accounts; when nil, duplicates are not allowed.
	DuplicatePhoneAllowed func(realmID string) bool
	// Logger defaults to the logrus standard logger.
	Logger *logrus.Logger
}

// Service is the verification engine. It holds no shared mutable state; all
// coordination happens through the token store.
type Service struct {
	tokens           TokenRepo
	accounts         AccountRepo
	sender           sms.Sender
	tokenExpiresIn   time.Duration
	hourMaximum      int
	duplicateAllowed func(realmID string) bool
	log              *logrus.Logger
	now              func() time.Time
}

// NewService returns a verification engine over the given stores and transport.
func NewService(tokens TokenRepo, accounts AccountRepo, sender sms.Sender, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	dup := opts.DuplicatePhoneAllowed
	if dup == nil {
		dup = func(string) bool { return false }
	}
	return &Service{
		tokens:           tokens,
		accounts:         accounts,
		sender:           sender,
		tokenExpiresIn:   opts.TokenExpiresIn,
		hourMaximum:      opts.HourMaximum,
		duplicateAllowed: dup,
		log:              log,
		now:              time.Now,
	}
}

// IsAbusing reports whether issuing another code for the phone and purpose
// would exceed the hourly maximum: true iff the number of codes created in
// the trailing 60 minutes exceeds the cap. An empty history is never abuse.
func (s *Service) IsAbusing(ctx context.Context, realmID, phoneNumber string, t domain.TokenCodeType) (bool, error) {
	since := s.now().Add(-time.Hour)
	n, err := s.tokens.CountSince(ctx, realmID, phoneNumber, t, since)
	if err != nil {
		return false, err
	}
	return n > s.hourMaximum, nil
}

// SendCode issues a verification code for the phone and purpose and returns
// the number of seconds the caller must treat it as valid.
//
// When a live code already exists no new code is generated and no message is
// sent; the remaining whole seconds until that code expires are returned, so
// callers can render "resend available in N seconds". A token is persisted
// only after the transport accepted the message: a failed delivery leaves no
// record behind, and an undelivered code never blocks future attempts.
func (s *Service) SendCode(ctx context.Context, realmID, phoneNumber string, t domain.TokenCodeType, kind string) (int, error) {
	abusing, err := s.IsAbusing(ctx, realmID, phoneNumber, t)
	if err != nil {
		return 0, err
	}
	if abusing {
		return 0, ErrAbuseLimitExceeded
	}

	now := s.now()
	ongoing, err := s.tokens.FindOngoing(ctx, realmID, phoneNumber, t, now)
	if err != nil {
		return 0, err
	}
	if ongoing != nil {
		s.log.WithFields(logrus.Fields{
			"realm": realmID,
			"phone": phoneNumber,
			"type":  t,
		}).Infof("no need of sending a new %s code", t.Label())
		return int(ongoing.ExpiresAt.Sub(now).Seconds()), nil
	}

	token, err := domain.NewTokenCode(realmID, phoneNumber, t, s.tokenExpiresIn, now)
	if err != nil {
		return 0, err
	}
	if origin, ok := middleware.OriginFrom(ctx); ok {
		token.Origin = origin
	}

	if err := s.sender.Send(ctx, t, phoneNumber, token.Code, s.tokenExpiresIn, kind); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"realm": realmID,
			"phone": phoneNumber,
			"type":  t,
		}).Error("message sending failed")
		return 0, fmt.Errorf("%w: %v", ErrDeliveryUnavailable, err)
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{
		"realm":    realmID,
		"phone":    phoneNumber,
		"type":     t,
		"token_id": token.ID,
	}).Infof("sent %s code", t.Label())
	return int(s.tokenExpiresIn.Seconds()), nil
}

// ValidateCode checks the submitted code against the live token for the phone
// and purpose and, on a match, binds the verified phone to the account.
//
// A mismatch does not consume the token and mutates nothing; repeated guesses
// against one live code are not throttled here (the hourly counter gates
// issuance only).
func (s *Service) ValidateCode(ctx context.Context, account *accountdomain.Account, phoneNumber, code string, t domain.TokenCodeType) error {
	ongoing, err := s.tokens.FindOngoing(ctx, account.RealmID, phoneNumber, t, s.now())
	if err != nil {
		return err
	}
	if ongoing == nil {
		return ErrNoOngoingProcess
	}
	if ongoing.Code != code {
		return ErrCodeMismatch
	}

	s.log.WithFields(logrus.Fields{
		"realm":   account.RealmID,
		"account": account.ID,
		"type":    t,
	}).Infof("account correctly answered the %s code", t.Label())

	return s.BindVerifiedPhone(ctx, account, phoneNumber, ongoing.ID)
}
