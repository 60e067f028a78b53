// Package domain holds the verification token code model.
package domain

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// TokenCodeType is the purpose a code was issued for. Codes of different
// types do not satisfy each other's challenges.
type TokenCodeType string

const (
	// TypeVerify binds a phone number to an account.
	TypeVerify TokenCodeType = "VERIFY"
	// TypeOTPSetup configures an SMS OTP credential.
	TypeOTPSetup TokenCodeType = "OTP_SETUP"
	// TypeRegistration proves phone ownership during registration.
	TypeRegistration TokenCodeType = "REGISTRATION"
	// TypeReset proves phone ownership for a credential reset.
	TypeReset TokenCodeType = "RESET"
)

// Valid reports whether t is one of the known token code types.
func (t TokenCodeType) Valid() bool {
	switch t {
	case TypeVerify, TypeOTPSetup, TypeRegistration, TypeReset:
		return true
	}
	return false
}

// Label returns a lower-case human-readable name for message templates and logs.
func (t TokenCodeType) Label() string {
	switch t {
	case TypeVerify:
		return "verification"
	case TypeOTPSetup:
		return "otp setup"
	case TypeRegistration:
		return "registration"
	case TypeReset:
		return "reset"
	}
	return "unknown"
}

// Origin is best-effort network provenance recorded at issuance. Audit only;
// never used in decisions.
type Origin struct {
	IP   string
	Port int
	Host string
}

// TokenCode is one issued verification code (stored in phone_token_codes).
// Rows are never deleted; expired and confirmed rows stay for audit and for
// the hourly abuse count.
type TokenCode struct {
	ID          string
	RealmID     string
	PhoneNumber string
	Code        string
	Type        TokenCodeType
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Confirmed   bool
	ConfirmedBy string
	Origin      Origin
}

// Expired reports whether the token is past its expiry at the given instant.
func (c *TokenCode) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Ongoing reports whether the token is still a live challenge: not yet
// confirmed and not yet expired.
func (c *TokenCode) Ongoing(now time.Time) bool {
	return !c.Confirmed && !c.Expired(now)
}

const codeDigits = 6

// NewTokenCode returns an unconfirmed token for phoneNumber with a fresh id
// and a fresh random code, valid for expiresIn from now.
func NewTokenCode(realmID, phoneNumber string, t TokenCodeType, expiresIn time.Duration, now time.Time) (*TokenCode, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	return &TokenCode{
		ID:          uuid.NewString(),
		RealmID:     realmID,
		PhoneNumber: phoneNumber,
		Code:        code,
		Type:        t,
		CreatedAt:   now,
		ExpiresAt:   now.Add(expiresIn),
	}, nil
}

// GenerateCode returns a 6-digit numeric code string (e.g. "123456").
// Uses crypto/rand for randomness.
func GenerateCode() (string, error) {
	b := make([]byte, codeDigits)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := make([]byte, codeDigits)
	for i := 0; i < codeDigits; i++ {
		s[i] = '0' + (b[i] % 10)
	}
	return string(s), nil
}
