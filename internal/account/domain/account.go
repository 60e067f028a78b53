// Package domain holds the account phone-binding model the verification
// engine mutates. Accounts themselves (credentials, login plumbing) live in
// the host system; only the phone-related surface is modeled here.
package domain

import (
	"encoding/json"
	"time"
)

// Required actions an account can be asked to complete on next login.
const (
	// ActionUpdatePhoneNumber asks the account holder to re-verify their phone.
	ActionUpdatePhoneNumber = "UPDATE_PHONE_NUMBER"
	// ActionConfigSMSOTP asks the account holder to configure SMS OTP.
	ActionConfigSMSOTP = "CONFIG_SMS_OTP"
)

// CredentialTypePhoneOTP is the stored credential type for SMS OTP.
const CredentialTypePhoneOTP = "phone-otp"

// Account is a realm-scoped account with its phone binding.
type Account struct {
	ID                  string
	RealmID             string
	Username            string
	PhoneNumber         string
	PhoneNumberVerified bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Credential is a stored credential. Data is a JSON payload whose shape
// depends on Type; for phone-otp it is OTPCredentialData.
type Credential struct {
	ID        string
	AccountID string
	Type      string
	Data      string
	CreatedAt time.Time
}

// OTPCredentialData is the phone-otp credential payload. It embeds the phone
// number the credential is scoped to.
type OTPCredentialData struct {
	PhoneNumber string `json:"phoneNumber"`
}

// OTPData parses the credential's payload as OTPCredentialData.
func (c *Credential) OTPData() (OTPCredentialData, error) {
	var d OTPCredentialData
	err := json.Unmarshal([]byte(c.Data), &d)
	return d, err
}

// EncodeOTPData returns the JSON payload for a phone-otp credential scoped to
// phoneNumber.
func EncodeOTPData(phoneNumber string) string {
	b, _ := json.Marshal(OTPCredentialData{PhoneNumber: phoneNumber})
	return string(b)
}
