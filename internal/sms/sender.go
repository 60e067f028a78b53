// Package sms abstracts the outbound message transport used to deliver
// verification codes.
package sms

import (
	"context"
	"fmt"
	"time"

	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/token/domain"
)

// Sender delivers a verification code to a phone number. kind selects a
// message template sub-variant for the given purpose (e.g. "registration"
// vs "verify"); senders may ignore it.
type Sender interface {
	Send(ctx context.Context, t domain.TokenCodeType, phoneNumber, code string, expiresIn time.Duration, kind string) error
}

// SendError is a transport failure with the provider's own code and message.
type SendError struct {
	Code    string
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sms: send failed with %s: %s", e.Code, e.Message)
}

// MessageText renders the message body for a code of the given purpose.
func MessageText(t domain.TokenCodeType, code string, expiresIn time.Duration, kind string) string {
	purpose := t.Label()
	if kind != "" {
		purpose = kind
	}
	return fmt.Sprintf("Your %s code is %s. It expires in %d seconds.", purpose, code, int(expiresIn.Seconds()))
}
