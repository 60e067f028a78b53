// Package twilio sends verification codes through the Twilio messaging API.
package twilio

import (
	"context"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/sms"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/token/domain"
)

// Sender sends SMS through a Twilio account.
type Sender struct {
	client *twilio.RestClient
	from   string
}

// NewSender returns a sender using the given account credentials and sender number.
func NewSender(accountSID, authToken, from string) *Sender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Sender{client: client, from: from}
}

// Send creates a Twilio message with the rendered body. Twilio failures are
// returned as *sms.SendError.
func (s *Sender) Send(ctx context.Context, t domain.TokenCodeType, phoneNumber, code string, expiresIn time.Duration, kind string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(phoneNumber)
	params.SetFrom(s.from)
	params.SetBody(sms.MessageText(t, code, expiresIn, kind))

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return &sms.SendError{Code: "twilio", Message: err.Error()}
	}
	return nil
}
