package sms

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/token/domain"
)

// DevSender logs the code instead of sending it. For local development only;
// config refuses to select it when APP_ENV=production.
type DevSender struct {
	Log *logrus.Logger
}

// NewDevSender returns a sender that writes codes to the given logger.
func NewDevSender(log *logrus.Logger) *DevSender {
	return &DevSender{Log: log}
}

// Send logs the code and message text. It never fails.
func (s *DevSender) Send(ctx context.Context, t domain.TokenCodeType, phoneNumber, code string, expiresIn time.Duration, kind string) error {
	s.Log.WithFields(logrus.Fields{
		"phone": phoneNumber,
		"type":  t,
		"kind":  kind,
		"code":  code,
	}).Info("dev sender: " + MessageText(t, code, expiresIn, kind))
	return nil
}
