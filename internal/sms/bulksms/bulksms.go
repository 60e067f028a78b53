// Package bulksms sends verification codes via the BulkSMS JSON API.
// See https://www.bulksms.com/developer/json/v1/.
package bulksms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/sms"
	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/token/domain"
)

const defaultTimeout = 15 * time.Second

// Client sends SMS via the BulkSMS messages endpoint using token auth.
type Client struct {
	TokenID     string
	TokenSecret string
	BaseURL     string
	HTTPClient  *http.Client
}

// NewClient returns a client that uses the given API token and optional base URL.
func NewClient(tokenID, tokenSecret, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.bulksms.com/v1/messages"
	}
	return &Client{
		TokenID:     tokenID,
		TokenSecret: tokenSecret,
		BaseURL:     baseURL,
		HTTPClient:  &http.Client{Timeout: defaultTimeout},
	}
}

type message struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send posts the rendered message to BulkSMS. Does not log the code.
// Non-2xx responses and transport failures are returned as *sms.SendError.
func (c *Client) Send(ctx context.Context, t domain.TokenCodeType, phoneNumber, code string, expiresIn time.Duration, kind string) error {
	if c.TokenID == "" || c.TokenSecret == "" {
		return &sms.SendError{Code: "config", Message: "BulkSMS API token not configured"}
	}
	raw, err := json.Marshal(message{To: phoneNumber, Body: sms.MessageText(t, code, expiresIn, kind)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.TokenID, c.TokenSecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &sms.SendError{Code: "transport", Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &sms.SendError{Code: fmt.Sprintf("status=%d", resp.StatusCode), Message: string(b)}
	}
	return nil
}
