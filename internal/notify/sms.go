package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSClient sends guardian text messages through an Aligo-style gateway
// (form-encoded POST authenticated by API key). Escalation is best effort:
// callers log failures and move on.
type SMSClient struct {
	Endpoint string
	APIKey   string
	UserID   string
	Sender   string
	TestMode bool
	HTTP     *http.Client
}

// NewSMSClient creates a gateway client. Returns nil when the required
// credentials are absent, which disables escalation.
func NewSMSClient(endpoint, apiKey, userID, sender string, testMode bool) *SMSClient {
	if apiKey == "" || userID == "" || sender == "" {
		return nil
	}
	if endpoint == "" {
		endpoint = "https://apis.aligo.in/send/"
	}
	return &SMSClient{
		Endpoint: endpoint,
		APIKey:   apiKey,
		UserID:   userID,
		Sender:   sender,
		TestMode: testMode,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
	}
}

// NormalizePhone strips everything but digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Send delivers one message. At most one attempt; the gateway's failure
// body becomes the error.
func (c *SMSClient) Send(ctx context.Context, phone, message string) error {
	form := url.Values{}
	form.Set("key", c.APIKey)
	form.Set("user_id", c.UserID)
	form.Set("sender", c.Sender)
	form.Set("receiver", NormalizePhone(phone))
	form.Set("msg", message)
	if c.TestMode {
		form.Set("testmode_yn", "Y")
	} else {
		form.Set("testmode_yn", "N")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("sms: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms: send failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}
