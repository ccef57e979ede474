package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/matheus3301/echovault/internal/vault"
)

// TwilioClient sends SMS and WhatsApp messages through the Twilio REST API.
type TwilioClient struct {
	http                *resty.Client
	accountSID          string
	messagingServiceSID string
	whatsAppFrom        string
}

// NewTwilioClient creates a client. baseURL is normally https://api.twilio.com.
func NewTwilioClient(baseURL, accountSID, authToken, messagingServiceSID, whatsAppNumber string) *TwilioClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15*time.Second).
		SetBasicAuth(accountSID, authToken)
	return &TwilioClient{
		http:                c,
		accountSID:          accountSID,
		messagingServiceSID: messagingServiceSID,
		whatsAppFrom:        vault.NormalizePhoneNumber(whatsAppNumber),
	}
}

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *TwilioClient) create(ctx context.Context, form map[string]string) (string, error) {
	var (
		out  twilioMessage
		fail twilioError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("sid", c.accountSID).
		SetFormData(form).
		SetResult(&out).
		SetError(&fail).
		Post("/2010-04-01/Accounts/{sid}/Messages.json")
	if err != nil {
		return "", fmt.Errorf("twilio request: %w", err)
	}
	if resp.IsError() {
		text := fail.Message
		if fail.Code != 0 {
			text = fmt.Sprintf("%s (code %d)", fail.Message, fail.Code)
		}
		return "", &ProviderError{Provider: "twilio", Status: resp.StatusCode(), Message: text}
	}
	return out.SID, nil
}

// SendSMS sends a text message through the messaging service.
func (c *TwilioClient) SendSMS(ctx context.Context, to, body string) (string, error) {
	return c.create(ctx, map[string]string{
		"To":                  vault.NormalizePhoneNumber(to),
		"MessagingServiceSid": c.messagingServiceSID,
		"Body":                body,
	})
}

// SendWhatsApp sends a WhatsApp message from the configured sender number.
func (c *TwilioClient) SendWhatsApp(ctx context.Context, to, body string) (string, error) {
	if c.whatsAppFrom == "" {
		return "", fmt.Errorf("%w: no WhatsApp sender number", ErrChannelDisabled)
	}
	return c.create(ctx, map[string]string{
		"To":   "whatsapp:" + vault.NormalizePhoneNumber(to),
		"From": "whatsapp:" + c.whatsAppFrom,
		"Body": body,
	})
}

// SMS returns a Sender for the sms channel.
func (c *TwilioClient) SMS() Sender {
	return SenderFunc(func(ctx context.Context, msg Message) (string, error) {
		return c.SendSMS(ctx, msg.To, msg.Body)
	})
}

// WhatsApp returns a Sender for the whatsapp channel.
func (c *TwilioClient) WhatsApp() Sender {
	return SenderFunc(func(ctx context.Context, msg Message) (string, error) {
		return c.SendWhatsApp(ctx, msg.To, msg.Body)
	})
}
