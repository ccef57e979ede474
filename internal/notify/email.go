package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// EmailClient sends mail through a Resend-compatible HTTP API:
// POST <endpoint> with a bearer key and {from, to, subject, html, text}.
type EmailClient struct {
	http     *resty.Client
	endpoint string
	from     string
}

// NewEmailClient creates a client for the given endpoint.
func NewEmailClient(endpoint, apiKey, from string) *EmailClient {
	c := resty.New().
		SetTimeout(15*time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")
	return &EmailClient{http: c, endpoint: endpoint, from: from}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type emailResponse struct {
	ID string `json:"id"`
}

type emailError struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Send implements Sender.
func (c *EmailClient) Send(ctx context.Context, msg Message) (string, error) {
	var (
		out  emailResponse
		fail emailError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(emailRequest{
			From:    c.from,
			To:      []string{msg.To},
			Subject: msg.Subject,
			HTML:    msg.HTML,
			Text:    msg.Body,
		}).
		SetResult(&out).
		SetError(&fail).
		Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("email request: %w", err)
	}
	if resp.IsError() {
		text := fail.Message
		if text == "" {
			text = resp.String()
		}
		return "", &ProviderError{Provider: "email", Status: resp.StatusCode(), Message: text}
	}
	return out.ID, nil
}
