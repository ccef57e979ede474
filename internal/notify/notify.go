// Package notify sends emails, SMS and WhatsApp messages through external
// providers.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Channels a notification can go out on.
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

// ErrChannelDisabled is returned for a channel with no configured sender.
var ErrChannelDisabled = errors.New("notification channel not configured")

// Message is one outgoing notification.
type Message struct {
	Channel string
	To      string
	Subject string
	Body    string
	HTML    string
}

// Sender delivers a message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) (string, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg Message) (string, error) {
	return f(ctx, msg)
}

// Router dispatches messages to the sender registered for their channel.
type Router struct {
	senders map[string]Sender
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{senders: make(map[string]Sender)}
}

// Register installs s for channel. A nil sender leaves the channel disabled.
func (r *Router) Register(channel string, s Sender) {
	if s == nil {
		return
	}
	r.senders[channel] = s
}

// Enabled reports whether channel has a sender.
func (r *Router) Enabled(channel string) bool {
	_, ok := r.senders[channel]
	return ok
}

// Send implements Sender.
func (r *Router) Send(ctx context.Context, msg Message) (string, error) {
	s, ok := r.senders[msg.Channel]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrChannelDisabled, msg.Channel)
	}
	return s.Send(ctx, msg)
}

// ProviderError is a non-2xx response from a provider API.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}

// Temporary reports whether retrying may succeed.
func (e *ProviderError) Temporary() bool {
	return e.Status == 429 || e.Status >= 500
}
