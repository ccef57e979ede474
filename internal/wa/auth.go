package wa

import (
	"context"

	"github.com/matheus3301/echovault/internal/bus"
)

// AuthEventType enumerates auth event types.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent represents a device-link lifecycle event.
type AuthEvent struct {
	Type    AuthEventType `json:"type"`
	QRCode  string        `json:"qr_code,omitempty"`
	Message string        `json:"message,omitempty"`
}

// StartQRAuth begins the QR link flow. Events are streamed on the returned
// channel, which closes when linking succeeds or fails, and mirrored on the
// bus as link.qr events.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	qrChan, err := a.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan AuthEvent, 10)
	emit := func(evt AuthEvent) {
		out <- evt
		a.bus.Publish(bus.NewEvent(bus.KindLinkQR, evt))
	}

	go func() {
		defer close(out)

		// Connect must be called after GetQRChannel.
		if err := a.Connect(); err != nil {
			emit(AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()})
			return
		}

		for item := range qrChan {
			if evt, done := authEventFor(item.Event, item.Code, item.Error); evt != nil {
				emit(*evt)
				if done {
					return
				}
			}
		}
	}()

	return out, nil
}

// authEventFor maps a whatsmeow QR channel item to an AuthEvent and reports
// whether the flow has finished.
func authEventFor(event, code string, err error) (*AuthEvent, bool) {
	switch event {
	case "code":
		return &AuthEvent{Type: AuthEventQRCode, QRCode: code}, false
	case "success":
		return &AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}, true
	case "timeout":
		return &AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}, true
	}
	if err != nil {
		return &AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()}, true
	}
	return nil, false
}
