package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds. Subscribers filter on a namespace prefix such as "condition."
// or "notification.".
const (
	KindConditionUpdated   = "condition.updated"
	KindNotificationSent   = "notification.sent"
	KindNotificationFailed = "notification.failed"
	KindWorkerRan          = "worker.ran"
	KindLinkStatusChanged  = "link.status_changed"
	KindLinkQR             = "link.qr"
	KindWAMessage          = "wa.message"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with a fresh ID and the current time.
func NewEvent(kind string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
