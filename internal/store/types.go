package store

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/echovault/internal/vault"
)

// Notification statuses.
const (
	NotificationQueued  = "queued"
	NotificationSending = "sending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// Notification is an outbox row: one outgoing email, SMS or WhatsApp message.
type Notification struct {
	ID            string `db:"id"`
	Kind          string `db:"kind"`
	Channel       string `db:"channel"`
	Address       string `db:"address"`
	Subject       string `db:"subject"`
	Body          string `db:"body"`
	HTML          string `db:"html"`
	MessageID     string `db:"message_id"`
	Status        string `db:"status"`
	Attempts      int    `db:"attempts"`
	NextAttemptAt int64  `db:"next_attempt_at"`
	ProviderID    string `db:"provider_id"`
	ErrorMessage  string `db:"error_message"`
	CreatedAt     int64  `db:"created_at"`
	UpdatedAt     int64  `db:"updated_at"`
}

// InboundMessage is a recorded message received from a phone.
type InboundMessage struct {
	ID         string
	Source     string
	FromPhone  string
	Body       string
	UserID     string
	Command    string
	ReceivedAt time.Time
}

// Stats holds row counts for status reporting.
type Stats struct {
	Messages            int `json:"messages"`
	Recipients          int `json:"recipients"`
	ArmedConditions     int `json:"armed_conditions"`
	PendingPanics       int `json:"pending_panics"`
	Deliveries          int `json:"deliveries"`
	QueuedNotifications int `json:"queued_notifications"`
	FailedNotifications int `json:"failed_notifications"`
}

type messageRow struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	Title       string `db:"title"`
	Content     string `db:"content"`
	MessageType string `db:"message_type"`
	Attachments string `db:"attachments"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func (r messageRow) toMessage() (*vault.Message, error) {
	m := &vault.Message{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Content:     r.Content,
		MessageType: vault.MessageType(r.MessageType),
		CreatedAt:   fromMillis(r.CreatedAt),
		UpdatedAt:   fromMillis(r.UpdatedAt),
	}
	if err := decodeJSON(r.Attachments, &m.Attachments); err != nil {
		return nil, err
	}
	return m, nil
}

type recipientRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Name      string `db:"name"`
	Email     string `db:"email"`
	Phone     string `db:"phone"`
	CreatedAt int64  `db:"created_at"`
}

func (r recipientRow) toRecipient() vault.Recipient {
	return vault.Recipient{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		Email:     r.Email,
		Phone:     r.Phone,
		CreatedAt: fromMillis(r.CreatedAt),
	}
}

type conditionRow struct {
	ID                string  `db:"id"`
	MessageID         string  `db:"message_id"`
	UserID            string  `db:"user_id"`
	ConditionType     string  `db:"condition_type"`
	HoursThreshold    int     `db:"hours_threshold"`
	MinutesThreshold  int     `db:"minutes_threshold"`
	LastChecked       int64   `db:"last_checked"`
	TriggerDate       *int64  `db:"trigger_date"`
	RecurringPattern  *string `db:"recurring_pattern"`
	ReminderMinutes   string  `db:"reminder_minutes"`
	PanicConfig       *string `db:"panic_config"`
	PinCode           string  `db:"pin_code"`
	UnlockDelayHours  int     `db:"unlock_delay_hours"`
	ExpiryHours       int     `db:"expiry_hours"`
	Active            bool    `db:"active"`
	State             string  `db:"state"`
	TriggeredAt       *int64  `db:"triggered_at"`
	PanicPendingUntil *int64  `db:"panic_pending_until"`
	NextFireAt        *int64  `db:"next_fire_at"`
	CreatedAt         int64   `db:"created_at"`
	UpdatedAt         int64   `db:"updated_at"`
	Version           int64   `db:"version"`
}

const conditionColumns = `id, message_id, user_id, condition_type, hours_threshold, minutes_threshold,
	last_checked, trigger_date, recurring_pattern, reminder_minutes, panic_config, pin_code,
	unlock_delay_hours, expiry_hours, active, state, triggered_at, panic_pending_until,
	next_fire_at, created_at, updated_at, version`

func (r conditionRow) toCondition() (*vault.MessageCondition, error) {
	c := &vault.MessageCondition{
		ID:                r.ID,
		MessageID:         r.MessageID,
		UserID:            r.UserID,
		ConditionType:     vault.ConditionType(r.ConditionType),
		HoursThreshold:    r.HoursThreshold,
		MinutesThreshold:  r.MinutesThreshold,
		LastChecked:       fromMillis(r.LastChecked),
		TriggerDate:       fromMillisPtr(r.TriggerDate),
		PinCode:           r.PinCode,
		UnlockDelayHours:  r.UnlockDelayHours,
		ExpiryHours:       r.ExpiryHours,
		Active:            r.Active,
		State:             vault.ConditionState(r.State),
		TriggeredAt:       fromMillisPtr(r.TriggeredAt),
		PanicPendingUntil: fromMillisPtr(r.PanicPendingUntil),
		NextFireAt:        fromMillisPtr(r.NextFireAt),
		CreatedAt:         fromMillis(r.CreatedAt),
		UpdatedAt:         fromMillis(r.UpdatedAt),
		Version:           r.Version,
	}
	if err := decodeJSON(r.ReminderMinutes, &c.ReminderMinutes); err != nil {
		return nil, err
	}
	if r.RecurringPattern != nil {
		c.RecurringPattern = &vault.RecurringPattern{}
		if err := decodeJSON(*r.RecurringPattern, c.RecurringPattern); err != nil {
			return nil, err
		}
	}
	if r.PanicConfig != nil {
		c.PanicConfig = &vault.PanicConfig{}
		if err := decodeJSON(*r.PanicConfig, c.PanicConfig); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type deliveryRow struct {
	ID             string `db:"id"`
	MessageID      string `db:"message_id"`
	ConditionID    string `db:"condition_id"`
	RecipientID    string `db:"recipient_id"`
	RecipientEmail string `db:"recipient_email"`
	DeliveredAt    int64  `db:"delivered_at"`
	UnlockAt       int64  `db:"unlock_at"`
	ExpiresAt      *int64 `db:"expires_at"`
	ViewedAt       *int64 `db:"viewed_at"`
	NotifiedAt     *int64 `db:"notified_at"`
}

const deliveryColumns = `id, message_id, condition_id, recipient_id, recipient_email,
	delivered_at, unlock_at, expires_at, viewed_at, notified_at`

func (r deliveryRow) toDelivery() vault.Delivery {
	return vault.Delivery{
		ID:             r.ID,
		MessageID:      r.MessageID,
		ConditionID:    r.ConditionID,
		RecipientID:    r.RecipientID,
		RecipientEmail: r.RecipientEmail,
		DeliveredAt:    fromMillis(r.DeliveredAt),
		UnlockAt:       fromMillis(r.UnlockAt),
		ExpiresAt:      fromMillisPtr(r.ExpiresAt),
		ViewedAt:       fromMillisPtr(r.ViewedAt),
	}
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// encodeJSONPtr stores nil pointers as SQL NULL.
func encodeJSONPtr[T any](v *T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s, err := encodeJSON(v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeJSON(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
