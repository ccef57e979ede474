// Package vault holds the EchoVault domain model: messages, recipients,
// trigger conditions and the pure calculations the workers run on them.
package vault

import "time"

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageVoice MessageType = "voice"
	MessageVideo MessageType = "video"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageVoice, MessageVideo:
		return true
	}
	return false
}

// FileAttachment references an uploaded storage object.
type FileAttachment struct {
	Path string `json:"path" validate:"required"`
	Name string `json:"name" validate:"required"`
	Size int64  `json:"size" validate:"gte=0"`
	Type string `json:"type"`
}

// HumanSize renders the attachment size for display.
func (a FileAttachment) HumanSize() string {
	return FormatFileSize(a.Size)
}

// Message is a recorded message waiting for its release condition.
type Message struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Title       string           `json:"title" validate:"required,max=200"`
	Content     string           `json:"content" validate:"max=100000"`
	MessageType MessageType      `json:"message_type" validate:"required,oneof=text voice video"`
	Attachments []FileAttachment `json:"attachments" validate:"dive"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Recipient is a person a message is released to.
type Recipient struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name" validate:"required,max=200"`
	Email     string    `json:"email" validate:"required,email"`
	Phone     string    `json:"phone,omitempty" validate:"omitempty,e164"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile holds the owner's own contact details, used for reminders and
// phone-based check-ins.
type Profile struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName returns the best available name for greetings.
func (p Profile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.Email
	}
}

// Delivery is a delivered_messages row: one release of a message to one
// recipient.
type Delivery struct {
	ID             string     `json:"id"`
	MessageID      string     `json:"message_id"`
	ConditionID    string     `json:"condition_id"`
	RecipientID    string     `json:"recipient_id"`
	RecipientEmail string     `json:"recipient_email"`
	DeliveredAt    time.Time  `json:"delivered_at"`
	UnlockAt       time.Time  `json:"unlock_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ViewedAt       *time.Time `json:"viewed_at,omitempty"`
}

// Unlocked reports whether the recipient may open the message at now.
func (d Delivery) Unlocked(now time.Time) bool {
	return !now.Before(d.UnlockAt)
}

// Expired reports whether the access window has closed at now.
func (d Delivery) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// AdminMessage is the administrator's cross-user view of a message.
type AdminMessage struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	UserEmail      string         `json:"user_email"`
	Title          string         `json:"title"`
	MessageType    MessageType    `json:"message_type"`
	ConditionType  ConditionType  `json:"condition_type,omitempty"`
	State          ConditionState `json:"state,omitempty"`
	RecipientCount int            `json:"recipient_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ConditionsUpdated is the payload of the conditions-updated event used by
// clients to refresh cached condition state.
type ConditionsUpdated struct {
	MessageID    string    `json:"messageId,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitzero"`
	TriggerValue string    `json:"triggerValue,omitempty"`
	Source       string    `json:"source"`
	UserID       string    `json:"userId,omitempty"`
}
