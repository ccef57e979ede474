package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/echovault/internal/vault"
	"go.uber.org/zap"
)

// SecureMessage is what a recipient sees when opening a delivered message.
type SecureMessage struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	MessageType vault.MessageType `json:"message_type"`
	SenderName  string            `json:"sender_name"`
	Attachments []AttachmentLink  `json:"attachments"`
	DeliveredAt time.Time         `json:"delivered_at"`
	UnlockAt    time.Time         `json:"unlock_at"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// AttachmentLink is a downloadable attachment.
type AttachmentLink struct {
	Name string `json:"name"`
	Size string `json:"size"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// OpenSecureMessage checks a recipient's access to a delivered message and
// marks it viewed. Checks run in order: delivery exists, unlocked, not
// expired, PIN.
func (s *Service) OpenSecureMessage(ctx context.Context, messageID, email, pin string) (*SecureMessage, error) {
	sm, err := s.openSecureMessage(ctx, messageID, strings.TrimSpace(email), pin)
	s.Metrics.SecureMessage(secureOutcome(err))
	return sm, err
}

func (s *Service) openSecureMessage(ctx context.Context, messageID, email, pin string) (*SecureMessage, error) {
	if messageID == "" || email == "" {
		return nil, fmt.Errorf("%w: id and recipient are required", vault.ErrValidation)
	}
	d, err := s.DB.FindDelivery(ctx, messageID, email)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("delivery: %w", vault.ErrNotFound)
	}
	now := s.now()
	if !d.Unlocked(now) {
		return nil, &vault.LockedError{UnlockAt: d.UnlockAt}
	}
	if d.Expired(now) {
		return nil, vault.ErrExpired
	}
	c, err := s.DB.GetCondition(ctx, d.ConditionID)
	if err != nil {
		return nil, err
	}
	if c != nil && !vault.CheckPIN(c.PinCode, pin) {
		return nil, vault.ErrInvalidPIN
	}

	m, err := s.DB.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("message %s: %w", messageID, vault.ErrNotFound)
	}
	if d.ViewedAt == nil {
		if err := s.DB.MarkViewed(ctx, d.ID, now); err != nil {
			return nil, err
		}
		s.logger.Info("secure message opened", zap.String("message_id", m.ID), zap.String("delivery_id", d.ID))
	}

	sm := &SecureMessage{
		ID:          m.ID,
		Title:       m.Title,
		Content:     m.Content,
		MessageType: m.MessageType,
		SenderName:  "Someone",
		Attachments: make([]AttachmentLink, 0, len(m.Attachments)),
		DeliveredAt: d.DeliveredAt,
		UnlockAt:    d.UnlockAt,
		ExpiresAt:   d.ExpiresAt,
	}
	if p, err := s.DB.GetProfile(ctx, m.UserID); err != nil {
		return nil, err
	} else if p != nil {
		sm.SenderName = p.DisplayName()
	}
	for _, a := range m.Attachments {
		link := AttachmentLink{Name: a.Name, Size: a.HumanSize(), Type: a.Type}
		if s.Files != nil {
			if link.URL, err = s.Files.URL(ctx, a.Path, s.opts.AttachmentURLTTL); err != nil {
				return nil, fmt.Errorf("sign attachment %s: %w", a.Name, err)
			}
		}
		sm.Attachments = append(sm.Attachments, link)
	}
	return sm, nil
}

// SecureMessageURL returns the recipient link for a message.
func (s *Service) SecureMessageURL(messageID, email string) string {
	return vault.SecureMessageURL(s.opts.AppDomain, messageID, email)
}

func secureOutcome(err error) string {
	switch {
	case err == nil:
		return "opened"
	case errors.Is(err, vault.ErrLocked):
		return "locked"
	case errors.Is(err, vault.ErrExpired):
		return "expired"
	case errors.Is(err, vault.ErrInvalidPIN):
		return "invalid_pin"
	case errors.Is(err, vault.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
