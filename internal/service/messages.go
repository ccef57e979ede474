package service

import (
	"context"
	"fmt"
	"io"

	"github.com/matheus3301/echovault/internal/attachments"
	"github.com/matheus3301/echovault/internal/vault"
	"go.uber.org/zap"
)

// ownedMessage loads a message and checks the caller may act on it.
func (s *Service) ownedMessage(ctx context.Context, caller Caller, id string) (*vault.Message, error) {
	m, err := s.DB.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("message %s: %w", id, vault.ErrNotFound)
	}
	if !caller.owns(m.UserID) {
		// Hide other users' messages entirely.
		return nil, fmt.Errorf("message %s: %w", id, vault.ErrNotFound)
	}
	return m, nil
}

// CreateMessage stores a new message for the caller.
func (s *Service) CreateMessage(ctx context.Context, caller Caller, m *vault.Message) error {
	if !caller.Internal || m.UserID == "" {
		m.UserID = caller.UserID
	}
	if m.UserID == "" {
		return fmt.Errorf("%w: message owner is required", vault.ErrValidation)
	}
	if err := vault.ValidateMessage(m); err != nil {
		return err
	}
	return s.DB.CreateMessage(ctx, m)
}

// UpdateMessage rewrites title, content, type and attachments.
func (s *Service) UpdateMessage(ctx context.Context, caller Caller, m *vault.Message) error {
	current, err := s.ownedMessage(ctx, caller, m.ID)
	if err != nil {
		return err
	}
	m.UserID = current.UserID
	m.CreatedAt = current.CreatedAt
	if err := vault.ValidateMessage(m); err != nil {
		return err
	}
	if err := s.DB.UpdateMessage(ctx, m); err != nil {
		return err
	}
	s.deleteOrphans(ctx, current.Attachments, m.Attachments)
	return nil
}

// GetMessage returns one of the caller's messages.
func (s *Service) GetMessage(ctx context.Context, caller Caller, id string) (*vault.Message, error) {
	return s.ownedMessage(ctx, caller, id)
}

// ListMessages returns the caller's messages.
func (s *Service) ListMessages(ctx context.Context, caller Caller) ([]vault.Message, error) {
	return s.DB.ListMessages(ctx, caller.UserID)
}

// DeleteMessage removes a message with its conditions, deliveries and files.
func (s *Service) DeleteMessage(ctx context.Context, caller Caller, id string) error {
	m, err := s.ownedMessage(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := s.DB.DeleteMessage(ctx, id); err != nil {
		return err
	}
	s.deleteOrphans(ctx, m.Attachments, nil)
	s.publish(vault.ConditionsUpdated{MessageID: id, Source: "message-deleted", UserID: m.UserID})
	return nil
}

// UploadAttachment stores a file and appends it to the message.
func (s *Service) UploadAttachment(ctx context.Context, caller Caller, messageID, filename, contentType string, size int64, r io.Reader) (*vault.FileAttachment, error) {
	if s.Files == nil {
		return nil, fmt.Errorf("attachment storage not configured")
	}
	m, err := s.ownedMessage(ctx, caller, messageID)
	if err != nil {
		return nil, err
	}
	key := attachments.NewKey(m.UserID, m.ID, filename)
	if err := s.Files.Put(ctx, key, r, contentType); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	a := vault.FileAttachment{Path: key, Name: filename, Size: size, Type: contentType}
	m.Attachments = append(m.Attachments, a)
	if err := s.DB.UpdateMessage(ctx, m); err != nil {
		_ = s.Files.Delete(ctx, key)
		return nil, err
	}
	s.logger.Info("attachment stored",
		zap.String("message_id", m.ID),
		zap.String("size", a.HumanSize()),
		zap.String("backend", s.Files.Name()))
	return &a, nil
}

// deleteOrphans removes stored files that are in before but not in after.
func (s *Service) deleteOrphans(ctx context.Context, before, after []vault.FileAttachment) {
	if s.Files == nil {
		return
	}
	keep := make(map[string]bool, len(after))
	for _, a := range after {
		keep[a.Path] = true
	}
	for _, a := range before {
		if keep[a.Path] {
			continue
		}
		if err := s.Files.Delete(ctx, a.Path); err != nil {
			s.logger.Warn("failed to delete attachment", zap.Error(err), zap.String("path", a.Path))
		}
	}
}

// AdminMessages lists every user's messages for an administrator.
func (s *Service) AdminMessages(ctx context.Context, email string) ([]vault.AdminMessage, error) {
	if !vault.IsAdminEmail(email, s.opts.AdminEmails...) {
		return nil, vault.ErrForbidden
	}
	return s.DB.ListAdminMessages(ctx)
}

// CreateRecipient stores a recipient for the caller.
func (s *Service) CreateRecipient(ctx context.Context, caller Caller, r *vault.Recipient) error {
	if !caller.Internal || r.UserID == "" {
		r.UserID = caller.UserID
	}
	if err := vault.ValidateRecipient(r); err != nil {
		return err
	}
	return s.DB.CreateRecipient(ctx, r)
}

// UpdateRecipient rewrites a recipient's contact details.
func (s *Service) UpdateRecipient(ctx context.Context, caller Caller, r *vault.Recipient) error {
	current, err := s.ownedRecipient(ctx, caller, r.ID)
	if err != nil {
		return err
	}
	r.UserID = current.UserID
	if err := vault.ValidateRecipient(r); err != nil {
		return err
	}
	return s.DB.UpdateRecipient(ctx, r)
}

// ListRecipients returns the caller's recipients.
func (s *Service) ListRecipients(ctx context.Context, caller Caller) ([]vault.Recipient, error) {
	return s.DB.ListRecipients(ctx, caller.UserID)
}

// DeleteRecipient removes a recipient from the caller's list and every
// condition.
func (s *Service) DeleteRecipient(ctx context.Context, caller Caller, id string) error {
	if _, err := s.ownedRecipient(ctx, caller, id); err != nil {
		return err
	}
	return s.DB.DeleteRecipient(ctx, id)
}

func (s *Service) ownedRecipient(ctx context.Context, caller Caller, id string) (*vault.Recipient, error) {
	r, err := s.DB.GetRecipient(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil || !caller.owns(r.UserID) {
		return nil, fmt.Errorf("recipient %s: %w", id, vault.ErrNotFound)
	}
	return r, nil
}

// UpsertProfile stores the caller's contact details used for reminders and
// phone check-ins.
func (s *Service) UpsertProfile(ctx context.Context, caller Caller, p *vault.Profile) error {
	if !caller.Internal || p.UserID == "" {
		p.UserID = caller.UserID
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: profile owner is required", vault.ErrValidation)
	}
	if p.Email == "" {
		p.Email = caller.Email
	}
	p.Phone = vault.NormalizePhoneNumber(p.Phone)
	return s.DB.UpsertProfile(ctx, p)
}
