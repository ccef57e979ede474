package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/reminder"
	"github.com/matheus3301/echovault/internal/trigger"
	"github.com/matheus3301/echovault/internal/vault"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NotificationRequest is the body of send-message-notifications.
type NotificationRequest struct {
	MessageID string `json:"messageId"`
	Debug     bool   `json:"debug,omitempty"`
	ForceSend bool   `json:"forceSend,omitempty"`
	Source    string `json:"source,omitempty"`
}

// NotificationResult is the reply of send-message-notifications.
type NotificationResult struct {
	Success    bool                  `json:"success"`
	Recipients int                   `json:"recipients"`
	Queued     int                   `json:"queued"`
	Debug      []trigger.ForceResult `json:"debug,omitempty"`
}

// SendMessageNotifications fires and delivers a message's conditions. With
// ForceSend every armed or pending condition fires now; otherwise only due
// ones do.
func (s *Service) SendMessageNotifications(ctx context.Context, caller Caller, req NotificationRequest) (*NotificationResult, error) {
	if req.MessageID == "" {
		return nil, fmt.Errorf("%w: messageId is required", vault.ErrValidation)
	}
	if _, err := s.ownedMessage(ctx, caller, req.MessageID); err != nil {
		return nil, err
	}
	if s.Evaluator == nil {
		return nil, fmt.Errorf("evaluator not running")
	}
	source := req.Source
	if source == "" {
		source = "manual"
	}

	results, err := s.Evaluator.Force(ctx, req.MessageID, req.ForceSend, source)
	if err != nil {
		return nil, err
	}
	res := &NotificationResult{Success: true}
	for _, r := range results {
		if r.Delivered {
			res.Recipients += r.Recipients
		}
		res.Queued += r.Queued
	}
	if res.Queued > 0 && s.Outbox != nil {
		s.Outbox.Flush(ctx)
	}
	if req.Debug {
		res.Debug = results
	}
	s.logger.Info("message notifications",
		zap.String("message_id", req.MessageID), zap.String("source", source),
		zap.Bool("force", req.ForceSend), zap.Int("queued", res.Queued))
	return res, nil
}

// SendReminderEmails runs the reminder scheduler on request.
func (s *Service) SendReminderEmails(ctx context.Context, caller Caller, req reminder.Request) (*reminder.Result, error) {
	if s.Reminders == nil {
		return nil, fmt.Errorf("reminder scheduler not running")
	}
	if req.MessageID != "" {
		if _, err := s.ownedMessage(ctx, caller, req.MessageID); err != nil {
			return nil, err
		}
	} else if !caller.Internal {
		return nil, fmt.Errorf("%w: messageId is required", vault.ErrValidation)
	}
	res, err := s.Reminders.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Sent > 0 && s.Outbox != nil {
		s.Outbox.Flush(ctx)
	}
	return &res, nil
}

// TestEmailRequest is the body of send-test-email. An explicit Email wins;
// otherwise the recipients of MessageID or RecipientIDs are used, or all of
// the caller's recipients.
type TestEmailRequest struct {
	MessageID    string   `json:"messageId,omitempty"`
	RecipientIDs []string `json:"recipientIds,omitempty"`
	Email        string   `json:"email,omitempty" validate:"omitempty,email"`
}

// TestEmailResult reports a test-email batch.
type TestEmailResult struct {
	Success bool `json:"success"`
	Sent    int  `json:"sent"`
	Failed  int  `json:"failed"`
	Total   int  `json:"total"`
}

// SendTestEmail mails a test message to each target concurrently. Failures
// are counted, never rolled back.
func (s *Service) SendTestEmail(ctx context.Context, caller Caller, req TestEmailRequest) (*TestEmailResult, error) {
	if err := vault.Validate(req); err != nil {
		return nil, err
	}
	if s.Mailer == nil {
		return nil, notify.ErrChannelDisabled
	}

	var title, owner string
	if req.MessageID != "" {
		m, err := s.ownedMessage(ctx, caller, req.MessageID)
		if err != nil {
			return nil, err
		}
		title, owner = m.Title, m.UserID
	} else {
		owner = caller.UserID
	}
	targets, err := s.testTargets(ctx, caller, owner, req)
	if err != nil {
		return nil, err
	}
	sender := "Someone"
	if p, err := s.DB.GetProfile(ctx, owner); err != nil {
		return nil, err
	} else if p != nil {
		sender = p.DisplayName()
	}

	var sent, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.TestEmailParallelism)
	for _, r := range targets {
		g.Go(func() error {
			body, err := notify.TestEmail(notify.TestData{SenderName: sender, RecipientName: r.Name, MessageTitle: title})
			if err == nil {
				_, err = s.Mailer.Send(gctx, notify.Message{
					Channel: notify.ChannelEmail,
					To:      r.Email,
					Subject: body.Subject,
					Body:    body.Text,
					HTML:    body.HTML,
				})
			}
			if err != nil {
				failed.Add(1)
				s.Metrics.Notification(notify.ChannelEmail, "failed")
				s.logger.Warn("test email failed", zap.String("to", r.Email), zap.Error(err))
				return nil
			}
			sent.Add(1)
			s.Metrics.Notification(notify.ChannelEmail, "sent")
			return nil
		})
	}
	_ = g.Wait()

	res := &TestEmailResult{Sent: int(sent.Load()), Failed: int(failed.Load()), Total: len(targets)}
	res.Success = res.Sent > 0 || res.Total == 0
	return res, nil
}

func (s *Service) testTargets(ctx context.Context, caller Caller, owner string, req TestEmailRequest) ([]vault.Recipient, error) {
	if req.Email != "" {
		return []vault.Recipient{{Name: req.Email, Email: req.Email}}, nil
	}
	ids := req.RecipientIDs
	if req.MessageID != "" && len(ids) == 0 {
		conds, err := s.DB.ConditionsForMessage(ctx, req.MessageID)
		if err != nil {
			return nil, err
		}
		for _, c := range conds {
			for _, id := range c.RecipientIDs {
				if !slices.Contains(ids, id) {
					ids = append(ids, id)
				}
			}
		}
		if len(ids) == 0 {
			return nil, nil
		}
	}
	if len(ids) == 0 {
		if owner == "" {
			return nil, fmt.Errorf("%w: nothing to send to", vault.ErrValidation)
		}
		return s.DB.ListRecipients(ctx, owner)
	}
	rs, err := s.DB.RecipientsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := rs[:0]
	for _, r := range rs {
		if caller.owns(r.UserID) {
			out = append(out, r)
		}
	}
	return out, nil
}

// allowedConfigKeys are the app_config keys exposed to clients.
var allowedConfigKeys = []string{"TWILIO_WHATSAPP_NUMBER"}

// ConfigValue is the reply of get-app-config.
type ConfigValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetAppConfig returns an allow-listed setting. The daemon config wins over
// the app_config table.
func (s *Service) GetAppConfig(ctx context.Context, key string) (*ConfigValue, error) {
	key = strings.TrimSpace(key)
	if !slices.Contains(allowedConfigKeys, key) {
		return nil, fmt.Errorf("%w: %q", vault.ErrConfigKeyNotAllowed, key)
	}
	if key == "TWILIO_WHATSAPP_NUMBER" && s.opts.WhatsAppNumber != "" {
		return &ConfigValue{Key: key, Value: s.opts.WhatsAppNumber}, nil
	}
	v, ok, err := s.DB.GetAppConfig(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("config %s: %w", key, vault.ErrNotFound)
	}
	return &ConfigValue{Key: key, Value: v}, nil
}
