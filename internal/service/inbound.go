package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/echovault/internal/inbound"
	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/store"
	"github.com/matheus3301/echovault/internal/vault"
	"go.uber.org/zap"
)

// inboundHourlyLimit caps how many texts one user gets answered per hour.
const inboundHourlyLimit = 30

// HandleWhatsAppWebhook processes a Twilio webhook message and returns the
// reply text.
func (s *Service) HandleWhatsAppWebhook(ctx context.Context, from, body, externalID string) (string, error) {
	return s.HandleInbound(ctx, inbound.Message{
		Source:     inbound.SourceTwilio,
		From:       from,
		Body:       body,
		ExternalID: externalID,
		ReceivedAt: s.now(),
	})
}

// HandleInbound implements inbound.Handler. Texts from unknown numbers get
// a linking hint; an empty reply means nothing should be sent back.
func (s *Service) HandleInbound(ctx context.Context, msg inbound.Message) (string, error) {
	phone := vault.NormalizePhoneNumber(msg.From)
	if phone == "" {
		return "", fmt.Errorf("%w: sender phone is required", vault.ErrValidation)
	}
	cmd := inbound.Parse(msg.Body)
	log := s.logger.With(zap.String("source", msg.Source), zap.String("from", phone), zap.String("command", string(cmd)))

	p, err := s.DB.ProfileByPhone(ctx, phone)
	if err != nil {
		return "", err
	}
	rec := &store.InboundMessage{
		Source:     msg.Source,
		FromPhone:  phone,
		Body:       msg.Body,
		Command:    string(cmd),
		ReceivedAt: msg.ReceivedAt,
	}
	if p != nil {
		rec.UserID = p.UserID
	}
	if err := s.DB.RecordInbound(ctx, rec); err != nil {
		return "", err
	}
	if p == nil {
		log.Info("inbound from unknown number")
		return inbound.UnknownSenderText, nil
	}

	now := s.now()
	n, err := s.DB.CountInbound(ctx, p.UserID, now.Add(-time.Hour))
	if err != nil {
		return "", err
	}
	if n > inboundHourlyLimit {
		log.Warn("inbound rate limit reached", zap.Int("count", n))
		return "", nil
	}

	source := "sms"
	if msg.Source == inbound.SourceWhatsApp || isWhatsAppAddress(msg.From) {
		source = notify.ChannelWhatsApp
	}
	log.Info("inbound command", zap.String("user_id", p.UserID))

	switch cmd {
	case inbound.CommandCheckIn:
		res, err := s.CheckIn(ctx, p.UserID, source)
		if err != nil {
			return "", err
		}
		return checkInReply(res, now), nil
	case inbound.CommandPanic:
		count, at, err := s.panicAll(ctx, p.UserID, source)
		if err != nil {
			return "", err
		}
		if count == 0 {
			return "You have no armed panic messages.", nil
		}
		return panicReply(count, at, now), nil
	case inbound.CommandCancel:
		count, err := s.cancelAll(ctx, p.UserID, source)
		if err != nil {
			return "", err
		}
		if count == 0 {
			return "Nothing to cancel.", nil
		}
		return fmt.Sprintf("Cancelled %d panic countdown(s). Your messages stay armed.", count), nil
	case inbound.CommandStatus:
		at, err := s.nearestDeadline(ctx, p.UserID)
		if err != nil {
			return "", err
		}
		if at == nil {
			return "You have no pending deadlines.", nil
		}
		return fmt.Sprintf("Next deadline: %s (in %s).", formatReplyTime(*at), notify.HumanDuration(at.Sub(now))), nil
	default:
		return inbound.HelpText, nil
	}
}

func checkInReply(res *CheckInResult, now time.Time) string {
	if res.Conditions == 0 {
		return "Checked in. You have no check-in timers running."
	}
	if res.NextDeadline == nil {
		return "Checked in."
	}
	return fmt.Sprintf("Checked in. Next deadline: %s (in %s).",
		formatReplyTime(*res.NextDeadline), notify.HumanDuration(res.NextDeadline.Sub(now)))
}

func panicReply(count int, at *time.Time, now time.Time) string {
	if at == nil || !at.After(now) {
		return fmt.Sprintf("Panic sent: %d message(s) released.", count)
	}
	return fmt.Sprintf("Panic started on %d message(s). They release in %s unless you reply CANCEL.",
		count, notify.HumanDuration(at.Sub(now)))
}

func formatReplyTime(t time.Time) string {
	return t.UTC().Format("02 Jan 15:04 MST")
}

func isWhatsAppAddress(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), "whatsapp:")
}
