package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/store"
	"github.com/matheus3301/echovault/internal/vault"
	"go.uber.org/zap"
)

// NotificationKindDelivery tags outbox rows that announce a released message.
const NotificationKindDelivery = "delivery"

type deliverResult struct {
	Delivered bool
	Queued    int
}

// deliver queues the notifications of a triggered condition once its
// deliveries are unlocked, then marks it delivered and re-arms it when its
// type repeats.
func (e *Evaluator) deliver(ctx context.Context, c *vault.MessageCondition, now time.Time, source string) (deliverResult, error) {
	var res deliverResult
	if c.TriggeredAt == nil {
		return res, errors.New("triggered condition has no trigger time")
	}
	pending, err := e.db.DeliveriesForCondition(ctx, c.ID, *c.TriggeredAt)
	if err != nil {
		return res, fmt.Errorf("load deliveries: %w", err)
	}
	if len(pending) == 0 && len(c.RecipientIDs) > 0 {
		// Rebuild missing rows rather than release to nobody.
		if pending, err = e.restoreDeliveries(ctx, c); err != nil {
			return res, err
		}
	}
	for _, p := range pending {
		if !p.Unlocked(now) {
			return res, nil
		}
	}

	if len(pending) > 0 {
		n, err := e.notifyRecipients(ctx, c, pending, now)
		res.Queued = n
		if err != nil {
			return res, err
		}
	}

	from := c.State
	next := *c
	next.State = vault.StateDelivered
	ok, err := e.db.SetConditionState(ctx, &next, from)
	if err != nil || !ok {
		return res, err
	}
	*c = next
	res.Delivered = true

	if c.Rearms() {
		rearmed := *c
		rearmed.Arm(now)
		ok, err := e.db.SetConditionState(ctx, &rearmed, vault.StateDelivered)
		if err != nil {
			return res, fmt.Errorf("re-arm: %w", err)
		}
		if ok {
			*c = rearmed
			e.logger.Info("condition re-armed", zap.String("condition_id", c.ID), zap.Timep("next_fire_at", c.NextFireAt))
		}
	}
	e.publish(c, now, "", source)
	return res, nil
}

// restoreDeliveries recreates the delivery rows of a triggered condition
// from its current recipients and reloads them.
func (e *Evaluator) restoreDeliveries(ctx context.Context, c *vault.MessageCondition) ([]store.PendingDelivery, error) {
	ds, err := e.deliveriesFor(ctx, c, *c.TriggeredAt)
	if err != nil {
		return nil, err
	}
	n, err := e.db.CreateDeliveries(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("restore deliveries: %w", err)
	}
	e.logger.Warn("restored missing deliveries", zap.String("condition_id", c.ID), zap.Int("deliveries", n))
	pending, err := e.db.DeliveriesForCondition(ctx, c.ID, *c.TriggeredAt)
	if err != nil {
		return nil, fmt.Errorf("load deliveries: %w", err)
	}
	return pending, nil
}

func (e *Evaluator) notifyRecipients(ctx context.Context, c *vault.MessageCondition, pending []store.PendingDelivery, now time.Time) (int, error) {
	msg, err := e.db.GetMessage(ctx, c.MessageID)
	if err != nil {
		return 0, fmt.Errorf("load message: %w", err)
	}
	if msg == nil {
		return 0, fmt.Errorf("message %s: %w", c.MessageID, vault.ErrNotFound)
	}
	sender := "Someone"
	if p, err := e.db.GetProfile(ctx, msg.UserID); err != nil {
		return 0, fmt.Errorf("load profile: %w", err)
	} else if p != nil {
		sender = p.DisplayName()
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.RecipientID)
	}
	recipients, err := e.db.RecipientsByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("load recipients: %w", err)
	}
	byID := make(map[string]vault.Recipient, len(recipients))
	for _, r := range recipients {
		byID[r.ID] = r
	}

	queued := 0
	for _, p := range pending {
		if p.Notified {
			continue
		}
		r, ok := byID[p.RecipientID]
		if !ok {
			// Recipient was deleted after the trigger; the email on the
			// delivery row is still valid.
			r = vault.Recipient{ID: p.RecipientID, Email: p.RecipientEmail}
		}
		data := notify.DeliveryData{
			SenderName:    sender,
			RecipientName: r.Name,
			MessageTitle:  msg.Title,
			URL:           vault.SecureMessageURL(e.opts.AppDomain, msg.ID, p.RecipientEmail),
			UnlockAt:      p.UnlockAt,
			ExpiresAt:     p.ExpiresAt,
			HasPIN:        c.HasPIN(),
			Now:           now,
		}
		if data.RecipientName == "" {
			data.RecipientName = p.RecipientEmail
		}
		email, err := notify.DeliveryEmail(data)
		if err != nil {
			return queued, err
		}
		batch := []store.Notification{{
			Kind: NotificationKindDelivery, Channel: notify.ChannelEmail, Address: p.RecipientEmail,
			Subject: email.Subject, Body: email.Text, HTML: email.HTML, MessageID: msg.ID,
		}}
		if phone := vault.NormalizePhoneNumber(r.Phone); phone != "" {
			text := notify.DeliveryText(data)
			for _, ch := range []string{notify.ChannelSMS, notify.ChannelWhatsApp} {
				if e.channels != nil && e.channels.Enabled(ch) {
					batch = append(batch, store.Notification{
						Kind: NotificationKindDelivery, Channel: ch, Address: phone, Body: text, MessageID: msg.ID,
					})
				}
			}
		}
		for i := range batch {
			if err := e.db.QueueNotification(ctx, &batch[i]); err != nil {
				return queued, err
			}
			queued++
		}
		if err := e.db.MarkNotified(ctx, p.ID, now); err != nil {
			return queued, err
		}
	}
	return queued, nil
}
