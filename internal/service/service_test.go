package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/inbound"
	"github.com/matheus3301/echovault/internal/metrics"
	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/outbox"
	"github.com/matheus3301/echovault/internal/reminder"
	"github.com/matheus3301/echovault/internal/store"
	"github.com/matheus3301/echovault/internal/trigger"
	"github.com/matheus3301/echovault/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	sent []notify.Message
	fail map[string]bool
}

func cancelWindow(seconds int) *vault.PanicConfig {
	return &vault.PanicConfig{CancelWindowSeconds: &seconds}
}

func (r *recorder) Send(_ context.Context, msg notify.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[msg.To] {
		return "", errors.New("mailbox unavailable")
	}
	r.sent = append(r.sent, msg)
	return "prov-1", nil
}

func (r *recorder) to() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, m := range r.sent {
		out = append(out, m.To)
	}
	return out
}

type env struct {
	svc   *Service
	db    *store.DB
	bus   *bus.Bus
	out   *recorder
	clock *time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Now().UTC().Truncate(time.Millisecond)
	clock := &now
	nowFn := func() time.Time { return *clock }
	b := bus.New()
	m := metrics.New()
	rec := &recorder{fail: map[string]bool{}}

	router := notify.NewRouter()
	router.Register(notify.ChannelEmail, rec)

	svc := New(Deps{
		DB:        db,
		Bus:       b,
		Metrics:   m,
		Evaluator: trigger.NewEvaluator(db, router, b, m, trigger.Options{AppDomain: "vault.example.com", Now: nowFn}, nil),
		Reminders: reminder.NewScheduler(db, b, m, reminder.Options{AppDomain: "vault.example.com", Now: nowFn}, nil),
		Outbox:    outbox.NewSender(db, router, b, m, outbox.Options{}, nil),
		Mailer:    rec,
	}, Options{
		AppDomain:      "vault.example.com",
		AdminEmails:    []string{"admin@example.com"},
		WhatsAppNumber: "+15550100",
		Now:            nowFn,
	})
	return &env{svc: svc, db: db, bus: b, out: rec, clock: clock}
}

func (e *env) advance(d time.Duration) {
	*e.clock = e.clock.Add(d)
}

// seed creates user u1 with a profile, a message, a recipient and cond.
func (e *env) seed(t *testing.T, cond *vault.MessageCondition) (*vault.Message, *vault.Recipient) {
	t.Helper()
	ctx := context.Background()
	u1 := Caller{UserID: "u1", Email: "owner@example.com"}
	require.NoError(t, e.svc.UpsertProfile(ctx, u1, &vault.Profile{FirstName: "Marc", Phone: "+1 555 0001"}))

	m := &vault.Message{Title: "For Anna", Content: "hello", MessageType: vault.MessageText}
	require.NoError(t, e.svc.CreateMessage(ctx, u1, m))
	r := &vault.Recipient{Name: "Anna", Email: "anna@example.com"}
	require.NoError(t, e.svc.CreateRecipient(ctx, u1, r))
	if cond != nil {
		cond.MessageID = m.ID
		cond.Active = true
		cond.RecipientIDs = []string{r.ID}
		require.NoError(t, e.svc.CreateCondition(ctx, u1, cond))
	}
	return m, r
}

var u1 = Caller{UserID: "u1", Email: "owner@example.com"}

func TestOwnershipHidesOtherUsersData(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m, r := e.seed(t, nil)
	other := Caller{UserID: "u2"}

	_, err := e.svc.GetMessage(ctx, other, m.ID)
	assert.ErrorIs(t, err, vault.ErrNotFound)
	assert.ErrorIs(t, e.svc.DeleteMessage(ctx, other, m.ID), vault.ErrNotFound)

	_, err = e.svc.GetMessage(ctx, InternalCaller, m.ID)
	assert.NoError(t, err)

	// u2 cannot attach u1's recipient to their own message.
	m2 := &vault.Message{Title: "Mine", MessageType: vault.MessageText}
	require.NoError(t, e.svc.CreateMessage(ctx, other, m2))
	err = e.svc.CreateCondition(ctx, other, &vault.MessageCondition{
		MessageID:      m2.ID,
		ConditionType:  vault.NoCheckIn,
		HoursThreshold: 24,
		Active:         true,
		RecipientIDs:   []string{r.ID},
	})
	assert.ErrorIs(t, err, vault.ErrValidation)
}

func TestCreateConditionArmsAndPublishes(t *testing.T) {
	e := newEnv(t)
	ch, unsub := e.bus.Subscribe(bus.KindConditionUpdated, 10)
	defer unsub()

	c := &vault.MessageCondition{ConditionType: vault.NoCheckIn, HoursThreshold: 24}
	e.seed(t, c)

	got, err := e.svc.GetCondition(context.Background(), u1, c.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StateArmed, got.State)
	assert.Equal(t, "u1", got.UserID)

	select {
	case evt := <-ch:
		u := evt.Payload.(vault.ConditionsUpdated)
		assert.Equal(t, "condition-created", u.Source)
		assert.Equal(t, c.MessageID, u.MessageID)
	case <-time.After(time.Second):
		t.Fatal("no conditions-updated event")
	}
}

func TestUpdateConditionDeactivateDisarms(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := &vault.MessageCondition{ConditionType: vault.NoCheckIn, HoursThreshold: 24}
	e.seed(t, c)

	upd := *c
	upd.Active = false
	require.NoError(t, e.svc.UpdateCondition(ctx, u1, &upd))
	got, err := e.svc.GetCondition(ctx, u1, c.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StateDisarmed, got.State)

	upd.Active = true
	upd.HoursThreshold = 48
	require.NoError(t, e.svc.UpdateCondition(ctx, u1, &upd))
	got, err = e.svc.GetCondition(ctx, u1, c.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StateArmed, got.State)
	assert.Equal(t, 48, got.HoursThreshold)
}

func TestCheckInReportsNextDeadline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := &vault.MessageCondition{ConditionType: vault.NoCheckIn, HoursThreshold: 24}
	e.seed(t, c)

	e.advance(20 * time.Hour)
	res, err := e.svc.CheckIn(ctx, "u1", "api")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conditions)
	require.NotNil(t, res.NextDeadline)
	assert.WithinDuration(t, e.clock.Add(24*time.Hour), *res.NextDeadline, time.Millisecond)

	_, err = e.svc.CheckIn(ctx, "", "api")
	assert.ErrorIs(t, err, vault.ErrValidation)
}

func TestPanicCountdownAndCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := &vault.MessageCondition{
		ConditionType: vault.PanicTrigger,
		PanicConfig:   cancelWindow(60),
	}
	e.seed(t, c)

	got, err := e.svc.TriggerPanic(ctx, u1, c.ID, "api")
	require.NoError(t, err)
	assert.Equal(t, vault.StatePanicPending, got.State)
	require.NotNil(t, got.PanicPendingUntil)
	assert.WithinDuration(t, e.clock.Add(time.Minute), *got.PanicPendingUntil, time.Millisecond)

	_, err = e.svc.TriggerPanic(ctx, u1, c.ID, "api")
	assert.ErrorIs(t, err, vault.ErrConflict, "panic twice")

	got, err = e.svc.CancelPanic(ctx, u1, c.ID, "api")
	require.NoError(t, err)
	assert.Equal(t, vault.StateArmed, got.State)

	_, err = e.svc.TriggerPanic(ctx, u1, c.ID, "api")
	require.NoError(t, err)
	e.advance(2 * time.Minute)
	_, err = e.svc.CancelPanic(ctx, u1, c.ID, "api")
	assert.ErrorIs(t, err, vault.ErrConflict, "cancel after window")
}

func TestPanicWithZeroWindowDeliversImmediately(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := &vault.MessageCondition{
		ConditionType: vault.PanicTrigger,
		PanicConfig:   cancelWindow(0),
	}
	e.seed(t, c)

	got, err := e.svc.TriggerPanic(ctx, u1, c.ID, "api")
	require.NoError(t, err)
	assert.Equal(t, vault.StateDelivered, got.State)
	assert.Equal(t, []string{"anna@example.com"}, e.out.to())
}

func TestPanicWithoutWindowUsesDefault(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := &vault.MessageCondition{}
	require.NoError(t, json.Unmarshal([]byte(`{"condition_type":"panic_trigger","panic_config":{"keep_armed":false}}`), c))
	e.seed(t, c)

	got, err := e.svc.TriggerPanic(ctx, u1, c.ID, "api")
	require.NoError(t, err)
	assert.Equal(t, vault.StatePanicPending, got.State)
	require.NotNil(t, got.PanicPendingUntil)
	assert.WithinDuration(t, e.clock.Add(vault.DefaultPanicCancelWindow*time.Second), *got.PanicPendingUntil, time.Millisecond)
	assert.Empty(t, e.out.to())

	stored, err := e.svc.GetCondition(ctx, u1, c.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PanicConfig)
	assert.Nil(t, stored.PanicConfig.CancelWindowSeconds)
}

func TestTriggerPanicRejectsOtherTypes(t *testing.T) {
	e := newEnv(t)
	c := &vault.MessageCondition{ConditionType: vault.NoCheckIn, HoursThreshold: 1}
	e.seed(t, c)
	_, err := e.svc.TriggerPanic(context.Background(), u1, c.ID, "api")
	assert.ErrorIs(t, err, vault.ErrValidation)
}

func TestSendMessageNotifications(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := &vault.MessageCondition{ConditionType: vault.NoCheckIn, HoursThreshold: 24}
	m, _ := e.seed(t, c)

	res, err := e.svc.SendMessageNotifications(ctx, u1, NotificationRequest{MessageID: m.ID, Debug: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Queued)
	require.Len(t, res.Debug, 1)
	assert.Equal(t, "not due", res.Debug[0].Reason)

	res, err = e.svc.SendMessageNotifications(ctx, u1, NotificationRequest{MessageID: m.ID, ForceSend: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Recipients)
	assert.Equal(t, 1, res.Queued)
	assert.Empty(t, res.Debug)
	assert.Equal(t, []string{"anna@example.com"}, e.out.to())

	_, err = e.svc.SendMessageNotifications(ctx, u1, NotificationRequest{})
	assert.ErrorIs(t, err, vault.ErrValidation)
}

func TestOpenSecureMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := &vault.MessageCondition{
		ConditionType:    vault.NoCheckIn,
		HoursThreshold:   1,
		PinCode:          "4321",
		UnlockDelayHours: 2,
		ExpiryHours:      24,
	}
	m, _ := e.seed(t, c)

	_, err := e.svc.OpenSecureMessage(ctx, m.ID, "anna@example.com", "4321")
	assert.ErrorIs(t, err, vault.ErrNotFound, "before delivery")

	_, err = e.svc.SendMessageNotifications(ctx, u1, NotificationRequest{MessageID: m.ID, ForceSend: true})
	require.NoError(t, err)

	_, err = e.svc.OpenSecureMessage(ctx, m.ID, "anna@example.com", "4321")
	var locked *vault.LockedError
	require.ErrorAs(t, err, &locked)
	assert.WithinDuration(t, e.clock.Add(2*time.Hour), locked.UnlockAt, time.Millisecond)

	e.advance(3 * time.Hour)
	_, err = e.svc.OpenSecureMessage(ctx, m.ID, "anna@example.com", "0000")
	assert.ErrorIs(t, err, vault.ErrInvalidPIN)

	sm, err := e.svc.OpenSecureMessage(ctx, m.ID, " Anna@Example.com ", "4321")
	require.NoError(t, err)
	assert.Equal(t, "For Anna", sm.Title)
	assert.Equal(t, "Marc", sm.SenderName)

	e.advance(24 * time.Hour)
	_, err = e.svc.OpenSecureMessage(ctx, m.ID, "anna@example.com", "4321")
	assert.ErrorIs(t, err, vault.ErrExpired)
}

func TestSendTestEmailToleratesFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seed(t, nil)
	require.NoError(t, e.svc.CreateRecipient(ctx, u1, &vault.Recipient{Name: "Bob", Email: "bob@example.com"}))
	e.out.fail["bob@example.com"] = true

	res, err := e.svc.SendTestEmail(ctx, u1, TestEmailRequest{})
	require.NoError(t, err)
	assert.Equal(t, &TestEmailResult{Success: true, Sent: 1, Failed: 1, Total: 2}, res)

	res, err = e.svc.SendTestEmail(ctx, u1, TestEmailRequest{Email: "carol@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	_, err = e.svc.SendTestEmail(ctx, u1, TestEmailRequest{Email: "not-an-email"})
	assert.ErrorIs(t, err, vault.ErrValidation)
}

func TestGetAppConfigAllowList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	v, err := e.svc.GetAppConfig(ctx, "TWILIO_WHATSAPP_NUMBER")
	require.NoError(t, err)
	assert.Equal(t, "+15550100", v.Value)

	_, err = e.svc.GetAppConfig(ctx, "TWILIO_AUTH_TOKEN")
	assert.ErrorIs(t, err, vault.ErrConfigKeyNotAllowed)
}

func TestAdminMessagesRequiresAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seed(t, nil)

	_, err := e.svc.AdminMessages(ctx, "owner@example.com")
	assert.ErrorIs(t, err, vault.ErrForbidden)

	list, err := e.svc.AdminMessages(ctx, "ADMIN@example.com")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestHandleInboundCommands(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := &vault.MessageCondition{
		ConditionType: vault.PanicTrigger,
		PanicConfig:   cancelWindow(300),
	}
	e.seed(t, c)
	send := func(from, body string) string {
		t.Helper()
		reply, err := e.svc.HandleInbound(ctx, inbound.Message{Source: inbound.SourceWhatsApp, From: from, Body: body})
		require.NoError(t, err)
		return reply
	}

	assert.Equal(t, inbound.UnknownSenderText, send("+15559999", "OK"))
	assert.Equal(t, inbound.HelpText, send("whatsapp:+15550001", "hello"))
	assert.Equal(t, "You have no pending deadlines.", send("+15550001", "status"))

	assert.Contains(t, send("+15550001", "SOS!"), "unless you reply CANCEL")
	got, err := e.svc.GetCondition(ctx, u1, c.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StatePanicPending, got.State)
	assert.True(t, strings.HasPrefix(send("+15550001", "Status?"), "Next deadline:"))

	assert.Contains(t, send("+15550001", "cancel"), "Cancelled 1")
	got, err = e.svc.GetCondition(ctx, u1, c.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StateArmed, got.State)

	assert.Equal(t, "Checked in. You have no check-in timers running.", send("+15550001", "ok"))

	n, err := e.db.CountInbound(ctx, "u1", e.clock.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestHandleWhatsAppWebhookRejectsEmptySender(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.HandleWhatsAppWebhook(context.Background(), "", "OK", "SM1")
	assert.ErrorIs(t, err, vault.ErrValidation)
}

func TestStatus(t *testing.T) {
	e := newEnv(t)
	e.seed(t, &vault.MessageCondition{ConditionType: vault.NoCheckIn, HoursThreshold: 1})
	st, err := e.svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Counts.Messages)
	assert.Equal(t, "DISABLED", st.WhatsApp.State)
	assert.Contains(t, st.Workers, "trigger")
}
