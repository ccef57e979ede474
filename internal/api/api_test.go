package api

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/metrics"
	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/outbox"
	"github.com/matheus3301/echovault/internal/reminder"
	"github.com/matheus3301/echovault/internal/service"
	"github.com/matheus3301/echovault/internal/store"
	"github.com/matheus3301/echovault/internal/trigger"
	"github.com/matheus3301/echovault/internal/vault"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type harness struct {
	client *Client
	svc    *service.Service
	db     *store.DB
	bus    *bus.Bus
}

func cancelWindow(seconds int) *vault.PanicConfig {
	return &vault.PanicConfig{CancelWindowSeconds: &seconds}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	m := metrics.New()
	router := notify.NewRouter()
	svc := service.New(service.Deps{
		DB:        db,
		Bus:       b,
		Metrics:   m,
		Evaluator: trigger.NewEvaluator(db, router, b, m, trigger.Options{}, nil),
		Reminders: reminder.NewScheduler(db, b, m, reminder.Options{}, nil),
		Outbox:    outbox.NewSender(db, router, b, m, outbox.Options{}, nil),
	}, service.Options{AppDomain: "vault.example.com"})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterVaultServer(srv, NewServer(svc, b, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &harness{client: NewClient(conn), svc: svc, db: db, bus: b}
}

func (h *harness) seedPanic(t *testing.T) *vault.MessageCondition {
	t.Helper()
	ctx := context.Background()
	u1 := service.Caller{UserID: "u1"}
	m := &vault.Message{Title: "t", MessageType: vault.MessageText}
	if err := h.svc.CreateMessage(ctx, u1, m); err != nil {
		t.Fatal(err)
	}
	r := &vault.Recipient{Name: "Anna", Email: "anna@example.com"}
	if err := h.svc.CreateRecipient(ctx, u1, r); err != nil {
		t.Fatal(err)
	}
	c := &vault.MessageCondition{
		MessageID:     m.ID,
		ConditionType: vault.PanicTrigger,
		PanicConfig:   cancelWindow(120),
		Active:        true,
		RecipientIDs:  []string{r.ID},
	}
	if err := h.svc.CreateCondition(ctx, u1, c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestGetStatus(t *testing.T) {
	h := newHarness(t)
	h.seedPanic(t)
	st, err := h.client.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if st.Counts == nil || st.Counts.Messages != 1 || st.Counts.ArmedConditions != 1 {
		t.Errorf("counts = %+v", st.Counts)
	}
	if st.WhatsApp.State != "DISABLED" {
		t.Errorf("whatsapp state = %q", st.WhatsApp.State)
	}
}

func TestPanicRoundTrip(t *testing.T) {
	h := newHarness(t)
	c := h.seedPanic(t)
	ctx := context.Background()

	got, err := h.client.TriggerPanic(ctx, c.ID)
	if err != nil {
		t.Fatalf("TriggerPanic() error = %v", err)
	}
	if got.State != vault.StatePanicPending || got.PanicPendingUntil == nil {
		t.Errorf("after panic = %s, until %v", got.State, got.PanicPendingUntil)
	}

	list, err := h.client.ListConditions(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].State != vault.StatePanicPending {
		t.Errorf("ListConditions() = %+v", list)
	}

	got, err = h.client.CancelPanic(ctx, c.ID)
	if err != nil {
		t.Fatalf("CancelPanic() error = %v", err)
	}
	if got.State != vault.StateArmed {
		t.Errorf("after cancel = %s", got.State)
	}

	_, err = h.client.CancelPanic(ctx, c.ID)
	if code := grpcstatus.Code(err); code != codes.FailedPrecondition {
		t.Errorf("second cancel code = %s, want FailedPrecondition", code)
	}
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.CheckIn(ctx, "")
	if code := grpcstatus.Code(err); code != codes.InvalidArgument {
		t.Errorf("CheckIn(\"\") code = %s, want InvalidArgument", code)
	}
	_, err = h.client.TriggerPanic(ctx, "missing")
	if code := grpcstatus.Code(err); code != codes.NotFound {
		t.Errorf("TriggerPanic(missing) code = %s, want NotFound", code)
	}
	_, err = h.client.ListConditions(ctx, "")
	if code := grpcstatus.Code(err); code != codes.InvalidArgument {
		t.Errorf("ListConditions(\"\") code = %s", code)
	}
	_, err = h.client.SendTestEmail(ctx, service.TestEmailRequest{Email: "a@example.com"})
	if code := grpcstatus.Code(err); code != codes.Unavailable {
		t.Errorf("SendTestEmail without mailer code = %s, want Unavailable", code)
	}
}

func TestRunEvaluationAndReminders(t *testing.T) {
	h := newHarness(t)
	h.seedPanic(t)
	ctx := context.Background()

	rep, err := h.client.RunEvaluation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Evaluated != 1 || rep.Triggered != 0 {
		t.Errorf("report = %+v", rep)
	}
	res, err := h.client.SendReminders(ctx, reminder.Request{Debug: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 {
		t.Errorf("reminders sent = %d", res.Sent)
	}
}

func TestWatchEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.WatchEvents(ctx, "condition.")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		// The server subscribes once the request arrives; keep publishing
		// until the test reads something.
		for ctx.Err() == nil {
			h.bus.Publish(bus.NewEvent(bus.KindNotificationSent, map[string]string{"id": "n1"}))
			h.bus.Publish(bus.NewEvent(bus.KindConditionUpdated, vault.ConditionsUpdated{MessageID: "m1", Source: "test"}))
			time.Sleep(20 * time.Millisecond)
		}
	}()

	env, err := stream.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if env.Kind != bus.KindConditionUpdated {
		t.Errorf("kind = %q", env.Kind)
	}
	payload, ok := env.Payload.(map[string]any)
	if !ok || payload["messageId"] != "m1" {
		t.Errorf("payload = %#v", env.Payload)
	}
}

func TestLinkWhatsAppDisabled(t *testing.T) {
	h := newHarness(t)
	stream, err := h.client.LinkWhatsApp(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_, err = stream.Recv()
	if code := grpcstatus.Code(err); code != codes.InvalidArgument {
		t.Errorf("code = %s, want InvalidArgument", code)
	}
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{vault.ErrValidation, codes.InvalidArgument},
		{vault.ErrNotFound, codes.NotFound},
		{vault.ErrConfigKeyNotAllowed, codes.PermissionDenied},
		{&vault.LockedError{UnlockAt: time.Now()}, codes.FailedPrecondition},
		{vault.ErrInvalidPIN, codes.Unauthenticated},
		{notify.ErrChannelDisabled, codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		if got := grpcstatus.Code(toStatus(tc.err)); got != tc.want {
			t.Errorf("toStatus(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
	if toStatus(nil) != nil {
		t.Error("toStatus(nil) should be nil")
	}
}

func TestToStructWrapsScalars(t *testing.T) {
	s, err := ToStruct("hello")
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]string
	if err := FromStruct(s, &out); err != nil {
		t.Fatal(err)
	}
	if out["value"] != "hello" {
		t.Errorf("out = %v", out)
	}
}
