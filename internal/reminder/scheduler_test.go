package reminder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/echovault/internal/store"
	"github.com/matheus3301/echovault/internal/vault"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var lastChecked = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seed creates a 24h no_check_in condition with reminders 60 and 30 minutes
// before its deadline of 2024-01-02T00:00Z.
func seed(t *testing.T, db *store.DB, withProfile bool) *vault.MessageCondition {
	t.Helper()
	ctx := context.Background()
	if withProfile {
		if err := db.UpsertProfile(ctx, &vault.Profile{UserID: "u1", Email: "owner@example.com", FirstName: "Marc"}); err != nil {
			t.Fatal(err)
		}
	}
	m := &vault.Message{UserID: "u1", Title: "Letter", MessageType: vault.MessageText}
	if err := db.CreateMessage(ctx, m); err != nil {
		t.Fatal(err)
	}
	r := &vault.Recipient{UserID: "u1", Name: "Anna", Email: "anna@example.com"}
	if err := db.CreateRecipient(ctx, r); err != nil {
		t.Fatal(err)
	}
	c := &vault.MessageCondition{
		MessageID:       m.ID,
		UserID:          "u1",
		ConditionType:   vault.NoCheckIn,
		HoursThreshold:  24,
		ReminderMinutes: []int{30, 60},
		LastChecked:     lastChecked,
		State:           vault.StateArmed,
		Active:          true,
		RecipientIDs:    []string{r.ID},
	}
	if err := db.CreateCondition(ctx, c); err != nil {
		t.Fatal(err)
	}
	return c
}

func queued(t *testing.T, db *store.DB) []store.Notification {
	t.Helper()
	ns, err := db.PendingNotifications(context.Background(), time.Now().Add(time.Hour), 100)
	if err != nil {
		t.Fatal(err)
	}
	return ns
}

func TestRemindersFollowOffsets(t *testing.T) {
	db := testDB(t)
	c := seed(t, db, true)
	deadline := lastChecked.Add(24 * time.Hour)

	tests := []struct {
		name     string
		at       time.Time
		wantSent int
		wantLast *int
	}{
		{"too early", deadline.Add(-61 * time.Minute), 0, nil},
		{"first offset", deadline.Add(-60 * time.Minute), 1, intp(60)},
		{"between offsets", deadline.Add(-45 * time.Minute), 0, intp(60)},
		{"second offset", deadline.Add(-20 * time.Minute), 1, intp(30)},
		{"all sent", deadline.Add(-5 * time.Minute), 0, intp(30)},
	}
	now := tests[0].at
	s := NewScheduler(db, nil, nil, Options{AppDomain: "vault.example.com", Now: func() time.Time { return now }}, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = tt.at
			res, err := s.Run(context.Background(), Request{})
			if err != nil {
				t.Fatal(err)
			}
			if res.Sent != tt.wantSent {
				t.Errorf("sent = %d, want %d", res.Sent, tt.wantSent)
			}
			last, _ := db.LastReminder(context.Background(), c.ID)
			if (last == nil) != (tt.wantLast == nil) || (last != nil && *last != *tt.wantLast) {
				t.Errorf("last = %v, want %v", last, tt.wantLast)
			}
		})
	}

	ns := queued(t, db)
	if len(ns) != 2 {
		t.Fatalf("queued %d reminders, want 2", len(ns))
	}
	if ns[0].Address != "owner@example.com" || ns[0].Kind != NotificationKindReminder {
		t.Errorf("notification = %+v", ns[0])
	}
}

func TestMissedOffsetsCollapse(t *testing.T) {
	db := testDB(t)
	c := seed(t, db, true)
	now := lastChecked.Add(24*time.Hour - 10*time.Minute)
	s := NewScheduler(db, nil, nil, Options{Now: func() time.Time { return now }}, nil)

	res, err := s.Run(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 {
		t.Fatalf("sent = %d, want a single reminder", res.Sent)
	}
	last, _ := db.LastReminder(context.Background(), c.ID)
	if last == nil || *last != 30 {
		t.Errorf("last = %v, want 30", last)
	}
}

func TestDebugAndForce(t *testing.T) {
	db := testDB(t)
	c := seed(t, db, true)
	now := lastChecked.Add(time.Hour)
	s := NewScheduler(db, nil, nil, Options{Now: func() time.Time { return now }}, nil)
	ctx := context.Background()

	res, err := s.Run(ctx, Request{MessageID: c.MessageID, Debug: true, ForceSend: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 || len(res.Decisions) != 1 || !res.Decisions[0].Send {
		t.Fatalf("debug result = %+v", res)
	}
	if len(queued(t, db)) != 0 {
		t.Fatal("debug run queued notifications")
	}

	res, err = s.Run(ctx, Request{MessageID: c.MessageID, ForceSend: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 || res.Decisions[0].Reason != "forced" {
		t.Fatalf("forced result = %+v", res)
	}
	if last, _ := db.LastReminder(ctx, c.ID); last != nil {
		t.Errorf("forced reminder recorded offset %d", *last)
	}
}

func TestCheckInResetsHistory(t *testing.T) {
	db := testDB(t)
	c := seed(t, db, true)
	ctx := context.Background()
	now := lastChecked.Add(23 * time.Hour)
	s := NewScheduler(db, nil, nil, Options{Now: func() time.Time { return now }}, nil)

	if res, _ := s.Run(ctx, Request{}); res.Sent != 1 {
		t.Fatalf("sent = %d", res.Sent)
	}
	if _, err := db.CheckInUser(ctx, "u1", now); err != nil {
		t.Fatal(err)
	}
	if last, _ := db.LastReminder(ctx, c.ID); last != nil {
		t.Fatalf("history survived check-in: %d", *last)
	}

	now = now.Add(23 * time.Hour)
	if res, _ := s.Run(ctx, Request{}); res.Sent != 1 {
		t.Errorf("new cycle sent = %d, want 1", res.Sent)
	}
}

func TestMissingProfileReported(t *testing.T) {
	db := testDB(t)
	c := seed(t, db, false)
	now := lastChecked.Add(23 * time.Hour)
	s := NewScheduler(db, nil, nil, Options{Now: func() time.Time { return now }}, nil)

	res, err := s.Run(context.Background(), Request{MessageID: c.MessageID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 || res.Decisions[0].Sent || res.Decisions[0].Reason == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestOverdueSkipped(t *testing.T) {
	db := testDB(t)
	seed(t, db, true)
	now := lastChecked.Add(25 * time.Hour)
	s := NewScheduler(db, nil, nil, Options{Now: func() time.Time { return now }}, nil)

	res, _ := s.Run(context.Background(), Request{Debug: true})
	if len(res.Decisions) != 1 || res.Decisions[0].Send || res.Decisions[0].Reason != "deadline passed" {
		t.Errorf("decisions = %+v", res.Decisions)
	}
}

func intp(v int) *int { return &v }
