package vault

import (
	"errors"
	"testing"
	"time"
)

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{500, "500 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatFileSize(tt.in); got != tt.want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsAdminEmail(t *testing.T) {
	if !IsAdminEmail("MARC.S@SEELENBINDERCONSULTING.COM") {
		t.Error("uppercase admin address should match")
	}
	if !IsAdminEmail("  marc.s@seelenbinderconsulting.com ") {
		t.Error("surrounding whitespace should be ignored")
	}
	if IsAdminEmail("someone@example.com") {
		t.Error("non-admin matched")
	}
	if IsAdminEmail("") {
		t.Error("empty email matched")
	}
	if !IsAdminEmail("ops@example.com", "ops@example.com") {
		t.Error("custom admin list not honoured")
	}
	if IsAdminEmail(DefaultAdminEmail, "ops@example.com") {
		t.Error("custom admin list should replace the default")
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"whatsapp:+1234567890", "+1234567890"},
		{"1234567890", "+1234567890"},
		{"+49 (151) 234-5678", "+491512345678"},
		{"0049151234", "+49151234"},
		{"WhatsApp:+15550001", "+15550001"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhoneNumber(tt.in); got != tt.want {
			t.Errorf("NormalizePhoneNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSecureMessageURL(t *testing.T) {
	got := SecureMessageURL("https://vault.example.com/", "msg-1", "jane+doe@example.com")
	want := "https://vault.example.com/secure-message?id=msg-1&recipient=jane%2Bdoe%40example.com"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := SecureMessageURL("vault.example.com", "m", "a@b.c"); got != "https://vault.example.com/secure-message?id=m&recipient=a%40b.c" {
		t.Errorf("bare domain: got %q", got)
	}
}

func TestCheckPIN(t *testing.T) {
	if !CheckPIN("", "anything") {
		t.Error("empty expected PIN should pass")
	}
	if !CheckPIN("1234", "1234") {
		t.Error("matching PIN rejected")
	}
	if CheckPIN("1234", "4321") || CheckPIN("1234", "") {
		t.Error("wrong PIN accepted")
	}
}

func TestTransition(t *testing.T) {
	valid := [][2]ConditionState{
		{StateArmed, StatePanicPending},
		{StatePanicPending, StateArmed},
		{StateArmed, StateTriggered},
		{StateTriggered, StateDelivered},
		{StateDelivered, StateArmed},
		{StateDisarmed, StateArmed},
	}
	for _, p := range valid {
		if err := Transition(p[0], p[1]); err != nil {
			t.Errorf("Transition(%s, %s) = %v, want nil", p[0], p[1], err)
		}
	}
	invalid := [][2]ConditionState{
		{StateArmed, StateDelivered},
		{StateTriggered, StateArmed},
		{StateDisarmed, StateTriggered},
	}
	for _, p := range invalid {
		if err := Transition(p[0], p[1]); !errors.Is(err, ErrConflict) {
			t.Errorf("Transition(%s, %s) = %v, want ErrConflict", p[0], p[1], err)
		}
	}
}

func TestDeliveryWindow(t *testing.T) {
	unlock := mustTime(t, "2024-05-01T00:00:00Z")
	exp := unlock.Add(48 * time.Hour)
	d := Delivery{UnlockAt: unlock, ExpiresAt: &exp}

	if d.Unlocked(unlock.Add(-time.Second)) {
		t.Error("unlocked before UnlockAt")
	}
	if !d.Unlocked(unlock) {
		t.Error("locked at UnlockAt")
	}
	if d.Expired(exp.Add(-time.Second)) {
		t.Error("expired early")
	}
	if !d.Expired(exp) {
		t.Error("not expired at ExpiresAt")
	}
	if (Delivery{UnlockAt: unlock}).Expired(unlock.Add(1000 * time.Hour)) {
		t.Error("delivery without expiry expired")
	}
}
