package wa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/inbound"
	"github.com/matheus3301/echovault/internal/status"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// walkTo transitions the machine through the given states sequentially.
func walkTo(t *testing.T, m *status.Machine, states ...status.State) {
	t.Helper()
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}

func textEvent(chat, sender types.JID, body string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			ID:        "m1",
			PushName:  "Marc",
			Timestamp: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
			MessageSource: types.MessageSource{
				Chat:   chat,
				Sender: sender,
			},
		},
		Message: &waE2E.Message{Conversation: proto.String(body)},
	}
}

func TestHandleConnectedFromBooting(t *testing.T) {
	b := bus.New()
	m := status.NewMachine(b)
	h := NewEventHandler(b, m, nil, zap.NewNop())

	ch, unsub := b.Subscribe(bus.KindLinkStatusChanged, 10)
	defer unsub()

	h.Handle(&events.Connected{})

	if m.Current() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", m.Current())
	}
	var last status.StatusChange
	for range 2 {
		select {
		case evt := <-ch:
			last = evt.Payload.(status.StatusChange)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for link status event")
		}
	}
	if last.To != status.Connected {
		t.Errorf("last change = %+v", last)
	}
}

func TestHandleConnectedFromReconnecting(t *testing.T) {
	b := bus.New()
	m := status.NewMachine(b)
	h := NewEventHandler(b, m, nil, zap.NewNop())

	walkTo(t, m, status.Connecting, status.Connected, status.Reconnecting)

	h.Handle(&events.Connected{})

	if m.Current() != status.Connected {
		t.Errorf("state = %s, want CONNECTED (reconnect path)", m.Current())
	}
}

func TestHandleDisconnected(t *testing.T) {
	b := bus.New()
	m := status.NewMachine(b)
	h := NewEventHandler(b, m, nil, zap.NewNop())

	walkTo(t, m, status.Connecting, status.Connected)
	h.Handle(&events.Disconnected{})

	if m.Current() != status.Reconnecting {
		t.Errorf("state = %s, want RECONNECTING", m.Current())
	}
}

func TestHandleLoggedOut(t *testing.T) {
	b := bus.New()
	m := status.NewMachine(b)
	h := NewEventHandler(b, m, nil, zap.NewNop())

	walkTo(t, m, status.Connecting, status.Connected)
	h.Handle(&events.LoggedOut{})

	if m.Current() != status.AuthRequired {
		t.Errorf("state = %s, want AUTH_REQUIRED", m.Current())
	}
}

func TestDirectTextPublished(t *testing.T) {
	b := bus.New()
	h := NewEventHandler(b, status.NewMachine(b), nil, zap.NewNop())

	ch, unsub := b.Subscribe(bus.KindWAMessage, 10)
	defer unsub()

	// Device suffixes on the sender are stripped.
	h.Handle(textEvent(
		types.JID{User: "4915112345678", Server: types.DefaultUserServer, Device: 1},
		types.JID{User: "4915112345678", Server: types.DefaultUserServer, Device: 3},
		"OK"))

	select {
	case evt := <-ch:
		msg, ok := evt.Payload.(inbound.Message)
		if !ok {
			t.Fatalf("payload = %T", evt.Payload)
		}
		if msg.From != "+4915112345678" || msg.Body != "OK" || msg.Source != inbound.SourceWhatsApp {
			t.Errorf("message = %+v", msg)
		}
		if msg.PushName != "Marc" || msg.ExternalID != "m1" {
			t.Errorf("metadata = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for wa.message event")
	}
}

func TestIgnoredMessages(t *testing.T) {
	user := types.JID{User: "4915112345678", Server: types.DefaultUserServer}
	tests := []struct {
		name string
		evt  *events.Message
	}{
		{"group", textEvent(types.JID{User: "120363", Server: types.GroupServer}, user, "OK")},
		{"unresolved lid", textEvent(types.JID{User: "39170", Server: types.HiddenUserServer},
			types.JID{User: "39170", Server: types.HiddenUserServer}, "OK")},
		{"from me", func() *events.Message {
			e := textEvent(user, user, "OK")
			e.Info.IsFromMe = true
			return e
		}()},
		{"image", func() *events.Message {
			e := textEvent(user, user, "")
			e.Message = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}
			return e
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.New()
			h := NewEventHandler(b, status.NewMachine(b), nil, zap.NewNop())
			ch, unsub := b.Subscribe(bus.KindWAMessage, 10)
			defer unsub()

			h.Handle(tt.evt)

			select {
			case evt := <-ch:
				t.Errorf("unexpected event: %+v", evt.Payload)
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestResolveLIDNonLIDPassthrough(t *testing.T) {
	a := &Adapter{}
	regular := types.JID{User: "558592403672", Server: types.DefaultUserServer}
	if got := a.ResolveLID(context.Background(), regular); got != regular {
		t.Errorf("ResolveLID(regular) = %v, want passthrough", got)
	}
	lid := types.JID{User: "3917077286968", Server: types.HiddenUserServer}
	if got := a.ResolveLID(context.Background(), lid); got != lid {
		t.Errorf("ResolveLID(lid, no store) = %v, want %v", got, lid)
	}
}

func TestPhoneJID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+49 151 1234-5678", "4915112345678@s.whatsapp.net", false},
		{"whatsapp:+15550001", "15550001@s.whatsapp.net", false},
		{"0049151", "49151@s.whatsapp.net", false},
		{"", "", true},
		{"+1abc", "", true},
	}
	for _, tt := range tests {
		got, err := PhoneJID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("PhoneJID(%q) err = %v", tt.in, err)
			continue
		}
		if err == nil && got.String() != tt.want {
			t.Errorf("PhoneJID(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestAuthEventFor(t *testing.T) {
	evt, done := authEventFor("code", "2@abc", nil)
	if evt.Type != AuthEventQRCode || evt.QRCode != "2@abc" || done {
		t.Errorf("code -> %+v %v", evt, done)
	}
	if evt, done = authEventFor("success", "", nil); evt.Type != AuthEventAuthenticated || !done {
		t.Errorf("success -> %+v %v", evt, done)
	}
	if evt, done = authEventFor("timeout", "", nil); evt.Type != AuthEventTimeout || !done {
		t.Errorf("timeout -> %+v %v", evt, done)
	}
	if evt, done = authEventFor("err-client-outdated", "", errors.New("outdated")); evt.Type != AuthEventAuthFailed || !done {
		t.Errorf("error -> %+v %v", evt, done)
	}
	if evt, _ = authEventFor("unknown", "", nil); evt != nil {
		t.Errorf("unknown -> %+v", evt)
	}
}
