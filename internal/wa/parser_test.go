package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image (no text)", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTextBody(tt.msg)
			if got != tt.want {
				t.Errorf("extractTextBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMessageType(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, "unknown"},
		{"text conversation", &waE2E.Message{Conversation: proto.String("hi")}, "text"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}, "text"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "image"},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, "video"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "audio"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, "document"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "unknown"},
		{"empty message", &waE2E.Message{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectMessageType(tt.msg)
			if got != tt.want {
				t.Errorf("detectMessageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLiveMessage(t *testing.T) {
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Alice",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "15550001", Server: types.DefaultUserServer},
				Sender:   types.JID{User: "15550001", Server: types.DefaultUserServer},
				IsFromMe: true,
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	parsed := ParseLiveMessage(evt)

	if parsed.Chat.String() != "15550001@s.whatsapp.net" {
		t.Errorf("Chat = %q", parsed.Chat)
	}
	if parsed.MsgID != "MSG123" || parsed.PushName != "Alice" {
		t.Errorf("MsgID/PushName = %q/%q", parsed.MsgID, parsed.PushName)
	}
	if parsed.Body != "hello world" || parsed.MessageType != "text" {
		t.Errorf("Body/Type = %q/%q", parsed.Body, parsed.MessageType)
	}
	if !parsed.FromMe {
		t.Error("FromMe = false, want true")
	}
	if parsed.Actionable() {
		t.Error("own message should not be actionable")
	}
	if parsed.Timestamp != ts.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", parsed.Timestamp, ts.UnixMilli())
	}
}

func TestToInbound(t *testing.T) {
	p := &ParsedMessage{MsgID: "m1", PushName: "Bob", Body: "SOS", MessageType: "text", Timestamp: 42000}
	msg := p.ToInbound(types.JID{User: "15550001", Server: types.DefaultUserServer})

	if msg.From != "+15550001" || msg.Body != "SOS" || msg.ExternalID != "m1" {
		t.Errorf("message = %+v", msg)
	}
	if !msg.ReceivedAt.Equal(time.UnixMilli(42000)) {
		t.Errorf("ReceivedAt = %v", msg.ReceivedAt)
	}
}

func TestBroadcastNotActionable(t *testing.T) {
	p := &ParsedMessage{
		Chat:        types.JID{User: "status", Server: types.BroadcastServer},
		Body:        "OK",
		MessageType: "text",
	}
	if p.Actionable() {
		t.Error("status broadcast should not be actionable")
	}
}
