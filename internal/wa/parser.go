package wa

import (
	"github.com/matheus3301/echovault/internal/inbound"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a normalized live message.
type ParsedMessage struct {
	Chat        types.JID
	Sender      types.JID
	MsgID       string
	PushName    string
	Body        string
	MessageType string
	FromMe      bool
	IsGroup     bool
	Timestamp   int64
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	return &ParsedMessage{
		Chat:        evt.Info.Chat,
		Sender:      evt.Info.Sender,
		MsgID:       evt.Info.ID,
		PushName:    evt.Info.PushName,
		Body:        extractTextBody(evt.Message),
		MessageType: detectMessageType(evt.Message),
		FromMe:      evt.Info.IsFromMe,
		IsGroup:     evt.Info.IsGroup || evt.Info.Chat.Server == types.GroupServer,
		Timestamp:   evt.Info.Timestamp.UnixMilli(),
	}
}

// Actionable reports whether the message is a direct text someone else sent
// to the linked account.
func (p *ParsedMessage) Actionable() bool {
	return !p.FromMe && !p.IsGroup && p.MessageType == "text" && p.Body != "" &&
		p.Chat.Server != types.BroadcastServer
}

// ToInbound converts the message for the inbound engine. sender is the
// resolved phone JID of the author.
func (p *ParsedMessage) ToInbound(sender types.JID) inbound.Message {
	return inbound.Message{
		Source:     inbound.SourceWhatsApp,
		From:       "+" + sender.User,
		Body:       p.Body,
		ExternalID: p.MsgID,
		PushName:   p.PushName,
		ReceivedAt: fromMillis(p.Timestamp),
	}
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	default:
		return "unknown"
	}
}
