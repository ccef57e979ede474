// Package inbound interprets messages owners send from their phones
// (check-ins, panic and cancel requests) and routes the replies back.
package inbound

import (
	"encoding/xml"
	"strings"
	"time"
)

// Sources an inbound message can arrive from.
const (
	SourceTwilio   = "twilio"
	SourceWhatsApp = "whatsapp"
)

// Message is one text received from a phone.
type Message struct {
	Source     string
	From       string
	Body       string
	ExternalID string
	PushName   string
	ReceivedAt time.Time
}

// Command is the action an inbound text asks for.
type Command string

const (
	CommandCheckIn Command = "checkin"
	CommandPanic   Command = "panic"
	CommandCancel  Command = "cancel"
	CommandStatus  Command = "status"
	CommandHelp    Command = "help"
	CommandUnknown Command = "unknown"
)

var keywords = map[string]Command{
	"CHECKIN":  CommandCheckIn,
	"CHECK-IN": CommandCheckIn,
	"OK":       CommandCheckIn,
	"SOS":      CommandPanic,
	"PANIC":    CommandPanic,
	"CANCEL":   CommandCancel,
	"STATUS":   CommandStatus,
	"HELP":     CommandHelp,
	"?":        CommandHelp,
}

// Parse reads the command from the first word of body, ignoring case and
// trailing punctuation.
func Parse(body string) Command {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return CommandUnknown
	}
	word := strings.ToUpper(strings.TrimRight(fields[0], ".!?,;:"))
	if word == "" {
		word = strings.ToUpper(fields[0])
	}
	if c, ok := keywords[word]; ok {
		return c
	}
	return CommandUnknown
}

// HelpText lists the supported commands.
const HelpText = "EchoVault commands: OK or CHECKIN to check in, SOS or PANIC to start your panic countdown, " +
	"CANCEL to stop it, STATUS for your next deadline."

// UnknownSenderText answers numbers that are not linked to an account.
const UnknownSenderText = "This number is not linked to an EchoVault account. Add it to your profile to check in by message."

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// TwiML renders reply as a Twilio messaging response. An empty reply renders
// an empty response, which sends nothing.
func TwiML(reply string) ([]byte, error) {
	out, err := xml.Marshal(twimlResponse{Message: reply})
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
