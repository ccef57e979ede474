package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Rendered is a ready-to-send email body.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// DeliveryData fills the message-released notification.
type DeliveryData struct {
	SenderName    string
	RecipientName string
	MessageTitle  string
	URL           string
	UnlockAt      time.Time
	ExpiresAt     *time.Time
	HasPIN        bool
	Now           time.Time
}

// ReminderData fills the check-in reminder sent to the owner.
type ReminderData struct {
	Name          string
	MessageTitles []string
	Deadline      time.Time
	Remaining     time.Duration
	CheckInURL    string
}

// TestData fills a test email.
type TestData struct {
	SenderName    string
	RecipientName string
	MessageTitle  string
}

var funcs = template.FuncMap{
	"datetime": func(t time.Time) string { return t.UTC().Format("Mon, 02 Jan 2006 15:04 MST") },
}

var (
	deliveryHTML = template.Must(template.New("delivery").Funcs(funcs).Parse(`<!doctype html>
<html><body style="font-family:sans-serif;color:#222">
<p>Hello {{.RecipientName}},</p>
<p>{{.SenderName}} left you a message on EchoVault: <strong>{{.MessageTitle}}</strong>.</p>
{{if .UnlockAt.After .Now}}<p>It unlocks on {{datetime .UnlockAt}}.</p>{{end}}
{{if .HasPIN}}<p>You will need the PIN code {{.SenderName}} shared with you to open it.</p>{{end}}
<p><a href="{{.URL}}" style="background:#4f46e5;color:#fff;padding:10px 16px;border-radius:6px;text-decoration:none">Open message</a></p>
{{with .ExpiresAt}}<p style="color:#666">The message is available until {{datetime .}}.</p>{{end}}
</body></html>`))

	reminderHTML = template.Must(template.New("reminder").Funcs(funcs).Parse(`<!doctype html>
<html><body style="font-family:sans-serif;color:#222">
<p>Hi {{.Name}},</p>
<p>Your EchoVault check-in is due by <strong>{{datetime .Deadline}}</strong>.</p>
<p>If you do not check in, these messages will be released:</p>
<ul>{{range .MessageTitles}}<li>{{.}}</li>{{end}}</ul>
<p><a href="{{.CheckInURL}}">Check in now</a> or reply OK on WhatsApp.</p>
</body></html>`))

	testHTML = template.Must(template.New("test").Parse(`<!doctype html>
<html><body style="font-family:sans-serif;color:#222">
<p>Hello {{.RecipientName}},</p>
<p>This is a test from {{.SenderName}} on EchoVault. You are listed as a recipient of <strong>{{.MessageTitle}}</strong>.</p>
<p>No action is needed.</p>
</body></html>`))
)

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// DeliveryEmail renders the email telling a recipient a message is available.
func DeliveryEmail(d DeliveryData) (Rendered, error) {
	html, err := render(deliveryHTML, d)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{
		Subject: fmt.Sprintf("%s left you a message", d.SenderName),
		Text:    DeliveryText(d),
		HTML:    html,
	}, nil
}

// DeliveryText is the plain-text form used for email and SMS/WhatsApp.
func DeliveryText(d DeliveryData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s left you a message on EchoVault: %q.", d.SenderName, d.MessageTitle)
	if d.UnlockAt.After(d.Now) {
		fmt.Fprintf(&b, " It unlocks on %s.", d.UnlockAt.UTC().Format(time.RFC1123))
	}
	if d.HasPIN {
		b.WriteString(" A PIN code is required.")
	}
	fmt.Fprintf(&b, " Open it here: %s", d.URL)
	return b.String()
}

// ReminderEmail renders the owner's check-in reminder.
func ReminderEmail(d ReminderData) (Rendered, error) {
	html, err := render(reminderHTML, d)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{
		Subject: fmt.Sprintf("EchoVault check-in due in %s", HumanDuration(d.Remaining)),
		Text: fmt.Sprintf("Hi %s, your EchoVault check-in is due by %s (%d message(s) pending). Check in at %s or reply OK on WhatsApp.",
			d.Name, d.Deadline.UTC().Format(time.RFC1123), len(d.MessageTitles), d.CheckInURL),
		HTML: html,
	}, nil
}

// TestEmail renders a recipient test email.
func TestEmail(d TestData) (Rendered, error) {
	html, err := render(testHTML, d)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{
		Subject: fmt.Sprintf("Test message from %s", d.SenderName),
		Text:    fmt.Sprintf("This is a test from %s on EchoVault. You are a recipient of %q.", d.SenderName, d.MessageTitle),
		HTML:    html,
	}, nil
}

// HumanDuration renders a duration in the largest sensible unit.
func HumanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Round(time.Minute).Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Round(time.Hour).Hours()))
	default:
		return fmt.Sprintf("%d days", int(d.Round(24*time.Hour).Hours()/24))
	}
}
