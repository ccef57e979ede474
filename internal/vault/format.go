package vault

import (
	"crypto/subtle"
	"fmt"
	"net/url"
	"strings"
)

// DefaultAdminEmail is the built-in administrator address.
const DefaultAdminEmail = "marc.s@seelenbinderconsulting.com"

var sizeUnits = []string{"KB", "MB", "GB", "TB"}

// FormatFileSize renders a byte count: "500 B", "1.50 KB", "3.20 MB".
func FormatFileSize(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}
	size := float64(bytes) / 1024
	unit := 0
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", size, sizeUnits[unit])
}

// IsAdminEmail reports whether email is an administrator. With no admins
// given, DefaultAdminEmail is the only one.
func IsAdminEmail(email string, admins ...string) bool {
	if len(admins) == 0 {
		admins = []string{DefaultAdminEmail}
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	for _, a := range admins {
		if strings.EqualFold(email, strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}

var phoneStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\t", "")

// NormalizePhoneNumber converts Twilio/WhatsApp style numbers to E.164 form.
func NormalizePhoneNumber(phone string) string {
	p := strings.TrimSpace(phone)
	if len(p) >= len("whatsapp:") && strings.EqualFold(p[:len("whatsapp:")], "whatsapp:") {
		p = p[len("whatsapp:"):]
	}
	p = phoneStripper.Replace(p)
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, "00") {
		p = "+" + p[2:]
	}
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return p
}

// AppURL joins path onto the https origin of domain. A scheme on domain is
// replaced.
func AppURL(domain, path string) string {
	domain = strings.TrimSuffix(domain, "/")
	if i := strings.Index(domain, "://"); i >= 0 {
		domain = domain[i+3:]
	}
	return "https://" + domain + path
}

// SecureMessageURL builds the recipient-facing link for a delivered message.
func SecureMessageURL(domain, messageID, recipientEmail string) string {
	return AppURL(domain, fmt.Sprintf("/secure-message?id=%s&recipient=%s",
		url.QueryEscape(messageID), url.QueryEscape(recipientEmail)))
}

// CheckPIN compares a PIN in constant time. An empty expected PIN accepts
// anything.
func CheckPIN(expected, given string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}
