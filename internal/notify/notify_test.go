package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailClientSend(t *testing.T) {
	var got emailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"em_123"}`))
	}))
	defer srv.Close()

	c := NewEmailClient(srv.URL+"/emails", "key-1", "EchoVault <vault@example.com>")
	id, err := c.Send(context.Background(), Message{Channel: ChannelEmail, To: "anna@example.com", Subject: "Hi", Body: "text", HTML: "<p>x</p>"})
	require.NoError(t, err)
	assert.Equal(t, "em_123", id)
	assert.Equal(t, []string{"anna@example.com"}, got.To)
	assert.Equal(t, "EchoVault <vault@example.com>", got.From)
	assert.Equal(t, "<p>x</p>", got.HTML)
}

func TestEmailClientProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"validation_error","message":"invalid to"}`))
	}))
	defer srv.Close()

	_, err := NewEmailClient(srv.URL, "k", "f@example.com").Send(context.Background(), Message{To: "bad"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnprocessableEntity, pe.Status)
	assert.Equal(t, "invalid to", pe.Message)
	assert.False(t, pe.Temporary())
}

func TestTwilioSMSAndWhatsApp(t *testing.T) {
	var forms []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "tok", pass)
		assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		forms = append(forms, r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewTwilioClient(srv.URL+"/", "AC1", "tok", "MG1", "whatsapp:+1 555 000")
	ctx := context.Background()

	sid, err := c.SMS().Send(ctx, Message{To: "0049151", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "SM1", sid)

	_, err = c.WhatsApp().Send(ctx, Message{To: "+4915", Body: "hi"})
	require.NoError(t, err)

	require.Len(t, forms, 2)
	assert.Equal(t, "+49151", forms[0].Get("To"))
	assert.Equal(t, "MG1", forms[0].Get("MessagingServiceSid"))
	assert.Equal(t, "whatsapp:+4915", forms[1].Get("To"))
	assert.Equal(t, "whatsapp:+1555000", forms[1].Get("From"))
}

func TestTwilioError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":20500,"message":"internal"}`))
	}))
	defer srv.Close()

	_, err := NewTwilioClient(srv.URL, "AC1", "tok", "MG1", "").SendSMS(context.Background(), "+1", "x")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Temporary())
	assert.Contains(t, pe.Message, "20500")
}

func TestWhatsAppWithoutSender(t *testing.T) {
	c := NewTwilioClient("http://127.0.0.1:1", "AC1", "tok", "MG1", "")
	_, err := c.SendWhatsApp(context.Background(), "+1", "x")
	assert.True(t, errors.Is(err, ErrChannelDisabled))
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	r.Register(ChannelEmail, SenderFunc(func(ctx context.Context, m Message) (string, error) {
		return "ok-" + m.To, nil
	}))
	r.Register(ChannelSMS, nil)

	assert.True(t, r.Enabled(ChannelEmail))
	assert.False(t, r.Enabled(ChannelSMS))

	id, err := r.Send(context.Background(), Message{Channel: ChannelEmail, To: "a"})
	require.NoError(t, err)
	assert.Equal(t, "ok-a", id)

	_, err = r.Send(context.Background(), Message{Channel: ChannelSMS})
	assert.ErrorIs(t, err, ErrChannelDisabled)
}

// Fixture from Twilio's webhook security documentation.
func TestTwilioSignature(t *testing.T) {
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	const u = "https://mycompany.com/myapp.php?foo=1&bar=2"
	sig := TwilioSignature("12345", u, params)
	assert.Equal(t, "0/KCTR6DLpKmkAf8muzZqo1nDgQ=", sig)
	assert.True(t, ValidTwilioSignature("12345", u, params, sig))
	assert.False(t, ValidTwilioSignature("12345", u, params, ""))
	params.Set("Digits", "9999")
	assert.False(t, ValidTwilioSignature("12345", u, params, sig))
}

func TestDeliveryEmail(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	exp := now.Add(72 * time.Hour)
	r, err := DeliveryEmail(DeliveryData{
		SenderName:    "Marc",
		RecipientName: "Anna <3",
		MessageTitle:  "For Anna",
		URL:           "https://vault.example.com/secure-message?id=m&recipient=a%40b.c",
		UnlockAt:      now.Add(2 * time.Hour),
		ExpiresAt:     &exp,
		HasPIN:        true,
		Now:           now,
	})
	require.NoError(t, err)
	assert.Equal(t, "Marc left you a message", r.Subject)
	assert.Contains(t, r.HTML, "Anna &lt;3")
	assert.Contains(t, r.HTML, "It unlocks on")
	assert.Contains(t, r.HTML, "available until")
	assert.Contains(t, r.Text, "A PIN code is required.")
	assert.True(t, strings.HasSuffix(r.Text, "recipient=a%40b.c"))
}

func TestReminderEmail(t *testing.T) {
	r, err := ReminderEmail(ReminderData{
		Name:          "Marc",
		MessageTitles: []string{"A", "B"},
		Deadline:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Remaining:     30 * time.Minute,
		CheckInURL:    "https://vault.example.com/check-in",
	})
	require.NoError(t, err)
	assert.Equal(t, "EchoVault check-in due in 30 minutes", r.Subject)
	assert.Contains(t, r.HTML, "<li>B</li>")
	assert.Contains(t, r.Text, "2 message(s)")
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "now"},
		{10 * time.Minute, "10 minutes"},
		{5 * time.Hour, "5 hours"},
		{72 * time.Hour, "3 days"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HumanDuration(tt.in))
	}
}
