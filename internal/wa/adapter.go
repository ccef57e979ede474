// Package wa drives the linked WhatsApp device used as a direct delivery
// channel and as a source of phone check-ins.
package wa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/logging"
	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/vault"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotConnected is returned when sending while the device is offline.
var ErrNotConnected = errors.New("whatsapp device not connected")

// Adapter wraps the whatsmeow client and manages the WhatsApp connection.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewAdapter opens the device session stored in dbPath.
func NewAdapter(ctx context.Context, dbPath string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("EchoVault", [3]uint32{1, 0, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		bus:       b,
		logger:    logging.OrNop(logger),
	}, nil
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Close disconnects and closes the device store.
func (a *Adapter) Close() error {
	a.client.Disconnect()
	return a.container.Close()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// PhoneNumber returns the linked account's number in E.164, or empty.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return "+" + a.client.Store.ID.User
}

// PhoneJID converts a phone number in any accepted notation to a user JID.
func PhoneJID(phone string) (types.JID, error) {
	digits := strings.TrimPrefix(vault.NormalizePhoneNumber(phone), "+")
	if digits == "" {
		return types.JID{}, fmt.Errorf("empty phone number")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return types.JID{}, fmt.Errorf("invalid phone number %q", phone)
		}
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// SendText sends a text message to a phone number. Returns the server
// message ID.
func (a *Adapter) SendText(ctx context.Context, phone, text string) (string, error) {
	if !a.client.IsConnected() {
		return "", ErrNotConnected
	}
	to, err := PhoneJID(phone)
	if err != nil {
		return "", err
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// Send implements notify.Sender for the WhatsApp channel.
func (a *Adapter) Send(ctx context.Context, msg notify.Message) (string, error) {
	return a.SendText(ctx, msg.To, msg.Body)
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// ResolveLID resolves a LID JID to its phone number JID using the device store mapping.
// Returns the original JID if it's not a LID or if resolution fails.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a == nil || a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
