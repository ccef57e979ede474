package wa

import (
	"context"
	"time"

	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/logging"
	"github.com/matheus3301/echovault/internal/status"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// EventHandler processes whatsmeow events, drives the link state machine
// and publishes direct text messages on the bus for the inbound engine.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.Machine
	adapter *Adapter
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler. adapter may be nil, in which
// case LID senders are not resolved to phone numbers.
func NewEventHandler(b *bus.Bus, machine *status.Machine, adapter *Adapter, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:     b,
		machine: machine,
		adapter: adapter,
		logger:  logging.OrNop(logger),
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		current := h.machine.Current()
		if current == status.AuthRequired || current == status.Reconnecting || current == status.Booting {
			_ = h.machine.Transition(status.Connecting)
		}
		_ = h.machine.Transition(status.Connected)
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		_ = h.machine.Transition(status.Reconnecting)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		_ = h.machine.Transition(status.AuthRequired)
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	parsed := ParseLiveMessage(evt)
	if !parsed.Actionable() {
		return
	}
	sender := h.resolveSender(parsed.Sender)
	if sender.Server != types.DefaultUserServer {
		h.logger.Debug("dropping message from unresolved sender", zap.String("server", sender.Server))
		return
	}
	h.bus.Publish(bus.NewEvent(bus.KindWAMessage, parsed.ToInbound(sender)))
}

func (h *EventHandler) resolveSender(jid types.JID) types.JID {
	jid = jid.ToNonAD()
	if h.adapter == nil {
		return jid
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.adapter.ResolveLID(ctx, jid).ToNonAD()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
