package inbound

import (
	"context"
	"time"

	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/logging"
	"go.uber.org/zap"
)

// Handler acts on an inbound message and returns the text to reply with.
type Handler interface {
	HandleInbound(ctx context.Context, msg Message) (string, error)
}

// Replier sends a reply back to the phone a message came from.
type Replier interface {
	SendText(ctx context.Context, phone, text string) (string, error)
}

// Engine consumes messages the linked WhatsApp device publishes on the bus.
type Engine struct {
	handler Handler
	replier Replier
	bus     *bus.Bus
	logger  *zap.Logger
	timeout time.Duration
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates an engine. A nil replier drops replies.
func NewEngine(handler Handler, replier Replier, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		handler: handler,
		replier: replier,
		bus:     b,
		logger:  logging.OrNop(logger),
		timeout: 30 * time.Second,
	}
}

// Start subscribes to inbound WhatsApp messages on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe(bus.KindWAMessage, 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	msg, ok := evt.Payload.(Message)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.handler.HandleInbound(ctx, msg)
	if err != nil {
		e.logger.Error("failed to handle inbound message", zap.Error(err), zap.String("source", msg.Source))
		return
	}
	if reply == "" || e.replier == nil {
		return
	}
	if _, err := e.replier.SendText(ctx, msg.From, reply); err != nil {
		e.logger.Warn("failed to send reply", zap.Error(err))
	}
}
