package api

import (
	"context"
	"fmt"

	"github.com/matheus3301/echovault/internal/reminder"
	"github.com/matheus3301/echovault/internal/service"
	"github.com/matheus3301/echovault/internal/trigger"
	"github.com/matheus3301/echovault/internal/vault"
	"github.com/matheus3301/echovault/internal/wa"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to echovaultd over its control socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// Call invokes a unary method with req and decodes the reply into resp.
func (c *Client) Call(ctx context.Context, method string, req, resp any) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return FromStruct(out, resp)
}

var streamDesc = &grpc.StreamDesc{ServerStreams: true}

// Stream is the client side of a server-streaming call.
type Stream struct {
	cs grpc.ClientStream
}

// Recv decodes the next message into v.
func (s *Stream) Recv(v any) error {
	m := new(structpb.Struct)
	if err := s.cs.RecvMsg(m); err != nil {
		return err
	}
	return FromStruct(m, v)
}

func (c *Client) stream(ctx context.Context, method string, req any) (*Stream, error) {
	in, err := ToStruct(req)
	if err != nil {
		return nil, err
	}
	cs, err := c.conn.NewStream(ctx, streamDesc, fullMethod(method))
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(in); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Stream{cs: cs}, nil
}

// GetStatus returns the daemon overview.
func (c *Client) GetStatus(ctx context.Context) (*service.Status, error) {
	var st service.Status
	if err := c.Call(ctx, MethodGetStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CheckIn checks a user in.
func (c *Client) CheckIn(ctx context.Context, userID string) (*service.CheckInResult, error) {
	var res service.CheckInResult
	if err := c.Call(ctx, MethodCheckIn, CheckInRequest{UserID: userID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// TriggerPanic starts a panic countdown.
func (c *Client) TriggerPanic(ctx context.Context, conditionID string) (*vault.MessageCondition, error) {
	var cond vault.MessageCondition
	if err := c.Call(ctx, MethodTriggerPanic, PanicRequest{ConditionID: conditionID}, &cond); err != nil {
		return nil, err
	}
	return &cond, nil
}

// CancelPanic cancels a pending panic.
func (c *Client) CancelPanic(ctx context.Context, conditionID string) (*vault.MessageCondition, error) {
	var cond vault.MessageCondition
	if err := c.Call(ctx, MethodCancelPanic, PanicRequest{ConditionID: conditionID}, &cond); err != nil {
		return nil, err
	}
	return &cond, nil
}

// ListConditions returns a user's conditions.
func (c *Client) ListConditions(ctx context.Context, userID string) ([]vault.MessageCondition, error) {
	var res struct {
		Conditions []vault.MessageCondition `json:"conditions"`
	}
	if err := c.Call(ctx, MethodListConditions, ListConditionsRequest{UserID: userID}, &res); err != nil {
		return nil, err
	}
	return res.Conditions, nil
}

// RunEvaluation runs one trigger pass.
func (c *Client) RunEvaluation(ctx context.Context) (*trigger.Report, error) {
	var rep trigger.Report
	if err := c.Call(ctx, MethodRunEvaluation, nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// SendReminders runs the reminder scheduler.
func (c *Client) SendReminders(ctx context.Context, req reminder.Request) (*reminder.Result, error) {
	var res reminder.Result
	if err := c.Call(ctx, MethodSendReminders, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SendTestEmail sends test emails.
func (c *Client) SendTestEmail(ctx context.Context, req service.TestEmailRequest) (*service.TestEmailResult, error) {
	var res service.TestEmailResult
	if err := c.Call(ctx, MethodSendTestEmail, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// WatchEvents streams bus events whose kind starts with prefix.
func (c *Client) WatchEvents(ctx context.Context, prefix string) (*EventStream, error) {
	s, err := c.stream(ctx, MethodWatchEvents, WatchRequest{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	return &EventStream{s}, nil
}

// EventStream yields event envelopes.
type EventStream struct {
	s *Stream
}

// Recv blocks for the next event.
func (e *EventStream) Recv() (*EventEnvelope, error) {
	var env EventEnvelope
	if err := e.s.Recv(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// LinkWhatsApp streams device-link events until linking ends.
func (c *Client) LinkWhatsApp(ctx context.Context) (*AuthStream, error) {
	s, err := c.stream(ctx, MethodLinkWhatsApp, nil)
	if err != nil {
		return nil, err
	}
	return &AuthStream{s}, nil
}

// AuthStream yields device-link events.
type AuthStream struct {
	s *Stream
}

// Recv blocks for the next auth event. It returns io.EOF when linking ends.
func (a *AuthStream) Recv() (*wa.AuthEvent, error) {
	var evt wa.AuthEvent
	if err := a.s.Recv(&evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
