package api

import (
	"context"

	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/logging"
	"github.com/matheus3301/echovault/internal/reminder"
	"github.com/matheus3301/echovault/internal/service"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server implements VaultServer on top of the service layer. Everything on
// the control socket runs as the internal caller.
type Server struct {
	svc    *service.Service
	bus    *bus.Bus
	logger *zap.Logger
}

// NewServer creates the control API implementation.
func NewServer(svc *service.Service, b *bus.Bus, logger *zap.Logger) *Server {
	return &Server{svc: svc, bus: b, logger: logging.OrNop(logger)}
}

// CheckInRequest is the body of CheckIn.
type CheckInRequest struct {
	UserID string `json:"user_id"`
	Source string `json:"source,omitempty"`
}

// PanicRequest is the body of TriggerPanic and CancelPanic.
type PanicRequest struct {
	ConditionID string `json:"condition_id"`
	Source      string `json:"source,omitempty"`
}

// ListConditionsRequest is the body of ListConditions.
type ListConditionsRequest struct {
	UserID string `json:"user_id"`
}

// WatchRequest narrows WatchEvents to kinds with the given prefix.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// EventEnvelope is one streamed bus event.
type EventEnvelope struct {
	ID               string `json:"id"`
	Kind             string `json:"kind"`
	OccurredAtUnixMs int64  `json:"occurred_at_unix_ms"`
	Payload          any    `json:"payload,omitempty"`
}

func sourceOr(s string) string {
	if s == "" {
		return "cli"
	}
	return s
}

func (s *Server) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply(s.svc.Status(ctx))
}

func (s *Server) CheckIn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CheckInRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return reply(s.svc.CheckIn(ctx, req.UserID, sourceOr(req.Source)))
}

func (s *Server) TriggerPanic(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PanicRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return reply(s.svc.TriggerPanic(ctx, service.InternalCaller, req.ConditionID, sourceOr(req.Source)))
}

func (s *Server) CancelPanic(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PanicRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return reply(s.svc.CancelPanic(ctx, service.InternalCaller, req.ConditionID, sourceOr(req.Source)))
}

func (s *Server) ListConditions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListConditionsRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user_id is required")
	}
	list, err := s.svc.ListConditions(ctx, service.InternalCaller, req.UserID)
	return reply(map[string]any{"conditions": list}, err)
}

func (s *Server) RunEvaluation(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply(s.svc.RunEvaluation(ctx))
}

func (s *Server) SendReminders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req reminder.Request
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return reply(s.svc.SendReminderEmails(ctx, service.InternalCaller, req))
}

func (s *Server) SendTestEmail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req service.TestEmailRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return reply(s.svc.SendTestEmail(ctx, service.InternalCaller, req))
}

func (s *Server) WatchEvents(in *structpb.Struct, stream StructStream) error {
	var req WatchRequest
	if err := decodeRequest(in, &req); err != nil {
		return err
	}
	ch, unsub := s.bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := ToStruct(EventEnvelope{
				ID:               evt.ID,
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          evt.Payload,
			})
			if err != nil {
				s.logger.Warn("failed to encode event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Server) LinkWhatsApp(_ *structpb.Struct, stream StructStream) error {
	events, err := s.svc.LinkWhatsApp(stream.Context())
	if err != nil {
		return toStatus(err)
	}
	for evt := range events {
		msg, err := ToStruct(evt)
		if err != nil {
			return grpcstatus.Errorf(codes.Internal, "encode auth event: %v", err)
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}
