// Package api is the local control API of echovaultd: a gRPC service on a
// Unix socket whose messages are google.protobuf.Struct values carrying the
// JSON form of the service types.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "echovault.v1.VaultService"

// Method names.
const (
	MethodGetStatus      = "GetStatus"
	MethodCheckIn        = "CheckIn"
	MethodTriggerPanic   = "TriggerPanic"
	MethodCancelPanic    = "CancelPanic"
	MethodListConditions = "ListConditions"
	MethodRunEvaluation  = "RunEvaluation"
	MethodSendReminders  = "SendReminders"
	MethodSendTestEmail  = "SendTestEmail"
	MethodWatchEvents    = "WatchEvents"
	MethodLinkWhatsApp   = "LinkWhatsApp"
)

// StructStream is the server side of a server-streaming call.
type StructStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

// VaultServer is implemented by the daemon.
type VaultServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TriggerPanic(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelPanic(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConditions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunEvaluation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendReminders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendTestEmail(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, StructStream) error
	LinkWhatsApp(*structpb.Struct, StructStream) error
}

type unaryCall func(VaultServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(VaultServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(VaultServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

type streamCall func(VaultServer, *structpb.Struct, StructStream) error

type structStream struct {
	grpc.ServerStream
}

func (s *structStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func serverStream(name string, call streamCall) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(VaultServer), in, &structStream{stream})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VaultServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetStatus, VaultServer.GetStatus),
		unary(MethodCheckIn, VaultServer.CheckIn),
		unary(MethodTriggerPanic, VaultServer.TriggerPanic),
		unary(MethodCancelPanic, VaultServer.CancelPanic),
		unary(MethodListConditions, VaultServer.ListConditions),
		unary(MethodRunEvaluation, VaultServer.RunEvaluation),
		unary(MethodSendReminders, VaultServer.SendReminders),
		unary(MethodSendTestEmail, VaultServer.SendTestEmail),
	},
	Streams: []grpc.StreamDesc{
		serverStream(MethodWatchEvents, VaultServer.WatchEvents),
		serverStream(MethodLinkWhatsApp, VaultServer.LinkWhatsApp),
	},
	Metadata: "echovault/v1/vault.proto",
}

// RegisterVaultServer registers srv on s.
func RegisterVaultServer(s grpc.ServiceRegistrar, srv VaultServer) {
	s.RegisterService(&serviceDesc, srv)
}
