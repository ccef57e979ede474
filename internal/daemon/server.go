package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/matheus3301/echovault/internal/api"
	"github.com/matheus3301/echovault/internal/paths"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Server is the control API listener on the home's Unix socket. Anyone who
// can open the socket acts as the internal caller, so it is owner-only.
type Server struct {
	grpc   *grpc.Server
	ln     net.Listener
	socket string
	logger *zap.Logger
}

// NewServer binds the control socket, replacing a stale one left by a crash.
// The instance lock guarantees no live daemon owns it.
func NewServer(p Params, logger *zap.Logger, vault *api.Server) (*Server, error) {
	socket := p.SocketPath
	if socket == "" {
		socket = paths.SocketPath(p.Home)
	}
	if err := os.Remove(socket); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socket, 0600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unaryLogger(logger)),
		grpc.ChainStreamInterceptor(streamLogger(logger)),
	)
	api.RegisterVaultServer(srv, vault)

	return &Server{grpc: srv, ln: ln, socket: socket, logger: logger}, nil
}

// Start serves until Stop. It blocks.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socket))
	return s.grpc.Serve(s.ln)
}

// Stop waits for in-flight calls, then removes the socket file. Streams
// must already be ending (the bus is closed first) or this blocks until
// ctx expires, after which calls are cut off.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
	_ = os.Remove(s.socket)
}

// logCall records one finished call. A panic in a handler becomes Internal.
func logCall(logger *zap.Logger, method string, start time.Time, err error) {
	code := grpcstatus.Code(err)
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("code", code.String()),
		zap.Duration("latency", time.Since(start)),
	}
	if code == codes.Internal || code == codes.Unknown {
		logger.Warn("control call failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("control call", fields...)
}

func recovered(logger *zap.Logger, method string, err *error) {
	if r := recover(); r != nil {
		logger.Error("control handler panicked", zap.String("method", method), zap.Any("panic", r), zap.Stack("stack"))
		*err = grpcstatus.Error(codes.Internal, "internal error")
	}
}

func unaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() { logCall(logger, info.FullMethod, start, err) }()
		defer recovered(logger, info.FullMethod, &err)
		return handler(ctx, req)
	}
}

func streamLogger(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		defer func() { logCall(logger, info.FullMethod, start, err) }()
		defer recovered(logger, info.FullMethod, &err)
		return handler(srv, ss)
	}
}
