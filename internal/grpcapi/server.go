// Package grpcapi serves the standard gRPC health service. The scanner
// service's status follows the capture loop.
package grpcapi

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ScannerService is the health service name tracking the capture loop.
const ScannerService = "rollcall.Scanner"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		health: health.NewServer(),
		logger: logger,
	}
	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))

	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ScannerService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// ScannerStarted marks the scanner service SERVING.
func (s *Server) ScannerStarted(sessionID string) {
	s.health.SetServingStatus(ScannerService, healthpb.HealthCheckResponse_SERVING)
	s.logger.Debug("health: scanner serving", "session_id", sessionID)
}

// ScannerStopped marks the scanner service NOT_SERVING.
func (s *Server) ScannerStopped(sessionID string) {
	s.health.SetServingStatus(ScannerService, healthpb.HealthCheckResponse_NOT_SERVING)
	s.logger.Debug("health: scanner not serving", "session_id", sessionID)
}

// Serve blocks until lis fails or the server is stopped.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Shutdown flips every service to NOT_SERVING so watchers see the drain,
// then stops gracefully or hard when ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

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
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.DebugContext(ctx, "grpc request", "method", info.FullMethod, "dur", time.Since(start), "error", err)
	return resp, err
}
