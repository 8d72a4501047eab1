// Package grpcapi exposes the engine readiness over the standard gRPC
// health service.
package grpcapi

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"meeting-asr-service/internal/observability"
	"meeting-asr-service/internal/observability/logging"
)

// ServiceName is the health-checked service.
const ServiceName = "meeting.asr.Transcription"

// Server is a gRPC server carrying the health and reflection services.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

// New creates a server reporting NOT_SERVING until SetReady(true).
func New() *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl.
	reflection.Register(g)

	return &Server{
		grpc:   g,
		health: healthServer,
		log:    logging.WithComponent("grpc"),
	}
}

// SetReady sets the serving status of ServiceName.
func (s *Server) SetReady(ready bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ready {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.log.Info().Str("service", ServiceName).Str("status", status.String()).Msg("Health status updated")
}

// Track sets the status once loaded is closed, using isReady to tell a
// successful load from a failed one.
func (s *Server) Track(ctx context.Context, loaded <-chan struct{}, isReady func() bool) {
	select {
	case <-loaded:
		s.SetReady(isReady())
	case <-ctx.Done():
	}
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server started")
	return s.grpc.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and stops gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
