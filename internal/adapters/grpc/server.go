package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/config"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
	"gitlab.com/timkado/api/loanguard-gateway/pkg/safego"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "loanguard.gateway"

// ErrPortNotConfigured is returned by Start when server.grpc_port is 0.
var ErrPortNotConfigured = errors.New("gRPC port not configured")

// Server wraps the gRPC server exposing the standard health service. The
// gateway reports NOT_SERVING until its first cache generation is active.
type Server struct {
	gsrv        *grpc.Server
	health      *health.Server
	logger      domain.Logger
	cfgProvider config.Provider
	appCtx      context.Context // Server lifecycle context derived from the app context
	cancelCtx   context.CancelFunc
}

// NewServer creates a new gRPC server instance.
func NewServer(appCtx context.Context, logger domain.Logger, cfgProvider config.Provider) (*Server, error) {
	gsrv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gsrv, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	serverLifecycleCtx, serverLifecycleCancel := context.WithCancel(appCtx)

	return &Server{
		gsrv:        gsrv,
		health:      hs,
		logger:      logger,
		cfgProvider: cfgProvider,
		appCtx:      serverLifecycleCtx,
		cancelCtx:   serverLifecycleCancel,
	}, nil
}

// SetServing flips the overall and gateway health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	s.logger.Info(s.appCtx, "gRPC health status updated", "status", status.String())
}

// Start listens on server.grpc_port and serves in a new goroutine.
func (s *Server) Start() error {
	grpcPort := s.cfgProvider.Get().Server.GRPCPort
	if grpcPort == 0 {
		s.logger.Warn(s.appCtx, "gRPC port is not configured or is 0. gRPC server will not start.")
		return ErrPortNotConfigured
	}
	addr := fmt.Sprintf(":%d", grpcPort)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Error(s.appCtx, "Failed to listen for gRPC", "address", addr, "error", err)
		return fmt.Errorf("failed to listen for gRPC on %s: %w", addr, err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on lis in a new goroutine until the server is stopped.
func (s *Server) Serve(lis net.Listener) {
	s.logger.Info(s.appCtx, "gRPC server starting", "address", lis.Addr().String())

	safego.Execute(s.appCtx, s.logger, "GRPCServerServe", func() {
		if err := s.gsrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error(s.appCtx, "gRPC server failed to serve", "error", err)
		}
		s.cancelCtx()
	})

	safego.Execute(s.appCtx, s.logger, "GRPCServerContextWatcher", func() {
		<-s.appCtx.Done()
		s.logger.Info(context.Background(), "gRPC server context done, initiating graceful stop...")
		s.health.Shutdown()
		s.gsrv.GracefulStop()
		s.logger.Info(context.Background(), "gRPC server gracefully stopped.")
	})
}

// GracefulStop marks the service NOT_SERVING and stops the server once
// in-flight calls finish.
func (s *Server) GracefulStop() {
	s.logger.Info(s.appCtx, "GracefulStop called for gRPC server.")
	s.health.Shutdown()
	s.cancelCtx()
}
