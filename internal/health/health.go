// Package health exposes the standard gRPC health service and keeps its
// status in step with the server's dependencies.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ChatService is the service name reported alongside the overall status.
const ChatService = "support.Chat"

// DefaultProbeInterval is used when no interval is configured.
const DefaultProbeInterval = 15 * time.Second

// Pinger is a dependency whose reachability decides the serving status.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server hosts grpc_health_v1 on its own listener.
type Server struct {
	grpc    *grpc.Server
	health  *grpchealth.Server
	pinger  Pinger
	every   time.Duration
	timeout time.Duration
}

// Config holds server keepalive and probe settings.
type Config struct {
	ProbeInterval     time.Duration
	ProbeTimeout      time.Duration
	KeepaliveTime     time.Duration
	KeepaliveTimeout  time.Duration
	MaxConnectionIdle time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:     DefaultProbeInterval,
		ProbeTimeout:      3 * time.Second,
		KeepaliveTime:     2 * time.Minute,
		KeepaliveTimeout:  10 * time.Second,
		MaxConnectionIdle: 5 * time.Minute,
	}
}

// NewServer creates a health server probing p. Both services start as
// NOT_SERVING until the first probe succeeds.
func NewServer(p Pinger, cfg Config) *Server {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	kasp := keepalive.ServerParameters{
		MaxConnectionIdle: cfg.MaxConnectionIdle,
		Time:              cfg.KeepaliveTime,
		Timeout:           cfg.KeepaliveTimeout,
	}
	gs := grpc.NewServer(grpc.KeepaliveParams(kasp))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, pinger: p, every: cfg.ProbeInterval, timeout: cfg.ProbeTimeout}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Health returns the underlying health service, mainly for tests.
func (s *Server) Health() *grpchealth.Server { return s.health }

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis and runs the probe loop until ctx is
// cancelled. It returns nil after a clean shutdown.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		s.Probe(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("gRPC health listening", "addr", lis.Addr().String())
		serveErr <- s.grpc.Serve(lis)
	}()

	var err error
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		err = <-serveErr
	case err = <-serveErr:
	}
	<-probeDone

	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Probe checks the pinger immediately and then every interval until ctx is
// cancelled.
func (s *Server) Probe(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := s.check(ctx)
		if status != last {
			slog.Info("Health status changed", "status", status.String())
			last = status
		}
		s.set(status)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if s.pinger == nil {
		return healthpb.HealthCheckResponse_SERVING
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.pinger.Ping(ctx); err != nil {
		slog.Warn("Health probe failed", "error", err)
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ChatService, status)
}
