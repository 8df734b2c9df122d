package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// Server exposes the gRPC health service (plus reflection for grpcurl) for a worker.
type Server struct {
	grpc   *grpc.Server
	hs     *health.Server
	logger *slog.Logger

	mu  sync.Mutex
	lis net.Listener
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &Server{grpc: gs, hs: hs, logger: logger}
}

// SetServing sets the status of service ("" is the whole process).
func (s *Server) SetServing(service string, ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.hs.SetServingStatus(service, st)
}

// Listen binds addr; use ":0" in tests and read Addr.
func (s *Server) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Serve blocks until ctx is done, then marks everything NOT_SERVING and stops gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	lis := s.lis
	s.mu.Unlock()
	if lis == nil {
		return errors.New("health: Listen must be called before Serve")
	}

	errc := make(chan error, 1)
	go func() { errc <- s.grpc.Serve(lis) }()
	s.logger.Info("health.grpc.serving", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		s.hs.Shutdown()
		s.grpc.GracefulStop()
		s.logger.Info("health.grpc.stopped")
		return nil
	case err := <-errc:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("health serve: %w", err)
	}
}

// Watch runs probes every interval and flips their service status; the overall
// status is SERVING only while all probes pass.
func (s *Server) Watch(ctx context.Context, interval time.Duration, probes map[string]Probe) {
	if len(probes) == 0 {
		return
	}
	check := func() {
		all := true
		for name, p := range probes {
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := p(pctx)
			cancel()
			if err != nil {
				all = false
				s.logger.Warn("health.probe.failed", "service", name, "error", err)
			}
			s.SetServing(name, err == nil)
		}
		s.SetServing("", all)
	}

	check()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}
