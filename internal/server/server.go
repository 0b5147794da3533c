// Package server runs the HTTP API and the gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/netmap-platform/netmap/internal/api"
	"github.com/netmap-platform/netmap/internal/config"
	"github.com/netmap-platform/netmap/internal/logging"
)

const serviceName = "netmap"

// Check is a named readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server represents the main application server
type Server struct {
	config  config.ServerConfig
	logger  logging.Logger
	gateway *api.Gateway
	checks  []Check

	httpServer   *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	httpListener net.Listener
	grpcListener net.Listener
	wg           sync.WaitGroup
}

// New creates a server serving gateway. /health and /ready are added to
// the gateway outside the tenant scope.
func New(cfg config.ServerConfig, gateway *api.Gateway, logger logging.Logger, checks ...Check) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		config:  cfg,
		logger:  logger.Named("server"),
		gateway: gateway,
		checks:  checks,
		health:  health.NewServer(),
	}
	gateway.Root().HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	gateway.Root().HandleFunc("/ready", s.readinessHandler).Methods(http.MethodGet)
	return s
}

// Start binds both listeners and serves in the background
func (s *Server) Start(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Host, s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP port: %w", err)
	}
	grpcLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Host, s.config.GRPCPort))
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}
	s.httpListener, s.grpcListener = httpLis, grpcLis

	s.httpServer = &http.Server{
		Handler:           s.gateway,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
	}
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "HTTP server error", zap.Error(err))
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error(ctx, "gRPC server error", zap.Error(err))
		}
	}()

	s.logger.Info(ctx, "Server started",
		zap.String("http_addr", httpLis.Addr().String()),
		zap.String("grpc_addr", grpcLis.Addr().String()))
	return nil
}

// Addr is the bound HTTP address, valid after Start
func (s *Server) Addr() string { return s.httpListener.Addr().String() }

// GRPCAddr is the bound gRPC address, valid after Start
func (s *Server) GRPCAddr() string { return s.grpcListener.Addr().String() }

// Stop drains both servers. gRPC falls back to a hard stop when ctx
// expires first.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info(ctx, "Stopping server...")
	if s.httpServer == nil {
		return nil
	}
	s.health.Shutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Shutdown(gctx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-gctx.Done():
			s.grpcServer.Stop()
		}
		return nil
	})
	err := g.Wait()
	s.wg.Wait()
	s.logger.Info(ctx, "Server stopped")
	return err
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

// readinessHandler runs every check concurrently and fails when any does
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	results := make([]error, len(s.checks))
	var g errgroup.Group
	for i, c := range s.checks {
		g.Go(func() error {
			results[i] = c.Probe(ctx)
			return nil
		})
	}
	_ = g.Wait()

	resp := readiness{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for i, c := range s.checks {
		if err := results[i]; err != nil {
			resp.Checks[c.Name] = err.Error()
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	if status != http.StatusOK {
		s.logger.Warn(ctx, "Readiness check failed", zap.Any("checks", resp.Checks))
	}
	api.WriteJSON(w, status, resp)
}
