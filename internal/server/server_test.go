package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/netmap-platform/netmap/internal/api"
	"github.com/netmap-platform/netmap/internal/config"
	"github.com/netmap-platform/netmap/internal/logging"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		GRPCPort:     0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func newTestServer(t *testing.T, checks ...Check) *Server {
	logger := logging.Wrap(zaptest.NewLogger(t))
	return New(testConfig(), api.NewGateway(api.GatewayOptions{Logger: logger}), logger, checks...)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.gateway.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"netmap"}`, w.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	healthy := Check{Name: "repository", Probe: func(ctx context.Context) error { return nil }}
	broken := Check{Name: "eventbus", Probe: func(ctx context.Context) error { return errors.New("nats: CLOSED") }}

	s := newTestServer(t, healthy)
	w := httptest.NewRecorder()
	s.gateway.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"repository":"ok"}}`, w.Body.String())

	s = newTestServer(t, healthy, broken)
	w = httptest.NewRecorder()
	s.gateway.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body readiness
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body.Status)
	assert.Equal(t, "nats: CLOSED", body.Checks["eventbus"])
	assert.Equal(t, "ok", body.Checks["repository"])
}

func TestHealthNeedsNoTenant(t *testing.T) {
	s := newTestServer(t)
	s.gateway.Mount()

	w := httptest.NewRecorder()
	s.gateway.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartAndStop(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, err := grpc.NewClient(s.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	rpcCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	hc, err := healthpb.NewHealthClient(conn).Check(rpcCtx, &healthpb.HealthCheckRequest{Service: "netmap"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.Status)

	stopCtx, stopCancel := context.WithTimeout(ctx, 5*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))

	_, err = http.Get("http://" + s.Addr() + "/health")
	assert.Error(t, err)
}

func TestStopBeforeStart(t *testing.T) {
	s := newTestServer(t)
	assert.NoError(t, s.Stop(context.Background()))
}
