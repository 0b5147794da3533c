package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewDisabled(t *testing.T) {
	tel, err := New(Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := tel.StartSpan(context.Background(), "noop")
	span.End()
	assert.NoError(t, tel.IncrementCounter(ctx, "netmap_test_events"))
	assert.NoError(t, tel.RecordDuration(ctx, "netmap_test_duration_seconds", time.Now()))
	assert.NoError(t, tel.Start(ctx, nil))
	assert.NoError(t, tel.Stop(ctx))
}

func TestMetricsExposition(t *testing.T) {
	tel, err := New(Config{Enabled: true, ServiceName: "netmap-test", ServiceVersion: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Stop(context.Background()) })

	ctx := context.Background()
	require.NoError(t, tel.IncrementCounter(ctx, "netmap_test_events", attribute.Bool("covered", true)))
	require.NoError(t, tel.RecordDuration(ctx, "netmap_test_latency", time.Now().Add(-10*time.Millisecond)))

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "netmap_test_events")
	assert.Contains(t, string(body), "netmap_test_latency")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestGlobalHelpersWithoutInstance(t *testing.T) {
	SetGlobal(nil)
	ctx, span := StartSpan(context.Background(), "orphan")
	span.End()
	IncrementCounter(ctx, "netmap_test_events")
	RecordDuration(ctx, "netmap_test_latency", time.Now())
	assert.Nil(t, Global())
}
