// Package telemetry sets up OpenTelemetry tracing and metrics with a
// Prometheus scrape endpoint.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/netmap-platform/netmap/internal/logging"
)

// Config holds telemetry settings.
type Config struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	MetricsPort    int     `mapstructure:"metrics_port"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// Telemetry owns the tracer and meter providers and the metrics listener.
type Telemetry struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *prometheus.Registry
	server         *http.Server

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// New builds telemetry. A disabled instance accepts every call and
// records nothing.
func New(cfg Config) (*Telemetry, error) {
	t := &Telemetry{
		config:     cfg,
		tracer:     noop.NewTracerProvider().Tracer(cfg.ServiceName),
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
	if !cfg.Enabled {
		return t, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	if err := t.initTracing(res); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := t.initMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return t, nil
}

func (t *Telemetry) initTracing(res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if t.config.JaegerEndpoint != "" {
		exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(t.config.JaegerEndpoint)))
		if err != nil {
			return fmt.Errorf("failed to create Jaeger exporter: %w", err)
		}
		rate := t.config.SampleRate
		if rate == 0 {
			rate = 1.0
		}
		opts = append(opts,
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))))
	}

	t.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	t.tracer = t.tracerProvider.Tracer(t.config.ServiceName)
	return nil
}

func (t *Telemetry) initMetrics(res *resource.Resource) error {
	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := otelprom.New(otelprom.WithRegisterer(t.registry))
	if err != nil {
		return fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(t.meterProvider)
	t.meter = t.meterProvider.Meter(t.config.ServiceName)
	return nil
}

// Handler serves the Prometheus exposition of this instance.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Start serves /metrics on the configured port, if any.
func (t *Telemetry) Start(ctx context.Context, logger logging.Logger) error {
	if !t.config.Enabled || t.config.MetricsPort <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Metrics server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop flushes exporters and closes the metrics listener.
func (t *Telemetry) Stop(ctx context.Context) error {
	var errs []error
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// StartSpan starts a span on the service tracer.
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// IncrementCounter adds one to the named counter.
func (t *Telemetry) IncrementCounter(ctx context.Context, name string, attrs ...attribute.KeyValue) error {
	if t.meter == nil {
		return nil
	}
	t.mu.Lock()
	c, ok := t.counters[name]
	if !ok {
		var err error
		if c, err = t.meter.Int64Counter(name); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("failed to create counter %s: %w", name, err)
		}
		t.counters[name] = c
	}
	t.mu.Unlock()
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
	return nil
}

// RecordHistogram records value in the named histogram.
func (t *Telemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) error {
	if t.meter == nil {
		return nil
	}
	t.mu.Lock()
	h, ok := t.histograms[name]
	if !ok {
		var err error
		if h, err = t.meter.Float64Histogram(name, metric.WithUnit("s")); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("failed to create histogram %s: %w", name, err)
		}
		t.histograms[name] = h
	}
	t.mu.Unlock()
	h.Record(ctx, value, metric.WithAttributes(attrs...))
	return nil
}

// RecordDuration records the seconds elapsed since start.
func (t *Telemetry) RecordDuration(ctx context.Context, name string, start time.Time, attrs ...attribute.KeyValue) error {
	return t.RecordHistogram(ctx, name, time.Since(start).Seconds(), attrs...)
}

var global atomic.Pointer[Telemetry]

// SetGlobal installs t for the package level helpers.
func SetGlobal(t *Telemetry) { global.Store(t) }

// Global returns the installed instance or nil.
func Global() *Telemetry { return global.Load() }

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t := global.Load(); t != nil {
		return t.StartSpan(ctx, name, opts...)
	}
	return ctx, trace.SpanFromContext(ctx)
}

func IncrementCounter(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if t := global.Load(); t != nil {
		_ = t.IncrementCounter(ctx, name, attrs...)
	}
}

func RecordDuration(ctx context.Context, name string, start time.Time, attrs ...attribute.KeyValue) {
	if t := global.Load(); t != nil {
		_ = t.RecordDuration(ctx, name, start, attrs...)
	}
}
