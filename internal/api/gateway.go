package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/telemetry"
)

// TenantHeader carries the tenant every API call is scoped to
const TenantHeader = "X-Tenant-ID"

const maxTenantLen = 128

// Routes is implemented by handler sets mounted on the gateway
type Routes interface {
	RegisterRoutes(r *mux.Router)
}

// GatewayOptions configures the middleware chain
type GatewayOptions struct {
	Logger      logging.Logger
	CORSOrigins []string
	Limiter     *RateLimiter
}

// Gateway owns the root router. Unscoped routes (health, readiness) are
// registered on Root; tenant-scoped handler sets are mounted with Mount.
type Gateway struct {
	root   *mux.Router
	scoped *mux.Router
	logger logging.Logger
	opts   GatewayOptions
}

// NewGateway builds the router and its middleware chain
func NewGateway(opts GatewayOptions) *Gateway {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	g := &Gateway{
		root:   mux.NewRouter(),
		logger: opts.Logger.Named("http"),
		opts:   opts,
	}
	g.root.Use(g.recoverMiddleware, g.loggingMiddleware, g.corsMiddleware)
	if opts.Limiter != nil {
		g.root.Use(g.rateLimitMiddleware)
	}
	g.root.NotFoundHandler = http.HandlerFunc(notFound)
	g.root.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	return g
}

func notFound(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: "route not found"})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
}

// Root returns the router for routes that need no tenant
func (g *Gateway) Root() *mux.Router { return g.root }

// Mount registers tenant-scoped handler sets. The scoped subrouter gets
// no NotFoundHandler: it matches every path, so one would shadow root
// routes registered after Mount.
func (g *Gateway) Mount(routes ...Routes) {
	if g.scoped == nil {
		g.scoped = g.root.PathPrefix("/").Subrouter()
		g.scoped.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
		g.scoped.Use(RequireTenant)
	}
	for _, r := range routes {
		r.RegisterRoutes(g.scoped)
	}
}

// ServeHTTP implements http.Handler. Preflight requests are answered
// before routing since no route registers OPTIONS.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		g.setCORSHeaders(w, r)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	g.root.ServeHTTP(w, r)
}

type tenantKey struct{}

// WithTenant returns ctx carrying the tenant id
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// Tenant returns the tenant id attached by RequireTenant
func Tenant(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey{}).(string)
	return t
}

// RequireTenant rejects requests without a usable tenant header
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
		switch {
		case tenant == "":
			WriteError(r.Context(), w, apperr.Invalid(TenantHeader, "header is required"))
			return
		case len(tenant) > maxTenantLen:
			WriteError(r.Context(), w, apperr.Invalid(TenantHeader, "must be at most %d bytes", maxTenantLen))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenant)))
	})
}

// RateLimiter implements per-IP rate limiting
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    b,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Allow checks if the request from the given IP is allowed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.limiters[ip]
	if !ok {
		rl.evict(now)
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// evict drops limiters idle longer than rl.idle. Called with mu held.
func (rl *RateLimiter) evict(now time.Time) {
	for ip, e := range rl.limiters {
		if now.Sub(e.lastSeen) > rl.idle {
			delete(rl.limiters, ip)
		}
	}
}

func (g *Gateway) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.opts.Limiter.Allow(getClientIP(r)) {
			telemetry.IncrementCounter(r.Context(), "netmap_http_rate_limited_total")
			w.Header().Set("Retry-After", "1")
			WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.setCORSHeaders(w, r)
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if origin := g.allowedOrigin(r.Header.Get("Origin")); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+TenantHeader)
	}
}

func (g *Gateway) allowedOrigin(origin string) string {
	for _, o := range g.opts.CORSOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		ctx, span := telemetry.StartSpan(r.Context(), r.Method+" "+route)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		attrs := []attribute.KeyValue{
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.Int("status", rec.status),
		}
		telemetry.IncrementCounter(ctx, "netmap_http_requests_total", attrs...)
		telemetry.RecordDuration(ctx, "netmap_http_request_duration_seconds", start, attrs...)
		g.logger.Info(ctx, "HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("tenant_id", r.Header.Get(TenantHeader)),
		)
	})
}

func (g *Gateway) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				g.logger.Error(r.Context(), "Handler panic", zap.Any("panic", v), zap.Stack("stack"))
				WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
