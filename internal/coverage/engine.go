// Package coverage answers customer coverage checks: which zone governs
// an address, which nodes can serve it and what can be sold there.
package coverage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/catalog"
	"github.com/netmap-platform/netmap/internal/geo"
	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/models"
	"github.com/netmap-platform/netmap/internal/resolver"
	"github.com/netmap-platform/netmap/internal/spatial"
	"github.com/netmap-platform/netmap/internal/storage"
	"github.com/netmap-platform/netmap/internal/telemetry"
)

// DefaultTimeout bounds a coverage check when none is configured.
const DefaultTimeout = 2 * time.Second

// Result is the answer to a coverage check.
type Result struct {
	Covered           bool             `json:"covered"`
	Zone              *models.Zone     `json:"zone"`
	CandidateNodes    []Candidate      `json:"candidate_nodes"`
	AvailablePackages []models.Package `json:"available_packages"`
}

func uncovered() *Result {
	return &Result{CandidateNodes: []Candidate{}, AvailablePackages: []models.Package{}}
}

// Catalog lists the packages sellable for a request
type Catalog interface {
	Eligible(ctx context.Context, req catalog.Request) ([]models.Package, error)
}

// Option configures an Engine
type Option func(*Engine)

// WithScoring replaces the default scoring policy
func WithScoring(p ScoringPolicy) Option {
	return func(e *Engine) { e.scoring = p }
}

// WithTimeout sets the per-check deadline
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithCache enables result caching
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// Engine runs coverage checks.
type Engine struct {
	indexes  resolver.Indexes
	repo     storage.Reader
	resolver *resolver.Resolver
	catalog  Catalog
	scoring  ScoringPolicy
	timeout  time.Duration
	cache    Cache
	logger   logging.Logger
}

// NewEngine creates a coverage engine. cat may be nil, in which case no
// packages are offered.
func NewEngine(indexes resolver.Indexes, repo storage.Reader, res *resolver.Resolver, cat Catalog, logger logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	e := &Engine{
		indexes:  indexes,
		repo:     repo,
		resolver: res,
		catalog:  cat,
		scoring:  DefaultScoringPolicy(),
		timeout:  DefaultTimeout,
		logger:   logger.Named("coverage"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckCoverage resolves p to its zone, ranks the nodes bound to it and
// lists the eligible packages. An uncovered point is a result, not an
// error. A check that exceeds the deadline fails as unavailable.
func (e *Engine) CheckCoverage(ctx context.Context, tenant string, p geo.Point, customerType string) (*Result, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "coverage.check")
	defer span.End()

	if err := geo.CheckCoordinate("", p); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cacheState := "disabled"
	var key Key
	if e.cache != nil {
		cacheState = "miss"
		k, hit, ok := e.lookup(ctx, tenant, p, customerType)
		if ok {
			e.observe(ctx, start, hit, "hit")
			return hit, nil
		}
		key = k
	}

	res, err := e.check(ctx, tenant, p, customerType)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = apperr.Unavailable("coverage check", ctxErr)
		}
		telemetry.IncrementCounter(ctx, "netmap_coverage_errors_total",
			attribute.String("kind", apperr.KindOf(err).String()))
		return nil, err
	}

	if e.cache != nil && key.Tenant != "" {
		if err := e.cache.Set(ctx, key, res); err != nil {
			e.logger.Warn(ctx, "Coverage cache write failed", logging.Tenant(tenant), zap.Error(err))
		}
	}
	e.observe(ctx, start, res, cacheState)
	return res, nil
}

func (e *Engine) check(ctx context.Context, tenant string, p geo.Point, customerType string) (*Result, error) {
	idx, err := e.indexes.Get(ctx, tenant)
	if err != nil {
		return nil, err
	}

	res := uncovered()
	err = idx.View(func(v spatial.Reader) error {
		ranked, err := e.resolver.RankIn(ctx, v, tenant, p)
		if err != nil {
			return err
		}
		if len(ranked) == 0 {
			return nil
		}
		zone := ranked[0]
		bindings, err := e.repo.ListBindings(ctx, tenant, storage.BindingFilter{ZoneID: zone.ID})
		if err != nil {
			return err
		}
		nodes := map[string]*models.Node{}
		if len(bindings) > 0 {
			ids := make([]string, 0, len(bindings))
			for _, b := range bindings {
				ids = append(ids, b.NodeID)
			}
			list, err := e.repo.ListNodes(ctx, tenant, storage.NodeFilter{IDs: ids})
			if err != nil {
				return err
			}
			for _, n := range list {
				nodes[n.ID] = n
			}
		}
		res.Covered = true
		res.Zone = zone
		res.CandidateNodes = e.scoring.Rank(bindings, nodes)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Covered && e.catalog != nil {
		pkgs, err := e.catalog.Eligible(ctx, catalog.Request{Tenant: tenant, CustomerType: customerType, Zone: res.Zone})
		if err != nil {
			return nil, err
		}
		res.AvailablePackages = pkgs
	}
	return res, nil
}

// lookup returns the cache key for the current topology version and, on
// a hit, the cached result. Cache failures degrade to a miss.
func (e *Engine) lookup(ctx context.Context, tenant string, p geo.Point, customerType string) (Key, *Result, bool) {
	version, err := e.cache.Version(ctx, tenant)
	if err != nil {
		e.logger.Warn(ctx, "Coverage cache unavailable", logging.Tenant(tenant), zap.Error(err))
		return Key{}, nil, false
	}
	key := Key{Tenant: tenant, Version: version, Point: p, CustomerType: customerType}
	res, ok, err := e.cache.Get(ctx, key)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn(ctx, "Coverage cache read failed", logging.Tenant(tenant), zap.Error(err))
	}
	if err != nil || !ok {
		return key, nil, false
	}
	return key, res, true
}

func (e *Engine) observe(ctx context.Context, start time.Time, res *Result, cache string) {
	attrs := []attribute.KeyValue{
		attribute.String("covered", strconv.FormatBool(res.Covered)),
		attribute.String("cache", cache),
	}
	telemetry.IncrementCounter(ctx, "netmap_coverage_checks_total", attrs...)
	telemetry.RecordDuration(ctx, "netmap_coverage_check_duration_seconds", start, attrs...)
}
