// Package resolver picks the service zone that governs a coordinate.
package resolver

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/netmap-platform/netmap/internal/geo"
	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/models"
	"github.com/netmap-platform/netmap/internal/spatial"
	"github.com/netmap-platform/netmap/internal/storage"
	"github.com/netmap-platform/netmap/internal/telemetry"
)

// Indexes hands out the spatial index of a tenant
type Indexes interface {
	Get(ctx context.Context, tenant string) (*spatial.Index, error)
}

// ZoneReader loads zone records
type ZoneReader interface {
	ListZones(ctx context.Context, tenant string, f storage.ZoneFilter) ([]*models.Zone, error)
}

// Resolver selects the winning zone among those containing a point
type Resolver struct {
	indexes Indexes
	zones   ZoneReader
	logger  logging.Logger
}

// New creates a resolver
func New(indexes Indexes, zones ZoneReader, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{indexes: indexes, zones: zones, logger: logger.Named("resolver")}
}

// Resolve returns the governing zone for p, or nil when no active zone
// contains it.
func (r *Resolver) Resolve(ctx context.Context, tenant string, p geo.Point) (*models.Zone, error) {
	ranked, err := r.Rank(ctx, tenant, p)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return ranked[0], nil
}

// Rank returns every active zone containing p, best first
func (r *Resolver) Rank(ctx context.Context, tenant string, p geo.Point) ([]*models.Zone, error) {
	if err := geo.CheckCoordinate("", p); err != nil {
		return nil, err
	}
	idx, err := r.indexes.Get(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var ranked []*models.Zone
	err = idx.View(func(v spatial.Reader) error {
		var err error
		ranked, err = r.RankIn(ctx, v, tenant, p)
		return err
	})
	return ranked, err
}

// RankIn is Rank against an index view the caller already holds, so the
// zone reads observe the same state as the containment query.
func (r *Resolver) RankIn(ctx context.Context, v spatial.Reader, tenant string, p geo.Point) ([]*models.Zone, error) {
	ctx, span := telemetry.StartSpan(ctx, "resolver.rank")
	defer span.End()

	ids, err := v.QueryContaining(ctx, p)
	if err != nil {
		return nil, err
	}
	ranked := []*models.Zone{}
	if len(ids) > 0 {
		zones, err := r.zones.ListZones(ctx, tenant, storage.ZoneFilter{IDs: ids, Status: models.ZoneStatusActive})
		if err != nil {
			return nil, err
		}
		ranked = zones
		Order(ranked)
	}

	result := "zone"
	if len(ranked) == 0 {
		result = "none"
	}
	telemetry.IncrementCounter(ctx, "netmap_zone_resolutions_total", attribute.String("result", result))
	r.logger.Debug(ctx, "Resolved point",
		logging.Tenant(tenant),
		zap.Float64("lng", p.Lng),
		zap.Float64("lat", p.Lat),
		zap.Int("candidates", len(ids)),
		zap.Int("active", len(ranked)),
	)
	return ranked, nil
}

// Order sorts zones by precedence: higher priority, then smaller area,
// then most recently updated, then lowest id.
func Order(zones []*models.Zone) {
	sort.SliceStable(zones, func(i, j int) bool {
		return before(zones[i], zones[j])
	})
}

func before(a, b *models.Zone) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.AreaM2 != b.AreaM2 {
		return a.AreaM2 < b.AreaM2
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}
