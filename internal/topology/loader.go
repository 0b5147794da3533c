package topology

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/spatial"
	"github.com/netmap-platform/netmap/internal/storage"
)

// SpatialLoader reads the spatial keys of a tenant from the repository
// for index builds.
type SpatialLoader struct {
	repo   storage.Reader
	logger logging.Logger
}

// NewSpatialLoader creates a loader over repo
func NewSpatialLoader(repo storage.Reader, logger logging.Logger) *SpatialLoader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SpatialLoader{repo: repo, logger: logger.Named("loader")}
}

var _ spatial.Loader = (*SpatialLoader)(nil)

// LoadSpatial returns one entry per node, link with geometry and zone.
// Rows whose stored geometry no longer validates are skipped with a
// warning so one bad row cannot take the tenant offline.
func (l *SpatialLoader) LoadSpatial(ctx context.Context, tenant string) ([]spatial.Entry, error) {
	nodes, err := l.repo.ListNodes(ctx, tenant, storage.NodeFilter{})
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	links, err := l.repo.ListLinks(ctx, tenant, storage.LinkFilter{})
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	zones, err := l.repo.ListZones(ctx, tenant, storage.ZoneFilter{})
	if err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}

	entries := make([]spatial.Entry, 0, len(nodes)+len(links)+len(zones))
	for _, n := range nodes {
		entries = append(entries, spatial.Entry{Kind: spatial.KindNode, ID: n.ID, Geometry: n.Location})
	}
	for _, lk := range links {
		if len(lk.Geometry) == 0 {
			continue
		}
		entries = append(entries, spatial.Entry{Kind: spatial.KindLink, ID: lk.ID, Geometry: lk.Geometry})
	}
	for _, z := range zones {
		entries = append(entries, spatial.Entry{Kind: spatial.KindZone, ID: z.ID, Geometry: z.Geometry})
	}

	valid := entries[:0]
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			l.logger.Warn(ctx, "Skipping unindexable entity",
				logging.Tenant(tenant),
				zap.String("kind", string(e.Kind)),
				zap.String("id", e.ID),
				zap.Error(err))
			continue
		}
		valid = append(valid, e)
	}
	return valid, nil
}
