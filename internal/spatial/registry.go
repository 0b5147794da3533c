package spatial

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/telemetry"
)

// Loader reads every spatial key of a tenant from the authoritative store.
type Loader interface {
	LoadSpatial(ctx context.Context, tenant string) ([]Entry, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, tenant string) ([]Entry, error)

func (f LoaderFunc) LoadSpatial(ctx context.Context, tenant string) ([]Entry, error) {
	return f(ctx, tenant)
}

// Registry maps tenant ids to their index. Indexes are built lazily on
// first access and dropped by Invalidate.
type Registry struct {
	loader Loader
	logger logging.Logger

	mu      sync.RWMutex
	indexes map[string]*Index
	gens    map[string]uint64
	group   singleflight.Group
}

// NewRegistry returns an empty registry fed by loader.
func NewRegistry(loader Loader, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		loader:  loader,
		logger:  logger.Named("spatial"),
		indexes: make(map[string]*Index),
		gens:    make(map[string]uint64),
	}
}

// Get returns the tenant index, building it if needed. Concurrent callers
// for the same tenant share one build.
func (r *Registry) Get(ctx context.Context, tenant string) (*Index, error) {
	if tenant == "" {
		return nil, apperr.Invalid("tenant_id", "is required")
	}
	r.mu.RLock()
	idx, ok := r.indexes[tenant]
	r.mu.RUnlock()
	if ok {
		return idx, nil
	}

	ch := r.group.DoChan(tenant, func() (any, error) {
		return r.build(context.WithoutCancel(ctx), tenant)
	})
	select {
	case <-ctx.Done():
		return nil, apperr.Unavailable("build spatial index", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index), nil
	}
}

func (r *Registry) build(ctx context.Context, tenant string) (*Index, error) {
	r.mu.RLock()
	if idx, ok := r.indexes[tenant]; ok {
		r.mu.RUnlock()
		return idx, nil
	}
	gen := r.gens[tenant]
	r.mu.RUnlock()

	start := time.Now()
	entries, err := r.loader.LoadSpatial(ctx, tenant)
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Unavailable("load spatial entries", err)
		}
		return nil, err
	}
	idx := NewIndex(tenant)
	if err := idx.Load(entries); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.gens[tenant] == gen {
		r.indexes[tenant] = idx
	}
	r.mu.Unlock()

	telemetry.IncrementCounter(ctx, "netmap_index_builds_total")
	telemetry.RecordDuration(ctx, "netmap_index_build_duration_seconds", start)
	r.logger.Info(ctx, "Spatial index built",
		logging.Tenant(tenant),
		zap.Int("nodes", idx.Len(KindNode)),
		zap.Int("links", idx.Len(KindLink)),
		zap.Int("zones", idx.Len(KindZone)),
		zap.Duration("took", time.Since(start)))
	return idx, nil
}

// Invalidate drops the tenant index. Builds already in flight are not
// cached.
func (r *Registry) Invalidate(tenant string) {
	r.mu.Lock()
	delete(r.indexes, tenant)
	r.gens[tenant]++
	r.mu.Unlock()
}

// Rebuild drops and reloads the tenant index.
func (r *Registry) Rebuild(ctx context.Context, tenant string) (*Index, error) {
	r.Invalidate(tenant)
	return r.Get(ctx, tenant)
}

// Reconcile invalidates the tenant unless idx is still its registered
// index. Writers call it after committing through idx so that an index
// built concurrently from pre-commit state is discarded.
func (r *Registry) Reconcile(tenant string, idx *Index) {
	r.mu.RLock()
	current, ok := r.indexes[tenant]
	r.mu.RUnlock()
	if ok && current == idx {
		return
	}
	r.Invalidate(tenant)
}

// Tenants returns the tenants with a built index.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.indexes))
	for t := range r.indexes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
