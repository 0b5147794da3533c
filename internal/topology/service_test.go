package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/geo"
	"github.com/netmap-platform/netmap/internal/logging"
	"github.com/netmap-platform/netmap/internal/models"
	"github.com/netmap-platform/netmap/internal/spatial"
	"github.com/netmap-platform/netmap/internal/storage"
)

const tenant = "isp-a"

func square(minLng, minLat, maxLng, maxLat float64) geo.MultiPolygon {
	return geo.MultiPolygon{{{
		{Lng: minLng, Lat: minLat}, {Lng: maxLng, Lat: minLat},
		{Lng: maxLng, Lat: maxLat}, {Lng: minLng, Lat: maxLat}, {Lng: minLng, Lat: minLat},
	}}}
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

func (r *recorder) TopologyChanged(ctx context.Context, c Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return r.err
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.changes))
	for i, c := range r.changes {
		out[i] = fmt.Sprintf("%s.%s", c.Kind, c.Action)
	}
	return out
}

type fixture struct {
	svc   *Service
	repo  storage.Repository
	reg   *spatial.Registry
	rec   *recorder
	clock time.Time
}

func newFixture(t *testing.T, repo storage.Repository) *fixture {
	t.Helper()
	if repo == nil {
		repo = storage.NewMemoryStore()
	}
	logger := logging.Wrap(zaptest.NewLogger(t))
	f := &fixture{repo: repo, rec: &recorder{}, clock: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	f.reg = spatial.NewRegistry(NewSpatialLoader(repo, logger), logger)
	seq := 0
	f.svc = NewService(repo, f.reg, logger,
		WithClock(func() time.Time { f.clock = f.clock.Add(time.Second); return f.clock }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("gen-%d", seq) }),
		WithListener(f.rec),
	)
	return f
}

func (f *fixture) index(t *testing.T) *spatial.Index {
	t.Helper()
	idx, err := f.reg.Get(context.Background(), tenant)
	require.NoError(t, err)
	return idx
}

func (f *fixture) node(t *testing.T, id string, lng, lat float64) *models.Node {
	t.Helper()
	n, err := f.svc.CreateNode(context.Background(), tenant, NodeInput{
		ID: id, Name: "node " + id, Type: models.NodeTypeOLT, Location: &geo.Point{Lng: lng, Lat: lat},
	})
	require.NoError(t, err)
	return n
}

func TestCreateNodeDefaultsAndIndex(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	n, err := f.svc.CreateNode(ctx, tenant, NodeInput{
		Name: "OLT Kebayoran", Type: models.NodeTypeOLT, Location: &geo.Point{Lng: 106.805, Lat: -6.205},
		Health: models.Attributes{"status": "ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", n.ID)
	assert.Equal(t, models.NodeStatusActive, n.Status)
	assert.Equal(t, tenant, n.TenantID)
	assert.False(t, n.CreatedAt.IsZero())

	ids, err := f.index(t).QueryBBox(ctx, geo.BBox{MinLng: 106.8, MinLat: -6.21, MaxLng: 106.81, MaxLat: -6.2}, spatial.KindNode)
	require.NoError(t, err)
	assert.Equal(t, []string{"gen-1"}, ids)
	assert.Equal(t, []string{"node.created"}, f.rec.actions())
}

func TestCreateNodeValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	loc := &geo.Point{Lng: 1, Lat: 1}

	tests := []struct {
		name  string
		in    NodeInput
		field string
	}{
		{"missing name", NodeInput{Type: models.NodeTypeOLT, Location: loc}, "name"},
		{"bad type", NodeInput{Name: "x", Type: "satellite", Location: loc}, "type"},
		{"bad status", NodeInput{Name: "x", Type: models.NodeTypeAP, Status: "broken", Location: loc}, "status"},
		{"missing location", NodeInput{Name: "x", Type: models.NodeTypeAP}, "location"},
		{"latitude out of range", NodeInput{Name: "x", Type: models.NodeTypeAP, Location: &geo.Point{Lng: 1, Lat: 95}}, "location.lat"},
		{"bad id", NodeInput{ID: "a/b", Name: "x", Type: models.NodeTypeAP, Location: loc}, "id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateNode(ctx, tenant, tt.in)
			require.ErrorIs(t, err, apperr.ErrInvalidInput)
			assert.Equal(t, tt.field, apperr.FieldOf(err))
		})
	}
	nodes, err := f.repo.ListNodes(ctx, tenant, storage.NodeFilter{})
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Empty(t, f.rec.actions())
}

func TestCreateNodeDuplicateID(t *testing.T) {
	f := newFixture(t, nil)
	f.node(t, "n1", 1, 1)

	_, err := f.svc.CreateNode(context.Background(), tenant, NodeInput{
		ID: "n1", Name: "again", Type: models.NodeTypeAP, Location: &geo.Point{Lng: 2, Lat: 2},
	})
	require.ErrorIs(t, err, apperr.ErrConflict)

	// index still holds the original location
	ids, err := f.index(t).QueryBBox(context.Background(), geo.BBox{MinLng: 1.5, MinLat: 1.5, MaxLng: 2.5, MaxLat: 2.5}, spatial.KindNode)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLinkDerivedGeometry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.node(t, "a", 106.80, -6.20)
	f.node(t, "b", 106.81, -6.20)

	l, err := f.svc.CreateLink(ctx, tenant, LinkInput{ID: "l1", Type: models.LinkTypeFiber, FromNodeID: "a", ToNodeID: "b"})
	require.NoError(t, err)
	assert.Equal(t, models.LinkStatusUp, l.Status)
	require.Len(t, l.Geometry, 1)
	assert.Equal(t, geo.LineString{{Lng: 106.80, Lat: -6.20}, {Lng: 106.81, Lat: -6.20}}, l.Geometry[0])
	assert.InDelta(t, 1106, l.LengthM, 5)

	ids, err := f.index(t).QueryBBox(ctx, geo.BBox{MinLng: 106.804, MinLat: -6.201, MaxLng: 106.806, MaxLat: -6.199}, spatial.KindLink)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, ids)

	// moving an endpoint re-derives the line
	f.node(t, "c", 106.80, -6.25)
	to := "c"
	l, err = f.svc.UpdateLink(ctx, tenant, "l1", LinkPatch{ToNodeID: &to})
	require.NoError(t, err)
	assert.Equal(t, geo.Point{Lng: 106.80, Lat: -6.25}, l.Geometry[0][1])
}

func TestLinkCoLocatedEndpointsHaveNoGeometry(t *testing.T) {
	f := newFixture(t, nil)
	f.node(t, "a", 1, 1)
	f.node(t, "b", 1, 1)

	l, err := f.svc.CreateLink(context.Background(), tenant, LinkInput{ID: "patch", Type: models.LinkTypeLAN, FromNodeID: "a", ToNodeID: "b"})
	require.NoError(t, err)
	assert.Empty(t, l.Geometry)
	assert.Zero(t, l.LengthM)
	assert.Zero(t, f.index(t).Len(spatial.KindLink))
}

func TestLinkValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.node(t, "a", 1, 1)
	f.node(t, "b", 2, 2)

	_, err := f.svc.CreateLink(ctx, tenant, LinkInput{Type: models.LinkTypeFiber, FromNodeID: "a", ToNodeID: "a"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Equal(t, "to_node_id", apperr.FieldOf(err))

	_, err = f.svc.CreateLink(ctx, tenant, LinkInput{Type: models.LinkTypeFiber, FromNodeID: "a", ToNodeID: "b", UtilizationPct: 140})
	assert.Equal(t, "utilization_pct", apperr.FieldOf(err))

	_, err = f.svc.CreateLink(ctx, tenant, LinkInput{Type: models.LinkTypeFiber, FromNodeID: "a", ToNodeID: "ghost"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	bad := geo.MultiLineString{{{Lng: 1, Lat: 1}}}
	_, err = f.svc.CreateLink(ctx, tenant, LinkInput{Type: models.LinkTypeFiber, FromNodeID: "a", ToNodeID: "b", Geometry: &bad})
	assert.ErrorIs(t, err, apperr.ErrInvalidGeometry)

	links, err := f.repo.ListLinks(ctx, tenant, storage.LinkFilter{})
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestCrossTenantReferencesAreNotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.node(t, "a", 1, 1)
	f.node(t, "b", 2, 2)

	_, err := f.svc.CreateLink(ctx, "isp-b", LinkInput{Type: models.LinkTypeFiber, FromNodeID: "a", ToNodeID: "b"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.GetNode(ctx, "isp-b", "a")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestZoneGeometryRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	bowtie := geo.MultiPolygon{{{{Lng: 0, Lat: 0}, {Lng: 1, Lat: 1}, {Lng: 1, Lat: 0}, {Lng: 0, Lat: 1}, {Lng: 0, Lat: 0}}}}
	open := geo.MultiPolygon{{{{Lng: 0, Lat: 0}, {Lng: 1, Lat: 0}, {Lng: 1, Lat: 1}, {Lng: 0, Lat: 1}}}}

	for name, g := range map[string]geo.MultiPolygon{"self-intersecting": bowtie, "unclosed": open} {
		_, err := f.svc.CreateZone(ctx, tenant, ZoneInput{Name: name, Geometry: g})
		assert.ErrorIs(t, err, apperr.ErrInvalidGeometry, name)
	}

	_, err := f.svc.CreateZone(ctx, tenant, ZoneInput{Name: "empty"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	zones, err := f.repo.ListZones(ctx, tenant, storage.ZoneFilter{})
	require.NoError(t, err)
	assert.Empty(t, zones)
	assert.Zero(t, f.index(t).Len(spatial.KindZone))
}

func TestZoneCreateAndUpdate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	z, err := f.svc.CreateZone(ctx, tenant, ZoneInput{Name: "Zone A", Priority: 100, Geometry: square(0, 0, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultZoneType, z.ZoneType)
	assert.Equal(t, models.ZoneStatusActive, z.Status)
	assert.InDelta(t, 12391e6, z.AreaM2, 0.01*12391e6)

	_, err = f.svc.CreateZone(ctx, tenant, ZoneInput{Name: "Zone A", Geometry: square(2, 2, 3, 3)})
	assert.ErrorIs(t, err, apperr.ErrConflict, "zone names are unique per tenant")

	oldArea := z.AreaM2
	g := square(5, 5, 5.5, 5.5)
	prio := 7
	updated, err := f.svc.UpdateZone(ctx, tenant, z.ID, ZonePatch{Geometry: &g, Priority: &prio})
	require.NoError(t, err)
	assert.Equal(t, "Zone A", updated.Name, "unset fields are kept")
	assert.Equal(t, 7, updated.Priority)
	assert.Less(t, updated.AreaM2, oldArea)
	assert.True(t, updated.UpdatedAt.After(z.UpdatedAt))
	assert.Equal(t, z.CreatedAt, updated.CreatedAt)

	ids, err := f.index(t).QueryContaining(ctx, geo.Point{Lng: 0.5, Lat: 0.5})
	require.NoError(t, err)
	assert.Empty(t, ids, "old geometry must leave the index")
	ids, err = f.index(t).QueryContaining(ctx, geo.Point{Lng: 5.25, Lat: 5.25})
	require.NoError(t, err)
	assert.Equal(t, []string{z.ID}, ids)

	bad := geo.MultiPolygon{{{{Lng: 0, Lat: 0}, {Lng: 1, Lat: 0}, {Lng: 0, Lat: 0}}}}
	_, err = f.svc.UpdateZone(ctx, tenant, z.ID, ZonePatch{Geometry: &bad})
	assert.ErrorIs(t, err, apperr.ErrInvalidGeometry)
	ids, err = f.index(t).QueryContaining(ctx, geo.Point{Lng: 5.25, Lat: 5.25})
	require.NoError(t, err)
	assert.Equal(t, []string{z.ID}, ids, "failed update leaves the index as it was")
}

func TestDeleteNodeCascades(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.node(t, "a", 1, 1)
	f.node(t, "b", 2, 2)
	f.node(t, "c", 3, 3)
	_, err := f.svc.CreateLink(ctx, tenant, LinkInput{ID: "ab", Type: models.LinkTypeFiber, FromNodeID: "a", ToNodeID: "b"})
	require.NoError(t, err)
	_, err = f.svc.CreateLink(ctx, tenant, LinkInput{ID: "bc", Type: models.LinkTypeFiber, FromNodeID: "b", ToNodeID: "c"})
	require.NoError(t, err)
	z, err := f.svc.CreateZone(ctx, tenant, ZoneInput{Name: "z", Geometry: square(0, 0, 4, 4)})
	require.NoError(t, err)
	_, err = f.svc.CreateBinding(ctx, tenant, BindingInput{ID: "zb", ZoneID: z.ID, NodeID: "b", IsPrimary: true, Weight: 10})
	require.NoError(t, err)
	_, err = f.svc.CreateBinding(ctx, tenant, BindingInput{ID: "zc", ZoneID: z.ID, NodeID: "c"})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteNode(ctx, tenant, "b"))

	links, err := f.repo.ListLinks(ctx, tenant, storage.LinkFilter{})
	require.NoError(t, err)
	assert.Empty(t, links)
	bindings, err := f.repo.ListBindings(ctx, tenant, storage.BindingFilter{})
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "zc", bindings[0].ID)

	idx := f.index(t)
	assert.Zero(t, idx.Len(spatial.KindLink))
	assert.Equal(t, 2, idx.Len(spatial.KindNode))

	assert.ErrorIs(t, f.svc.DeleteNode(ctx, tenant, "b"), apperr.ErrNotFound)
	assert.Contains(t, f.rec.actions(), "link.deleted")
}

func TestDeleteZoneCascadesBindings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.node(t, "a", 1, 1)
	z, err := f.svc.CreateZone(ctx, tenant, ZoneInput{Name: "z", Geometry: square(0, 0, 2, 2)})
	require.NoError(t, err)
	_, err = f.svc.CreateBinding(ctx, tenant, BindingInput{ZoneID: z.ID, NodeID: "a"})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteZone(ctx, tenant, z.ID))

	bindings, err := f.repo.ListBindings(ctx, tenant, storage.BindingFilter{})
	require.NoError(t, err)
	assert.Empty(t, bindings)
	assert.Zero(t, f.index(t).Len(spatial.KindZone))
}

func TestBindings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.node(t, "a", 1, 1)
	z, err := f.svc.CreateZone(ctx, tenant, ZoneInput{Name: "z", Geometry: square(0, 0, 2, 2)})
	require.NoError(t, err)

	b, err := f.svc.CreateBinding(ctx, tenant, BindingInput{ZoneID: z.ID, NodeID: "a", Weight: 5})
	require.NoError(t, err)

	_, err = f.svc.CreateBinding(ctx, tenant, BindingInput{ZoneID: z.ID, NodeID: "a"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.CreateBinding(ctx, tenant, BindingInput{ZoneID: "nope", NodeID: "a"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.CreateBinding(ctx, tenant, BindingInput{ZoneID: z.ID, NodeID: "a", Weight: -1})
	assert.Equal(t, "weight", apperr.FieldOf(err))

	primary := true
	b, err = f.svc.UpdateBinding(ctx, tenant, b.ID, BindingPatch{IsPrimary: &primary})
	require.NoError(t, err)
	assert.True(t, b.IsPrimary)
	assert.Equal(t, 5, b.Weight)

	require.NoError(t, f.svc.DeleteBinding(ctx, tenant, b.ID))
	assert.ErrorIs(t, f.svc.DeleteBinding(ctx, tenant, b.ID), apperr.ErrNotFound)
}

func TestListenerFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t, nil)
	f.rec.err = errors.New("nats: connection closed")

	n := f.node(t, "a", 1, 1)

	got, err := f.svc.GetNode(context.Background(), tenant, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "node a", got.Name)
	assert.Equal(t, []string{"node.created"}, f.rec.actions())
}

// commitFailingRepo lets every write through but fails the commit.
type commitFailingRepo struct {
	*storage.MemoryStore
}

func (r commitFailingRepo) Begin(ctx context.Context, tenant string) (storage.Tx, error) {
	tx, err := r.MemoryStore.Begin(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return failingCommit{tx}, nil
}

type failingCommit struct{ storage.Tx }

func (f failingCommit) Commit() error {
	_ = f.Tx.Rollback()
	return apperr.Unavailable("commit", errors.New("connection reset"))
}

func TestFailedCommitLeavesIndexUntouched(t *testing.T) {
	f := newFixture(t, commitFailingRepo{storage.NewMemoryStore()})
	ctx := context.Background()

	_, err := f.svc.CreateZone(ctx, tenant, ZoneInput{Name: "z", Geometry: square(0, 0, 1, 1)})
	require.ErrorIs(t, err, apperr.ErrUnavailable)

	assert.Zero(t, f.index(t).Len(spatial.KindZone))
	assert.Empty(t, f.rec.actions())
}

func TestImportZones(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	existing, err := f.svc.CreateZone(ctx, tenant, ZoneInput{Name: "North", Priority: 1, Geometry: square(0, 0, 1, 1)})
	require.NoError(t, err)

	fc := &geo.FeatureCollection{Type: "FeatureCollection", Features: []geo.Feature{
		{
			Type:       "Feature",
			Geometry:   []byte(`{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]}`),
			Properties: map[string]any{"name": "North", "priority": float64(9)},
		},
		{
			Type:       "Feature",
			ID:         "south",
			Geometry:   []byte(`{"type":"MultiPolygon","coordinates":[[[[0,-2],[2,-2],[2,-1],[0,-1],[0,-2]]]]}`),
			Properties: map[string]any{"name": "South", "zone_type": "residential", "status": "Inactive"},
		},
	}}

	res, err := f.svc.ImportZones(ctx, tenant, fc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)

	north, err := f.svc.GetZone(ctx, tenant, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, north.Priority)
	assert.Equal(t, existing.CreatedAt, north.CreatedAt)

	south, err := f.svc.GetZone(ctx, tenant, "south")
	require.NoError(t, err)
	assert.Equal(t, "residential", south.ZoneType)
	assert.Equal(t, models.ZoneStatusInactive, south.Status)

	ids, err := f.index(t).QueryContaining(ctx, geo.Point{Lng: 1.5, Lat: 1.5})
	require.NoError(t, err)
	assert.Equal(t, []string{existing.ID}, ids)
	assert.Contains(t, f.rec.actions(), "zone.imported")
}

func TestImportZonesIsAtomic(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	fc := &geo.FeatureCollection{Type: "FeatureCollection", Features: []geo.Feature{
		{Type: "Feature", Geometry: []byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`), Properties: map[string]any{"name": "ok"}},
		{Type: "Feature", Geometry: []byte(`{"type":"Polygon","coordinates":[[[0,0],[1,1],[1,0],[0,1],[0,0]]]}`), Properties: map[string]any{"name": "bowtie"}},
	}}
	_, err := f.svc.ImportZones(ctx, tenant, fc)
	require.ErrorIs(t, err, apperr.ErrInvalidGeometry)
	assert.Contains(t, apperr.FieldOf(err), "features[1]")

	zones, err := f.repo.ListZones(ctx, tenant, storage.ZoneFilter{})
	require.NoError(t, err)
	assert.Empty(t, zones)
	assert.Zero(t, f.index(t).Len(spatial.KindZone))

	_, err = f.svc.ImportZones(ctx, tenant, &geo.FeatureCollection{Type: "FeatureCollection"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestMapFeatures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.node(t, "in", 0.5, 0.5)
	f.node(t, "out", 5, 5)
	_, err := f.svc.CreateZone(ctx, tenant, ZoneInput{ID: "z", Name: "z", Geometry: square(0, 0, 1, 1)})
	require.NoError(t, err)

	fc, err := f.svc.MapFeatures(ctx, tenant, geo.BBox{MinLng: 0, MinLat: 0, MaxLng: 1, MaxLat: 1}, nil)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "in", fc.Features[0].ID)
	assert.Equal(t, "node", fc.Features[0].Properties["kind"])
	assert.JSONEq(t, `{"type":"Point","coordinates":[0.5,0.5]}`, string(fc.Features[0].Geometry))
	assert.Equal(t, "z", fc.Features[1].ID)

	fc, err = f.svc.MapFeatures(ctx, tenant, geo.BBox{MinLng: 0, MinLat: 0, MaxLng: 1, MaxLat: 1}, []spatial.Kind{spatial.KindZone})
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
}

func TestSpatialLoaderRebuildsIndex(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.node(t, "a", 1, 1)
	f.node(t, "b", 2, 2)
	_, err := f.svc.CreateLink(ctx, tenant, LinkInput{ID: "ab", Type: models.LinkTypeFiber, FromNodeID: "a", ToNodeID: "b"})
	require.NoError(t, err)
	_, err = f.svc.CreateZone(ctx, tenant, ZoneInput{Name: "z", Geometry: square(0, 0, 3, 3)})
	require.NoError(t, err)

	idx, err := f.reg.Rebuild(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len(spatial.KindNode))
	assert.Equal(t, 1, idx.Len(spatial.KindLink))
	assert.Equal(t, 1, idx.Len(spatial.KindZone))
}
