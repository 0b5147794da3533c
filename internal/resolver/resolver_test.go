package resolver

import (
	"context"
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

func square(minLng, minLat, maxLng, maxLat float64) geo.MultiPolygon {
	return geo.MultiPolygon{{{
		{Lng: minLng, Lat: minLat}, {Lng: maxLng, Lat: minLat},
		{Lng: maxLng, Lat: maxLat}, {Lng: minLng, Lat: maxLat}, {Lng: minLng, Lat: minLat},
	}}}
}

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func zone(id string, priority int, geom geo.MultiPolygon) *models.Zone {
	return &models.Zone{
		ID: id, TenantID: "isp", Name: "zone " + id, ZoneType: models.DefaultZoneType, Priority: priority,
		Status: models.ZoneStatusActive, Geometry: geom, AreaM2: geom.Area(), CreatedAt: t0, UpdatedAt: t0,
	}
}

// setup stores the zones and returns a resolver whose index is built from them.
func setup(t *testing.T, zones ...*models.Zone) *Resolver {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewMemoryStore()
	tx, err := repo.Begin(ctx, "isp")
	require.NoError(t, err)
	for _, z := range zones {
		require.NoError(t, tx.CreateZone(ctx, z))
	}
	require.NoError(t, tx.Commit())

	loader := spatial.LoaderFunc(func(ctx context.Context, tenant string) ([]spatial.Entry, error) {
		zs, err := repo.ListZones(ctx, tenant, storage.ZoneFilter{})
		if err != nil {
			return nil, err
		}
		entries := make([]spatial.Entry, 0, len(zs))
		for _, z := range zs {
			entries = append(entries, spatial.Entry{Kind: spatial.KindZone, ID: z.ID, Geometry: z.Geometry})
		}
		return entries, nil
	})
	logger := logging.Wrap(zaptest.NewLogger(t))
	return New(spatial.NewRegistry(loader, logger), repo, logger)
}

func TestResolvePriorityWins(t *testing.T) {
	r := setup(t,
		zone("city", 10, square(106.70, -6.30, 106.90, -6.10)),
		zone("hood", 100, square(106.80, -6.21, 106.81, -6.20)),
	)

	z, err := r.Resolve(context.Background(), "isp", geo.Point{Lng: 106.805, Lat: -6.205})
	require.NoError(t, err)
	require.NotNil(t, z)
	assert.Equal(t, "hood", z.ID)

	z, err = r.Resolve(context.Background(), "isp", geo.Point{Lng: 106.75, Lat: -6.25})
	require.NoError(t, err)
	require.NotNil(t, z)
	assert.Equal(t, "city", z.ID)
}

func TestResolveSmallerAreaBreaksPriorityTie(t *testing.T) {
	r := setup(t,
		zone("big", 50, square(0, 0, 10, 10)),
		zone("small", 50, square(4, 4, 6, 6)),
	)

	z, err := r.Resolve(context.Background(), "isp", geo.Point{Lng: 5, Lat: 5})
	require.NoError(t, err)
	assert.Equal(t, "small", z.ID)
}

func TestResolveNoZone(t *testing.T) {
	r := setup(t, zone("a", 1, square(0, 0, 1, 1)))

	z, err := r.Resolve(context.Background(), "isp", geo.Point{Lng: 50, Lat: 50})
	require.NoError(t, err)
	assert.Nil(t, z)

	// unknown tenants have an empty index
	z, err = r.Resolve(context.Background(), "other", geo.Point{Lng: 0.5, Lat: 0.5})
	require.NoError(t, err)
	assert.Nil(t, z)
}

func TestResolveIgnoresInactiveZones(t *testing.T) {
	off := zone("off", 999, square(0, 0, 2, 2))
	off.Status = models.ZoneStatusInactive
	r := setup(t, off, zone("on", 1, square(0, 0, 4, 4)))

	ranked, err := r.Rank(context.Background(), "isp", geo.Point{Lng: 1, Lat: 1})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "on", ranked[0].ID)
}

func TestResolveRejectsBadCoordinates(t *testing.T) {
	r := setup(t)

	_, err := r.Resolve(context.Background(), "isp", geo.Point{Lng: 0, Lat: 91})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Equal(t, "lat", apperr.FieldOf(err))

	_, err = r.Resolve(context.Background(), "isp", geo.Point{Lng: -181, Lat: 0})
	assert.Equal(t, "lng", apperr.FieldOf(err))
}

func TestResolveBoundaryIsInside(t *testing.T) {
	r := setup(t, zone("edge", 1, square(0, 0, 1, 1)))

	for _, p := range []geo.Point{{Lng: 1, Lat: 0.5}, {Lng: 0, Lat: 0}, {Lng: 0.5, Lat: 1}} {
		z, err := r.Resolve(context.Background(), "isp", p)
		require.NoError(t, err)
		require.NotNil(t, z, "%v should be covered", p)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := setup(t,
		zone("b", 5, square(0, 0, 2, 2)),
		zone("a", 5, square(0, 0, 2, 2)),
		zone("c", 5, square(0, 0, 2, 2)),
	)
	for range 20 {
		z, err := r.Resolve(context.Background(), "isp", geo.Point{Lng: 1, Lat: 1})
		require.NoError(t, err)
		assert.Equal(t, "a", z.ID)
	}
}

func TestOrder(t *testing.T) {
	older := zone("older", 5, square(0, 0, 1, 1))
	newer := zone("newer", 5, square(0, 0, 1, 1))
	newer.UpdatedAt = t0.Add(time.Hour)
	small := zone("small", 5, square(0, 0, 0.5, 0.5))
	high := zone("high", 6, square(0, 0, 3, 3))
	tieA := zone("tie-a", 5, square(0, 0, 1, 1))

	zones := []*models.Zone{older, tieA, newer, small, high}
	Order(zones)

	ids := make([]string, len(zones))
	for i, z := range zones {
		ids[i] = z.ID
	}
	assert.Equal(t, []string{"high", "small", "newer", "older", "tie-a"}, ids)
}
