package spatial

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/geo"
)

func square(minLng, minLat, maxLng, maxLat float64) geo.MultiPolygon {
	return geo.MultiPolygon{{{
		{Lng: minLng, Lat: minLat}, {Lng: maxLng, Lat: minLat},
		{Lng: maxLng, Lat: maxLat}, {Lng: minLng, Lat: maxLat}, {Lng: minLng, Lat: minLat},
	}}}
}

func TestIndexUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex("t1")

	require.NoError(t, idx.Upsert(ctx, Entry{Kind: KindZone, ID: "city", Geometry: square(106.7, -6.3, 106.9, -6.1)}))
	require.NoError(t, idx.Upsert(ctx, Entry{Kind: KindZone, ID: "hood", Geometry: square(106.80, -6.21, 106.81, -6.20)}))
	require.NoError(t, idx.Upsert(ctx, Entry{Kind: KindNode, ID: "n1", Geometry: geo.Point{Lng: 106.805, Lat: -6.205}}))
	require.NoError(t, idx.Upsert(ctx, Entry{Kind: KindLink, ID: "l1", Geometry: geo.MultiLineString{{{Lng: 106.7, Lat: -6.3}, {Lng: 106.9, Lat: -6.1}}}}))

	ids, err := idx.QueryContaining(ctx, geo.Point{Lng: 106.805, Lat: -6.205})
	require.NoError(t, err)
	assert.Equal(t, []string{"city", "hood"}, ids)

	ids, err = idx.QueryContaining(ctx, geo.Point{Lng: 106.75, Lat: -6.25})
	require.NoError(t, err)
	assert.Equal(t, []string{"city"}, ids)

	ids, err = idx.QueryContaining(ctx, geo.Point{Lng: 0, Lat: 0})
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = idx.QueryBBox(ctx, geo.BBox{MinLng: 106.80, MinLat: -6.21, MaxLng: 106.81, MaxLat: -6.20}, KindNode)
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, ids)

	ids, err = idx.QueryBBox(ctx, geo.BBox{MinLng: 106.85, MinLat: -6.29, MaxLng: 106.89, MaxLat: -6.25}, KindLink)
	require.NoError(t, err)
	assert.Empty(t, ids, "box overlaps the route bbox but not the route")

	// Moving a zone replaces its key.
	require.NoError(t, idx.Upsert(ctx, Entry{Kind: KindZone, ID: "hood", Geometry: square(10, 10, 11, 11)}))
	ids, err = idx.QueryContaining(ctx, geo.Point{Lng: 106.805, Lat: -6.205})
	require.NoError(t, err)
	assert.Equal(t, []string{"city"}, ids)
	assert.Equal(t, 2, idx.Len(KindZone))

	idx.Remove(ctx, KindZone, "city")
	idx.Remove(ctx, KindZone, "never-there")
	assert.Equal(t, 1, idx.Len(KindZone))
}

func TestIndexRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex("t1")

	unclosed := geo.MultiPolygon{{{{Lng: 0, Lat: 0}, {Lng: 1, Lat: 0}, {Lng: 1, Lat: 1}, {Lng: 0, Lat: 1}}}}
	err := idx.Upsert(ctx, Entry{Kind: KindZone, ID: "z", Geometry: unclosed})
	assert.ErrorIs(t, err, apperr.ErrInvalidGeometry)

	err = idx.Upsert(ctx, Entry{Kind: KindLink, ID: "l", Geometry: geo.MultiLineString{{{Lng: 1, Lat: 1}, {Lng: 1, Lat: 1}}}})
	assert.ErrorIs(t, err, apperr.ErrInvalidGeometry)

	err = idx.Upsert(ctx, Entry{Kind: KindZone, ID: "z", Geometry: geo.Point{}})
	assert.ErrorIs(t, err, apperr.ErrInvalidGeometry)

	assert.Equal(t, 0, idx.Len(KindZone))
	assert.Equal(t, 0, idx.Len(KindLink))

	_, err = idx.QueryContaining(ctx, geo.Point{Lng: 181, Lat: 0})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = idx.QueryBBox(ctx, geo.BBox{MinLng: 2, MaxLng: 1}, KindNode)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestTxRollback(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex("t1")
	require.NoError(t, idx.Upsert(ctx, Entry{Kind: KindZone, ID: "a", Geometry: square(0, 0, 1, 1)}))

	tx := idx.Begin()
	require.NoError(t, tx.Upsert(Entry{Kind: KindZone, ID: "a", Geometry: square(5, 5, 6, 6)}))
	require.NoError(t, tx.Upsert(Entry{Kind: KindZone, ID: "b", Geometry: square(0, 0, 2, 2)}))
	tx.Remove(KindZone, "a")

	inside, err := tx.Reader().QueryContaining(ctx, geo.Point{Lng: 0.5, Lat: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, inside)
	tx.Rollback()
	tx.Commit()

	ids, err := idx.QueryContaining(ctx, geo.Point{Lng: 0.5, Lat: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
	assert.Equal(t, 1, idx.Len(KindZone))
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex("t1")
	require.NoError(t, idx.Upsert(ctx, Entry{Kind: KindZone, ID: "base", Geometry: square(0, 0, 10, 10)}))

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ids, err := idx.QueryContaining(ctx, geo.Point{Lng: 5, Lat: 5})
				if assert.NoError(t, err) {
					assert.Contains(t, ids, "base")
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			tx := idx.Begin()
			_ = tx.Upsert(Entry{Kind: KindZone, ID: "moving", Geometry: square(float64(i%5), 0, float64(i%5)+1, 1)})
			tx.Commit()
		}
	}()
	wg.Wait()
}
