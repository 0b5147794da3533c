package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/geo"
	"github.com/netmap-platform/netmap/internal/models"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique", &pq.Error{Code: "23505", Constraint: "zones_tenant_id_name_key"}, apperr.ErrConflict},
		{"foreign key", &pq.Error{Code: "23503"}, apperr.ErrNotFound},
		{"connection", &pq.Error{Code: "08006"}, apperr.ErrUnavailable},
		{"geojson", &pq.Error{Code: "XX000", Message: "unable to parse GeoJSON"}, apperr.ErrInvalidGeometry},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), apperr.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, translate("op", tt.err), tt.want)
		})
	}

	assert.NoError(t, translate("op", nil))
	plain := translate("op", errors.New("syntax"))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(plain))
}

func TestWhereBuilder(t *testing.T) {
	w := newWhere("t1")
	w.add("type = $%d", "olt")
	w.add("id = ANY($%d)", pq.Array([]string{"a"}))
	assert.Equal(t, " WHERE tenant_id = $1 AND type = $2 AND id = ANY($3)", w.String())
	assert.Len(t, w.args, 3)
}

func TestLinkArgsWithoutGeometry(t *testing.T) {
	args, err := linkArgs(&models.Link{ID: "l1", TenantID: "isp-a", FromNodeID: "n1", ToNodeID: "n2"})
	require.NoError(t, err)
	assert.Nil(t, args[12])

	args, err = linkArgs(&models.Link{ID: "l2", Geometry: geo.MultiLineString{{{Lng: 1, Lat: 2}, {Lng: 3, Lat: 4}}}})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"MultiLineString","coordinates":[[[1,2],[3,4]]]}`, args[12])
}

func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("NETMAP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NETMAP_TEST_POSTGRES_DSN not set, skipping integration tests")
	}
	ctx := context.Background()

	store, err := OpenPostgres(ctx, PostgresOptions{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, EnsureSchema(ctx, store.DB()))

	tenant := "it-" + uuid.NewString()
	seed(t, store, tenant)

	z, err := store.GetZone(ctx, tenant, "z1")
	require.NoError(t, err)
	assert.Equal(t, square(106.80, -6.21, 106.81, -6.20), z.Geometry)

	tx, err := store.Begin(ctx, tenant)
	require.NoError(t, err)
	err = tx.CreateZone(ctx, z)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NoError(t, tx.Rollback())

	checkRoutelessLink(t, store, tenant)

	tx, err = store.Begin(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteNode(ctx, tenant, "n1"))
	require.NoError(t, tx.Commit())

	links, err := store.ListLinks(ctx, tenant, LinkFilter{})
	require.NoError(t, err)
	assert.Empty(t, links)
	bindings, err := store.ListBindings(ctx, tenant, BindingFilter{})
	require.NoError(t, err)
	assert.Empty(t, bindings)
}
