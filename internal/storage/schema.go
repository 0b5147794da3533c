package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by EnsureSchema. Statements are idempotent.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS nodes (
		tenant_id   TEXT NOT NULL,
		id          TEXT NOT NULL,
		name        TEXT NOT NULL,
		type        TEXT NOT NULL,
		status      TEXT NOT NULL,
		location    geometry(Point, 4326) NOT NULL,
		capacity    JSONB NOT NULL DEFAULT '{}'::jsonb,
		health      JSONB NOT NULL DEFAULT '{}'::jsonb,
		metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS nodes_location_gix ON nodes USING GIST (location)`,
	`CREATE TABLE IF NOT EXISTS links (
		tenant_id        TEXT NOT NULL,
		id               TEXT NOT NULL,
		name             TEXT NOT NULL DEFAULT '',
		type             TEXT NOT NULL,
		from_node_id     TEXT NOT NULL,
		to_node_id       TEXT NOT NULL,
		status           TEXT NOT NULL,
		priority         INTEGER NOT NULL DEFAULT 0,
		capacity_mbps    DOUBLE PRECISION NOT NULL DEFAULT 0,
		utilization_pct  DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_ms       DOUBLE PRECISION NOT NULL DEFAULT 0,
		loss_db          DOUBLE PRECISION NOT NULL DEFAULT 0,
		geometry         geometry(MultiLineString, 4326),
		length_m         DOUBLE PRECISION NOT NULL DEFAULT 0,
		metadata         JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, id),
		CHECK (from_node_id <> to_node_id),
		FOREIGN KEY (tenant_id, from_node_id) REFERENCES nodes (tenant_id, id) ON DELETE CASCADE,
		FOREIGN KEY (tenant_id, to_node_id) REFERENCES nodes (tenant_id, id) ON DELETE CASCADE
	)`,
	`ALTER TABLE links ALTER COLUMN geometry DROP NOT NULL`,
	`CREATE INDEX IF NOT EXISTS links_geometry_gix ON links USING GIST (geometry)`,
	`CREATE INDEX IF NOT EXISTS links_from_idx ON links (tenant_id, from_node_id)`,
	`CREATE INDEX IF NOT EXISTS links_to_idx ON links (tenant_id, to_node_id)`,
	`CREATE TABLE IF NOT EXISTS zones (
		tenant_id   TEXT NOT NULL,
		id          TEXT NOT NULL,
		name        TEXT NOT NULL,
		zone_type   TEXT NOT NULL,
		priority    INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL,
		geometry    geometry(MultiPolygon, 4326) NOT NULL,
		area_m2     DOUBLE PRECISION NOT NULL DEFAULT 0,
		metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, id),
		UNIQUE (tenant_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS zones_geometry_gix ON zones USING GIST (geometry)`,
	`CREATE TABLE IF NOT EXISTS zone_node_bindings (
		tenant_id   TEXT NOT NULL,
		id          TEXT NOT NULL,
		zone_id     TEXT NOT NULL,
		node_id     TEXT NOT NULL,
		is_primary  BOOLEAN NOT NULL DEFAULT FALSE,
		weight      INTEGER NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, id),
		UNIQUE (tenant_id, zone_id, node_id),
		FOREIGN KEY (tenant_id, zone_id) REFERENCES zones (tenant_id, id) ON DELETE CASCADE,
		FOREIGN KEY (tenant_id, node_id) REFERENCES nodes (tenant_id, id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS bindings_node_idx ON zone_node_bindings (tenant_id, node_id)`,
}

// EnsureSchema creates the PostGIS extension, tables and indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
