package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/models"
)

// PostgresOptions configures the connection pool.
type PostgresOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore keeps the topology in PostGIS tables.
type PostgresStore struct {
	db *sql.DB
	pgReader
}

var _ Repository = (*PostgresStore)(nil)

// OpenPostgres connects and pings the database.
func OpenPostgres(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperr.Unavailable("ping postgres", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, pgReader: pgReader{q: db}}
}

// DB exposes the handle for schema migration.
func (s *PostgresStore) DB() *sql.DB { return s.db }

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.Unavailable("ping postgres", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// Begin opens a transaction and takes a tenant advisory lock so writers of
// one tenant serialize across replicas.
func (s *PostgresStore) Begin(ctx context.Context, tenant string) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate("begin transaction", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenant); err != nil {
		_ = tx.Rollback()
		return nil, translate("lock tenant", err)
	}
	return &pgTx{pgReader: pgReader{q: tx}, tx: tx}, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgReader struct {
	q querier
}

type pgTx struct {
	pgReader
	tx *sql.Tx
}

func (t *pgTx) Commit() error   { return translate("commit", t.tx.Commit()) }
func (t *pgTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return translate("rollback", err)
	}
	return nil
}

// translate maps driver errors onto apperr kinds.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return apperr.Conflict("%s: duplicate value violates %s", op, pqErr.Constraint)
		case "23503":
			return &apperr.Error{Kind: apperr.KindNotFound, Message: op + ": referenced entity does not exist"}
		case "23514":
			return apperr.Invalid(pqErr.Column, "%s: %s", op, pqErr.Message)
		case "XX000", "22023":
			if strings.Contains(strings.ToLower(pqErr.Message), "geojson") || strings.Contains(strings.ToLower(pqErr.Message), "geometry") {
				return apperr.Geometry("geometry", "%s: %s", op, pqErr.Message)
			}
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return apperr.Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.As(err, &netErr) {
		return apperr.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// where accumulates numbered placeholders after the fixed tenant argument.
type where struct {
	clauses []string
	args    []any
}

func newWhere(tenant string) *where {
	return &where{clauses: []string{"tenant_id = $1"}, args: []any{tenant}}
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) String() string { return " WHERE " + strings.Join(w.clauses, " AND ") }

// marshalAttrs returns text; lib/pq would send []byte as bytea.
func marshalAttrs(a models.Attributes) (string, error) {
	if a == nil {
		return "{}", nil
	}
	data, err := json.Marshal(a)
	return string(data), err
}

func unmarshalAttrs(data []byte) (models.Attributes, error) {
	attrs := models.Attributes{}
	if len(data) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const nodeColumns = `id, tenant_id, name, type, status, ST_X(location), ST_Y(location),
	capacity, health, metadata, created_at, updated_at`

func scanNode(r rowScanner) (*models.Node, error) {
	var (
		n                      models.Node
		capacity, health, meta []byte
	)
	if err := r.Scan(&n.ID, &n.TenantID, &n.Name, &n.Type, &n.Status, &n.Location.Lng, &n.Location.Lat,
		&capacity, &health, &meta, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if n.Capacity, err = unmarshalAttrs(capacity); err != nil {
		return nil, fmt.Errorf("decode capacity: %w", err)
	}
	if n.Health, err = unmarshalAttrs(health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	if n.Metadata, err = unmarshalAttrs(meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &n, nil
}

func (r pgReader) GetNode(ctx context.Context, tenant, id string) (*models.Node, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE tenant_id = $1 AND id = $2`, tenant, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("node", id)
	}
	return n, translate("get node", err)
}

func (r pgReader) ListNodes(ctx context.Context, tenant string, f NodeFilter) ([]*models.Node, error) {
	w := newWhere(tenant)
	if f.Type != "" {
		w.add("type = $%d", string(f.Type))
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.IDs != nil {
		w.add("id = ANY($%d)", pq.Array(f.IDs))
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, translate("list nodes", err)
	}
	defer rows.Close()

	out := []*models.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, translate("scan node", err)
		}
		out = append(out, n)
	}
	return out, translate("list nodes", rows.Err())
}

const linkColumns = `id, tenant_id, name, type, from_node_id, to_node_id, status, priority,
	capacity_mbps, utilization_pct, latency_ms, loss_db, ST_AsGeoJSON(geometry, 15), length_m,
	metadata, created_at, updated_at`

func scanLink(r rowScanner) (*models.Link, error) {
	var (
		l          models.Link
		geom, meta []byte
	)
	if err := r.Scan(&l.ID, &l.TenantID, &l.Name, &l.Type, &l.FromNodeID, &l.ToNodeID, &l.Status, &l.Priority,
		&l.CapacityMbps, &l.UtilizationPct, &l.LatencyMs, &l.LossDB, &geom, &l.LengthM,
		&meta, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	// A link between co-located nodes has no route.
	if geom != nil {
		if err := json.Unmarshal(geom, &l.Geometry); err != nil {
			return nil, fmt.Errorf("decode link geometry: %w", err)
		}
	}
	var err error
	if l.Metadata, err = unmarshalAttrs(meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &l, nil
}

func (r pgReader) GetLink(ctx context.Context, tenant, id string) (*models.Link, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE tenant_id = $1 AND id = $2`, tenant, id)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("link", id)
	}
	return l, translate("get link", err)
}

func (r pgReader) ListLinks(ctx context.Context, tenant string, f LinkFilter) ([]*models.Link, error) {
	w := newWhere(tenant)
	if f.Type != "" {
		w.add("type = $%d", string(f.Type))
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.NodeID != "" {
		w.args = append(w.args, f.NodeID)
		n := len(w.args)
		w.clauses = append(w.clauses, fmt.Sprintf("(from_node_id = $%d OR to_node_id = $%d)", n, n))
	}
	if f.IDs != nil {
		w.add("id = ANY($%d)", pq.Array(f.IDs))
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+linkColumns+` FROM links`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, translate("list links", err)
	}
	defer rows.Close()

	out := []*models.Link{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, translate("scan link", err)
		}
		out = append(out, l)
	}
	return out, translate("list links", rows.Err())
}

const zoneColumns = `id, tenant_id, name, zone_type, priority, status, ST_AsGeoJSON(geometry, 15),
	area_m2, metadata, created_at, updated_at`

func scanZone(r rowScanner) (*models.Zone, error) {
	var (
		z          models.Zone
		geom, meta []byte
	)
	if err := r.Scan(&z.ID, &z.TenantID, &z.Name, &z.ZoneType, &z.Priority, &z.Status, &geom,
		&z.AreaM2, &meta, &z.CreatedAt, &z.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(geom, &z.Geometry); err != nil {
		return nil, fmt.Errorf("decode zone geometry: %w", err)
	}
	var err error
	if z.Metadata, err = unmarshalAttrs(meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &z, nil
}

func (r pgReader) GetZone(ctx context.Context, tenant, id string) (*models.Zone, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+zoneColumns+` FROM zones WHERE tenant_id = $1 AND id = $2`, tenant, id)
	z, err := scanZone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("zone", id)
	}
	return z, translate("get zone", err)
}

func (r pgReader) ListZones(ctx context.Context, tenant string, f ZoneFilter) ([]*models.Zone, error) {
	w := newWhere(tenant)
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.ZoneType != "" {
		w.add("zone_type = $%d", f.ZoneType)
	}
	if f.IDs != nil {
		w.add("id = ANY($%d)", pq.Array(f.IDs))
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+zoneColumns+` FROM zones`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, translate("list zones", err)
	}
	defer rows.Close()

	out := []*models.Zone{}
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, translate("scan zone", err)
		}
		out = append(out, z)
	}
	return out, translate("list zones", rows.Err())
}

const bindingColumns = `id, tenant_id, zone_id, node_id, is_primary, weight, created_at, updated_at`

func scanBinding(r rowScanner) (*models.Binding, error) {
	var b models.Binding
	if err := r.Scan(&b.ID, &b.TenantID, &b.ZoneID, &b.NodeID, &b.IsPrimary, &b.Weight, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r pgReader) GetBinding(ctx context.Context, tenant, id string) (*models.Binding, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+bindingColumns+` FROM zone_node_bindings WHERE tenant_id = $1 AND id = $2`, tenant, id)
	b, err := scanBinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("binding", id)
	}
	return b, translate("get binding", err)
}

func (r pgReader) ListBindings(ctx context.Context, tenant string, f BindingFilter) ([]*models.Binding, error) {
	w := newWhere(tenant)
	if f.ZoneID != "" {
		w.add("zone_id = $%d", f.ZoneID)
	}
	if f.NodeID != "" {
		w.add("node_id = $%d", f.NodeID)
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+bindingColumns+` FROM zone_node_bindings`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, translate("list bindings", err)
	}
	defer rows.Close()

	out := []*models.Binding{}
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, translate("scan binding", err)
		}
		out = append(out, b)
	}
	return out, translate("list bindings", rows.Err())
}

// exec runs a write and reports NotFound when no row matched.
func (t *pgTx) exec(ctx context.Context, op, entity, id, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(op, err)
	}
	if n == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}

func nodeArgs(n *models.Node) ([]any, error) {
	capacity, err := marshalAttrs(n.Capacity)
	if err != nil {
		return nil, err
	}
	health, err := marshalAttrs(n.Health)
	if err != nil {
		return nil, err
	}
	meta, err := marshalAttrs(n.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{n.TenantID, n.ID, n.Name, string(n.Type), string(n.Status), n.Location.Lng, n.Location.Lat,
		capacity, health, meta, n.CreatedAt, n.UpdatedAt}, nil
}

func (t *pgTx) CreateNode(ctx context.Context, n *models.Node) error {
	args, err := nodeArgs(n)
	if err != nil {
		return fmt.Errorf("encode node: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO nodes
		(tenant_id, id, name, type, status, location, capacity, health, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, ST_SetSRID(ST_MakePoint($6, $7), 4326), $8, $9, $10, $11, $12)`, args...)
	return translate("create node", err)
}

func (t *pgTx) UpdateNode(ctx context.Context, n *models.Node) error {
	args, err := nodeArgs(n)
	if err != nil {
		return fmt.Errorf("encode node: %w", err)
	}
	return t.exec(ctx, "update node", "node", n.ID, `UPDATE nodes SET
		name = $3, type = $4, status = $5, location = ST_SetSRID(ST_MakePoint($6, $7), 4326),
		capacity = $8, health = $9, metadata = $10, created_at = $11, updated_at = $12
		WHERE tenant_id = $1 AND id = $2`, args...)
}

func (t *pgTx) DeleteNode(ctx context.Context, tenant, id string) error {
	return t.exec(ctx, "delete node", "node", id, `DELETE FROM nodes WHERE tenant_id = $1 AND id = $2`, tenant, id)
}

func linkArgs(l *models.Link) ([]any, error) {
	var geom any
	if len(l.Geometry) > 0 {
		b, err := json.Marshal(l.Geometry)
		if err != nil {
			return nil, err
		}
		geom = string(b)
	}
	meta, err := marshalAttrs(l.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{l.TenantID, l.ID, l.Name, string(l.Type), l.FromNodeID, l.ToNodeID, string(l.Status), l.Priority,
		l.CapacityMbps, l.UtilizationPct, l.LatencyMs, l.LossDB, geom, l.LengthM, meta, l.CreatedAt, l.UpdatedAt}, nil
}

func (t *pgTx) CreateLink(ctx context.Context, l *models.Link) error {
	args, err := linkArgs(l)
	if err != nil {
		return fmt.Errorf("encode link: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO links
		(tenant_id, id, name, type, from_node_id, to_node_id, status, priority, capacity_mbps,
		 utilization_pct, latency_ms, loss_db, geometry, length_m, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		 ST_SetSRID(ST_GeomFromGeoJSON($13::text), 4326), $14, $15, $16, $17)`, args...)
	return translate("create link", err)
}

func (t *pgTx) UpdateLink(ctx context.Context, l *models.Link) error {
	args, err := linkArgs(l)
	if err != nil {
		return fmt.Errorf("encode link: %w", err)
	}
	return t.exec(ctx, "update link", "link", l.ID, `UPDATE links SET
		name = $3, type = $4, from_node_id = $5, to_node_id = $6, status = $7, priority = $8,
		capacity_mbps = $9, utilization_pct = $10, latency_ms = $11, loss_db = $12,
		geometry = ST_SetSRID(ST_GeomFromGeoJSON($13::text), 4326), length_m = $14, metadata = $15,
		created_at = $16, updated_at = $17
		WHERE tenant_id = $1 AND id = $2`, args...)
}

func (t *pgTx) DeleteLink(ctx context.Context, tenant, id string) error {
	return t.exec(ctx, "delete link", "link", id, `DELETE FROM links WHERE tenant_id = $1 AND id = $2`, tenant, id)
}

func zoneArgs(z *models.Zone) ([]any, error) {
	geom, err := json.Marshal(z.Geometry)
	if err != nil {
		return nil, err
	}
	meta, err := marshalAttrs(z.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{z.TenantID, z.ID, z.Name, z.ZoneType, z.Priority, string(z.Status), string(geom),
		z.AreaM2, meta, z.CreatedAt, z.UpdatedAt}, nil
}

func (t *pgTx) CreateZone(ctx context.Context, z *models.Zone) error {
	args, err := zoneArgs(z)
	if err != nil {
		return fmt.Errorf("encode zone: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO zones
		(tenant_id, id, name, zone_type, priority, status, geometry, area_m2, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, ST_SetSRID(ST_GeomFromGeoJSON($7), 4326), $8, $9, $10, $11)`, args...)
	return translate("create zone", err)
}

func (t *pgTx) UpdateZone(ctx context.Context, z *models.Zone) error {
	args, err := zoneArgs(z)
	if err != nil {
		return fmt.Errorf("encode zone: %w", err)
	}
	return t.exec(ctx, "update zone", "zone", z.ID, `UPDATE zones SET
		name = $3, zone_type = $4, priority = $5, status = $6,
		geometry = ST_SetSRID(ST_GeomFromGeoJSON($7), 4326), area_m2 = $8, metadata = $9,
		created_at = $10, updated_at = $11
		WHERE tenant_id = $1 AND id = $2`, args...)
}

func (t *pgTx) DeleteZone(ctx context.Context, tenant, id string) error {
	return t.exec(ctx, "delete zone", "zone", id, `DELETE FROM zones WHERE tenant_id = $1 AND id = $2`, tenant, id)
}

func (t *pgTx) CreateBinding(ctx context.Context, b *models.Binding) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO zone_node_bindings
		(tenant_id, id, zone_id, node_id, is_primary, weight, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.TenantID, b.ID, b.ZoneID, b.NodeID, b.IsPrimary, b.Weight, b.CreatedAt, b.UpdatedAt)
	return translate("create binding", err)
}

func (t *pgTx) UpdateBinding(ctx context.Context, b *models.Binding) error {
	return t.exec(ctx, "update binding", "binding", b.ID, `UPDATE zone_node_bindings SET
		zone_id = $3, node_id = $4, is_primary = $5, weight = $6, created_at = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2`,
		b.TenantID, b.ID, b.ZoneID, b.NodeID, b.IsPrimary, b.Weight, b.CreatedAt, b.UpdatedAt)
}

func (t *pgTx) DeleteBinding(ctx context.Context, tenant, id string) error {
	return t.exec(ctx, "delete binding", "binding", id, `DELETE FROM zone_node_bindings WHERE tenant_id = $1 AND id = $2`, tenant, id)
}
