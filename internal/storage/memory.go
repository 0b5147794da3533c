package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/models"
)

// MemoryStore keeps the topology in maps, one partition per tenant. It is
// used for development, tests and single-replica deployments.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]*partition
}

type partition struct {
	mu       sync.RWMutex
	nodes    map[string]*models.Node
	links    map[string]*models.Link
	zones    map[string]*models.Zone
	bindings map[string]*models.Binding
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*partition)}
}

var _ Repository = (*MemoryStore)(nil)

func (m *MemoryStore) partition(tenant string) *partition {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.tenants[tenant]
	if !ok {
		p = &partition{
			nodes:    make(map[string]*models.Node),
			links:    make(map[string]*models.Link),
			zones:    make(map[string]*models.Zone),
			bindings: make(map[string]*models.Binding),
		}
		m.tenants[tenant] = p
	}
	return p
}

func (m *MemoryStore) read(tenant string, fn func(p *partition) error) error {
	p := m.partition(tenant)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn(p)
}

func (m *MemoryStore) GetNode(ctx context.Context, tenant, id string) (n *models.Node, err error) {
	err = m.read(tenant, func(p *partition) error { n, err = p.getNode(id); return err })
	return n, err
}

func (m *MemoryStore) ListNodes(ctx context.Context, tenant string, f NodeFilter) (out []*models.Node, err error) {
	err = m.read(tenant, func(p *partition) error { out = p.listNodes(f); return nil })
	return out, err
}

func (m *MemoryStore) GetLink(ctx context.Context, tenant, id string) (l *models.Link, err error) {
	err = m.read(tenant, func(p *partition) error { l, err = p.getLink(id); return err })
	return l, err
}

func (m *MemoryStore) ListLinks(ctx context.Context, tenant string, f LinkFilter) (out []*models.Link, err error) {
	err = m.read(tenant, func(p *partition) error { out = p.listLinks(f); return nil })
	return out, err
}

func (m *MemoryStore) GetZone(ctx context.Context, tenant, id string) (z *models.Zone, err error) {
	err = m.read(tenant, func(p *partition) error { z, err = p.getZone(id); return err })
	return z, err
}

func (m *MemoryStore) ListZones(ctx context.Context, tenant string, f ZoneFilter) (out []*models.Zone, err error) {
	err = m.read(tenant, func(p *partition) error { out = p.listZones(f); return nil })
	return out, err
}

func (m *MemoryStore) GetBinding(ctx context.Context, tenant, id string) (b *models.Binding, err error) {
	err = m.read(tenant, func(p *partition) error { b, err = p.getBinding(id); return err })
	return b, err
}

func (m *MemoryStore) ListBindings(ctx context.Context, tenant string, f BindingFilter) (out []*models.Binding, err error) {
	err = m.read(tenant, func(p *partition) error { out = p.listBindings(f); return nil })
	return out, err
}

// Begin takes the tenant partition's write lock until Commit or Rollback.
func (m *MemoryStore) Begin(ctx context.Context, tenant string) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable("begin transaction", err)
	}
	p := m.partition(tenant)
	p.mu.Lock()
	return &memTx{tenant: tenant, p: p}, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (p *partition) getNode(id string) (*models.Node, error) {
	n, ok := p.nodes[id]
	if !ok {
		return nil, apperr.NotFound("node", id)
	}
	return n.Clone(), nil
}

func (p *partition) listNodes(f NodeFilter) []*models.Node {
	out := []*models.Node{}
	for _, n := range p.nodes {
		if (f.Type == "" || n.Type == f.Type) &&
			(f.Status == "" || n.Status == f.Status) &&
			(f.IDs == nil || slices.Contains(f.IDs, n.ID)) {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *partition) getLink(id string) (*models.Link, error) {
	l, ok := p.links[id]
	if !ok {
		return nil, apperr.NotFound("link", id)
	}
	return l.Clone(), nil
}

func (p *partition) listLinks(f LinkFilter) []*models.Link {
	out := []*models.Link{}
	for _, l := range p.links {
		if (f.Type == "" || l.Type == f.Type) &&
			(f.Status == "" || l.Status == f.Status) &&
			(f.NodeID == "" || l.FromNodeID == f.NodeID || l.ToNodeID == f.NodeID) &&
			(f.IDs == nil || slices.Contains(f.IDs, l.ID)) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *partition) getZone(id string) (*models.Zone, error) {
	z, ok := p.zones[id]
	if !ok {
		return nil, apperr.NotFound("zone", id)
	}
	return z.Clone(), nil
}

func (p *partition) listZones(f ZoneFilter) []*models.Zone {
	out := []*models.Zone{}
	for _, z := range p.zones {
		if (f.Status == "" || z.Status == f.Status) &&
			(f.ZoneType == "" || z.ZoneType == f.ZoneType) &&
			(f.IDs == nil || slices.Contains(f.IDs, z.ID)) {
			out = append(out, z.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *partition) getBinding(id string) (*models.Binding, error) {
	b, ok := p.bindings[id]
	if !ok {
		return nil, apperr.NotFound("binding", id)
	}
	return b.Clone(), nil
}

func (p *partition) listBindings(f BindingFilter) []*models.Binding {
	out := []*models.Binding{}
	for _, b := range p.bindings {
		if (f.ZoneID == "" || b.ZoneID == f.ZoneID) && (f.NodeID == "" || b.NodeID == f.NodeID) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memTx mutates the partition in place and keeps an undo log.
type memTx struct {
	tenant string
	p      *partition
	undo   []func()
	done   bool
}

func (tx *memTx) check(ctx context.Context, tenant string) error {
	if tx.done {
		return fmt.Errorf("storage: transaction already finished")
	}
	if tenant != tx.tenant {
		return fmt.Errorf("storage: transaction for tenant %q used with %q", tx.tenant, tenant)
	}
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable("memory transaction", err)
	}
	return nil
}

func (tx *memTx) GetNode(ctx context.Context, tenant, id string) (*models.Node, error) {
	if err := tx.check(ctx, tenant); err != nil {
		return nil, err
	}
	return tx.p.getNode(id)
}

func (tx *memTx) ListNodes(ctx context.Context, tenant string, f NodeFilter) ([]*models.Node, error) {
	if err := tx.check(ctx, tenant); err != nil {
		return nil, err
	}
	return tx.p.listNodes(f), nil
}

func (tx *memTx) GetLink(ctx context.Context, tenant, id string) (*models.Link, error) {
	if err := tx.check(ctx, tenant); err != nil {
		return nil, err
	}
	return tx.p.getLink(id)
}

func (tx *memTx) ListLinks(ctx context.Context, tenant string, f LinkFilter) ([]*models.Link, error) {
	if err := tx.check(ctx, tenant); err != nil {
		return nil, err
	}
	return tx.p.listLinks(f), nil
}

func (tx *memTx) GetZone(ctx context.Context, tenant, id string) (*models.Zone, error) {
	if err := tx.check(ctx, tenant); err != nil {
		return nil, err
	}
	return tx.p.getZone(id)
}

func (tx *memTx) ListZones(ctx context.Context, tenant string, f ZoneFilter) ([]*models.Zone, error) {
	if err := tx.check(ctx, tenant); err != nil {
		return nil, err
	}
	return tx.p.listZones(f), nil
}

func (tx *memTx) GetBinding(ctx context.Context, tenant, id string) (*models.Binding, error) {
	if err := tx.check(ctx, tenant); err != nil {
		return nil, err
	}
	return tx.p.getBinding(id)
}

func (tx *memTx) ListBindings(ctx context.Context, tenant string, f BindingFilter) ([]*models.Binding, error) {
	if err := tx.check(ctx, tenant); err != nil {
		return nil, err
	}
	return tx.p.listBindings(f), nil
}

// record saves the current value of key in m so Rollback can restore it.
func record[T any](tx *memTx, m map[string]T, key string) {
	prev, had := m[key]
	tx.undo = append(tx.undo, func() {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

func (tx *memTx) CreateNode(ctx context.Context, n *models.Node) error {
	if err := tx.check(ctx, n.TenantID); err != nil {
		return err
	}
	if _, ok := tx.p.nodes[n.ID]; ok {
		return apperr.Conflict("node %q already exists", n.ID)
	}
	record(tx, tx.p.nodes, n.ID)
	tx.p.nodes[n.ID] = n.Clone()
	return nil
}

func (tx *memTx) UpdateNode(ctx context.Context, n *models.Node) error {
	if err := tx.check(ctx, n.TenantID); err != nil {
		return err
	}
	if _, ok := tx.p.nodes[n.ID]; !ok {
		return apperr.NotFound("node", n.ID)
	}
	record(tx, tx.p.nodes, n.ID)
	tx.p.nodes[n.ID] = n.Clone()
	return nil
}

// DeleteNode cascades to links and bindings like the relational schema.
func (tx *memTx) DeleteNode(ctx context.Context, tenant, id string) error {
	if err := tx.check(ctx, tenant); err != nil {
		return err
	}
	if _, ok := tx.p.nodes[id]; !ok {
		return apperr.NotFound("node", id)
	}
	for lid, l := range tx.p.links {
		if l.FromNodeID == id || l.ToNodeID == id {
			record(tx, tx.p.links, lid)
			delete(tx.p.links, lid)
		}
	}
	for bid, b := range tx.p.bindings {
		if b.NodeID == id {
			record(tx, tx.p.bindings, bid)
			delete(tx.p.bindings, bid)
		}
	}
	record(tx, tx.p.nodes, id)
	delete(tx.p.nodes, id)
	return nil
}

func (tx *memTx) checkEndpoints(l *models.Link) error {
	for _, id := range []string{l.FromNodeID, l.ToNodeID} {
		if _, ok := tx.p.nodes[id]; !ok {
			return apperr.NotFound("node", id)
		}
	}
	return nil
}

func (tx *memTx) CreateLink(ctx context.Context, l *models.Link) error {
	if err := tx.check(ctx, l.TenantID); err != nil {
		return err
	}
	if _, ok := tx.p.links[l.ID]; ok {
		return apperr.Conflict("link %q already exists", l.ID)
	}
	if err := tx.checkEndpoints(l); err != nil {
		return err
	}
	record(tx, tx.p.links, l.ID)
	tx.p.links[l.ID] = l.Clone()
	return nil
}

func (tx *memTx) UpdateLink(ctx context.Context, l *models.Link) error {
	if err := tx.check(ctx, l.TenantID); err != nil {
		return err
	}
	if _, ok := tx.p.links[l.ID]; !ok {
		return apperr.NotFound("link", l.ID)
	}
	if err := tx.checkEndpoints(l); err != nil {
		return err
	}
	record(tx, tx.p.links, l.ID)
	tx.p.links[l.ID] = l.Clone()
	return nil
}

func (tx *memTx) DeleteLink(ctx context.Context, tenant, id string) error {
	if err := tx.check(ctx, tenant); err != nil {
		return err
	}
	if _, ok := tx.p.links[id]; !ok {
		return apperr.NotFound("link", id)
	}
	record(tx, tx.p.links, id)
	delete(tx.p.links, id)
	return nil
}

func (tx *memTx) zoneNameTaken(z *models.Zone) bool {
	for id, other := range tx.p.zones {
		if id != z.ID && other.Name == z.Name {
			return true
		}
	}
	return false
}

func (tx *memTx) CreateZone(ctx context.Context, z *models.Zone) error {
	if err := tx.check(ctx, z.TenantID); err != nil {
		return err
	}
	if _, ok := tx.p.zones[z.ID]; ok {
		return apperr.Conflict("zone %q already exists", z.ID)
	}
	if tx.zoneNameTaken(z) {
		return apperr.Conflict("zone name %q already in use", z.Name)
	}
	record(tx, tx.p.zones, z.ID)
	tx.p.zones[z.ID] = z.Clone()
	return nil
}

func (tx *memTx) UpdateZone(ctx context.Context, z *models.Zone) error {
	if err := tx.check(ctx, z.TenantID); err != nil {
		return err
	}
	if _, ok := tx.p.zones[z.ID]; !ok {
		return apperr.NotFound("zone", z.ID)
	}
	if tx.zoneNameTaken(z) {
		return apperr.Conflict("zone name %q already in use", z.Name)
	}
	record(tx, tx.p.zones, z.ID)
	tx.p.zones[z.ID] = z.Clone()
	return nil
}

// DeleteZone cascades to the zone's bindings.
func (tx *memTx) DeleteZone(ctx context.Context, tenant, id string) error {
	if err := tx.check(ctx, tenant); err != nil {
		return err
	}
	if _, ok := tx.p.zones[id]; !ok {
		return apperr.NotFound("zone", id)
	}
	for bid, b := range tx.p.bindings {
		if b.ZoneID == id {
			record(tx, tx.p.bindings, bid)
			delete(tx.p.bindings, bid)
		}
	}
	record(tx, tx.p.zones, id)
	delete(tx.p.zones, id)
	return nil
}

func (tx *memTx) checkBinding(b *models.Binding) error {
	if _, ok := tx.p.zones[b.ZoneID]; !ok {
		return apperr.NotFound("zone", b.ZoneID)
	}
	if _, ok := tx.p.nodes[b.NodeID]; !ok {
		return apperr.NotFound("node", b.NodeID)
	}
	for id, other := range tx.p.bindings {
		if id != b.ID && other.ZoneID == b.ZoneID && other.NodeID == b.NodeID {
			return apperr.Conflict("node %q is already bound to zone %q", b.NodeID, b.ZoneID)
		}
	}
	return nil
}

func (tx *memTx) CreateBinding(ctx context.Context, b *models.Binding) error {
	if err := tx.check(ctx, b.TenantID); err != nil {
		return err
	}
	if _, ok := tx.p.bindings[b.ID]; ok {
		return apperr.Conflict("binding %q already exists", b.ID)
	}
	if err := tx.checkBinding(b); err != nil {
		return err
	}
	record(tx, tx.p.bindings, b.ID)
	tx.p.bindings[b.ID] = b.Clone()
	return nil
}

func (tx *memTx) UpdateBinding(ctx context.Context, b *models.Binding) error {
	if err := tx.check(ctx, b.TenantID); err != nil {
		return err
	}
	if _, ok := tx.p.bindings[b.ID]; !ok {
		return apperr.NotFound("binding", b.ID)
	}
	if err := tx.checkBinding(b); err != nil {
		return err
	}
	record(tx, tx.p.bindings, b.ID)
	tx.p.bindings[b.ID] = b.Clone()
	return nil
}

func (tx *memTx) DeleteBinding(ctx context.Context, tenant, id string) error {
	if err := tx.check(ctx, tenant); err != nil {
		return err
	}
	if _, ok := tx.p.bindings[id]; !ok {
		return apperr.NotFound("binding", id)
	}
	record(tx, tx.p.bindings, id)
	delete(tx.p.bindings, id)
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return fmt.Errorf("storage: transaction already finished")
	}
	tx.done = true
	tx.undo = nil
	tx.p.mu.Unlock()
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.p.mu.Unlock()
	return nil
}
