// Package spatial keeps per-tenant R-tree indexes over node locations,
// link routes and zone areas.
package spatial

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/netmap-platform/netmap/internal/apperr"
	"github.com/netmap-platform/netmap/internal/geo"
)

// Kind is the entity kind an index entry belongs to.
type Kind string

const (
	KindNode Kind = "node"
	KindLink Kind = "link"
	KindZone Kind = "zone"
)

// Kinds lists every indexed kind.
var Kinds = []Kind{KindNode, KindLink, KindZone}

// ParseKind validates a kind name from user input.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindNode, KindLink, KindZone:
		return k, nil
	}
	return "", apperr.Invalid("kind", "must be one of node, link, zone")
}

// Entry is the spatial key of one entity.
type Entry struct {
	Kind     Kind
	ID       string
	Geometry geo.Geometry
}

// Validate checks that the geometry is well formed and matches the kind.
func (e Entry) Validate() error {
	if e.ID == "" {
		return apperr.Invalid("id", "is required")
	}
	switch e.Kind {
	case KindNode:
		if _, ok := e.Geometry.(geo.Point); !ok {
			return apperr.Geometry("location", "node requires a point")
		}
	case KindLink:
		if _, ok := e.Geometry.(geo.MultiLineString); !ok {
			return apperr.Geometry("geometry", "link requires a multilinestring")
		}
	case KindZone:
		if _, ok := e.Geometry.(geo.MultiPolygon); !ok {
			return apperr.Geometry("geometry", "zone requires a multipolygon")
		}
	default:
		return apperr.Invalid("kind", "unknown kind %q", e.Kind)
	}
	return e.Geometry.Validate()
}

type stored struct {
	geom geo.Geometry
	box  geo.BBox
}

// Reader answers spatial queries against one tenant index.
type Reader interface {
	QueryBBox(ctx context.Context, box geo.BBox, kind Kind) ([]string, error)
	QueryContaining(ctx context.Context, p geo.Point) ([]string, error)
	Geometry(kind Kind, id string) (geo.Geometry, bool)
	Len(kind Kind) int
}

// Index is the spatial index of a single tenant. Readers share a read
// lock; writers hold the write lock for the whole of a Tx.
type Index struct {
	tenant string

	mu    sync.RWMutex
	trees map[Kind]*rtree
	items map[Kind]map[string]stored
}

// NewIndex returns an empty index for tenant.
func NewIndex(tenant string) *Index {
	idx := &Index{
		tenant: tenant,
		trees:  make(map[Kind]*rtree, len(Kinds)),
		items:  make(map[Kind]map[string]stored, len(Kinds)),
	}
	for _, k := range Kinds {
		idx.trees[k] = newRTree()
		idx.items[k] = make(map[string]stored)
	}
	return idx
}

func (i *Index) Tenant() string { return i.tenant }

// Load inserts entries into an index nobody else references yet.
func (i *Index) Load(entries []Entry) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%s %s: %w", e.Kind, e.ID, err)
		}
		i.put(e)
	}
	return nil
}

// Upsert replaces the spatial key of one entity.
func (i *Index) Upsert(ctx context.Context, e Entry) error {
	tx := i.Begin()
	defer tx.Rollback()
	if err := tx.Upsert(e); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// Remove drops an entity. Absent ids are ignored.
func (i *Index) Remove(ctx context.Context, kind Kind, id string) {
	tx := i.Begin()
	tx.Remove(kind, id)
	tx.Commit()
}

// View runs fn under the read lock so several queries see one state.
func (i *Index) View(fn func(r Reader) error) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return fn(view{i})
}

func (i *Index) QueryBBox(ctx context.Context, box geo.BBox, kind Kind) ([]string, error) {
	var ids []string
	err := i.View(func(r Reader) error {
		var err error
		ids, err = r.QueryBBox(ctx, box, kind)
		return err
	})
	return ids, err
}

func (i *Index) QueryContaining(ctx context.Context, p geo.Point) ([]string, error) {
	var ids []string
	err := i.View(func(r Reader) error {
		var err error
		ids, err = r.QueryContaining(ctx, p)
		return err
	})
	return ids, err
}

func (i *Index) Len(kind Kind) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.trees[kind].Len()
}

// put and drop require the write lock.
func (i *Index) put(e Entry) {
	i.drop(e.Kind, e.ID)
	box := e.Geometry.Bounds()
	i.trees[e.Kind].Insert(box, e.ID)
	i.items[e.Kind][e.ID] = stored{geom: e.Geometry, box: box}
}

func (i *Index) drop(kind Kind, id string) (stored, bool) {
	s, ok := i.items[kind][id]
	if !ok {
		return stored{}, false
	}
	i.trees[kind].Delete(s.box, id)
	delete(i.items[kind], id)
	return s, true
}

// view reads without locking; the caller holds a lock already.
type view struct{ idx *Index }

func (v view) QueryBBox(ctx context.Context, box geo.BBox, kind Kind) ([]string, error) {
	if box.IsEmpty() {
		return nil, apperr.Invalid("bbox", "min must not exceed max")
	}
	tree, ok := v.idx.trees[kind]
	if !ok {
		return nil, apperr.Invalid("kind", "unknown kind %q", kind)
	}
	items := v.idx.items[kind]
	ids := []string{}
	err := tree.Search(ctx, box, func(id string, _ geo.BBox) bool {
		if items[id].geom.IntersectsBBox(box) {
			ids = append(ids, id)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (v view) QueryContaining(ctx context.Context, p geo.Point) ([]string, error) {
	if err := geo.CheckCoordinate("", p); err != nil {
		return nil, err
	}
	items := v.idx.items[KindZone]
	ids := []string{}
	err := v.idx.trees[KindZone].Search(ctx, p.Bounds(), func(id string, _ geo.BBox) bool {
		if zone, ok := items[id].geom.(geo.MultiPolygon); ok && zone.Contains(p) {
			ids = append(ids, id)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (v view) Geometry(kind Kind, id string) (geo.Geometry, bool) {
	s, ok := v.idx.items[kind][id]
	return s.geom, ok
}

func (v view) Len(kind Kind) int {
	if t, ok := v.idx.trees[kind]; ok {
		return t.Len()
	}
	return 0
}

// Tx is an exclusive write session on one tenant index. Every change is
// undone by Rollback unless Commit ran first.
type Tx struct {
	idx  *Index
	undo []func()
	done bool
}

// Begin takes the tenant write lock until Commit or Rollback.
func (i *Index) Begin() *Tx {
	i.mu.Lock()
	return &Tx{idx: i}
}

// Upsert validates e and replaces the entity's key.
func (tx *Tx) Upsert(e Entry) error {
	if tx.done {
		return fmt.Errorf("spatial: transaction already finished")
	}
	if err := e.Validate(); err != nil {
		return err
	}
	prev, had := tx.idx.items[e.Kind][e.ID]
	tx.idx.put(e)
	tx.undo = append(tx.undo, func() {
		tx.idx.drop(e.Kind, e.ID)
		if had {
			tx.idx.put(Entry{Kind: e.Kind, ID: e.ID, Geometry: prev.geom})
		}
	})
	return nil
}

// Remove drops an entity if present.
func (tx *Tx) Remove(kind Kind, id string) {
	if tx.done {
		return
	}
	prev, had := tx.idx.drop(kind, id)
	if !had {
		return
	}
	tx.undo = append(tx.undo, func() {
		tx.idx.put(Entry{Kind: kind, ID: id, Geometry: prev.geom})
	})
}

// Reader queries the index as modified so far by this transaction.
func (tx *Tx) Reader() Reader { return view{tx.idx} }

// Commit keeps the changes and releases the lock.
func (tx *Tx) Commit() {
	if tx.done {
		return
	}
	tx.done = true
	tx.undo = nil
	tx.idx.mu.Unlock()
}

// Rollback reverts the changes in reverse order and releases the lock.
// It is a no-op after Commit.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	for k := len(tx.undo) - 1; k >= 0; k-- {
		tx.undo[k]()
	}
	tx.undo = nil
	tx.idx.mu.Unlock()
}
