package spatial

import (
	"context"
	"math"

	"github.com/netmap-platform/netmap/internal/geo"
)

const (
	maxEntries = 16
	minEntries = 6
)

type rentry struct {
	box   geo.BBox
	child *rnode
	id    string
}

type rnode struct {
	leaf    bool
	entries []rentry
}

func (n *rnode) bounds() geo.BBox {
	b := geo.EmptyBBox()
	for _, e := range n.entries {
		b = b.Union(e.box)
	}
	return b
}

// rtree is a Guttman R-tree with quadratic split. It is not safe for
// concurrent mutation; Index serializes writers.
type rtree struct {
	root   *rnode
	height int
	size   int
}

func newRTree() *rtree {
	return &rtree{root: &rnode{leaf: true}, height: 1}
}

func (t *rtree) Len() int { return t.size }

// Insert adds id with its bounding box. Callers remove any previous entry
// for id first.
func (t *rtree) Insert(box geo.BBox, id string) {
	t.insertAt(rentry{box: box, id: id}, 0)
	t.size++
}

// insertAt places e in a node at level, where leaves are level 0.
func (t *rtree) insertAt(e rentry, level int) {
	if split := t.insert(t.root, t.height-1, e, level); split != nil {
		old := t.root
		t.root = &rnode{entries: []rentry{
			{box: old.bounds(), child: old},
			{box: split.bounds(), child: split},
		}}
		t.height++
	}
}

func (t *rtree) insert(n *rnode, nlevel int, e rentry, level int) *rnode {
	if nlevel == level {
		n.entries = append(n.entries, e)
	} else {
		i := chooseSubtree(n, e.box)
		child := n.entries[i].child
		split := t.insert(child, nlevel-1, e, level)
		n.entries[i].box = child.bounds()
		if split != nil {
			n.entries = append(n.entries, rentry{box: split.bounds(), child: split})
		}
	}
	if len(n.entries) > maxEntries {
		return n.split()
	}
	return nil
}

func enlargement(b, add geo.BBox) (area, margin float64) {
	u := b.Union(add)
	return u.Area() - b.Area(), u.Margin() - b.Margin()
}

func chooseSubtree(n *rnode, box geo.BBox) int {
	best := 0
	bestArea, bestMargin := math.Inf(1), math.Inf(1)
	bestSize := math.Inf(1)
	for i, e := range n.entries {
		da, dm := enlargement(e.box, box)
		size := e.box.Area()
		if da < bestArea ||
			(da == bestArea && dm < bestMargin) ||
			(da == bestArea && dm == bestMargin && size < bestSize) {
			best, bestArea, bestMargin, bestSize = i, da, dm, size
		}
	}
	return best
}

// split keeps one group in n and returns a new sibling with the other.
func (n *rnode) split() *rnode {
	entries := n.entries
	s1, s2 := pickSeeds(entries)

	a := []rentry{entries[s1]}
	b := []rentry{entries[s2]}
	ba, bb := entries[s1].box, entries[s2].box

	rest := make([]rentry, 0, len(entries)-2)
	for i, e := range entries {
		if i != s1 && i != s2 {
			rest = append(rest, e)
		}
	}

	for len(rest) > 0 {
		if len(a)+len(rest) == minEntries {
			a = append(a, rest...)
			break
		}
		if len(b)+len(rest) == minEntries {
			b = append(b, rest...)
			break
		}

		next, bestDiff := 0, -1.0
		for i, e := range rest {
			da, _ := enlargement(ba, e.box)
			db, _ := enlargement(bb, e.box)
			if d := math.Abs(da - db); d > bestDiff {
				next, bestDiff = i, d
			}
		}
		e := rest[next]
		rest = append(rest[:next], rest[next+1:]...)

		da, ma := enlargement(ba, e.box)
		db, mb := enlargement(bb, e.box)
		toA := da < db ||
			(da == db && ma < mb) ||
			(da == db && ma == mb && len(a) <= len(b))
		if toA {
			a = append(a, e)
			ba = ba.Union(e.box)
		} else {
			b = append(b, e)
			bb = bb.Union(e.box)
		}
	}

	n.entries = a
	return &rnode{leaf: n.leaf, entries: b}
}

// pickSeeds returns the pair that would waste the most area together,
// falling back to margin for degenerate point boxes.
func pickSeeds(entries []rentry) (int, int) {
	s1, s2 := 0, 1
	worst, worstMargin := math.Inf(-1), math.Inf(-1)
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			u := entries[i].box.Union(entries[j].box)
			waste := u.Area() - entries[i].box.Area() - entries[j].box.Area()
			margin := u.Margin()
			if waste > worst || (waste == worst && margin > worstMargin) {
				s1, s2, worst, worstMargin = i, j, waste, margin
			}
		}
	}
	return s1, s2
}

// Delete removes id stored under box. It reports whether it was found.
func (t *rtree) Delete(box geo.BBox, id string) bool {
	var orphans []rentry
	if !t.remove(t.root, box, id, &orphans) {
		return false
	}
	t.size--

	for !t.root.leaf && len(t.root.entries) == 1 {
		t.root = t.root.entries[0].child
		t.height--
	}
	for _, e := range orphans {
		t.insertAt(e, 0)
	}
	return true
}

func (t *rtree) remove(n *rnode, box geo.BBox, id string, orphans *[]rentry) bool {
	if n.leaf {
		for i, e := range n.entries {
			if e.id == id {
				n.entries = append(n.entries[:i], n.entries[i+1:]...)
				return true
			}
		}
		return false
	}
	for i := range n.entries {
		e := n.entries[i]
		if !e.box.ContainsBox(box) {
			continue
		}
		if !t.remove(e.child, box, id, orphans) {
			continue
		}
		if len(e.child.entries) < minEntries {
			collectLeaves(e.child, orphans)
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
		} else {
			n.entries[i].box = e.child.bounds()
		}
		return true
	}
	return false
}

func collectLeaves(n *rnode, out *[]rentry) {
	if n.leaf {
		*out = append(*out, n.entries...)
		return
	}
	for _, e := range n.entries {
		collectLeaves(e.child, out)
	}
}

// Search calls fn for every leaf entry whose box intersects box until fn
// returns false. The context is checked at every node visit.
func (t *rtree) Search(ctx context.Context, box geo.BBox, fn func(id string, b geo.BBox) bool) error {
	stack := []*rnode{t.root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range n.entries {
			if !e.box.Intersects(box) {
				continue
			}
			if n.leaf {
				if !fn(e.id, e.box) {
					return nil
				}
				continue
			}
			stack = append(stack, e.child)
		}
	}
	return nil
}
