package rtree

import (
	"cmp"
	"math"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/spatialdb/internal/errs"
)

// Load bulk-inserts entries using Overlap Minimizing Top-down packing, which
// yields better-filled nodes than repeated Insert. The whole batch is
// validated first; on error the tree is left unchanged.
func (t *Tree) Load(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{}, len(entries))
	items := make([]*node, len(entries))
	for i, e := range entries {
		if err := validateEntry(e); err != nil {
			return errs.NewIndexError("load", e.ID, err)
		}
		if _, ok := t.boxes[e.ID]; ok {
			return errs.NewIndexError("load", e.ID, eris.New("rtree: duplicate id"))
		}
		if _, ok := seen[e.ID]; ok {
			return errs.NewIndexError("load", e.ID, eris.New("rtree: duplicate id in batch"))
		}
		seen[e.ID] = struct{}{}
		items[i] = &node{box: e.BBox, id: e.ID}
	}
	for _, e := range entries {
		t.boxes[e.ID] = e.BBox
	}

	if len(items) < t.minEntries {
		for _, item := range items {
			t.insert(item, t.root.height-1)
		}
		return nil
	}

	built := t.build(items, 0)
	switch {
	case len(t.root.children) == 0:
		t.root = built
	case t.root.height == built.height:
		t.splitRoot(t.root, built)
	default:
		if t.root.height < built.height {
			t.root, built = built, t.root
		}
		t.insert(built, t.root.height-built.height-1)
	}
	return nil
}

// build packs items into a subtree. A zero height means items is the whole
// batch and the target height is derived from its size.
func (t *Tree) build(items []*node, height int) *node {
	n := len(items)
	m := t.maxEntries
	if n <= m {
		// items may be a window into a larger batch; the leaf needs its
		// own backing array before later inserts append to it.
		return newLeaf(slices.Clone(items))
	}

	if height == 0 {
		height = int(math.Ceil(math.Log(float64(n)) / math.Log(float64(m))))
		m = int(math.Ceil(float64(n) / math.Pow(float64(m), float64(height-1))))
	}

	parent := &node{height: height}

	n2 := int(math.Ceil(float64(n) / float64(m)))
	n1 := n2 * int(math.Ceil(math.Sqrt(float64(m))))

	sortChildren(items, byMinX)
	for i := 0; i < n; i += n1 {
		slab := items[i:min(i+n1, n)]
		sortChildren(slab, byMinY)
		for j := 0; j < len(slab); j += n2 {
			group := slab[j:min(j+n2, len(slab))]
			parent.children = append(parent.children, t.build(group, height-1))
		}
	}
	parent.recalc()
	return parent
}

func byMinX(a, b *node) int { return cmp.Compare(a.box.MinX, b.box.MinX) }

func byMinY(a, b *node) int { return cmp.Compare(a.box.MinY, b.box.MinY) }

func sortChildren(children []*node, cmp func(a, b *node) int) {
	slices.SortFunc(children, cmp)
}
