// Package rtree is an in-memory R-tree over id-tagged bounding boxes.
//
// The tree allows one writer or many readers at a time. Search takes a read
// lock; Insert, Load, Remove and Clear take the write lock, so a search never
// observes a split or condense half-way through.
package rtree

import (
	"math"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/spatialdb/internal/errs"
)

// DefaultMaxEntries is the node capacity used when none is configured.
const DefaultMaxEntries = 9

// Entry is an indexed item: a document id and its bounding box.
type Entry struct {
	ID   string
	BBox BBox
}

// node is either an item (height 0, id set), a leaf holding items
// (height 1), or an internal node holding nodes.
type node struct {
	box      BBox
	height   int
	id       string
	children []*node
}

func (n *node) leaf() bool { return n.height == 1 }

func newLeaf(children []*node) *node {
	n := &node{height: 1, children: children}
	n.recalc()
	return n
}

// recalc recomputes the node's box from its children.
func (n *node) recalc() {
	n.box = boxOf(n.children)
}

func boxOf(children []*node) BBox {
	b := empty()
	for _, c := range children {
		b = b.Extend(c.box)
	}
	return b
}

// Tree is an R-tree keyed by document id. It holds at most one entry per id.
type Tree struct {
	mu         sync.RWMutex
	root       *node
	maxEntries int
	minEntries int
	// boxes records the bbox each id was stored under.
	boxes map[string]BBox
}

// New creates an empty tree with the given node capacity. Values below 4 use
// DefaultMaxEntries.
func New(maxEntries int) *Tree {
	if maxEntries < 4 {
		maxEntries = DefaultMaxEntries
	}
	return &Tree{
		root:       newLeaf(nil),
		maxEntries: maxEntries,
		minEntries: max(2, int(math.Ceil(float64(maxEntries)*0.4))),
		boxes:      make(map[string]BBox),
	}
}

// Len returns the number of entries.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.boxes)
}

// Height returns the number of node levels, 1 for a tree that is a single leaf.
func (t *Tree) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.height
}

// Has reports whether an entry with the given id is indexed.
func (t *Tree) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.boxes[id]
	return ok
}

// Clear removes every entry.
func (t *Tree) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = newLeaf(nil)
	t.boxes = make(map[string]BBox)
}

// Insert adds one entry.
func (t *Tree) Insert(e Entry) error {
	if err := validateEntry(e); err != nil {
		return errs.NewIndexError("insert", e.ID, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.boxes[e.ID]; ok {
		return errs.NewIndexError("insert", e.ID, eris.New("rtree: duplicate id"))
	}
	t.insert(&node{box: e.BBox, id: e.ID}, t.root.height-1)
	t.boxes[e.ID] = e.BBox
	return nil
}

// Remove deletes the entry with the given id. The bbox is only used to find
// the right subtree; the entry is matched by id. A bbox that has drifted
// from the stored one still removes the entry. Remove reports false when
// the id is not indexed.
func (t *Tree) Remove(id string, bbox BBox) (bool, error) {
	if err := validateProbeBox(bbox); err != nil {
		return false, errs.NewIndexError("remove", id, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stored, ok := t.boxes[id]
	if !ok {
		return false, nil
	}

	found := t.removeFrom(t.root, id, bbox, nil)
	if !found && stored != bbox {
		found = t.removeFrom(t.root, id, stored, nil)
	}
	if !found {
		return false, errs.NewIndexError("remove", id, eris.New("rtree: entry not reachable from its bbox"))
	}
	delete(t.boxes, id)
	return true, nil
}

// Search returns every entry whose bbox intersects bbox, including entries
// that only touch its boundary.
func (t *Tree) Search(bbox BBox) []Entry {
	if validateProbeBox(bbox) != nil {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []Entry
	n := t.root
	if !bbox.Intersects(n.box) {
		return result
	}

	var stack []*node
	for n != nil {
		for _, c := range n.children {
			if !bbox.Intersects(c.box) {
				continue
			}
			switch {
			case n.leaf():
				result = append(result, Entry{ID: c.id, BBox: c.box})
			case bbox.Contains(c.box):
				result = collect(c, result)
			default:
				stack = append(stack, c)
			}
		}
		n = nil
		if len(stack) > 0 {
			n = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		}
	}
	return result
}

// All returns every entry in the tree.
func (t *Tree) All() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return collect(t.root, make([]Entry, 0, len(t.boxes)))
}

func collect(n *node, result []Entry) []Entry {
	if n.height == 0 {
		return append(result, Entry{ID: n.id, BBox: n.box})
	}
	for _, c := range n.children {
		result = collect(c, result)
	}
	return result
}

func validateEntry(e Entry) error {
	if e.ID == "" {
		return eris.New("rtree: empty id")
	}
	return validateEntryBox(e.BBox)
}

// insert places item (an entry or a subtree) at the given level, counted
// from the root at level 0, and splits overflowing nodes on the way up.
func (t *Tree) insert(item *node, level int) {
	path := t.chooseSubtree(item.box, level)

	target := path[len(path)-1]
	target.children = append(target.children, item)
	target.box = target.box.Extend(item.box)

	level = len(path) - 1
	for level >= 0 && len(path[level].children) > t.maxEntries {
		t.split(path, level)
		level--
	}
	for i := level; i >= 0; i-- {
		path[i].box = path[i].box.Extend(item.box)
	}
}

// chooseSubtree walks from the root towards level, picking at each step the
// child needing the least enlargement, ties broken by smaller area.
func (t *Tree) chooseSubtree(box BBox, level int) []*node {
	n := t.root
	var path []*node
	for {
		path = append(path, n)
		if n.leaf() || len(path)-1 == level {
			return path
		}

		var best *node
		minEnlargement, minArea := math.Inf(+1), math.Inf(+1)
		for _, c := range n.children {
			area := c.box.area()
			enlargement := c.box.Extend(box).area() - area
			if enlargement < minEnlargement {
				minEnlargement = enlargement
				minArea = math.Min(area, minArea)
				best = c
			} else if enlargement == minEnlargement && area < minArea {
				minArea = area
				best = c
			}
		}
		if best == nil {
			best = n.children[0]
		}
		n = best
	}
}

// split divides path[level] in two along the axis with the smaller total
// margin, at the index with the least overlap.
func (t *Tree) split(path []*node, level int) {
	n := path[level]
	total := len(n.children)
	m := t.minEntries

	t.chooseSplitAxis(n, m, total)
	at := t.chooseSplitIndex(n, m, total)

	moved := make([]*node, total-at)
	copy(moved, n.children[at:])
	n.children = n.children[:at:at]

	sibling := &node{height: n.height, children: moved}
	n.recalc()
	sibling.recalc()

	if level > 0 {
		parent := path[level-1]
		parent.children = append(parent.children, sibling)
		return
	}
	t.splitRoot(n, sibling)
}

func (t *Tree) splitRoot(a, b *node) {
	root := &node{height: a.height + 1, children: []*node{a, b}}
	root.recalc()
	t.root = root
}

func (t *Tree) chooseSplitAxis(n *node, m, total int) {
	xMargin := allDistMargin(n, m, total, byMinX)
	yMargin := allDistMargin(n, m, total, byMinY)
	// allDistMargin leaves the children sorted by y.
	if xMargin < yMargin {
		sortChildren(n.children, byMinX)
	}
}

func (t *Tree) chooseSplitIndex(n *node, m, total int) int {
	index := 0
	minOverlap, minArea := math.Inf(+1), math.Inf(+1)
	for i := m; i <= total-m; i++ {
		left := boxOf(n.children[:i])
		right := boxOf(n.children[i:])
		overlap := left.intersectionArea(right)
		area := left.area() + right.area()
		if overlap < minOverlap {
			minOverlap = overlap
			minArea = math.Min(area, minArea)
			index = i
		} else if overlap == minOverlap && area < minArea {
			minArea = area
			index = i
		}
	}
	if index == 0 {
		return total - m
	}
	return index
}

// allDistMargin sorts the children with cmp and sums the margins of every
// candidate distribution.
func allDistMargin(n *node, m, total int, cmp func(a, b *node) int) float64 {
	sortChildren(n.children, cmp)

	left := boxOf(n.children[:m])
	right := boxOf(n.children[total-m:])
	margin := left.margin() + right.margin()

	for i := m; i < total-m; i++ {
		left = left.Extend(n.children[i].box)
		margin += left.margin()
	}
	for i := total - m - 1; i >= m; i-- {
		right = right.Extend(n.children[i].box)
		margin += right.margin()
	}
	return margin
}

// removeFrom descends into children whose box contains bbox and deletes the
// item with the given id from the first leaf holding it.
func (t *Tree) removeFrom(n *node, id string, bbox BBox, path []*node) bool {
	path = append(path, n)
	if n.leaf() {
		for i, c := range n.children {
			if c.id == id {
				n.children = append(n.children[:i], n.children[i+1:]...)
				t.condense(path)
				return true
			}
		}
		return false
	}
	for _, c := range n.children {
		if c.box.Contains(bbox) && t.removeFrom(c, id, bbox, path) {
			return true
		}
	}
	return false
}

// condense drops emptied nodes along path and shrinks the remaining boxes.
func (t *Tree) condense(path []*node) {
	for i := len(path) - 1; i >= 0; i-- {
		n := path[i]
		if len(n.children) > 0 {
			n.recalc()
			continue
		}
		if i == 0 {
			t.root = newLeaf(nil)
			continue
		}
		parent := path[i-1]
		for j, c := range parent.children {
			if c == n {
				parent.children = append(parent.children[:j], parent.children[j+1:]...)
				break
			}
		}
	}
}
