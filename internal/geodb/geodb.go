// Package geodb keeps an in-memory R-tree consistent with a document store
// and answers topological queries over the indexed features.
//
// Every mutation writes the store first and the index second. When the
// index step fails the store write is compensated, so a failed Add or Load
// leaves neither side changed. Remove is the one exception: the store delete
// is not undone when the index removal fails, and the dangling entry is
// repaired by Rebuild.
package geodb

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/spatialdb/internal/docstore"
	"github.com/sells-group/spatialdb/internal/errs"
	"github.com/sells-group/spatialdb/internal/feature"
	"github.com/sells-group/spatialdb/internal/rtree"
)

// ErrClosed is returned by every operation on a closed DB.
var ErrClosed = eris.New("geodb: closed")

const defaultRefetchConcurrency = 8

// Options tunes a DB.
type Options struct {
	// MaxEntries is the R-tree node capacity. Zero uses rtree.DefaultMaxEntries.
	MaxEntries int
	// RefetchConcurrency bounds the concurrent store reads issued by Load.
	RefetchConcurrency int
}

// DB pairs a document store with the spatial index derived from it.
type DB struct {
	store docstore.Store
	opts  Options
	log   *zap.Logger

	// mu serializes mutations over their whole store and index span.
	mu     sync.Mutex
	tree   atomic.Pointer[rtree.Tree]
	closed atomic.Bool
}

// Open builds the index from every live document in store. The caller
// keeps ownership of store.
func Open(ctx context.Context, store docstore.Store, opts Options) (*DB, error) {
	if opts.RefetchConcurrency < 1 {
		opts.RefetchConcurrency = defaultRefetchConcurrency
	}
	d := &DB{
		store: store,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "geodb")),
	}
	tree, _, err := d.build(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "geodb: open")
	}
	d.tree.Store(tree)
	d.log.Info("index ready", zap.Int("entries", tree.Len()), zap.Int("height", tree.Height()))
	return d, nil
}

// build enumerates the store and bulk-loads a fresh tree. Documents whose
// bbox cannot be extracted are skipped and returned by id.
func (d *DB) build(ctx context.Context) (*rtree.Tree, []string, error) {
	rows, err := d.store.AllDocs(ctx, docstore.AllDocsOptions{IncludeDocs: true})
	if err != nil {
		return nil, nil, err
	}

	entries := make([]rtree.Entry, 0, len(rows))
	var invalid []string
	for _, row := range rows {
		if row.Doc == nil {
			continue
		}
		bbox, err := feature.Extract(row.Doc)
		if err != nil {
			d.log.Warn("skipping unindexable document", zap.String("id", row.ID), zap.Error(err))
			invalid = append(invalid, row.ID)
			continue
		}
		entries = append(entries, rtree.Entry{ID: row.ID, BBox: bbox})
	}

	tree := rtree.New(d.opts.MaxEntries)
	if err := tree.Load(entries); err != nil {
		return nil, nil, err
	}
	return tree, invalid, nil
}

// Rebuild discards the index and rebuilds it from the store.
func (d *DB) Rebuild(ctx context.Context) error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	tree, _, err := d.build(ctx)
	if err != nil {
		return eris.Wrap(err, "geodb: rebuild")
	}
	d.tree.Store(tree)
	d.log.Info("index rebuilt", zap.Int("entries", tree.Len()))
	return nil
}

// Report is the outcome of Verify.
type Report struct {
	Indexed int `json:"indexed" yaml:"indexed"`
	Stored  int `json:"stored" yaml:"stored"`
	// Orphans are indexed ids with no live document.
	Orphans []string `json:"orphans" yaml:"orphans"`
	// Missing are live, indexable documents absent from the index.
	Missing []string `json:"missing" yaml:"missing"`
	// Unindexable are live documents whose bbox cannot be extracted.
	Unindexable []string `json:"unindexable" yaml:"unindexable"`
}

// Consistent reports whether the index matches a rebuild from the store.
func (r *Report) Consistent() bool {
	return len(r.Orphans) == 0 && len(r.Missing) == 0
}

// Verify compares the live index against a scratch rebuild from the store.
func (d *DB) Verify(ctx context.Context) (*Report, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	scratch, invalid, err := d.build(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "geodb: verify")
	}
	stored := entryIDs(scratch.All())
	live := entryIDs(d.tree.Load().All())

	report := &Report{
		Indexed:     len(live),
		Stored:      len(stored) + len(invalid),
		Orphans:     difference(live, stored),
		Missing:     difference(stored, live),
		Unindexable: invalid,
	}
	if report.Unindexable == nil {
		report.Unindexable = []string{}
	}
	if !report.Consistent() {
		d.log.Warn("index drift detected",
			zap.Int("orphans", len(report.Orphans)),
			zap.Int("missing", len(report.Missing)),
		)
	}
	return report, nil
}

// Get reads a live document from the store.
func (d *DB) Get(ctx context.Context, id string) (*feature.Feature, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return d.store.Get(ctx, id)
}

// IndexedIDs returns the ids currently in the index, sorted.
func (d *DB) IndexedIDs() []string {
	return entryIDs(d.tree.Load().All())
}

// Len returns the number of indexed entries.
func (d *DB) Len() int {
	return d.tree.Load().Len()
}

// Close empties the index. The store is left open.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tree.Load().Clear()
	return nil
}

// lock acquires the mutation lock, failing if Close ran while waiting.
func (d *DB) lock() error {
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (d *DB) checkOpen() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return nil
}

func entryIDs(entries []rtree.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	slices.Sort(out)
	return out
}

// difference returns the members of sorted a that are not in sorted b.
func difference(a, b []string) []string {
	out := []string{}
	j := 0
	for _, id := range a {
		for j < len(b) && b[j] < id {
			j++
		}
		if j < len(b) && b[j] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

// dropEntry removes id from the index after its document was deleted. A
// failure leaves a dangling entry that queries never return, because
// hydration skips deleted documents.
func (d *DB) dropEntry(tree *rtree.Tree, id string, bbox rtree.BBox) {
	ok, err := tree.Remove(id, bbox)
	switch {
	case err != nil:
		d.log.Warn("dangling index entry after store delete", zap.String("id", id), zap.Error(err))
	case !ok:
		d.log.Debug("deleted document was not indexed", zap.String("id", id))
	}
}

// navBox is the bbox used to find a document's index entry. Documents whose
// bbox cannot be re-derived navigate with World, which makes the tree fall
// back to the box it recorded at insert time.
func navBox(f *feature.Feature) rtree.BBox {
	bbox, err := feature.Extract(f)
	if err != nil {
		return rtree.World
	}
	return bbox
}

func errAlreadyIndexed(op, id string) error {
	return errs.NewIndexError(op, id, eris.Wrap(docstore.ErrConflict, "geodb: id already indexed, remove it first"))
}
