package geodb

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/spatialdb/internal/docstore"
	"github.com/sells-group/spatialdb/internal/errs"
	"github.com/sells-group/spatialdb/internal/feature"
	"github.com/sells-group/spatialdb/internal/rtree"
)

// Add stores f and indexes it. Documents with an id are put, others are
// posted under a generated id. The bbox is extracted before anything is
// written; if the index insert still fails, the store write is undone: a
// new document is removed again and an updated one gets its previous body
// back.
func (d *DB) Add(ctx context.Context, f *feature.Feature, opts docstore.WriteOptions) (docstore.Result, error) {
	if f == nil {
		return docstore.Result{}, errs.NewExtractionError("", errors.New("nil feature"))
	}
	if err := d.lock(); err != nil {
		return docstore.Result{}, err
	}
	defer d.mu.Unlock()

	tree := d.tree.Load()
	if f.ID != "" && tree.Has(f.ID) {
		return docstore.Result{}, errAlreadyIndexed("add", f.ID)
	}
	bbox, err := feature.Extract(f)
	if err != nil {
		return docstore.Result{}, err
	}
	prior, err := d.current(ctx, f.ID)
	if err != nil {
		return docstore.Result{}, err
	}

	res, err := d.persist(ctx, f, opts)
	if err != nil {
		return docstore.Result{}, err
	}
	if err := tree.Insert(rtree.Entry{ID: res.ID, BBox: bbox}); err != nil {
		return docstore.Result{}, errs.WithRollback("add", err, d.unpersist(ctx, res, prior))
	}
	return res, nil
}

// current returns the live stored document for id, or nil when there is
// none.
func (d *DB) current(ctx context.Context, id string) (*feature.Feature, error) {
	if id == "" {
		return nil, nil
	}
	doc, err := d.store.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

func (d *DB) persist(ctx context.Context, f *feature.Feature, opts docstore.WriteOptions) (docstore.Result, error) {
	if f.ID != "" {
		return d.store.Put(ctx, f, opts)
	}
	return d.store.Post(ctx, f, opts)
}

// unpersist compensates a persist step. prior is the document the write
// replaced, nil if it created one.
func (d *DB) unpersist(ctx context.Context, res docstore.Result, prior *feature.Feature) error {
	d.log.Warn("compensating add", zap.String("id", res.ID), zap.String("rev", res.Rev), zap.Bool("restore", prior != nil))
	ctx = context.WithoutCancel(ctx)
	var err error
	if prior != nil {
		_, err = d.store.Put(ctx, restoreOf(prior, res.Rev), docstore.WriteOptions{})
	} else {
		_, err = d.store.Remove(ctx, &feature.Feature{ID: res.ID, Rev: res.Rev})
	}
	if err != nil {
		d.log.Error("add compensation failed", zap.String("id", res.ID), zap.Error(err))
	}
	return err
}

// restoreOf builds the write that puts prior's body back on top of rev.
func restoreOf(prior *feature.Feature, rev string) *feature.Feature {
	doc := prior.Clone()
	doc.Rev = rev
	doc.Deleted = false
	return doc
}

// Load bulk-writes fs, re-reads the written documents and bulk-loads them
// into the index. Every bbox is extracted up front and the call fails
// without writing if one cannot be. Per-document store failures are
// reported in the result slice and those documents are skipped. If
// re-reading or indexing fails, the written documents are reverted: new
// ones are soft-deleted and replaced ones get their previous body back.
func (d *DB) Load(ctx context.Context, fs []*feature.Feature, opts docstore.WriteOptions) ([]docstore.BulkResult, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	tree := d.tree.Load()
	results := make([]docstore.BulkResult, len(fs))
	batch := make([]*feature.Feature, 0, len(fs))
	slots := make([]int, 0, len(fs))
	var keys []string
	for i, f := range fs {
		if f != nil && f.ID != "" && tree.Has(f.ID) {
			results[i] = docstore.BulkResult{ID: f.ID, Err: errAlreadyIndexed("load", f.ID)}
			continue
		}
		if f != nil {
			if _, err := feature.Extract(f); err != nil {
				return nil, err
			}
			if f.ID != "" {
				keys = append(keys, f.ID)
			}
		}
		batch = append(batch, f)
		slots = append(slots, i)
	}
	if len(batch) == 0 {
		return results, nil
	}
	priors, err := d.currentBatch(ctx, keys)
	if err != nil {
		return nil, err
	}

	written, err := d.store.Bulk(ctx, batch, opts)
	if err != nil {
		return nil, err
	}
	var ok []docstore.BulkResult
	for j, r := range written {
		results[slots[j]] = r
		if r.OK() {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return results, nil
	}

	entries, err := d.refetch(ctx, ok)
	if err == nil {
		err = tree.Load(entries)
	}
	if err != nil {
		return nil, errs.WithRollback("load", err, d.revertBatch(ctx, ok, priors))
	}
	return results, nil
}

// currentBatch returns the live stored documents among keys, by id.
func (d *DB) currentBatch(ctx context.Context, keys []string) (map[string]*feature.Feature, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := d.store.AllDocs(ctx, docstore.AllDocsOptions{Keys: keys, IncludeDocs: true})
	if err != nil {
		return nil, err
	}
	priors := make(map[string]*feature.Feature)
	for _, row := range rows {
		if row.Err == nil && !row.Deleted && row.Doc != nil {
			priors[row.ID] = row.Doc
		}
	}
	return priors, nil
}

// refetch reads back every written document concurrently and extracts its
// index entry.
func (d *DB) refetch(ctx context.Context, written []docstore.BulkResult) ([]rtree.Entry, error) {
	entries := make([]rtree.Entry, len(written))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.RefetchConcurrency)

	for i, r := range written {
		g.Go(func() error {
			doc, err := d.store.Get(gctx, r.ID)
			if err != nil {
				return err
			}
			bbox, err := feature.Extract(doc)
			if err != nil {
				return err
			}
			entries[i] = rtree.Entry{ID: r.ID, BBox: bbox}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// revertBatch compensates a bulk persist step.
func (d *DB) revertBatch(ctx context.Context, written []docstore.BulkResult, priors map[string]*feature.Feature) error {
	d.log.Warn("compensating load", zap.Int("documents", len(written)), zap.Int("restored", len(priors)))
	docs := make([]*feature.Feature, len(written))
	for i, r := range written {
		if prior, ok := priors[r.ID]; ok {
			docs[i] = restoreOf(prior, r.Rev)
			continue
		}
		docs[i] = &feature.Feature{ID: r.ID, Rev: r.Rev, Deleted: true}
	}
	results, err := d.store.Bulk(context.WithoutCancel(ctx), docs, docstore.WriteOptions{})
	if err != nil {
		d.log.Error("load compensation failed", zap.Error(err))
		return err
	}
	var failed []error
	for _, r := range results {
		if !r.OK() {
			failed = append(failed, r.Err)
		}
	}
	if len(failed) > 0 {
		d.log.Error("load compensation incomplete", zap.Int("failed", len(failed)))
		return errors.Join(failed...)
	}
	return nil
}

// Remove deletes the document from the store, then drops its index entry.
// The store delete is not undone when the index step fails.
func (d *DB) Remove(ctx context.Context, id string) (docstore.Result, error) {
	if err := d.lock(); err != nil {
		return docstore.Result{}, err
	}
	defer d.mu.Unlock()

	doc, err := d.store.Get(ctx, id)
	if err != nil {
		return docstore.Result{}, err
	}
	bbox := navBox(doc)
	res, err := d.store.Remove(ctx, doc)
	if err != nil {
		return docstore.Result{}, err
	}
	d.dropEntry(d.tree.Load(), id, bbox)
	return res, nil
}

// Unload soft-deletes the given documents in one bulk write and drops their
// index entries. Results follow the order of ids; unknown or already
// deleted ids fail with docstore.ErrNotFound.
func (d *DB) Unload(ctx context.Context, ids []string) ([]docstore.BulkResult, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []docstore.BulkResult{}, nil
	}
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	rows, err := d.store.AllDocs(ctx, docstore.AllDocsOptions{Keys: ids, IncludeDocs: true})
	if err != nil {
		return nil, err
	}

	results := make([]docstore.BulkResult, len(rows))
	tombstones := make([]*feature.Feature, 0, len(rows))
	boxes := make([]rtree.BBox, 0, len(rows))
	slots := make([]int, 0, len(rows))
	for i, row := range rows {
		switch {
		case row.Err != nil:
			results[i] = docstore.BulkResult{ID: row.ID, Err: row.Err}
		case row.Deleted || row.Doc == nil:
			results[i] = docstore.BulkResult{ID: row.ID, Err: errs.NewStoreError("unload", row.ID, docstore.ErrNotFound)}
		default:
			tombstones = append(tombstones, &feature.Feature{ID: row.ID, Rev: row.Rev, Deleted: true})
			boxes = append(boxes, navBox(row.Doc))
			slots = append(slots, i)
		}
	}
	if len(tombstones) == 0 {
		return results, nil
	}

	written, err := d.store.Bulk(ctx, tombstones, docstore.WriteOptions{})
	if err != nil {
		return nil, err
	}
	tree := d.tree.Load()
	for j, r := range written {
		results[slots[j]] = r
		if r.OK() {
			d.dropEntry(tree, r.ID, boxes[j])
		}
	}
	return results, nil
}
