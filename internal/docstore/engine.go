package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/spatialdb/internal/errs"
	"github.com/sells-group/spatialdb/internal/feature"
)

// record is one stored row.
type record struct {
	ID      string
	Rev     string
	Deleted bool
	Body    []byte
}

// txn is the read-modify-write view a backend hands to the engine. Writes
// made through save are visible to later loads in the same txn.
type txn interface {
	load(ctx context.Context, id string) (*record, error)
	save(ctx context.Context, r record) error
}

// backend is the storage a Store is built on. update commits the writes of
// fn atomically, or none of them when fn returns an error.
type backend interface {
	update(ctx context.Context, fn func(tx txn) error) error
	fetch(ctx context.Context, ids []string) (map[string]record, error)
	scan(ctx context.Context) ([]record, error)
}

// engine implements the revision rules shared by every backend.
type engine struct {
	b backend
}

// Get returns the live document with the given id.
func (e *engine) Get(ctx context.Context, id string) (*feature.Feature, error) {
	if id == "" {
		return nil, errs.NewStoreError("get", "", ErrMissingID)
	}
	recs, err := e.b.fetch(ctx, []string{id})
	if err != nil {
		return nil, errs.NewStoreError("get", id, err)
	}
	r, ok := recs[id]
	if !ok || r.Deleted {
		return nil, errs.NewStoreError("get", id, ErrNotFound)
	}
	f, err := decode(r)
	if err != nil {
		return nil, errs.NewStoreError("get", id, err)
	}
	return f, nil
}

// Put creates or updates the document f.ID. Updating a live document
// requires f.Rev to be its current revision.
func (e *engine) Put(ctx context.Context, f *feature.Feature, opts WriteOptions) (Result, error) {
	if f == nil || f.ID == "" {
		return Result{}, errs.NewStoreError("put", "", ErrMissingID)
	}
	return e.single(ctx, "put", f, opts)
}

// Post creates a document under a freshly generated id.
func (e *engine) Post(ctx context.Context, f *feature.Feature, opts WriteOptions) (Result, error) {
	if f == nil {
		return Result{}, errs.NewStoreError("post", "", eris.New("nil document"))
	}
	doc := f.Clone()
	doc.ID = uuid.NewString()
	return e.single(ctx, "post", doc, opts)
}

// Remove writes a tombstone for f. f.Rev must be the current revision.
func (e *engine) Remove(ctx context.Context, f *feature.Feature) (Result, error) {
	if f == nil || f.ID == "" {
		return Result{}, errs.NewStoreError("remove", "", ErrMissingID)
	}
	doc := f.Clone()
	doc.Deleted = true
	return e.single(ctx, "remove", doc, WriteOptions{})
}

func (e *engine) single(ctx context.Context, op string, f *feature.Feature, opts WriteOptions) (Result, error) {
	var res Result
	err := e.b.update(ctx, func(tx txn) error {
		r, err := write(ctx, tx, f, opts)
		res = r
		return err
	})
	if err != nil {
		return Result{}, errs.NewStoreError(op, f.ID, err)
	}
	return res, nil
}

// Bulk writes every document in one transaction and reports a result per
// input, in input order. Revision conflicts fail only their own entry;
// storage failures fail the whole call and nothing is written.
func (e *engine) Bulk(ctx context.Context, fs []*feature.Feature, opts WriteOptions) ([]BulkResult, error) {
	out := make([]BulkResult, len(fs))
	err := e.b.update(ctx, func(tx txn) error {
		for i, f := range fs {
			if f == nil {
				out[i] = BulkResult{Err: errs.NewStoreError("bulk", "", ErrMissingID)}
				continue
			}
			doc := f
			if doc.ID == "" && !doc.Deleted {
				doc = f.Clone()
				doc.ID = uuid.NewString()
			}
			if doc.ID == "" {
				out[i] = BulkResult{Err: errs.NewStoreError("bulk", "", ErrMissingID)}
				continue
			}
			res, err := write(ctx, tx, doc, opts)
			switch {
			case err == nil:
				out[i] = BulkResult{ID: res.ID, Rev: res.Rev}
			case isDocumentError(err):
				out[i] = BulkResult{ID: doc.ID, Err: errs.NewStoreError("bulk", doc.ID, err)}
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.NewStoreError("bulk", "", err)
	}
	return out, nil
}

// AllDocs lists documents by key or, without keys, every live document in
// id order.
func (e *engine) AllDocs(ctx context.Context, opts AllDocsOptions) ([]Row, error) {
	if opts.Keys == nil {
		recs, err := e.b.scan(ctx)
		if err != nil {
			return nil, errs.NewStoreError("alldocs", "", err)
		}
		rows := make([]Row, 0, len(recs))
		for _, r := range recs {
			row, err := toRow(r, opts.IncludeDocs)
			if err != nil {
				return nil, errs.NewStoreError("alldocs", r.ID, err)
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	recs, err := e.b.fetch(ctx, opts.Keys)
	if err != nil {
		return nil, errs.NewStoreError("alldocs", "", err)
	}
	rows := make([]Row, 0, len(opts.Keys))
	for _, key := range opts.Keys {
		r, ok := recs[key]
		if !ok {
			rows = append(rows, Row{ID: key, Err: errs.NewStoreError("alldocs", key, ErrNotFound)})
			continue
		}
		row, err := toRow(r, opts.IncludeDocs)
		if err != nil {
			return nil, errs.NewStoreError("alldocs", key, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func toRow(r record, includeDocs bool) (Row, error) {
	row := Row{ID: r.ID, Rev: r.Rev, Deleted: r.Deleted}
	if includeDocs && !r.Deleted {
		f, err := decode(r)
		if err != nil {
			return Row{}, err
		}
		row.Doc = f
	}
	return row, nil
}

// write applies the revision rules for f against the current row and saves
// the new row.
func write(ctx context.Context, tx txn, f *feature.Feature, opts WriteOptions) (Result, error) {
	cur, err := tx.load(ctx, f.ID)
	if err != nil {
		return Result{}, err
	}
	rev, err := nextRev(cur, f, opts)
	if err != nil {
		return Result{}, err
	}

	doc := f.Clone()
	doc.Rev = rev
	if doc.Deleted {
		doc.Geometry, doc.BBox, doc.Properties = nil, nil, nil
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return Result{}, eris.Wrap(err, "docstore: marshal document")
	}
	if err := tx.save(ctx, record{ID: doc.ID, Rev: rev, Deleted: doc.Deleted, Body: body}); err != nil {
		return Result{}, err
	}
	return Result{ID: doc.ID, Rev: rev}, nil
}

// nextRev validates f.Rev against cur (nil when the id was never written)
// and returns the revision to store.
func nextRev(cur *record, f *feature.Feature, opts WriteOptions) (string, error) {
	if opts.KeepRevs {
		if _, ok := revGeneration(f.Rev); !ok {
			return "", ErrBadRev
		}
		return f.Rev, nil
	}

	switch {
	case cur == nil:
		if f.Deleted {
			return "", ErrNotFound
		}
		if f.Rev != "" {
			return "", ErrConflict
		}
		return newRev(1), nil
	case cur.Deleted:
		if f.Deleted {
			return "", ErrNotFound
		}
		if f.Rev != "" && f.Rev != cur.Rev {
			return "", ErrConflict
		}
	default:
		if f.Rev != cur.Rev {
			return "", ErrConflict
		}
	}
	gen, _ := revGeneration(cur.Rev)
	return newRev(gen + 1), nil
}

func newRev(gen int) string {
	return fmt.Sprintf("%d-%s", gen, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// revGeneration parses the generation prefix of a "<gen>-<hash>" revision.
func revGeneration(rev string) (int, bool) {
	prefix, hash, ok := strings.Cut(rev, "-")
	if !ok || hash == "" {
		return 0, false
	}
	gen, err := strconv.Atoi(prefix)
	if err != nil || gen < 1 {
		return 0, false
	}
	return gen, true
}

func isDocumentError(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMissingID) || errors.Is(err, ErrBadRev)
}

func decode(r record) (*feature.Feature, error) {
	var f feature.Feature
	if err := json.Unmarshal(r.Body, &f); err != nil {
		return nil, eris.Wrapf(err, "docstore: decode %s", r.ID)
	}
	f.ID, f.Rev, f.Deleted = r.ID, r.Rev, r.Deleted
	return &f, nil
}
