// Package docstore persists features as revisioned JSON documents. Deletes
// are soft: a tombstone row keeps the id and its revision history.
package docstore

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/spatialdb/internal/feature"
)

// Sentinel failures. They are always delivered inside a *errs.StoreError.
var (
	ErrNotFound  = eris.New("document not found")
	ErrConflict  = eris.New("document update conflict")
	ErrMissingID = eris.New("document id is required")
	ErrBadRev    = eris.New("malformed revision")
)

// Result is the outcome of a single write.
type Result struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// BulkResult is the outcome of one entry of a Bulk write. Err is nil when
// the entry was written.
type BulkResult struct {
	ID  string
	Rev string
	Err error
}

// OK reports whether the entry was written.
func (r BulkResult) OK() bool { return r.Err == nil }

// Row is one AllDocs result. Doc is only set when IncludeDocs was requested
// and the document is live.
type Row struct {
	ID      string
	Rev     string
	Deleted bool
	Doc     *feature.Feature
	Err     error
}

// WriteOptions tunes revision handling.
type WriteOptions struct {
	// KeepRevs stores the caller's revision verbatim instead of generating
	// the next one. Used when replaying documents from another store.
	KeepRevs bool
}

// AllDocsOptions selects the rows returned by AllDocs.
type AllDocsOptions struct {
	// Keys restricts the result to these ids, in this order. Unknown ids
	// yield a row with ErrNotFound. A nil Keys enumerates every live
	// document in id order.
	Keys        []string
	IncludeDocs bool
}

// Store is the document store contract the spatial index is kept
// consistent with.
type Store interface {
	Get(ctx context.Context, id string) (*feature.Feature, error)
	Put(ctx context.Context, f *feature.Feature, opts WriteOptions) (Result, error)
	Post(ctx context.Context, f *feature.Feature, opts WriteOptions) (Result, error)
	Bulk(ctx context.Context, fs []*feature.Feature, opts WriteOptions) ([]BulkResult, error)
	Remove(ctx context.Context, f *feature.Feature) (Result, error)
	AllDocs(ctx context.Context, opts AllDocsOptions) ([]Row, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
