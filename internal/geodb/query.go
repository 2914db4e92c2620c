package geodb

import (
	"context"
	"errors"
	"slices"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/spatialdb/internal/docstore"
	"github.com/sells-group/spatialdb/internal/errs"
	"github.com/sells-group/spatialdb/internal/feature"
	"github.com/sells-group/spatialdb/internal/predicate"
	"github.com/sells-group/spatialdb/internal/rtree"
)

// Query returns the ids of the indexed documents g for which "q REL g"
// holds, in id order.
//
// The index narrows the candidates to those whose bbox intersects the
// bbox of q. Disjoint cannot be narrowed that way, since a feature far
// away from q is exactly what it looks for, so it scans every entry.
func (d *DB) Query(ctx context.Context, rel predicate.Relation, q geom.T) ([]string, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if !rel.Valid() {
		return nil, &errs.UnknownRelationError{Name: rel.String()}
	}
	if q == nil {
		return nil, errs.NewExtractionError("", errors.New("query has no geometry"))
	}

	probe := rtree.World
	if rel != predicate.Disjoint {
		bbox, err := feature.Extract(&feature.Feature{Geometry: q})
		if err != nil {
			return nil, err
		}
		probe = bbox
	}

	candidates := d.tree.Load().Search(probe)
	if len(candidates) == 0 {
		return []string{}, nil
	}
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.ID
	}
	slices.Sort(keys)

	rows, err := d.store.AllDocs(ctx, docstore.AllDocsOptions{Keys: keys, IncludeDocs: true})
	if err != nil {
		return nil, err
	}

	matches := []string{}
	for _, row := range rows {
		if row.Err != nil || row.Deleted || row.Doc == nil {
			d.log.Debug("skipping candidate without live document", zap.String("id", row.ID))
			continue
		}
		ok, err := predicate.Evaluate(rel, q, row.Doc.Geometry)
		if err != nil {
			var pe *errs.PredicateError
			if errors.As(err, &pe) {
				pe.ID = row.ID
			}
			return nil, err
		}
		if ok {
			matches = append(matches, row.ID)
		}
	}
	return matches, nil
}

// Contains returns the documents q contains.
func (d *DB) Contains(ctx context.Context, q geom.T) ([]string, error) {
	return d.Query(ctx, predicate.Contains, q)
}

// CoveredBy returns the documents q is covered by.
func (d *DB) CoveredBy(ctx context.Context, q geom.T) ([]string, error) {
	return d.Query(ctx, predicate.CoveredBy, q)
}

// Covers returns the documents q covers.
func (d *DB) Covers(ctx context.Context, q geom.T) ([]string, error) {
	return d.Query(ctx, predicate.Covers, q)
}

// Crosses returns the documents q crosses.
func (d *DB) Crosses(ctx context.Context, q geom.T) ([]string, error) {
	return d.Query(ctx, predicate.Crosses, q)
}

// Disjoint returns the documents q shares no point with.
func (d *DB) Disjoint(ctx context.Context, q geom.T) ([]string, error) {
	return d.Query(ctx, predicate.Disjoint, q)
}

// Equals returns the documents topologically equal to q.
func (d *DB) Equals(ctx context.Context, q geom.T) ([]string, error) {
	return d.Query(ctx, predicate.Equals, q)
}

// Intersects returns the documents q shares at least one point with.
func (d *DB) Intersects(ctx context.Context, q geom.T) ([]string, error) {
	return d.Query(ctx, predicate.Intersects, q)
}

// Overlaps returns the documents q overlaps.
func (d *DB) Overlaps(ctx context.Context, q geom.T) ([]string, error) {
	return d.Query(ctx, predicate.Overlaps, q)
}

// Touches returns the documents q touches.
func (d *DB) Touches(ctx context.Context, q geom.T) ([]string, error) {
	return d.Query(ctx, predicate.Touches, q)
}

// Within returns the documents q lies within.
func (d *DB) Within(ctx context.Context, q geom.T) ([]string, error) {
	return d.Query(ctx, predicate.Within, q)
}
