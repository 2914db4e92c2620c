package feature

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/spatialdb/internal/errs"
	"github.com/sells-group/spatialdb/internal/rtree"
)

// Extract derives the index bbox of a feature. A precomputed BBox is trusted
// as-is (it may be coarser than the geometry); otherwise the minimal box
// over all coordinates is computed.
func Extract(f *Feature) (rtree.BBox, error) {
	if f == nil {
		return rtree.BBox{}, errs.NewExtractionError("", eris.New("feature: nil feature"))
	}
	if f.BBox != nil {
		b := fromBounds(f.BBox)
		if err := checkBox(b); err != nil {
			return rtree.BBox{}, errs.NewExtractionError(f.ID, eris.Wrap(err, "feature: precomputed bbox"))
		}
		return b, nil
	}
	b, err := BBoxOf(f.Geometry)
	if err != nil {
		return rtree.BBox{}, errs.NewExtractionError(f.ID, err)
	}
	return b, nil
}

// BBoxOf computes the minimal bbox of g, recursing into geometry
// collections.
func BBoxOf(g geom.T) (rtree.BBox, error) {
	if g == nil {
		return rtree.BBox{}, eris.New("feature: missing geometry")
	}
	b, ok := bounds(g)
	if !ok {
		return rtree.BBox{}, eris.New("feature: empty geometry")
	}
	if err := checkBox(b); err != nil {
		return rtree.BBox{}, err
	}
	return b, nil
}

// bounds returns false when g has no coordinates at all.
func bounds(g geom.T) (rtree.BBox, bool) {
	gc, ok := g.(*geom.GeometryCollection)
	if !ok {
		if len(g.FlatCoords()) == 0 {
			return rtree.BBox{}, false
		}
		return fromBounds(g.Bounds()), true
	}

	var out rtree.BBox
	found := false
	for _, member := range gc.Geoms() {
		b, ok := bounds(member)
		if !ok {
			continue
		}
		if !found {
			out, found = b, true
			continue
		}
		out = out.Extend(b)
	}
	return out, found
}

func fromBounds(b *geom.Bounds) rtree.BBox {
	return rtree.BBox{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

func checkBox(b rtree.BBox) error {
	if !b.Finite() {
		return eris.Errorf("feature: non-finite bbox %v", b)
	}
	if b.MinX > b.MaxX || b.MinY > b.MaxY {
		return eris.Errorf("feature: inverted bbox %v", b)
	}
	return nil
}
