package predicate

import (
	sf "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/spatialdb/internal/errs"
)

// Intersection matrix patterns. A relation holds when any pattern of its
// set matches.
var (
	equalsPatterns    = []string{"T*F**FFF*"}
	disjointPatterns  = []string{"FF*FF****"}
	touchesPatterns   = []string{"FT*******", "F**T*****", "F***T****"}
	withinPatterns    = []string{"T*F**F***"}
	containsPatterns  = []string{"T*****FF*"}
	coversPatterns    = []string{"T*****FF*", "*T****FF*", "***T**FF*", "****T*FF*"}
	coveredByPatterns = []string{"T*F**F***", "*TF**F***", "**FT*F***", "**F*TF***"}
)

// Evaluate reports whether a REL b holds. Empty or invalid geometries fail
// with a *errs.PredicateError instead of yielding false.
func Evaluate(rel Relation, a, b geom.T) (bool, error) {
	if !rel.Valid() {
		return false, &errs.UnknownRelationError{Name: rel.String()}
	}
	ok, err := evaluate(rel, a, b)
	if err != nil {
		return false, errs.NewPredicateError(rel.String(), "", err)
	}
	return ok, nil
}

func evaluate(rel Relation, a, b geom.T) (bool, error) {
	ga, err := convert(a)
	if err != nil {
		return false, eris.Wrap(err, "predicate: first geometry")
	}
	gb, err := convert(b)
	if err != nil {
		return false, eris.Wrap(err, "predicate: second geometry")
	}

	matrix, err := sf.Relate(ga, gb)
	if err != nil {
		return false, eris.Wrap(err, "predicate: relate")
	}
	return match(rel, matrix, ga.Dimension(), gb.Dimension())
}

func match(rel Relation, matrix string, dimA, dimB int) (bool, error) {
	switch rel {
	case Equals:
		return matchAny(matrix, equalsPatterns)
	case Disjoint:
		return matchAny(matrix, disjointPatterns)
	case Intersects:
		disjoint, err := matchAny(matrix, disjointPatterns)
		return !disjoint, err
	case Touches:
		if dimA == 0 && dimB == 0 {
			return false, nil
		}
		return matchAny(matrix, touchesPatterns)
	case Within:
		return matchAny(matrix, withinPatterns)
	case Contains:
		return matchAny(matrix, containsPatterns)
	case Covers:
		return matchAny(matrix, coversPatterns)
	case CoveredBy:
		return matchAny(matrix, coveredByPatterns)
	case Crosses:
		switch {
		case dimA < dimB:
			return matchAny(matrix, []string{"T*T******"})
		case dimA > dimB:
			return matchAny(matrix, []string{"T*****T**"})
		case dimA == 1:
			return matchAny(matrix, []string{"0********"})
		default:
			return false, nil
		}
	case Overlaps:
		switch {
		case dimA != dimB:
			return false, nil
		case dimA == 1:
			return matchAny(matrix, []string{"1*T***T**"})
		default:
			return matchAny(matrix, []string{"T*T***T**"})
		}
	}
	return false, &errs.UnknownRelationError{Name: rel.String()}
}

func matchAny(matrix string, patterns []string) (bool, error) {
	for _, p := range patterns {
		ok, err := sf.RelateMatches(matrix, p)
		if err != nil {
			return false, eris.Wrapf(err, "predicate: match %s", p)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// convert re-encodes a go-geom geometry as a validated simplefeatures
// geometry.
func convert(g geom.T) (sf.Geometry, error) {
	if g == nil {
		return sf.Geometry{}, eris.New("missing geometry")
	}
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "encode wkb")
	}
	out, err := sf.UnmarshalWKB(data)
	if err != nil {
		return sf.Geometry{}, eris.Wrap(err, "invalid geometry")
	}
	if out.IsEmpty() {
		return sf.Geometry{}, eris.New("empty geometry")
	}
	return out, nil
}
