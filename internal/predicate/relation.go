// Package predicate evaluates the binary topological relations between two
// geometries from their DE-9IM intersection matrix.
package predicate

import (
	"strings"

	"github.com/sells-group/spatialdb/internal/errs"
)

// Relation is one of the ten supported topological relations.
type Relation int

const (
	Contains Relation = iota + 1
	CoveredBy
	Covers
	Crosses
	Disjoint
	Equals
	Intersects
	Overlaps
	Touches
	Within
)

// All lists every relation in name order.
var All = []Relation{Contains, CoveredBy, Covers, Crosses, Disjoint, Equals, Intersects, Overlaps, Touches, Within}

var names = map[Relation]string{
	Contains:   "contains",
	CoveredBy:  "coveredby",
	Covers:     "covers",
	Crosses:    "crosses",
	Disjoint:   "disjoint",
	Equals:     "equals",
	Intersects: "intersects",
	Overlaps:   "overlaps",
	Touches:    "touches",
	Within:     "within",
}

// String returns the lower-case relation name.
func (r Relation) String() string {
	if n, ok := names[r]; ok {
		return n
	}
	return "unknown"
}

// Valid reports whether r is one of the supported relations.
func (r Relation) Valid() bool {
	_, ok := names[r]
	return ok
}

// ParseRelation maps a relation name to the closed set. Matching ignores case
// and underscores, so "coveredBy" and "covered_by" both resolve.
func ParseRelation(name string) (Relation, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "")
	for r, n := range names {
		if n == key {
			return r, nil
		}
	}
	return 0, &errs.UnknownRelationError{Name: name}
}
