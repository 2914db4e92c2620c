package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/spatialdb/internal/errs"
)

func box(minX, minY, maxX, maxY float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
}

func line(coords ...float64) *geom.LineString {
	return geom.NewLineStringFlat(geom.XY, coords)
}

func point(x, y float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{x, y})
}

func TestEvaluate(t *testing.T) {
	square := box(0, 0, 10, 10)
	inner := box(2, 2, 4, 4)
	neighbour := box(10, 0, 20, 10)
	shifted := box(5, 5, 15, 15)
	far := box(50, 50, 60, 60)
	rotated := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{10, 10}, {0, 10}, {0, 0}, {10, 0}, {10, 10},
	}})
	through := line(-5, 5, 15, 5)

	tests := []struct {
		name string
		rel  Relation
		a, b geom.T
		want bool
	}{
		{"square contains inner", Contains, square, inner, true},
		{"inner does not contain square", Contains, inner, square, false},
		{"inner within square", Within, inner, square, true},
		{"square covers inner", Covers, square, inner, true},
		{"inner coveredby square", CoveredBy, inner, square, true},
		{"boundary point not contained", Contains, square, point(10, 5), false},
		{"boundary point covered", Covers, square, point(10, 5), true},
		{"boundary point coveredby", CoveredBy, point(10, 5), square, true},
		{"interior point contained", Contains, square, point(5, 5), true},
		{"shared edge touches", Touches, square, neighbour, true},
		{"shared edge intersects", Intersects, square, neighbour, true},
		{"shared edge does not overlap", Overlaps, square, neighbour, false},
		{"shifted overlaps", Overlaps, square, shifted, true},
		{"shifted does not touch", Touches, square, shifted, false},
		{"far disjoint", Disjoint, square, far, true},
		{"far does not intersect", Intersects, square, far, false},
		{"near not disjoint", Disjoint, square, neighbour, false},
		{"same ring different start equals", Equals, square, rotated, true},
		{"different boxes not equal", Equals, square, inner, false},
		{"line crosses polygon", Crosses, through, square, true},
		{"polygon crossed by line", Crosses, square, through, true},
		{"lines cross at a point", Crosses, line(0, 0, 10, 10), line(0, 10, 10, 0), true},
		{"collinear lines overlap", Overlaps, line(0, 0, 10, 0), line(5, 0, 15, 0), true},
		{"polygons never cross", Crosses, square, shifted, false},
		{"points never touch", Touches, point(1, 1), point(1, 1), false},
		{"point equals itself", Equals, point(1, 1), point(1, 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.rel, tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_SelfCoverage(t *testing.T) {
	square := box(0, 0, 10, 10)
	for _, rel := range []Relation{Equals, Covers, CoveredBy, Contains, Within, Intersects} {
		got, err := Evaluate(rel, square, square)
		require.NoError(t, err)
		assert.True(t, got, rel.String())
	}
}

func TestEvaluate_RejectsEmptyAndInvalid(t *testing.T) {
	bowtie := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{0, 0}, {10, 10}, {10, 0}, {0, 10}, {0, 0},
	}})
	cases := map[string]geom.T{
		"nil":           nil,
		"empty polygon": geom.NewPolygon(geom.XY),
		"self-crossing": bowtie,
	}
	for name, g := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Evaluate(Intersects, box(0, 0, 1, 1), g)
			require.Error(t, err)
			assert.True(t, errs.IsKind[*errs.PredicateError](err))
		})
	}
}

func TestEvaluate_UnknownRelation(t *testing.T) {
	_, err := Evaluate(Relation(99), point(0, 0), point(0, 0))
	require.Error(t, err)
	assert.True(t, errs.IsKind[*errs.UnknownRelationError](err))
}

func TestParseRelation(t *testing.T) {
	for _, r := range All {
		got, err := ParseRelation(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	got, err := ParseRelation("coveredBy")
	require.NoError(t, err)
	assert.Equal(t, CoveredBy, got)

	got, err = ParseRelation(" Covered_By ")
	require.NoError(t, err)
	assert.Equal(t, CoveredBy, got)

	_, err = ParseRelation("near")
	require.Error(t, err)
	assert.True(t, errs.IsKind[*errs.UnknownRelationError](err))
	assert.Equal(t, "unknown", Relation(0).String())
}
