package rtree

import (
	"math"

	"github.com/rotisserie/eris"
)

// BBox is an axis-aligned bounding box.
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// World spans the whole plane. Searching with it visits every entry.
var World = BBox{
	MinX: math.Inf(-1),
	MinY: math.Inf(-1),
	MaxX: math.Inf(+1),
	MaxY: math.Inf(+1),
}

// empty is the identity for Extend: it intersects nothing.
func empty() BBox {
	return BBox{
		MinX: math.Inf(+1),
		MinY: math.Inf(+1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
}

// Finite reports whether all four bounds are finite numbers.
func (b BBox) Finite() bool {
	for _, v := range [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// validateEntryBox rejects boxes that cannot be stored in the tree.
func validateEntryBox(b BBox) error {
	if !b.Finite() {
		return eris.Errorf("rtree: non-finite bbox %v", b)
	}
	if b.MinX > b.MaxX || b.MinY > b.MaxY {
		return eris.Errorf("rtree: inverted bbox %v", b)
	}
	return nil
}

// validateProbeBox rejects boxes that cannot be used for navigation or search.
// Infinite bounds are allowed so that World works as a probe.
func validateProbeBox(b BBox) error {
	for _, v := range [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) {
			return eris.Errorf("rtree: NaN in bbox %v", b)
		}
	}
	if b.MinX > b.MaxX || b.MinY > b.MaxY {
		return eris.Errorf("rtree: inverted bbox %v", b)
	}
	return nil
}

// Intersects reports whether b and o overlap. Touching boundaries count.
func (b BBox) Intersects(o BBox) bool {
	return o.MinX <= b.MaxX && o.MinY <= b.MaxY &&
		o.MaxX >= b.MinX && o.MaxY >= b.MinY
}

// Contains reports whether o lies entirely inside b.
func (b BBox) Contains(o BBox) bool {
	return b.MinX <= o.MinX && b.MinY <= o.MinY &&
		o.MaxX <= b.MaxX && o.MaxY <= b.MaxY
}

// Extend gives the smallest box containing both b and o.
func (b BBox) Extend(o BBox) BBox {
	return BBox{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

func (b BBox) area() float64 {
	return (b.MaxX - b.MinX) * (b.MaxY - b.MinY)
}

func (b BBox) margin() float64 {
	return (b.MaxX - b.MinX) + (b.MaxY - b.MinY)
}

// intersectionArea is the area shared by b and o, zero when disjoint.
func (b BBox) intersectionArea(o BBox) float64 {
	minX := math.Max(b.MinX, o.MinX)
	minY := math.Max(b.MinY, o.MinY)
	maxX := math.Min(b.MaxX, o.MaxX)
	maxY := math.Min(b.MaxY, o.MaxY)
	return math.Max(0, maxX-minX) * math.Max(0, maxY-minY)
}
