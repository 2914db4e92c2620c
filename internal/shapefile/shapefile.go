// Package shapefile converts ESRI shapefiles into features ready for a bulk
// load.
package shapefile

import (
	"slices"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/spatialdb/internal/feature"
)

// Options controls how records become features.
type Options struct {
	// Encoding is the DBF attribute charset, as named by the WHATWG encoding
	// index ("utf-8", "windows-1252", "iso-8859-1", ...). Empty means utf-8.
	Encoding string
	// IDField names the attribute used as the document id. Read fails if the
	// attribute table lacks it. Records without a value are left without an
	// id and get one generated on load.
	IDField string
}

// Read returns one feature per record of the shapefile at path. Records
// with a null or unsupported shape are skipped.
func Read(path string, opts Options) ([]*feature.Feature, error) {
	dec, err := decoder(opts.Encoding)
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}
	if opts.IDField != "" && !slices.Contains(names, opts.IDField) {
		return nil, eris.Errorf("shapefile: %s has no attribute %q (%d fields read from the .dbf)", path, opts.IDField, len(names))
	}

	var out []*feature.Feature
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		g := Geometry(shape)
		if g == nil {
			skipped++
			continue
		}

		props := make(map[string]any, len(fields))
		for i, f := range fields {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if raw == "" {
				continue
			}
			val, err := dec.String(raw)
			if err != nil {
				return nil, eris.Wrapf(err, "shapefile: decode %s of record %d", names[i], n)
			}
			props[names[i]] = attribute(f.Fieldtype, val)
		}

		feat := &feature.Feature{Geometry: g, Properties: props}
		if opts.IDField != "" {
			if id, ok := props[opts.IDField]; ok {
				feat.ID = asString(id)
			}
		}
		out = append(out, feat)
	}

	if skipped > 0 {
		zap.L().Debug("shapefile: skipped records without geometry",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

func decoder(name string) (*encoding.Decoder, error) {
	if name == "" {
		name = "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: unsupported encoding %q", name)
	}
	return enc.NewDecoder(), nil
}

// attribute types a DBF value: numeric columns become float64 when they
// parse, everything else stays a string.
func attribute(fieldType byte, val string) any {
	if fieldType == 'N' || fieldType == 'F' {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return val
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// Geometry converts a go-shp shape to a go-geom geometry. It returns nil for
// nil, empty or unsupported shapes.
func Geometry(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		if len(s.Points) == 0 {
			return nil
		}
		return geom.NewMultiPointFlat(geom.XY, flatCoords(s.Points))
	case *shp.PolyLine:
		return lines(parts(s.Parts, s.Points))
	case *shp.Polygon:
		return polygons(parts(s.Parts, s.Points))
	default:
		return nil
	}
}

// parts splits a shape's point array at its part offsets.
func parts(offsets []int32, points []shp.Point) [][]shp.Point {
	var out [][]shp.Point
	for i, start := range offsets {
		end := int32(len(points))
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if start < 0 || start >= end || int(end) > len(points) {
			continue
		}
		out = append(out, points[start:end])
	}
	return out
}

func lines(ps [][]shp.Point) geom.T {
	var valid [][]shp.Point
	for _, p := range ps {
		if len(p) >= 2 {
			valid = append(valid, p)
		}
	}
	switch len(valid) {
	case 0:
		return nil
	case 1:
		return geom.NewLineStringFlat(geom.XY, flatCoords(valid[0]))
	}
	mls := geom.NewMultiLineString(geom.XY)
	for _, p := range valid {
		if err := mls.Push(geom.NewLineStringFlat(geom.XY, flatCoords(p))); err != nil {
			zap.L().Debug("shapefile: skipping malformed line part", zap.Error(err))
		}
	}
	return mls
}

// polygons groups rings into polygons. Shapefile outer rings run clockwise
// and holes counter-clockwise; a hole belongs to the outer ring before it.
func polygons(rings [][]shp.Point) geom.T {
	var polys []*geom.Polygon
	for _, ring := range rings {
		if len(ring) < 4 {
			continue
		}
		lr := geom.NewLinearRingFlat(geom.XY, flatCoords(ring))
		if signedArea(ring) <= 0 || len(polys) == 0 {
			p := geom.NewPolygon(geom.XY)
			if err := p.Push(lr); err != nil {
				zap.L().Debug("shapefile: skipping malformed ring", zap.Error(err))
				continue
			}
			polys = append(polys, p)
			continue
		}
		if err := polys[len(polys)-1].Push(lr); err != nil {
			zap.L().Debug("shapefile: skipping malformed hole", zap.Error(err))
		}
	}

	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range polys {
		if err := mp.Push(p); err != nil {
			zap.L().Debug("shapefile: skipping malformed polygon part", zap.Error(err))
		}
	}
	return mp
}

// signedArea is positive for counter-clockwise rings.
func signedArea(ring []shp.Point) float64 {
	var sum float64
	for i := 0; i+1 < len(ring); i++ {
		sum += ring[i].X*ring[i+1].Y - ring[i+1].X*ring[i].Y
	}
	return sum / 2
}

func flatCoords(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}
