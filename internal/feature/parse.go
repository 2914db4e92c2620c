package feature

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Parse decodes any GeoJSON object into a Feature.
//
//   - A Feature decodes directly.
//   - A FeatureCollection becomes one Feature whose geometry is a
//     GeometryCollection of the members, so the collection is indexed as a
//     single entry. Member properties are kept under "features".
//   - A bare geometry becomes a Feature without properties.
func Parse(data []byte) (*Feature, error) {
	var head struct {
		Type string `json:"type"`
		ID   string `json:"_id"`
		Rev  string `json:"_rev"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "feature: parse geojson")
	}

	switch head.Type {
	case "Feature":
		var f Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return &f, nil

	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "feature: parse feature collection")
		}
		gc := geom.NewGeometryCollection()
		members := make([]any, 0, len(fc.Features))
		for i, m := range fc.Features {
			if m.Geometry == nil {
				return nil, eris.Errorf("feature: collection member %d has no geometry", i)
			}
			if err := gc.Push(m.Geometry); err != nil {
				return nil, eris.Wrapf(err, "feature: collection member %d", i)
			}
			members = append(members, m.Properties)
		}
		return &Feature{
			ID:         head.ID,
			Rev:        head.Rev,
			Geometry:   gc,
			BBox:       fc.BBox,
			Properties: map[string]any{"features": members},
		}, nil

	case "":
		return nil, eris.New("feature: geojson object has no type")

	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrapf(err, "feature: parse %s", head.Type)
		}
		return &Feature{ID: head.ID, Rev: head.Rev, Geometry: g}, nil
	}
}

// ParseGeometry decodes a query geometry. Features and collections are
// accepted too; only their geometry is kept.
func ParseGeometry(data []byte) (geom.T, error) {
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if f.Geometry == nil {
		return nil, eris.New("feature: query has no geometry")
	}
	return f.Geometry, nil
}

// ParseMany decodes a JSON array of GeoJSON objects.
func ParseMany(data []byte) ([]*Feature, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, eris.Wrap(err, "feature: parse array")
	}
	out := make([]*Feature, 0, len(raws))
	for i, raw := range raws {
		f, err := Parse(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "feature: element %d", i)
		}
		out = append(out, f)
	}
	return out, nil
}
