// Package feature defines the geometry-bearing document kept in the document
// store, its GeoJSON encoding, and bounding-box extraction.
package feature

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Feature is a stored document. The orchestrator only looks at ID and
// Geometry; Rev and Deleted belong to the store, Properties are opaque.
type Feature struct {
	ID       string
	Rev      string
	Deleted  bool
	Geometry geom.T
	// BBox is an optional precomputed bounding box. When set it is trusted
	// as-is by Extract.
	BBox       *geom.Bounds
	Properties map[string]any
}

// document is the JSON layout of a stored Feature: a GeoJSON Feature with
// the store's _id, _rev and _deleted members alongside.
type document struct {
	ID         string          `json:"_id,omitempty"`
	Rev        string          `json:"_rev,omitempty"`
	Deleted    bool            `json:"_deleted,omitempty"`
	Type       string          `json:"type"`
	AltID      json.RawMessage `json:"id,omitempty"`
	BBox       []float64       `json:"bbox,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// MarshalJSON encodes f as a GeoJSON Feature.
func (f *Feature) MarshalJSON() ([]byte, error) {
	doc := document{
		ID:         f.ID,
		Rev:        f.Rev,
		Deleted:    f.Deleted,
		Type:       "Feature",
		Geometry:   json.RawMessage("null"),
		Properties: f.Properties,
	}
	if f.BBox != nil {
		doc.BBox = []float64{f.BBox.Min(0), f.BBox.Min(1), f.BBox.Max(0), f.BBox.Max(1)}
	}
	if f.Geometry != nil {
		data, err := geojson.Marshal(f.Geometry)
		if err != nil {
			return nil, eris.Wrap(err, "feature: marshal geometry")
		}
		doc.Geometry = data
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a GeoJSON Feature. The store id is read from _id,
// falling back to a string GeoJSON id.
func (f *Feature) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return eris.Wrap(err, "feature: unmarshal document")
	}
	if doc.Type != "" && doc.Type != "Feature" {
		return eris.Errorf("feature: unexpected type %q", doc.Type)
	}

	out := Feature{
		ID:         doc.ID,
		Rev:        doc.Rev,
		Deleted:    doc.Deleted,
		Properties: doc.Properties,
	}
	if out.ID == "" && len(doc.AltID) > 0 {
		var alt string
		if json.Unmarshal(doc.AltID, &alt) == nil {
			out.ID = alt
		}
	}
	if len(doc.BBox) > 0 {
		b, err := decodeBBox(doc.BBox)
		if err != nil {
			return err
		}
		out.BBox = b
	}
	if len(doc.Geometry) > 0 && string(doc.Geometry) != "null" {
		var g geom.T
		if err := geojson.Unmarshal(doc.Geometry, &g); err != nil {
			return eris.Wrap(err, "feature: unmarshal geometry")
		}
		out.Geometry = g
	}

	*f = out
	return nil
}

// decodeBBox accepts the 2D [minX, minY, maxX, maxY] and 3D
// [minX, minY, minZ, maxX, maxY, maxZ] GeoJSON bbox forms.
func decodeBBox(v []float64) (*geom.Bounds, error) {
	switch len(v) {
	case 4:
		return geom.NewBounds(geom.XY).Set(v[0], v[1], v[2], v[3]), nil
	case 6:
		return geom.NewBounds(geom.XY).Set(v[0], v[1], v[3], v[4]), nil
	default:
		return nil, eris.Errorf("feature: bbox must have 4 or 6 values, got %d", len(v))
	}
}

// Clone returns a copy of f that shares no mutable state with it, except
// the geometry, which is never mutated in place.
func (f *Feature) Clone() *Feature {
	out := *f
	if f.BBox != nil {
		out.BBox = f.BBox.Clone()
	}
	if f.Properties != nil {
		out.Properties = make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			out.Properties[k] = v
		}
	}
	return &out
}
