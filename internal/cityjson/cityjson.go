// Package cityjson parses CityJSON 1.x documents and extracts per-building
// records for the height database pipeline. Only the transform's
// scale-and-translate is applied to vertices; coordinate system conversions
// happen upstream.
package cityjson

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed wraps any structural problem in a document. Extraction errors
// are fatal to the pipeline run that triggered them.
var ErrMalformed = errors.New("malformed cityjson")

// Transform dequantizes vertex coordinates.
type Transform struct {
	Scale     [3]float64 `json:"scale"`
	Translate [3]float64 `json:"translate"`
}

// GeometryObject is one geometry of a city object. Boundaries nest
// differently per type, so they stay raw until the caller knows the type.
type GeometryObject struct {
	Type       string          `json:"type"`
	LOD        string          `json:"lod"`
	Boundaries json.RawMessage `json:"boundaries"`
	Semantics  *Semantics      `json:"semantics"`
}

// Semantics labels the surfaces of a geometry. Values mirrors the boundary
// nesting minus the ring level.
type Semantics struct {
	Surfaces []SemanticSurface `json:"surfaces"`
	Values   json.RawMessage   `json:"values"`
}

// SemanticSurface is a surface label plus its own attributes.
type SemanticSurface struct {
	Type       string
	Attributes map[string]any
}

// UnmarshalJSON splits the fixed "type" key from free-form attributes.
func (s *SemanticSurface) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	s.Type, _ = m["type"].(string)
	delete(m, "type")
	s.Attributes = m
	return nil
}

// CityObject is one object in the CityObjects map.
type CityObject struct {
	Type       string           `json:"type"`
	Attributes map[string]any   `json:"attributes"`
	Geometry   []GeometryObject `json:"geometry"`
	Children   []string         `json:"children"`
	Parents    []string         `json:"parents"`
}

// Document is a parsed CityJSON file.
type Document struct {
	Type        string                `json:"type"`
	Version     string                `json:"version"`
	Transform   Transform             `json:"transform"`
	CityObjects map[string]CityObject `json:"CityObjects"`
	Vertices    [][3]float64          `json:"vertices"`
}

// Parse decodes and validates a CityJSON document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Type != "CityJSON" {
		return nil, fmt.Errorf("%w: type %q", ErrMalformed, doc.Type)
	}
	if doc.Transform.Scale == [3]float64{} {
		return nil, fmt.Errorf("%w: missing transform", ErrMalformed)
	}
	return &doc, nil
}

// Vertex returns vertex i in projected coordinates.
func (d *Document) Vertex(i int) ([3]float64, error) {
	if i < 0 || i >= len(d.Vertices) {
		return [3]float64{}, fmt.Errorf("%w: vertex index %d of %d", ErrMalformed, i, len(d.Vertices))
	}
	v := d.Vertices[i]
	return [3]float64{
		v[0]*d.Transform.Scale[0] + d.Transform.Translate[0],
		v[1]*d.Transform.Scale[1] + d.Transform.Translate[1],
		v[2]*d.Transform.Scale[2] + d.Transform.Translate[2],
	}, nil
}

// multiSurface decodes a geometry's boundaries into surfaces of rings of
// vertex indices. Solids contribute only their exterior shell.
func (g *GeometryObject) multiSurface() ([][][]int, error) {
	switch g.Type {
	case "MultiSurface", "CompositeSurface":
		var surfaces [][][]int
		if err := json.Unmarshal(g.Boundaries, &surfaces); err != nil {
			return nil, fmt.Errorf("%w: %s boundaries: %v", ErrMalformed, g.Type, err)
		}
		return surfaces, nil
	case "Solid":
		var shells [][][][]int
		if err := json.Unmarshal(g.Boundaries, &shells); err != nil {
			return nil, fmt.Errorf("%w: solid boundaries: %v", ErrMalformed, err)
		}
		if len(shells) == 0 {
			return nil, fmt.Errorf("%w: solid with no shells", ErrMalformed)
		}
		return shells[0], nil
	default:
		return nil, fmt.Errorf("%w: unsupported geometry type %q", ErrMalformed, g.Type)
	}
}

// surfaceSemantics maps each surface index to its semantic surface, or nil
// entries when the geometry carries no semantics. The values array mirrors
// the boundary nesting: flat for multisurfaces, per-shell for solids.
func (g *GeometryObject) surfaceSemantics(surfaceCount int) ([]*SemanticSurface, error) {
	out := make([]*SemanticSurface, surfaceCount)
	if g.Semantics == nil {
		return out, nil
	}

	var flat []*int
	switch g.Type {
	case "Solid":
		var perShell [][]*int
		if err := json.Unmarshal(g.Semantics.Values, &perShell); err != nil {
			return nil, fmt.Errorf("%w: semantics values: %v", ErrMalformed, err)
		}
		if len(perShell) > 0 {
			flat = perShell[0]
		}
	default:
		if err := json.Unmarshal(g.Semantics.Values, &flat); err != nil {
			return nil, fmt.Errorf("%w: semantics values: %v", ErrMalformed, err)
		}
	}

	for i := 0; i < len(flat) && i < surfaceCount; i++ {
		if flat[i] == nil {
			continue
		}
		idx := *flat[i]
		if idx < 0 || idx >= len(g.Semantics.Surfaces) {
			return nil, fmt.Errorf("%w: semantic surface index %d of %d", ErrMalformed, idx, len(g.Semantics.Surfaces))
		}
		out[i] = &g.Semantics.Surfaces[idx]
	}
	return out, nil
}
