package cityjson

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/borrob/3dbag-runner/internal/gpkg"
)

// Mode selects how building geometry fans out into records.
type Mode int

const (
	// ModeAggregate emits one record per building, with the ground
	// footprint as geometry.
	ModeAggregate Mode = iota

	// ModePerRoofSurface emits one record per semantic roof surface,
	// carrying the surface's own attributes on top of the building's.
	ModePerRoofSurface
)

// ExtractHeightRecords turns one CityJSON document into height-database
// records. Building geometry is collected from the building itself and its
// BuildingPart children, which is where recent 3DBAG exports keep it. Any
// structural problem aborts extraction with an error wrapping ErrMalformed.
func ExtractHeightRecords(data []byte, mode Mode) ([]gpkg.Feature, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// Deterministic record order regardless of map iteration.
	ids := make([]string, 0, len(doc.CityObjects))
	for id, obj := range doc.CityObjects {
		if obj.Type == "Building" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []gpkg.Feature
	for _, id := range ids {
		obj := doc.CityObjects[id]
		feats, err := extractBuilding(doc, id, obj, mode)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", id, err)
		}
		out = append(out, feats...)
	}
	return out, nil
}

// buildingGeometry collects the building's own geometries plus those of its
// BuildingPart children.
func buildingGeometry(doc *Document, obj CityObject) []GeometryObject {
	geoms := append([]GeometryObject(nil), obj.Geometry...)
	for _, childID := range obj.Children {
		child, ok := doc.CityObjects[childID]
		if !ok || child.Type != "BuildingPart" {
			continue
		}
		geoms = append(geoms, child.Geometry...)
	}
	return geoms
}

func extractBuilding(doc *Document, id string, obj CityObject, mode Mode) ([]gpkg.Feature, error) {
	geoms := buildingGeometry(doc, obj)
	if len(geoms) == 0 {
		return nil, nil // stub buildings without geometry are skipped
	}

	switch mode {
	case ModeAggregate:
		f, err := aggregateRecord(doc, id, obj, geoms)
		if err != nil || f == nil {
			return nil, err
		}
		return []gpkg.Feature{*f}, nil
	case ModePerRoofSurface:
		return roofSurfaceRecords(doc, id, obj, geoms)
	default:
		return nil, fmt.Errorf("unknown extraction mode %d", mode)
	}
}

// aggregateRecord builds one multipolygon footprint from the ground
// surfaces. Geometries without semantics fall back to the surface with the
// lowest mean elevation, which for buildings is the ground slab.
func aggregateRecord(doc *Document, id string, obj CityObject, geoms []GeometryObject) (*gpkg.Feature, error) {
	var footprint [][][]r2.Vec
	var lod string

	for _, g := range geoms {
		surfaces, err := g.multiSurface()
		if err != nil {
			return nil, err
		}
		sems, err := g.surfaceSemantics(len(surfaces))
		if err != nil {
			return nil, err
		}

		ground := -1
		lowest := -1
		var lowestZ float64
		for i, surf := range surfaces {
			if sems[i] != nil && sems[i].Type == "GroundSurface" {
				ground = i
				break
			}
			z, err := meanZ(doc, surf)
			if err != nil {
				return nil, err
			}
			if lowest == -1 || z < lowestZ {
				lowest, lowestZ = i, z
			}
		}
		if ground == -1 {
			ground = lowest
		}
		if ground == -1 {
			continue
		}

		rings, err := projectSurface(doc, surfaces[ground])
		if err != nil {
			return nil, err
		}
		footprint = append(footprint, rings)
		if lod == "" {
			lod = g.LOD
		}
	}
	if len(footprint) == 0 {
		return nil, nil
	}

	attrs := recordAttrs(id, lod, obj.Attributes, nil)
	return &gpkg.Feature{
		Geom:  gpkg.Geometry{Kind: gpkg.KindMultiPolygon, Rings: footprint},
		Attrs: attrs,
	}, nil
}

// roofSurfaceRecords fans one building out into one record per semantic
// RoofSurface.
func roofSurfaceRecords(doc *Document, id string, obj CityObject, geoms []GeometryObject) ([]gpkg.Feature, error) {
	var out []gpkg.Feature
	for _, g := range geoms {
		surfaces, err := g.multiSurface()
		if err != nil {
			return nil, err
		}
		sems, err := g.surfaceSemantics(len(surfaces))
		if err != nil {
			return nil, err
		}
		for i, surf := range surfaces {
			if sems[i] == nil || sems[i].Type != "RoofSurface" {
				continue
			}
			rings, err := projectSurface(doc, surf)
			if err != nil {
				return nil, err
			}
			attrs := recordAttrs(id, g.LOD, obj.Attributes, sems[i].Attributes)
			out = append(out, gpkg.Feature{
				Geom:  gpkg.Geometry{Kind: gpkg.KindPolygon, Rings: [][][]r2.Vec{rings}},
				Attrs: attrs,
			})
		}
	}
	return out, nil
}

// recordAttrs merges building and surface attributes under the building id.
// Surface attributes win on collision.
func recordAttrs(id, lod string, building, surface map[string]any) map[string]any {
	attrs := make(map[string]any, len(building)+len(surface)+2)
	for k, v := range building {
		attrs[k] = v
	}
	for k, v := range surface {
		attrs[k] = v
	}
	attrs["identificatie"] = id
	if lod != "" {
		attrs["lod"] = lod
	}
	return attrs
}

// projectSurface drops a surface's rings to 2D, closing each ring the way
// WKB expects. CityJSON rings do not repeat their first vertex.
func projectSurface(doc *Document, surface [][]int) ([][]r2.Vec, error) {
	rings := make([][]r2.Vec, 0, len(surface))
	for _, ring := range surface {
		if len(ring) < 3 {
			return nil, fmt.Errorf("%w: ring with %d vertices", ErrMalformed, len(ring))
		}
		pts := make([]r2.Vec, 0, len(ring)+1)
		for _, idx := range ring {
			v, err := doc.Vertex(idx)
			if err != nil {
				return nil, err
			}
			pts = append(pts, r2.Vec{X: v[0], Y: v[1]})
		}
		pts = append(pts, pts[0])
		rings = append(rings, pts)
	}
	return rings, nil
}

func meanZ(doc *Document, surface [][]int) (float64, error) {
	var sum float64
	var n int
	for _, ring := range surface {
		for _, idx := range ring {
			v, err := doc.Vertex(idx)
			if err != nil {
				return 0, err
			}
			sum += v[2]
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: empty surface", ErrMalformed)
	}
	return sum / float64(n), nil
}
