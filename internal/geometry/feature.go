package geometry

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/skiatlas/internal/model"
)

// Feature converts el into a GeoJSON feature whose properties carry the
// element reference plus every tag.
func Feature(el model.RawElement) *geojson.Feature {
	return NewFeature(el, Extract(el))
}

// NewFeature is Feature for an already extracted geometry.
func NewFeature(el model.RawElement, g geom.T) *geojson.Feature {
	props := make(map[string]interface{}, len(el.Tags)+2)
	props["osm_id"] = el.ID
	props["osm_type"] = string(el.Type)
	for k, v := range el.Tags {
		props[k] = v
	}
	return &geojson.Feature{
		ID:         el.Ref(),
		Geometry:   g,
		Properties: props,
	}
}

// FeatureCollection wraps the primary geometry g of el in a single-feature
// collection, the document stored on an area record.
func FeatureCollection(el model.RawElement, g geom.T) *geojson.FeatureCollection {
	return &geojson.FeatureCollection{Features: []*geojson.Feature{NewFeature(el, g)}}
}

// MarshalCollection serializes fc as GeoJSON.
func MarshalCollection(fc *geojson.FeatureCollection) ([]byte, error) {
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, eris.Wrap(err, "geometry: marshal feature collection")
	}
	return data, nil
}

// Box is an axis-aligned bounding box in degrees.
type Box struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// BoundingBox returns the bounding box of the polygon's exterior ring.
func BoundingBox(p *geom.Polygon) (Box, error) {
	if p == nil || p.NumLinearRings() == 0 || p.LinearRing(0).NumCoords() == 0 {
		return Box{}, eris.New("geometry: polygon has no exterior ring")
	}
	b := geom.NewBounds(geom.XY).Extend(p.LinearRing(0))
	return Box{MinLon: b.Min(0), MinLat: b.Min(1), MaxLon: b.Max(0), MaxLat: b.Max(1)}, nil
}

// PolySpec serializes the exterior ring as the space-separated "lat lon"
// list expected by the map-data service's polygon filter.
func PolySpec(p *geom.Polygon) string {
	if p == nil || p.NumLinearRings() == 0 {
		return ""
	}
	ring := p.LinearRing(0)
	parts := make([]string, 0, 2*ring.NumCoords())
	for i := 0; i < ring.NumCoords(); i++ {
		c := ring.Coord(i)
		parts = append(parts,
			strconv.FormatFloat(c.Y(), 'f', -1, 64),
			strconv.FormatFloat(c.X(), 'f', -1, 64),
		)
	}
	return strings.Join(parts, " ")
}
