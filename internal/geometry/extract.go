// Package geometry converts raw map-data elements into normalized geometries.
// Every pipeline stage that needs an element's shape goes through Extract.
package geometry

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/model"
)

// Extractor is Extract with an observer notified of every fallback. A nil
// *Extractor behaves like Extract.
type Extractor struct {
	onFallback func(kind model.ElementKind)
}

// NewExtractor creates an Extractor reporting fallbacks to onFallback.
func NewExtractor(onFallback func(kind model.ElementKind)) *Extractor {
	return &Extractor{onFallback: onFallback}
}

// Extract derives the geometry of el, see the package-level Extract.
func (x *Extractor) Extract(el model.RawElement) geom.T {
	g, ok := extract(el)
	if !ok && x != nil && x.onFallback != nil {
		x.onFallback(el.Type)
	}
	return g
}

// Feature converts el into a GeoJSON feature using x for the geometry.
func (x *Extractor) Feature(el model.RawElement) *geojson.Feature {
	return NewFeature(el, x.Extract(el))
}

// Extract derives the geometry of el. It never fails: elements whose shape
// cannot be determined become Point(0,0) and a warning is logged.
//
//   - node: Point at its own lon/lat
//   - way with vertices: Polygon when it has more than two vertices and the
//     first equals the last, LineString otherwise
//   - relation with bounds: closed 5-point rectangle
func Extract(el model.RawElement) geom.T {
	g, _ := extract(el)
	return g
}

// extract reports false when it had to fall back to Point(0,0).
func extract(el model.RawElement) (geom.T, bool) {
	switch el.Type {
	case model.KindNode:
		if el.Lat != nil && el.Lon != nil {
			return geom.NewPointFlat(geom.XY, []float64{*el.Lon, *el.Lat}), true
		}

	case model.KindWay:
		if len(el.Geometry) > 0 {
			flat := make([]float64, 0, 2*len(el.Geometry))
			for _, p := range el.Geometry {
				flat = append(flat, p.Lon, p.Lat)
			}
			if isClosed(el.Geometry) {
				return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}), true
			}
			return geom.NewLineStringFlat(geom.XY, flat), true
		}

	case model.KindRelation:
		if b := el.Bounds; b != nil {
			return geom.NewPolygonFlat(geom.XY, []float64{
				b.MinLon, b.MinLat,
				b.MaxLon, b.MinLat,
				b.MaxLon, b.MaxLat,
				b.MinLon, b.MaxLat,
				b.MinLon, b.MinLat,
			}, []int{10}), true
		}
	}

	zap.L().Warn("geometry: unable to extract geometry, using fallback point",
		zap.String("type", string(el.Type)),
		zap.Int64("id", el.ID),
		zap.Error(model.ErrMalformedElement),
	)
	return geom.NewPointFlat(geom.XY, []float64{0, 0}), false
}

// isClosed reports whether a vertex list forms a ring: more than two points
// with an exact match between the first and last coordinate.
func isClosed(pts []model.LatLon) bool {
	if len(pts) <= 2 {
		return false
	}
	first, last := pts[0], pts[len(pts)-1]
	return first.Lat == last.Lat && first.Lon == last.Lon
}

// Representative returns the coordinate used for reverse geocoding: the point
// itself, or the first vertex of a line or polygon ring.
func Representative(g geom.T) (lon, lat float64, ok bool) {
	var c geom.Coord
	switch t := g.(type) {
	case *geom.Point:
		if len(t.FlatCoords()) < 2 {
			return 0, 0, false
		}
		c = t.Coords()
	case *geom.LineString:
		if t.NumCoords() == 0 {
			return 0, 0, false
		}
		c = t.Coord(0)
	case *geom.Polygon:
		if t.NumLinearRings() == 0 || t.LinearRing(0).NumCoords() == 0 {
			return 0, 0, false
		}
		c = t.LinearRing(0).Coord(0)
	default:
		return 0, 0, false
	}
	return c.X(), c.Y(), true
}

// IsPolygon reports whether g is a polygon with a usable exterior ring.
func IsPolygon(g geom.T) bool {
	p, ok := g.(*geom.Polygon)
	return ok && p.NumLinearRings() > 0 && p.LinearRing(0).NumCoords() > 0
}
