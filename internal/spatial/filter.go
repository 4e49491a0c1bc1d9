// Package spatial restricts downloaded features to those that actually lie
// inside or cross an area boundary.
package spatial

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
	"github.com/twpayne/go-geom/xy/orientation"
	"go.uber.org/zap"
)

// Option configures a Filter.
type Option func(*Filter)

// WithObserver registers a callback invoked once per evaluated feature.
func WithObserver(fn func(kept bool)) Option {
	return func(f *Filter) {
		f.observe = fn
	}
}

// Filter keeps features that are contained in (points) or intersect (lines
// and polygons) a boundary polygon. A disabled filter keeps everything, which
// leaves the bounding-box download as an accepted approximation.
type Filter struct {
	enabled bool
	observe func(kept bool)
}

// NewFilter creates a Filter. enabled is the spatial-evaluation capability flag.
func NewFilter(enabled bool, opts ...Option) *Filter {
	f := &Filter{enabled: enabled}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enabled reports whether spatial evaluation is active.
func (f *Filter) Enabled() bool {
	return f != nil && f.enabled
}

// Apply returns the subset of features that belong to boundary. Features of
// unrecognized kinds, and features whose evaluation fails, are kept.
func (f *Filter) Apply(boundary *geom.Polygon, features []*geojson.Feature) []*geojson.Feature {
	if !f.Enabled() {
		return features
	}

	log := zap.L().With(zap.String("component", "spatial.filter"))
	kept := make([]*geojson.Feature, 0, len(features))
	for _, feat := range features {
		if feat == nil {
			continue
		}
		keep, err := Keep(boundary, feat.Geometry)
		if err != nil {
			log.Warn("feature evaluation failed, keeping feature",
				zap.String("feature_id", feat.ID),
				zap.Error(err),
			)
			keep = true
		}
		if f.observe != nil {
			f.observe(keep)
		}
		if keep {
			kept = append(kept, feat)
		}
	}

	log.Debug("spatial filter applied",
		zap.Int("candidates", len(features)),
		zap.Int("kept", len(kept)),
	)
	return kept
}

// Keep decides a single feature geometry: points must be strictly inside the
// boundary, lines and polygons must intersect it, anything else is kept.
func Keep(boundary *geom.Polygon, g geom.T) (bool, error) {
	switch t := g.(type) {
	case *geom.Point:
		return Contains(boundary, t)
	case *geom.LineString:
		return Intersects(boundary, t)
	case *geom.Polygon:
		return Intersects(boundary, t)
	default:
		return true, nil
	}
}

// Contains reports whether pt lies strictly inside boundary. Points on the
// boundary itself are not contained.
func Contains(boundary *geom.Polygon, pt *geom.Point) (bool, error) {
	if err := validBoundary(boundary); err != nil {
		return false, err
	}
	if pt == nil || len(pt.FlatCoords()) < 2 {
		return false, eris.New("spatial: empty point")
	}
	return locate(boundary, pt.Coords()) == location.Interior, nil
}

// Intersects reports whether g (a LineString or Polygon) shares at least one
// point with boundary.
func Intersects(boundary *geom.Polygon, g geom.T) (bool, error) {
	if err := validBoundary(boundary); err != nil {
		return false, err
	}

	var coords []geom.Coord
	var other *geom.Polygon
	switch t := g.(type) {
	case *geom.LineString:
		coords = t.Coords()
	case *geom.Polygon:
		if t.NumLinearRings() == 0 {
			return false, eris.New("spatial: polygon without rings")
		}
		coords = t.LinearRing(0).Coords()
		other = t
	default:
		return false, eris.Errorf("spatial: unsupported geometry %T", g)
	}
	if len(coords) == 0 {
		return false, eris.New("spatial: geometry has no coordinates")
	}

	for _, c := range coords {
		if locate(boundary, c) != location.Exterior {
			return true, nil
		}
	}

	for i := 0; i < boundary.NumLinearRings(); i++ {
		edges := boundary.LinearRing(i).Coords()
		if crosses(coords, edges) {
			return true, nil
		}
	}

	// A polygon that fully encloses the boundary touches none of the checks
	// above; test the boundary against it instead.
	if other != nil && len(other.LinearRing(0).Coords()) >= 4 {
		b := boundary.LinearRing(0).Coord(0)
		if locate(other, b) != location.Exterior {
			return true, nil
		}
	}

	return false, nil
}

// locate classifies c against a polygon with optional holes.
func locate(p *geom.Polygon, c geom.Coord) location.Type {
	loc := xy.LocatePointInRing(p.Layout(), c, p.LinearRing(0).FlatCoords())
	if loc != location.Interior {
		return loc
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		switch xy.LocatePointInRing(p.Layout(), c, p.LinearRing(i).FlatCoords()) {
		case location.Interior:
			return location.Exterior
		case location.Boundary:
			return location.Boundary
		}
	}
	return location.Interior
}

func validBoundary(p *geom.Polygon) error {
	if p == nil || p.NumLinearRings() == 0 {
		return eris.New("spatial: boundary has no exterior ring")
	}
	ring := p.LinearRing(0)
	n := ring.NumCoords()
	if n < 4 {
		return eris.Errorf("spatial: boundary ring has %d coordinates, need at least 4", n)
	}
	first, last := ring.Coord(0), ring.Coord(n-1)
	if first.X() != last.X() || first.Y() != last.Y() {
		return eris.New("spatial: boundary ring is not closed")
	}
	return nil
}

// crosses reports whether any segment of path intersects any segment of ring.
func crosses(path, ring []geom.Coord) bool {
	for i := 0; i+1 < len(path); i++ {
		for j := 0; j+1 < len(ring); j++ {
			if segmentsIntersect(path[i], path[i+1], ring[j], ring[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 geom.Coord) bool {
	o1 := xy.OrientationIndex(p1, p2, q1)
	o2 := xy.OrientationIndex(p1, p2, q2)
	o3 := xy.OrientationIndex(q1, q2, p1)
	o4 := xy.OrientationIndex(q1, q2, p2)

	if o1 != o2 && o3 != o4 {
		return true
	}

	switch {
	case o1 == orientation.Collinear && onSegment(p1, q1, p2):
		return true
	case o2 == orientation.Collinear && onSegment(p1, q2, p2):
		return true
	case o3 == orientation.Collinear && onSegment(q1, p1, q2):
		return true
	case o4 == orientation.Collinear && onSegment(q1, p2, q2):
		return true
	}
	return false
}

// onSegment reports whether collinear point q lies within the box spanned by a and b.
func onSegment(a, q, b geom.Coord) bool {
	return q.X() <= max(a.X(), b.X()) && q.X() >= min(a.X(), b.X()) &&
		q.Y() <= max(a.Y(), b.Y()) && q.Y() >= min(a.Y(), b.Y())
}
