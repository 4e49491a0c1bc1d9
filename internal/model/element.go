package model

import "fmt"

// ElementKind is the map-data element type.
type ElementKind string

const (
	KindNode     ElementKind = "node"
	KindWay      ElementKind = "way"
	KindRelation ElementKind = "relation"
)

// LatLon is a single vertex of a way geometry as returned by the map-data service.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds is the bounding box the map-data service attaches to relations.
type Bounds struct {
	MinLat float64 `json:"minlat"`
	MinLon float64 `json:"minlon"`
	MaxLat float64 `json:"maxlat"`
	MaxLon float64 `json:"maxlon"`
}

// RawElement is one record returned by the map-data service. Lat/Lon are set
// for nodes, Geometry for ways and Bounds for relations.
type RawElement struct {
	ID       int64             `json:"id"`
	Type     ElementKind       `json:"type"`
	Lat      *float64          `json:"lat,omitempty"`
	Lon      *float64          `json:"lon,omitempty"`
	Geometry []LatLon          `json:"geometry,omitempty"`
	Bounds   *Bounds           `json:"bounds,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Name returns the element's name tag, or a placeholder derived from its id.
func (e RawElement) Name() string {
	if n := e.Tags["name"]; n != "" {
		return n
	}
	return fmt.Sprintf("Unnamed Resort %d", e.ID)
}

// Ref returns the "type/id" reference used as the feature id.
func (e RawElement) Ref() string {
	return fmt.Sprintf("%s/%d", e.Type, e.ID)
}

// Slug returns the area key for this element.
func (e RawElement) Slug() string {
	return Slug(e.Name())
}
