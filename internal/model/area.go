package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Location placeholder values.
const (
	// Unknown is the terminal value for a field the resolver could not determine.
	Unknown = "unknown"
	// Pending marks a basic record whose location has not been enriched yet.
	Pending = "pending"
)

// AdminLocation is the administrative location of an area.
type AdminLocation struct {
	Country  string `json:"country"`
	Province string `json:"province"`
}

// UnknownLocation returns a location with both fields unknown.
func UnknownLocation() AdminLocation {
	return AdminLocation{Country: Unknown, Province: Unknown}
}

// IsResolved reports whether both fields hold a real value.
func (l AdminLocation) IsResolved() bool {
	return l.Country != Unknown && l.Province != Unknown
}

// AreaRecord is the persisted winter-sports area.
type AreaRecord struct {
	Slug        string          `json:"resortId"`
	Name        string          `json:"resortName"`
	Country     string          `json:"country"`
	Province    string          `json:"province"`
	GeoData     json.RawMessage `json:"geoData,omitempty"`
	DetailKey   string          `json:"detailedDataKey,omitempty"`
	LastUpdated time.Time       `json:"lastUpdated"`

	// Boundary is the primary geometry GeoData was built from. Stores that
	// keep a binary geometry column read it; it is never serialized.
	Boundary geom.T `json:"-"`
}

var slugStrip = strings.NewReplacer(" ", "-", "'", "", `"`, "", ",", "")

// Slug derives the stable area key from a name: lowercased, spaces become
// hyphens, quotes and commas are removed.
func Slug(name string) string {
	return slugStrip.Replace(cases.Lower(language.Und).String(name))
}
