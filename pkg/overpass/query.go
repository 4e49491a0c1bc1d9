package overpass

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/skiatlas/internal/model"
)

// Query timeouts, matching the breadth of each query.
const (
	ResortTimeout  = 60 * time.Second
	CountryTimeout = 90 * time.Second
	GlobalTimeout  = 90 * time.Second
	DetailTimeout  = 180 * time.Second
)

// winterSports selects the landuse tag every discovery query filters on.
const winterSports = `["landuse"="winter_sports"]`

// Query is one Overpass QL program plus the server-side timeout it declares.
type Query struct {
	Text    string
	Timeout time.Duration
}

func (q Query) String() string {
	return q.Text
}

// Discovery builds the query that finds winter-sports areas for a trigger:
// by case-insensitive name match, by enclosing country, or globally.
func Discovery(t model.TriggerPayload) Query {
	switch {
	case t.ResortName != "":
		name := escape(t.ResortName)
		return build(ResortTimeout, fmt.Sprintf(`(
  way%[1]s["name"~"%[2]s",i];
  relation%[1]s["name"~"%[2]s",i];
);`, winterSports, name))
	case t.Country != "":
		return build(CountryTimeout, fmt.Sprintf(`area["name"="%s"]["admin_level"~"2|4"];
(
  way(area)%[2]s;
  relation(area)%[2]s;
);`, escape(t.Country), winterSports))
	default:
		return build(GlobalTimeout, fmt.Sprintf(`(
  way%[1]s;
  relation%[1]s;
);`, winterSports))
	}
}

// BBox builds the detail query for every node, way and relation inside a
// bounding box.
func BBox(minLat, minLon, maxLat, maxLon float64) Query {
	box := strings.Join([]string{ff(minLat), ff(minLon), ff(maxLat), ff(maxLon)}, ",")
	return build(DetailTimeout, fmt.Sprintf(`(
  node(%[1]s);
  way(%[1]s);
  relation(%[1]s);
);`, box))
}

// Polygon builds the detail query restricted to a polygon given as a
// space-separated "lat lon" list.
func Polygon(polySpec string) Query {
	return build(DetailTimeout, fmt.Sprintf(`(
  node(poly:"%[1]s");
  way(poly:"%[1]s");
  relation(poly:"%[1]s");
);`, polySpec))
}

func build(timeout time.Duration, body string) Query {
	return Query{
		Text:    fmt.Sprintf("[out:json][timeout:%d];\n%s\nout body geom;", int(timeout.Seconds()), body),
		Timeout: timeout,
	}
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// escape makes a user-supplied value safe inside a double-quoted QL string.
func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
