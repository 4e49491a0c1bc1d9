package overpass

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/skiatlas/internal/model"
)

func TestDiscovery_ResortName(t *testing.T) {
	q := Discovery(model.TriggerPayload{ResortName: "Zermatt"})
	assert.Equal(t, ResortTimeout, q.Timeout)
	assert.Contains(t, q.Text, "[out:json][timeout:60];")
	assert.Contains(t, q.Text, `way["landuse"="winter_sports"]["name"~"Zermatt",i];`)
	assert.Contains(t, q.Text, `relation["landuse"="winter_sports"]["name"~"Zermatt",i];`)
	assert.Contains(t, q.Text, "out body geom;")
}

func TestDiscovery_ResortNameTakesPrecedence(t *testing.T) {
	q := Discovery(model.TriggerPayload{ResortName: "Verbier", Country: "Switzerland"})
	assert.Equal(t, ResortTimeout, q.Timeout)
	assert.NotContains(t, q.Text, "area[")
}

func TestDiscovery_Country(t *testing.T) {
	q := Discovery(model.TriggerPayload{Country: "Austria"})
	assert.Equal(t, CountryTimeout, q.Timeout)
	assert.Contains(t, q.Text, "[timeout:90]")
	assert.Contains(t, q.Text, `area["name"="Austria"]["admin_level"~"2|4"];`)
	assert.Contains(t, q.Text, `way(area)["landuse"="winter_sports"];`)
}

func TestDiscovery_Global(t *testing.T) {
	q := Discovery(model.TriggerPayload{})
	assert.Equal(t, GlobalTimeout, q.Timeout)
	assert.NotContains(t, q.Text, "area")
	assert.Contains(t, q.Text, `way["landuse"="winter_sports"];`)
}

func TestDiscovery_EscapesQuotes(t *testing.T) {
	q := Discovery(model.TriggerPayload{ResortName: `Les "Trois" Vallées`})
	assert.Contains(t, q.Text, `Les \"Trois\" Vallées`)
}

func TestBBox(t *testing.T) {
	q := BBox(46, 7, 46.5, 7.5)
	assert.Equal(t, 180*time.Second, q.Timeout)
	assert.Contains(t, q.Text, "node(46,7,46.5,7.5);")
	assert.Contains(t, q.Text, "way(46,7,46.5,7.5);")
	assert.Contains(t, q.Text, "relation(46,7,46.5,7.5);")
}

func TestPolygon(t *testing.T) {
	q := Polygon("46 7 46 7.5 46.5 7.5 46 7")
	assert.Equal(t, DetailTimeout, q.Timeout)
	assert.Contains(t, q.Text, `node(poly:"46 7 46 7.5 46.5 7.5 46 7");`)
	assert.Equal(t, q.Text, q.String())
}
