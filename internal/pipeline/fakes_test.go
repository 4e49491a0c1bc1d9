package pipeline

import (
	"context"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/skiatlas/internal/location"
	"github.com/sells-group/skiatlas/internal/model"
	"github.com/sells-group/skiatlas/pkg/overpass"
)

type fakePersister struct {
	records  map[string]*model.AreaRecord
	details  map[string]*geojson.FeatureCollection
	failSlug string
	failOp   string
	puts     int
}

func newFakePersister() *fakePersister {
	return &fakePersister{records: map[string]*model.AreaRecord{}, details: map[string]*geojson.FeatureCollection{}}
}

func (f *fakePersister) fails(slug, op string) error {
	if slug == f.failSlug && op == f.failOp {
		return &model.PersistenceError{Slug: slug, Op: op, Err: fmt.Errorf("disk full")}
	}
	return nil
}

func (f *fakePersister) SaveBasic(_ context.Context, el model.RawElement, shape geom.T) (model.AreaRecord, error) {
	if err := f.fails(el.Slug(), "basic"); err != nil {
		return model.AreaRecord{}, err
	}
	f.puts++
	rec := model.AreaRecord{Slug: el.Slug(), Name: el.Name(), Country: model.Pending, Province: model.Pending, Boundary: shape}
	f.records[rec.Slug] = &rec
	return rec, nil
}

func (f *fakePersister) SaveLocation(_ context.Context, slug string, loc model.AdminLocation) error {
	if err := f.fails(slug, "location"); err != nil {
		return err
	}
	rec, ok := f.records[slug]
	if !ok {
		return &model.PersistenceError{Slug: slug, Op: "location", Err: fmt.Errorf("missing")}
	}
	rec.Country, rec.Province = loc.Country, loc.Province
	return nil
}

func (f *fakePersister) SaveDetail(_ context.Context, slug string, fc *geojson.FeatureCollection) (string, error) {
	if err := f.fails(slug, "detail"); err != nil {
		return "", err
	}
	key := slug + ".geojson"
	f.details[key] = fc
	f.records[slug].DetailKey = key
	return key, nil
}

type fakeResolver struct {
	calls     int
	loc       model.AdminLocation
	onResolve func()
}

func (f *fakeResolver) Resolve(_ context.Context, _ map[string]string, _ *location.Coord) model.AdminLocation {
	f.calls++
	if f.onResolve != nil {
		f.onResolve()
	}
	return f.loc
}

type fakeDownloader struct {
	calls int
	fc    *geojson.FeatureCollection
	err   error
}

func (f *fakeDownloader) Download(_ context.Context, _ geom.T, _ string) (*geojson.FeatureCollection, error) {
	f.calls++
	return f.fc, f.err
}

type fakeOverpass struct {
	elements []model.RawElement
	err      error
	queries  []overpass.Query
}

func (f *fakeOverpass) Query(_ context.Context, q overpass.Query) ([]model.RawElement, error) {
	f.queries = append(f.queries, q)
	return f.elements, f.err
}

type fakeQueue struct {
	sent []model.QueueMessage
	err  error
}

func (f *fakeQueue) Send(_ context.Context, msg model.QueueMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeSpawner struct {
	spawns int
	err    error
}

func (f *fakeSpawner) Spawn(context.Context) error {
	f.spawns++
	return f.err
}

func ptr(f float64) *float64 { return &f }

func polygonWay(id int64, name string) model.RawElement {
	return model.RawElement{
		ID:   id,
		Type: model.KindWay,
		Tags: map[string]string{"name": name, "landuse": "winter_sports"},
		Geometry: []model.LatLon{
			{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0}, {Lat: 0, Lon: 0},
		},
	}
}

func nodeElement(id int64, name string) model.RawElement {
	return model.RawElement{ID: id, Type: model.KindNode, Lat: ptr(46), Lon: ptr(7), Tags: map[string]string{"name": name}}
}

func someDetail() *geojson.FeatureCollection {
	return &geojson.FeatureCollection{Features: []*geojson.Feature{
		{ID: "node/1", Geometry: geom.NewPointFlat(geom.XY, []float64{0.5, 0.5})},
	}}
}
