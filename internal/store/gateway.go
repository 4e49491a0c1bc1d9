package store

import (
	"context"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/skiatlas/internal/blob"
	"github.com/sells-group/skiatlas/internal/geometry"
	"github.com/sells-group/skiatlas/internal/model"
)

// Gateway is the single write path for area records and detail blobs. Every
// failure is returned as a *model.PersistenceError naming the area.
type Gateway struct {
	Areas AreaStore
	Blobs blob.Store
	Now   func() time.Time
}

// NewGateway creates a Gateway using the wall clock.
func NewGateway(areas AreaStore, blobs blob.Store) *Gateway {
	return &Gateway{Areas: areas, Blobs: blobs, Now: time.Now}
}

func (g *Gateway) now() time.Time {
	if g.Now == nil {
		return time.Now().UTC()
	}
	return g.Now().UTC()
}

// SaveBasic writes the minimal record for el with location pending,
// replacing any earlier record with the same slug.
func (g *Gateway) SaveBasic(ctx context.Context, el model.RawElement, shape geom.T) (model.AreaRecord, error) {
	slug := el.Slug()
	data, err := geometry.MarshalCollection(geometry.FeatureCollection(el, shape))
	if err != nil {
		return model.AreaRecord{}, &model.PersistenceError{Slug: slug, Op: "encode basic", Err: err}
	}

	rec := model.AreaRecord{
		Slug:        slug,
		Name:        el.Name(),
		Country:     model.Pending,
		Province:    model.Pending,
		GeoData:     data,
		LastUpdated: g.now(),
		Boundary:    shape,
	}
	if err := g.Areas.PutBasic(ctx, rec); err != nil {
		return model.AreaRecord{}, &model.PersistenceError{Slug: slug, Op: "put basic", Err: err}
	}
	return rec, nil
}

// SaveLocation records the resolved location of an area.
func (g *Gateway) SaveLocation(ctx context.Context, slug string, loc model.AdminLocation) error {
	if err := g.Areas.UpdateLocation(ctx, slug, loc, g.now()); err != nil {
		return &model.PersistenceError{Slug: slug, Op: "update location", Err: err}
	}
	return nil
}

// SaveDetail writes fc as the area's detail blob, replacing any previous
// one, then points the record at it. It returns the blob key.
func (g *Gateway) SaveDetail(ctx context.Context, slug string, fc *geojson.FeatureCollection) (string, error) {
	body, err := geometry.MarshalCollection(fc)
	if err != nil {
		return "", &model.PersistenceError{Slug: slug, Op: "encode detail", Err: err}
	}

	key := blob.DetailKey(slug)
	if err := g.Blobs.Put(ctx, key, body, blob.ContentTypeJSON); err != nil {
		return "", &model.PersistenceError{Slug: slug, Op: "put detail blob", Err: err}
	}
	if err := g.Areas.UpdateDetail(ctx, slug, key, g.now()); err != nil {
		return "", &model.PersistenceError{Slug: slug, Op: "update detail", Err: err}
	}
	return key, nil
}
