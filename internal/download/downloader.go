// Package download fetches every map feature inside an area boundary.
package download

import (
	"context"
	"errors"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/geometry"
	"github.com/sells-group/skiatlas/internal/spatial"
	"github.com/sells-group/skiatlas/pkg/overpass"
)

// Download outcomes reported to the observer.
const (
	OutcomeBBox     = "bbox"
	OutcomePolygon  = "polygon"
	OutcomeEmpty    = "empty"
	OutcomeSkipped  = "skipped"
	OutcomeUpstream = "upstream_error"
)

// Option configures a Downloader.
type Option func(*Downloader)

// WithObserver registers a callback receiving the outcome of each download.
func WithObserver(fn func(outcome string)) Option {
	return func(d *Downloader) {
		d.observe = fn
	}
}

// WithExtractor sets the extractor used to build feature geometries.
func WithExtractor(x *geometry.Extractor) Option {
	return func(d *Downloader) {
		d.extractor = x
	}
}

// Downloader queries the map-data service for an area's contents.
type Downloader struct {
	client    overpass.Client
	filter    *spatial.Filter
	extractor *geometry.Extractor
	observe   func(outcome string)
}

// New creates a Downloader. A nil filter keeps every feature.
func New(client overpass.Client, filter *spatial.Filter, opts ...Option) *Downloader {
	d := &Downloader{client: client, filter: filter}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download returns the features inside boundary, or nil when boundary is not
// a polygon or nothing was found. A bounding-box query runs first; only when
// it succeeds with no elements is the precise polygon query tried. Upstream
// failures of either query degrade to nil without a further request; only
// context cancellation is returned as an error.
func (d *Downloader) Download(ctx context.Context, boundary geom.T, areaID string) (*geojson.FeatureCollection, error) {
	log := zap.L().With(zap.String("component", "download"), zap.String("area", areaID))

	poly, ok := boundary.(*geom.Polygon)
	if !ok {
		log.Debug("boundary is not a polygon, skipping detail download")
		d.record(OutcomeSkipped)
		return nil, nil
	}

	box, err := geometry.BoundingBox(poly)
	if err != nil {
		log.Warn("cannot compute bounding box", zap.Error(err))
		d.record(OutcomeSkipped)
		return nil, nil
	}

	outcome := OutcomeBBox
	elements, err := d.client.Query(ctx, overpass.BBox(box.MinLat, box.MinLon, box.MaxLat, box.MaxLon))
	if err != nil {
		if cerr := canceled(ctx, err); cerr != nil {
			return nil, cerr
		}
		log.Warn("bounding box query failed", zap.Error(err))
		d.record(OutcomeUpstream)
		return nil, nil
	}

	if len(elements) == 0 {
		outcome = OutcomePolygon
		elements, err = d.client.Query(ctx, overpass.Polygon(geometry.PolySpec(poly)))
		if err != nil {
			if cerr := canceled(ctx, err); cerr != nil {
				return nil, cerr
			}
			log.Warn("polygon query failed", zap.Error(err))
			d.record(OutcomeUpstream)
			return nil, nil
		}
	}

	if len(elements) == 0 {
		log.Info("no features found inside boundary")
		d.record(OutcomeEmpty)
		return nil, nil
	}

	features := make([]*geojson.Feature, 0, len(elements))
	for _, el := range elements {
		features = append(features, d.extractor.Feature(el))
	}
	if d.filter != nil {
		features = d.filter.Apply(poly, features)
	}
	if len(features) == 0 {
		log.Info("spatial filter removed every feature", zap.Int("elements", len(elements)))
		d.record(OutcomeEmpty)
		return nil, nil
	}

	log.Info("downloaded detail features",
		zap.String("query", outcome),
		zap.Int("elements", len(elements)),
		zap.Int("kept", len(features)),
	)
	d.record(outcome)
	return &geojson.FeatureCollection{Features: features}, nil
}

func (d *Downloader) record(outcome string) {
	if d.observe != nil {
		d.observe(outcome)
	}
}

// canceled returns ctx's error when err was caused by the caller giving up.
func canceled(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	return nil
}
