package download

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/skiatlas/internal/geometry"
	"github.com/sells-group/skiatlas/internal/model"
	"github.com/sells-group/skiatlas/internal/spatial"
	"github.com/sells-group/skiatlas/pkg/overpass"
)

type fakeOverpass struct {
	queries []overpass.Query
	results [][]model.RawElement
	errs    []error
}

func (f *fakeOverpass) Query(_ context.Context, q overpass.Query) ([]model.RawElement, error) {
	i := len(f.queries)
	f.queries = append(f.queries, q)
	var els []model.RawElement
	var err error
	if i < len(f.results) {
		els = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return els, err
}

func ptr(f float64) *float64 { return &f }

func node(id int64, lon, lat float64) model.RawElement {
	return model.RawElement{ID: id, Type: model.KindNode, Lon: ptr(lon), Lat: ptr(lat), Tags: map[string]string{"aerialway": "station"}}
}

func unitSquare() *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, 1, 1, 0, 1, 0, 0}, []int{10})
}

func collectOutcomes(dst *[]string) Option {
	return WithObserver(func(o string) { *dst = append(*dst, o) })
}

func TestDownload_NonPolygonSkipped(t *testing.T) {
	fake := &fakeOverpass{}
	var outcomes []string
	d := New(fake, spatial.NewFilter(true), collectOutcomes(&outcomes))

	fc, err := d.Download(context.Background(), geom.NewPointFlat(geom.XY, []float64{1, 1}), "point")
	require.NoError(t, err)
	assert.Nil(t, fc)
	assert.Empty(t, fake.queries)
	assert.Equal(t, []string{OutcomeSkipped}, outcomes)
}

func TestDownload_BBoxThenFilter(t *testing.T) {
	fake := &fakeOverpass{results: [][]model.RawElement{{node(1, 0.5, 0.5), node(2, 2, 2)}}}
	var outcomes []string
	d := New(fake, spatial.NewFilter(true), collectOutcomes(&outcomes))

	fc, err := d.Download(context.Background(), unitSquare(), "square")
	require.NoError(t, err)
	require.NotNil(t, fc)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "node/1", fc.Features[0].ID)
	assert.Equal(t, "station", fc.Features[0].Properties["aerialway"])

	require.Len(t, fake.queries, 1)
	assert.Contains(t, fake.queries[0].Text, "node(0,0,1,1);")
	assert.Equal(t, []string{OutcomeBBox}, outcomes)
}

func TestDownload_FilterDisabledKeepsBBoxResult(t *testing.T) {
	fake := &fakeOverpass{results: [][]model.RawElement{{node(1, 0.5, 0.5), node(2, 2, 2)}}}
	d := New(fake, spatial.NewFilter(false))

	fc, err := d.Download(context.Background(), unitSquare(), "square")
	require.NoError(t, err)
	assert.Len(t, fc.Features, 2)
}

func TestDownload_PolygonFallback(t *testing.T) {
	fake := &fakeOverpass{results: [][]model.RawElement{nil, {node(3, 0.25, 0.75)}}}
	var outcomes []string
	d := New(fake, nil, collectOutcomes(&outcomes))

	fc, err := d.Download(context.Background(), unitSquare(), "square")
	require.NoError(t, err)
	require.NotNil(t, fc)
	assert.Len(t, fc.Features, 1)

	require.Len(t, fake.queries, 2)
	assert.True(t, strings.Contains(fake.queries[1].Text, `poly:"0 0 0 1 1 1 1 0 0 0"`), fake.queries[1].Text)
	assert.Equal(t, []string{OutcomePolygon}, outcomes)
}

func TestDownload_BothEmpty(t *testing.T) {
	fake := &fakeOverpass{}
	var outcomes []string
	d := New(fake, nil, collectOutcomes(&outcomes))

	fc, err := d.Download(context.Background(), unitSquare(), "square")
	require.NoError(t, err)
	assert.Nil(t, fc)
	assert.Len(t, fake.queries, 2)
	assert.Equal(t, []string{OutcomeEmpty}, outcomes)
}

func TestDownload_PolygonFailureDegrades(t *testing.T) {
	upstream := model.NewUpstreamError("overpass", 504, assert.AnError)
	fake := &fakeOverpass{errs: []error{nil, upstream}}
	var outcomes []string
	d := New(fake, nil, collectOutcomes(&outcomes))

	fc, err := d.Download(context.Background(), unitSquare(), "square")
	require.NoError(t, err)
	assert.Nil(t, fc)
	assert.Len(t, fake.queries, 2)
	assert.Equal(t, []string{OutcomeUpstream}, outcomes)
}

func TestDownload_BBoxFailureSkipsPolygonQuery(t *testing.T) {
	fake := &fakeOverpass{
		results: [][]model.RawElement{nil, {node(4, 0.5, 0.5)}},
		errs:    []error{model.NewUpstreamError("overpass", 429, assert.AnError)},
	}
	var outcomes []string
	d := New(fake, spatial.NewFilter(true), collectOutcomes(&outcomes))

	fc, err := d.Download(context.Background(), unitSquare(), "square")
	require.NoError(t, err)
	assert.Nil(t, fc)
	require.Len(t, fake.queries, 1)
	assert.Contains(t, fake.queries[0].Text, "(0,0,1,1)")
	assert.Equal(t, []string{OutcomeUpstream}, outcomes)
}

func TestDownload_ExtractorSeesFeatureFallbacks(t *testing.T) {
	broken := model.RawElement{ID: 9, Type: model.KindWay}
	fake := &fakeOverpass{results: [][]model.RawElement{{node(4, 0.5, 0.5), broken}}}
	var kinds []model.ElementKind
	x := geometry.NewExtractor(func(k model.ElementKind) { kinds = append(kinds, k) })
	d := New(fake, nil, WithExtractor(x))

	fc, err := d.Download(context.Background(), unitSquare(), "square")
	require.NoError(t, err)
	require.NotNil(t, fc)
	assert.Len(t, fc.Features, 2)
	assert.Equal(t, []model.ElementKind{model.KindWay}, kinds)
}

func TestDownload_CanceledPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeOverpass{errs: []error{context.Canceled}}
	d := New(fake, nil)

	_, err := d.Download(ctx, unitSquare(), "square")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownload_AllFilteredOut(t *testing.T) {
	fake := &fakeOverpass{results: [][]model.RawElement{{node(2, 2, 2)}}}
	var outcomes []string
	d := New(fake, spatial.NewFilter(true), collectOutcomes(&outcomes))

	fc, err := d.Download(context.Background(), unitSquare(), "square")
	require.NoError(t, err)
	assert.Nil(t, fc)
	assert.Equal(t, []string{OutcomeEmpty}, outcomes)
}
