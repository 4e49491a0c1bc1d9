// Package pipeline chains the extract, enrich and download stages for each
// discovered winter-sports area, one bounded transition at a time.
package pipeline

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/geometry"
	"github.com/sells-group/skiatlas/internal/location"
	"github.com/sells-group/skiatlas/internal/model"
)

// DefaultStageEstimate is the time reserved for one transition when driving
// against a budget; the slowest stage is a detail download with its polygon
// fallback.
const DefaultStageEstimate = 3*time.Minute + 30*time.Second

// Persister is the write path for area records.
type Persister interface {
	SaveBasic(ctx context.Context, el model.RawElement, shape geom.T) (model.AreaRecord, error)
	SaveLocation(ctx context.Context, slug string, loc model.AdminLocation) error
	SaveDetail(ctx context.Context, slug string, fc *geojson.FeatureCollection) (string, error)
}

// Resolver determines an area's administrative location.
type Resolver interface {
	Resolve(ctx context.Context, tags map[string]string, coord *location.Coord) model.AdminLocation
}

// Downloader fetches the features inside a boundary.
type Downloader interface {
	Download(ctx context.Context, boundary geom.T, areaID string) (*geojson.FeatureCollection, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStageEstimate sets the time reserved per transition by Drive.
func WithStageEstimate(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.stageEstimate = d
	}
}

// WithExtractor sets the geometry extractor used when an element is first
// persisted, letting the caller observe fallback geometries.
func WithExtractor(x *geometry.Extractor) Option {
	return func(o *Orchestrator) {
		o.extractor = x
	}
}

// WithStageObserver registers a callback run after every transition.
func WithStageObserver(fn func(stage Stage, elapsed time.Duration, err error)) Option {
	return func(o *Orchestrator) {
		o.observe = fn
	}
}

// Orchestrator runs the continuation state machine.
type Orchestrator struct {
	persist       Persister
	resolver      Resolver
	downloader    Downloader
	extractor     *geometry.Extractor
	stageEstimate time.Duration
	observe       func(stage Stage, elapsed time.Duration, err error)
	now           func() time.Time
}

// NewOrchestrator wires the three stage collaborators.
func NewOrchestrator(p Persister, r Resolver, d Downloader, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		persist:       p,
		resolver:      r,
		downloader:    d,
		stageEstimate: DefaultStageEstimate,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Step performs exactly one transition and returns the state to hand off.
// Per-element failures are recorded in the returned state and never
// returned as errors; an error means the input state cannot be resumed or
// the context ended.
func (o *Orchestrator) Step(ctx context.Context, state ContinuationState) (ContinuationState, error) {
	if err := state.Validate(); err != nil {
		return state, err
	}
	if state.Done() {
		return state, nil
	}
	if err := ctx.Err(); err != nil {
		return state, eris.Wrap(err, "pipeline: step")
	}

	start := o.now()
	var next ContinuationState
	var stepErr error
	switch state.Stage {
	case StageDiscovered:
		next, stepErr = o.stepExtract(ctx, state)
	case StageBasicPersisted:
		next, stepErr = o.stepEnrich(ctx, state)
	case StageLocationEnriched:
		next, stepErr = o.stepDetail(ctx, state)
	}

	if o.observe != nil {
		o.observe(state.Stage, o.now().Sub(start), stepErr)
	}
	if stepErr != nil {
		return state, stepErr
	}
	return next, nil
}

// Extract runs the Discovered to BasicPersisted work for one element: its
// geometry is extracted and a pending record is written.
func (o *Orchestrator) Extract(ctx context.Context, el model.RawElement) (model.AreaRecord, error) {
	shape := o.extractor.Extract(el)
	return o.persist.SaveBasic(ctx, el, shape)
}

func (o *Orchestrator) stepExtract(ctx context.Context, state ContinuationState) (ContinuationState, error) {
	el := *state.Next
	log := zap.L().With(zap.String("component", "pipeline.orchestrator"), zap.String("element", el.Ref()))

	rec, err := o.Extract(ctx, el)
	if err != nil {
		if ctx.Err() != nil {
			return state, eris.Wrap(ctx.Err(), "pipeline: extract")
		}
		log.Warn("basic persist failed, skipping element", zap.String("slug", el.Slug()), zap.Error(err))
		state = state.fail(el, StageDiscovered, err)
		return state.advance(), nil
	}

	log.Debug("basic record persisted", zap.String("slug", rec.Slug))
	state.Stage = StageBasicPersisted
	state.Next = nil
	state.Processed = &ProcessedArea{Element: el, Slug: rec.Slug}
	return state, nil
}

func (o *Orchestrator) stepEnrich(ctx context.Context, state ContinuationState) (ContinuationState, error) {
	p := *state.Processed
	log := zap.L().With(zap.String("component", "pipeline.orchestrator"), zap.String("slug", p.Slug))

	var coord *location.Coord
	if lon, lat, ok := geometry.Representative(geometry.Extract(p.Element)); ok {
		coord = &location.Coord{Lat: lat, Lon: lon}
	}
	loc := o.resolver.Resolve(ctx, p.Element.Tags, coord)
	// Resolve degrades to Unknown on cancellation, which must not be saved.
	if err := ctx.Err(); err != nil {
		return state, eris.Wrap(err, "pipeline: enrich")
	}

	if err := o.persist.SaveLocation(ctx, p.Slug, loc); err != nil {
		if ctx.Err() != nil {
			return state, eris.Wrap(ctx.Err(), "pipeline: enrich")
		}
		log.Warn("location update failed, skipping element", zap.Error(err))
		state = state.fail(p.Element, StageBasicPersisted, err)
		return state.advance(), nil
	}

	log.Debug("location enriched", zap.String("country", loc.Country), zap.String("province", loc.Province))
	p.Location = &loc
	state.Stage = StageLocationEnriched
	state.Processed = &p
	return state, nil
}

func (o *Orchestrator) stepDetail(ctx context.Context, state ContinuationState) (ContinuationState, error) {
	p := *state.Processed
	log := zap.L().With(zap.String("component", "pipeline.orchestrator"), zap.String("slug", p.Slug))

	done := CompletedArea{
		Slug:     p.Slug,
		Name:     p.Element.Name(),
		Country:  p.Location.Country,
		Province: p.Location.Province,
	}

	shape := geometry.Extract(p.Element)
	if geometry.IsPolygon(shape) {
		fc, err := o.downloader.Download(ctx, shape, p.Slug)
		if err != nil {
			return state, eris.Wrapf(err, "pipeline: download %s", p.Slug)
		}
		if fc != nil {
			key, err := o.persist.SaveDetail(ctx, p.Slug, fc)
			if err != nil {
				if ctx.Err() != nil {
					return state, eris.Wrap(ctx.Err(), "pipeline: detail")
				}
				log.Warn("detail persist failed, skipping element", zap.Error(err))
				state = state.fail(p.Element, StageLocationEnriched, err)
				return state.advance(), nil
			}
			done.DetailKey = key
		}
	} else {
		log.Debug("geometry is not a polygon, skipping detail download")
	}

	state.Completed = append(slices.Clip(state.Completed), done)
	log.Info("area complete", zap.String("detail_key", done.DetailKey), zap.Int("remaining", len(state.Remaining)))
	return state.advance(), nil
}

func (s ContinuationState) fail(el model.RawElement, stage Stage, err error) ContinuationState {
	s.Failures = append(slices.Clip(s.Failures), ElementFailure{
		Ref:   el.Ref(),
		Slug:  el.Slug(),
		Stage: stage,
		Kind:  failureKind(err),
		Error: err.Error(),
	})
	return s
}

func failureKind(err error) FailureKind {
	switch {
	case model.IsPersistence(err):
		return FailurePersistence
	case model.IsUpstream(err):
		return FailureUpstream
	}
	return FailureOther
}

// Drive steps state until the run is done or the remaining budget can no
// longer fit a transition. A zero budget means no limit. When the budget
// runs out the unfinished state is returned with an error wrapping
// model.ErrBudgetExhausted so the caller can hand it off.
func (o *Orchestrator) Drive(ctx context.Context, state ContinuationState, budget time.Duration) (ContinuationState, error) {
	var deadline time.Time
	if budget > 0 {
		deadline = o.now().Add(budget)
	}

	for !state.Done() {
		if !deadline.IsZero() && deadline.Sub(o.now()) < o.stageEstimate {
			return state, eris.Wrapf(model.ErrBudgetExhausted, "pipeline: %d elements pending", state.Pending())
		}
		next, err := o.Step(ctx, state)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}
