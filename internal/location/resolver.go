// Package location derives the administrative location of an area from its
// tags, falling back to a reverse-geocoding lookup of a representative
// coordinate.
package location

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/model"
	"github.com/sells-group/skiatlas/pkg/nominatim"
)

// DefaultDelay is the pause before each geocoder call.
const DefaultDelay = time.Second

// Coord is a WGS84 coordinate.
type Coord struct {
	Lat float64
	Lon float64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDelay sets the pause before each geocoder call. Zero disables it.
func WithDelay(d time.Duration) Option {
	return func(r *Resolver) {
		r.delay = d
	}
}

// WithObserver registers a callback receiving the outcome of each geocoder
// call: "ok", "empty" or "error".
func WithObserver(fn func(outcome string)) Option {
	return func(r *Resolver) {
		r.observe = fn
	}
}

// Resolver produces an AdminLocation for an area. It never returns an error;
// anything it cannot determine settles to model.Unknown.
type Resolver struct {
	geocoder nominatim.Reverser
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	observe  func(outcome string)
}

// NewResolver creates a Resolver. A nil geocoder limits resolution to tags.
func NewResolver(geocoder nominatim.Reverser, opts ...Option) *Resolver {
	r := &Resolver{
		geocoder: geocoder,
		delay:    DefaultDelay,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve determines country and province. Tag values always win; the
// geocoder only fills fields the tags left unknown, and is not called when
// coord is nil.
func (r *Resolver) Resolve(ctx context.Context, tags map[string]string, coord *Coord) model.AdminLocation {
	loc := FromTags(tags)
	if loc.IsResolved() || coord == nil || r.geocoder == nil {
		return loc
	}

	log := zap.L().With(
		zap.String("component", "location.resolver"),
		zap.Float64("lat", coord.Lat),
		zap.Float64("lon", coord.Lon),
	)

	if r.delay > 0 {
		if err := r.sleep(ctx, r.delay); err != nil {
			log.Warn("geocode wait interrupted", zap.Error(err))
			return loc
		}
	}

	addr, err := r.geocoder.Reverse(ctx, coord.Lat, coord.Lon)
	if err != nil {
		r.record("error")
		log.Warn("reverse geocode failed, leaving location unknown", zap.Error(err))
		return loc
	}
	if addr == nil || (addr.Country == "" && addr.Subdivision() == "") {
		r.record("empty")
		return loc
	}
	r.record("ok")

	if loc.Country == model.Unknown && addr.Country != "" {
		loc.Country = addr.Country
	}
	if loc.Province == model.Unknown {
		if p := addr.Subdivision(); p != "" {
			loc.Province = p
		}
	}
	return loc
}

func (r *Resolver) record(outcome string) {
	if r.observe != nil {
		r.observe(outcome)
	}
}

// FromTags resolves location from tags alone: addr:country and
// addr:province/addr:state first, then any is_in:* key mentioning country or
// province/state/territory. Missing fields are model.Unknown.
func FromTags(tags map[string]string) model.AdminLocation {
	loc := model.UnknownLocation()

	if v := tags["addr:country"]; v != "" {
		loc.Country = v
	}
	if v := tags["addr:province"]; v != "" {
		loc.Province = v
	} else if v := tags["addr:state"]; v != "" {
		loc.Province = v
	}

	if loc.IsResolved() {
		return loc
	}

	for _, key := range sortedIsInKeys(tags) {
		v := tags[key]
		if v == "" {
			continue
		}
		suffix := strings.ToLower(strings.TrimPrefix(key, "is_in:"))
		switch {
		case loc.Country == model.Unknown && strings.Contains(suffix, "country"):
			loc.Country = v
		case loc.Province == model.Unknown && containsAny(suffix, "province", "state", "territory"):
			loc.Province = v
		}
	}
	return loc
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// sortedIsInKeys returns the is_in:* tag keys in lexical order so the scan
// is deterministic.
func sortedIsInKeys(tags map[string]string) []string {
	var keys []string
	for k := range tags {
		if strings.HasPrefix(k, "is_in:") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
