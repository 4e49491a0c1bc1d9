// Package store persists area records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/skiatlas/internal/model"
)

// ErrNotFound is returned by partial updates when the area does not exist.
var ErrNotFound = errors.New("area not found")

// AreaStore is the durable key-value store for area records, keyed by slug.
type AreaStore interface {
	// PutBasic creates or fully overwrites the record for rec.Slug.
	PutBasic(ctx context.Context, rec model.AreaRecord) error

	// UpdateLocation sets country, province and last-updated only.
	UpdateLocation(ctx context.Context, slug string, loc model.AdminLocation, at time.Time) error

	// UpdateDetail sets the detail blob key and last-updated only.
	UpdateDetail(ctx context.Context, slug, key string, at time.Time) error

	// Get returns the record, or nil when it does not exist.
	Get(ctx context.Context, slug string) (*model.AreaRecord, error)

	Count(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
