package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Snapshot holds a point-in-time view of ingestion health.
type Snapshot struct {
	Areas        int       `json:"areas" yaml:"areas"`
	QueueBacklog int       `json:"queue_backlog" yaml:"queue_backlog"`
	CollectedAt  time.Time `json:"collected_at" yaml:"collected_at"`
}

// AreaCounter reports how many area records exist.
type AreaCounter interface {
	Count(ctx context.Context) (int, error)
}

// BacklogReader reports the visible queue depth.
type BacklogReader interface {
	Backlog(ctx context.Context) (int, error)
}

// Collector gathers a Snapshot from the area store and the work queue.
type Collector struct {
	areas AreaCounter
	queue BacklogReader
}

// NewCollector creates a Collector. A nil queue reports zero backlog.
func NewCollector(areas AreaCounter, queue BacklogReader) *Collector {
	return &Collector{areas: areas, queue: queue}
}

// Collect gathers a snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}

	n, err := c.areas.Count(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count areas")
	}
	snap.Areas = n

	if c.queue != nil {
		backlog, err := c.queue.Backlog(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: queue backlog")
		}
		snap.QueueBacklog = backlog
	}
	return snap, nil
}
