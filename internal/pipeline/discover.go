package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/model"
	"github.com/sells-group/skiatlas/pkg/overpass"
)

// Mode is how an ingestion run processes its elements.
type Mode string

const (
	// ModeDirect drives the continuation state machine in-process.
	ModeDirect Mode = "direct"
	// ModeQueued hands batches to the work queue.
	ModeQueued Mode = "queued"
)

// Planning defaults.
const (
	DefaultDirectThreshold = 10
	DefaultBatchSize       = 10
)

// Discoverer finds the winter-sports areas a trigger asks for.
type Discoverer struct {
	client overpass.Client
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(client overpass.Client) *Discoverer {
	return &Discoverer{client: client}
}

// Discover runs the discovery query for trigger. It returns
// model.ErrNoElements when nothing matches.
func (d *Discoverer) Discover(ctx context.Context, trigger model.TriggerPayload) ([]model.RawElement, error) {
	elements, err := d.client.Query(ctx, overpass.Discovery(trigger))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: discover")
	}
	if len(elements) == 0 {
		return nil, eris.Wrapf(model.ErrNoElements, "pipeline: discover country=%q resort=%q", trigger.Country, trigger.ResortName)
	}
	zap.L().Info("pipeline: discovered areas",
		zap.Int("count", len(elements)),
		zap.String("country", trigger.Country),
		zap.String("resort_name", trigger.ResortName),
	)
	return elements, nil
}

// PlanOptions tunes Plan.
type PlanOptions struct {
	DirectThreshold int
	BatchSize       int
	// Force overrides the size rule when set.
	Force Mode
}

func (o PlanOptions) withDefaults() PlanOptions {
	if o.DirectThreshold <= 0 {
		o.DirectThreshold = DefaultDirectThreshold
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Plan is the decision for a set of discovered elements.
type Plan struct {
	Mode    Mode
	Batches []model.QueueMessage
	State   ContinuationState
}

// MakePlan queues the elements when there are more than the direct
// threshold or the trigger asks for a whole country; otherwise it starts a
// direct continuation run.
func MakePlan(elements []model.RawElement, trigger model.TriggerPayload, opts PlanOptions) Plan {
	opts = opts.withDefaults()
	direct := len(elements) <= opts.DirectThreshold && !trigger.CountryOnly()
	switch opts.Force {
	case ModeDirect:
		direct = true
	case ModeQueued:
		direct = false
	}
	if direct {
		return Plan{Mode: ModeDirect, State: NewState(elements)}
	}

	batches := make([]model.QueueMessage, 0, (len(elements)+opts.BatchSize-1)/opts.BatchSize)
	for start := 0; start < len(elements); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(elements))
		batch := make([]model.RawElement, end-start)
		copy(batch, elements[start:end])
		batches = append(batches, model.QueueMessage{
			BatchID:  uuid.NewString(),
			Elements: batch,
			Filter:   trigger,
		})
	}
	return Plan{Mode: ModeQueued, Batches: batches}
}
