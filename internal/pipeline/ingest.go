package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/model"
)

// Enqueuer sends batches to the durable work queue.
type Enqueuer interface {
	Send(ctx context.Context, msg model.QueueMessage) error
}

// Spawner starts a queue worker invocation without waiting for it.
type Spawner interface {
	Spawn(ctx context.Context) error
}

// IngestOptions controls Ingest.
type IngestOptions struct {
	Plan PlanOptions
	// Budget bounds a direct run; zero means no limit.
	Budget time.Duration
}

// IngestResult summarizes an ingestion trigger.
type IngestResult struct {
	Total    int                `json:"total"`
	Mode     Mode               `json:"mode"`
	Batches  int                `json:"batches,omitempty"`
	BatchIDs []string           `json:"batch_ids,omitempty"`
	State    *ContinuationState `json:"state,omitempty"`
}

// Ingester connects discovery to either the orchestrator or the queue.
type Ingester struct {
	discoverer   *Discoverer
	orchestrator *Orchestrator
	queue        Enqueuer
	spawner      Spawner
	opts         IngestOptions
}

// NewIngester creates an Ingester. queue and spawner may be nil when only
// direct runs are wanted.
func NewIngester(d *Discoverer, o *Orchestrator, q Enqueuer, s Spawner, opts IngestOptions) *Ingester {
	return &Ingester{discoverer: d, orchestrator: o, queue: q, spawner: s, opts: opts}
}

// Ingest discovers the areas for trigger and processes or enqueues them. A
// direct run that exhausts its budget returns the unfinished state in the
// result without an error.
func (i *Ingester) Ingest(ctx context.Context, trigger model.TriggerPayload) (*IngestResult, error) {
	elements, err := i.discoverer.Discover(ctx, trigger)
	if err != nil {
		return nil, err
	}

	plan := MakePlan(elements, trigger, i.opts.Plan)
	result := &IngestResult{Total: len(elements), Mode: plan.Mode}
	if plan.Mode == ModeDirect {
		state, err := i.orchestrator.Drive(ctx, plan.State, i.opts.Budget)
		if err != nil && !errors.Is(err, model.ErrBudgetExhausted) {
			return nil, err
		}
		if err != nil {
			zap.L().Info("pipeline: budget exhausted, handing off state", zap.Int("pending", state.Pending()))
		}
		result.State = &state
		return result, nil
	}

	if i.queue == nil {
		return nil, eris.New("pipeline: queued ingestion requires a work queue")
	}
	for _, msg := range plan.Batches {
		if err := i.queue.Send(ctx, msg); err != nil {
			return nil, eris.Wrapf(err, "pipeline: enqueue batch %s", msg.BatchID)
		}
		result.BatchIDs = append(result.BatchIDs, msg.BatchID)
	}
	result.Batches = len(plan.Batches)
	zap.L().Info("pipeline: enqueued batches", zap.Int("batches", result.Batches), zap.Int("elements", result.Total))

	if i.spawner != nil {
		if err := i.spawner.Spawn(ctx); err != nil {
			zap.L().Warn("pipeline: failed to start worker, batches stay queued", zap.Error(err))
		}
	}
	return result, nil
}
