// Package workflow hosts the continuation state machine on Temporal: every
// transition is an activity, and the workflow continues as new after each
// element so its history stays short.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/skiatlas/internal/model"
	"github.com/sells-group/skiatlas/internal/pipeline"
)

// DefaultStageTimeout bounds one transition activity.
const DefaultStageTimeout = 5 * time.Minute

// Input starts or continues an ingest workflow.
type Input struct {
	State        pipeline.ContinuationState `json:"state"`
	StageTimeout time.Duration              `json:"stage_timeout"`
}

// Result is returned once every element is done.
type Result struct {
	Completed []pipeline.CompletedArea  `json:"completed"`
	Failures  []pipeline.ElementFailure `json:"failures,omitempty"`
}

// Activities wraps an orchestrator for Temporal.
type Activities struct {
	orch *pipeline.Orchestrator
}

// NewActivities creates Activities for o.
func NewActivities(o *pipeline.Orchestrator) *Activities {
	return &Activities{orch: o}
}

// Step runs one transition. A state that cannot be resumed is not retried.
func (a *Activities) Step(ctx context.Context, state pipeline.ContinuationState) (pipeline.ContinuationState, error) {
	next, err := a.orch.Step(ctx, state)
	if errors.Is(err, model.ErrInvalidState) {
		return state, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidState", err)
	}
	return next, err
}

// IngestWorkflow drives in.State to completion.
func IngestWorkflow(ctx workflow.Context, in Input) (Result, error) {
	timeout := in.StageTimeout
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})
	log := workflow.GetLogger(ctx)

	var a *Activities
	state := in.State
	for steps := 0; !state.Done(); steps++ {
		// A new element starting means the previous one finished.
		if steps > 0 && state.Stage == pipeline.StageDiscovered {
			log.Info("continuing as new", "pending", state.Pending(), "completed", len(state.Completed))
			return Result{}, workflow.NewContinueAsNewError(ctx, IngestWorkflow, Input{State: state, StageTimeout: in.StageTimeout})
		}
		// Decode into a zero value: omitempty fields absent from the result
		// must not keep their previous contents.
		var next pipeline.ContinuationState
		if err := workflow.ExecuteActivity(ctx, a.Step, state).Get(ctx, &next); err != nil {
			return Result{}, err
		}
		state = next
	}

	log.Info("ingest workflow complete", "completed", len(state.Completed), "failures", len(state.Failures))
	return Result{Completed: state.Completed, Failures: state.Failures}, nil
}

// Register adds the workflow and its activities to w.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflow(IngestWorkflow)
	w.RegisterActivity(acts)
}

// Start launches IngestWorkflow for state on taskQueue.
func Start(ctx context.Context, c client.Client, taskQueue string, in Input) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "skiatlas-ingest-" + uuid.NewString(),
		TaskQueue: taskQueue,
	}, IngestWorkflow, in)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: start ingest")
	}
	return run, nil
}
