// Package worker drains the work queue in time-boxed invocations and starts
// a successor when backlog remains.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/model"
	"github.com/sells-group/skiatlas/internal/pipeline"
	"github.com/sells-group/skiatlas/internal/queue"
)

// Events reported to an observer.
const (
	EventProcessed = "processed"
	EventFailed    = "failed"
	EventSpawned   = "spawned"
)

// Options bounds one worker invocation.
type Options struct {
	MaxMessages       int           `mapstructure:"max_messages"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	SafetyMargin      time.Duration `mapstructure:"safety_margin"`
	Lease             time.Duration `mapstructure:"lease"`
	// Budget bounds the full stage chain for one batch when Enrich is set.
	// Zero uses whatever processing time is left.
	Budget time.Duration `mapstructure:"budget"`
	// Enrich runs location and detail stages inline instead of stopping at
	// the basic record.
	Enrich bool `mapstructure:"enrich"`
}

// DefaultOptions returns the stock invocation limits.
func DefaultOptions() Options {
	return Options{
		MaxMessages:       10,
		MaxProcessingTime: 240 * time.Second,
		SafetyMargin:      30 * time.Second,
		Lease:             queue.DefaultLease,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxMessages <= 0 {
		o.MaxMessages = d.MaxMessages
	}
	if o.MaxProcessingTime <= 0 {
		o.MaxProcessingTime = d.MaxProcessingTime
	}
	if o.SafetyMargin <= 0 {
		o.SafetyMargin = d.SafetyMargin
	}
	if o.Lease <= 0 {
		o.Lease = d.Lease
	}
	return o
}

// Processor runs pipeline stages for queued elements.
type Processor interface {
	Extract(ctx context.Context, el model.RawElement) (model.AreaRecord, error)
	Drive(ctx context.Context, state pipeline.ContinuationState, budget time.Duration) (pipeline.ContinuationState, error)
}

// Report summarizes one invocation.
type Report struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Spawned   bool          `json:"spawned"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Option configures a Worker.
type Option func(*Worker)

// WithObserver registers a callback for processed, failed and spawned events.
func WithObserver(fn func(event string)) Option {
	return func(w *Worker) {
		w.observe = fn
	}
}

// Worker consumes queued batches.
type Worker struct {
	queue   queue.Queue
	proc    Processor
	spawner pipeline.Spawner
	opts    Options
	observe func(string)
	now     func() time.Time
}

// New creates a Worker. A nil spawner never starts successors.
func New(q queue.Queue, proc Processor, spawner pipeline.Spawner, opts Options, options ...Option) *Worker {
	if spawner == nil {
		spawner = NopSpawner{}
	}
	w := &Worker{
		queue:   q,
		proc:    proc,
		spawner: spawner,
		opts:    opts.withDefaults(),
		observe: func(string) {},
		now:     time.Now,
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// Run processes messages until the queue is empty or a bound is reached:
// MaxMessages received, MaxProcessingTime elapsed, or less than SafetyMargin
// left before deadline. A zero deadline means the host imposes none. When it
// stopped on a bound and the queue still has visible messages, Run spawns a
// successor before returning.
func (w *Worker) Run(ctx context.Context, deadline time.Time) (Report, error) {
	log := zap.L().With(zap.String("component", "worker"))
	start := w.now()
	stopAt := start.Add(w.opts.MaxProcessingTime)

	var rep Report
	received := 0
	bounded := false
	for {
		if received >= w.opts.MaxMessages || !w.now().Before(stopAt) || w.lowOnTime(deadline) {
			bounded = true
			break
		}
		if ctx.Err() != nil {
			rep.Elapsed = w.now().Sub(start)
			return rep, eris.Wrap(ctx.Err(), "worker: run")
		}

		d, err := w.queue.Receive(ctx, w.opts.Lease)
		if errors.Is(err, queue.ErrBadPayload) {
			received++
			rep.Failed++
			w.observe(EventFailed)
			continue
		}
		if err != nil {
			rep.Elapsed = w.now().Sub(start)
			return rep, eris.Wrap(err, "worker: receive")
		}
		if d == nil {
			log.Info("queue drained")
			break
		}
		received++

		blog := log.With(zap.String("batch_id", d.Message.BatchID), zap.Int("receive_count", d.ReceiveCount))
		if err := w.process(ctx, d, stopAt); err != nil {
			blog.Warn("batch failed, leaving it leased for redelivery", zap.Error(err))
			rep.Failed++
			w.observe(EventFailed)
			continue
		}
		if err := w.queue.Delete(ctx, d); err != nil {
			blog.Warn("ack failed, batch will be redelivered", zap.Error(err))
		}
		rep.Processed++
		w.observe(EventProcessed)
	}

	if bounded {
		rep.Spawned = w.maybeSpawn(ctx, log)
	}
	rep.Elapsed = w.now().Sub(start)
	log.Info("worker invocation finished",
		zap.Int("processed", rep.Processed),
		zap.Int("failed", rep.Failed),
		zap.Bool("spawned", rep.Spawned),
		zap.Duration("elapsed", rep.Elapsed),
	)
	return rep, nil
}

func (w *Worker) lowOnTime(deadline time.Time) bool {
	return !deadline.IsZero() && deadline.Sub(w.now()) < w.opts.SafetyMargin
}

func (w *Worker) maybeSpawn(ctx context.Context, log *zap.Logger) bool {
	backlog, err := w.queue.Backlog(ctx)
	if err != nil {
		log.Warn("backlog check failed, not spawning", zap.Error(err))
		return false
	}
	if backlog == 0 {
		return false
	}
	if err := w.spawner.Spawn(ctx); err != nil {
		log.Warn("failed to spawn successor", zap.Int("backlog", backlog), zap.Error(err))
		return false
	}
	log.Info("spawned successor", zap.Int("backlog", backlog))
	w.observe(EventSpawned)
	return true
}

// process runs one batch. Every element is attempted; any failure leaves
// the whole message for redelivery.
func (w *Worker) process(ctx context.Context, d *queue.Delivery, stopAt time.Time) error {
	if w.opts.Enrich {
		budget := w.opts.Budget
		if budget <= 0 {
			budget = stopAt.Sub(w.now())
		}
		state, err := w.proc.Drive(ctx, pipeline.NewState(d.Message.Elements), budget)
		if err != nil {
			return err
		}
		if n := len(state.Failures); n > 0 {
			return eris.Errorf("worker: %d of %d elements failed, first %s: %s",
				n, len(d.Message.Elements), state.Failures[0].Ref, state.Failures[0].Error)
		}
		return nil
	}

	var failed int
	var first error
	for _, el := range d.Message.Elements {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.proc.Extract(ctx, el); err != nil {
			zap.L().Warn("worker: element failed",
				zap.String("batch_id", d.Message.BatchID),
				zap.String("element", el.Ref()),
				zap.Error(err),
			)
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if failed > 0 {
		return eris.Wrapf(first, "worker: %d of %d elements failed", failed, len(d.Message.Elements))
	}
	return nil
}
