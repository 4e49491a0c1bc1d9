package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skiatlas/internal/model"
	"github.com/sells-group/skiatlas/internal/pipeline"
	"github.com/sells-group/skiatlas/internal/queue"
)

type fakeProcessor struct {
	extracted []string
	driven    int
	failSlug  string
	onExtract func()
	driveFn   func(pipeline.ContinuationState) (pipeline.ContinuationState, error)
}

func (f *fakeProcessor) Extract(_ context.Context, el model.RawElement) (model.AreaRecord, error) {
	if f.onExtract != nil {
		f.onExtract()
	}
	if el.Slug() == f.failSlug {
		return model.AreaRecord{}, &model.PersistenceError{Slug: el.Slug(), Op: "basic", Err: errors.New("conflict")}
	}
	f.extracted = append(f.extracted, el.Slug())
	return model.AreaRecord{Slug: el.Slug()}, nil
}

func (f *fakeProcessor) Drive(_ context.Context, state pipeline.ContinuationState, _ time.Duration) (pipeline.ContinuationState, error) {
	f.driven++
	if f.driveFn != nil {
		return f.driveFn(state)
	}
	return pipeline.NewState(nil), nil
}

type countingSpawner struct {
	spawns int
	err    error
}

func (s *countingSpawner) Spawn(context.Context) error {
	s.spawns++
	return s.err
}

func element(name string) model.RawElement {
	lat, lon := 46.0, 7.0
	return model.RawElement{ID: 1, Type: model.KindNode, Lat: &lat, Lon: &lon, Tags: map[string]string{"name": name}}
}

func preload(t *testing.T, q queue.Queue, n int) {
	t.Helper()
	for i := range n {
		require.NoError(t, q.Send(context.Background(), model.QueueMessage{
			BatchID:  fmt.Sprintf("batch-%02d", i),
			Elements: []model.RawElement{element(fmt.Sprintf("Area %02d", i))},
		}))
	}
}

func TestRun_CapThenSpawn(t *testing.T) {
	q := queue.NewMemory()
	preload(t, q, 25)
	proc := &fakeProcessor{}
	sp := &countingSpawner{}

	rep, err := New(q, proc, sp, Options{MaxMessages: 10}).Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 10, rep.Processed)
	assert.Equal(t, 0, rep.Failed)
	assert.True(t, rep.Spawned)
	assert.Equal(t, 1, sp.spawns)
	assert.Equal(t, 15, q.Len())
	assert.Len(t, proc.extracted, 10)
}

func TestRun_SuccessiveInvocationsDrainQueue(t *testing.T) {
	q := queue.NewMemory()
	preload(t, q, 25)
	proc := &fakeProcessor{}
	sp := &countingSpawner{}

	var processed []int
	for range 3 {
		rep, err := New(q, proc, sp, Options{MaxMessages: 10}).Run(context.Background(), time.Time{})
		require.NoError(t, err)
		processed = append(processed, rep.Processed)
	}

	assert.Equal(t, []int{10, 10, 5}, processed)
	assert.Equal(t, 2, sp.spawns)
	assert.Equal(t, 0, q.Len())
	assert.Len(t, proc.extracted, 25)
}

func TestRun_EmptyQueue(t *testing.T) {
	sp := &countingSpawner{}
	rep, err := New(queue.NewMemory(), &fakeProcessor{}, sp, Options{}).Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, Report{Elapsed: rep.Elapsed}, rep)
	assert.Equal(t, 0, sp.spawns)
}

func TestRun_LowOnTimeSpawnsWithoutProcessing(t *testing.T) {
	q := queue.NewMemory()
	preload(t, q, 3)
	sp := &countingSpawner{}
	w := New(q, &fakeProcessor{}, sp, Options{SafetyMargin: 30 * time.Second})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	rep, err := w.Run(context.Background(), now.Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Processed)
	assert.True(t, rep.Spawned)
	assert.Equal(t, 3, q.Len())
}

func TestRun_ProcessingTimeBound(t *testing.T) {
	q := queue.NewMemory()
	preload(t, q, 10)
	sp := &countingSpawner{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	proc := &fakeProcessor{onExtract: func() { now = now.Add(100 * time.Second) }}

	w := New(q, proc, sp, Options{MaxProcessingTime: 240 * time.Second})
	w.now = func() time.Time { return now }

	rep, err := w.Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Processed)
	assert.True(t, rep.Spawned)
	assert.Equal(t, 300*time.Second, rep.Elapsed)
}

func TestRun_FailedBatchStaysLeased(t *testing.T) {
	q := queue.NewMemory()
	preload(t, q, 3)
	proc := &fakeProcessor{failSlug: "area-01"}
	var events []string

	rep, err := New(q, proc, nil, Options{}, WithObserver(func(e string) { events = append(events, e) })).
		Run(context.Background(), time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 1, rep.Failed)
	assert.False(t, rep.Spawned)
	assert.Equal(t, 1, q.Len())
	backlog, err := q.Backlog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, backlog)
	assert.Equal(t, []string{EventProcessed, EventFailed, EventProcessed}, events)
}

func TestRun_ElementFailureDoesNotStopSiblings(t *testing.T) {
	q := queue.NewMemory()
	require.NoError(t, q.Send(context.Background(), model.QueueMessage{
		BatchID:  "mixed",
		Elements: []model.RawElement{element("Good One"), element("Bad"), element("Good Two")},
	}))
	proc := &fakeProcessor{failSlug: "bad"}

	rep, err := New(q, proc, nil, Options{}).Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, []string{"good-one", "good-two"}, proc.extracted)
}

func TestRun_Enrich(t *testing.T) {
	q := queue.NewMemory()
	preload(t, q, 2)
	proc := &fakeProcessor{}

	rep, err := New(q, proc, nil, Options{Enrich: true}).Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 2, proc.driven)
	assert.Empty(t, proc.extracted)
}

func TestRun_EnrichFailuresLeaveMessage(t *testing.T) {
	q := queue.NewMemory()
	preload(t, q, 1)
	proc := &fakeProcessor{driveFn: func(pipeline.ContinuationState) (pipeline.ContinuationState, error) {
		s := pipeline.NewState(nil)
		s.Failures = []pipeline.ElementFailure{{Ref: "node/1", Slug: "area-00", Error: "boom"}}
		return s, nil
	}}

	rep, err := New(q, proc, nil, Options{Enrich: true}).Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, q.Len())
}

func TestRun_EnrichBudgetExhausted(t *testing.T) {
	q := queue.NewMemory()
	preload(t, q, 1)
	proc := &fakeProcessor{driveFn: func(s pipeline.ContinuationState) (pipeline.ContinuationState, error) {
		return s, model.ErrBudgetExhausted
	}}

	rep, err := New(q, proc, nil, Options{Enrich: true}).Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
}

func TestRun_SpawnFailureReported(t *testing.T) {
	q := queue.NewMemory()
	preload(t, q, 3)
	sp := &countingSpawner{err: errors.New("throttled")}

	rep, err := New(q, &fakeProcessor{}, sp, Options{MaxMessages: 1}).Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Processed)
	assert.False(t, rep.Spawned)
	assert.Equal(t, 1, sp.spawns)
}

func TestRun_CanceledContext(t *testing.T) {
	q := queue.NewMemory()
	preload(t, q, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(q, &fakeProcessor{}, nil, Options{}).Run(ctx, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, q.Len())
}

type badPayloadQueue struct {
	*queue.MemoryQueue
	bad int
}

func (b *badPayloadQueue) Receive(ctx context.Context, lease time.Duration) (*queue.Delivery, error) {
	if b.bad > 0 {
		b.bad--
		return nil, queue.ErrBadPayload
	}
	return b.MemoryQueue.Receive(ctx, lease)
}

func TestRun_BadPayloadCountsAsFailed(t *testing.T) {
	q := &badPayloadQueue{MemoryQueue: queue.NewMemory(), bad: 1}
	preload(t, q, 1)

	rep, err := New(q, &fakeProcessor{}, nil, Options{}).Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Processed)
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, 10, o.MaxMessages)
	assert.Equal(t, 240*time.Second, o.MaxProcessingTime)
	assert.Equal(t, 30*time.Second, o.SafetyMargin)
	assert.Equal(t, 60*time.Second, o.Lease)
	assert.False(t, o.Enrich)
}
