package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sells-group/skiatlas/internal/model"
)

type memItem struct {
	id          string
	body        []byte
	leasedUntil time.Time
	receives    int
}

// MemoryQueue is an in-process Queue for local runs and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	seq   int
	items []*memItem
	now   func() time.Time
}

// NewMemory creates an empty MemoryQueue.
func NewMemory() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

// Send implements Queue.
func (q *MemoryQueue) Send(_ context.Context, msg model.QueueMessage) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.items = append(q.items, &memItem{id: strconv.Itoa(q.seq), body: body})
	return nil
}

// Receive implements Queue.
func (q *MemoryQueue) Receive(ctx context.Context, lease time.Duration) (*Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lease <= 0 {
		lease = DefaultLease
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, it := range q.items {
		if it.leasedUntil.After(now) {
			continue
		}
		it.leasedUntil = now.Add(lease)
		it.receives++
		msg, err := decode(it.body)
		if err != nil {
			q.remove(it.id)
			return nil, err
		}
		return &Delivery{
			ID:           it.id,
			Receipt:      it.id + ":" + strconv.Itoa(it.receives),
			ReceiveCount: it.receives,
			Message:      msg,
		}, nil
	}
	return nil, nil
}

// Delete implements Queue.
func (q *MemoryQueue) Delete(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.id != d.ID {
			continue
		}
		if it.receives != d.ReceiveCount {
			return ErrLeaseLost
		}
		q.remove(it.id)
		return nil
	}
	return ErrLeaseLost
}

// Backlog implements Queue.
func (q *MemoryQueue) Backlog(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	n := 0
	for _, it := range q.items {
		if !it.leasedUntil.After(now) {
			n++
		}
	}
	return n, nil
}

// Len reports every message, visible or leased.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) remove(id string) {
	for i, it := range q.items {
		if it.id == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}
