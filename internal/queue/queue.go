// Package queue carries discovery batches to queue workers. Every
// implementation delivers at least once: a received message stays invisible
// to other consumers until its lease expires or it is deleted.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skiatlas/internal/model"
)

// DefaultLease is how long a received message stays invisible.
const DefaultLease = 60 * time.Second

var (
	// ErrLeaseLost is returned by Delete when the lease expired and the
	// message was handed to another consumer.
	ErrLeaseLost = errors.New("queue: lease lost")
	// ErrBadPayload marks a message whose body is not a QueueMessage. Such
	// messages are dropped on receipt.
	ErrBadPayload = errors.New("queue: undecodable payload")
)

// Delivery is one leased message.
type Delivery struct {
	ID           string
	Receipt      string
	ReceiveCount int
	Message      model.QueueMessage
}

// Queue is the durable work queue.
type Queue interface {
	// Send enqueues one batch.
	Send(ctx context.Context, msg model.QueueMessage) error
	// Receive leases the oldest visible message. It returns nil, nil when
	// nothing is visible.
	Receive(ctx context.Context, lease time.Duration) (*Delivery, error)
	// Delete acknowledges a delivery.
	Delete(ctx context.Context, d *Delivery) error
	// Backlog reports how many messages are visible.
	Backlog(ctx context.Context) (int, error)
}

func encode(msg model.QueueMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: encode batch %s", msg.BatchID)
	}
	return body, nil
}

func decode(body []byte) (model.QueueMessage, error) {
	var msg model.QueueMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, eris.Wrapf(ErrBadPayload, "queue: decode: %v", err)
	}
	return msg, nil
}
