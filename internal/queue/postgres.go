package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/db"
	"github.com/sells-group/skiatlas/internal/model"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS ingest_queue (
	id            BIGSERIAL PRIMARY KEY,
	batch_id      TEXT NOT NULL,
	payload       JSONB NOT NULL,
	leased_until  TIMESTAMPTZ,
	receive_count INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ingest_queue_created ON ingest_queue (created_at, id);
`

// PostgresQueue is a Queue backed by the ingest_queue table. Concurrent
// workers claim rows with FOR UPDATE SKIP LOCKED; the receive count fences
// deletes from a consumer whose lease already expired.
type PostgresQueue struct {
	pool db.Pool
}

// NewPostgres creates a PostgresQueue on pool.
func NewPostgres(pool db.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool}
}

// Migrate creates the queue table.
func (q *PostgresQueue) Migrate(ctx context.Context) error {
	err := db.WithTx(ctx, q.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, postgresMigration)
		return err
	})
	return eris.Wrap(err, "queue: migrate")
}

// Send implements Queue.
func (q *PostgresQueue) Send(ctx context.Context, msg model.QueueMessage) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	_, err = q.pool.Exec(ctx,
		`INSERT INTO ingest_queue (batch_id, payload) VALUES ($1, $2)`,
		msg.BatchID, body,
	)
	return eris.Wrapf(err, "queue: send batch %s", msg.BatchID)
}

// Receive implements Queue.
func (q *PostgresQueue) Receive(ctx context.Context, lease time.Duration) (*Delivery, error) {
	if lease <= 0 {
		lease = DefaultLease
	}

	var (
		id       int64
		batchID  string
		payload  []byte
		receives int
	)
	err := q.pool.QueryRow(ctx, `
		UPDATE ingest_queue
		SET leased_until = now() + make_interval(secs => $1), receive_count = receive_count + 1
		WHERE id = (
			SELECT id FROM ingest_queue
			WHERE leased_until IS NULL OR leased_until < now()
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, batch_id, payload, receive_count`,
		lease.Seconds(),
	).Scan(&id, &batchID, &payload, &receives)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "queue: receive")
	}

	msg, err := decode(payload)
	if err != nil {
		zap.L().Error("queue: dropping undecodable message", zap.Int64("queue_id", id), zap.String("batch_id", batchID), zap.Error(err))
		if _, delErr := q.pool.Exec(ctx, `DELETE FROM ingest_queue WHERE id = $1`, id); delErr != nil {
			zap.L().Error("queue: drop message", zap.Int64("queue_id", id), zap.Error(delErr))
		}
		return nil, err
	}

	sid := strconv.FormatInt(id, 10)
	return &Delivery{
		ID:           sid,
		Receipt:      sid + ":" + strconv.Itoa(receives),
		ReceiveCount: receives,
		Message:      msg,
	}, nil
}

// Delete implements Queue.
func (q *PostgresQueue) Delete(ctx context.Context, d *Delivery) error {
	id, err := strconv.ParseInt(d.ID, 10, 64)
	if err != nil {
		return eris.Wrapf(err, "queue: delete: bad id %q", d.ID)
	}
	tag, err := q.pool.Exec(ctx,
		`DELETE FROM ingest_queue WHERE id = $1 AND receive_count = $2`,
		id, d.ReceiveCount,
	)
	if err != nil {
		return eris.Wrapf(err, "queue: delete %s", d.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrLeaseLost, "queue: delete %s", d.ID)
	}
	return nil
}

// Backlog implements Queue.
func (q *PostgresQueue) Backlog(ctx context.Context) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx,
		`SELECT count(*) FROM ingest_queue WHERE leased_until IS NULL OR leased_until < now()`,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "queue: backlog")
	}
	return n, nil
}
