// Package outbox implements the issue_delivery_queue table: one row per
// (issue, subscriber) still owed an email.
//
// Rows are written in the publish transaction and removed by the delivery
// worker. A worker claims a row with FOR UPDATE SKIP LOCKED and holds the
// lock until it either deletes the row and commits, or rolls back.
package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/storage"
)

// Queue reads and writes issue_delivery_queue.
type Queue struct {
	conn storage.Conn
	log  zerolog.Logger
}

// NewQueue creates a Queue. Dequeue opens its transactions on conn.
func NewQueue(conn storage.Conn, log zerolog.Logger) *Queue {
	return &Queue{
		conn: conn,
		log:  log.With().Str("component", "outbox").Logger(),
	}
}

// EnqueueConfirmed adds one task per currently confirmed subscriber for
// issueID in a single statement, and returns the number of tasks created.
func (q *Queue) EnqueueConfirmed(ctx context.Context, db storage.DBTX, issueID uuid.UUID) (int64, error) {
	tag, err := db.Exec(ctx,
		`INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email)
		 SELECT $1, email FROM subscriptions WHERE status = 'confirmed'`,
		issueID)
	if err != nil {
		return 0, fmt.Errorf("enqueue deliveries for issue %s: %w", issueID, err)
	}
	return tag.RowsAffected(), nil
}

// Dequeue claims one pending task, skipping rows locked by other workers.
// It returns nil, nil when nothing is available. The caller must end the
// task with Complete or Release.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	tx, err := q.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue transaction: %w", err)
	}

	t := &Task{tx: tx, log: q.log}
	err = tx.QueryRow(ctx,
		`SELECT newsletter_issue_id, subscriber_email
		 FROM issue_delivery_queue
		 FOR UPDATE SKIP LOCKED
		 LIMIT 1`,
	).Scan(&t.IssueID, &t.SubscriberEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		storage.Rollback(ctx, tx)
		return nil, nil
	}
	if err != nil {
		storage.Rollback(ctx, tx)
		return nil, fmt.Errorf("dequeue delivery task: %w", err)
	}
	return t, nil
}

// Pending counts tasks still queued for issueID, including locked ones.
func (q *Queue) Pending(ctx context.Context, issueID uuid.UUID) (int64, error) {
	var n int64
	err := q.conn.QueryRow(ctx,
		`SELECT count(*) FROM issue_delivery_queue WHERE newsletter_issue_id = $1`, issueID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending deliveries for issue %s: %w", issueID, err)
	}
	return n, nil
}

// Depth counts all queued tasks.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var n int64
	if err := q.conn.QueryRow(ctx, `SELECT count(*) FROM issue_delivery_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count delivery queue: %w", err)
	}
	return n, nil
}
