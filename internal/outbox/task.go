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

// ErrTaskClosed is returned when Complete or Release is called twice.
var ErrTaskClosed = errors.New("delivery task already closed")

// Task is a claimed delivery. The row stays locked by the held transaction
// until Complete or Release.
type Task struct {
	IssueID         uuid.UUID
	SubscriberEmail string

	tx     pgx.Tx
	log    zerolog.Logger
	closed bool
}

// Complete deletes the row and commits. Once it returns nil the delivery
// is never attempted again.
func (t *Task) Complete(ctx context.Context) error {
	if t.closed {
		return ErrTaskClosed
	}
	t.closed = true
	defer storage.Rollback(ctx, t.tx)

	_, err := t.tx.Exec(ctx,
		`DELETE FROM issue_delivery_queue
		 WHERE newsletter_issue_id = $1 AND subscriber_email = $2`,
		t.IssueID, t.SubscriberEmail)
	if err != nil {
		return fmt.Errorf("delete delivery task: %w", err)
	}
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delivery task: %w", err)
	}
	return nil
}

// Release rolls back, unlocking the row so a later dequeue retries it.
func (t *Task) Release(ctx context.Context) error {
	if t.closed {
		return ErrTaskClosed
	}
	t.closed = true

	if err := t.tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		t.log.Warn().Err(err).
			Str("issue_id", t.IssueID.String()).
			Msg("failed to release delivery task")
		return fmt.Errorf("release delivery task: %w", err)
	}
	return nil
}
