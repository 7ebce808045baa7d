package worker

import (
	"context"

	"github.com/sungwon/newsletter/internal/outbox"
)

// NewPostgresQueue adapts the outbox to Queue.
func NewPostgresQueue(q *outbox.Queue) Queue {
	return postgresQueue{q: q}
}

type postgresQueue struct {
	q *outbox.Queue
}

func (p postgresQueue) Dequeue(ctx context.Context) (Task, error) {
	t, err := p.q.Dequeue(ctx)
	if err != nil || t == nil {
		// Never wrap a nil *outbox.Task in a non-nil Task.
		return nil, err
	}
	return postgresTask{t}, nil
}

type postgresTask struct {
	*outbox.Task
}

func (t postgresTask) Delivery() Delivery {
	return Delivery{IssueID: t.IssueID, SubscriberEmail: t.SubscriberEmail}
}
