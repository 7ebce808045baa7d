package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/sungwon/newsletter/internal/issue"
	"github.com/sungwon/newsletter/internal/subscriber"
)

type fakeTask struct {
	d           Delivery
	completeErr error

	mu        sync.Mutex
	completed bool
	released  bool
}

func (t *fakeTask) Delivery() Delivery { return t.d }

func (t *fakeTask) Complete(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completeErr != nil {
		return t.completeErr
	}
	t.completed = true
	return nil
}

func (t *fakeTask) Release(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released = true
	return nil
}

func (t *fakeTask) state() (completed, released bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.released
}

// fakeQueue hands out tasks in order. Released tasks go to the back.
type fakeQueue struct {
	mu      sync.Mutex
	pending []*fakeTask
	err     error
}

func (q *fakeQueue) Dequeue(context.Context) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	if len(q.pending) == 0 {
		return nil, nil
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return &requeueTask{fakeTask: t, q: q}, nil
}

func (q *fakeQueue) add(tasks ...*fakeTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, tasks...)
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

type requeueTask struct {
	*fakeTask
	q *fakeQueue
}

func (t *requeueTask) Release(ctx context.Context) error {
	_ = t.fakeTask.Release(ctx)
	t.q.add(t.fakeTask)
	return nil
}

type fakeIssues struct {
	issues map[uuid.UUID]*issue.Issue
	err    error
}

func (f *fakeIssues) Get(_ context.Context, id uuid.UUID) (*issue.Issue, error) {
	if f.err != nil {
		return nil, f.err
	}
	iss, ok := f.issues[id]
	if !ok {
		return nil, issue.ErrNotFound
	}
	return iss, nil
}

type sentEmail struct {
	to, subject, html, text string
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []sentEmail
	// errs is consumed one per call; nil entries succeed.
	errs []error
}

func (f *fakeEmail) SendEmail(_ context.Context, to subscriber.Email, subject, html, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentEmail{to: to.String(), subject: subject, html: html, text: text})
	return nil
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var errBoom = errors.New("boom")

func testIssue() *issue.Issue {
	return &issue.Issue{
		ID:          uuid.New(),
		Title:       "Issue #1",
		TextContent: "plain",
		HTMLContent: "<p>html</p>",
	}
}

func issuesOf(iss ...*issue.Issue) *fakeIssues {
	m := make(map[uuid.UUID]*issue.Issue, len(iss))
	for _, i := range iss {
		m[i.ID] = i
	}
	return &fakeIssues{issues: m}
}
