package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/metrics"
	"github.com/sungwon/newsletter/internal/notify"
	"github.com/sungwon/newsletter/internal/subscriber"
)

func TestRunner_DrainsWithSeveralWorkers(t *testing.T) {
	iss := testIssue()
	q := &fakeQueue{}
	for i := 0; i < 25; i++ {
		q.add(&fakeTask{d: Delivery{IssueID: iss.ID, SubscriberEmail: fmt.Sprintf("s%d@example.com", i)}})
	}
	email := &fakeEmail{}

	r := NewRunner(q, issuesOf(iss), email, nil, RunnerConfig{
		Config:          Config{IdleInterval: time.Hour, ErrorInterval: 10 * time.Millisecond},
		Concurrency:     4,
		ShutdownTimeout: time.Second,
	}, zerolog.Nop())
	r.Start(context.Background())

	deadline := time.After(5 * time.Second)
	for email.count() < 25 {
		select {
		case <-deadline:
			t.Fatalf("only %d of 25 emails sent", email.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if email.count() != 25 {
		t.Errorf("sent %d emails, want exactly 25", email.count())
	}
}

func TestRunner_NotificationWakesIdleWorkers(t *testing.T) {
	iss := testIssue()
	q := &fakeQueue{}
	email := &fakeEmail{}
	local := notify.NewLocal()

	r := NewRunner(q, issuesOf(iss), email, local, RunnerConfig{
		Config:      Config{IdleInterval: time.Hour},
		Concurrency: 2,
	}, zerolog.Nop())
	r.Start(context.Background())
	defer r.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)
	q.add(&fakeTask{d: Delivery{IssueID: iss.ID, SubscriberEmail: "a@example.com"}})
	_ = local.Publish(context.Background(), iss.ID)

	deadline := time.After(2 * time.Second)
	for email.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("notification did not wake a worker")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// blockingEmail holds every send until release is closed.
type blockingEmail struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingEmail) SendEmail(ctx context.Context, _ subscriber.Email, _, _, _ string) error {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRunner_StopWaitsForInFlightAttempt(t *testing.T) {
	iss := testIssue()
	q := &fakeQueue{}
	task := &fakeTask{d: Delivery{IssueID: iss.ID, SubscriberEmail: "a@example.com"}}
	q.add(task)
	email := &blockingEmail{started: make(chan struct{}, 1), release: make(chan struct{})}

	r := NewRunner(q, issuesOf(iss), email, nil, RunnerConfig{
		Config:          Config{IdleInterval: time.Hour},
		Concurrency:     1,
		ShutdownTimeout: 2 * time.Second,
	}, zerolog.Nop())
	r.Start(context.Background())
	<-email.started

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(context.Background()) }()

	// Cancellation must not abort the attempt already running.
	time.Sleep(50 * time.Millisecond)
	close(email.release)

	if err := <-stopped; err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if completed, _ := task.state(); !completed {
		t.Error("in-flight task should have completed during shutdown")
	}
}

func TestRunner_StopTimesOut(t *testing.T) {
	iss := testIssue()
	q := &fakeQueue{}
	q.add(&fakeTask{d: Delivery{IssueID: iss.ID, SubscriberEmail: "a@example.com"}})
	email := &blockingEmail{started: make(chan struct{}, 1), release: make(chan struct{})}
	defer close(email.release)

	r := NewRunner(q, issuesOf(iss), email, nil, RunnerConfig{
		Config:          Config{IdleInterval: time.Hour, ProcessTimeout: time.Minute},
		Concurrency:     1,
		ShutdownTimeout: 50 * time.Millisecond,
	}, zerolog.Nop())
	r.Start(context.Background())
	<-email.started

	if err := r.Stop(context.Background()); !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("Stop() error = %v, want ErrShutdownTimeout", err)
	}
}

type fixedDepth int64

func (d fixedDepth) Depth(context.Context) (int64, error) { return int64(d), nil }

func TestSampler_SetsQueueDepth(t *testing.T) {
	s := NewSampler(fixedDepth(7), nil, time.Minute, zerolog.Nop())
	s.sample(context.Background())

	if v := testutil.ToFloat64(metrics.DeliveryQueueDepth); v != 7 {
		t.Errorf("queue depth gauge = %v, want 7", v)
	}
}
