// Package worker drains the delivery outbox: each attempt claims one
// (issue, subscriber) task, sends the email and deletes the task in the
// same transaction that held its row lock.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/issue"
	"github.com/sungwon/newsletter/internal/metrics"
	"github.com/sungwon/newsletter/internal/provider"
	"github.com/sungwon/newsletter/internal/subscriber"
)

// ErrDeliveryFailed wraps transient send failures. The task stays pending
// and will be picked up again.
var ErrDeliveryFailed = errors.New("delivery failed")

// Outcome is the result of a successful ProcessOne.
type Outcome int

const (
	// TaskCompleted: one task was resolved and removed from the queue.
	TaskCompleted Outcome = iota
	// EmptyQueue: no task was available.
	EmptyQueue
)

func (o Outcome) String() string {
	switch o {
	case TaskCompleted:
		return "task_completed"
	case EmptyQueue:
		return "empty_queue"
	default:
		return "unknown"
	}
}

// Delivery identifies one email owed to one subscriber.
type Delivery struct {
	IssueID         uuid.UUID
	SubscriberEmail string
}

// Task is a claimed delivery. Exactly one of Complete or Release must be
// called.
type Task interface {
	Delivery() Delivery
	// Complete removes the task durably.
	Complete(ctx context.Context) error
	// Release gives the task back to the queue.
	Release(ctx context.Context) error
}

// Queue hands out tasks. Dequeue returns a nil Task when none is available.
type Queue interface {
	Dequeue(ctx context.Context) (Task, error)
}

// IssueReader loads issue content.
type IssueReader interface {
	Get(ctx context.Context, id uuid.UUID) (*issue.Issue, error)
}

// EmailClient sends one email. Errors for which provider.IsPermanent holds
// are treated as final for that recipient.
type EmailClient interface {
	SendEmail(ctx context.Context, recipient subscriber.Email, subject, htmlBody, textBody string) error
}

// Config controls the pacing of a worker loop.
type Config struct {
	IdleInterval   time.Duration
	ErrorInterval  time.Duration
	ProcessTimeout time.Duration
}

const (
	defaultIdleInterval   = 10 * time.Second
	defaultErrorInterval  = time.Second
	defaultProcessTimeout = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.IdleInterval <= 0 {
		c.IdleInterval = defaultIdleInterval
	}
	if c.ErrorInterval <= 0 {
		c.ErrorInterval = defaultErrorInterval
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = defaultProcessTimeout
	}
	return c
}

// Worker processes tasks one at a time.
type Worker struct {
	queue  Queue
	issues IssueReader
	email  EmailClient
	cfg    Config
	wake   <-chan struct{}
	log    zerolog.Logger
}

// New creates a Worker. Zero Config fields take their defaults.
func New(queue Queue, issues IssueReader, email EmailClient, cfg Config, log zerolog.Logger) *Worker {
	return &Worker{
		queue:  queue,
		issues: issues,
		email:  email,
		cfg:    cfg.withDefaults(),
		log:    log,
	}
}

// ProcessOne claims one task and resolves it. A returned error means the
// task, if any, was released and is still pending.
func (w *Worker) ProcessOne(ctx context.Context) (Outcome, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return TaskCompleted, fmt.Errorf("dequeue delivery: %w", err)
	}
	if task == nil {
		return EmptyQueue, nil
	}

	start := time.Now()
	d := task.Delivery()
	log := w.log.With().
		Str("issue_id", d.IssueID.String()).
		Str("recipient", d.SubscriberEmail).
		Logger()

	err = w.deliver(ctx, task, d, log)
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	return TaskCompleted, err
}

func (w *Worker) deliver(ctx context.Context, task Task, d Delivery, log zerolog.Logger) error {
	recipient, err := subscriber.ParseEmail(d.SubscriberEmail)
	if err != nil {
		log.Error().Err(err).Str("outcome", "invalid_recipient").
			Msg("skipping delivery: stored subscriber email is invalid")
		return w.complete(ctx, task, log, "invalid_recipient")
	}

	iss, err := w.issues.Get(ctx, d.IssueID)
	if errors.Is(err, issue.ErrNotFound) {
		log.Error().Str("outcome", "issue_missing").
			Msg("skipping delivery: issue does not exist")
		return w.complete(ctx, task, log, "issue_missing")
	}
	if err != nil {
		return w.release(ctx, task, log, fmt.Errorf("load issue %s: %w", d.IssueID, err))
	}

	err = w.email.SendEmail(ctx, recipient, iss.Title, iss.HTMLContent, iss.TextContent)
	switch {
	case err == nil:
		return w.complete(ctx, task, log, "delivered")
	case provider.IsPermanent(err):
		log.Error().Err(err).Str("outcome", "rejected").
			Msg("delivery permanently rejected, dropping task")
		return w.complete(ctx, task, log, "rejected")
	default:
		return w.release(ctx, task, log, fmt.Errorf("%w: %w", ErrDeliveryFailed, err))
	}
}

func (w *Worker) complete(ctx context.Context, task Task, log zerolog.Logger, outcome string) error {
	if err := task.Complete(ctx); err != nil {
		// The send may have happened; the task stays and will be resent.
		metrics.DeliveriesTotal.WithLabelValues("retry").Inc()
		log.Error().Err(err).Str("outcome", "retry").Msg("failed to complete delivery task")
		return fmt.Errorf("complete delivery task: %w", err)
	}
	metrics.DeliveriesTotal.WithLabelValues(outcome).Inc()
	if outcome == "delivered" {
		log.Info().Str("outcome", outcome).Msg("newsletter delivered")
	}
	return nil
}

func (w *Worker) release(ctx context.Context, task Task, log zerolog.Logger, cause error) error {
	if err := task.Release(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to release delivery task")
	}
	metrics.DeliveriesTotal.WithLabelValues("retry").Inc()
	log.Warn().Err(cause).Str("outcome", "retry").Msg("delivery attempt failed, task left pending")
	return cause
}

// Run calls ProcessOne until ctx is cancelled. It sleeps IdleInterval after
// an empty poll and ErrorInterval after a failure; a wake-up signal ends
// either sleep early. Attempts in flight when ctx is cancelled run to
// completion, bounded by ProcessTimeout.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ProcessTimeout)
		outcome, err := w.ProcessOne(attemptCtx)
		cancel()

		var wait time.Duration
		switch {
		case err != nil:
			if !errors.Is(err, ErrDeliveryFailed) {
				w.log.Error().Err(err).Msg("delivery worker error")
			}
			wait = w.cfg.ErrorInterval
		case outcome == EmptyQueue:
			wait = w.cfg.IdleInterval
		default:
			continue
		}

		if !w.sleep(ctx, jitter(wait)) {
			return
		}
	}
}

// sleep returns false when ctx is done.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-w.wake:
	}
	return true
}

// jitter spreads d over [d/2, d) so concurrent workers do not poll in step.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
}
