package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/notify"
)

// ErrShutdownTimeout is returned by Stop when workers are still busy after
// the shutdown timeout.
var ErrShutdownTimeout = errors.New("delivery workers did not stop in time")

// RunnerConfig sizes the pool.
type RunnerConfig struct {
	Config
	Concurrency     int
	ShutdownTimeout time.Duration
}

// Runner owns a fixed set of worker loops sharing one queue.
type Runner struct {
	queue    Queue
	issues   IssueReader
	email    EmailClient
	listener notify.Listener
	cfg      RunnerConfig
	log      zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRunner creates a Runner. A nil listener means workers only poll.
func NewRunner(
	queue Queue,
	issues IssueReader,
	email EmailClient,
	listener notify.Listener,
	cfg RunnerConfig,
	log zerolog.Logger,
) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if listener == nil {
		listener = notify.Noop{}
	}
	return &Runner{
		queue:    queue,
		issues:   issues,
		email:    email,
		listener: listener,
		cfg:      cfg,
		log:      log.With().Str("component", "delivery_worker").Logger(),
	}
}

// Start launches the worker loops and returns immediately.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	wakes := make([]chan struct{}, r.cfg.Concurrency)
	for i := range wakes {
		wakes[i] = make(chan struct{}, 1)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.fanOut(ctx, wakes)
	}()

	for i := range r.cfg.Concurrency {
		w := New(r.queue, r.issues, r.email, r.cfg.Config,
			r.log.With().Str("worker", fmt.Sprintf("worker-%d", i)).Logger())
		w.wake = wakes[i]

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			w.log.Info().Msg("worker started")
			w.Run(ctx)
			w.log.Info().Msg("worker stopped")
		}()
	}

	r.log.Info().Int("worker_count", r.cfg.Concurrency).Msg("delivery workers started")
}

// Stop cancels the loops and waits for in-flight attempts, up to the
// shutdown timeout or until ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(r.cfg.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		r.log.Info().Msg("delivery workers stopped gracefully")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	r.log.Warn().Msg("delivery worker shutdown timed out")
	return ErrShutdownTimeout
}

// fanOut forwards each notification to every worker without blocking.
func (r *Runner) fanOut(ctx context.Context, wakes []chan struct{}) {
	signals := r.listener.Listen(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			for _, ch := range wakes {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}
}
