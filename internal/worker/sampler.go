package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/metrics"
)

// DepthReader reports how many tasks are pending.
type DepthReader interface {
	Depth(ctx context.Context) (int64, error)
}

// Sampler copies queue depth and pool statistics into gauges on a fixed
// interval.
type Sampler struct {
	queue    DepthReader
	pool     *pgxpool.Pool
	interval time.Duration
	log      zerolog.Logger
}

// NewSampler creates a Sampler. pool may be nil.
func NewSampler(queue DepthReader, pool *pgxpool.Pool, interval time.Duration, log zerolog.Logger) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sampler{
		queue:    queue,
		pool:     pool,
		interval: interval,
		log:      log.With().Str("component", "metrics_sampler").Logger(),
	}
}

// Run samples once immediately and then every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sample(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	depth, err := s.queue.Depth(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("failed to read delivery queue depth")
		}
	} else {
		metrics.DeliveryQueueDepth.Set(float64(depth))
	}

	if s.pool != nil {
		metrics.ObservePool(s.pool.Stat())
	}
}
