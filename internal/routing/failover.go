package routing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/metrics"
	"github.com/sungwon/newsletter/internal/provider"
)

// Failover is a provider.Provider that sends through the first healthy
// transport and moves down the list on transient failures. A permanent
// rejection ends the attempt, since it describes the recipient.
type Failover struct {
	engine   *Engine
	registry *provider.Registry
	log      zerolog.Logger
}

var _ provider.Provider = (*Failover)(nil)

// NewFailover creates a Failover over the transports in registry.
func NewFailover(engine *Engine, registry *provider.Registry, log zerolog.Logger) *Failover {
	return &Failover{
		engine:   engine,
		registry: registry,
		log:      log.With().Str("component", "failover").Logger(),
	}
}

func (f *Failover) GetName() string { return "failover" }

// HealthCheck fails only when no transport is healthy.
func (f *Failover) HealthCheck(context.Context) error {
	_, err := f.engine.ResolveProvider()
	return err
}

func (f *Failover) Send(ctx context.Context, msg *provider.Message) (*provider.DeliveryResult, error) {
	names := f.engine.Healthy()
	if len(names) == 0 {
		return nil, ErrNoHealthyProvider
	}

	var lastErr error
	for i, name := range names {
		p, err := f.registry.Get(name)
		if err != nil {
			lastErr = err
			continue
		}

		result, err := p.Send(ctx, msg)
		if err == nil {
			if i > 0 {
				metrics.ProviderFailoversTotal.WithLabelValues(names[0], name).Inc()
			}
			return result, nil
		}
		if provider.IsPermanent(err) || ctx.Err() != nil {
			return nil, err
		}

		f.log.Warn().Err(err).
			Str("provider", name).
			Str("message_id", msg.ID).
			Msg("transient send failure, trying next provider")
		lastErr = err
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}
