package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/metrics"
)

const (
	defaultCheckInterval = 30 * time.Second
	defaultCheckTimeout  = 10 * time.Second
	unhealthyThreshold   = 3
)

// HealthStatus is the last known state of one transport.
type HealthStatus struct {
	Healthy             bool
	LastCheck           time.Time
	ConsecutiveFailures int
	LastError           string
}

// HealthChecker probes every registered provider in the background. A
// provider turns unhealthy after three failed probes in a row and healthy
// again after one success.
type HealthChecker struct {
	mu            sync.RWMutex
	registry      *Registry
	log           zerolog.Logger
	statuses      map[string]*HealthStatus
	checkInterval time.Duration
	checkTimeout  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthChecker creates a checker for the providers in registry. A zero
// interval uses the 30s default.
func NewHealthChecker(registry *Registry, interval time.Duration, log zerolog.Logger) *HealthChecker {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &HealthChecker{
		registry:      registry,
		log:           log.With().Str("component", "provider_health").Logger(),
		statuses:      make(map[string]*HealthStatus),
		checkInterval: interval,
		checkTimeout:  defaultCheckTimeout,
	}
}

// Start runs one check round synchronously, then keeps checking until Stop
// or until ctx is cancelled.
func (hc *HealthChecker) Start(ctx context.Context) {
	ctx, hc.cancel = context.WithCancel(ctx)
	hc.done = make(chan struct{})

	hc.checkAll(ctx)
	go hc.run(ctx)
}

// Stop ends the background loop and waits for it.
func (hc *HealthChecker) Stop() {
	if hc.cancel == nil {
		return
	}
	hc.cancel()
	<-hc.done
}

// IsHealthy reports the state of name. Unknown providers are unhealthy.
func (hc *HealthChecker) IsHealthy(name string) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	status, ok := hc.statuses[name]
	return ok && status.Healthy
}

// AllHealthy reports whether every checked provider is healthy.
func (hc *HealthChecker) AllHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	for _, status := range hc.statuses {
		if !status.Healthy {
			return false
		}
	}
	return true
}

// GetStatus returns a copy of the status for name.
func (hc *HealthChecker) GetStatus(name string) (HealthStatus, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	status, ok := hc.statuses[name]
	if !ok {
		return HealthStatus{}, false
	}
	return *status, true
}

func (hc *HealthChecker) run(ctx context.Context) {
	defer close(hc.done)

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hc.checkAll(ctx)
		}
	}
}

func (hc *HealthChecker) checkAll(ctx context.Context) {
	for _, p := range hc.registry.All() {
		hc.checkProvider(ctx, p)
	}
}

func (hc *HealthChecker) checkProvider(ctx context.Context, p Provider) {
	ctx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
	defer cancel()

	err := p.HealthCheck(ctx)
	name := p.GetName()

	hc.mu.Lock()
	defer hc.mu.Unlock()

	status, ok := hc.statuses[name]
	if !ok {
		status = &HealthStatus{Healthy: true}
		hc.statuses[name] = status
	}
	status.LastCheck = time.Now()

	if err != nil {
		status.ConsecutiveFailures++
		status.LastError = err.Error()
		if status.ConsecutiveFailures >= unhealthyThreshold && status.Healthy {
			status.Healthy = false
			hc.log.Error().Err(err).Str("provider", name).
				Int("failures", status.ConsecutiveFailures).
				Msg("provider marked unhealthy")
		} else {
			hc.log.Warn().Err(err).Str("provider", name).Msg("provider health check failed")
		}
	} else {
		if !status.Healthy {
			hc.log.Info().Str("provider", name).Msg("provider recovered")
		}
		status.ConsecutiveFailures = 0
		status.Healthy = true
		status.LastError = ""
	}

	if status.Healthy {
		metrics.ProviderHealthy.WithLabelValues(name).Set(1)
	} else {
		metrics.ProviderHealthy.WithLabelValues(name).Set(0)
	}
}
