// Package routing picks which configured email transport carries a message,
// skipping transports the health checker has marked down.
package routing

import (
	"errors"
	"fmt"
)

// ErrNoHealthyProvider is returned when no healthy provider is available.
var ErrNoHealthyProvider = errors.New("no healthy provider available")

// HealthChecker reports whether a named provider is currently healthy.
type HealthChecker interface {
	IsHealthy(providerName string) bool
}

// Engine resolves transports from a Rule and live health status.
type Engine struct {
	rule          Rule
	healthChecker HealthChecker
}

// NewEngine validates rule and creates an engine.
func NewEngine(rule Rule, healthChecker HealthChecker) (*Engine, error) {
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid routing rule: %w", err)
	}
	return &Engine{rule: rule, healthChecker: healthChecker}, nil
}

// Healthy returns the healthy transports in rule order.
func (e *Engine) Healthy() []string {
	var names []string
	for _, name := range e.rule.candidates() {
		if e.healthChecker.IsHealthy(name) {
			names = append(names, name)
		}
	}
	return names
}

// ResolveProvider returns the first healthy transport, or
// ErrNoHealthyProvider if every candidate is down.
func (e *Engine) ResolveProvider() (string, error) {
	names := e.Healthy()
	if len(names) == 0 {
		return "", ErrNoHealthyProvider
	}
	return names[0], nil
}
