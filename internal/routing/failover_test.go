package routing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/metrics"
	"github.com/sungwon/newsletter/internal/provider"
)

type stubProvider struct {
	name string
	err  error

	mu    sync.Mutex
	calls int
}

func (s *stubProvider) Send(_ context.Context, msg *provider.Message) (*provider.DeliveryResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &provider.DeliveryResult{ProviderMessageID: s.name + "-" + msg.ID, Status: provider.StatusSent}, nil
}

func (s *stubProvider) GetName() string                    { return s.name }
func (s *stubProvider) HealthCheck(_ context.Context) error { return nil }

func newFailover(t *testing.T, healthy map[string]bool, providers ...*stubProvider) *Failover {
	t.Helper()
	registry := provider.NewRegistry()
	rule := Rule{Primary: providers[0].name}
	for _, p := range providers {
		registry.Register(p)
		if p.name != rule.Primary {
			rule.Fallbacks = append(rule.Fallbacks, p.name)
		}
	}
	return NewFailover(newEngine(t, rule, healthy), registry, zerolog.Nop())
}

func testMessage() *provider.Message {
	return &provider.Message{ID: "m1@example.com", From: "n@example.com", To: []string{"u@example.com"}, Subject: "s"}
}

func TestFailover_UsesPrimaryWhenHealthy(t *testing.T) {
	primary := &stubProvider{name: "smtp"}
	backup := &stubProvider{name: "sendgrid"}
	f := newFailover(t, map[string]bool{"smtp": true, "sendgrid": true}, primary, backup)

	res, err := f.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.ProviderMessageID != "smtp-m1@example.com" {
		t.Errorf("ProviderMessageID = %s", res.ProviderMessageID)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times", backup.calls)
	}
}

func TestFailover_SkipsUnhealthyPrimary(t *testing.T) {
	primary := &stubProvider{name: "smtp"}
	backup := &stubProvider{name: "sendgrid"}
	f := newFailover(t, map[string]bool{"sendgrid": true}, primary, backup)

	if _, err := f.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if primary.calls != 0 || backup.calls != 1 {
		t.Errorf("calls primary=%d backup=%d, want 0/1", primary.calls, backup.calls)
	}
}

func TestFailover_TransientErrorMovesOn(t *testing.T) {
	primary := &stubProvider{name: "smtp", err: &provider.ProviderError{Provider: "smtp", StatusCode: 451, Message: "try later"}}
	backup := &stubProvider{name: "sendgrid"}
	f := newFailover(t, map[string]bool{"smtp": true, "sendgrid": true}, primary, backup)

	counter := metrics.ProviderFailoversTotal.WithLabelValues("smtp", "sendgrid")
	before := testutil.ToFloat64(counter)

	res, err := f.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.ProviderMessageID != "sendgrid-m1@example.com" {
		t.Errorf("ProviderMessageID = %s", res.ProviderMessageID)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("failover counter delta = %v, want 1", got)
	}
}

func TestFailover_PermanentErrorStops(t *testing.T) {
	rejected := &provider.ProviderError{Provider: "smtp", StatusCode: 550, Message: "no such user", Permanent: true}
	primary := &stubProvider{name: "smtp", err: rejected}
	backup := &stubProvider{name: "sendgrid"}
	f := newFailover(t, map[string]bool{"smtp": true, "sendgrid": true}, primary, backup)

	_, err := f.Send(context.Background(), testMessage())
	if !provider.IsPermanent(err) {
		t.Fatalf("Send() error = %v, want permanent", err)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times after permanent rejection", backup.calls)
	}
}

func TestFailover_AllFailIsTransient(t *testing.T) {
	down := errors.New("connection refused")
	f := newFailover(t, map[string]bool{"smtp": true, "sendgrid": true},
		&stubProvider{name: "smtp", err: down},
		&stubProvider{name: "sendgrid", err: down},
	)

	_, err := f.Send(context.Background(), testMessage())
	if !errors.Is(err, down) || !provider.IsTransient(err) {
		t.Fatalf("Send() error = %v, want transient wrapping cause", err)
	}
}

func TestFailover_NoHealthyProvider(t *testing.T) {
	f := newFailover(t, map[string]bool{}, &stubProvider{name: "smtp"})

	if _, err := f.Send(context.Background(), testMessage()); !errors.Is(err, ErrNoHealthyProvider) {
		t.Errorf("Send() error = %v, want ErrNoHealthyProvider", err)
	}
	if err := f.HealthCheck(context.Background()); !errors.Is(err, ErrNoHealthyProvider) {
		t.Errorf("HealthCheck() error = %v, want ErrNoHealthyProvider", err)
	}
}
