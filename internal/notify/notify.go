// Package notify tells idle delivery workers that new tasks were committed,
// so they do not wait out their full idle interval. Signals are hints only:
// a lost signal delays delivery until the next poll, it never loses a task.
package notify

import (
	"context"

	"github.com/google/uuid"
)

// Publisher announces a committed issue.
type Publisher interface {
	Publish(ctx context.Context, issueID uuid.UUID) error
}

// Listener yields a signal per announcement. The channel closes when ctx
// is done. Signals may be coalesced.
type Listener interface {
	Listen(ctx context.Context) <-chan struct{}
}

// Noop discards announcements and never signals.
type Noop struct{}

func (Noop) Publish(context.Context, uuid.UUID) error { return nil }

// Listen returns a nil channel, which blocks forever in a select.
func (Noop) Listen(context.Context) <-chan struct{} { return nil }

// Local connects publishers and listeners inside one process.
type Local struct {
	ch chan struct{}
}

// NewLocal creates an in-process notifier.
func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

// Publish never blocks; a pending signal absorbs further ones.
func (l *Local) Publish(context.Context, uuid.UUID) error {
	select {
	case l.ch <- struct{}{}:
	default:
	}
	return nil
}

// Listen returns the shared signal channel. It is never closed.
func (l *Local) Listen(context.Context) <-chan struct{} {
	return l.ch
}
