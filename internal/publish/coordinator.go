// Package publish turns an authenticated "publish newsletter" request into a
// stored issue plus one outbox row per confirmed subscriber, exactly once per
// (owner, idempotency key).
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter/internal/idempotency"
	"github.com/sungwon/newsletter/internal/issue"
	"github.com/sungwon/newsletter/internal/metrics"
	"github.com/sungwon/newsletter/internal/notify"
	"github.com/sungwon/newsletter/internal/outbox"
	"github.com/sungwon/newsletter/internal/storage"
)

// Request is one publish attempt as submitted by the form.
type Request struct {
	OwnerID        uuid.UUID
	IdempotencyKey string
	Title          string
	TextContent    string
	HTMLContent    string
}

// Result carries the response to send back. For a replay IssueID is
// uuid.Nil and Response is the stored one, byte for byte.
type Result struct {
	Response idempotency.SavedResponse
	IssueID  uuid.UUID
	Replayed bool
}

// Coordinator runs the publish transaction.
type Coordinator struct {
	idem     *idempotency.Store
	issues   *issue.Store
	queue    *outbox.Queue
	notifier notify.Publisher
	redirect string
	log      zerolog.Logger
}

// NewCoordinator wires the stores. redirect is the Location of the 303
// returned on success. A nil notifier disables wake-up signals.
func NewCoordinator(
	idem *idempotency.Store,
	issues *issue.Store,
	queue *outbox.Queue,
	notifier notify.Publisher,
	redirect string,
	log zerolog.Logger,
) *Coordinator {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Coordinator{
		idem:     idem,
		issues:   issues,
		queue:    queue,
		notifier: notifier,
		redirect: redirect,
		log:      log.With().Str("component", "publish").Logger(),
	}
}

// Publish validates req, then either replays the saved response for its key
// or inserts the issue, enqueues deliveries and saves the response in one
// transaction.
func (c *Coordinator) Publish(ctx context.Context, req Request) (Result, error) {
	key, n, err := validate(req)
	if err != nil {
		metrics.PublishTotal.WithLabelValues("invalid").Inc()
		return Result{}, err
	}

	log := c.log.With().
		Str("owner_id", req.OwnerID.String()).
		Str("idempotency_key", key.String()).
		Logger()

	next, err := c.idem.Begin(ctx, req.OwnerID, key)
	if err != nil {
		if errors.Is(err, idempotency.ErrInProgress) {
			metrics.PublishTotal.WithLabelValues("in_progress").Inc()
			return Result{}, err
		}
		metrics.PublishTotal.WithLabelValues("failed").Inc()
		return Result{}, retryable(err)
	}

	if next.Kind == idempotency.ReturnSaved {
		metrics.PublishTotal.WithLabelValues("replayed").Inc()
		log.Info().Int("status", next.Saved.StatusCode).Msg("publish replayed")
		return Result{Response: next.Saved, Replayed: true}, nil
	}

	iss, enqueued, resp, err := c.publishInTx(ctx, next, req.OwnerID, key, n)
	if err != nil {
		metrics.PublishTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("publish failed, transaction rolled back")
		return Result{}, retryable(err)
	}

	// Committed from here on.
	metrics.PublishTotal.WithLabelValues("published").Inc()
	metrics.PublishDeliveriesEnqueued.Add(float64(enqueued))
	log.Info().
		Str("issue_id", iss.ID.String()).
		Int64("deliveries", enqueued).
		Msg("newsletter issue published")

	if err := c.notifier.Publish(ctx, iss.ID); err != nil {
		log.Warn().Err(err).Str("issue_id", iss.ID.String()).Msg("failed to signal delivery workers")
	}

	return Result{Response: resp, IssueID: iss.ID}, nil
}

func (c *Coordinator) publishInTx(
	ctx context.Context,
	next idempotency.NextAction,
	owner uuid.UUID,
	key idempotency.Key,
	n issue.NewIssue,
) (issue.Issue, int64, idempotency.SavedResponse, error) {
	tx := next.Tx
	defer storage.Rollback(ctx, tx)

	iss, err := c.issues.Insert(ctx, tx, n)
	if err != nil {
		return issue.Issue{}, 0, idempotency.SavedResponse{}, err
	}

	enqueued, err := c.queue.EnqueueConfirmed(ctx, tx, iss.ID)
	if err != nil {
		return issue.Issue{}, 0, idempotency.SavedResponse{}, err
	}

	resp, err := c.idem.SaveResponse(ctx, tx, owner, key, c.seeOther())
	if err != nil {
		return issue.Issue{}, 0, idempotency.SavedResponse{}, fmt.Errorf("save publish response: %w", err)
	}
	return iss, enqueued, resp, nil
}

func (c *Coordinator) seeOther() idempotency.SavedResponse {
	return idempotency.SavedResponse{
		StatusCode: 303,
		Headers: []idempotency.HeaderPair{
			{Name: "Location", Value: []byte(c.redirect)},
		},
		Body: []byte{},
	}
}

func validate(req Request) (idempotency.Key, issue.NewIssue, error) {
	key, err := idempotency.ParseKey(req.IdempotencyKey)
	if err != nil {
		return "", issue.NewIssue{}, &ValidationError{
			Field:  "idempotency_key",
			Reason: fmt.Sprintf("must be 1 to %d characters of UTF-8 text", idempotency.MaxKeyLength),
			Err:    err,
		}
	}

	fields := []struct{ name, value string }{
		{"title", req.Title},
		{"text_content", req.TextContent},
		{"html_content", req.HTMLContent},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return "", issue.NewIssue{}, &ValidationError{Field: f.name, Reason: "must not be empty"}
		}
		if !utf8.ValidString(f.value) || strings.ContainsRune(f.value, 0) {
			return "", issue.NewIssue{}, &ValidationError{Field: f.name, Reason: "must be UTF-8 text without NUL bytes"}
		}
	}

	return key, issue.NewIssue{
		Title:       req.Title,
		TextContent: req.TextContent,
		HTMLContent: req.HTMLContent,
	}, nil
}
