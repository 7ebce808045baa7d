package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sungwon/newsletter/internal/auth"
	"github.com/sungwon/newsletter/internal/idempotency"
	"github.com/sungwon/newsletter/internal/issue"
	"github.com/sungwon/newsletter/internal/logger"
	"github.com/sungwon/newsletter/internal/publish"
)

const maxPublishBody = 1 << 20

// Publisher runs a publish request.
type Publisher interface {
	Publish(ctx context.Context, req publish.Request) (publish.Result, error)
}

// IssueReader loads a published issue.
type IssueReader interface {
	Get(ctx context.Context, id uuid.UUID) (*issue.Issue, error)
}

// PendingCounter counts deliveries still owed for an issue.
type PendingCounter interface {
	Pending(ctx context.Context, issueID uuid.UUID) (int64, error)
}

type publishForm struct {
	Title          string `json:"title"`
	TextContent    string `json:"text_content"`
	HTMLContent    string `json:"html_content"`
	IdempotencyKey string `json:"idempotency_key"`
}

// PublishNewsletterHandler handles POST /admin/newsletters. The body is a
// urlencoded form or JSON. The key may also come from the Idempotency-Key
// header. Success and replays write the stored response verbatim.
func PublishNewsletterHandler(pub Publisher, audit *auth.AuditLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := decodePublishForm(w, r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if form.IdempotencyKey == "" {
			form.IdempotencyKey = r.Header.Get("Idempotency-Key")
		}

		res, err := pub.Publish(r.Context(), publish.Request{
			OwnerID:        auth.OwnerFromContext(r.Context()),
			IdempotencyKey: form.IdempotencyKey,
			Title:          form.Title,
			TextContent:    form.TextContent,
			HTMLContent:    form.HTMLContent,
		})
		if err != nil {
			respondPublishError(w, r, err)
			return
		}

		audit.LogPublish(r, res.IssueID, res.Replayed)
		respondSaved(w, res.Response)
	}
}

func decodePublishForm(w http.ResponseWriter, r *http.Request) (publishForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPublishBody)

	var form publishForm
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&form)
		return form, err
	}

	if err := r.ParseForm(); err != nil {
		return form, err
	}
	form.Title = r.PostForm.Get("title")
	form.TextContent = r.PostForm.Get("text_content")
	form.HTMLContent = r.PostForm.Get("html_content")
	form.IdempotencyKey = r.PostForm.Get("idempotency_key")
	return form, nil
}

func respondPublishError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	var ve *publish.ValidationError
	switch {
	case errors.As(err, &ve):
		respondValidationErrors(w, []string{ve.Error()})
	case errors.Is(err, idempotency.ErrInProgress):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusConflict, "a request with this idempotency key is still in progress")
	case errors.Is(err, publish.ErrRetryable), errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Msg("publish failed with a retryable error")
		w.Header().Set("Retry-After", "5")
		respondError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry with the same idempotency key")
	default:
		log.Error().Err(err).Msg("publish failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

type issueResponse struct {
	ID                uuid.UUID `json:"id"`
	Title             string    `json:"title"`
	TextContent       string    `json:"text_content"`
	HTMLContent       string    `json:"html_content"`
	PublishedAt       time.Time `json:"published_at"`
	PendingDeliveries int64     `json:"pending_deliveries"`
}

// GetNewsletterHandler handles GET /admin/newsletters/{id}.
func GetNewsletterHandler(issues IssueReader, pending PendingCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid issue id")
			return
		}

		iss, err := issues.Get(r.Context(), id)
		if errors.Is(err, issue.ErrNotFound) {
			respondError(w, http.StatusNotFound, "issue not found")
			return
		}
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Str("issue_id", id.String()).Msg("failed to load issue")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		n, err := pending.Pending(r.Context(), id)
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Str("issue_id", id.String()).Msg("failed to count pending deliveries")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		respondJSON(w, http.StatusOK, issueResponse{
			ID:                iss.ID,
			Title:             iss.Title,
			TextContent:       iss.TextContent,
			HTMLContent:       iss.HTMLContent,
			PublishedAt:       iss.PublishedAt,
			PendingDeliveries: n,
		})
	}
}
