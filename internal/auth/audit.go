package auth

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Audit actions.
const (
	AuditActionAuthFailed = "auth.failed"
	AuditActionPublish    = "newsletter.publish"
)

// AuditLogger writes security-relevant events as structured log lines
// tagged audit=true. A nil *AuditLogger discards everything.
type AuditLogger struct {
	logger zerolog.Logger
}

// NewAuditLogger creates an AuditLogger.
func NewAuditLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.With().Bool("audit", true).Logger()}
}

// LogAuthFailure records a rejected request.
func (al *AuditLogger) LogAuthFailure(r *http.Request, reason string) {
	if al == nil {
		return
	}
	al.logger.Warn().
		Str("action", AuditActionAuthFailed).
		Str("result", "failure").
		Str("reason", reason).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("ip_address", extractIP(r)).
		Msg("audit log")
}

// LogPublish records a publish request that reached a final response.
func (al *AuditLogger) LogPublish(r *http.Request, issueID uuid.UUID, replayed bool) {
	if al == nil {
		return
	}
	event := al.logger.Info().
		Str("action", AuditActionPublish).
		Str("result", "success").
		Str("owner_id", OwnerFromContext(r.Context()).String()).
		Bool("replayed", replayed).
		Str("ip_address", extractIP(r))
	if issueID != uuid.Nil {
		event = event.Str("issue_id", issueID.String())
	}
	event.Msg("audit log")
}

// extractIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection address.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
