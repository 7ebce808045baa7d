package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sungwon/newsletter/internal/metrics"
)

type contextKey string

const (
	ownerIDKey contextKey = "owner_id"
	roleKey    contextKey = "role"
)

// OwnerFromContext returns the authenticated owner, or uuid.Nil.
func OwnerFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(ownerIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// RoleFromContext returns the authenticated role, or "".
func RoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return ""
}

// WithIdentity stores an authenticated owner and role in ctx.
func WithIdentity(ctx context.Context, owner uuid.UUID, role string) context.Context {
	ctx = context.WithValue(ctx, ownerIDKey, owner)
	return context.WithValue(ctx, roleKey, role)
}

// JWTAuth rejects requests without a valid "Authorization: Bearer <jwt>"
// header and stores the token's owner and role in the request context.
// audit may be nil.
func JWTAuth(svc *JWTService, audit *AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func(reason, body string) {
				metrics.APIAuthFailuresTotal.Inc()
				audit.LogAuthFailure(r, reason)
				http.Error(w, body, http.StatusUnauthorized)
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				reject("missing_header", `{"error":"authorization header required"}`)
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				reject("bad_scheme", `{"error":"invalid authorization format, expected Bearer <token>"}`)
				return
			}

			owner, claims, err := svc.ValidateAccessToken(token)
			if err != nil {
				reject(err.Error(), `{"error":"invalid or expired token"}`)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), owner, claims.Role)))
		})
	}
}
