package auth

import (
	"net/http"
)

// RequireRole allows the request through only when the authenticated role
// is one of roles. It must run after JWTAuth.
func RequireRole(audit *AuditLogger, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" {
				http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
				return
			}

			if _, ok := allowed[role]; !ok {
				audit.LogAuthFailure(r, "role "+role+" not permitted")
				http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
