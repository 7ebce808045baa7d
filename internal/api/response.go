package api

import (
	"encoding/json"
	"net/http"

	"github.com/sungwon/newsletter/internal/idempotency"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidationErrors(w http.ResponseWriter, details []string) {
	respondJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "validation_failed",
		"details": details,
	})
}

// respondSaved writes a stored response exactly: headers in stored order,
// then status, then body.
func respondSaved(w http.ResponseWriter, resp idempotency.SavedResponse) {
	h := w.Header()
	for _, pair := range resp.Headers {
		h.Add(pair.Name, string(pair.Value))
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
