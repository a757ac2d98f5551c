package web

// errors.go provides unified JSON error response handling for the
// diagnostics server. There is no HTML/HTMX surface here (§2.1 scopes the
// server to /healthz and /progress): every error response is JSON.

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the JSON body for a diagnostics-server error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError logs the technical error server-side and writes a JSON
// error body to the client.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	requestID := middleware.GetReqID(r.Context())

	slog.Error("diagnostics request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"request_id", requestID,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
}
