package web

// Unified JSON response helpers. Technical error detail is logged server-side
// with the request ID; clients get a stable message and a support code.

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
)

// ErrorResponse is the JSON body for all error and non-2xx status responses.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeJSON(w, status, ErrorResponse{Message: message, Code: code})
}
