package httpapi

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidRequest), errors.Is(err, errors.ErrDocumentNotReady):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.ErrExtractionFailure):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as an ErrorResponse. Internal errors are logged
// and their message is not exposed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := models.ErrorResponse{
		Detail:   err.Error(),
		Category: errors.Category(err),
		Hint:     errors.FlattenHints(err),
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed.", "path", r.URL.Path, "error", err)
		body.Detail = "internal server error"
		body.Hint = ""
	}
	if wait, ok := errors.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
	writeJSON(w, status, body)
}

func badRequest(msg string) error {
	return errors.Mark(errors.New(msg), errors.ErrInvalidRequest)
}

// limitParam reads the optional "limit" query parameter.
func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("limit must be a non-negative integer")
	}
	return n, nil
}
