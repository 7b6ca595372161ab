package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Cheertaboi/meal-reservation-service/internal/api/middleware"
	"github.com/Cheertaboi/meal-reservation-service/internal/models"
)

// RetryAfterSeconds is sent with 503 responses for retryable timeouts.
const RetryAfterSeconds = 1

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// statusFor maps a domain error to its HTTP status and stable error code.
// Timeout is checked first since it may wrap another error's text.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrTimeout):
		return http.StatusServiceUnavailable, "timeout"
	case errors.Is(err, models.ErrInvalidDeadlineConfig):
		return http.StatusBadRequest, "invalid_deadline_config"
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrDeadlinePassed):
		return http.StatusUnprocessableEntity, "deadline_passed"
	case errors.Is(err, models.ErrCapacityExhausted):
		return http.StatusConflict, "capacity_exhausted"
	case errors.Is(err, models.ErrDuplicateClaim):
		return http.StatusConflict, "duplicate_claim"
	case errors.Is(err, models.ErrAlreadyCancelled):
		return http.StatusConflict, "already_cancelled"
	case errors.Is(err, models.ErrOptionInactive):
		return http.StatusConflict, "option_inactive"
	case errors.Is(err, models.ErrInvalidCapacityEdit):
		return http.StatusConflict, "invalid_capacity_edit"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		middleware.LoggerFrom(r.Context()).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, code, errorResponse{Error: msg})
		return
	}
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	writeJSON(w, code, errorResponse{Error: msg, Detail: err.Error()})
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func requester(w http.ResponseWriter, r *http.Request) (models.Requester, bool) {
	who, ok := middleware.RequesterFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
	}
	return who, ok
}
