package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"quotehub/internal/application/usecase"
	"quotehub/internal/domain/model"
)

// StatusClientClosedRequest is the nginx convention for a client that went away before the answer.
const StatusClientClosedRequest = 499

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: RequestIDFrom(r.Context())})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidSymbol),
		errors.Is(err, model.ErrInvalidRange),
		errors.Is(err, model.ErrUnsupportedMarket),
		errors.Is(err, usecase.ErrBatchTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAllProvidersFailed),
		errors.Is(err, model.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail logs server-side failures and answers with the mapped status.
func fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()))
	} else {
		logger.Debug(msg, "error", err, "path", r.URL.Path)
	}
	writeError(w, r, status, err.Error())
}
