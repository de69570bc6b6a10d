package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/quota"
)

// writeServiceError maps queue and quota errors onto the API error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var credits *quota.InsufficientCreditsError
	switch {
	case errors.As(err, &credits):
		response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", credits.Error(),
			map[string]int{"requested": credits.Requested, "available": credits.Available})
	case errors.Is(err, quota.ErrInsufficientCredits):
		response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", err.Error(), nil)
	case errors.Is(err, queue.ErrJobNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, queue.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, queue.ErrStorageUnavailable), errors.Is(err, quota.ErrStorageUnavailable):
		slog.Error("storage unavailable", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE",
			"Storage is temporarily unavailable", nil)
	case errors.Is(err, queue.ErrEmptyInput),
		errors.Is(err, queue.ErrUnknownJobType),
		errors.Is(err, queue.ErrMissingOwner),
		errors.Is(err, queue.ErrInvalidStatus),
		errors.Is(err, quota.ErrInvalidCount),
		errors.Is(err, quota.ErrInvalidTenant),
		errors.Is(err, quota.ErrUnknownTier):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
}

func missingTenant(w http.ResponseWriter) {
	response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
}
