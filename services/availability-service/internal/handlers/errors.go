package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/tutorslots/libs/httpx"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking"
)

// writeServiceError maps service errors onto HTTP statuses. Unknown errors
// are logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var cfgErr *availability.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		httpx.WriteError(w, http.StatusUnprocessableEntity, cfgErr.Error(), cfgErr.Field)
	case errors.Is(err, booking.ErrInvalidRequest):
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, booking.ErrTutorNotFound), errors.Is(err, booking.ErrLessonNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, booking.ErrSlotUnavailable),
		errors.Is(err, booking.ErrTrialIneligible),
		errors.Is(err, booking.ErrNotCancellable):
		httpx.WriteError(w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, booking.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, err.Error(), "")
	default:
		logger.Error(op+" failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, op+" failed", "")
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "")
}
