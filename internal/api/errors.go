package api

import (
	"errors"
	"net/http"

	"gharsathi/internal/models"
)

// statusFor maps service errors onto HTTP statuses and stable error codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, models.ErrActorNotPermitted):
		return http.StatusForbidden, "actor_not_permitted"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, models.ErrAlreadyPaid):
		return http.StatusConflict, "already_paid"
	case errors.Is(err, models.ErrDuplicateBookingCode):
		return http.StatusConflict, "duplicate_booking"
	case errors.Is(err, models.ErrPaymentAmountMismatch):
		return http.StatusUnprocessableEntity, "amount_mismatch"
	case errors.Is(err, models.ErrChargesLocked):
		return http.StatusUnprocessableEntity, "charges_locked"
	case errors.Is(err, models.ErrInvalidPaymentState):
		return http.StatusUnprocessableEntity, "invalid_payment_state"
	case errors.Is(err, models.ErrStateTransition):
		return http.StatusUnprocessableEntity, "state_transition_rejected"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := errorBody{Error: err.Error(), Code: code}

	var ve *models.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}

	if status == http.StatusInternalServerError {
		requestID, _ := r.Context().Value(ctxRequestID).(string)
		s.logger.Error().Err(err).Str("request_id", requestID).Str("path", r.URL.Path).Msg("request failed")
		// Внутренности наружу не отдаём
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}
