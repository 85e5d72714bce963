package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// encodeFailureBody is sent when a response value cannot be marshalled, so
// the client never gets a success status with an empty body.
var encodeFailureBody = []byte(`{"error":"internal_error","details":"internal server error"}` + "\n")

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(encodeFailureBody)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, appointment.ErrMalformedInput),
		errors.Is(err, appointment.ErrNotInFuture):
		return http.StatusBadRequest
	case errors.Is(err, appointment.ErrPatientNotFound),
		errors.Is(err, appointment.ErrDoctorNotFound),
		errors.Is(err, appointment.ErrAppointmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, appointment.ErrDoctorInactive),
		errors.Is(err, appointment.ErrSchedulingConflict),
		errors.Is(err, appointment.ErrDuplicateEmail),
		errors.Is(err, appointment.ErrHasDependentAppointments):
		return http.StatusConflict
	case errors.Is(err, appointment.ErrScheduleBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps a service error to its HTTP status. Store failures
// are logged and answered with a generic body.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status := statusForError(err)
	resp := ErrorResponse{Error: appointment.Reason(err), Details: err.Error()}

	var conflict *appointment.ConflictError
	if errors.As(err, &conflict) {
		id := conflict.Existing.ID
		resp.ConflictingAppointmentID = &id
	}

	switch status {
	case http.StatusInternalServerError:
		log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		resp.Details = "internal server error"
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, resp)
}
