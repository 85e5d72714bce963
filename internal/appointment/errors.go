package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedInput     = errors.New("malformed input")
	ErrInvalidReference   = fmt.Errorf("%w: patient_id and doctor_id must be positive integers", ErrMalformedInput)
	ErrMissingTimezone    = fmt.Errorf("%w: start_time must include a timezone offset", ErrMalformedInput)
	ErrInvalidStartTime   = fmt.Errorf("%w: start_time must be an ISO-8601 timestamp", ErrMalformedInput)
	ErrDurationOutOfRange = fmt.Errorf("%w: duration_minutes must be between %d and %d", ErrMalformedInput, MinDurationMinutes, MaxDurationMinutes)

	ErrNotInFuture = errors.New("appointment must be scheduled in the future")

	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	ErrDoctorInactive           = errors.New("doctor is not accepting appointments")
	ErrSchedulingConflict       = errors.New("doctor has a conflicting appointment")
	ErrDuplicateEmail           = errors.New("patient with this email already exists")
	ErrHasDependentAppointments = errors.New("record has dependent appointments")

	// ErrScheduleBusy is returned when the doctor's schedule lock could not be
	// taken in time. Retrying the same request is safe.
	ErrScheduleBusy = errors.New("doctor schedule is busy, please retry")
)

// ConflictError names the stored appointment a candidate collided with.
type ConflictError struct {
	Existing Appointment
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: overlaps appointment %d", ErrSchedulingConflict, e.Existing.ID)
}

func (e *ConflictError) Unwrap() error {
	return ErrSchedulingConflict
}

// Reason gives a stable snake_case label for an outcome, used for API error
// codes, metrics and logs. A nil error is "committed".
func Reason(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, ErrMissingTimezone):
		return "missing_timezone"
	case errors.Is(err, ErrInvalidStartTime):
		return "invalid_start_time"
	case errors.Is(err, ErrDurationOutOfRange):
		return "duration_out_of_range"
	case errors.Is(err, ErrMalformedInput):
		return "malformed_input"
	case errors.Is(err, ErrNotInFuture):
		return "not_in_future"
	case errors.Is(err, ErrPatientNotFound):
		return "patient_not_found"
	case errors.Is(err, ErrDoctorNotFound):
		return "doctor_not_found"
	case errors.Is(err, ErrAppointmentNotFound):
		return "appointment_not_found"
	case errors.Is(err, ErrDoctorInactive):
		return "doctor_inactive"
	case errors.Is(err, ErrSchedulingConflict):
		return "scheduling_conflict"
	case errors.Is(err, ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, ErrHasDependentAppointments):
		return "has_dependent_appointments"
	case errors.Is(err, ErrScheduleBusy):
		return "schedule_busy"
	default:
		return "internal_error"
	}
}

// IsRejection reports whether err is one of the expected outcomes a caller can
// correct, as opposed to a store or infrastructure failure.
func IsRejection(err error) bool {
	switch Reason(err) {
	case "committed", "internal_error", "schedule_busy":
		return false
	}
	return true
}
