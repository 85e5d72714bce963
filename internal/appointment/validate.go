package appointment

import (
	"strings"
	"time"
)

// CreateAppointmentRequest is the inbound booking request. StartTime is kept
// as text so that a timestamp without an offset can be told apart from one
// in UTC.
type CreateAppointmentRequest struct {
	PatientID       int64
	DoctorID        int64
	StartTime       string
	DurationMinutes int
}

type ValidatedRequest struct {
	PatientID       int64
	DoctorID        int64
	StartUTC        time.Time
	DurationMinutes int
}

func (v ValidatedRequest) EndUTC() time.Time {
	return v.StartUTC.Add(time.Duration(v.DurationMinutes) * time.Minute)
}

const maxYear = 9999

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseStartTime parses an ISO-8601 timestamp that must carry a zone offset
// and returns it in UTC.
func ParseStartTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidStartTime
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if _, err := time.Parse(layout, raw); err == nil {
			return time.Time{}, ErrMissingTimezone
		}
	}
	return time.Time{}, ErrInvalidStartTime
}

// Validate checks a booking request against now. Checks run in a fixed order
// and stop at the first failure.
func Validate(req CreateAppointmentRequest, now time.Time) (ValidatedRequest, error) {
	if req.PatientID <= 0 || req.DoctorID <= 0 {
		return ValidatedRequest{}, ErrInvalidReference
	}

	start, err := ParseStartTime(req.StartTime)
	if err != nil {
		return ValidatedRequest{}, err
	}

	if !start.After(now.UTC()) {
		return ValidatedRequest{}, ErrNotInFuture
	}

	if req.DurationMinutes < MinDurationMinutes || req.DurationMinutes > MaxDurationMinutes {
		return ValidatedRequest{}, ErrDurationOutOfRange
	}

	v := ValidatedRequest{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		StartUTC:        start,
		DurationMinutes: req.DurationMinutes,
	}

	// RFC 3339 and JSON stop at year 9999; an offset can push UTC past it.
	if v.EndUTC().Year() > maxYear {
		return ValidatedRequest{}, ErrInvalidStartTime
	}

	return v, nil
}
