package api

import (
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// CreateAppointmentRequest has no validate tags; the service's check order
// decides which rejection a caller sees.
type CreateAppointmentRequest struct {
	PatientID       int64  `json:"patient_id"`
	DoctorID        int64  `json:"doctor_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type AppointmentResponse struct {
	ID              int64     `json:"id"`
	PatientID       int64     `json:"patient_id"`
	DoctorID        int64     `json:"doctor_id"`
	StartTimeUTC    time.Time `json:"start_time_utc"`
	EndTimeUTC      time.Time `json:"end_time_utc"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
}

type CreatePatientRequest struct {
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	Email       string `json:"email" validate:"required,email,max=255"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,max=32"`
}

type PatientResponse struct {
	ID          int64     `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateDoctorRequest struct {
	FullName  string `json:"full_name" validate:"required,max=200"`
	Specialty string `json:"specialty" validate:"required,max=100"`
	IsActive  *bool  `json:"is_active"`
}

type UpdateDoctorStatusRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type DoctorResponse struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Specialty string    `json:"specialty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ErrorResponse struct {
	Error                    string `json:"error"`
	Details                  string `json:"details,omitempty"`
	ConflictingAppointmentID *int64 `json:"conflicting_appointment_id,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		StartTimeUTC:    a.StartTimeUTC.UTC(),
		EndTimeUTC:      a.EndTimeUTC().UTC(),
		DurationMinutes: a.DurationMinutes,
		CreatedAt:       a.CreatedAt.UTC(),
	}
}

func toPatientResponse(p appointment.Patient) PatientResponse {
	return PatientResponse{
		ID:          p.ID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Email:       p.Email,
		PhoneNumber: p.PhoneNumber,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toDoctorResponse(d appointment.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:        d.ID,
		FullName:  d.FullName,
		Specialty: d.Specialty,
		IsActive:  d.IsActive,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
