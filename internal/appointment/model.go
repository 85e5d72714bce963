package appointment

import (
	"time"
)

const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 180
)

type Patient struct {
	ID          int64
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Doctor struct {
	ID        int64
	FullName  string
	Specialty string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID              int64
	PatientID       int64
	DoctorID        int64
	StartTimeUTC    time.Time
	DurationMinutes int
	CreatedAt       time.Time
}

// EndTimeUTC is derived, never stored.
func (a Appointment) EndTimeUTC() time.Time {
	return a.StartTimeUTC.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

type NewPatient struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
}

type NewDoctor struct {
	FullName  string
	Specialty string
	IsActive  bool
}

type NewAppointment struct {
	PatientID       int64
	DoctorID        int64
	StartUTC        time.Time
	DurationMinutes int
}

// CountFilter selects appointments by patient, doctor or both. Nil fields
// are not constrained.
type CountFilter struct {
	PatientID *int64
	DoctorID  *int64
}

// AppointmentFilter bounds a listing to start times in [From, To).
type AppointmentFilter struct {
	From     *time.Time
	To       *time.Time
	DoctorID *int64
}

type ListAppointmentsQuery struct {
	Date     *time.Time // calendar day, interpreted in UTC
	DoctorID *int64
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	Payload       []byte
	CreatedAt     time.Time
}

// OverlapPair is two stored appointments of one doctor whose intervals intersect.
type OverlapPair struct {
	DoctorID int64
	First    Appointment
	Second   Appointment
}
