package appointment

import (
	"context"
	"time"
)

// Repository contains all store interactions needed by the service. Lookups by
// id return the matching ErrXNotFound sentinel when the row does not exist.
type Repository interface {
	// WithTx runs fn against a repository bound to one transaction. It commits
	// when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	// Patients
	GetPatientByID(ctx context.Context, id int64) (*Patient, error)
	GetPatientByEmail(ctx context.Context, email string) (*Patient, error)
	LockPatient(ctx context.Context, id int64) (*Patient, error)
	ListPatients(ctx context.Context) ([]Patient, error)
	InsertPatient(ctx context.Context, p NewPatient) (*Patient, error)
	DeletePatient(ctx context.Context, id int64) (bool, error)

	// Doctors
	GetDoctorByID(ctx context.Context, id int64) (*Doctor, error)
	// LockDoctor reads the doctor and holds its schedule until the transaction ends
	LockDoctor(ctx context.Context, id int64) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	InsertDoctor(ctx context.Context, d NewDoctor) (*Doctor, error)
	UpdateDoctorStatus(ctx context.Context, id int64, active bool) (*Doctor, error)
	DeleteDoctor(ctx context.Context, id int64) (bool, error)

	// Appointments
	GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error)
	// ListAppointmentsForDoctor returns the doctor's appointments, limited to
	// those starting strictly before `before` when it is set
	ListAppointmentsForDoctor(ctx context.Context, doctorID int64, before *time.Time) ([]Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	InsertAppointment(ctx context.Context, a NewAppointment) (*Appointment, error)
	CountAppointments(ctx context.Context, f CountFilter) (int, error)
	DeleteAppointment(ctx context.Context, id int64) (bool, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
