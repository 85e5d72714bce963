package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgExclusionViolation  = "23P01"

	patientsEmailKey      = "patients_email_key"
	appointmentsNoOverlap = "appointments_no_overlap"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool // nil when bound to a transaction
	db   dbtx
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, db: pool}
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(ctx, &PgRepository{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// mapConstraintError turns the constraint violations the schema relies on into
// domain errors. It returns nil for anything else.
func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == patientsEmailKey:
		return ErrDuplicateEmail
	case pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == appointmentsNoOverlap:
		return ErrSchedulingConflict
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.PhoneNumber,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.FullName,
		&d.Specialty,
		&d.IsActive,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.StartTimeUTC,
		&a.DurationMinutes,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.StartTimeUTC = a.StartTimeUTC.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

const (
	patientColumns     = `id, first_name, last_name, email, phone_number, created_at, updated_at`
	doctorColumns      = `id, full_name, specialty, is_active, created_at, updated_at`
	appointmentColumns = `id, patient_id, doctor_id, start_time_utc, duration_minutes, created_at`
)

// Patients

func (r *PgRepository) GetPatientByID(ctx context.Context, id int64) (*Patient, error) {
	row := r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByEmail(ctx context.Context, email string) (*Patient, error) {
	row := r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE lower(email) = lower($1)`, email)
	return scanPatient(row)
}

func (r *PgRepository) LockPatient(ctx context.Context, id int64) (*Patient, error) {
	row := r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1 FOR SHARE`, id)
	return scanPatient(row)
}

func (r *PgRepository) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := r.db.Query(ctx, `SELECT `+patientColumns+` FROM patients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertPatient(ctx context.Context, p NewPatient) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO patients (first_name, last_name, email, phone_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING `+patientColumns,
		p.FirstName, p.LastName, p.Email, p.PhoneNumber)

	created, err := scanPatient(row)
	if err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	return created, nil
}

func (r *PgRepository) DeletePatient(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, ErrHasDependentAppointments
		}
		return false, fmt.Errorf("delete patient: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Doctors

func (r *PgRepository) GetDoctorByID(ctx context.Context, id int64) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id)
	return scanDoctor(row)
}

func (r *PgRepository) LockDoctor(ctx context.Context, id int64) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1 FOR UPDATE`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.db.Query(ctx, `SELECT `+doctorColumns+` FROM doctors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertDoctor(ctx context.Context, d NewDoctor) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO doctors (full_name, specialty, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING `+doctorColumns,
		d.FullName, d.Specialty, d.IsActive)

	created, err := scanDoctor(row)
	if err != nil {
		return nil, fmt.Errorf("insert doctor: %w", err)
	}
	return created, nil
}

func (r *PgRepository) UpdateDoctorStatus(ctx context.Context, id int64, active bool) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE doctors
		SET is_active = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+doctorColumns,
		id, active)
	return scanDoctor(row)
}

func (r *PgRepository) DeleteDoctor(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM doctors WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, ErrHasDependentAppointments
		}
		return false, fmt.Errorf("delete doctor: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsForDoctor(ctx context.Context, doctorID int64, before *time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND ($2::timestamptz IS NULL OR start_time_utc < $2)
		ORDER BY start_time_utc, id
	`, doctorID, before)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1::timestamptz IS NULL OR start_time_utc >= $1)
		  AND ($2::timestamptz IS NULL OR start_time_utc < $2)
		  AND ($3::bigint IS NULL OR doctor_id = $3)
		ORDER BY start_time_utc, id
	`, f.From, f.To, f.DoctorID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, start_time_utc, duration_minutes, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING `+appointmentColumns,
		a.PatientID, a.DoctorID, a.StartUTC.UTC(), a.DurationMinutes)

	created, err := scanAppointment(row)
	if err != nil {
		if mapped := mapConstraintError(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) CountAppointments(ctx context.Context, f CountFilter) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE ($1::bigint IS NULL OR patient_id = $1)
		  AND ($2::bigint IS NULL OR doctor_id = $2)
	`, f.PatientID, f.DoctorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete appointment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
