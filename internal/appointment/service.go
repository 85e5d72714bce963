package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentCreated = "APPOINTMENT_CREATED"
	EventAppointmentDeleted = "APPOINTMENT_DELETED"
	EventDoctorDeleted      = "DOCTOR_DELETED"
	EventPatientDeleted     = "PATIENT_DELETED"
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now as the source of "now" for future-only checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService wires the scheduling core. locker may be nil, in which case the
// store transaction alone guards each doctor's schedule.
func NewService(repo Repository, locker redisclient.Locker, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		repo:   repo,
		locker: locker,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAppointment admits or rejects a booking. The eligibility check, the
// overlap scan and the insert share one transaction that holds the doctor's
// row lock, so two overlapping requests for the same doctor can never both
// commit. When a distributed locker is configured it is taken first so
// api-server instances queue per doctor instead of contending on the row.
func (s *Service) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	v, err := Validate(req, s.now())
	if err != nil {
		s.logRejection("appointment rejected", err,
			zap.Int64("patient_id", req.PatientID),
			zap.Int64("doctor_id", req.DoctorID))
		return nil, err
	}

	var created *Appointment

	book := func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
			if _, _, err := CheckEligibility(ctx, tx, v.PatientID, v.DoctorID); err != nil {
				return err
			}

			existing, err := FindConflict(ctx, tx, v.DoctorID, v.StartUTC, v.EndUTC())
			if err != nil {
				return fmt.Errorf("check conflicts: %w", err)
			}
			if existing != nil {
				return &ConflictError{Existing: *existing}
			}

			appt, err := tx.InsertAppointment(ctx, NewAppointment{
				PatientID:       v.PatientID,
				DoctorID:        v.DoctorID,
				StartUTC:        v.StartUTC,
				DurationMinutes: v.DurationMinutes,
			})
			if err != nil {
				return err
			}

			created = appt
			return nil
		})
	}

	if s.locker != nil {
		err = s.locker.WithDoctorLock(ctx, v.DoctorID, book)
	} else {
		err = book(ctx)
	}

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrScheduleBusy
		}
		s.logRejection("appointment rejected", err,
			zap.Int64("patient_id", v.PatientID),
			zap.Int64("doctor_id", v.DoctorID),
			zap.Time("start_time_utc", v.StartUTC),
			zap.Int("duration_minutes", v.DurationMinutes))
		return nil, err
	}

	s.logEvent(ctx, &created.ID, EventAppointmentCreated, map[string]any{
		"patient_id":       created.PatientID,
		"doctor_id":        created.DoctorID,
		"start_time_utc":   created.StartTimeUTC,
		"duration_minutes": created.DurationMinutes,
	})
	s.log.Info("appointment created",
		zap.Int64("appointment_id", created.ID),
		zap.Int64("doctor_id", created.DoctorID),
		zap.Time("start_time_utc", created.StartTimeUTC))

	return created, nil
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListAppointments lists appointments ordered by start time, optionally limited
// to one UTC calendar day and one doctor.
func (s *Service) ListAppointments(ctx context.Context, q ListAppointmentsQuery) ([]Appointment, error) {
	var f AppointmentFilter

	if q.DoctorID != nil {
		if *q.DoctorID <= 0 {
			return nil, ErrInvalidReference
		}
		f.DoctorID = q.DoctorID
	}

	if q.Date != nil {
		d := q.Date.UTC()
		from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		to := from.AddDate(0, 0, 1)
		f.From = &from
		f.To = &to
	}

	appts, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// DeleteAppointment removes a single appointment.
func (s *Service) DeleteAppointment(ctx context.Context, id int64) error {
	deleted, err := s.repo.DeleteAppointment(ctx, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if !deleted {
		return ErrAppointmentNotFound
	}

	s.logEvent(ctx, &id, EventAppointmentDeleted, map[string]any{})
	return nil
}

// AuditSchedules scans every doctor's stored schedule and reports overlapping
// pairs. A healthy store always yields none.
func (s *Service) AuditSchedules(ctx context.Context) ([]OverlapPair, error) {
	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}

	var pairs []OverlapPair
	for _, d := range doctors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		appts, err := s.repo.ListAppointmentsForDoctor(ctx, d.ID, nil)
		if err != nil {
			return nil, fmt.Errorf("list appointments for doctor %d: %w", d.ID, err)
		}
		pairs = append(pairs, FindOverlaps(appts)...)
	}
	return pairs, nil
}

func (s *Service) logRejection(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("reason", Reason(err)), zap.Error(err))
	if IsRejection(err) {
		s.log.Info(msg, fields...)
		return
	}
	s.log.Error(msg, fields...)
}

func (s *Service) logEvent(ctx context.Context, appointmentID *int64, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log", zap.String("event_type", eventType), zap.Error(err))
	}
}
