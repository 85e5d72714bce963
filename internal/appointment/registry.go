package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// NormalizeEmail is applied before an email is stored or compared.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreatePatient registers a patient. An email already on file, in any letter
// case, is rejected with ErrDuplicateEmail.
func (s *Service) CreatePatient(ctx context.Context, np NewPatient) (*Patient, error) {
	np.FirstName = strings.TrimSpace(np.FirstName)
	np.LastName = strings.TrimSpace(np.LastName)
	np.Email = NormalizeEmail(np.Email)
	np.PhoneNumber = strings.TrimSpace(np.PhoneNumber)

	var created *Patient
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		_, err := tx.GetPatientByEmail(ctx, np.Email)
		if err == nil {
			return ErrDuplicateEmail
		}
		if !errors.Is(err, ErrPatientNotFound) {
			return fmt.Errorf("lookup patient email: %w", err)
		}

		// the unique index still catches a concurrent insert of the same email
		p, err := tx.InsertPatient(ctx, np)
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		s.logRejection("patient not created", err)
		return nil, err
	}

	s.log.Info("patient created", zap.Int64("patient_id", created.ID))
	return created, nil
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	p, err := s.repo.GetPatientByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (s *Service) ListPatients(ctx context.Context) ([]Patient, error) {
	patients, err := s.repo.ListPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return patients, nil
}

func (s *Service) CreateDoctor(ctx context.Context, nd NewDoctor) (*Doctor, error) {
	nd.FullName = strings.TrimSpace(nd.FullName)
	nd.Specialty = strings.TrimSpace(nd.Specialty)

	d, err := s.repo.InsertDoctor(ctx, nd)
	if err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}

	s.log.Info("doctor created", zap.Int64("doctor_id", d.ID), zap.Bool("is_active", d.IsActive))
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	d, err := s.repo.GetDoctorByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// SetDoctorActive toggles whether a doctor accepts new appointments. Existing
// appointments are left untouched.
func (s *Service) SetDoctorActive(ctx context.Context, id int64, active bool) (*Doctor, error) {
	var updated *Doctor
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		// waits for any booking in flight for this doctor
		if _, err := tx.LockDoctor(ctx, id); err != nil {
			return err
		}
		d, err := tx.UpdateDoctorStatus(ctx, id, active)
		if err != nil {
			return err
		}
		updated = d
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("set doctor status: %w", err)
	}

	s.log.Info("doctor status changed", zap.Int64("doctor_id", id), zap.Bool("is_active", active))
	return updated, nil
}

// DeleteDoctor removes a doctor with no appointments. It returns
// ErrDoctorNotFound or ErrHasDependentAppointments otherwise and deletes nothing.
func (s *Service) DeleteDoctor(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.LockDoctor(ctx, id); err != nil {
			return err
		}
		return guardedDelete(ctx, tx, CountFilter{DoctorID: &id}, ErrDoctorNotFound, tx.DeleteDoctor, id)
	})
	if err != nil {
		s.logRejection("doctor not deleted", err, zap.Int64("doctor_id", id))
		return err
	}

	s.logEvent(ctx, nil, EventDoctorDeleted, map[string]any{"doctor_id": id})
	return nil
}

// DeletePatient removes a patient with no appointments. It returns
// ErrPatientNotFound or ErrHasDependentAppointments otherwise and deletes nothing.
func (s *Service) DeletePatient(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.LockPatient(ctx, id); err != nil {
			return err
		}
		return guardedDelete(ctx, tx, CountFilter{PatientID: &id}, ErrPatientNotFound, tx.DeletePatient, id)
	})
	if err != nil {
		s.logRejection("patient not deleted", err, zap.Int64("patient_id", id))
		return err
	}

	s.logEvent(ctx, nil, EventPatientDeleted, map[string]any{"patient_id": id})
	return nil
}

func guardedDelete(ctx context.Context, tx Repository, f CountFilter, notFound error, del func(context.Context, int64) (bool, error), id int64) error {
	n, err := tx.CountAppointments(ctx, f)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrHasDependentAppointments
	}

	deleted, err := del(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound
	}
	return nil
}
