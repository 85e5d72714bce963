package appointment

import (
	"context"
	"errors"
	"fmt"
)

// CheckEligibility confirms the patient exists, then that the doctor exists,
// then that the doctor is active. Run it on the transaction that will insert
// the appointment: the doctor row stays locked until commit so its status and
// schedule cannot change underneath the booking.
func CheckEligibility(ctx context.Context, tx Repository, patientID, doctorID int64) (*Patient, *Doctor, error) {
	patient, err := tx.LockPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := tx.LockDoctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load doctor: %w", err)
	}

	if !doctor.IsActive {
		return nil, nil, ErrDoctorInactive
	}

	return patient, doctor, nil
}
