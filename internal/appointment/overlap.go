package appointment

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Overlaps is the half-open interval test used for every schedule comparison:
// [aStart, aEnd) and [bStart, bEnd) intersect iff aStart < bEnd and bStart < aEnd.
// Back to back intervals (aEnd == bStart) do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func firstConflict(existing []Appointment, start, end time.Time) *Appointment {
	for i := range existing {
		a := existing[i]
		if Overlaps(start, end, a.StartTimeUTC, a.EndTimeUTC()) {
			return &a
		}
	}
	return nil
}

// FindConflict returns an appointment of doctorID intersecting [start, end),
// or nil when the interval is free. Appointments starting at or after end
// cannot overlap and are filtered out by the store.
func FindConflict(ctx context.Context, repo Repository, doctorID int64, start, end time.Time) (*Appointment, error) {
	existing, err := repo.ListAppointmentsForDoctor(ctx, doctorID, &end)
	if err != nil {
		return nil, fmt.Errorf("list appointments for doctor %d: %w", doctorID, err)
	}
	return firstConflict(existing, start.UTC(), end.UTC()), nil
}

// FindOverlaps reports every intersecting pair within one doctor's appointments.
func FindOverlaps(appts []Appointment) []OverlapPair {
	sorted := make([]Appointment, len(appts))
	copy(sorted, appts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartTimeUTC.Equal(sorted[j].StartTimeUTC) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].StartTimeUTC.Before(sorted[j].StartTimeUTC)
	})

	var pairs []OverlapPair
	for i := range sorted {
		end := sorted[i].EndTimeUTC()
		for j := i + 1; j < len(sorted) && sorted[j].StartTimeUTC.Before(end); j++ {
			if sorted[i].DoctorID != sorted[j].DoctorID {
				continue
			}
			pairs = append(pairs, OverlapPair{
				DoctorID: sorted[i].DoctorID,
				First:    sorted[i],
				Second:   sorted[j],
			})
		}
	}
	return pairs
}
