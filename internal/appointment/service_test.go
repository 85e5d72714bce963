package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	patient *Patient
	doctor  *Doctor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := NewService(repo, nil, nil, WithClock(func() time.Time { return fixedNow }))

	p, err := svc.CreatePatient(ctx, NewPatient{FirstName: "John", LastName: "Doe", Email: "john@example.com", PhoneNumber: "9999999999"})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	d, err := svc.CreateDoctor(ctx, NewDoctor{FullName: "Dr Strange", Specialty: "Neurology", IsActive: true})
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	return &fixture{svc: svc, repo: repo, patient: p, doctor: d}
}

func (f *fixture) book(start time.Time, minutes int) (*Appointment, error) {
	return f.svc.CreateAppointment(context.Background(), CreateAppointmentRequest{
		PatientID:       f.patient.ID,
		DoctorID:        f.doctor.ID,
		StartTime:       start.Format(time.RFC3339Nano),
		DurationMinutes: minutes,
	})
}

func TestCreateAppointmentScenario(t *testing.T) {
	f := newFixture(t)
	t1h := fixedNow.Add(time.Hour)

	first, err := f.book(t1h, 30)
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if want := fixedNow.Add(90 * time.Minute); !first.EndTimeUTC().Equal(want) {
		t.Errorf("end = %s, want %s", first.EndTimeUTC(), want)
	}

	_, err = f.book(t1h, 15)
	if !errors.Is(err, ErrSchedulingConflict) {
		t.Fatalf("identical start: err = %v, want conflict", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Existing.ID != first.ID {
		t.Errorf("conflict should name appointment %d, got %v", first.ID, err)
	}

	if _, err := f.book(fixedNow.Add(90*time.Minute), 30); err != nil {
		t.Fatalf("back to back booking: %v", err)
	}

	_, err = f.book(fixedNow.Add(5*time.Hour), 200)
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("duration 200: err = %v, want malformed input", err)
	}
}

func TestCreateAppointmentStoresUTC(t *testing.T) {
	f := newFixture(t)

	appt, err := f.svc.CreateAppointment(context.Background(), CreateAppointmentRequest{
		PatientID:       f.patient.ID,
		DoctorID:        f.doctor.ID,
		StartTime:       "2030-03-10T16:30:00+05:30",
		DurationMinutes: 45,
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	want := time.Date(2030, 3, 10, 11, 0, 0, 0, time.UTC)
	if !appt.StartTimeUTC.Equal(want) || appt.StartTimeUTC.Location() != time.UTC {
		t.Errorf("start = %s, want %s", appt.StartTimeUTC, want)
	}
}

func TestCreateAppointmentReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := fixedNow.Add(time.Hour).Format(time.RFC3339)

	_, err := f.svc.CreateAppointment(ctx, CreateAppointmentRequest{PatientID: f.patient.ID, DoctorID: 999999, StartTime: start, DurationMinutes: 30})
	if !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("unknown doctor: err = %v", err)
	}

	_, err = f.svc.CreateAppointment(ctx, CreateAppointmentRequest{PatientID: 999999, DoctorID: 999999, StartTime: start, DurationMinutes: 30})
	if !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("patient is checked before doctor: err = %v", err)
	}
}

func TestCreateAppointmentInactiveDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SetDoctorActive(ctx, f.doctor.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := f.book(fixedNow.Add(time.Hour), 30)
	if !errors.Is(err, ErrDoctorInactive) {
		t.Fatalf("err = %v, want doctor inactive", err)
	}

	if _, err := f.svc.SetDoctorActive(ctx, f.doctor.ID, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := f.book(fixedNow.Add(time.Hour), 30); err != nil {
		t.Fatalf("booking after reactivation: %v", err)
	}
}

func TestCreateAppointmentRejectionLeavesNoState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.book(fixedNow.Add(time.Hour), 60); err != nil {
		t.Fatalf("book: %v", err)
	}
	_, _ = f.book(fixedNow.Add(90*time.Minute), 60)
	_, _ = f.book(fixedNow, 30)

	n, err := f.repo.CountAppointments(ctx, CountFilter{DoctorID: &f.doctor.ID})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("appointments = %d, want 1", n)
	}

	created := 0
	for _, ev := range f.repo.Events() {
		if ev.EventType == EventAppointmentCreated {
			created++
		}
	}
	if created != 1 {
		t.Errorf("created events = %d, want 1", created)
	}
}

func TestCreateAppointmentConcurrent(t *testing.T) {
	f := newFixture(t)
	start := fixedNow.Add(2 * time.Hour)

	const workers = 8
	var (
		wg        sync.WaitGroup
		ready     = make(chan struct{})
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			_, err := f.book(start, 30)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSchedulingConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(ready)
	wg.Wait()

	if successes != 1 || conflicts != workers-1 || len(others) != 0 {
		t.Fatalf("successes=%d conflicts=%d others=%v", successes, conflicts, others)
	}

	pairs, err := f.svc.AuditSchedules(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(pairs) != 0 {
		t.Fatalf("overlapping pairs stored: %+v", pairs)
	}
}

func TestCreateAppointmentConcurrentStaggered(t *testing.T) {
	f := newFixture(t)
	base := fixedNow.Add(3 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.book(base.Add(time.Duration(i*10)*time.Minute), 30)
		}(i)
	}
	wg.Wait()

	pairs, err := f.svc.AuditSchedules(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(pairs) != 0 {
		t.Fatalf("overlapping pairs stored: %d", len(pairs))
	}
}

func TestDeleteDoctorGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(fixedNow.Add(time.Hour), 30)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := f.svc.DeleteDoctor(ctx, f.doctor.ID); !errors.Is(err, ErrHasDependentAppointments) {
			t.Fatalf("attempt %d: err = %v, want has dependent appointments", i, err)
		}
	}
	if _, err := f.svc.GetDoctor(ctx, f.doctor.ID); err != nil {
		t.Fatalf("doctor should still exist: %v", err)
	}
	if _, err := f.svc.GetAppointment(ctx, appt.ID); err != nil {
		t.Fatalf("appointment should still exist: %v", err)
	}

	if err := f.svc.DeleteAppointment(ctx, appt.ID); err != nil {
		t.Fatalf("delete appointment: %v", err)
	}
	if err := f.svc.DeleteDoctor(ctx, f.doctor.ID); err != nil {
		t.Fatalf("delete doctor: %v", err)
	}
	if err := f.svc.DeleteDoctor(ctx, f.doctor.ID); !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("second delete: err = %v, want not found", err)
	}
}

func TestDeletePatientGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(fixedNow.Add(time.Hour), 30)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if err := f.svc.DeletePatient(ctx, f.patient.ID); !errors.Is(err, ErrHasDependentAppointments) {
		t.Fatalf("err = %v, want has dependent appointments", err)
	}

	if err := f.svc.DeleteAppointment(ctx, appt.ID); err != nil {
		t.Fatalf("delete appointment: %v", err)
	}
	if err := f.svc.DeleteAppointment(ctx, appt.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("second appointment delete: err = %v", err)
	}
	if err := f.svc.DeletePatient(ctx, f.patient.ID); err != nil {
		t.Fatalf("delete patient: %v", err)
	}
	if _, err := f.svc.GetPatient(ctx, f.patient.ID); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("get deleted patient: err = %v", err)
	}
}

func TestCreatePatientDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePatient(ctx, NewPatient{FirstName: "Jane", LastName: "Doe", Email: "  JOHN@Example.com "})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v, want duplicate email", err)
	}

	p, err := f.svc.CreatePatient(ctx, NewPatient{FirstName: "Jane", LastName: "Doe", Email: " Jane@Example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Email != "jane@example.com" {
		t.Errorf("email = %q, want normalised", p.Email)
	}
}

func TestListAppointmentsByDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.svc.CreateDoctor(ctx, NewDoctor{FullName: "Dr Who", Specialty: "General Practice", IsActive: true})
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}

	// fixedNow is 09:00 UTC on March 10th
	if _, err := f.book(fixedNow.Add(2*time.Hour), 30); err != nil {
		t.Fatal(err)
	}
	if _, err := f.book(fixedNow.Add(20*time.Hour), 30); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CreateAppointment(ctx, CreateAppointmentRequest{
		PatientID: f.patient.ID, DoctorID: other.ID,
		StartTime: fixedNow.Add(time.Hour).Format(time.RFC3339), DurationMinutes: 15,
	}); err != nil {
		t.Fatal(err)
	}

	day := time.Date(2030, 3, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		q       ListAppointmentsQuery
		want    int
		wantErr error
	}{
		{"everything", ListAppointmentsQuery{}, 3, nil},
		{"one day", ListAppointmentsQuery{Date: &day}, 2, nil},
		{"one day one doctor", ListAppointmentsQuery{Date: &day, DoctorID: &f.doctor.ID}, 1, nil},
		{"bad doctor id", ListAppointmentsQuery{DoctorID: new(int64)}, 0, ErrInvalidReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.ListAppointments(ctx, tt.q)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i].StartTimeUTC.Before(got[i-1].StartTimeUTC) {
					t.Errorf("not ordered by start time")
				}
			}
		})
	}
}

type failingRepo struct {
	*MemoryRepository
}

func (r failingRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return r.MemoryRepository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		return fn(ctx, failingRepo{tx.(*MemoryRepository)})
	})
}

func (r failingRepo) InsertAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	return nil, fmt.Errorf("insert appointment: %w", errors.New("connection reset"))
}

func TestCreateAppointmentStoreFailureIsOpaque(t *testing.T) {
	f := newFixture(t)
	svc := NewService(failingRepo{f.repo}, nil, nil, WithClock(func() time.Time { return fixedNow }))

	_, err := svc.CreateAppointment(context.Background(), CreateAppointmentRequest{
		PatientID: f.patient.ID, DoctorID: f.doctor.ID,
		StartTime: fixedNow.Add(time.Hour).Format(time.RFC3339), DurationMinutes: 30,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRejection(err) || Reason(err) != "internal_error" {
		t.Errorf("store failure should be opaque, got reason %q", Reason(err))
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "committed"},
		{ErrDurationOutOfRange, "duration_out_of_range"},
		{&ConflictError{}, "scheduling_conflict"},
		{fmt.Errorf("wrapped: %w", ErrDoctorInactive), "doctor_inactive"},
		{ErrHasDependentAppointments, "has_dependent_appointments"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
