package appointment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryData struct {
	patients     map[int64]Patient
	doctors      map[int64]Doctor
	appointments map[int64]Appointment
	events       []EventLog

	nextPatientID     int64
	nextDoctorID      int64
	nextAppointmentID int64
	nextEventID       int64
}

func (d *memoryData) clone() *memoryData {
	c := *d
	c.patients = make(map[int64]Patient, len(d.patients))
	for k, v := range d.patients {
		c.patients[k] = v
	}
	c.doctors = make(map[int64]Doctor, len(d.doctors))
	for k, v := range d.doctors {
		c.doctors[k] = v
	}
	c.appointments = make(map[int64]Appointment, len(d.appointments))
	for k, v := range d.appointments {
		c.appointments[k] = v
	}
	c.events = append([]EventLog(nil), d.events...)
	return &c
}

type memoryStore struct {
	mu   sync.Mutex
	data *memoryData
	now  func() time.Time
}

// MemoryRepository is a process local Repository. A transaction holds the
// store's mutex from begin to commit, so transactions are fully serialised,
// and a failed transaction restores the snapshot taken at begin. It enforces
// the same uniqueness, non-overlap and restrict-on-delete rules as the
// Postgres schema.
type MemoryRepository struct {
	store *memoryStore
	inTx  bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		store: &memoryStore{
			data: &memoryData{
				patients:     make(map[int64]Patient),
				doctors:      make(map[int64]Doctor),
				appointments: make(map[int64]Appointment),
			},
			now: time.Now,
		},
	}
}

func (r *MemoryRepository) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *MemoryRepository) nowUTC() time.Time {
	return r.store.now().UTC()
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	snapshot := r.store.data.clone()
	err := fn(ctx, &MemoryRepository{store: r.store, inTx: true})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		r.store.data = snapshot
		return err
	}
	return nil
}

// Patients

func (r *MemoryRepository) GetPatientByID(ctx context.Context, id int64) (*Patient, error) {
	defer r.lock()()

	p, ok := r.store.data.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetPatientByEmail(ctx context.Context, email string) (*Patient, error) {
	defer r.lock()()

	for _, p := range r.store.data.patients {
		if strings.EqualFold(p.Email, email) {
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (r *MemoryRepository) LockPatient(ctx context.Context, id int64) (*Patient, error) {
	return r.GetPatientByID(ctx, id)
}

func (r *MemoryRepository) ListPatients(ctx context.Context) ([]Patient, error) {
	defer r.lock()()

	result := make([]Patient, 0, len(r.store.data.patients))
	for _, p := range r.store.data.patients {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *MemoryRepository) InsertPatient(ctx context.Context, np NewPatient) (*Patient, error) {
	defer r.lock()()

	for _, p := range r.store.data.patients {
		if strings.EqualFold(p.Email, np.Email) {
			return nil, ErrDuplicateEmail
		}
	}

	d := r.store.data
	d.nextPatientID++
	now := r.nowUTC()
	p := Patient{
		ID:          d.nextPatientID,
		FirstName:   np.FirstName,
		LastName:    np.LastName,
		Email:       np.Email,
		PhoneNumber: np.PhoneNumber,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	d.patients[p.ID] = p
	return &p, nil
}

func (r *MemoryRepository) DeletePatient(ctx context.Context, id int64) (bool, error) {
	defer r.lock()()

	d := r.store.data
	if _, ok := d.patients[id]; !ok {
		return false, nil
	}
	for _, a := range d.appointments {
		if a.PatientID == id {
			return false, ErrHasDependentAppointments
		}
	}
	delete(d.patients, id)
	return true, nil
}

// Doctors

func (r *MemoryRepository) GetDoctorByID(ctx context.Context, id int64) (*Doctor, error) {
	defer r.lock()()

	doc, ok := r.store.data.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &doc, nil
}

func (r *MemoryRepository) LockDoctor(ctx context.Context, id int64) (*Doctor, error) {
	return r.GetDoctorByID(ctx, id)
}

func (r *MemoryRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	defer r.lock()()

	result := make([]Doctor, 0, len(r.store.data.doctors))
	for _, doc := range r.store.data.doctors {
		result = append(result, doc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *MemoryRepository) InsertDoctor(ctx context.Context, nd NewDoctor) (*Doctor, error) {
	defer r.lock()()

	d := r.store.data
	d.nextDoctorID++
	now := r.nowUTC()
	doc := Doctor{
		ID:        d.nextDoctorID,
		FullName:  nd.FullName,
		Specialty: nd.Specialty,
		IsActive:  nd.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.doctors[doc.ID] = doc
	return &doc, nil
}

func (r *MemoryRepository) UpdateDoctorStatus(ctx context.Context, id int64, active bool) (*Doctor, error) {
	defer r.lock()()

	doc, ok := r.store.data.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	doc.IsActive = active
	doc.UpdatedAt = r.nowUTC()
	r.store.data.doctors[id] = doc
	return &doc, nil
}

func (r *MemoryRepository) DeleteDoctor(ctx context.Context, id int64) (bool, error) {
	defer r.lock()()

	d := r.store.data
	if _, ok := d.doctors[id]; !ok {
		return false, nil
	}
	for _, a := range d.appointments {
		if a.DoctorID == id {
			return false, ErrHasDependentAppointments
		}
	}
	delete(d.doctors, id)
	return true, nil
}

// Appointments

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error) {
	defer r.lock()()

	a, ok := r.store.data.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListAppointmentsForDoctor(ctx context.Context, doctorID int64, before *time.Time) ([]Appointment, error) {
	defer r.lock()()

	var result []Appointment
	for _, a := range r.store.data.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		if before != nil && !a.StartTimeUTC.Before(*before) {
			continue
		}
		result = append(result, a)
	}
	sortAppointments(result)
	return result, nil
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	defer r.lock()()

	var result []Appointment
	for _, a := range r.store.data.appointments {
		if f.From != nil && a.StartTimeUTC.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.StartTimeUTC.Before(*f.To) {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		result = append(result, a)
	}
	sortAppointments(result)
	return result, nil
}

func (r *MemoryRepository) InsertAppointment(ctx context.Context, na NewAppointment) (*Appointment, error) {
	defer r.lock()()

	d := r.store.data
	if _, ok := d.patients[na.PatientID]; !ok {
		return nil, fmt.Errorf("insert appointment: patient %d does not exist", na.PatientID)
	}
	if _, ok := d.doctors[na.DoctorID]; !ok {
		return nil, fmt.Errorf("insert appointment: doctor %d does not exist", na.DoctorID)
	}

	start := na.StartUTC.UTC()
	end := start.Add(time.Duration(na.DurationMinutes) * time.Minute)
	for _, a := range d.appointments {
		if a.DoctorID == na.DoctorID && Overlaps(start, end, a.StartTimeUTC, a.EndTimeUTC()) {
			return nil, ErrSchedulingConflict
		}
	}

	d.nextAppointmentID++
	a := Appointment{
		ID:              d.nextAppointmentID,
		PatientID:       na.PatientID,
		DoctorID:        na.DoctorID,
		StartTimeUTC:    start,
		DurationMinutes: na.DurationMinutes,
		CreatedAt:       r.nowUTC(),
	}
	d.appointments[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) CountAppointments(ctx context.Context, f CountFilter) (int, error) {
	defer r.lock()()

	n := 0
	for _, a := range r.store.data.appointments {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		n++
	}
	return n, nil
}

func (r *MemoryRepository) DeleteAppointment(ctx context.Context, id int64) (bool, error) {
	defer r.lock()()

	if _, ok := r.store.data.appointments[id]; !ok {
		return false, nil
	}
	delete(r.store.data.appointments, id)
	return true, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	defer r.lock()()

	d := r.store.data
	d.nextEventID++
	ev.ID = d.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.nowUTC()
	}
	d.events = append(d.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	defer r.lock()()

	return append([]EventLog(nil), r.store.data.events...)
}

func sortAppointments(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].StartTimeUTC.Equal(appts[j].StartTimeUTC) {
			return appts[i].ID < appts[j].ID
		}
		return appts[i].StartTimeUTC.Before(appts[j].StartTimeUTC)
	})
}
