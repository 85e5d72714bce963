package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

var testNow = time.Date(2030, 3, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	t       *testing.T
	handler http.Handler
	metrics *metrics.Collector
}

func newTestServer(t *testing.T, rl *RateLimiter) *testServer {
	t.Helper()
	svc := appointment.NewService(appointment.NewMemoryRepository(), nil, nil,
		appointment.WithClock(func() time.Time { return testNow }))
	m := metrics.NewCollector()
	return &testServer{
		t: t,
		handler: NewRouter(RouterConfig{
			Service:     svc,
			Metrics:     m,
			RateLimiter: rl,
			StoreDriver: "memory",
			Env:         "test",
			Version:     "test",
		}),
		metrics: m,
	}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (s *testServer) seed() (patientID, doctorID int64) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/patients", CreatePatientRequest{FirstName: "John", LastName: "Doe", Email: "John@Example.com"})
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("create patient: %d %s", rec.Code, rec.Body)
	}
	p := decode[PatientResponse](s.t, rec)

	rec = s.do(http.MethodPost, "/doctors", CreateDoctorRequest{FullName: "Dr Strange", Specialty: "Neurology"})
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("create doctor: %d %s", rec.Code, rec.Body)
	}
	d := decode[DoctorResponse](s.t, rec)
	if !d.IsActive {
		s.t.Fatal("doctor should default to active")
	}
	return p.ID, d.ID
}

func TestCreateAppointmentStatusMapping(t *testing.T) {
	s := newTestServer(t, nil)
	pid, did := s.seed()

	rec := s.do(http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: pid, DoctorID: did, StartTime: "2030-03-10T15:30:00+05:30", DurationMinutes: 30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	first := decode[AppointmentResponse](t, rec)
	if want := time.Date(2030, 3, 10, 10, 0, 0, 0, time.UTC); !first.StartTimeUTC.Equal(want) {
		t.Errorf("start = %s, want %s", first.StartTimeUTC, want)
	}
	if want := time.Date(2030, 3, 10, 10, 30, 0, 0, time.UTC); !first.EndTimeUTC.Equal(want) {
		t.Errorf("end = %s, want %s", first.EndTimeUTC, want)
	}

	tests := []struct {
		name       string
		req        CreateAppointmentRequest
		wantStatus int
		wantCode   string
	}{
		{"overlap", CreateAppointmentRequest{PatientID: pid, DoctorID: did, StartTime: "2030-03-10T10:15:00Z", DurationMinutes: 30}, http.StatusConflict, "scheduling_conflict"},
		{"adjacent", CreateAppointmentRequest{PatientID: pid, DoctorID: did, StartTime: "2030-03-10T10:30:00Z", DurationMinutes: 30}, http.StatusCreated, ""},
		{"naive start", CreateAppointmentRequest{PatientID: pid, DoctorID: did, StartTime: "2030-03-10T12:00:00", DurationMinutes: 30}, http.StatusBadRequest, "missing_timezone"},
		{"garbage start", CreateAppointmentRequest{PatientID: pid, DoctorID: did, StartTime: "soon", DurationMinutes: 30}, http.StatusBadRequest, "invalid_start_time"},
		{"past", CreateAppointmentRequest{PatientID: pid, DoctorID: did, StartTime: "2030-03-10T08:00:00Z", DurationMinutes: 30}, http.StatusBadRequest, "not_in_future"},
		{"duration too long", CreateAppointmentRequest{PatientID: pid, DoctorID: did, StartTime: "2030-03-10T12:00:00Z", DurationMinutes: 200}, http.StatusBadRequest, "duration_out_of_range"},
		{"zero ids", CreateAppointmentRequest{StartTime: "2030-03-10T12:00:00Z", DurationMinutes: 30}, http.StatusBadRequest, "invalid_reference"},
		{"unknown doctor", CreateAppointmentRequest{PatientID: pid, DoctorID: 999, StartTime: "2030-03-10T12:00:00Z", DurationMinutes: 30}, http.StatusNotFound, "doctor_not_found"},
		{"unknown patient", CreateAppointmentRequest{PatientID: 999, DoctorID: did, StartTime: "2030-03-10T12:00:00Z", DurationMinutes: 30}, http.StatusNotFound, "patient_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/appointments", tt.req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantCode == "" {
				return
			}
			resp := decode[ErrorResponse](t, rec)
			if resp.Error != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Error, tt.wantCode)
			}
			if tt.wantCode == "scheduling_conflict" {
				if resp.ConflictingAppointmentID == nil || *resp.ConflictingAppointmentID != first.ID {
					t.Errorf("conflicting id = %v, want %d", resp.ConflictingAppointmentID, first.ID)
				}
			}
		})
	}
}

func TestCreateAppointmentBadBody(t *testing.T) {
	s := newTestServer(t, nil)

	for _, body := range []string{"", "{", `{"patient_id":"one"}`, `{"patient_id":1.5}`} {
		rec := s.do(http.MethodPost, "/appointments", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestFarFutureStartKeepsListingReadable(t *testing.T) {
	s := newTestServer(t, nil)
	pid, did := s.seed()

	rec := s.do(http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: pid, DoctorID: did, StartTime: "9999-12-31T23:00:00-05:00", DurationMinutes: 30,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body)
	}
	if code := decode[ErrorResponse](t, rec).Error; code != "invalid_start_time" {
		t.Errorf("code = %q, want invalid_start_time", code)
	}

	rec = s.do(http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: pid, DoctorID: did, StartTime: "9999-12-31T23:00:00Z", DurationMinutes: 30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("last encodable slot: %d %s", rec.Code, rec.Body)
	}
	if decode[AppointmentResponse](t, rec).ID == 0 {
		t.Error("created appointment has no id")
	}

	rec = s.do(http.MethodGet, "/appointments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body)
	}
	if got := decode[[]AppointmentResponse](t, rec); len(got) != 1 {
		t.Errorf("listed %d appointments, want 1", len(got))
	}
}

func TestWriteJSONUnencodableValue(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, AppointmentResponse{ID: 1, StartTimeUTC: time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Error != "internal_error" {
		t.Errorf("code = %q, want internal_error", resp.Error)
	}
}

func TestInactiveDoctor(t *testing.T) {
	s := newTestServer(t, nil)
	pid, did := s.seed()

	rec := s.do(http.MethodPatch, fmt.Sprintf("/doctors/%d/status", did), map[string]bool{"is_active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body)
	}
	if decode[DoctorResponse](t, rec).IsActive {
		t.Fatal("doctor still active")
	}

	rec = s.do(http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: pid, DoctorID: did, StartTime: "2030-03-10T12:00:00Z", DurationMinutes: 30,
	})
	if rec.Code != http.StatusConflict || decode[ErrorResponse](t, rec).Error != "doctor_inactive" {
		t.Fatalf("book inactive: %d %s", rec.Code, rec.Body)
	}

	rec = s.do(http.MethodPatch, fmt.Sprintf("/doctors/%d/status", did), map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("patch without is_active: status = %d, want 400", rec.Code)
	}
}

func TestPatientValidationAndDuplicates(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed()

	rec := s.do(http.MethodPost, "/patients", CreatePatientRequest{FirstName: "Jane", LastName: "Doe", Email: "not-an-email"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid email: %d", rec.Code)
	}
	resp := decode[ErrorResponse](t, rec)
	if resp.Error != "validation_failed" || !strings.Contains(resp.Details, "email") {
		t.Errorf("unexpected response %+v", resp)
	}

	rec = s.do(http.MethodPost, "/patients", CreatePatientRequest{FirstName: "Johnny", LastName: "Doe", Email: "john@example.COM"})
	if rec.Code != http.StatusConflict || decode[ErrorResponse](t, rec).Error != "duplicate_email" {
		t.Fatalf("duplicate email: %d %s", rec.Code, rec.Body)
	}

	rec = s.do(http.MethodGet, "/patients", nil)
	if got := decode[[]PatientResponse](t, rec); len(got) != 1 || got[0].Email != "john@example.com" {
		t.Errorf("patients = %+v", got)
	}
}

func TestListAppointments(t *testing.T) {
	s := newTestServer(t, nil)
	pid, did := s.seed()

	for _, start := range []string{"2030-03-10T10:00:00Z", "2030-03-11T10:00:00Z", "2030-03-10T23:45:00Z"} {
		rec := s.do(http.MethodPost, "/appointments", CreateAppointmentRequest{PatientID: pid, DoctorID: did, StartTime: start, DurationMinutes: 30})
		if rec.Code != http.StatusCreated {
			t.Fatalf("book %s: %d %s", start, rec.Code, rec.Body)
		}
	}

	tests := []struct {
		query      string
		wantStatus int
		wantCount  int
	}{
		{"", http.StatusOK, 3},
		{"?date=2030-03-10", http.StatusOK, 2},
		{fmt.Sprintf("?date=2030-03-11&doctor_id=%d", did), http.StatusOK, 1},
		{"?doctor_id=12345", http.StatusOK, 0},
		{"?date=10/03/2030", http.StatusBadRequest, 0},
		{"?doctor_id=abc", http.StatusBadRequest, 0},
		{"?doctor_id=0", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := s.do(http.MethodGet, "/appointments"+tt.query, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Code != http.StatusOK {
				return
			}
			got := decode[[]AppointmentResponse](t, rec)
			if len(got) != tt.wantCount {
				t.Errorf("count = %d, want %d", len(got), tt.wantCount)
			}
			for i := 1; i < len(got); i++ {
				if got[i].StartTimeUTC.Before(got[i-1].StartTimeUTC) {
					t.Error("appointments not ordered by start time")
				}
			}
		})
	}
}

func TestDeleteGuards(t *testing.T) {
	s := newTestServer(t, nil)
	pid, did := s.seed()

	rec := s.do(http.MethodPost, "/appointments", CreateAppointmentRequest{PatientID: pid, DoctorID: did, StartTime: "2030-03-10T10:00:00Z", DurationMinutes: 30})
	appt := decode[AppointmentResponse](t, rec)

	steps := []struct {
		method, path string
		wantStatus   int
	}{
		{http.MethodDelete, fmt.Sprintf("/doctors/%d", did), http.StatusConflict},
		{http.MethodDelete, fmt.Sprintf("/patients/%d", pid), http.StatusConflict},
		{http.MethodGet, fmt.Sprintf("/appointments/%d", appt.ID), http.StatusOK},
		{http.MethodDelete, fmt.Sprintf("/appointments/%d", appt.ID), http.StatusNoContent},
		{http.MethodGet, fmt.Sprintf("/appointments/%d", appt.ID), http.StatusNotFound},
		{http.MethodDelete, fmt.Sprintf("/appointments/%d", appt.ID), http.StatusNotFound},
		{http.MethodDelete, fmt.Sprintf("/doctors/%d", did), http.StatusNoContent},
		{http.MethodDelete, fmt.Sprintf("/patients/%d", pid), http.StatusNoContent},
		{http.MethodGet, fmt.Sprintf("/doctors/%d", did), http.StatusNotFound},
		{http.MethodGet, fmt.Sprintf("/patients/%d", pid), http.StatusNotFound},
		{http.MethodGet, "/patients/abc", http.StatusBadRequest},
		{http.MethodDelete, "/doctors/-1", http.StatusBadRequest},
	}

	for _, st := range steps {
		rec := s.do(st.method, st.path, nil)
		if rec.Code != st.wantStatus {
			t.Fatalf("%s %s: status = %d, want %d: %s", st.method, st.path, rec.Code, st.wantStatus, rec.Body)
		}
	}
}

func TestHealthWithoutDependencies(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/health/live", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("live: %d", rec.Code)
	}

	rec = s.do(http.MethodGet, "/health/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: %d", rec.Code)
	}
	resp := decode[ReadinessResponse](t, rec)
	if resp.Status != "ok" || resp.Store != "memory" || resp.Dependencies["postgres"] != "disabled" || resp.Dependencies["redis"] != "disabled" {
		t.Errorf("unexpected readiness %+v", resp)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, NewRateLimiter(0.001, 2))

	for i := 0; i < 2; i++ {
		if rec := s.do(http.MethodGet, "/doctors", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := s.do(http.MethodGet, "/doctors", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// health checks are never limited
	if rec := s.do(http.MethodGet, "/health/live", nil); rec.Code != http.StatusOK {
		t.Errorf("health: status = %d", rec.Code)
	}
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	now := testNow
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	now = now.Add(clientIdleTTL + sweepEvery + time.Second)
	rl.Allow("c")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.clients) != 1 {
		t.Errorf("clients = %d, want 1", len(rl.clients))
	}
}

func TestMetricsEndpointCountsOutcomes(t *testing.T) {
	s := newTestServer(t, nil)
	pid, did := s.seed()

	req := CreateAppointmentRequest{PatientID: pid, DoctorID: did, StartTime: "2030-03-10T10:00:00Z", DurationMinutes: 30}
	s.do(http.MethodPost, "/appointments", req)
	s.do(http.MethodPost, "/appointments", req)

	body := s.do(http.MethodGet, "/metrics", nil).Body.String()
	for _, want := range []string{
		`clinic_scheduling_appointment_requests_total{outcome="committed"} 1`,
		`clinic_scheduling_appointment_requests_total{outcome="scheduling_conflict"} 1`,
		`route="/appointments`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
