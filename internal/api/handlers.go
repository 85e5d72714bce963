package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// Handler serves the patient, doctor and appointment resources.
type Handler struct {
	svc     *appointment.Service
	log     *zap.Logger
	metrics *metrics.Collector
}

func NewHandler(svc *appointment.Service, log *zap.Logger, m *metrics.Collector) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log, metrics: m}
}

// pathID parses the {id} URL parameter, writing a 400 when it is not a
// positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	started := time.Now()
	appt, err := h.svc.CreateAppointment(r.Context(), appointment.CreateAppointmentRequest{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
	})
	if h.metrics != nil {
		h.metrics.ObserveBooking(appointment.Reason(err), time.Since(started).Seconds())
	}
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

// ListAppointments accepts ?date=YYYY-MM-DD (a UTC day) and ?doctor_id=N,
// both optional.
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	var q appointment.ListAppointmentsQuery

	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as YYYY-MM-DD")
			return
		}
		q.Date = &d
	}

	if raw := r.URL.Query().Get("doctor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeServiceError(w, r, h.log, appointment.ErrInvalidReference)
			return
		}
		q.DoctorID = &id
	}

	appts, err := h.svc.ListAppointments(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	resp := make([]AppointmentResponse, 0, len(appts))
	for _, a := range appts {
		resp = append(resp, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteAppointment(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
