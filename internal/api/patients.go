package api

import (
	"net/http"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req CreatePatientRequest
	if !bindAndValidate(w, r, &req) {
		return
	}

	p, err := h.svc.CreatePatient(r.Context(), appointment.NewPatient{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPatientResponse(*p))
}

func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, err := h.svc.GetPatient(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPatientResponse(*p))
}

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.svc.ListPatients(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	resp := make([]PatientResponse, 0, len(patients))
	for _, p := range patients {
		resp = append(resp, toPatientResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DeletePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeletePatient(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
