package api

import (
	"net/http"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

func (h *Handler) CreateDoctor(w http.ResponseWriter, r *http.Request) {
	var req CreateDoctorRequest
	if !bindAndValidate(w, r, &req) {
		return
	}

	// doctors accept appointments unless created inactive
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	d, err := h.svc.CreateDoctor(r.Context(), appointment.NewDoctor{
		FullName:  req.FullName,
		Specialty: req.Specialty,
		IsActive:  active,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDoctorResponse(*d))
}

func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.svc.GetDoctor(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoctorResponse(*d))
}

func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.svc.ListDoctors(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	resp := make([]DoctorResponse, 0, len(doctors))
	for _, d := range doctors {
		resp = append(resp, toDoctorResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) UpdateDoctorStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateDoctorStatusRequest
	if !bindAndValidate(w, r, &req) {
		return
	}

	d, err := h.svc.SetDoctorActive(r.Context(), id, *req.IsActive)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoctorResponse(*d))
}

func (h *Handler) DeleteDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteDoctor(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
