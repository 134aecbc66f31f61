package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/campa/internal/core"
)

// handleRegisterEntry records a vehicle entering the lot.
func (s *Server) handleRegisterEntry(w http.ResponseWriter, r *http.Request) {
	var v core.VehicleRecord
	if err := decodeJSON(r, &v); err != nil {
		respondError(w, r, err)
		return
	}

	created, err := s.service.RegisterEntry(r.Context(), identity(r), v)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, created)
}

func (s *Server) handleMarkDeparted(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.MarkDeparted(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, v)
}

// handleUpdateVehicle replaces a record. The id in the path wins over the
// one in the body.
func (s *Server) handleUpdateVehicle(w http.ResponseWriter, r *http.Request) {
	var v core.VehicleRecord
	if err := decodeJSON(r, &v); err != nil {
		respondError(w, r, err)
		return
	}
	v.ID = chi.URLParam(r, "id")

	updated, err := s.service.UpdateVehicle(r.Context(), identity(r), v)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, updated)
}

func (s *Server) handleDeleteVehicle(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteVehicle(r.Context(), identity(r), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deleteVehiclesRequest struct {
	IDs []string `json:"ids"`
}

// handleDeleteVehicles removes a batch of records atomically.
func (s *Server) handleDeleteVehicles(w http.ResponseWriter, r *http.Request) {
	var req deleteVehiclesRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	n, err := s.service.DeleteVehicles(r.Context(), identity(r), req.IDs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]int{"deleted": n})
}

// handleDeleteByPeriod purges every record entered in the period.
func (s *Server) handleDeleteByPeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	start, end, err := s.periodFrom(req.From, req.To)
	if err != nil {
		respondError(w, r, err)
		return
	}

	res, err := s.service.DeleteByPeriod(r.Context(), identity(r), start, end)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeResult(w, res, nil)
}
