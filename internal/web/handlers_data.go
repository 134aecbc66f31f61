package web

import (
	"net/http"
)

// handleListVehicles returns every record, or those entered in [from, to]
// when both are given.
func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("from") != "" || q.Get("to") != "" {
		start, end, err := s.parsePeriod(r)
		if err != nil {
			respondError(w, r, err)
			return
		}
		records, err := s.service.Between(r.Context(), start, end)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, records)
		return
	}

	records, err := s.service.ListVehicles(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, records)
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListActive(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, records)
}

func (s *Server) handleCountActive(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.CountActive(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]int{"count": n})
}

// handleSearch matches plates containing q. A blank q lists everything.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, records)
}
