package web

import "net/http"

// handleAuditLog returns the newest audit entries. Admin only.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.AuditLog(r.Context(), identity(r), parseIntParam(r, "limit", 100))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, entries)
}
