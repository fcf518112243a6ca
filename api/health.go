package api

import "net/http"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness. The registry and store are wired at
// startup, so readiness tracks whether they exist; a dead database shows up
// in request errors and logs rather than flapping this probe.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Bots == nil || s.deps.Store == nil || s.deps.Pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, "not_ready", "dependencies not wired")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
