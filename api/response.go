package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes a JSON response. Encoding failures after WriteHeader can
// only be logged; the status line is already on the wire.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding JSON response", "error", err)
	}
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}
