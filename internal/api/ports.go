package api

import (
	"net/http"
)

// handleListPorts returns the device paths of all serial ports present on
// the system, whether or not they are in use.
func (s *Server) handleListPorts(w http.ResponseWriter, _ *http.Request) {
	ports, err := s.ports()
	if err != nil {
		s.logger.Error("port enumeration failed", "error", err)
		writeInternalError(w, "failed to list serial ports")
		return
	}
	if ports == nil {
		ports = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": msgOK,
		"ports":   ports,
	})
}
