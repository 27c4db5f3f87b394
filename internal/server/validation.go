package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// respondJSON writes a JSON response body with the given status code.
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// respondWithError sends a structured error response.
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := s.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})
	if err != nil {
		logEntry = logEntry.WithError(err)
	}
	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	s.respondJSON(w, statusCode, map[string]any{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

// isAdmin reports whether the request carries the configured admin key.
// An unconfigured key never matches.
func (s *Server) isAdmin(r *http.Request) bool {
	key := s.cfg.Jobs.AdminKey
	if key == "" {
		return false
	}
	presented := r.URL.Query().Get("key")
	if presented == "" {
		presented = r.Header.Get("X-Admin-Key")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1
}
