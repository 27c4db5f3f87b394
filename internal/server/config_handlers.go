package server

import (
	"net/http"
	"os"
	"time"

	"jukebox/pkg/models"
)

// handleAppConfig exposes feature switches and upload limits to the web
// client.
func (s *Server) handleAppConfig(w http.ResponseWriter, r *http.Request) {
	payload := models.AppConfigResponse{
		AllowUserUpload:    s.cfg.Jobs.AllowUserUpload,
		AllowUserYoutube:   s.cfg.Jobs.AllowUserYoutube,
		AllowFavoritesSync: s.cfg.Jobs.AllowFavoritesSync,
	}
	if s.cfg.Jobs.AllowUserUpload {
		payload.MaxUploadSize = s.cfg.MaxUploadBytes()
		payload.AllowedUploadExts = AllowedUploadExts()
	}
	s.respondJSON(w, http.StatusOK, payload)
}

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  string         `json:"database"`
	Storage   string         `json:"storage"`
	Details   map[string]any `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "ok",
		Storage:   "ok",
		Details:   make(map[string]any),
	}

	if _, err := s.db.TopTracks(1); err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
	}
	if _, err := os.Stat(s.cfg.Storage.Root); err != nil {
		health.Status = "unhealthy"
		health.Storage = "error"
		health.Details["storage_error"] = err.Error()
	}

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, health)
}
