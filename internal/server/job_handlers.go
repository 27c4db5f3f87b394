package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"jukebox/pkg/models"

	"github.com/google/uuid"
)

// ownerDeleteWindow is how long after creation (or completion) a job may
// be deleted without the admin key.
const ownerDeleteWindow = 30 * time.Minute

// newJobID returns a fresh opaque 32-hex job id.
func newJobID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

type createFromVideoRequest struct {
	YoutubeID      string  `json:"youtube_id"`
	Title          *string `json:"title"`
	Artist         *string `json:"artist"`
	IsUserSupplied bool    `json:"is_user_supplied"`
}

// handleCreateFromVideo deduplicates or creates a downloading job for a
// video id and hands it to the fetcher.
func (s *Server) handleCreateFromVideo(w http.ResponseWriter, r *http.Request) {
	var req createFromVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}
	if strings.TrimSpace(req.YoutubeID) == "" {
		s.respondWithError(w, r, http.StatusBadRequest, "youtube_id is required", nil)
		return
	}
	if req.IsUserSupplied && !s.cfg.Jobs.AllowUserYoutube {
		s.respondWithError(w, r, http.StatusForbidden, "User submissions are disabled", nil)
		return
	}

	title := ""
	if req.Title != nil {
		title = *req.Title
	}
	artist := ""
	if req.Artist != nil {
		artist = *req.Artist
	}

	// dedup by track identity first, then by video id
	if title != "" && artist != "" {
		existing, err := s.db.GetJobByTrack(title, artist)
		if err == nil && existing != nil && s.shouldRecycle(existing) {
			s.recycle(existing)
			existing = nil
		}
		if existing != nil && existing.Status != models.StatusFailed {
			s.writeJobResponse(w, existing)
			return
		}
	}
	existing, err := s.db.GetJobByYoutubeID(req.YoutubeID)
	if err == nil && existing != nil && s.shouldRecycle(existing) {
		s.recycle(existing)
		existing = nil
	}
	if existing != nil && existing.Status != models.StatusFailed {
		s.writeJobResponse(w, existing)
		return
	}

	if s.fetcher == nil {
		s.respondWithError(w, r, http.StatusServiceUnavailable, "Audio fetcher is not available", nil)
		return
	}

	jobID := newJobID()
	job := models.Job{
		ID:             jobID,
		Status:         models.StatusDownloading,
		InputPath:      "",
		OutputPath:     filepath.Join("analysis", jobID+".json"),
		TrackTitle:     title,
		TrackArtist:    artist,
		YoutubeID:      req.YoutubeID,
		IsUserSupplied: req.IsUserSupplied,
	}
	if err := s.db.CreateJob(job); err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to create job", err)
		return
	}
	s.fetcher.Fetch(jobID, req.YoutubeID)

	s.respondJSON(w, http.StatusAccepted, models.JobProgressPayload{
		ID:      jobID,
		Status:  string(models.StatusDownloading),
		Message: messageForProgress(models.StatusDownloading, nil),
	})
}

// handleGetAnalysis reports the status payload for a job.
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	job, err := s.db.GetJob(r.PathValue("id"))
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to look up job", err)
		return
	}
	if job == nil {
		s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}
	s.writeJobResponse(w, job)
}

// handleRepair reconciles a job whose artifacts went missing: refetch the
// audio, requeue the analysis, or report the current state.
func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, err := s.db.GetJob(jobID)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to look up job", err)
		return
	}
	if job == nil {
		s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}
	if job.Status == models.StatusDownloading || job.Status == models.StatusQueued || job.Status == models.StatusProcessing {
		s.writeJobResponse(w, job)
		return
	}

	// reattach a stray audio file if the recorded path is stale
	audioPath := ""
	if job.InputPath != "" {
		candidate := filepath.Join(s.cfg.Storage.Root, job.InputPath)
		if _, err := os.Stat(candidate); err == nil {
			audioPath = candidate
		}
	}
	if audioPath == "" {
		if matches, err := filepath.Glob(filepath.Join(s.cfg.StoragePath("audio"), jobID+".*")); err == nil && len(matches) > 0 {
			audioPath = matches[0]
			relative := filepath.Join("audio", filepath.Base(matches[0]))
			if err := s.db.SetInputPath(jobID, relative); err != nil {
				s.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to reattach audio path")
			}
		}
	}

	analysisPath := filepath.Join(s.cfg.Storage.Root, job.OutputPath)
	_, analysisErr := os.Stat(analysisPath)
	analysisMissing := analysisErr != nil

	if audioPath == "" {
		if job.YoutubeID == "" || s.fetcher == nil {
			s.respondJSON(w, http.StatusNotFound, models.JobErrorPayload{
				ID:        jobID,
				Status:    string(models.StatusFailed),
				Error:     "Job has no staging audio and no video source",
				ErrorCode: "missing_input",
			})
			return
		}
		if err := s.db.SetProgress(jobID, 0); err == nil {
			if err := s.db.SetStatus(jobID, models.StatusDownloading, ""); err != nil {
				s.respondWithError(w, r, http.StatusInternalServerError, "Failed to restart download", err)
				return
			}
		}
		s.fetcher.Fetch(jobID, job.YoutubeID)
		if job, err = s.db.GetJob(jobID); err == nil && job != nil {
			s.writeJobResponse(w, job)
			return
		}
		s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}

	if analysisMissing {
		if err := s.db.SetProgress(jobID, 25); err != nil {
			s.respondWithError(w, r, http.StatusInternalServerError, "Failed to requeue job", err)
			return
		}
		if err := s.db.SetStatus(jobID, models.StatusQueued, ""); err != nil {
			s.respondWithError(w, r, http.StatusInternalServerError, "Failed to requeue job", err)
			return
		}
		if job, err = s.db.GetJob(jobID); err == nil && job != nil {
			s.writeJobResponse(w, job)
			return
		}
		s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}

	s.writeJobResponse(w, job)
}

// handleIncrementPlays bumps the public play counter.
func (s *Server) handleIncrementPlays(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	count, ok, err := s.db.IncrementPlays(jobID)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to count play", err)
		return
	}
	if !ok {
		s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}
	s.respondJSON(w, http.StatusOK, models.PlayCountResponse{ID: jobID, PlayCount: count})
}

type setPlayCountRequest struct {
	PlayCount int `json:"play_count"`
}

// handleSetPlayCount sets the counter directly; admin only.
func (s *Server) handleSetPlayCount(w http.ResponseWriter, r *http.Request) {
	if !s.isAdmin(r) {
		s.respondWithError(w, r, http.StatusForbidden, "Admin key required", nil)
		return
	}
	var req setPlayCountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}
	jobID := r.PathValue("id")
	count, ok, err := s.db.SetPlayCount(jobID, req.PlayCount)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to set play count", err)
		return
	}
	if !ok {
		s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}
	s.respondJSON(w, http.StatusOK, models.PlayCountResponse{ID: jobID, PlayCount: count})
}

// handleTopTracks lists the leaderboard.
func (s *Server) handleTopTracks(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 50 {
		limit = 50
	}
	tracks, err := s.db.TopTracks(limit)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to list top tracks", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.TopTracksResponse{Items: tracks})
}

// handleJobByYoutube is the dedup lookup by video id; stale jobs recycle
// into a 404 so the next create starts fresh.
func (s *Server) handleJobByYoutube(w http.ResponseWriter, r *http.Request) {
	job, err := s.db.GetJobByYoutubeID(r.PathValue("id"))
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to look up job", err)
		return
	}
	if job == nil {
		s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}
	if s.shouldRecycle(job) {
		s.recycle(job)
		s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}
	s.writeJobResponse(w, job)
}

// handleJobByTrack is the dedup lookup by (title, artist).
func (s *Server) handleJobByTrack(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	artist := r.URL.Query().Get("artist")
	if title == "" || artist == "" {
		s.respondWithError(w, r, http.StatusBadRequest, "title and artist are required", nil)
		return
	}
	job, err := s.db.GetJobByTrack(title, artist)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to look up job", err)
		return
	}
	if job == nil {
		s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}
	if s.shouldRecycle(job) {
		s.recycle(job)
		s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}
	s.writeJobResponse(w, job)
}

// handleDeleteJob removes a job and all of its artifacts. Allowed for the
// admin key, or for anyone within the owner window after creation or
// completion.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, err := s.db.GetJob(jobID)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to look up job", err)
		return
	}
	if job == nil {
		s.respondWithError(w, r, http.StatusNotFound, "Job not found", nil)
		return
	}

	allowed := s.isAdmin(r)
	if !allowed && time.Since(job.CreatedAt) <= ownerDeleteWindow {
		allowed = true
	}
	if !allowed && job.Status == models.StatusComplete && time.Since(job.UpdatedAt) <= ownerDeleteWindow {
		allowed = true
	}
	if !allowed {
		s.respondWithError(w, r, http.StatusForbidden, "Not allowed to delete this job", nil)
		return
	}

	s.removeJobArtifacts(jobID, job.OutputPath)
	if err := s.db.DeleteJob(jobID); err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to delete job", err)
		return
	}
	s.logger.WithField("job_id", jobID).Info("Job deleted")
	s.respondJSON(w, http.StatusOK, map[string]any{"id": jobID, "deleted": true})
}

// removeJobArtifacts deletes every file keyed by the job id: staging
// audio, result JSON, failure log, and any leftover matching the prefix.
func (s *Server) removeJobArtifacts(jobID, outputPath string) {
	if matches, err := filepath.Glob(filepath.Join(s.cfg.StoragePath("audio"), jobID+".*")); err == nil {
		for _, m := range matches {
			_ = os.Remove(m)
		}
	}
	if outputPath != "" {
		_ = os.Remove(filepath.Join(s.cfg.Storage.Root, outputPath))
	}
	_ = os.Remove(s.cfg.StoragePath("analysis", jobID+".json"))
	_ = os.Remove(s.cfg.StoragePath("logs", jobID+".log"))
	s.artifacts.Delete(jobID)
}
