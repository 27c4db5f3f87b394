package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jukebox/pkg/models"
)

// recycleIdleWindow is how long a stalled download may sit at full
// download progress before a dedup lookup reclaims it.
const recycleIdleWindow = 30 * time.Second

// messageForProgress derives the human-readable phase message.
func messageForProgress(status models.JobStatus, progress *int) string {
	switch status {
	case models.StatusDownloading:
		return "Fetching audio..."
	case models.StatusQueued:
		return "Queued..."
	case models.StatusProcessing:
	default:
		return ""
	}
	if progress == nil {
		return "Processing..."
	}
	switch {
	case *progress < 10:
		return "Processing audio..."
	case *progress < 80:
		return "Analyzing audio..."
	}
	return "Building analysis..."
}

// normalizeFailure maps a raw engine/fetch error onto a small set of
// user-facing strings by substring inspection.
func normalizeFailure(raw string) (string, string) {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "engine exited"):
		return "The analysis engine failed to process this track.", "engine_error"
	case strings.Contains(lower, "video unavailable"):
		return "This video is unavailable.", "video_unavailable"
	case strings.Contains(lower, "http error 403"), strings.Contains(lower, "[download]"):
		return "The audio download was blocked.", "download_blocked"
	case strings.Contains(lower, "sign in to confirm"):
		return "The audio source is rate-limiting downloads. Try again later.", "rate_limited"
	}
	return "Analysis failed.", ""
}

// shouldRecycle reports whether a downloading job is stale: either its
// failure log already exists, or it has been idle at full download
// progress for longer than the recycle window.
func (s *Server) shouldRecycle(job *models.Job) bool {
	if job.Status != models.StatusDownloading {
		return false
	}
	logPath := s.cfg.StoragePath("logs", job.ID+".log")
	if _, err := os.Stat(logPath); err == nil {
		return true
	}
	if job.UpdatedAt.IsZero() {
		return false
	}
	return job.Progress >= 25 && time.Since(job.UpdatedAt) > recycleIdleWindow
}

// recycle drops a stale job so the next create starts fresh.
func (s *Server) recycle(job *models.Job) {
	if err := s.db.DeleteJob(job.ID); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to recycle job")
		return
	}
	s.logger.WithField("job_id", job.ID).Info("Recycled stale job")
}

// writeJobResponse renders the status payload for a job. In-flight jobs
// get 202; complete and failed jobs get 200.
func (s *Server) writeJobResponse(w http.ResponseWriter, job *models.Job) {
	switch job.Status {
	case models.StatusQueued, models.StatusProcessing, models.StatusDownloading:
		var progress *int
		if job.Status == models.StatusProcessing {
			p := job.Progress
			progress = &p
		}
		s.respondJSON(w, http.StatusAccepted, models.JobProgressPayload{
			ID:        job.ID,
			YoutubeID: job.YoutubeID,
			Status:    string(job.Status),
			Progress:  progress,
			Message:   messageForProgress(job.Status, progress),
		})
		return

	case models.StatusFailed:
		message, code := normalizeFailure(job.Error)
		s.respondJSON(w, http.StatusOK, models.JobErrorPayload{
			ID:        job.ID,
			YoutubeID: job.YoutubeID,
			Status:    string(models.StatusFailed),
			Error:     message,
			ErrorCode: code,
		})
		return
	}

	// complete: read the artifact from cache or storage
	result, ok := s.artifacts.GetArtifact(job.ID)
	if !ok {
		resultPath := filepath.Join(s.cfg.Storage.Root, job.OutputPath)
		data, err := os.ReadFile(resultPath)
		if err == nil {
			err = json.Unmarshal(data, &result)
		}
		if err != nil {
			s.respondJSON(w, http.StatusOK, models.JobErrorPayload{
				ID:        job.ID,
				YoutubeID: job.YoutubeID,
				Status:    string(models.StatusFailed),
				Error:     "Analysis missing",
				ErrorCode: "analysis_missing",
			})
			return
		}
		s.artifacts.SetArtifact(job.ID, result)
	}

	// repair empty artifact metadata in flight from the job row; neither
	// the file on disk nor the cached copy is rewritten
	if job.TrackTitle != "" || job.TrackArtist != "" {
		patched := make(map[string]any, len(result))
		for k, v := range result {
			patched[k] = v
		}
		track := map[string]any{}
		if existing, ok := patched["track"].(map[string]any); ok {
			for k, v := range existing {
				track[k] = v
			}
		}
		patched["track"] = track
		if title, _ := track["title"].(string); title == "" && job.TrackTitle != "" {
			track["title"] = job.TrackTitle
		}
		if artist, _ := track["artist"].(string); artist == "" && job.TrackArtist != "" {
			track["artist"] = job.TrackArtist
		}
		result = patched
	}

	s.respondJSON(w, http.StatusOK, models.JobCompletePayload{
		ID:        job.ID,
		YoutubeID: job.YoutubeID,
		Status:    string(models.StatusComplete),
		Result:    result,
		Progress:  job.Progress,
	})
}
