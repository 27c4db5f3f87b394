package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"jukebox/internal/fetcher"
	"jukebox/pkg/models"
)

// allowedUploadExts is the fixed allow-list of audio container extensions.
var allowedUploadExts = map[string]bool{
	".m4a":  true,
	".webm": true,
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".ogg":  true,
	".aac":  true,
}

// AllowedUploadExts lists the accepted extensions, sorted, without dots.
func AllowedUploadExts() []string {
	exts := make([]string, 0, len(allowedUploadExts))
	for ext := range allowedUploadExts {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	sort.Strings(exts)
	return exts
}

// handleUpload streams a multipart audio body into staging and creates a
// queued job. The body is abandoned (and the partial file deleted) as
// soon as the accumulated size crosses the configured ceiling.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Jobs.AllowUserUpload {
		s.respondWithError(w, r, http.StatusForbidden, "File uploads are disabled", nil)
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Expected multipart upload", err)
		return
	}

	var filename string
	var part io.Reader
	for {
		p, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.respondWithError(w, r, http.StatusBadRequest, "Malformed upload body", err)
			return
		}
		if p.FormName() == "file" {
			filename = p.FileName()
			part = p
			break
		}
	}
	if part == nil {
		s.respondWithError(w, r, http.StatusBadRequest, "No file provided", nil)
		return
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedUploadExts[ext] {
		s.respondWithError(w, r, http.StatusBadRequest,
			"Unsupported file type. Allowed: "+strings.Join(AllowedUploadExts(), ", "), nil)
		return
	}

	jobID := newJobID()
	audioDir := s.cfg.StoragePath("audio")
	if err := os.MkdirAll(audioDir, 0755); err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to prepare storage", err)
		return
	}
	stagingPath := filepath.Join(audioDir, jobID+ext)

	out, err := os.Create(stagingPath)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to create staging file", err)
		return
	}

	maxBytes := s.cfg.MaxUploadBytes()
	written, err := io.Copy(out, io.LimitReader(part, maxBytes+1))
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		os.Remove(stagingPath)
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to store upload", err)
		return
	}
	if written > maxBytes {
		os.Remove(stagingPath)
		s.respondWithError(w, r, http.StatusRequestEntityTooLarge, "file too large", nil)
		return
	}

	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	title := fetcher.SanitizeTitle(stem)

	job := models.Job{
		ID:             jobID,
		Status:         models.StatusQueued,
		InputPath:      filepath.Join("audio", jobID+ext),
		OutputPath:     filepath.Join("analysis", jobID+".json"),
		TrackTitle:     title,
		TrackArtist:    "",
		Progress:       25,
		IsUserSupplied: true,
	}
	if err := s.db.CreateJob(job); err != nil {
		os.Remove(stagingPath)
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to create job", err)
		return
	}

	s.logger.WithField("job_id", jobID).Info("Upload accepted")
	s.respondJSON(w, http.StatusAccepted, models.JobProgressPayload{
		ID:      jobID,
		Status:  string(models.StatusQueued),
		Message: messageForProgress(models.StatusQueued, nil),
	})
}
