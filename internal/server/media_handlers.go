package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// contentTypeForAudio guesses the MIME type from the staging file's
// extension.
func contentTypeForAudio(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".aac":
		return "audio/aac"
	}
	return "application/octet-stream"
}

// handleGetAudio streams the raw staging audio for a job with Range
// support for seeking.
func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, err := s.db.GetJob(jobID)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to look up job", err)
		return
	}
	if job == nil || job.InputPath == "" {
		s.respondWithError(w, r, http.StatusNotFound, "Audio missing", nil)
		return
	}

	path := filepath.Join(s.cfg.Storage.Root, job.InputPath)
	file, err := os.Open(path)
	if err != nil {
		s.respondWithError(w, r, http.StatusNotFound, "Audio missing", nil)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to read audio file", err)
		return
	}

	w.Header().Set("Content-Type", contentTypeForAudio(path))
	w.Header().Set("Accept-Ranges", "bytes")

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		s.handleRangeRequest(w, file, stat.Size(), rangeHeader)
		return
	}

	w.Header().Set("Content-Length", fmt.Sprintf("%d", stat.Size()))
	if _, err := io.Copy(w, file); err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Debug("Audio stream aborted")
	}
}

// handleRangeRequest implements simple single-range byte serving.
func (s *Server) handleRangeRequest(w http.ResponseWriter, file *os.File, fileSize int64, rangeHeader string) {
	ranges := strings.TrimPrefix(rangeHeader, "bytes=")
	rangeParts := strings.Split(ranges, "-")

	start, err := strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		start = 0
	}

	end := fileSize - 1
	if len(rangeParts) > 1 && rangeParts[1] != "" {
		if parsed, err := strconv.ParseInt(rangeParts[1], 10, 64); err == nil {
			end = parsed
		}
	}

	if start < 0 || end >= fileSize || start > end {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fileSize))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	contentLength := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, fileSize))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", contentLength))
	w.WriteHeader(http.StatusPartialContent)

	file.Seek(start, io.SeekStart)
	io.CopyN(w, file, contentLength)
}

// handleGetLog serves the raw failure log text for a job.
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	logPath := s.cfg.StoragePath("logs", r.PathValue("id")+".log")
	data, err := os.ReadFile(logPath)
	if err != nil {
		s.respondWithError(w, r, http.StatusNotFound, "Log not found", nil)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}
