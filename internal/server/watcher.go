package server

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"jukebox/internal/fetcher"
	"jukebox/pkg/models"

	"github.com/fsnotify/fsnotify"
)

// The drop-folder watcher ingests audio files placed directly into
// <storage>/audio by hand: any settled file whose stem is not a known job
// id becomes a queued user-supplied job.

// startDropWatcher starts monitoring the staging audio directory.
func (s *Server) startDropWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	go s.watchDropFolder()

	audioDir := s.cfg.StoragePath("audio")
	if err := os.MkdirAll(audioDir, 0755); err != nil {
		return err
	}
	if err := watcher.Add(audioDir); err != nil {
		return err
	}
	s.logger.WithField("dir", audioDir).Info("Drop-folder watcher started")
	return nil
}

// watchDropFolder monitors file system events.
func (s *Server) watchDropFolder() {
	defer s.watcher.Close()
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleDropEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("Watcher error")
		}
	}
}

// handleDropEvent processes one file system event.
func (s *Server) handleDropEvent(event fsnotify.Event) {
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") {
		return
	}
	if !event.Has(fsnotify.Create) {
		return
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if !allowedUploadExts[ext] {
		return
	}

	// let the copy settle before ingesting
	go func(path string) {
		time.Sleep(500 * time.Millisecond)
		s.ingestDroppedFile(path)
	}(event.Name)
}

// ingestDroppedFile registers a hand-placed audio file as a queued job.
func (s *Server) ingestDroppedFile(path string) {
	fileName := filepath.Base(path)
	stem := strings.TrimSuffix(fileName, filepath.Ext(fileName))

	// files written by the fetcher or upload handler are keyed by job id
	if job, err := s.db.GetJob(stem); err == nil && job != nil {
		return
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return
	}

	jobID := newJobID()
	ext := filepath.Ext(fileName)
	target := s.cfg.StoragePath("audio", jobID+ext)
	if err := os.Rename(path, target); err != nil {
		s.logger.WithError(err).WithField("file", path).Warn("Failed to stage dropped file")
		return
	}

	job := models.Job{
		ID:             jobID,
		Status:         models.StatusQueued,
		InputPath:      filepath.Join("audio", jobID+ext),
		OutputPath:     filepath.Join("analysis", jobID+".json"),
		TrackTitle:     fetcher.SanitizeTitle(stem),
		Progress:       25,
		IsUserSupplied: true,
	}
	if err := s.db.CreateJob(job); err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Error("Failed to ingest dropped file")
		return
	}
	s.logger.WithFields(map[string]any{
		"job_id": jobID,
		"file":   fileName,
	}).Info("Ingested dropped audio file")
}

// stopDropWatcher stops the watcher.
func (s *Server) stopDropWatcher() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}
