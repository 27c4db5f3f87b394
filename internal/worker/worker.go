package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"jukebox/internal/analysis"
	"jukebox/internal/config"
	"jukebox/internal/database"
	"jukebox/pkg/models"

	"github.com/sirupsen/logrus"
)

// Engine progress arrives on a 50..100 scale; the API exposes 26..100
// (0..25 belongs to the download phase). The engine sits at its "wait"
// plateau while beat tracking runs, so an idle bump creeps the public
// number toward the plateau to keep the bar moving.
const (
	engineProgressStart = 50
	engineProgressWait  = 75
	engineProgressEnd   = 100
	apiProgressStart    = 26
	apiProgressEnd      = 100
	bumpIdle            = 3 * time.Second
)

var apiProgressWait = apiProgressStart + int(math.Round(float64(engineProgressWait-engineProgressStart)*74.0/50.0))

// Worker claims queued jobs one at a time and runs the analysis engine on
// them. Failures never leave processing rows behind: the job is logged,
// its files are removed, and the row is deleted.
type Worker struct {
	cfg    *config.Config
	db     *database.Database
	logger *logrus.Logger

	engineCfg   analysis.Config
	calibration *analysis.Calibration
}

// jobFailure carries an error plus any engine output captured before it.
type jobFailure struct {
	err    error
	output []string
}

func (jf *jobFailure) Error() string {
	return jf.err.Error()
}

// NewWorker builds a worker, resolving the engine configuration and the
// optional calibration bundle up front so a mis-shaped bundle fails at
// startup instead of per job.
func NewWorker(cfg *config.Config, db *database.Database, logger *logrus.Logger) (*Worker, error) {
	engineCfg := EngineConfig(cfg)

	var cal *analysis.Calibration
	if cfg.Analysis.CalibrationPath != "" {
		var err error
		cal, err = analysis.LoadCalibration(cfg.Analysis.CalibrationPath, engineCfg.MFCCNumCoeffs)
		if err != nil {
			return nil, fmt.Errorf("failed to load calibration bundle: %w", err)
		}
	}

	// analysis is single-threaded per claimed job; data-parallel numeric
	// primitives use whatever the runtime provides
	runtime.GOMAXPROCS(runtime.NumCPU())

	return &Worker{
		cfg:         cfg,
		db:          db,
		logger:      logger,
		engineCfg:   engineCfg,
		calibration: cal,
	}, nil
}

// EngineConfig overlays service-level analysis settings onto the engine
// defaults.
func EngineConfig(cfg *config.Config) analysis.Config {
	engineCfg := analysis.DefaultConfig()
	engineCfg.SampleRate = cfg.Analysis.SampleRate
	engineCfg.HopLength = cfg.Analysis.HopLength
	engineCfg.TempoMinBPM = cfg.Analysis.TempoMinBPM
	engineCfg.TempoMaxBPM = cfg.Analysis.TempoMaxBPM
	engineCfg.TimeSignature = cfg.Analysis.TimeSignature
	engineCfg.TatumDivisions = cfg.Analysis.TatumDivisions
	engineCfg.UseDownbeatTracker = cfg.Analysis.UseDownbeats
	engineCfg.UseLaplacianSections = cfg.Analysis.UseLaplacian
	return engineCfg
}

// Run loops forever: claim, analyze, repeat. It only returns when stop is
// closed.
func (w *Worker) Run(stop <-chan struct{}) {
	poll := time.Duration(w.cfg.Worker.PollIntervalS * float64(time.Second))
	for {
		select {
		case <-stop:
			return
		default:
		}

		job, err := w.db.ClaimNext()
		if err != nil {
			w.logger.WithError(err).Error("Failed to claim job")
			time.Sleep(poll)
			continue
		}
		if job == nil {
			time.Sleep(poll)
			continue
		}
		w.Process(job)
	}
}

// Process runs one claimed job to completion or cleanup.
func (w *Worker) Process(job *models.Job) {
	w.logger.WithField("job_id", job.ID).Info("Processing job")

	if err := w.runJob(job); err != nil {
		w.cleanupFailedJob(job, err)
		return
	}

	if err := w.db.SetProgress(job.ID, 100); err != nil {
		w.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to set final progress")
	}
	if err := w.db.SetStatus(job.ID, models.StatusComplete, ""); err != nil {
		w.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to mark job complete")
		return
	}
	w.logger.WithField("job_id", job.ID).Info("Job complete")
}

// runJob executes the engine for a job, streaming remapped progress and
// writing the artifact atomically.
func (w *Worker) runJob(job *models.Job) error {
	inputPath := w.resolveInput(job)
	if inputPath == "" {
		return &jobFailure{err: fmt.Errorf("staging audio missing for job %s", job.ID)}
	}
	outputPath := filepath.Join(w.cfg.Storage.Root, job.OutputPath)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return &jobFailure{err: err}
	}

	if err := w.db.SetProgress(job.ID, apiProgressStart); err != nil {
		w.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to set initial progress")
	}

	var mu sync.Mutex
	current := apiProgressStart
	lastUpdate := time.Now()

	push := func(value int) {
		mu.Lock()
		if value <= current {
			mu.Unlock()
			return
		}
		current = value
		lastUpdate = time.Now()
		mu.Unlock()
		if err := w.db.SetProgress(job.ID, value); err != nil {
			w.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to push progress")
		}
	}

	// idle bump: creep toward the wait plateau while the engine is silent
	stopBump := make(chan struct{})
	var bumpDone sync.WaitGroup
	bumpDone.Add(1)
	go func() {
		defer bumpDone.Done()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopBump:
				return
			case <-ticker.C:
				mu.Lock()
				value := current
				idle := time.Since(lastUpdate)
				mu.Unlock()
				if value >= apiProgressWait {
					return
				}
				if idle > bumpIdle {
					push(value + 1)
				}
			}
		}
	}()

	artifact, err := analysis.Analyze(inputPath, w.engineCfg, w.calibration, func(progress int, stage string) {
		push(mapEngineProgress(progress))
	})
	close(stopBump)
	bumpDone.Wait()
	if err != nil {
		return &jobFailure{err: err}
	}

	// overlay the stored title/artist when the artifact has none
	if job.TrackTitle != "" && artifact.Track.Title == "" {
		artifact.Track.Title = job.TrackTitle
	}
	if job.TrackArtist != "" && artifact.Track.Artist == "" {
		artifact.Track.Artist = job.TrackArtist
	}

	if err := writeArtifactAtomic(outputPath, artifact); err != nil {
		return &jobFailure{err: err}
	}
	return nil
}

// mapEngineProgress remaps engine progress (50..100) onto the public
// 26..100 scale.
func mapEngineProgress(value int) int {
	if value <= engineProgressStart {
		return apiProgressStart
	}
	if value >= engineProgressEnd {
		return apiProgressEnd
	}
	scaled := float64(apiProgressStart) +
		float64(value-engineProgressStart)*float64(apiProgressEnd-apiProgressStart)/float64(engineProgressEnd-engineProgressStart)
	return int(math.Round(scaled))
}

// resolveInput finds the staging audio for a job, falling back to a glob
// on the job id when the recorded path is stale.
func (w *Worker) resolveInput(job *models.Job) string {
	if job.InputPath != "" {
		path := filepath.Join(w.cfg.Storage.Root, job.InputPath)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path
		}
	}
	matches, err := filepath.Glob(filepath.Join(w.cfg.StoragePath("audio"), job.ID+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

// writeArtifactAtomic writes the artifact JSON via a temp file + rename so
// readers never observe a partial document.
func writeArtifactAtomic(path string, artifact *analysis.Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish artifact: %w", err)
	}
	return nil
}

// cleanupFailedJob writes the failure log, removes the staging audio and
// any partial artifact, then deletes the row. Failures never leave
// processing rows behind.
func (w *Worker) cleanupFailedJob(job *models.Job, failure error) {
	logDir := w.cfg.StoragePath("logs")
	if err := os.MkdirAll(logDir, 0755); err == nil {
		var b strings.Builder
		fmt.Fprintf(&b, "Job failed: %v\n", failure)
		var jf *jobFailure
		if errors.As(failure, &jf) && len(jf.output) > 0 {
			b.WriteString("\n--- Engine output ---\n")
			for _, line := range jf.output {
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
		logPath := filepath.Join(logDir, job.ID+".log")
		if err := os.WriteFile(logPath, []byte(b.String()), 0644); err != nil {
			w.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to write failure log")
		}
	}

	if job.InputPath != "" {
		_ = os.Remove(filepath.Join(w.cfg.Storage.Root, job.InputPath))
	}
	if matches, err := filepath.Glob(filepath.Join(w.cfg.StoragePath("audio"), job.ID+".*")); err == nil {
		for _, m := range matches {
			_ = os.Remove(m)
		}
	}
	if job.OutputPath != "" {
		_ = os.Remove(filepath.Join(w.cfg.Storage.Root, job.OutputPath))
	}

	if err := w.db.DeleteJob(job.ID); err != nil {
		w.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to delete failed job")
	}
	w.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"error":  failure.Error(),
	}).Info("Job failed and cleaned up")
}
