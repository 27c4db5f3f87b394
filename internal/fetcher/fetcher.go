package fetcher

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"jukebox/internal/config"
	"jukebox/internal/database"
	"jukebox/pkg/models"

	"github.com/sirupsen/logrus"
)

// Download progress occupies the 0..25 slice of the job's progress bar;
// the analysis engine owns the rest.
const downloadProgressSpan = 25

// Fetcher downloads audio for video-id jobs via yt-dlp, reporting
// fractional progress to the job store and advancing the job to queued on
// success. On any failure the job row and its partial files disappear,
// leaving only a one-line failure log.
type Fetcher struct {
	cfg       *config.Config
	db        *database.Database
	logger    *logrus.Logger
	ytDlpPath string
	sem       chan struct{}
}

// NewFetcher constructs a Fetcher, validating presence of yt-dlp.
func NewFetcher(cfg *config.Config, db *database.Database, logger *logrus.Logger) (*Fetcher, error) {
	f := &Fetcher{
		cfg:    cfg,
		db:     db,
		logger: logger,
		sem:    make(chan struct{}, 2),
	}
	if err := f.checkYtDlp(); err != nil {
		return nil, fmt.Errorf("yt-dlp not available: %w", err)
	}
	return f, nil
}

// checkYtDlp discovers an executable yt-dlp binary from the configured
// path or a small set of common names. The first hit is cached.
func (f *Fetcher) checkYtDlp() error {
	candidates := []string{f.cfg.Fetcher.YtDlpPath, "yt-dlp", "yt-dlp.exe", "./yt-dlp"}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := exec.LookPath(path); err == nil {
			f.ytDlpPath = path
			return nil
		}
	}
	return fmt.Errorf("yt-dlp not found in PATH")
}

// Fetch schedules a download for the given job. It returns immediately;
// the job advances asynchronously.
func (f *Fetcher) Fetch(jobID, youtubeID string) {
	go func() {
		f.sem <- struct{}{}
		defer func() { <-f.sem }()
		f.run(jobID, youtubeID)
	}()
}

// videoMetadata is the slice of yt-dlp's --dump-json output we care about.
type videoMetadata struct {
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
}

// run executes the download pipeline for one job.
func (f *Fetcher) run(jobID, youtubeID string) {
	job, err := f.db.GetJob(jobID)
	if err != nil || job == nil {
		return
	}

	audioDir := f.cfg.StoragePath("audio")
	if err := os.MkdirAll(audioDir, 0755); err != nil {
		f.fail(jobID, fmt.Sprintf("cannot create audio directory: %v", err))
		return
	}
	outTemplate := filepath.Join(audioDir, jobID+".%(ext)s")
	url := "https://www.youtube.com/watch?v=" + youtubeID

	// user-supplied jobs without a title inherit the source title
	if job.IsUserSupplied && job.TrackTitle == "" {
		if meta, err := f.probeMetadata(url); err == nil && meta.Title != "" {
			title := SanitizeTitle(meta.Title)
			if err := f.db.UpdateTrackMetadata(jobID, title, ""); err != nil {
				f.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to store fetched title")
			}
		}
	}

	cmd := exec.Command(f.ytDlpPath,
		"--extract-audio",
		"--audio-format", f.cfg.Fetcher.AudioFormat,
		"--format", "bestaudio/best",
		"--no-playlist",
		"--newline",
		"--max-filesize", fmt.Sprintf("%dM", f.cfg.Fetcher.MaxFilesizeMB),
		"--output", outTemplate,
		url,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		f.fail(jobID, fmt.Sprintf("pipe error: %v", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		f.fail(jobID, fmt.Sprintf("pipe error: %v", err))
		return
	}
	if err := cmd.Start(); err != nil {
		f.fail(jobID, fmt.Sprintf("start error: %v", err))
		return
	}

	// yt-dlp writes progress to both streams depending on version
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.consumeProgress(jobID, stdout)
	}()
	go func() {
		defer wg.Done()
		f.consumeProgress(jobID, stderr)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		f.fail(jobID, fmt.Sprintf("yt-dlp failed: %v", err))
		return
	}

	produced := f.findProducedFile(audioDir, jobID)
	if produced == "" {
		f.fail(jobID, "download produced no audio file")
		return
	}

	relativePath := filepath.Join("audio", filepath.Base(produced))
	if err := f.db.SetInputPath(jobID, relativePath); err != nil {
		f.fail(jobID, fmt.Sprintf("cannot record input path: %v", err))
		return
	}
	if err := f.db.SetProgress(jobID, downloadProgressSpan); err != nil {
		f.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to finalize download progress")
	}
	if err := f.db.SetStatus(jobID, models.StatusQueued, ""); err != nil {
		f.fail(jobID, fmt.Sprintf("cannot queue job: %v", err))
		return
	}
	f.logger.WithFields(logrus.Fields{
		"job_id":     jobID,
		"youtube_id": youtubeID,
		"input":      relativePath,
	}).Info("Audio fetched")
}

// progressRe matches yt-dlp progress lines, e.g.
// [download]  45.3% of 3.33MiB at 512.34KiB/s ETA 00:12
var progressRe = regexp.MustCompile(`(?i)\[download\]\s+([0-9.]+)%`)

// consumeProgress parses yt-dlp progress lines, quantizing to the 0..25
// scale and pushing an update only when the integer value changes.
func (f *Fetcher) consumeProgress(jobID string, stdout io.Reader) {
	last := -1
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		m := progressRe.FindStringSubmatch(scanner.Text())
		if len(m) != 2 {
			continue
		}
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil || pct < 0 || pct > 100 {
			continue
		}
		quantized := QuantizeProgress(pct)
		if quantized != last {
			last = quantized
			if err := f.db.SetProgress(jobID, quantized); err != nil {
				f.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to push download progress")
			}
		}
	}
}

// QuantizeProgress maps a 0..100 download percentage onto the 0..25 job
// progress slice.
func QuantizeProgress(pct float64) int {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	quantized := int(pct/100*downloadProgressSpan + 0.5)
	if quantized > downloadProgressSpan {
		quantized = downloadProgressSpan
	}
	return quantized
}

// probeMetadata performs a metadata-only probe via yt-dlp.
func (f *Fetcher) probeMetadata(url string) (*videoMetadata, error) {
	cmd := exec.Command(f.ytDlpPath, "--dump-json", "--no-playlist", url)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	var meta videoMetadata
	if err := json.Unmarshal(output, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

// findProducedFile locates the downloaded audio file for a job id.
func (f *Fetcher) findProducedFile(audioDir, jobID string) string {
	matches, err := filepath.Glob(filepath.Join(audioDir, jobID+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return m
		}
	}
	return ""
}

// fail writes a one-line failure log, deletes partial files and removes
// the job row. The job effectively disappears.
func (f *Fetcher) fail(jobID, message string) {
	logDir := f.cfg.StoragePath("logs")
	if err := os.MkdirAll(logDir, 0755); err == nil {
		logPath := filepath.Join(logDir, jobID+".log")
		_ = os.WriteFile(logPath, []byte("Job failed: "+message+"\n"), 0644)
	}

	if matches, err := filepath.Glob(filepath.Join(f.cfg.StoragePath("audio"), jobID+".*")); err == nil {
		for _, m := range matches {
			_ = os.Remove(m)
		}
	}
	_ = os.Remove(f.cfg.StoragePath("analysis", jobID+".json"))

	if err := f.db.DeleteJob(jobID); err != nil {
		f.logger.WithError(err).WithField("job_id", jobID).Error("Failed to delete job after fetch failure")
	}
	f.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"error":  message,
	}).Info("Fetch failed, job recycled")
}

// SanitizeTitle normalizes a display title: separators become spaces,
// unprintables are stripped, whitespace collapses, and the result is
// trimmed to 200 characters ("Untitled" if nothing survives).
func SanitizeTitle(raw string) string {
	replaced := strings.Map(func(r rune) rune {
		switch r {
		case '_', '-':
			return ' '
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, raw)

	fields := strings.Fields(replaced)
	title := strings.Join(fields, " ")
	if len(title) > 200 {
		title = strings.TrimSpace(title[:200])
	}
	if title == "" {
		return "Untitled"
	}
	return title
}
