package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jukebox/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// timeLayout is how timestamps are persisted. The fractional seconds are
// fixed-width (unlike RFC3339Nano, which trims trailing zeros), so UTC
// timestamps sort lexicographically; the ORDER BY created_at queries rely
// on that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Database wraps a *sql.DB providing the durable job store. It is safe for
// concurrent use because the underlying *sql.DB is concurrency-safe, and
// every mutation commits before returning.
type Database struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements for hot paths
	getJobStmt         *sql.Stmt
	getByYoutubeStmt   *sql.Stmt
	getByTrackStmt     *sql.Stmt
	setStatusStmt      *sql.Stmt
	setProgressStmt    *sql.Stmt
	setInputPathStmt   *sql.Stmt
	deleteJobStmt      *sql.Stmt
	incrementPlaysStmt *sql.Stmt
}

// jobColumns is the canonical select list shared by all job queries.
const jobColumns = `id, status, input_path, output_path, error,
	track_title, track_artist, youtube_id, progress, play_count, is_user_supplied,
	created_at, updated_at`

// NewDatabase opens (or creates) the SQLite job store at the provided path
// and ensures tables and indices exist. It applies performance-oriented
// pragmas (WAL, busy timeout) and configures transactions to take the
// write lock up front, which is what makes ClaimNext race-free. Caller
// should Close() it when finished.
func NewDatabase(dbPath string) (*Database, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works better with few connections
	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Job store initialized")
	return db, nil
}

// createTables creates the jobs table and indices if they do not already
// exist, then runs migrations. Idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	jobsTable := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		input_path TEXT NOT NULL,
		output_path TEXT NOT NULL,
		error TEXT,
		track_title TEXT,
		track_artist TEXT,
		youtube_id TEXT,
		progress INTEGER NOT NULL DEFAULT 0,
		play_count INTEGER NOT NULL DEFAULT 0,
		is_user_supplied INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);",
		"CREATE INDEX IF NOT EXISTS idx_jobs_youtube ON jobs(youtube_id, created_at);",
		"CREATE INDEX IF NOT EXISTS idx_jobs_track ON jobs(track_title, track_artist, created_at);",
		"CREATE INDEX IF NOT EXISTS idx_jobs_plays ON jobs(play_count, updated_at);",
	}

	if _, err := db.conn.Exec(jobsTable); err != nil {
		return err
	}
	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}

	return db.runMigrations()
}

// runMigrations performs incremental schema updates in-place. Each
// migration is idempotent; keep them lightweight.
func (db *Database) runMigrations() error {
	// Older databases predate the play counter and dedup columns.
	for column, ddl := range map[string]string{
		"track_title":      "ALTER TABLE jobs ADD COLUMN track_title TEXT",
		"track_artist":     "ALTER TABLE jobs ADD COLUMN track_artist TEXT",
		"youtube_id":       "ALTER TABLE jobs ADD COLUMN youtube_id TEXT",
		"progress":         "ALTER TABLE jobs ADD COLUMN progress INTEGER NOT NULL DEFAULT 0",
		"play_count":       "ALTER TABLE jobs ADD COLUMN play_count INTEGER NOT NULL DEFAULT 0",
		"is_user_supplied": "ALTER TABLE jobs ADD COLUMN is_user_supplied INTEGER NOT NULL DEFAULT 0",
	} {
		var exists bool
		err := db.conn.QueryRow(`
			SELECT COUNT(*) > 0
			FROM pragma_table_info('jobs')
			WHERE name = ?`, column).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.conn.Exec(ddl); err != nil {
				return err
			}
			db.logger.WithField("column", column).Info("Added jobs column")
		}
	}
	return nil
}

// prepareStatements prepares commonly used SQL statements.
func (db *Database) prepareStatements() error {
	var err error

	db.getJobStmt, err = db.conn.Prepare(
		"SELECT " + jobColumns + " FROM jobs WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare get job statement: %w", err)
	}

	db.getByYoutubeStmt, err = db.conn.Prepare(
		"SELECT " + jobColumns + " FROM jobs WHERE youtube_id = ? ORDER BY created_at DESC LIMIT 1")
	if err != nil {
		return fmt.Errorf("failed to prepare youtube lookup statement: %w", err)
	}

	db.getByTrackStmt, err = db.conn.Prepare(
		"SELECT " + jobColumns + " FROM jobs WHERE track_title = ? AND track_artist = ? ORDER BY created_at DESC LIMIT 1")
	if err != nil {
		return fmt.Errorf("failed to prepare track lookup statement: %w", err)
	}

	db.setStatusStmt, err = db.conn.Prepare(
		"UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare set status statement: %w", err)
	}

	db.setProgressStmt, err = db.conn.Prepare(
		"UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare set progress statement: %w", err)
	}

	db.setInputPathStmt, err = db.conn.Prepare(
		"UPDATE jobs SET input_path = ?, updated_at = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare set input path statement: %w", err)
	}

	db.deleteJobStmt, err = db.conn.Prepare("DELETE FROM jobs WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare delete job statement: %w", err)
	}

	db.incrementPlaysStmt, err = db.conn.Prepare(
		"UPDATE jobs SET play_count = play_count + 1, updated_at = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare increment plays statement: %w", err)
	}

	return nil
}

func utcNow() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	// the layout also parses RFC3339/RFC3339Nano stamps written by other
	// tools
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CreateJob inserts a new job row with the current timestamp.
func (db *Database) CreateJob(job models.Job) error {
	now := utcNow()
	userSupplied := 0
	if job.IsUserSupplied {
		userSupplied = 1
	}
	_, err := db.conn.Exec(`
		INSERT INTO jobs (
			id, status, input_path, output_path, error,
			track_title, track_artist, youtube_id, progress, play_count, is_user_supplied,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), job.InputPath, job.OutputPath,
		nullable(job.TrackTitle), nullable(job.TrackArtist), nullable(job.YoutubeID),
		job.Progress, job.PlayCount, userSupplied, now, now)
	if err != nil {
		db.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to insert job")
	}
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// scanJob scans one job row. Caller supplies either *sql.Row or *sql.Rows
// through the scanner interface.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.Job, error) {
	var job models.Job
	var status string
	var errMsg, title, artist, youtubeID sql.NullString
	var userSupplied int
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID, &status, &job.InputPath, &job.OutputPath, &errMsg,
		&title, &artist, &youtubeID, &job.Progress, &job.PlayCount, &userSupplied,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	job.Error = errMsg.String
	job.TrackTitle = title.String
	job.TrackArtist = artist.String
	job.YoutubeID = youtubeID.String
	job.IsUserSupplied = userSupplied != 0
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}

// GetJob returns the job with the given id, or nil if absent.
func (db *Database) GetJob(id string) (*models.Job, error) {
	job, err := scanJob(db.getJobStmt.QueryRow(id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		db.logger.WithError(err).WithField("job_id", id).Error("Failed to get job")
		return nil, err
	}
	return job, nil
}

// GetJobByYoutubeID returns the newest job for a video id, or nil.
func (db *Database) GetJobByYoutubeID(youtubeID string) (*models.Job, error) {
	job, err := scanJob(db.getByYoutubeStmt.QueryRow(youtubeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		db.logger.WithError(err).WithField("youtube_id", youtubeID).Error("Failed to look up job by youtube id")
		return nil, err
	}
	return job, nil
}

// GetJobByTrack returns the newest job matching (title, artist), or nil.
func (db *Database) GetJobByTrack(title, artist string) (*models.Job, error) {
	job, err := scanJob(db.getByTrackStmt.QueryRow(title, artist))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		db.logger.WithError(err).WithFields(logrus.Fields{
			"title":  title,
			"artist": artist,
		}).Error("Failed to look up job by track")
		return nil, err
	}
	return job, nil
}

// SetStatus updates a job's status and error message.
func (db *Database) SetStatus(id string, status models.JobStatus, errMsg string) error {
	_, err := db.setStatusStmt.Exec(string(status), nullable(errMsg), utcNow(), id)
	if err != nil {
		db.logger.WithError(err).WithField("job_id", id).Error("Failed to set job status")
	}
	return err
}

// SetProgress updates a job's progress, clamped to [0, 100].
func (db *Database) SetProgress(id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := db.setProgressStmt.Exec(progress, utcNow(), id)
	if err != nil {
		db.logger.WithError(err).WithField("job_id", id).Error("Failed to set job progress")
	}
	return err
}

// SetInputPath updates a job's staging audio path.
func (db *Database) SetInputPath(id, inputPath string) error {
	_, err := db.setInputPathStmt.Exec(inputPath, utcNow(), id)
	if err != nil {
		db.logger.WithError(err).WithField("job_id", id).Error("Failed to set job input path")
	}
	return err
}

// UpdateTrackMetadata sets a job's title/artist dedup columns.
func (db *Database) UpdateTrackMetadata(id, title, artist string) error {
	_, err := db.conn.Exec(
		"UPDATE jobs SET track_title = ?, track_artist = ?, updated_at = ? WHERE id = ?",
		nullable(title), nullable(artist), utcNow(), id)
	if err != nil {
		db.logger.WithError(err).WithField("job_id", id).Error("Failed to update job metadata")
	}
	return err
}

// IncrementPlays atomically bumps a job's play counter and returns the new
// count. ok is false when no row matched; the update still commits, which
// keeps duplicate increments against deleted jobs idempotent.
func (db *Database) IncrementPlays(id string) (int, bool, error) {
	result, err := db.incrementPlaysStmt.Exec(utcNow(), id)
	if err != nil {
		return 0, false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if affected == 0 {
		return 0, false, nil
	}
	var count int
	if err := db.conn.QueryRow("SELECT play_count FROM jobs WHERE id = ?", id).Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return count, true, nil
}

// SetPlayCount sets a job's play counter, clamped at 0. ok is false when
// the job does not exist.
func (db *Database) SetPlayCount(id string, playCount int) (int, bool, error) {
	if playCount < 0 {
		playCount = 0
	}
	result, err := db.conn.Exec(
		"UPDATE jobs SET play_count = ?, updated_at = ? WHERE id = ?",
		playCount, utcNow(), id)
	if err != nil {
		return 0, false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if affected == 0 {
		return 0, false, nil
	}
	return playCount, true, nil
}

// DeleteJob removes a job row.
func (db *Database) DeleteJob(id string) error {
	_, err := db.deleteJobStmt.Exec(id)
	if err != nil {
		db.logger.WithError(err).WithField("job_id", id).Error("Failed to delete job")
	}
	return err
}

// ClaimNext atomically claims the oldest queued job for processing. The
// select and the status flip share one immediate transaction, so two
// workers racing on the same row cannot both win: the loser either sees
// the row already processing or sees no queued rows at all.
func (db *Database) ClaimNext() (*models.Job, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		"SELECT " + jobColumns + " FROM jobs WHERE status = 'queued' ORDER BY created_at LIMIT 1")
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	now := utcNow()
	if _, err := tx.Exec(
		"UPDATE jobs SET status = 'processing', progress = 0, updated_at = ? WHERE id = ?",
		now, job.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job.Status = models.StatusProcessing
	job.Progress = 0
	job.UpdatedAt = parseTime(now)
	return job, nil
}

// TopTracks returns the public leaderboard: named, non-user-supplied jobs
// with at least one play, most played first.
func (db *Database) TopTracks(limit int) ([]models.TopTrack, error) {
	rows, err := db.conn.Query(`
		SELECT id, track_title, track_artist, youtube_id, play_count
		FROM jobs
		WHERE track_title IS NOT NULL
		  AND track_title != ''
		  AND track_artist IS NOT NULL
		  AND track_artist != ''
		  AND COALESCE(is_user_supplied, 0) = 0
		  AND play_count > 0
		ORDER BY play_count DESC, updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tracks := []models.TopTrack{}
	for rows.Next() {
		var track models.TopTrack
		var youtubeID sql.NullString
		if err := rows.Scan(&track.ID, &track.Title, &track.Artist, &youtubeID, &track.PlayCount); err != nil {
			return nil, err
		}
		track.YoutubeID = youtubeID.String
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

// Close closes prepared statements and the underlying connection.
func (db *Database) Close() error {
	statements := []*sql.Stmt{
		db.getJobStmt,
		db.getByYoutubeStmt,
		db.getByTrackStmt,
		db.setStatusStmt,
		db.setProgressStmt,
		db.setInputPathStmt,
		db.deleteJobStmt,
		db.incrementPlaysStmt,
	}
	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
