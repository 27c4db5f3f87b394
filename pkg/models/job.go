package models

import "time"

// JobStatus enumerates the lifecycle states of an analysis job. Transitions
// run forward: downloading -> queued -> processing -> complete or failed.
// The only backward moves come from repair, which sends a job whose audio
// or artifact is missing back to downloading or queued; a job that fails
// is deleted.
type JobStatus string

const (
	StatusDownloading JobStatus = "downloading"
	StatusQueued      JobStatus = "queued"
	StatusProcessing  JobStatus = "processing"
	StatusComplete    JobStatus = "complete"
	StatusFailed      JobStatus = "failed"
)

// Job represents one analysis request persisted in the job store.
type Job struct {
	ID             string    `json:"id"`
	Status         JobStatus `json:"status"`
	InputPath      string    `json:"input_path"`  // storage-root relative, empty while downloading
	OutputPath     string    `json:"output_path"` // storage-root relative
	Error          string    `json:"error,omitempty"`
	TrackTitle     string    `json:"track_title,omitempty"`
	TrackArtist    string    `json:"track_artist,omitempty"`
	YoutubeID      string    `json:"youtube_id,omitempty"`
	Progress       int       `json:"progress"`
	PlayCount      int       `json:"play_count"`
	IsUserSupplied bool      `json:"is_user_supplied"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TopTrack is one row of the public leaderboard.
type TopTrack struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	YoutubeID string `json:"youtube_id,omitempty"`
	PlayCount int    `json:"play_count"`
}
