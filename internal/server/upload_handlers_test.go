package server

import (
	"net/http"
	"testing"

	"jukebox/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadCreatesQueuedJob(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "My_Cool-Track.mp3", 64*1024)
	require.Equal(t, http.StatusAccepted, rec.Code)
	payload := decodeBody(t, rec)
	jobID, _ := payload["id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "queued", payload["status"])

	job, err := env.db.GetJob(jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.True(t, job.IsUserSupplied)
	assert.Equal(t, 25, job.Progress)
	// filename stem is sanitized into the display title
	assert.Equal(t, "My Cool Track", job.TrackTitle)
	assert.Empty(t, job.TrackArtist)
	assert.Equal(t, 1, countAudioFiles(t, env))
}

func TestUploadRejectsOversizeBody(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Jobs.MaxUploadSizeMB = 1

	rec := env.upload(t, "big.wav", 2*1024*1024)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "file too large", payload["error"])

	// no partial file and no row survive
	assert.Equal(t, 0, countAudioFiles(t, env))
	tracks, err := env.db.TopTracks(50)
	require.NoError(t, err)
	assert.Empty(t, tracks)
}

func TestUploadRejectsBadExtension(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "notes.txt", 1024)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, countAudioFiles(t, env))
}

func TestUploadDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Jobs.AllowUserUpload = false
	rec := env.upload(t, "track.mp3", 1024)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUploadUntitledFallback(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "___.flac", 1024)
	require.Equal(t, http.StatusAccepted, rec.Code)
	payload := decodeBody(t, rec)
	jobID := payload["id"].(string)

	job, err := env.db.GetJob(jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "Untitled", job.TrackTitle)
}
