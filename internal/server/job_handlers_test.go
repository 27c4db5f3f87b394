package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jukebox/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAnalysisUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/api/analysis/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAnalysisInFlight(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "dl1", Status: models.StatusDownloading, OutputPath: "analysis/dl1.json",
	}))

	rec := env.request(t, http.MethodGet, "/api/analysis/dl1", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "downloading", payload["status"])
	assert.Equal(t, "Fetching audio...", payload["message"])
	_, hasProgress := payload["progress"]
	assert.False(t, hasProgress, "progress is only reported while processing")

	require.NoError(t, env.db.SetStatus("dl1", models.StatusProcessing, ""))
	require.NoError(t, env.db.SetProgress("dl1", 42))
	rec = env.request(t, http.MethodGet, "/api/analysis/dl1", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	payload = decodeBody(t, rec)
	assert.Equal(t, "processing", payload["status"])
	assert.Equal(t, float64(42), payload["progress"])
	assert.Equal(t, "Analyzing audio...", payload["message"])
}

func TestGetAnalysisComplete(t *testing.T) {
	env := newTestEnv(t)
	env.createCompleteJob(t, "done1", "Stored Title", "Stored Artist", map[string]any{
		"duration": 180.0, "tempo": 120.0, "time_signature": 4,
	})

	rec := env.request(t, http.MethodGet, "/api/analysis/done1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "complete", payload["status"])

	result := payload["result"].(map[string]any)
	track := result["track"].(map[string]any)
	// empty artifact metadata is repaired in flight from the job columns
	assert.Equal(t, "Stored Title", track["title"])
	assert.Equal(t, "Stored Artist", track["artist"])

	// the artifact on disk stays untouched
	data, err := os.ReadFile(env.cfg.StoragePath("analysis", "done1.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Stored Title")
}

func TestGetAnalysisMissingArtifact(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "gone", Status: models.StatusComplete, OutputPath: "analysis/gone.json",
	}))

	rec := env.request(t, http.MethodGet, "/api/analysis/gone", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "failed", payload["status"])
	assert.Equal(t, "analysis_missing", payload["error_code"])

	// the row itself is not modified
	job, err := env.db.GetJob("gone")
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, job.Status)
}

func TestFailureNormalization(t *testing.T) {
	tests := []struct {
		raw  string
		code string
	}{
		{"engine exited with status 1", "engine_error"},
		{"ERROR: Video unavailable", "video_unavailable"},
		{"HTTP Error 403: Forbidden", "download_blocked"},
		{"[download] got blocked", "download_blocked"},
		{"Sign in to confirm you're not a bot", "rate_limited"},
		{"something else entirely", ""},
	}
	for _, tt := range tests {
		_, code := normalizeFailure(tt.raw)
		assert.Equal(t, tt.code, code, "raw error %q", tt.raw)
	}
}

func TestPlayCounter(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "p1", Status: models.StatusComplete, OutputPath: "analysis/p1.json",
	}))

	rec := env.request(t, http.MethodPost, "/api/plays/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, float64(1), payload["play_count"])

	rec = env.request(t, http.MethodPost, "/api/plays/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetPlayCountRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "p2", Status: models.StatusComplete, OutputPath: "analysis/p2.json",
	}))

	rec := env.request(t, http.MethodPatch, "/api/plays/p2", strings.NewReader(`{"play_count": 9}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPatch, "/api/plays/p2?key=secret-admin-key", strings.NewReader(`{"play_count": 9}`))
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, float64(9), payload["play_count"])

	rec = env.request(t, http.MethodPatch, "/api/plays/p2?key=wrong", strings.NewReader(`{"play_count": 1}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTopTracksEndpoint(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "t1", Status: models.StatusComplete, OutputPath: "a",
		TrackTitle: "Song", TrackArtist: "Artist",
	}))
	_, _, err := env.db.IncrementPlays("t1")
	require.NoError(t, err)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "hidden", Status: models.StatusComplete, OutputPath: "b",
		TrackTitle: "Private", TrackArtist: "User", IsUserSupplied: true,
	}))
	_, _, err = env.db.IncrementPlays("hidden")
	require.NoError(t, err)

	rec := env.request(t, http.MethodGet, "/api/top?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	items := payload["items"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	assert.Equal(t, "t1", first["id"])
}

func TestCreateFromVideoDedupByTrack(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "orig", Status: models.StatusDownloading, OutputPath: "analysis/orig.json",
		TrackTitle: "Same Song", TrackArtist: "Same Artist", YoutubeID: "vidOld",
	}))

	// a second submission for the same track returns the existing job,
	// even under a different video id
	body := `{"youtube_id": "vidNew", "title": "Same Song", "artist": "Same Artist"}`
	rec := env.request(t, http.MethodPost, "/api/analysis/youtube", strings.NewReader(body))
	require.Equal(t, http.StatusAccepted, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "orig", payload["id"])

	// still exactly one row for this track
	job, err := env.db.GetJobByTrack("Same Song", "Same Artist")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "orig", job.ID)
}

func TestCreateFromVideoDedupByVideoID(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "vjob", Status: models.StatusQueued, OutputPath: "analysis/vjob.json",
		YoutubeID: "vidQ",
	}))

	body := `{"youtube_id": "vidQ"}`
	rec := env.request(t, http.MethodPost, "/api/analysis/youtube", strings.NewReader(body))
	require.Equal(t, http.StatusAccepted, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "vjob", payload["id"])
}

func TestCreateFromVideoRequiresVideoID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodPost, "/api/analysis/youtube", strings.NewReader(`{"youtube_id": "  "}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateFromVideoUserSubmissionsGate(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Jobs.AllowUserYoutube = false
	body := `{"youtube_id": "vidX", "is_user_supplied": true}`
	rec := env.request(t, http.MethodPost, "/api/analysis/youtube", strings.NewReader(body))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDedupLookupRecyclesStaleDownload(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "stale", Status: models.StatusDownloading, OutputPath: "analysis/stale.json",
		YoutubeID: "vidZ", Progress: 25,
	}))
	env.ageJob(t, "stale", 31*time.Second)

	rec := env.request(t, http.MethodGet, "/api/jobs/by-youtube/vidZ", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the stale row is gone for good
	job, err := env.db.GetJob("stale")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDedupLookupRecyclesLoggedDownload(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "logged", Status: models.StatusDownloading, OutputPath: "analysis/logged.json",
		YoutubeID: "vidL", TrackTitle: "T", TrackArtist: "A",
	}))
	// a failure log marks the job stale regardless of its timestamps
	require.NoError(t, os.WriteFile(env.cfg.StoragePath("logs", "logged.log"), []byte("Job failed: boom\n"), 0644))

	rec := env.request(t, http.MethodGet, "/api/jobs/by-track?title=T&artist=A", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDedupLookupKeepsFreshDownload(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "fresh", Status: models.StatusDownloading, OutputPath: "analysis/fresh.json",
		YoutubeID: "vidF", Progress: 10,
	}))

	rec := env.request(t, http.MethodGet, "/api/jobs/by-youtube/vidF", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "fresh", payload["id"])
}

func TestDeleteJobOwnerWindow(t *testing.T) {
	env := newTestEnv(t)
	env.createCompleteJob(t, "del1", "", "", map[string]any{"duration": 1.0})
	require.NoError(t, os.WriteFile(env.cfg.StoragePath("audio", "del1.mp3"), []byte("audio"), 0644))
	require.NoError(t, os.WriteFile(env.cfg.StoragePath("logs", "del1.log"), []byte("log"), 0644))

	// recently created: the owner window applies
	rec := env.request(t, http.MethodDelete, "/api/jobs/del1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	job, err := env.db.GetJob("del1")
	require.NoError(t, err)
	assert.Nil(t, job)
	for _, leftover := range []string{
		env.cfg.StoragePath("audio", "del1.mp3"),
		env.cfg.StoragePath("analysis", "del1.json"),
		env.cfg.StoragePath("logs", "del1.log"),
	} {
		_, err := os.Stat(leftover)
		assert.True(t, os.IsNotExist(err), "expected %s to be removed", leftover)
	}
}

func TestDeleteJobForbiddenOutsideWindow(t *testing.T) {
	env := newTestEnv(t)
	env.createCompleteJob(t, "del2", "", "", map[string]any{"duration": 1.0})
	env.ageJob(t, "del2", time.Hour)

	rec := env.request(t, http.MethodDelete, "/api/jobs/del2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// the admin key still works
	rec = env.request(t, http.MethodDelete, "/api/jobs/del2?key=secret-admin-key", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRepairRequeuesMissingArtifact(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "rep1", Status: models.StatusComplete,
		InputPath:  filepath.Join("audio", "rep1.mp3"),
		OutputPath: filepath.Join("analysis", "rep1.json"),
		YoutubeID:  "vidR",
	}))
	require.NoError(t, os.WriteFile(env.cfg.StoragePath("audio", "rep1.mp3"), []byte("audio"), 0644))

	rec := env.request(t, http.MethodPost, "/api/repair/rep1", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	job, err := env.db.GetJob("rep1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.Equal(t, 25, job.Progress)
}

func TestRepairMissingInput(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "rep2", Status: models.StatusComplete,
		OutputPath: filepath.Join("analysis", "rep2.json"),
	}))

	rec := env.request(t, http.MethodPost, "/api/repair/rep2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "missing_input", payload["error_code"])
}

func TestRepairLeavesHealthyJobAlone(t *testing.T) {
	env := newTestEnv(t)
	env.createCompleteJob(t, "rep3", "", "", map[string]any{"duration": 1.0})
	require.NoError(t, os.WriteFile(env.cfg.StoragePath("audio", "rep3.mp3"), []byte("audio"), 0644))

	rec := env.request(t, http.MethodPost, "/api/repair/rep3", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	assert.Equal(t, "complete", payload["status"])
}

func TestAudioAndLogEndpoints(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.CreateJob(models.Job{
		ID: "m1", Status: models.StatusQueued,
		InputPath:  filepath.Join("audio", "m1.mp3"),
		OutputPath: filepath.Join("analysis", "m1.json"),
	}))
	require.NoError(t, os.WriteFile(env.cfg.StoragePath("audio", "m1.mp3"), []byte("fake-mp3-bytes"), 0644))
	require.NoError(t, os.WriteFile(env.cfg.StoragePath("logs", "m1.log"), []byte("Job failed: boom\n"), 0644))

	rec := env.request(t, http.MethodGet, "/api/audio/m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "fake-mp3-bytes", rec.Body.String())

	rec = env.request(t, http.MethodGet, "/api/logs/m1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")

	rec = env.request(t, http.MethodGet, "/api/audio/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.request(t, http.MethodGet, "/api/logs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
