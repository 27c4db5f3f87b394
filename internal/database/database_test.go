package database

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"jukebox/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetJob(t *testing.T) {
	db := newTestDatabase(t)

	job := models.Job{
		ID:          "a1b2c3",
		Status:      models.StatusQueued,
		InputPath:   "audio/a1b2c3.mp3",
		OutputPath:  "analysis/a1b2c3.json",
		TrackTitle:  "Test Song",
		TrackArtist: "Test Artist",
		YoutubeID:   "vid123",
		Progress:    25,
	}
	require.NoError(t, db.CreateJob(job))

	got, err := db.GetJob("a1b2c3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Equal(t, "Test Song", got.TrackTitle)
	assert.Equal(t, "vid123", got.YoutubeID)
	assert.Equal(t, 25, got.Progress)
	assert.False(t, got.IsUserSupplied)
	assert.False(t, got.CreatedAt.IsZero())

	missing, err := db.GetJob("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLookupsReturnNewest(t *testing.T) {
	db := newTestDatabase(t)

	require.NoError(t, db.CreateJob(models.Job{
		ID: "old", Status: models.StatusComplete, OutputPath: "analysis/old.json",
		TrackTitle: "Song", TrackArtist: "Artist", YoutubeID: "vidA",
	}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.CreateJob(models.Job{
		ID: "new", Status: models.StatusQueued, OutputPath: "analysis/new.json",
		TrackTitle: "Song", TrackArtist: "Artist", YoutubeID: "vidA",
	}))

	byVideo, err := db.GetJobByYoutubeID("vidA")
	require.NoError(t, err)
	require.NotNil(t, byVideo)
	assert.Equal(t, "new", byVideo.ID)

	byTrack, err := db.GetJobByTrack("Song", "Artist")
	require.NoError(t, err)
	require.NotNil(t, byTrack)
	assert.Equal(t, "new", byTrack.ID)

	none, err := db.GetJobByTrack("Song", "Nobody")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSetStatusAndProgress(t *testing.T) {
	db := newTestDatabase(t)
	require.NoError(t, db.CreateJob(models.Job{ID: "j1", Status: models.StatusQueued, OutputPath: "analysis/j1.json"}))

	require.NoError(t, db.SetStatus("j1", models.StatusProcessing, ""))
	job, err := db.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, job.Status)
	assert.Empty(t, job.Error)

	require.NoError(t, db.SetStatus("j1", models.StatusFailed, "engine exited with status 1"))
	job, err = db.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, "engine exited with status 1", job.Error)

	// progress clamps into [0, 100]
	require.NoError(t, db.SetProgress("j1", 150))
	job, _ = db.GetJob("j1")
	assert.Equal(t, 100, job.Progress)
	require.NoError(t, db.SetProgress("j1", -5))
	job, _ = db.GetJob("j1")
	assert.Equal(t, 0, job.Progress)
}

func TestIncrementPlays(t *testing.T) {
	db := newTestDatabase(t)
	require.NoError(t, db.CreateJob(models.Job{ID: "j1", Status: models.StatusComplete, OutputPath: "analysis/j1.json"}))

	count, ok, err := db.IncrementPlays("j1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, count)

	count, ok, err = db.IncrementPlays("j1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, count)

	// incrementing a missing row must commit cleanly and report ok=false
	_, ok, err = db.IncrementPlays("ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	// the store must still be writable after the missing-row branch
	count, ok, err = db.IncrementPlays("j1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, count)
}

func TestSetPlayCount(t *testing.T) {
	db := newTestDatabase(t)
	require.NoError(t, db.CreateJob(models.Job{ID: "j1", Status: models.StatusComplete, OutputPath: "analysis/j1.json"}))

	count, ok, err := db.SetPlayCount("j1", 42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, count)

	// clamps at zero
	count, ok, err = db.SetPlayCount("j1", -10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, count)

	_, ok, err = db.SetPlayCount("ghost", 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTopTracksFilter(t *testing.T) {
	db := newTestDatabase(t)

	jobs := []models.Job{
		{ID: "played", Status: models.StatusComplete, OutputPath: "a", TrackTitle: "A", TrackArtist: "X"},
		{ID: "unplayed", Status: models.StatusComplete, OutputPath: "b", TrackTitle: "B", TrackArtist: "X"},
		{ID: "untitled", Status: models.StatusComplete, OutputPath: "c", TrackArtist: "X"},
		{ID: "usersupplied", Status: models.StatusComplete, OutputPath: "d", TrackTitle: "D", TrackArtist: "X", IsUserSupplied: true},
		{ID: "popular", Status: models.StatusComplete, OutputPath: "e", TrackTitle: "E", TrackArtist: "X"},
	}
	for _, job := range jobs {
		require.NoError(t, db.CreateJob(job))
	}
	_, _, err := db.IncrementPlays("played")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err = db.IncrementPlays("popular")
		require.NoError(t, err)
	}
	_, _, err = db.IncrementPlays("untitled")
	require.NoError(t, err)
	_, _, err = db.IncrementPlays("usersupplied")
	require.NoError(t, err)

	tracks, err := db.TopTracks(10)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "popular", tracks[0].ID)
	assert.Equal(t, 3, tracks[0].PlayCount)
	assert.Equal(t, "played", tracks[1].ID)
}

func TestClaimNextOrdering(t *testing.T) {
	db := newTestDatabase(t)

	require.NoError(t, db.CreateJob(models.Job{ID: "first", Status: models.StatusQueued, OutputPath: "a"}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.CreateJob(models.Job{ID: "second", Status: models.StatusQueued, OutputPath: "b"}))
	require.NoError(t, db.CreateJob(models.Job{ID: "dl", Status: models.StatusDownloading, OutputPath: "c"}))

	job, err := db.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "first", job.ID)
	assert.Equal(t, models.StatusProcessing, job.Status)
	assert.Equal(t, 0, job.Progress)

	// the claimed row is processing in the store too
	stored, err := db.GetJob("first")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, stored.Status)

	job, err = db.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "second", job.ID)

	// downloading rows are never claimable
	job, err = db.ClaimNext()
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimNextExclusivity(t *testing.T) {
	db := newTestDatabase(t)
	require.NoError(t, db.CreateJob(models.Job{ID: "only", Status: models.StatusQueued, OutputPath: "a"}))

	const callers = 8
	var wg sync.WaitGroup
	winners := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := db.ClaimNext()
			if err == nil && job != nil {
				winners <- job.ID
			}
		}()
	}
	wg.Wait()
	close(winners)

	var claimed []string
	for id := range winners {
		claimed = append(claimed, id)
	}
	require.Len(t, claimed, 1, "exactly one caller must win the row")
	assert.Equal(t, "only", claimed[0])
}

func TestDeleteJob(t *testing.T) {
	db := newTestDatabase(t)
	require.NoError(t, db.CreateJob(models.Job{ID: "j1", Status: models.StatusQueued, OutputPath: "a"}))
	require.NoError(t, db.DeleteJob("j1"))

	job, err := db.GetJob("j1")
	require.NoError(t, err)
	assert.Nil(t, job)
}
