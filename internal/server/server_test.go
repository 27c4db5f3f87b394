package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jukebox/internal/config"
	"jukebox/internal/database"
	"jukebox/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	cfg    *config.Config
	db     *database.Database
	server *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Root = t.TempDir()
	cfg.Jobs.AllowUserUpload = true
	cfg.Jobs.AllowUserYoutube = true
	cfg.Jobs.AllowFavoritesSync = true
	cfg.Jobs.AdminKey = "secret-admin-key"
	require.NoError(t, cfg.EnsureStorageDirs())

	db, err := database.NewDatabase(cfg.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	favorites, err := database.NewFavoritesStore(cfg.FavoritesDatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { favorites.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	srv, err := NewServer(cfg, db, favorites, logger)
	require.NoError(t, err)

	return &testEnv{cfg: cfg, db: db, server: srv}
}

func (env *testEnv) request(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

// ageJob rewrites a job's timestamps directly in SQLite to simulate the
// passage of time.
func (env *testEnv) ageJob(t *testing.T, jobID string, age time.Duration) {
	t.Helper()
	conn, err := sql.Open("sqlite3", env.cfg.DatabasePath())
	require.NoError(t, err)
	defer conn.Close()
	stamp := time.Now().UTC().Add(-age).Format(time.RFC3339Nano)
	_, err = conn.Exec("UPDATE jobs SET created_at = ?, updated_at = ? WHERE id = ?", stamp, stamp, jobID)
	require.NoError(t, err)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func (env *testEnv) createCompleteJob(t *testing.T, id, title, artist string, artifactTrack map[string]any) {
	t.Helper()
	require.NoError(t, env.db.CreateJob(models.Job{
		ID:          id,
		Status:      models.StatusComplete,
		InputPath:   filepath.Join("audio", id+".mp3"),
		OutputPath:  filepath.Join("analysis", id+".json"),
		TrackTitle:  title,
		TrackArtist: artist,
		Progress:    100,
	}))
	artifact := map[string]any{
		"track":    artifactTrack,
		"sections": []any{},
		"bars":     []any{},
		"beats":    []any{},
		"tatums":   []any{},
		"segments": []any{},
	}
	data, err := json.Marshal(artifact)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.cfg.StoragePath("analysis", id+".json"), data, 0644))
}

func multipartBody(t *testing.T, filename string, size int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	chunk := bytes.Repeat([]byte{0x42}, 1024)
	written := 0
	for written < size {
		n := size - written
		if n > len(chunk) {
			n = len(chunk)
		}
		_, err = part.Write(chunk[:n])
		require.NoError(t, err)
		written += n
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func (env *testEnv) upload(t *testing.T, filename string, size int) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, size)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func countAudioFiles(t *testing.T, env *testEnv) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(env.cfg.StoragePath("audio"), "*"))
	require.NoError(t, err)
	return len(matches)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	require.Equal(t, "healthy", payload["status"])
}

func TestAppConfig(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/app-config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	require.Equal(t, true, payload["allow_user_upload"])
	require.Equal(t, true, payload["allow_user_youtube"])
	require.Equal(t, float64(15*1024*1024), payload["max_upload_size"])
	require.NotEmpty(t, payload["allowed_upload_exts"])
}

func TestWordpressProbesGone(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/wp-admin/setup.php", nil)
	require.Equal(t, http.StatusGone, rec.Code)
}
