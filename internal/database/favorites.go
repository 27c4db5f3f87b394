package database

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jukebox/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Word buckets for generating human-friendly sync codes of the form
// vibe-object-music.
var (
	syncVibeWords = []string{
		"mellow", "funky", "dreamy", "cosmic", "golden", "velvet", "electric",
		"smooth", "wild", "midnight", "neon", "lazy", "stormy", "sunny",
	}
	syncObjectWords = []string{
		"river", "lantern", "meadow", "harbor", "ember", "canyon", "orchid",
		"comet", "prairie", "glacier", "willow", "beacon", "dune", "tide",
	}
	syncMusicWords = []string{
		"chorus", "tempo", "reverb", "cadence", "octave", "refrain", "groove",
		"anthem", "ballad", "melody", "rhythm", "encore", "harmony", "riff",
	}
)

// MaxFavorites bounds the size of a synced favorites list.
const MaxFavorites = 100

// FavoritesStore persists favorites-sync payloads keyed by share code.
type FavoritesStore struct {
	conn   *sql.DB
	logger *logrus.Logger
}

// NewFavoritesStore opens (or creates) the favorites database.
func NewFavoritesStore(dbPath string) (*FavoritesStore, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open favorites database: %w", err)
	}
	conn.SetMaxOpenConns(2)

	table := `
	CREATE TABLE IF NOT EXISTS favorites_sync (
		code TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`
	if _, err := conn.Exec(table); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create favorites table: %w", err)
	}

	return &FavoritesStore{conn: conn, logger: logger}, nil
}

// Save stores a favorites payload under a code.
func (fs *FavoritesStore) Save(code string, favorites []models.FavoriteTrack) error {
	payload, err := json.Marshal(favorites)
	if err != nil {
		return err
	}
	_, err = fs.conn.Exec(
		"INSERT INTO favorites_sync (code, payload, created_at) VALUES (?, ?, ?)",
		code, string(payload), time.Now().UTC().Format(timeLayout))
	return err
}

// Update replaces the payload for an existing code. Returns false when the
// code is unknown.
func (fs *FavoritesStore) Update(code string, favorites []models.FavoriteTrack) (bool, error) {
	payload, err := json.Marshal(favorites)
	if err != nil {
		return false, err
	}
	result, err := fs.conn.Exec(
		"UPDATE favorites_sync SET payload = ? WHERE code = ?",
		string(payload), code)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// Load returns the favorites stored under code, or nil if unknown.
func (fs *FavoritesStore) Load(code string) ([]models.FavoriteTrack, error) {
	var payload string
	err := fs.conn.QueryRow(
		"SELECT payload FROM favorites_sync WHERE code = ?", code).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var favorites []models.FavoriteTrack
	if err := json.Unmarshal([]byte(payload), &favorites); err != nil {
		fs.logger.WithError(err).WithField("code", code).Warn("Corrupt favorites payload")
		return nil, nil
	}
	return favorites, nil
}

// CreateUniqueCode generates a fresh three-word sync code.
func (fs *FavoritesStore) CreateUniqueCode() (string, error) {
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code := strings.Join([]string{
			pickWord(syncVibeWords),
			pickWord(syncObjectWords),
			pickWord(syncMusicWords),
		}, "-")
		var exists int
		err := fs.conn.QueryRow(
			"SELECT COUNT(*) FROM favorites_sync WHERE code = ?", code).Scan(&exists)
		if err != nil {
			return "", err
		}
		if exists == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("unable to generate a unique sync code")
}

func pickWord(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return words[0]
	}
	return words[n.Int64()]
}

// Close closes the favorites database.
func (fs *FavoritesStore) Close() error {
	if fs.conn != nil {
		return fs.conn.Close()
	}
	return nil
}
