package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the application configuration loaded from TOML, with
// selected values overridable from the environment.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Jobs     JobsConfig     `toml:"jobs"`
	Fetcher  FetcherConfig  `toml:"fetcher"`
	Worker   WorkerConfig   `toml:"worker"`
	Search   SearchConfig   `toml:"search"`
	Analysis AnalysisConfig `toml:"analysis"`
	Logging  LoggingConfig  `toml:"logging"`
	Ngrok    NgrokConfig    `toml:"ngrok"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port         string `toml:"port"`
	Host         string `toml:"host"`
	StaticDir    string `toml:"static_dir"`
	EnableCORS   bool   `toml:"enable_cors"`
	ReadTimeout  int    `toml:"read_timeout_seconds"`
	WriteTimeout int    `toml:"write_timeout_seconds"`
	IdleTimeout  int    `toml:"idle_timeout_seconds"`
}

// StorageConfig locates the storage root. Staging audio, analysis
// artifacts, failure logs and the job database all live under it.
type StorageConfig struct {
	Root string `toml:"root"`
}

// JobsConfig contains job lifecycle configuration.
type JobsConfig struct {
	AdminKey           string `toml:"admin_key"`
	AllowUserUpload    bool   `toml:"allow_user_upload"`
	AllowUserYoutube   bool   `toml:"allow_user_youtube"`
	AllowFavoritesSync bool   `toml:"allow_favorites_sync"`
	MaxUploadSizeMB    int64  `toml:"max_upload_size_mb"`
	WatchDropFolder    bool   `toml:"watch_drop_folder"`
}

// FetcherConfig contains audio fetcher (yt-dlp) configuration.
type FetcherConfig struct {
	YtDlpPath     string `toml:"yt_dlp_path"`
	MaxFilesizeMB int64  `toml:"max_filesize_mb"`
	AudioFormat   string `toml:"audio_format"`
}

// WorkerConfig contains analysis worker configuration.
type WorkerConfig struct {
	PollIntervalS float64 `toml:"poll_interval_seconds"`
	Count         int     `toml:"count"`
}

// SearchConfig contains third-party search API configuration. Credentials
// come from the environment only; limits live here.
type SearchConfig struct {
	SearchLimit        int     `toml:"search_limit"`
	YoutubeSearchLimit int     `toml:"youtube_search_limit"`
	HTTPTimeoutS       float64 `toml:"http_timeout_seconds"`
}

// AnalysisConfig contains the engine tuning knobs surfaced in the service
// configuration. The full engine parameter set (and its defaults) lives in
// the analysis package; values here override it.
type AnalysisConfig struct {
	SampleRate      int     `toml:"sample_rate"`
	HopLength       int     `toml:"hop_length"`
	TempoMinBPM     float64 `toml:"tempo_min_bpm"`
	TempoMaxBPM     float64 `toml:"tempo_max_bpm"`
	TimeSignature   int     `toml:"time_signature"`
	TatumDivisions  int     `toml:"tatum_divisions"`
	UseDownbeats    bool    `toml:"use_downbeat_tracker"`
	UseLaplacian    bool    `toml:"use_laplacian_sections"`
	CalibrationPath string  `toml:"calibration_path"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	RequestLogging bool   `toml:"request_logging"`
}

// NgrokConfig contains optional public tunnel configuration.
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"auth_token"`
	Domain    string `toml:"domain"`
}

// DefaultConfig returns a configuration populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Host:         "0.0.0.0",
			StaticDir:    "./web/dist",
			EnableCORS:   true,
			ReadTimeout:  30,
			WriteTimeout: 60,
			IdleTimeout:  120,
		},
		Storage: StorageConfig{
			Root: "./storage",
		},
		Jobs: JobsConfig{
			AdminKey:           "",
			AllowUserUpload:    false,
			AllowUserYoutube:   false,
			AllowFavoritesSync: false,
			MaxUploadSizeMB:    15,
			WatchDropFolder:    false,
		},
		Fetcher: FetcherConfig{
			YtDlpPath:     "yt-dlp",
			MaxFilesizeMB: 100,
			AudioFormat:   "m4a",
		},
		Worker: WorkerConfig{
			PollIntervalS: 1.0,
			Count:         1,
		},
		Search: SearchConfig{
			SearchLimit:        25,
			YoutubeSearchLimit: 10,
			HTTPTimeoutS:       10.0,
		},
		Analysis: AnalysisConfig{
			SampleRate:     22050,
			HopLength:      512,
			TempoMinBPM:    60,
			TempoMaxBPM:    200,
			TimeSignature:  4,
			TatumDivisions: 2,
			UseDownbeats:   false,
			UseLaplacian:   true,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			RequestLogging: false,
		},
		Ngrok: NgrokConfig{
			Enabled: false,
		},
	}
}

// LoadConfig loads configuration from a TOML file (creating it with
// defaults if missing), layers .env, then applies environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional; a missing file is fine
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	} else {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides configuration from the process environment.
func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("ALLOW_USER_UPLOAD"); ok {
		c.Jobs.AllowUserUpload = IsEnabled(v)
	}
	if v, ok := os.LookupEnv("ALLOW_USER_YOUTUBE"); ok {
		c.Jobs.AllowUserYoutube = IsEnabled(v)
	}
	if v, ok := os.LookupEnv("ALLOW_FAVORITES_SYNC"); ok {
		c.Jobs.AllowFavoritesSync = IsEnabled(v)
	}
	if v := os.Getenv("ADMIN_KEY"); v != "" {
		c.Jobs.AdminKey = v
	}
	if v := os.Getenv("STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("POLL_INTERVAL_S"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Worker.PollIntervalS = f
		}
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Worker.Count = n
		}
	}
	if v := os.Getenv("SAMPLE_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Analysis.SampleRate = n
		}
	}
	if v := os.Getenv("HOP_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Analysis.HopLength = n
		}
	}
	if v := os.Getenv("CALIBRATION_PATH"); v != "" {
		c.Analysis.CalibrationPath = v
	}
}

// IsEnabled reports whether an environment boolean token is truthy.
// Accepted tokens: 1, true, yes, on (case-insensitive).
func IsEnabled(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// SaveToFile saves the configuration to a TOML file (overwriting existing).
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# Jukebox Analysis Service Configuration
# Edit the values below to customize the API server, worker and engine.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		return fmt.Errorf("server timeouts cannot be negative")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root cannot be empty")
	}
	if c.Jobs.MaxUploadSizeMB < 1 {
		return fmt.Errorf("max upload size must be at least 1 MB")
	}
	if c.Worker.PollIntervalS <= 0 {
		return fmt.Errorf("worker poll interval must be positive")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if c.Analysis.SampleRate < 8000 {
		return fmt.Errorf("sample rate must be at least 8000 Hz")
	}
	if c.Analysis.HopLength < 1 {
		return fmt.Errorf("hop length must be positive")
	}
	if c.Analysis.TempoMinBPM <= 0 || c.Analysis.TempoMaxBPM <= c.Analysis.TempoMinBPM {
		return fmt.Errorf("tempo range is invalid")
	}
	if c.Analysis.TimeSignature < 1 {
		return fmt.Errorf("time signature must be at least 1")
	}
	if c.Analysis.TatumDivisions < 1 {
		return fmt.Errorf("tatum divisions must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// GetAddress returns the host:port string for listening.
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// MaxUploadBytes returns the upload ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.Jobs.MaxUploadSizeMB * 1024 * 1024
}

// StoragePath joins a storage-root relative path.
func (c *Config) StoragePath(parts ...string) string {
	return filepath.Join(append([]string{c.Storage.Root}, parts...)...)
}

// DatabasePath returns the job store's SQLite file path.
func (c *Config) DatabasePath() string {
	return c.StoragePath("jobs.db")
}

// FavoritesDatabasePath returns the favorites store's SQLite file path.
func (c *Config) FavoritesDatabasePath() string {
	return c.StoragePath("favorites.db")
}

// EnsureStorageDirs creates the storage layout (audio/, analysis/, logs/).
func (c *Config) EnsureStorageDirs() error {
	for _, dir := range []string{
		c.Storage.Root,
		c.StoragePath("audio"),
		c.StoragePath("analysis"),
		c.StoragePath("logs"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return nil
}
