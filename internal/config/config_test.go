package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Jobs.MaxUploadSizeMB != 15 {
		t.Errorf("default upload cap = %d MB, want 15", cfg.Jobs.MaxUploadSizeMB)
	}
	if cfg.MaxUploadBytes() != 15*1024*1024 {
		t.Errorf("MaxUploadBytes() = %d, want %d", cfg.MaxUploadBytes(), 15*1024*1024)
	}
	if cfg.Analysis.SampleRate != 22050 {
		t.Errorf("default sample rate = %d, want 22050", cfg.Analysis.SampleRate)
	}
}

func TestIsEnabled(t *testing.T) {
	truthy := []string{"1", "true", "TRUE", "yes", "on", " On "}
	for _, v := range truthy {
		if !IsEnabled(v) {
			t.Errorf("IsEnabled(%q) = false, want true", v)
		}
	}
	falsy := []string{"", "0", "false", "off", "no", "enabled"}
	for _, v := range falsy {
		if IsEnabled(v) {
			t.Errorf("IsEnabled(%q) = true, want false", v)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ALLOW_USER_UPLOAD", "yes")
	t.Setenv("ALLOW_USER_YOUTUBE", "0")
	t.Setenv("ADMIN_KEY", "k3y")
	t.Setenv("POLL_INTERVAL_S", "2.5")
	t.Setenv("WORKER_COUNT", "3")
	t.Setenv("SAMPLE_RATE", "44100")
	t.Setenv("HOP_LENGTH", "1024")

	cfg := DefaultConfig()
	cfg.applyEnv()

	if !cfg.Jobs.AllowUserUpload {
		t.Error("ALLOW_USER_UPLOAD=yes should enable uploads")
	}
	if cfg.Jobs.AllowUserYoutube {
		t.Error("ALLOW_USER_YOUTUBE=0 should disable video submissions")
	}
	if cfg.Jobs.AdminKey != "k3y" {
		t.Errorf("admin key = %q, want k3y", cfg.Jobs.AdminKey)
	}
	if cfg.Worker.PollIntervalS != 2.5 {
		t.Errorf("poll interval = %v, want 2.5", cfg.Worker.PollIntervalS)
	}
	if cfg.Worker.Count != 3 {
		t.Errorf("worker count = %d, want 3", cfg.Worker.Count)
	}
	if cfg.Analysis.SampleRate != 44100 {
		t.Errorf("sample rate = %d, want 44100", cfg.Analysis.SampleRate)
	}
	if cfg.Analysis.HopLength != 1024 {
		t.Errorf("hop length = %d, want 1024", cfg.Analysis.HopLength)
	}
}

func TestEnvOverridesIgnoreInvalidNumbers(t *testing.T) {
	t.Setenv("WORKER_COUNT", "zero")
	t.Setenv("POLL_INTERVAL_S", "-1")

	cfg := DefaultConfig()
	cfg.applyEnv()

	if cfg.Worker.Count != 1 {
		t.Errorf("invalid WORKER_COUNT should keep default, got %d", cfg.Worker.Count)
	}
	if cfg.Worker.PollIntervalS != 1.0 {
		t.Errorf("negative POLL_INTERVAL_S should keep default, got %v", cfg.Worker.PollIntervalS)
	}
}

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Server.Port)
	}

	// second load reads the file it just wrote
	again, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig (reload): %v", err)
	}
	if again.Storage.Root != cfg.Storage.Root {
		t.Errorf("reloaded storage root %q != %q", again.Storage.Root, cfg.Storage.Root)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"empty storage root", func(c *Config) { c.Storage.Root = "" }},
		{"zero upload cap", func(c *Config) { c.Jobs.MaxUploadSizeMB = 0 }},
		{"bad tempo range", func(c *Config) { c.Analysis.TempoMaxBPM = c.Analysis.TempoMinBPM }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero workers", func(c *Config) { c.Worker.Count = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
