package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(newViper(), dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.WatchDir != dir {
		t.Errorf("WatchDir = %s, want %s", cfg.WatchDir, dir)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.LoopCount != -1 {
		t.Errorf("LoopCount = %d, want -1", cfg.LoopCount)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.CleanPattern != "" || cfg.Precheck || cfg.LogFile != "" {
		t.Errorf("unexpected non-default values: %+v", cfg)
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	if _, err := Load(newViper(), "/does/not/exist"); err == nil {
		t.Error("Load() should fail for a missing directory")
	}
}

func TestLoad_FileInsteadOfDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := Load(newViper(), file); err == nil {
		t.Error("Load() should fail for a regular file")
	}
}

func TestLoad_EnvBinding(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("MKVTAG_TIMER", "5")
	t.Setenv("MKVTAG_LOOPS", "2")
	t.Setenv("MKVTAG_CLEAN", `\.work`)
	t.Setenv("MKVTAG_PRECHECK", "true")

	v := newViper()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	cfg, err := Load(v, dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.LoopCount != 2 {
		t.Errorf("LoopCount = %d, want 2", cfg.LoopCount)
	}
	if cfg.CleanPattern != `\.work` {
		t.Errorf("CleanPattern = %q, want %q", cfg.CleanPattern, `\.work`)
	}
	if !cfg.Precheck {
		t.Error("Precheck should be enabled via MKVTAG_PRECHECK")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "timer: 10\nmax-attempts: 5\nclean: '\\.tmp'\n"
	if err := os.WriteFile(filepath.Join(dir, "mkvtag.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(newViper(), dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %v, want 10s", cfg.PollInterval)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.CleanPattern != `\.tmp` {
		t.Errorf("CleanPattern = %q, want %q", cfg.CleanPattern, `\.tmp`)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"negative loops below -1", func(c *Config) { c.LoopCount = -2 }, true},
		{"zero loops allowed", func(c *Config) { c.LoopCount = 0 }, false},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, true},
		{"bad clean pattern", func(c *Config) { c.CleanPattern = "[" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				WatchDir:     "/watch",
				PollInterval: 30 * time.Second,
				LoopCount:    -1,
				MaxAttempts:  3,
			}
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
