// Package config resolves the watcher configuration from flags,
// MKVTAG_* environment variables, and an optional config file, in that
// order of precedence. The core components only ever see the resolved
// Config struct.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable binding, e.g.
// MKVTAG_TIMER, MKVTAG_LOOPS, MKVTAG_CLEAN.
const EnvPrefix = "MKVTAG"

// ConfigFileName is the optional per-directory config file (without
// extension) picked up from the watched directory.
const ConfigFileName = "mkvtag"

// Config holds the resolved settings the core reads.
type Config struct {
	// WatchDir is the absolute path of the directory to watch.
	WatchDir string

	// LogFile, when set, routes the daemon log to a rotated file
	// instead of stderr.
	LogFile string

	// PollInterval is the wait between scan cycles.
	PollInterval time.Duration

	// LoopCount bounds the number of scan cycles; -1 means unbounded.
	LoopCount int

	// MaxAttempts caps tagging attempts per file before the file is
	// marked failed.
	MaxAttempts int

	// CleanPattern is the optional case-insensitive regexp stripped
	// from filenames after a successful tag.
	CleanPattern string

	// Precheck enables the mkvinfo inspection that skips files which
	// already carry statistics tags.
	Precheck bool

	// DashboardAddr, when set, serves the read-only status dashboard
	// on this address (e.g. ":8970").
	DashboardAddr string
}

// SetDefaults registers the default values on v. Call before binding
// flags so explicit flags and env vars win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("timer", 30)
	v.SetDefault("loops", -1)
	v.SetDefault("max-attempts", 3)
	v.SetDefault("clean", "")
	v.SetDefault("log", "")
	v.SetDefault("precheck", false)
	v.SetDefault("dashboard", "")
}

// Load resolves the configuration for the given watch directory.
//
// The directory must exist. If it contains an mkvtag.yaml (or .toml,
// .json) config file, that file is merged in below flags and env vars.
func Load(v *viper.Viper, dir string) (Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve watch directory: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Config{}, fmt.Errorf("'%s' is not a directory or cannot be accessed: %w", abs, err)
	}
	if !info.IsDir() {
		return Config{}, fmt.Errorf("'%s' is not a directory", abs)
	}

	v.SetConfigName(ConfigFileName)
	v.AddConfigPath(abs)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Config{
		WatchDir:      abs,
		LogFile:       v.GetString("log"),
		PollInterval:  time.Duration(v.GetInt("timer")) * time.Second,
		LoopCount:     v.GetInt("loops"),
		MaxAttempts:   v.GetInt("max-attempts"),
		CleanPattern:  v.GetString("clean"),
		Precheck:      v.GetBool("precheck"),
		DashboardAddr: v.GetString("dashboard"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the resolved values.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive (got %v)", c.PollInterval)
	}
	if c.LoopCount < -1 {
		return fmt.Errorf("loops must be -1 (unbounded) or non-negative (got %d)", c.LoopCount)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1 (got %d)", c.MaxAttempts)
	}
	if c.CleanPattern != "" {
		if _, err := regexp.Compile("(?i)" + c.CleanPattern); err != nil {
			return fmt.Errorf("invalid clean pattern %q: %w", c.CleanPattern, err)
		}
	}
	return nil
}
