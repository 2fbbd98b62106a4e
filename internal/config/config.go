// Package config holds the server configuration for the playback core.
// Values load from an optional yaml file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Transcode TranscodeConfig `yaml:"transcode"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the gorm driver and DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// PlaybackConfig tunes session and playlist behavior.
type PlaybackConfig struct {
	// SessionInactivityDays is the window added to the last heartbeat to
	// compute session expiry.
	SessionInactivityDays int `yaml:"session_inactivity_days"`

	// HeartbeatIntervalSeconds is surfaced to clients as a hint; the server
	// itself only refreshes expiry on whatever cadence the client uses.
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`

	// SweepIntervalMinutes is how often the sweeper collects expired
	// sessions and generators.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`

	// PlaylistChunkSize is the materialization and paging window.
	PlaylistChunkSize int `yaml:"playlist_chunk_size"`
}

// TranscodeConfig tunes the segment job manager.
type TranscodeConfig struct {
	// DataDir is the root under which per-job output directories live
	// (<DataDir>/transcodes/<partId>/<variantKey>).
	DataDir string `yaml:"data_dir"`

	// FFmpegPath is the encoder binary.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// SegmentDurationSeconds is the fixed segment length.
	SegmentDurationSeconds int `yaml:"segment_duration_seconds"`

	// SegmentWaitTimeoutSeconds bounds how long a segment request waits for
	// the encoder before returning not found.
	SegmentWaitTimeoutSeconds int `yaml:"segment_wait_timeout_seconds"`

	// RestartAheadWindowSeconds converts to the smart-segment threshold:
	// requests further ahead than this restart the encoder instead of
	// waiting.
	RestartAheadWindowSeconds int `yaml:"restart_ahead_window_seconds"`

	// ActiveWindowSeconds protects recently pinged jobs from eviction.
	ActiveWindowSeconds int `yaml:"active_window_seconds"`

	// StopGraceSeconds bounds worker shutdown before SIGKILL.
	StopGraceSeconds int `yaml:"stop_grace_seconds"`

	// MaxJobs bounds the LRU job cache. Zero derives the bound from the
	// disk quota.
	MaxJobs int `yaml:"max_jobs"`

	// MinFreeDiskMB refuses new jobs when free space on DataDir drops
	// below this value.
	MinFreeDiskMB uint64 `yaml:"min_free_disk_mb"`
}

var global = Default()

// Set installs cfg as the process-wide configuration modules read at Init.
func Set(cfg *Config) {
	global = cfg
}

// Get returns the process-wide configuration.
func Get() *Config {
	return global
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "lumira.db",
		},
		Playback: PlaybackConfig{
			SessionInactivityDays:    30,
			HeartbeatIntervalSeconds: 30,
			SweepIntervalMinutes:     15,
			PlaylistChunkSize:        100,
		},
		Transcode: TranscodeConfig{
			DataDir:                   "./data",
			FFmpegPath:                "ffmpeg",
			SegmentDurationSeconds:    4,
			SegmentWaitTimeoutSeconds: 30,
			RestartAheadWindowSeconds: 24,
			ActiveWindowSeconds:       30,
			StopGraceSeconds:          5,
			MaxJobs:                   32,
			MinFreeDiskMB:             512,
		},
	}
}

// Load reads the config file at path (if it exists), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LUMIRA_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("LUMIRA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LUMIRA_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("LUMIRA_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("LUMIRA_DATA_DIR"); v != "" {
		cfg.Transcode.DataDir = v
	}
	if v := os.Getenv("LUMIRA_FFMPEG"); v != "" {
		cfg.Transcode.FFmpegPath = v
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return &ValidationError{Field: "database.driver", Message: "must be sqlite or postgres"}
	}
	if c.Playback.SessionInactivityDays < 1 {
		return &ValidationError{Field: "playback.session_inactivity_days", Message: "must be at least 1"}
	}
	if c.Playback.PlaylistChunkSize < 1 || c.Playback.PlaylistChunkSize > 1000 {
		return &ValidationError{Field: "playback.playlist_chunk_size", Message: "must be between 1 and 1000"}
	}
	if c.Transcode.SegmentDurationSeconds < 1 || c.Transcode.SegmentDurationSeconds > 30 {
		return &ValidationError{Field: "transcode.segment_duration_seconds", Message: "must be between 1 and 30"}
	}
	if c.Transcode.SegmentWaitTimeoutSeconds < 1 {
		return &ValidationError{Field: "transcode.segment_wait_timeout_seconds", Message: "must be at least 1"}
	}
	if c.Transcode.RestartAheadWindowSeconds < c.Transcode.SegmentDurationSeconds {
		return &ValidationError{Field: "transcode.restart_ahead_window_seconds", Message: "must cover at least one segment"}
	}
	if c.Transcode.MaxJobs < 0 {
		return &ValidationError{Field: "transcode.max_jobs", Message: "must not be negative"}
	}
	return nil
}

// ValidationError reports a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error in field '" + e.Field + "': " + e.Message
}

// Duration helpers

func (c *PlaybackConfig) SessionInactivityWindow() time.Duration {
	return time.Duration(c.SessionInactivityDays) * 24 * time.Hour
}

func (c *PlaybackConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

func (c *TranscodeConfig) SegmentDuration() time.Duration {
	return time.Duration(c.SegmentDurationSeconds) * time.Second
}

func (c *TranscodeConfig) SegmentWaitTimeout() time.Duration {
	return time.Duration(c.SegmentWaitTimeoutSeconds) * time.Second
}

func (c *TranscodeConfig) ActiveWindow() time.Duration {
	return time.Duration(c.ActiveWindowSeconds) * time.Second
}

func (c *TranscodeConfig) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSeconds) * time.Second
}

// SegmentThreshold is the smart-segment wait/restart boundary in segments.
func (c *TranscodeConfig) SegmentThreshold() int {
	return c.RestartAheadWindowSeconds / c.SegmentDurationSeconds
}
