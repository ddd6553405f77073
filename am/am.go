// Package am ("I am") holds recwake's configuration: the typed Config,
// its defaults, file discovery and hot reload.
package am

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the recwake configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Recording RecordingConfig `mapstructure:"recording" toml:"recording"`
	Capture   CaptureConfig   `mapstructure:"capture" toml:"capture"`
	Wake      WakeConfig      `mapstructure:"wake" toml:"wake"`
	Server    ServerConfig    `mapstructure:"server" toml:"server"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
}

// DatabaseConfig configures where the job record lives
type DatabaseConfig struct {
	Path     string `mapstructure:"path" toml:"path"`
	JobStore string `mapstructure:"job_store" toml:"job_store"` // sqlite | file
	JobFile  string `mapstructure:"job_file" toml:"job_file"`   // used when job_store = "file"
}

// RecordingConfig bounds requests and names outputs
type RecordingConfig struct {
	Dir                string `mapstructure:"dir" toml:"dir"`
	MinDurationSeconds int    `mapstructure:"min_duration_seconds" toml:"min_duration_seconds"`
	MaxDurationSeconds int    `mapstructure:"max_duration_seconds" toml:"max_duration_seconds"`
	SampleRate         int    `mapstructure:"sample_rate" toml:"sample_rate"`
	Channels           int    `mapstructure:"channels" toml:"channels"`
}

// CaptureConfig selects and guards the audio input
type CaptureConfig struct {
	Backend               string `mapstructure:"backend" toml:"backend"` // exec | tone
	Command               string `mapstructure:"command" toml:"command"`
	Device                string `mapstructure:"device" toml:"device"`
	LockPath              string `mapstructure:"lock_path" toml:"lock_path"`
	ProbeForeignHolders   bool   `mapstructure:"probe_foreign_holders" toml:"probe_foreign_holders"`
	AcquireAttempts       int    `mapstructure:"acquire_attempts" toml:"acquire_attempts"`
	AcquireBackoffSeconds int    `mapstructure:"acquire_backoff_seconds" toml:"acquire_backoff_seconds"`
}

// WakeConfig selects the wake backend
type WakeConfig struct {
	Backend            string `mapstructure:"backend" toml:"backend"` // timer | systemd
	TickIntervalMS     int    `mapstructure:"tick_interval_ms" toml:"tick_interval_ms"`
	GraceWindowSeconds int    `mapstructure:"grace_window_seconds" toml:"grace_window_seconds"`
	FireCommand        string `mapstructure:"fire_command" toml:"fire_command"`
}

// ServerConfig configures the local control API
type ServerConfig struct {
	Address        string   `mapstructure:"address" toml:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
}

// LogConfig configures log output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}

// Backend names
const (
	JobStoreSQLite = "sqlite"
	JobStoreFile   = "file"

	CaptureExec = "exec"
	CaptureTone = "tone"

	WakeTimer   = "timer"
	WakeSystemd = "systemd"
)

// DefaultServerAddress is loopback only; the API has no authentication.
const DefaultServerAddress = "127.0.0.1:8787"

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// DatabasePath returns the expanded database path
func (c *Config) DatabasePath() string {
	return ExpandPath(c.Database.Path)
}

// JobFilePath returns the expanded job file path
func (c *Config) JobFilePath() string {
	return ExpandPath(c.Database.JobFile)
}

// RecordingsDir returns the expanded recordings directory
func (c *Config) RecordingsDir() string {
	return ExpandPath(c.Recording.Dir)
}

// LockPath returns the expanded capture lock path
func (c *Config) LockPath() string {
	return ExpandPath(c.Capture.LockPath)
}

// AcquireBackoff is the wait between busy retries
func (c *Config) AcquireBackoff() time.Duration {
	return time.Duration(c.Capture.AcquireBackoffSeconds) * time.Second
}

// GraceWindow is how late a fire may be and still start capture
func (c *Config) GraceWindow() time.Duration {
	return time.Duration(c.Wake.GraceWindowSeconds) * time.Second
}

// TickInterval is the timer backend's polling period
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Wake.TickIntervalMS) * time.Millisecond
}
