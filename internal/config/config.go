// Package config handles configuration loading, validation, and management
// for proctord.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Session policy: violation limit, grace period, preconditions.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Calibration for the gaze wizard.
	Calibration CalibrationConfig `toml:"calibration" json:"calibration" yaml:"calibration"`

	// Vision detector cadence and gaze timing.
	Vision VisionConfig `toml:"vision" json:"vision" yaml:"vision"`

	// Audio detector thresholds.
	Audio AudioConfig `toml:"audio" json:"audio" yaml:"audio"`

	// Identity verification backend.
	Identity IdentityConfig `toml:"identity" json:"identity" yaml:"identity"`

	// Storage for the audit trail and session reports.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// SessionConfig holds session-level integrity policy.
type SessionConfig struct {
	// ViolationLimit is the count above which the session turns critical.
	ViolationLimit int `toml:"violation_limit" json:"violation_limit" yaml:"violation_limit"`

	// GracePeriodSec is the delay between a critical outcome and
	// termination.
	GracePeriodSec int `toml:"grace_period_sec" json:"grace_period_sec" yaml:"grace_period_sec"`

	// RequireScreenShare makes display capture a hard precondition; denial
	// ends the session before monitoring starts.
	RequireScreenShare bool `toml:"require_screen_share" json:"require_screen_share" yaml:"require_screen_share"`

	// RequireFullscreen requests full-screen at session start. Failure to
	// enter is logged but does not count as a violation.
	RequireFullscreen bool `toml:"require_fullscreen" json:"require_fullscreen" yaml:"require_fullscreen"`
}

// CalibrationConfig holds gaze calibration wizard settings.
type CalibrationConfig struct {
	// Enabled runs the calibration wizard before monitoring. When
	// disabled, default gaze thresholds apply.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// CountdownSec is the per-target hold before sampling.
	CountdownSec int `toml:"countdown_sec" json:"countdown_sec" yaml:"countdown_sec"`

	// MaxAttempts bounds retries per target before falling back to
	// defaults.
	MaxAttempts int `toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
}

// VisionConfig holds camera detector settings.
type VisionConfig struct {
	// Enabled toggles the camera detector entirely.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// IntervalSec is the face check cadence.
	IntervalSec int `toml:"interval_sec" json:"interval_sec" yaml:"interval_sec"`

	// GazeAwaySec is the sustained off-screen time before a gaze
	// violation fires.
	GazeAwaySec int `toml:"gaze_away_sec" json:"gaze_away_sec" yaml:"gaze_away_sec"`

	// GazeRearmSec is the minimum gap between gaze violations.
	GazeRearmSec int `toml:"gaze_rearm_sec" json:"gaze_rearm_sec" yaml:"gaze_rearm_sec"`

	// IdentityIntervalSec is the cadence of identity verification checks.
	IdentityIntervalSec int `toml:"identity_interval_sec" json:"identity_interval_sec" yaml:"identity_interval_sec"`
}

// AudioConfig holds microphone detector settings.
type AudioConfig struct {
	// Enabled toggles the audio detector entirely.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SpeechThreshold is the speech-band energy (0-255) marking a frame
	// voice-active.
	SpeechThreshold float64 `toml:"speech_threshold" json:"speech_threshold" yaml:"speech_threshold"`

	// AmbientThreshold is the overall energy above which non-speech frames
	// count as background noise.
	AmbientThreshold float64 `toml:"ambient_threshold" json:"ambient_threshold" yaml:"ambient_threshold"`

	// VariationThreshold is the frame-to-frame speech energy delta marking
	// erratic multi-speaker patterns.
	VariationThreshold float64 `toml:"variation_threshold" json:"variation_threshold" yaml:"variation_threshold"`

	// CooldownSec suppresses repeat audio violations.
	CooldownSec int `toml:"cooldown_sec" json:"cooldown_sec" yaml:"cooldown_sec"`
}

// IdentityConfig holds the identity verification backend settings.
type IdentityConfig struct {
	// Enabled toggles periodic identity verification.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// VerifyURL is the embedding comparison endpoint.
	VerifyURL string `toml:"verify_url" json:"verify_url" yaml:"verify_url"`

	// DistanceThreshold is the Euclidean distance above which two
	// embeddings are a mismatch.
	DistanceThreshold float64 `toml:"distance_threshold" json:"distance_threshold" yaml:"distance_threshold"`

	// TimeoutSec bounds each verification request.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// AuditPath is the path to the audit trail database.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path"`

	// AuditQueueSize bounds the async audit writer queue.
	AuditQueueSize int `toml:"audit_queue_size" json:"audit_queue_size" yaml:"audit_queue_size"`

	// ReportDir is where session reports are written.
	ReportDir string `toml:"report_dir" json:"report_dir" yaml:"report_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format: "json" or "text".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	// SocketPath is the unix socket path.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// MaxConnections bounds concurrent clients.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec bounds each request.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dataDir := DataDir()

	return &Config{
		Version: Version,
		Session: SessionConfig{
			ViolationLimit:     5,
			GracePeriodSec:     3,
			RequireScreenShare: true,
			RequireFullscreen:  true,
		},
		Calibration: CalibrationConfig{
			Enabled:      true,
			CountdownSec: 3,
			MaxAttempts:  10,
		},
		Vision: VisionConfig{
			Enabled:             true,
			IntervalSec:         3,
			GazeAwaySec:         5,
			GazeRearmSec:        3,
			IdentityIntervalSec: 10,
		},
		Audio: AudioConfig{
			Enabled:            true,
			SpeechThreshold:    80,
			AmbientThreshold:   150,
			VariationThreshold: 30,
			CooldownSec:        10,
		},
		Identity: IdentityConfig{
			Enabled:           true,
			VerifyURL:         "http://127.0.0.1:8787/api/verify-identity",
			DistanceThreshold: 0.6,
			TimeoutSec:        10,
		},
		Storage: StorageConfig{
			AuditPath:      filepath.Join(dataDir, "audit.db"),
			AuditQueueSize: 256,
			ReportDir:      filepath.Join(dataDir, "reports"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stderr",
			FilePath:   filepath.Join(dataDir, "logs", "proctord.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		IPC: IPCConfig{
			SocketPath:     SocketPath(),
			MaxConnections: 8,
			TimeoutSec:     10,
		},
	}
}

// DataDir returns the platform data directory for proctord.
func DataDir() string {
	if dir := os.Getenv("PROCTORD_DATA_DIR"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "proctord")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "proctord")
		}
		return filepath.Join(home, "AppData", "Roaming", "proctord")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "proctord")
		}
		return filepath.Join(home, ".local", "share", "proctord")
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if path := os.Getenv("PROCTORD_CONFIG"); path != "" {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "proctord", "config.toml")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "proctord", "config.toml")
		}
		return filepath.Join(home, "AppData", "Roaming", "proctord", "config.toml")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "proctord", "config.toml")
		}
		return filepath.Join(home, ".config", "proctord", "config.toml")
	}
}

// SocketPath returns the default IPC socket path.
func SocketPath() string {
	if path := os.Getenv("PROCTORD_SOCKET"); path != "" {
		return path
	}
	if runtime.GOOS == "windows" {
		return `\\.\pipe\proctord`
	}
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "proctord.sock")
	}
	return filepath.Join(os.TempDir(), "proctord.sock")
}

// ApplyEnvOverrides applies PROCTORD_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROCTORD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROCTORD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("PROCTORD_SOCKET"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("PROCTORD_IDENTITY_URL"); v != "" {
		c.Identity.VerifyURL = v
	}
	if v := os.Getenv("PROCTORD_AUDIT_PATH"); v != "" {
		c.Storage.AuditPath = v
	}
	if v := os.Getenv("PROCTORD_REPORT_DIR"); v != "" {
		c.Storage.ReportDir = v
	}
	if v := os.Getenv("PROCTORD_VIOLATION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Session.ViolationLimit = n
		}
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Session.ViolationLimit <= 0 {
		errs = append(errs, fmt.Errorf("session.violation_limit must be positive, got %d", c.Session.ViolationLimit))
	}
	if c.Session.GracePeriodSec < 0 {
		errs = append(errs, fmt.Errorf("session.grace_period_sec must not be negative, got %d", c.Session.GracePeriodSec))
	}

	if c.Vision.Enabled {
		if c.Vision.IntervalSec <= 0 {
			errs = append(errs, fmt.Errorf("vision.interval_sec must be positive, got %d", c.Vision.IntervalSec))
		}
		if c.Vision.GazeAwaySec <= 0 {
			errs = append(errs, fmt.Errorf("vision.gaze_away_sec must be positive, got %d", c.Vision.GazeAwaySec))
		}
		if c.Vision.GazeRearmSec < 0 {
			errs = append(errs, fmt.Errorf("vision.gaze_rearm_sec must not be negative, got %d", c.Vision.GazeRearmSec))
		}
		if c.Vision.IdentityIntervalSec <= 0 {
			errs = append(errs, fmt.Errorf("vision.identity_interval_sec must be positive, got %d", c.Vision.IdentityIntervalSec))
		}
	}

	if c.Audio.Enabled {
		if c.Audio.SpeechThreshold <= 0 || c.Audio.SpeechThreshold > 255 {
			errs = append(errs, fmt.Errorf("audio.speech_threshold must be in (0, 255], got %g", c.Audio.SpeechThreshold))
		}
		if c.Audio.AmbientThreshold <= 0 || c.Audio.AmbientThreshold > 255 {
			errs = append(errs, fmt.Errorf("audio.ambient_threshold must be in (0, 255], got %g", c.Audio.AmbientThreshold))
		}
		if c.Audio.CooldownSec < 0 {
			errs = append(errs, fmt.Errorf("audio.cooldown_sec must not be negative, got %d", c.Audio.CooldownSec))
		}
	}

	if c.Identity.Enabled {
		if c.Identity.VerifyURL == "" {
			errs = append(errs, errors.New("identity.verify_url is required when identity checks are enabled"))
		}
		if c.Identity.DistanceThreshold <= 0 {
			errs = append(errs, fmt.Errorf("identity.distance_threshold must be positive, got %g", c.Identity.DistanceThreshold))
		}
	}

	if c.Calibration.Enabled {
		if c.Calibration.CountdownSec <= 0 {
			errs = append(errs, fmt.Errorf("calibration.countdown_sec must be positive, got %d", c.Calibration.CountdownSec))
		}
		if c.Calibration.MaxAttempts <= 0 {
			errs = append(errs, fmt.Errorf("calibration.max_attempts must be positive, got %d", c.Calibration.MaxAttempts))
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	switch c.Logging.Output {
	case "stdout", "stderr", "file":
	default:
		errs = append(errs, fmt.Errorf("logging.output must be stdout, stderr, or file, got %q", c.Logging.Output))
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		errs = append(errs, errors.New("logging.file_path is required when output is file"))
	}

	if c.IPC.SocketPath == "" {
		errs = append(errs, errors.New("ipc.socket_path is required"))
	}

	return errors.Join(errs...)
}

// EnsureDirectories creates the directories the configuration points at.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.AuditPath),
		c.Storage.ReportDir,
	}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// GracePeriod returns the termination grace period as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Session.GracePeriodSec) * time.Second
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// SaveConfig writes the configuration to path as TOML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
