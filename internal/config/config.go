// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"rewind/internal/sandbox"
	"rewind/internal/sandbox/remote"
)

// EnvClaudeDir overrides the Claude data directory
const EnvClaudeDir = "REWIND_CLAUDE_DIR"

// Defaults
const (
	DefaultRestorePointLimit = 20
	DefaultTitleMaxLength    = 200
	DefaultScanWorkers       = 8
)

// SandboxConfig selects and tunes the sandbox backend
type SandboxConfig struct {
	Mode    string            `yaml:"mode"`
	Image   string            `yaml:"image"`
	TempDir string            `yaml:"temp_dir"`
	Shell   string            `yaml:"shell"`
	SSH     remote.Connection `yaml:"ssh"`
}

// Config holds resolved paths and tunables
type Config struct {
	HomeDir           string        `yaml:"-"`
	ClaudeDir         string        `yaml:"claude_dir"`
	DataDir           string        `yaml:"data_dir"`
	DatabasePath      string        `yaml:"database_path"`
	LogLevel          string        `yaml:"log_level"`
	RestorePointLimit int           `yaml:"restore_point_limit"`
	TitleMaxLength    int           `yaml:"title_max_length"`
	ScanWorkers       int           `yaml:"scan_workers"`
	GitBaseline       bool          `yaml:"git_baseline"`
	Sandbox           SandboxConfig `yaml:"sandbox"`
}

// Default returns the configuration used when no file exists. DatabasePath
// is left empty so that it follows data_dir; Load fills it in.
func Default(home string) *Config {
	dataDir := filepath.Join(home, ".rewind")
	return &Config{
		HomeDir:           home,
		ClaudeDir:         filepath.Join(home, ".claude"),
		DataDir:           dataDir,
		LogLevel:          "info",
		RestorePointLimit: DefaultRestorePointLimit,
		TitleMaxLength:    DefaultTitleMaxLength,
		ScanWorkers:       DefaultScanWorkers,
		GitBaseline:       true,
		Sandbox:           SandboxConfig{Mode: string(sandbox.ModeLocal)},
	}
}

// Load reads path (empty means the default location) over the defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	cfg := Default(home)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if dir := os.Getenv(EnvClaudeDir); dir != "" {
		cfg.ClaudeDir = dir
	}
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolve() {
	c.ClaudeDir = expandHome(c.HomeDir, c.ClaudeDir)
	c.DataDir = expandHome(c.HomeDir, c.DataDir)
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "rewind.db")
	}
	c.DatabasePath = expandHome(c.HomeDir, c.DatabasePath)
	c.Sandbox.TempDir = expandHome(c.HomeDir, c.Sandbox.TempDir)
	c.Sandbox.SSH.KeyPath = expandHome(c.HomeDir, c.Sandbox.SSH.KeyPath)
	c.Sandbox.SSH.KnownHosts = expandHome(c.HomeDir, c.Sandbox.SSH.KnownHosts)

	if c.RestorePointLimit <= 0 {
		c.RestorePointLimit = DefaultRestorePointLimit
	}
	if c.TitleMaxLength <= 0 {
		c.TitleMaxLength = DefaultTitleMaxLength
	}
	if c.ScanWorkers <= 0 {
		c.ScanWorkers = DefaultScanWorkers
	}
}

// Validate checks enumerated values
func (c *Config) Validate() error {
	if _, err := sandbox.ParseMode(c.Sandbox.Mode); err != nil {
		return fmt.Errorf("sandbox.mode: %w", err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// EnsureDataDir creates the directory holding the ledger database
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(filepath.Dir(c.DatabasePath), 0755)
}

// ParseLevel maps a log_level value to a slog level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return level, nil
}

// NewLogger builds the process logger writing text records to w
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func expandHome(home, p string) string {
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
