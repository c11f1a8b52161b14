// Package config loads and validates the livemarks TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Paths contains on-disk locations used by the daemon.
type Paths struct {
	Database string `toml:"database"`
	LockFile string `toml:"lock_file"`
}

// Refresh contains livemark refresh scheduling and fetch settings.
type Refresh struct {
	RefreshIntervalSeconds int    `toml:"refresh_interval_seconds"`
	IdleSource             string `toml:"idle_source"`
	UserAgent              string `toml:"user_agent"`
	FetchTimeoutSeconds    int    `toml:"fetch_timeout_seconds"`
	LoadingTitle           string `toml:"loading_title"`
}

// Server contains control API settings.
type Server struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level string `toml:"level"`
}

// Config is the root configuration document.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Refresh Refresh `toml:"refresh"`
	Server  Server  `toml:"server"`
	Logging Logging `toml:"log"`
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the configuration at path, falling back to defaults when the file
// does not exist. It returns the config, the resolved path, and whether a file
// was found.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = defaultConfigPath
	}

	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}

	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %q is a directory", expanded)
	}

	return expanded, true, nil
}

// EnsureDirectories creates the parent directories of the database and lock file.
func (c *Config) EnsureDirectories() error {
	for _, file := range []string{c.Paths.Database, c.Paths.LockFile} {
		dir := filepath.Dir(file)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RefreshInterval is the configured default TTL of a livemark.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.RefreshIntervalSeconds) * time.Second
}

// FetchTimeout bounds a single feed request.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Refresh.FetchTimeoutSeconds) * time.Second
}

// ServerURL is the base URL CLI commands use to reach the daemon.
func (c *Config) ServerURL() string {
	bind := strings.TrimSpace(c.Server.Bind)
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
