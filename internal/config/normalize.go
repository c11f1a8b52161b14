package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRefresh()
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.Database, err = expandPath(strings.TrimSpace(c.Paths.Database)); err != nil {
		return fmt.Errorf("paths.database: %w", err)
	}
	if c.Paths.LockFile, err = expandPath(strings.TrimSpace(c.Paths.LockFile)); err != nil {
		return fmt.Errorf("paths.lock_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeRefresh() {
	defaults := Default().Refresh

	// An absent preference takes the default; a configured one is floored.
	if c.Refresh.RefreshIntervalSeconds <= 0 {
		c.Refresh.RefreshIntervalSeconds = defaults.RefreshIntervalSeconds
	}
	if c.Refresh.RefreshIntervalSeconds < minRefreshIntervalSeconds {
		c.Refresh.RefreshIntervalSeconds = minRefreshIntervalSeconds
	}
	if c.Refresh.FetchTimeoutSeconds <= 0 {
		c.Refresh.FetchTimeoutSeconds = defaults.FetchTimeoutSeconds
	}
	c.Refresh.IdleSource = strings.ToLower(strings.TrimSpace(c.Refresh.IdleSource))
	if c.Refresh.IdleSource == "" {
		c.Refresh.IdleSource = defaults.IdleSource
	}
	c.Refresh.UserAgent = strings.TrimSpace(c.Refresh.UserAgent)
	if c.Refresh.UserAgent == "" {
		c.Refresh.UserAgent = defaults.UserAgent
	}
	c.Refresh.LoadingTitle = strings.TrimSpace(c.Refresh.LoadingTitle)
	if c.Refresh.LoadingTitle == "" {
		c.Refresh.LoadingTitle = defaults.LoadingTitle
	}
}
