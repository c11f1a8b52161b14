package config

import (
	"errors"
	"fmt"
	"net"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRefresh(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.Database == "" {
		return errors.New("paths.database must be set")
	}
	if c.Paths.LockFile == "" {
		return errors.New("paths.lock_file must be set")
	}
	if c.Paths.Database == c.Paths.LockFile {
		return errors.New("paths.lock_file must differ from paths.database")
	}
	return nil
}

func (c *Config) validateRefresh() error {
	switch c.Refresh.IdleSource {
	case IdleSourceTTY, IdleSourceNone:
	default:
		return fmt.Errorf("refresh.idle_source must be %q or %q, got %q", IdleSourceTTY, IdleSourceNone, c.Refresh.IdleSource)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Bind == "" {
		return errors.New("server.bind must be set")
	}
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
}
