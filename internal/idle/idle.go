// Package idle reports how long the local user has been inactive.
package idle

import (
	"errors"
	"path/filepath"
	"time"

	"k8s.io/utils/clock"
)

// ErrUnavailable is returned when no idle source can be read.
var ErrUnavailable = errors.New("idle time unavailable")

// Sensor reports the current idle duration. Callers treat an error as
// "not idle".
type Sensor interface {
	IdleDuration() (time.Duration, error)
}

// Never is a sensor for hosts without an interactive user.
type Never struct{}

// IdleDuration always reports zero.
func (Never) IdleDuration() (time.Duration, error) {
	return 0, nil
}

// TTYSensor derives idle time from the most recent access to any terminal
// device, the way who(1) computes IDLE.
type TTYSensor struct {
	clock    clock.PassiveClock
	patterns []string
}

// DefaultTTYPatterns are the device globs scanned by NewTTYSensor.
var DefaultTTYPatterns = []string{"/dev/pts/[0-9]*", "/dev/tty[0-9]*"}

// NewTTYSensor scans patterns, or DefaultTTYPatterns when none are given.
func NewTTYSensor(clk clock.PassiveClock, patterns ...string) *TTYSensor {
	if clk == nil {
		clk = clock.RealClock{}
	}

	if len(patterns) == 0 {
		patterns = DefaultTTYPatterns
	}

	return &TTYSensor{clock: clk, patterns: patterns}
}

// IdleDuration is part of the Sensor interface.
func (s *TTYSensor) IdleDuration() (time.Duration, error) {
	var latest time.Time

	for _, pattern := range s.patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return 0, err
		}

		for _, path := range matches {
			accessed, ok := accessTime(path)
			if ok && accessed.After(latest) {
				latest = accessed
			}
		}
	}

	if latest.IsZero() {
		return 0, ErrUnavailable
	}

	idle := s.clock.Since(latest)
	if idle < 0 {
		return 0, nil
	}

	return idle, nil
}
