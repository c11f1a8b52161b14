package livemark

import (
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultExpiration is the TTL used when none is configured.
	DefaultExpiration = time.Hour
	// MinExpiration floors the configured TTL.
	MinExpiration = time.Minute
	// ErrorExpiration is the retry delay after a failed load.
	ErrorExpiration = 10 * time.Minute
	// IdleTimeLimit suppresses scheduled refreshes once the user has been
	// idle longer than this.
	IdleTimeLimit = 30 * time.Minute
	// MaxRefreshTime caps the interval between scheduled sweeps.
	MaxRefreshTime = time.Hour
)

// DefaultTTL applies the default and the floor to a configured TTL.
func DefaultTTL(configured time.Duration) time.Duration {
	if configured <= 0 {
		return DefaultExpiration
	}

	return max(configured, MinExpiration)
}

// RefreshInterval is the sweep period for a default TTL: a quarter of the TTL
// in whole milliseconds, capped at MaxRefreshTime.
func RefreshInterval(defaultTTL time.Duration) time.Duration {
	quarter := time.Duration(defaultTTL.Milliseconds()/4) * time.Millisecond

	return min(quarter, MaxRefreshTime)
}

// NextTTL is the lifetime of a successful load. A cache expiry in the future
// can lengthen it but never shorten it below defaultTTL; an expiry that is
// absent or already past yields defaultTTL.
func NextTTL(cacheExpiry, now time.Time, defaultTTL time.Duration) time.Duration {
	if cacheExpiry.IsZero() || !cacheExpiry.After(now) {
		return defaultTTL
	}

	return max(cacheExpiry.Sub(now), defaultTTL)
}

func formatExpiration(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseExpiration(value string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMilli(ms), nil
}
