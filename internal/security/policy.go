// Package security decides whether a URI found in a feed may be loaded
// relative to the feed it came from.
package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrLoadDenied is returned for a target the policy refuses.
var ErrLoadDenied = errors.New("load denied")

// Policy checks targets found in a feed against the feed's own location.
// Feeds served from public hosts may not point at loopback, private, or
// link-local hosts; feeds that are themselves local may.
type Policy struct{}

// NewPolicy returns the default policy.
func NewPolicy() Policy {
	return Policy{}
}

// CheckLoadURI returns nil when target may be loaded from a document at source.
func (Policy) CheckLoadURI(source, target string) error {
	targetURL, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return fmt.Errorf("%w: parse target: %v", ErrLoadDenied, err)
	}

	if !isAllowedScheme(targetURL) {
		return fmt.Errorf("%w: scheme %q", ErrLoadDenied, targetURL.Scheme)
	}

	if targetURL.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrLoadDenied)
	}

	if targetURL.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrLoadDenied)
	}

	sourceURL, err := url.Parse(strings.TrimSpace(source))
	if err != nil || sourceURL.Hostname() == "" {
		return fmt.Errorf("%w: unusable source %q", ErrLoadDenied, source)
	}

	if isDisallowedHost(targetURL.Hostname()) && !isDisallowedHost(sourceURL.Hostname()) {
		return fmt.Errorf("%w: %s is local to %s", ErrLoadDenied, targetURL.Hostname(), sourceURL.Hostname())
	}

	return nil
}

func isAllowedScheme(target *url.URL) bool {
	return target.Scheme == "http" || target.Scheme == "https"
}

func isDisallowedHost(host string) bool {
	hostname := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if hostname == "" || hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return isDisallowedIP(ip)
	}
	return false
}

func isDisallowedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	// Block direct IPs that point to local/internal ranges.
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified()
}
