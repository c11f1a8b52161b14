package feed

import (
	"errors"
	"net/url"
	"strings"
)

var (
	errURLRequired = errors.New("feed URL is required")
	errURLInvalid  = errors.New("feed URL looks invalid")
)

// NormalizeURL trims raw, assumes https when no scheme is given, and maps the
// feed: pseudo-scheme to http. Only absolute http(s) URLs are accepted.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errURLRequired
	}

	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, "feed://"):
		trimmed = "http://" + trimmed[len("feed://"):]
	case strings.HasPrefix(lower, "feed:"):
		trimmed = trimmed[len("feed:"):]
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.ParseRequestURI(trimmed)
	if err != nil || u.Host == "" {
		return "", errURLInvalid
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errURLInvalid
	}

	return u.String(), nil
}

// Resolve interprets ref relative to base. Absolute refs are returned as-is.
func Resolve(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errURLRequired
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}

	if refURL.IsAbs() {
		return refURL.String(), nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	return baseURL.ResolveReference(refURL).String(), nil
}
