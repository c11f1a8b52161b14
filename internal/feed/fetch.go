// Package feed opens feed documents over HTTP and parses them into the entries
// a livemark folder displays.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/httpcc"
	"k8s.io/utils/clock"
)

const (
	// LivemarkHeader marks requests made on behalf of a livemark refresh.
	LivemarkHeader      = "X-Moz"
	livemarkHeaderValue = "livebookmarks"
	defaultUserAgent    = "Livemarks/1.0"
	defaultFetchTimeout = 30 * time.Second
	maxRedirects        = 10
)

var errTooManyRedirects = errors.New("stopped after 10 redirects")

// Response is an open feed stream. The caller owns Body and must close it.
type Response struct {
	Body        io.ReadCloser
	CacheExpiry time.Time
	URL         string
	StatusCode  int
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// HTTPFetcher opens feeds with a plain GET. It never sends conditional
// request headers so every refresh revalidates with the origin.
type HTTPFetcher struct {
	client    *http.Client
	clock     clock.PassiveClock
	userAgent string
}

// NewHTTPFetcher builds a fetcher. A nil client gets a timeout-bounded default
// and a nil clock uses the wall clock.
func NewHTTPFetcher(client *http.Client, userAgent string, clk clock.PassiveClock) *HTTPFetcher {
	if client == nil {
		client = NewHTTPClient(defaultFetchTimeout)
	}

	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}

	if clk == nil {
		clk = clock.RealClock{}
	}

	return &HTTPFetcher{client: client, clock: clk, userAgent: userAgent}
}

// NewHTTPClient returns a client that refuses redirects to non-http schemes.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to %s blocked", req.URL.Scheme)
			}
			return nil
		},
	}
}

// Open starts a GET for feedURI. Transport failures are returned as errors;
// any HTTP status is returned as a Response. Cancelling ctx aborts the body.
func (f *HTTPFetcher) Open(ctx context.Context, feedURI string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURI, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set(LivemarkHeader, livemarkHeaderValue)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	finalURL := feedURI
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		Body:        resp.Body,
		CacheExpiry: CacheExpiry(resp.Header, f.clock.Now()),
		URL:         finalURL,
		StatusCode:  resp.StatusCode,
	}, nil
}

// CacheExpiry derives the time a response stops being fresh from its
// Cache-Control max-age (less any Age) or, failing that, its Expires header.
// It returns the zero time when the response carries no usable freshness
// information or forbids storing.
func CacheExpiry(header http.Header, now time.Time) time.Time {
	if raw := strings.TrimSpace(header.Get("Cache-Control")); raw != "" {
		directives, err := httpcc.ParseResponse(raw)
		if err == nil {
			if directives.NoStore() {
				return time.Time{}
			}

			if maxAge, ok := directives.MaxAge(); ok {
				age := time.Duration(maxAge) * time.Second
				return now.Add(age - responseAge(header))
			}
		}
	}

	if raw := strings.TrimSpace(header.Get("Expires")); raw != "" {
		expires, err := http.ParseTime(raw)
		if err == nil {
			return expires
		}
	}

	return time.Time{}
}

func responseAge(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Age"))
	if raw == "" {
		return 0
	}

	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
