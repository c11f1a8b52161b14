package feed_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"livemarks/internal/feed"
	"livemarks/internal/testutil"
)

func TestHTTPFetcherSendsLivemarkHeaders(t *testing.T) {
	t.Parallel()

	server, feedURL := testutil.NewFeedServer(t, testutil.RSSXML("Headers", nil))
	fetcher := feed.NewHTTPFetcher(nil, "LivemarksTest/1.0", nil)

	resp, err := fetcher.Open(context.Background(), feedURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}

	requests := server.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}

	req := requests[0]
	if got := req.Header.Get(feed.LivemarkHeader); got != "livebookmarks" {
		t.Fatalf("unexpected %s header: %q", feed.LivemarkHeader, got)
	}
	if got := req.Header.Get("User-Agent"); got != "LivemarksTest/1.0" {
		t.Fatalf("unexpected user agent: %q", got)
	}
	if req.Header.Get("If-None-Match") != "" || req.Header.Get("If-Modified-Since") != "" {
		t.Fatal("expected no conditional request headers")
	}
}

func TestHTTPFetcherReturnsErrorStatusAsResponse(t *testing.T) {
	t.Parallel()

	server, feedURL := testutil.NewFeedServer(t, "gone")
	server.SetStatus(http.StatusNotFound)

	resp, err := feed.NewHTTPFetcher(nil, "", nil).Open(context.Background(), feedURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer resp.Body.Close()

	if resp.OK() {
		t.Fatalf("expected non-OK response, got status %d", resp.StatusCode)
	}
}

func TestHTTPFetcherReportsCacheExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(now)

	server, feedURL := testutil.NewFeedServer(t, testutil.RSSXML("Cached", nil))
	server.SetHeader("Cache-Control", "public, max-age=7200")

	resp, err := feed.NewHTTPFetcher(nil, "", clk).Open(context.Background(), feedURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer resp.Body.Close()

	if want := now.Add(2 * time.Hour); !resp.CacheExpiry.Equal(want) {
		t.Fatalf("expected cache expiry %s, got %s", want, resp.CacheExpiry)
	}
}

func TestHTTPFetcherTransportError(t *testing.T) {
	t.Parallel()

	_, err := feed.NewHTTPFetcher(nil, "", nil).Open(context.Background(), "http://127.0.0.1:1/feed.xml")
	if err == nil {
		t.Fatal("expected transport error")
	}
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(3 * time.Hour)

	tests := []struct {
		header http.Header
		want   time.Time
		name   string
	}{
		{name: "none", header: http.Header{}, want: time.Time{}},
		{
			name:   "max-age",
			header: http.Header{"Cache-Control": {"max-age=600"}},
			want:   now.Add(10 * time.Minute),
		},
		{
			name:   "max-age less age",
			header: http.Header{"Cache-Control": {"max-age=600"}, "Age": {"120"}},
			want:   now.Add(8 * time.Minute),
		},
		{
			name:   "no-store wins",
			header: http.Header{"Cache-Control": {"no-store, max-age=600"}},
			want:   time.Time{},
		},
		{
			name:   "expires",
			header: http.Header{"Expires": {expires.Format(http.TimeFormat)}},
			want:   expires,
		},
		{
			name:   "max-age beats expires",
			header: http.Header{"Cache-Control": {"max-age=60"}, "Expires": {expires.Format(http.TimeFormat)}},
			want:   now.Add(time.Minute),
		},
		{
			name:   "garbage expires",
			header: http.Header{"Expires": {"0"}},
			want:   time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := feed.CacheExpiry(tt.header, now); !got.Equal(tt.want) {
				t.Fatalf("CacheExpiry = %s, want %s", got, tt.want)
			}
		})
	}
}
