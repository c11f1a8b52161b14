package feed_test

import (
	"testing"

	"livemarks/internal/feed"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://example.com/feed", want: "https://example.com/feed"},
		{in: "  example.com/rss  ", want: "https://example.com/rss"},
		{in: "feed://example.com/rss", want: "http://example.com/rss"},
		{in: "feed:https://example.com/rss", want: "https://example.com/rss"},
		{in: "", wantErr: true},
		{in: "ftp://example.com/rss", wantErr: true},
		{in: "javascript:alert(1)", wantErr: true},
		{in: "http://", wantErr: true},
	}

	for _, tt := range tests {
		got, err := feed.NormalizeURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("NormalizeURL(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	got, err := feed.Resolve("https://example.com/blog/feed.xml", "posts/1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "https://example.com/blog/posts/1" {
		t.Fatalf("unexpected resolved URL %q", got)
	}

	got, err = feed.Resolve("https://example.com/feed.xml", "https://other.example/x")
	if err != nil || got != "https://other.example/x" {
		t.Fatalf("expected absolute link unchanged, got %q, %v", got, err)
	}

	if _, err := feed.Resolve("https://example.com/", "  "); err == nil {
		t.Fatal("expected error for empty link")
	}
}
