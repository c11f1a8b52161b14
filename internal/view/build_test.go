package view

import (
	"testing"
	"time"

	"livemarks/internal/livemark"
	"livemarks/internal/server"
)

func TestFormatRelativeShort(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "na"},
		{now.Add(-30 * time.Second), "30s"},
		{now.Add(-5 * time.Minute), "5m"},
		{now.Add(-3 * time.Hour), "3h"},
		{now.Add(-50 * time.Hour), "2d"},
		{now.Add(-800 * 24 * time.Hour), "2y"},
		{now.Add(time.Hour), "0s"},
	}

	for _, tc := range cases {
		if got := FormatRelativeShort(tc.t, now); got != tc.want {
			t.Errorf("FormatRelativeShort(%v) = %q, want %q", tc.t, got, tc.want)
		}
	}
}

func TestFormatExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	if got := FormatExpiry(time.Time{}, now); got != "due" {
		t.Fatalf("zero = %q", got)
	}
	if got := FormatExpiry(now.Add(-time.Minute), now); got != "due" {
		t.Fatalf("past = %q", got)
	}
	if got := FormatExpiry(now.Add(45*time.Minute), now); got != "in 45m" {
		t.Fatalf("future = %q", got)
	}
}

func TestBuildLivemarkRowState(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	base := livemark.Status{
		FolderID: 7,
		Title:    "News",
		FeedURI:  "https://feed.example/rss",
		Children: 3,
	}

	cases := []struct {
		name   string
		mutate func(*livemark.Status)
		want   string
	}{
		{"never", func(*livemark.Status) {}, "never loaded"},
		{"ok", func(s *livemark.Status) { s.ExpiresAt = now.Add(time.Hour) }, "ok"},
		{"failed", func(s *livemark.Status) { s.LoadFailed = true; s.ExpiresAt = now.Add(time.Hour) }, "failed"},
		{"loading", func(s *livemark.Status) { s.Loading = true; s.LoadFailed = true }, "loading"},
	}

	for _, tc := range cases {
		status := base
		tc.mutate(&status)

		row := BuildLivemarkRow(status, now)
		if row.State != tc.want {
			t.Errorf("%s: state = %q, want %q", tc.name, row.State, tc.want)
		}
	}

	row := BuildLivemarkRow(base, now)
	if row.ID != "7" || row.Children != "3" || row.SiteURI != "-" || row.Expires != "due" {
		t.Fatalf("row = %+v", row)
	}
	if len(row.Cells()) != len(LivemarkHeaders) {
		t.Fatalf("cells = %d, headers = %d", len(row.Cells()), len(LivemarkHeaders))
	}
}

func TestBuildChildRows(t *testing.T) {
	t.Parallel()

	rows := BuildChildRows([]server.Child{
		{ID: 10, Index: 0, Title: "Alpha", URI: "https://example.com/a"},
		{ID: 11, Index: 1, Title: "Beta", URI: "https://example.com/b"},
	})

	if len(rows) != 2 || rows[1].Index != "1" || rows[1].Title != "Beta" {
		t.Fatalf("rows = %+v", rows)
	}
	if len(rows[0].Cells()) != len(ChildHeaders) {
		t.Fatal("cell count mismatch")
	}
}
