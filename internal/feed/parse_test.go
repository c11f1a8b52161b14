package feed_test

import (
	"strings"
	"testing"
	"time"

	"livemarks/internal/feed"
	"livemarks/internal/testutil"
)

func TestParseRSSKeepsFeedOrder(t *testing.T) {
	t.Parallel()

	pub := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	xml := testutil.RSSXMLWithLink("Example", "https://example.com/", []testutil.RSSItem{
		{Title: "First", Link: "https://example.com/1", GUID: "1", PubDate: pub.Format(time.RFC1123Z)},
		{Title: "Second", Link: "https://example.com/2", GUID: "2", PubDate: pub.Format(time.RFC1123Z)},
	})

	result := feed.NewParser().Parse(strings.NewReader(xml))
	if result.Malformed || result.Document == nil {
		t.Fatalf("expected parsed document, got %+v", result)
	}

	doc := result.Document
	if doc.SiteLink != "https://example.com/" {
		t.Fatalf("unexpected site link %q", doc.SiteLink)
	}
	if len(doc.Entries) != 2 || doc.Entries[0].Title != "First" || doc.Entries[1].Title != "Second" {
		t.Fatalf("unexpected entries %+v", doc.Entries)
	}
}

func TestParseAtomHTMLTitle(t *testing.T) {
	t.Parallel()

	xml := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom</title>
  <link href="https://atom.example/"/>
  <updated>2026-01-01T00:00:00Z</updated>
  <entry>
    <title type="html">&lt;b&gt;Bold&lt;/b&gt;   news</title>
    <link href="https://atom.example/a"/>
    <id>a</id>
    <updated>2026-01-01T00:00:00Z</updated>
  </entry>
</feed>`

	result := feed.NewParser().Parse(strings.NewReader(xml))
	if result.Document == nil {
		t.Fatalf("expected parsed document, got err %v", result.Err)
	}

	entries := result.Document.Entries
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Title != "Bold news" {
		t.Fatalf("expected markup stripped, got %q", entries[0].Title)
	}
	if entries[0].Link != "https://atom.example/a" {
		t.Fatalf("unexpected link %q", entries[0].Link)
	}
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"", "not a feed at all", "<html><body>hello</body></html>"} {
		result := feed.NewParser().Parse(strings.NewReader(body))
		if !result.Malformed || result.Document != nil {
			t.Fatalf("expected malformed result for %q, got %+v", body, result)
		}
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":                          "",
		"  plain   title ":          "plain title",
		"<i>a</i><b>b</b>":          "a b",
		"Tom & Jerry":               "Tom & Jerry",
		"x<script>bad()</script>y":  "x y",
		"line\none":                 "line one",
		"<p>para</p><p>graph</p>  ": "para graph",
	}

	for in, want := range tests {
		if got := feed.PlainText(in); got != want {
			t.Fatalf("PlainText(%q) = %q, want %q", in, got, want)
		}
	}
}
