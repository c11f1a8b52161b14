// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"livemarks/internal/feed"
	"livemarks/internal/store"
)

// FeedServer serves a mutable feed document over HTTP.
type FeedServer struct {
	header   http.Header
	requests []*http.Request
	feedXML  string
	status   int
	mu       sync.RWMutex
}

// NewFeedServer starts an httptest server that answers every path with
// feedXML. It returns the server and the feed URL.
func NewFeedServer(t *testing.T, feedXML string) (*FeedServer, string) {
	t.Helper()
	fs := &FeedServer{feedXML: feedXML, status: http.StatusOK, header: http.Header{}}
	srv := httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(srv.Close)
	return fs, srv.URL + "/" + strings.ReplaceAll(t.Name(), "/", "_") + ".xml"
}

func (f *FeedServer) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(context.Background()))
	f.mu.Unlock()

	f.mu.RLock()
	defer f.mu.RUnlock()
	for key, values := range f.header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("Content-Type", "application/rss+xml")
	w.WriteHeader(f.status)
	_, _ = io.WriteString(w, f.feedXML)
}

// SetFeedXML replaces the served document.
func (f *FeedServer) SetFeedXML(xml string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedXML = xml
}

// SetStatus changes the response status code.
func (f *FeedServer) SetStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

// SetHeader sets a response header.
func (f *FeedServer) SetHeader(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.header.Set(key, value)
}

// Requests returns the requests received so far.
func (f *FeedServer) Requests() []*http.Request {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]*http.Request(nil), f.requests...)
}

type RSSItem struct {
	Title       string
	Link        string
	GUID        string
	PubDate     string
	Description string
}

func RSSXML(title string, items []RSSItem) string {
	return RSSXMLWithLink(title, "http://example.com", items)
}

// RSSXMLWithLink is RSSXML with an explicit channel link.
func RSSXMLWithLink(title, link string, items []RSSItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("<rss version=\"2.0\"><channel>")
	b.WriteString(fmt.Sprintf("<title>%s</title>", title))
	b.WriteString(fmt.Sprintf("<link>%s</link>", link))
	b.WriteString("<description>Test feed</description>")
	for _, item := range items {
		b.WriteString("<item>")
		b.WriteString(fmt.Sprintf("<title>%s</title>", item.Title))
		b.WriteString(fmt.Sprintf("<link>%s</link>", item.Link))
		b.WriteString(fmt.Sprintf("<guid>%s</guid>", item.GUID))
		b.WriteString(fmt.Sprintf("<pubDate>%s</pubDate>", item.PubDate))
		b.WriteString(fmt.Sprintf("<description><![CDATA[%s]]></description>", item.Description))
		b.WriteString("</item>")
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

// OpenTestStore opens an initialized store under t.TempDir.
func OpenTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := store.Init(db); err != nil {
		_ = db.Close()
		t.Fatalf("store.Init: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return store.New(db)
}

// FetchFunc adapts a function to the fetcher interface used by livemarks.
type FetchFunc func(ctx context.Context, feedURI string) (*feed.Response, error)

// Open calls f.
func (f FetchFunc) Open(ctx context.Context, feedURI string) (*feed.Response, error) {
	return f(ctx, feedURI)
}

// StaticFetcher answers every Open with the same status and body.
func StaticFetcher(status int, body string) FetchFunc {
	return func(ctx context.Context, feedURI string) (*feed.Response, error) {
		return &feed.Response{
			Body:       io.NopCloser(strings.NewReader(body)),
			URL:        feedURI,
			StatusCode: status,
		}, nil
	}
}

// BlockingFetcher returns responses whose body blocks until the request
// context ends. Each Open is announced on Opened.
type BlockingFetcher struct {
	Opened   chan string
	Canceled chan string
}

// NewBlockingFetcher creates a fetcher with buffered notification channels.
func NewBlockingFetcher() *BlockingFetcher {
	return &BlockingFetcher{
		Opened:   make(chan string, 16),
		Canceled: make(chan string, 16),
	}
}

// Open is part of the fetcher interface.
func (b *BlockingFetcher) Open(ctx context.Context, feedURI string) (*feed.Response, error) {
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		b.Canceled <- feedURI
		_ = pw.CloseWithError(ctx.Err())
	}()
	b.Opened <- feedURI
	return &feed.Response{Body: pr, URL: feedURI, StatusCode: http.StatusOK}, nil
}
