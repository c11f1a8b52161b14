package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"livemarks/internal/livemark"
	"livemarks/internal/store"
	"livemarks/internal/testutil"
)

type testApp struct {
	handler http.Handler
	service *livemark.Service
	store   *store.Store
}

func newTestApp(t *testing.T, fetcher livemark.Fetcher) *testApp {
	t.Helper()

	st := testutil.OpenTestStore(t)
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := livemark.NewService(context.Background(), livemark.Options{
		Bookmarks:   st,
		Annotations: st,
		Fetcher:     fetcher,
		Logger:      logger,
		Metrics:     livemark.NewMetrics(reg),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	return &testApp{
		handler: New(svc, logger, reg).Routes(),
		service: svc,
		store:   st,
	}
}

func (a *testApp) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}

	return out
}

func feedFixture() string {
	return testutil.RSSXML("Fixture", []testutil.RSSItem{
		{Title: "Alpha", Link: "http://example.com/alpha"},
		{Title: "Beta", Link: "http://example.com/beta"},
	})
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, testutil.StaticFetcher(http.StatusOK, feedFixture()))
	rec := app.do(t, http.MethodGet, "/healthz", nil)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}
}

func TestCreateListAndGet(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, testutil.StaticFetcher(http.StatusOK, feedFixture()))

	rec := app.do(t, http.MethodPost, "/livemarks", CreateRequest{
		Title:      "Example",
		FeedURI:    "https://feed.example/rss",
		SiteURI:    "https://feed.example/",
		FolderOnly: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[CreateResponse](t, rec)

	rec = app.do(t, http.MethodGet, "/livemarks", nil)
	list := decodeBody[ListResponse](t, rec)
	if len(list.Livemarks) != 1 || list.Livemarks[0].FolderID != created.FolderID {
		t.Fatalf("list = %+v", list)
	}

	rec = app.do(t, http.MethodGet, "/livemarks/"+strconv.FormatInt(created.FolderID, 10), nil)
	status := decodeBody[livemark.Status](t, rec)
	if status.Title != "Example" || status.SiteURI != "https://feed.example/" || status.FeedURI != "https://feed.example/rss" {
		t.Fatalf("status = %+v", status)
	}

	rec = app.do(t, http.MethodGet, "/livemarks/"+strconv.FormatInt(created.FolderID, 10)+"/children", nil)
	children := decodeBody[ChildrenResponse](t, rec)
	if len(children.Children) != 1 || children.Children[0].URI != livemark.PlaceholderURI {
		t.Fatalf("children = %+v", children)
	}
}

func TestCreateRejectsInvalidFeed(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, testutil.StaticFetcher(http.StatusOK, feedFixture()))

	rec := app.do(t, http.MethodPost, "/livemarks", CreateRequest{Title: "Bad", FeedURI: "ftp://feed.example/rss"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[ErrorResponse](t, rec); !strings.Contains(resp.Error, "invalid argument") {
		t.Fatalf("error = %q", resp.Error)
	}

	rec = app.do(t, http.MethodPost, "/livemarks", map[string]any{"feed_uri": "https://x.example", "bogus": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d", rec.Code)
	}
}

func TestUnknownLivemarkIsNotFound(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, testutil.StaticFetcher(http.StatusOK, feedFixture()))

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/livemarks/999"},
		{http.MethodDelete, "/livemarks/999"},
		{http.MethodGet, "/livemarks/999/children"},
		{http.MethodPost, "/livemarks/999/reload"},
		{http.MethodGet, "/livemarks/abc"},
	} {
		if rec := app.do(t, tc.method, tc.path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestReloadLoadsChildren(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, testutil.StaticFetcher(http.StatusOK, feedFixture()))
	ctx := context.Background()

	id, err := app.service.CreateLivemarkFolderOnly(ctx, store.RootFolderID, "Example", "", "https://feed.example/rss", store.DefaultIndex)
	if err != nil {
		t.Fatalf("CreateLivemarkFolderOnly: %v", err)
	}

	rec := app.do(t, http.MethodPost, "/livemarks/"+strconv.FormatInt(id, 10)+"/reload", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("reload = %d %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[ReloadResponse](t, rec); resp.Started != 1 {
		t.Fatalf("reload = %+v", resp)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := app.service.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !status.Loading && status.Children == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("livemark never loaded: %+v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = app.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "livemarks_load_sessions_total") {
		t.Fatalf("metrics missing session counter: %d", rec.Code)
	}
}

func TestSetFeedAndSite(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, testutil.StaticFetcher(http.StatusOK, feedFixture()))
	id, err := app.service.CreateLivemarkFolderOnly(context.Background(), store.RootFolderID, "Example", "", "https://feed.example/rss", store.DefaultIndex)
	if err != nil {
		t.Fatalf("CreateLivemarkFolderOnly: %v", err)
	}
	base := "/livemarks/" + strconv.FormatInt(id, 10)

	if rec := app.do(t, http.MethodPut, base+"/feed", URIRequest{URI: "https://moved.example/rss"}); rec.Code != http.StatusNoContent {
		t.Fatalf("set feed = %d %s", rec.Code, rec.Body.String())
	}
	if rec := app.do(t, http.MethodPut, base+"/site", URIRequest{URI: "https://moved.example/"}); rec.Code != http.StatusNoContent {
		t.Fatalf("set site = %d %s", rec.Code, rec.Body.String())
	}
	if rec := app.do(t, http.MethodPut, base+"/site", URIRequest{URI: "javascript:alert(1)"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("rejected site = %d", rec.Code)
	}

	status, err := app.service.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if status.FeedURI != "https://moved.example/rss" || status.SiteURI != "https://moved.example/" {
		t.Fatalf("status = %+v", status)
	}
}

func TestRemoveLivemark(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, testutil.StaticFetcher(http.StatusOK, feedFixture()))
	id, err := app.service.CreateLivemarkFolderOnly(context.Background(), store.RootFolderID, "Example", "", "https://feed.example/rss", store.DefaultIndex)
	if err != nil {
		t.Fatalf("CreateLivemarkFolderOnly: %v", err)
	}
	path := "/livemarks/" + strconv.FormatInt(id, 10)

	if rec := app.do(t, http.MethodDelete, path, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d %s", rec.Code, rec.Body.String())
	}
	if rec := app.do(t, http.MethodDelete, path, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d", rec.Code)
	}
	if _, err := app.store.Item(context.Background(), id); err == nil {
		t.Fatal("folder still present")
	}
}

func TestImportAndExportOPML(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, testutil.StaticFetcher(http.StatusOK, feedFixture()))

	doc := `<?xml version="1.0"?>
<opml version="2.0"><head><title>Subs</title></head><body>
  <outline text="Alpha" xmlUrl="https://alpha.example/feed" htmlUrl="https://alpha.example/" />
  <outline text="Broken" xmlUrl="not a url at all" />
</body></opml>`

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "subs.opml")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := io.WriteString(part, doc); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/opml/import", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("import = %d %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[ImportResponse](t, rec); len(resp.Imported) != 1 || resp.Skipped != 1 {
		t.Fatalf("import = %+v", resp)
	}

	rec = app.do(t, http.MethodGet, "/opml/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `xmlUrl="https://alpha.example/feed"`) || !strings.Contains(body, `htmlUrl="https://alpha.example/"`) {
		t.Fatalf("export body = %s", body)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, testutil.StaticFetcher(http.StatusOK, feedFixture()))

	req := httptest.NewRequest(http.MethodPost, "/opml/import", strings.NewReader("not xml"))
	req.Header.Set("Content-Type", "text/x-opml")
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("import garbage = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/opml/import?parent=x", strings.NewReader("<opml/>"))
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad parent = %d", rec.Code)
	}
}
