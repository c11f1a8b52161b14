// Package server exposes the livemark service as a small JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livemarks/internal/livemark"
	"livemarks/internal/opml"
	"livemarks/internal/store"
)

const (
	maxOPMLUploadBytes int64 = 2 << 20
	maxJSONBodyBytes   int64 = 64 << 10
	opmlExportTitle          = "Livemarks"
)

// Livemarks is the service surface the API drives.
type Livemarks interface {
	List(ctx context.Context) ([]livemark.Status, error)
	Get(ctx context.Context, folderID int64) (livemark.Status, error)
	Children(ctx context.Context, folderID int64) ([]store.Item, error)
	CreateLivemark(ctx context.Context, parentID int64, name, siteURI, feedURI string, index int) (int64, error)
	CreateLivemarkFolderOnly(ctx context.Context, parentID int64, name, siteURI, feedURI string, index int) (int64, error)
	RemoveLivemark(ctx context.Context, folderID int64) error
	ReloadAllLivemarks(ctx context.Context) int
	ReloadLivemarkFolder(ctx context.Context, folderID int64) (bool, error)
	SetFeedURI(ctx context.Context, folderID int64, feedURI string) error
	SetSiteURI(ctx context.Context, folderID int64, siteURI string) error
	ImportOPML(ctx context.Context, parentID int64, subscriptions []opml.Subscription) (livemark.ImportResult, error)
	ExportOPML(ctx context.Context) ([]opml.Subscription, error)
}

// App wires handlers to the livemark service.
type App struct {
	livemarks Livemarks
	metrics   http.Handler
	logger    *slog.Logger
}

// New builds an App. A nil gatherer disables /metrics.
func New(livemarks Livemarks, logger *slog.Logger, gatherer prometheus.Gatherer) *App {
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{
		livemarks: livemarks,
		logger:    logger.With("component", "server"),
	}

	if gatherer != nil {
		app.metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	return app
}

// Routes returns the fully configured HTTP handler.
func (a *App) Routes() http.Handler {
	mux := http.NewServeMux()
	a.registerCoreRoutes(mux)
	a.registerLivemarkRoutes(mux)

	return a.wrapRoutes(mux)
}

func (a *App) registerCoreRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /opml/export", a.handleExportOPML)
	mux.HandleFunc("POST /opml/import", a.handleImportOPML)

	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}
}

func (a *App) registerLivemarkRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /livemarks", a.handleList)
	mux.HandleFunc("POST /livemarks", a.handleCreate)
	mux.HandleFunc("POST /livemarks/reload", a.handleReloadAll)
	mux.HandleFunc("GET /livemarks/{folderID}", a.handleGet)
	mux.HandleFunc("DELETE /livemarks/{folderID}", a.handleRemove)
	mux.HandleFunc("GET /livemarks/{folderID}/children", a.handleChildren)
	mux.HandleFunc("POST /livemarks/{folderID}/reload", a.handleReload)
	mux.HandleFunc("PUT /livemarks/{folderID}/feed", a.handleSetFeed)
	mux.HandleFunc("PUT /livemarks/{folderID}/site", a.handleSetSite)
}

func (a *App) wrapRoutes(handler http.Handler) http.Handler {
	handler = a.withAccessLog(handler)
	handler = a.withSecurityHeaders(handler)
	handler = a.withRequestID(handler)

	return handler
}

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	_, err := w.Write([]byte("ok"))
	if err != nil {
		a.logger.Warn("write healthz response failed", "err", err)
	}
}

func (a *App) handleList(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.livemarks.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, ListResponse{Livemarks: statuses})
}

func (a *App) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	parentID := req.ParentID
	if parentID == 0 {
		parentID = store.RootFolderID
	}

	index := store.DefaultIndex
	if req.Index != nil {
		index = *req.Index
	}

	create := a.livemarks.CreateLivemark
	if req.FolderOnly {
		create = a.livemarks.CreateLivemarkFolderOnly
	}

	folderID, err := create(r.Context(), parentID, req.Title, req.SiteURI, req.FeedURI, index)
	if err != nil {
		a.writeError(w, r, err)

		return
	}

	a.logger.Info("livemark added", "folder_id", folderID, "feed_uri", req.FeedURI, "request_id", requestID(r.Context()))
	writeJSON(w, http.StatusCreated, CreateResponse{FolderID: folderID})
}

func (a *App) handleGet(w http.ResponseWriter, r *http.Request) {
	folderID, ok := parsePathInt64(r, "folderID")
	if !ok {
		http.NotFound(w, r)

		return
	}

	status, err := a.livemarks.Get(r.Context(), folderID)
	if err != nil {
		a.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (a *App) handleRemove(w http.ResponseWriter, r *http.Request) {
	folderID, ok := parsePathInt64(r, "folderID")
	if !ok {
		http.NotFound(w, r)

		return
	}

	if err := a.livemarks.RemoveLivemark(r.Context(), folderID); err != nil {
		a.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleChildren(w http.ResponseWriter, r *http.Request) {
	folderID, ok := parsePathInt64(r, "folderID")
	if !ok {
		http.NotFound(w, r)

		return
	}

	items, err := a.livemarks.Children(r.Context(), folderID)
	if err != nil {
		a.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, ChildrenResponse{Children: childrenFromItems(items)})
}

func (a *App) handleReload(w http.ResponseWriter, r *http.Request) {
	folderID, ok := parsePathInt64(r, "folderID")
	if !ok {
		http.NotFound(w, r)

		return
	}

	started, err := a.livemarks.ReloadLivemarkFolder(r.Context(), folderID)
	if err != nil {
		a.writeError(w, r, err)

		return
	}

	resp := ReloadResponse{}
	if started {
		resp.Started = 1
	}

	writeJSON(w, http.StatusAccepted, resp)
}

func (a *App) handleReloadAll(w http.ResponseWriter, r *http.Request) {
	started := a.livemarks.ReloadAllLivemarks(r.Context())

	writeJSON(w, http.StatusAccepted, ReloadResponse{Started: started})
}

func (a *App) handleSetFeed(w http.ResponseWriter, r *http.Request) {
	a.handleSetURI(w, r, a.livemarks.SetFeedURI)
}

func (a *App) handleSetSite(w http.ResponseWriter, r *http.Request) {
	a.handleSetURI(w, r, a.livemarks.SetSiteURI)
}

func (a *App) handleSetURI(
	w http.ResponseWriter,
	r *http.Request,
	set func(context.Context, int64, string) error,
) {
	folderID, ok := parsePathInt64(r, "folderID")
	if !ok {
		http.NotFound(w, r)

		return
	}

	var req URIRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	if err := set(r.Context(), folderID, req.URI); err != nil {
		a.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	subscriptions, err := a.livemarks.ExportOPML(r.Context())
	if err != nil {
		a.writeError(w, r, err)

		return
	}

	filename := "livemarks-" + time.Now().UTC().Format("20060102") + ".opml"

	w.Header().Set("Content-Type", "text/x-opml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	err = opml.Write(w, opmlExportTitle, subscriptions)
	if err != nil {
		a.logger.Warn("export opml failed", "err", err)
	}
}

func (a *App) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	parentID := store.RootFolderID

	if raw := strings.TrimSpace(r.URL.Query().Get("parent")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid parent"})

			return
		}
		parentID = parsed
	}

	subscriptions, err := parseOPMLUpload(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})

		return
	}

	result, err := a.livemarks.ImportOPML(r.Context(), parentID, subscriptions)
	if err != nil {
		a.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, ImportResponse{Imported: result.Imported, Skipped: result.Skipped})
}

// parseOPMLUpload accepts either a multipart form with a "file" field or the
// raw document as the request body.
func parseOPMLUpload(w http.ResponseWriter, r *http.Request) ([]opml.Subscription, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxOPMLUploadBytes)

	var body io.Reader = r.Body

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxOPMLUploadBytes); err != nil {
			return nil, errors.New("invalid OPML upload")
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New("missing OPML file")
		}
		defer file.Close()

		body = file
	}

	subscriptions, err := opml.Parse(body)
	if err != nil {
		return nil, errors.New("invalid OPML file")
	}

	return subscriptions, nil
}

func (a *App) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})

		return false
	}

	return true
}

func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, livemark.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, livemark.ErrNotFound):
		status = http.StatusNotFound
	default:
		a.logger.Error("request failed", "path", r.URL.Path, "err", err, "request_id", requestID(r.Context()))
	}

	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		slog.Warn("write json response failed", "err", err)
	}
}

func parsePathInt64(r *http.Request, key string) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue(key))
	if raw == "" {
		return 0, false
	}

	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}

	return parsed, true
}
