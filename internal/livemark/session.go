package livemark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"livemarks/internal/feed"
	"livemarks/internal/store"
)

// State is the phase of a load session.
type State int

const (
	StateOpening State = iota
	StateStreaming
	StateCommitting
	StateDone
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateCommitting:
		return "committing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateAborted
}

var errSessionAborted = errors.New("load session aborted")

// loadSession drives one fetch-parse-commit cycle for a locked record. All
// tree writes after a terminal transition use a context detached from the
// session so that cancellation cannot interrupt cleanup.
type loadSession struct {
	started       time.Time
	ctx           context.Context
	svc           *Service
	rec           *Record
	logger        *slog.Logger
	cancelCtx     context.CancelFunc
	id            string
	feedURI       string
	folderID      int64
	placeholderID int64
	state         atomic.Int32
	aborted       atomic.Bool
}

func (s *Service) newSession(rec *Record) *loadSession {
	ctx, cancel := context.WithCancel(s.baseCtx)
	id := uuid.NewString()

	return &loadSession{
		started:   s.clock.Now(),
		ctx:       ctx,
		svc:       s,
		rec:       rec,
		cancelCtx: cancel,
		id:        id,
		feedURI:   rec.FeedURI,
		folderID:  rec.FolderID,
		logger: s.logger.With(
			"session_id", id,
			"folder_id", rec.FolderID,
			"feed_uri", rec.FeedURI,
		),
		placeholderID: rec.placeholderID,
	}
}

// cancel aborts the session. Only the first call has an effect.
func (ls *loadSession) cancel() {
	if !ls.aborted.CompareAndSwap(false, true) {
		return
	}

	ls.svc.metrics.cancellation()
	ls.cancelCtx()
}

func (ls *loadSession) isAborted() bool {
	return ls.aborted.Load() || ls.ctx.Err() != nil
}

// setState moves the session forward. A terminal state is final.
func (ls *loadSession) setState(state State) {
	for {
		prev := State(ls.state.Load())
		if prev.Terminal() {
			if prev != state {
				ls.logger.Debug("load session already finished", "state", prev.String(), "ignored", state.String())
			}
			return
		}
		if ls.state.CompareAndSwap(int32(prev), int32(state)) {
			ls.logger.Debug("load session state", "from", prev.String(), "to", state.String())
			return
		}
	}
}

func (ls *loadSession) currentState() State {
	return State(ls.state.Load())
}

func (ls *loadSession) run() State {
	if err := ls.adoptOrInsertPlaceholder(); err != nil {
		if ls.isAborted() {
			return ls.abort()
		}

		return ls.fail("placeholder", err)
	}

	resp, err := ls.svc.fetcher.Open(ls.ctx, ls.feedURI)
	if err != nil {
		if ls.isAborted() {
			return ls.abort()
		}

		return ls.fail("open", err)
	}
	defer closeBody(ls.logger, resp.Body)

	ls.setState(StateStreaming)

	if !resp.OK() {
		return ls.fail("status", fmt.Errorf("feed returned status %d", resp.StatusCode))
	}

	stream := &streamReader{ls: ls, r: resp.Body}
	result := ls.svc.parser.Parse(stream)

	if ls.isAborted() {
		return ls.abort()
	}

	if stream.err != nil {
		return ls.fail("transport", stream.err)
	}

	if result.Document == nil || result.Malformed {
		err := result.Err
		if err == nil {
			err = errors.New("feed is malformed")
		}

		return ls.fail("malformed", err)
	}

	ls.setState(StateCommitting)

	inserted, rejected, err := ls.commit(result.Document)
	if err != nil {
		if ls.isAborted() {
			return ls.abort()
		}

		return ls.fail("commit", err)
	}

	now := ls.svc.clock.Now()
	ttl := NextTTL(resp.CacheExpiry, now, ls.svc.defaultTTL)
	ls.writeExpiration(context.WithoutCancel(ls.ctx), now.Add(ttl))

	ls.svc.metrics.committed(inserted, rejected)
	ls.logger.Info(
		"livemark refreshed",
		"entries", inserted,
		"rejected", rejected,
		"bytes", stream.n,
		"ttl_ms", ttl.Milliseconds(),
	)

	return StateDone
}

// adoptOrInsertPlaceholder reuses a placeholder left behind by an earlier
// session before inserting a new one at the head of the folder.
func (ls *loadSession) adoptOrInsertPlaceholder() error {
	if ls.placeholderID != NoPlaceholder {
		return nil
	}

	children, err := ls.svc.bookmarks.Children(ls.ctx, ls.folderID)
	if err != nil {
		return fmt.Errorf("list livemark children: %w", err)
	}

	for _, child := range children {
		if child.Kind == store.KindBookmark && child.URI == PlaceholderURI {
			ls.setPlaceholder(child.ID)
			return nil
		}
	}

	id, err := ls.svc.bookmarks.InsertBookmark(ls.ctx, ls.folderID, PlaceholderURI, 0, ls.svc.loadingTitle)
	if err != nil {
		return fmt.Errorf("insert loading placeholder: %w", err)
	}

	ls.setPlaceholder(id)

	return nil
}

// commit replaces the folder's children with the parsed entries in a single
// batch. The placeholder goes with the old children.
func (ls *loadSession) commit(doc *feed.Document) (int, int, error) {
	bookmarks := ls.svc.bookmarks
	annotations := ls.svc.annotations

	var inserted, rejected int

	err := bookmarks.RunInBatch(ls.ctx, func(ctx context.Context) error {
		inserted, rejected = 0, 0

		if err := annotations.RemoveAnnotation(ctx, ls.folderID, AnnoLoadFailed); err != nil {
			return fmt.Errorf("clear load failure: %w", err)
		}

		if err := bookmarks.RemoveFolderChildren(ctx, ls.folderID); err != nil {
			return fmt.Errorf("clear livemark children: %w", err)
		}

		if err := ls.updateSiteURI(ctx, doc.SiteLink); err != nil {
			return err
		}

		for _, entry := range doc.Entries {
			link, ok := ls.acceptEntry(entry)
			if !ok {
				rejected++
				continue
			}

			if _, err := bookmarks.InsertBookmark(ctx, ls.folderID, link, store.DefaultIndex, entry.Title); err != nil {
				return fmt.Errorf("insert feed entry: %w", err)
			}
			inserted++
		}

		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	ls.setPlaceholder(NoPlaceholder)

	return inserted, rejected, nil
}

func (ls *loadSession) acceptEntry(entry feed.Entry) (string, bool) {
	if entry.Link == "" || entry.Title == "" {
		return "", false
	}

	link, err := feed.Resolve(ls.feedURI, entry.Link)
	if err != nil {
		ls.logger.Debug("entry link unusable", "link", entry.Link, "err", err)
		return "", false
	}

	if err := ls.svc.policy.CheckLoadURI(ls.feedURI, link); err != nil {
		ls.logger.Debug("entry link rejected", "link", link, "err", err)
		return "", false
	}

	return link, true
}

func (ls *loadSession) updateSiteURI(ctx context.Context, siteLink string) error {
	if siteLink == "" {
		return nil
	}

	site, err := ls.svc.checkSiteURI(ls.feedURI, siteLink)
	if err != nil {
		ls.logger.Debug("site link rejected", "link", siteLink, "err", err)
		return nil
	}

	current, err := ls.svc.annotations.Annotation(ctx, ls.folderID, AnnoSiteURI)
	switch {
	case err == nil && current == site:
		return nil
	case err != nil && !errors.Is(err, store.ErrAnnotationNotFound):
		return fmt.Errorf("read site uri: %w", err)
	}

	if err := ls.svc.annotations.SetAnnotation(ctx, ls.folderID, AnnoSiteURI, site); err != nil {
		return fmt.Errorf("update site uri: %w", err)
	}

	return nil
}

// fail records the load failure and schedules a retry after ErrorExpiration.
func (ls *loadSession) fail(stage string, cause error) State {
	ls.logger.Warn("livemark load failed", "stage", stage, "err", cause)

	if !ls.svc.tracks(ls.rec) {
		return StateFailed
	}

	ctx := context.WithoutCancel(ls.ctx)
	ls.removePlaceholder(ctx)
	ls.markLoadFailed(ctx)
	ls.writeExpiration(ctx, ls.svc.clock.Now().Add(ErrorExpiration))

	return StateFailed
}

// abort cleans up after cancellation. A folder that is no longer registered
// is left untouched.
func (ls *loadSession) abort() State {
	if !ls.svc.tracks(ls.rec) {
		ls.logger.Debug("livemark load aborted after removal")
		return StateAborted
	}

	ls.logger.Info("livemark load aborted")

	ctx := context.WithoutCancel(ls.ctx)
	ls.removePlaceholder(ctx)
	ls.markLoadFailed(ctx)

	return StateAborted
}

func (ls *loadSession) removePlaceholder(ctx context.Context) {
	if ls.placeholderID == NoPlaceholder {
		return
	}

	err := ls.svc.bookmarks.RemoveItem(ctx, ls.placeholderID)
	if err != nil && !errors.Is(err, store.ErrItemNotFound) {
		ls.logger.Warn("remove loading placeholder failed", "item_id", ls.placeholderID, "err", err)
		return
	}

	ls.setPlaceholder(NoPlaceholder)
}

func (ls *loadSession) markLoadFailed(ctx context.Context) {
	if err := ls.svc.annotations.SetAnnotation(ctx, ls.folderID, AnnoLoadFailed, "true"); err != nil {
		ls.logger.Warn("mark load failed", "err", err)
	}
}

func (ls *loadSession) writeExpiration(ctx context.Context, at time.Time) {
	if err := ls.svc.annotations.SetAnnotation(ctx, ls.folderID, AnnoExpiration, formatExpiration(at)); err != nil {
		ls.logger.Warn("write expiration failed", "err", err)
	}
}

func (ls *loadSession) setPlaceholder(id int64) {
	ls.placeholderID = id
	ls.svc.setPlaceholder(ls.rec, id)
}

// streamReader reports cancellation to the parser and remembers read errors
// so a broken transport is not mistaken for a malformed document.
type streamReader struct {
	ls  *loadSession
	r   io.Reader
	err error
	n   int64
}

func (s *streamReader) Read(p []byte) (int, error) {
	if s.ls.isAborted() {
		s.err = errSessionAborted
		return 0, errSessionAborted
	}

	n, err := s.r.Read(p)
	s.n += int64(n)

	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}

	return n, err
}

func closeBody(logger *slog.Logger, body io.Closer) {
	if body == nil {
		return
	}

	if err := body.Close(); err != nil {
		logger.Debug("close feed body", "err", err)
	}
}
