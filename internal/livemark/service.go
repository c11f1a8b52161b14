// Package livemark keeps bookmark folders in sync with the feeds they were
// created from. A Service tracks every livemark folder, decides when each is
// due, and runs at most one load session per folder at a time.
package livemark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"livemarks/internal/alarm"
	"livemarks/internal/feed"
	"livemarks/internal/idle"
	"livemarks/internal/security"
	"livemarks/internal/store"
)

const (
	// AnnoFeedURI holds the feed URL and marks a folder as a livemark.
	AnnoFeedURI = "livemark/feedURI"
	// AnnoSiteURI holds the optional site URL.
	AnnoSiteURI = "livemark/siteURI"
	// AnnoExpiration holds the next due time in epoch milliseconds.
	AnnoExpiration = "livemark/expiration"
	// AnnoLoadFailed is "true" while the last load ended in failure.
	AnnoLoadFailed = "livemark/loadfailed"

	// PlaceholderURI identifies the child shown while a load is running.
	PlaceholderURI = "about:livemark-loading"

	defaultLoadingTitle = "Live Bookmark loading..."
)

// BookmarkStore is the slice of the bookmark tree the service mutates.
type BookmarkStore interface {
	CreateFolder(ctx context.Context, parentID int64, title string, index int) (int64, error)
	InsertBookmark(ctx context.Context, folderID int64, uri string, index int, title string) (int64, error)
	SetFolderReadonly(ctx context.Context, folderID int64, readonly bool) error
	RemoveItem(ctx context.Context, itemID int64) error
	RemoveFolderChildren(ctx context.Context, folderID int64) error
	Item(ctx context.Context, itemID int64) (store.Item, error)
	Children(ctx context.Context, folderID int64) ([]store.Item, error)
	RunInBatch(ctx context.Context, fn func(context.Context) error) error
	Subscribe(fn store.Observer) *store.Subscription
}

// AnnotationStore holds per-item metadata.
type AnnotationStore interface {
	Annotation(ctx context.Context, itemID int64, name string) (string, error)
	SetAnnotation(ctx context.Context, itemID int64, name, value string) error
	RemoveAnnotation(ctx context.Context, itemID int64, name string) error
	HasAnnotation(ctx context.Context, itemID int64, name string) (bool, error)
	ItemsWithAnnotation(ctx context.Context, name string) ([]int64, error)
}

// Fetcher opens a feed stream.
type Fetcher interface {
	Open(ctx context.Context, feedURI string) (*feed.Response, error)
}

// Parser turns a feed stream into entries.
type Parser interface {
	Parse(r io.Reader) feed.Result
}

// LoadPolicy vets URIs found in a feed against the feed's own URI.
type LoadPolicy interface {
	CheckLoadURI(source, target string) error
}

// Options configures a Service. Bookmarks, Annotations, and Fetcher are
// required; everything else has a default.
type Options struct {
	Bookmarks    BookmarkStore
	Annotations  AnnotationStore
	Fetcher      Fetcher
	Parser       Parser
	Policy       LoadPolicy
	Idle         idle.Sensor
	Clock        clock.Clock
	Logger       *slog.Logger
	Metrics      *Metrics
	LoadingTitle string
	DefaultTTL   time.Duration
}

// Service owns the livemark registry and the refresh schedule.
type Service struct {
	bookmarks   BookmarkStore
	annotations AnnotationStore
	fetcher     Fetcher
	parser      Parser
	policy      LoadPolicy
	idle        idle.Sensor
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *Metrics

	baseCtx    context.Context
	baseCancel context.CancelFunc
	sub        *store.Subscription
	alarm      *alarm.Alarm
	registry   *Registry

	loadingTitle    string
	defaultTTL      time.Duration
	refreshInterval time.Duration

	sessions sync.WaitGroup
	mu       sync.Mutex
	started  bool
	closed   bool
}

// NewService subscribes to tree changes and registers every folder that
// already carries a feed URI annotation. No load starts until Start or an
// explicit refresh.
func NewService(ctx context.Context, opts Options) (*Service, error) {
	if opts.Bookmarks == nil || opts.Annotations == nil || opts.Fetcher == nil {
		return nil, errors.New("livemark service requires bookmarks, annotations, and a fetcher")
	}

	s := &Service{
		bookmarks:    opts.Bookmarks,
		annotations:  opts.Annotations,
		fetcher:      opts.Fetcher,
		parser:       opts.Parser,
		policy:       opts.Policy,
		idle:         opts.Idle,
		clock:        opts.Clock,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		registry:     NewRegistry(),
		loadingTitle: opts.LoadingTitle,
		defaultTTL:   DefaultTTL(opts.DefaultTTL),
	}

	if s.parser == nil {
		s.parser = feed.NewParser()
	}
	if s.policy == nil {
		s.policy = security.NewPolicy()
	}
	if s.idle == nil {
		s.idle = idle.Never{}
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.loadingTitle == "" {
		s.loadingTitle = defaultLoadingTitle
	}

	s.logger = s.logger.With("component", "livemark")
	s.refreshInterval = RefreshInterval(s.defaultTTL)
	s.baseCtx, s.baseCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.sub = s.bookmarks.Subscribe(s.handleChange)

	if err := s.loadRegistry(ctx); err != nil {
		s.sub.Close()
		s.baseCancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) loadRegistry(ctx context.Context) error {
	ids, err := s.annotations.ItemsWithAnnotation(ctx, AnnoFeedURI)
	if err != nil {
		return fmt.Errorf("scan livemarks: %w", err)
	}

	for _, id := range ids {
		feedURI, err := s.annotations.Annotation(ctx, id, AnnoFeedURI)
		if err != nil {
			return fmt.Errorf("read feed uri for folder %d: %w", id, err)
		}

		s.mu.Lock()
		_, err = s.registry.Add(id, feedURI)
		s.mu.Unlock()

		if err != nil && !errors.Is(err, ErrDuplicateLivemark) {
			return err
		}
	}

	s.mu.Lock()
	count := s.registry.Len()
	s.mu.Unlock()

	s.metrics.registered(count)
	s.logger.Info("livemarks registered", "count", count)

	return nil
}

// RefreshInterval is the period between scheduled sweeps.
func (s *Service) RefreshInterval() time.Duration {
	return s.refreshInterval
}

// DefaultTTL is the lifetime given to a successful load without a longer
// cache lifetime.
func (s *Service) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Start runs a sweep immediately and then every RefreshInterval until
// Shutdown. Calling it again has no effect.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.Sweep(ctx, false)

	a := alarm.New(s.clock, s.refreshInterval, alarm.Repeat(), func() {
		s.Sweep(s.baseCtx, false)
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		a.Cancel()
		return
	}
	s.alarm = a
	s.mu.Unlock()

	s.logger.Info("livemark refresh scheduled", "interval", s.refreshInterval.String())
}

// Shutdown stops the schedule, cancels every in-flight load, and waits for
// their sessions to release. It is idempotent.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	a := s.alarm
	s.alarm = nil

	var cancels []func()
	for _, rec := range s.registry.Records() {
		if rec.cancel != nil {
			cancels = append(cancels, rec.cancel)
		}
	}
	s.mu.Unlock()

	if a != nil {
		a.Cancel()
	}
	s.sub.Close()

	for _, cancel := range cancels {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	defer s.baseCancel()

	select {
	case <-done:
		s.logger.Info("livemark service stopped", "cancelled", len(cancels))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for load sessions: %w", ctx.Err())
	}
}

// Sweep visits every record and starts a load for each one that is due. With
// force, staleness and idleness are ignored; a locked record is always
// skipped. It returns the number of loads started.
func (s *Service) Sweep(ctx context.Context, force bool) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	records := s.registry.Records()
	s.mu.Unlock()

	s.metrics.sweep(force)

	g := &gate{svc: s, force: force}
	started := 0

	for _, rec := range records {
		if s.tryStart(ctx, rec, g) {
			started++
		}
	}

	s.logger.Debug("livemark sweep finished", "records", len(records), "started", started, "forced", force)

	return started
}

// RefreshOne applies the sweep rules to a single livemark.
func (s *Service) RefreshOne(ctx context.Context, folderID int64, force bool) (bool, error) {
	s.mu.Lock()
	rec, err := s.registry.Find(folderID)
	s.mu.Unlock()

	if err != nil {
		return false, err
	}

	return s.tryStart(ctx, rec, &gate{svc: s, force: force}), nil
}

// gate evaluates the idle check at most once per sweep.
type gate struct {
	svc     *Service
	force   bool
	checked bool
	isIdle  bool
}

func (g *gate) idle() bool {
	if g.checked {
		return g.isIdle
	}
	g.checked = true

	d, err := g.svc.idle.IdleDuration()
	if err != nil {
		g.svc.logger.Debug("idle time unavailable", "err", err)
		return false
	}

	g.isIdle = d > IdleTimeLimit

	return g.isIdle
}

func (s *Service) tryStart(ctx context.Context, rec *Record, g *gate) bool {
	if s.isLocked(rec) {
		s.metrics.skip("locked")
		return false
	}

	if !g.force {
		expireAt, ok := s.expiration(ctx, rec.FolderID)
		if ok && s.clock.Now().Before(expireAt) {
			s.metrics.skip("fresh")
			return false
		}

		// A livemark without a usable expiration loads even for an idle user.
		if ok && g.idle() {
			s.metrics.skip("idle")
			return false
		}
	}

	return s.begin(rec)
}

// expiration reads the stored expiration. A missing or unreadable value
// means the record is due.
func (s *Service) expiration(ctx context.Context, folderID int64) (time.Time, bool) {
	raw, err := s.annotations.Annotation(ctx, folderID, AnnoExpiration)
	if err != nil {
		if !errors.Is(err, store.ErrAnnotationNotFound) {
			s.logger.Warn("read livemark expiration", "folder_id", folderID, "err", err)
		}
		return time.Time{}, false
	}

	at, err := parseExpiration(raw)
	if err != nil {
		s.logger.Warn("invalid livemark expiration", "folder_id", folderID, "value", raw, "err", err)
		return time.Time{}, false
	}

	return at, true
}

func (s *Service) isLocked(rec *Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return rec.locked
}

// begin acquires the record lock and hands the record to a new session.
func (s *Service) begin(rec *Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || rec.locked || !s.registry.contains(rec) {
		return false
	}

	ls := s.newSession(rec)
	rec.locked = true
	rec.cancel = ls.cancel
	rec.session = ls

	s.sessions.Add(1)
	s.metrics.sessionStarted()

	go s.runSession(ls)

	return true
}

func (s *Service) runSession(ls *loadSession) {
	defer s.sessions.Done()
	defer s.release(ls)

	ls.logger.Debug("livemark load started")

	state := ls.run()
	ls.setState(state)
}

// release clears the lock taken in begin. It runs exactly once per session.
func (s *Service) release(ls *loadSession) {
	s.mu.Lock()
	if ls.rec.session == ls {
		ls.rec.locked = false
		ls.rec.cancel = nil
		ls.rec.session = nil
		ls.rec.placeholderID = NoPlaceholder
	}
	s.mu.Unlock()

	ls.cancelCtx()

	state := ls.currentState()
	elapsed := s.clock.Since(ls.started)
	s.metrics.sessionFinished(state, elapsed.Seconds())
	ls.logger.Debug("livemark load finished", "state", state.String(), "duration_ms", elapsed.Milliseconds())
}

// tracks reports whether rec is still the registered record for its folder.
func (s *Service) tracks(rec *Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.registry.contains(rec)
}

func (s *Service) setPlaceholder(rec *Record, id int64) {
	s.mu.Lock()
	rec.placeholderID = id
	s.mu.Unlock()
}

// handleChange drops the record of a removed livemark folder, cancelling its
// load. It runs on the goroutine that committed the removal.
func (s *Service) handleChange(ev store.Event) {
	if ev.Kind != store.ItemRemoved || ev.ItemKind != store.KindFolder {
		return
	}

	s.mu.Lock()
	rec := s.registry.Remove(ev.ID)
	count := s.registry.Len()
	s.mu.Unlock()

	if rec == nil {
		return
	}

	s.metrics.registered(count)
	s.logger.Info("livemark removed", "folder_id", ev.ID, "feed_uri", rec.FeedURI)
}
