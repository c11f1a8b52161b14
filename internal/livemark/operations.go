package livemark

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"livemarks/internal/feed"
	"livemarks/internal/opml"
	"livemarks/internal/store"
)

// Status is a read-only view of one livemark.
type Status struct {
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	Title      string    `json:"title"`
	FeedURI    string    `json:"feed_uri"`
	SiteURI    string    `json:"site_uri,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	FolderID   int64     `json:"folder_id"`
	ParentID   int64     `json:"parent_id"`
	Children   int       `json:"children"`
	LoadFailed bool      `json:"load_failed"`
	Loading    bool      `json:"loading"`
}

// ImportResult counts the outcome of an OPML import.
type ImportResult struct {
	Imported []int64 `json:"imported"`
	Skipped  int     `json:"skipped"`
}

// IsLivemark reports whether the item carries a feed URI annotation.
func (s *Service) IsLivemark(ctx context.Context, itemID int64) bool {
	ok, err := s.annotations.HasAnnotation(ctx, itemID, AnnoFeedURI)
	if err != nil {
		s.logger.Warn("check livemark annotation", "item_id", itemID, "err", err)
		return false
	}

	return ok
}

// CreateLivemark creates a livemark folder under parentID and starts its
// first load.
func (s *Service) CreateLivemark(ctx context.Context, parentID int64, name, siteURI, feedURI string, index int) (int64, error) {
	folderID, err := s.createLivemark(ctx, parentID, name, siteURI, feedURI, index, false)
	if err != nil {
		return 0, err
	}

	if _, err := s.RefreshOne(ctx, folderID, false); err != nil {
		s.logger.Warn("initial livemark load", "folder_id", folderID, "err", err)
	}

	return folderID, nil
}

// CreateLivemarkFolderOnly creates a livemark folder holding only the loading
// placeholder. The first scheduled sweep fills it in.
func (s *Service) CreateLivemarkFolderOnly(ctx context.Context, parentID int64, name, siteURI, feedURI string, index int) (int64, error) {
	return s.createLivemark(ctx, parentID, name, siteURI, feedURI, index, true)
}

func (s *Service) createLivemark(
	ctx context.Context,
	parentID int64,
	name, siteURI, feedURI string,
	index int,
	folderOnly bool,
) (int64, error) {
	normalized, err := feed.NormalizeURL(feedURI)
	if err != nil {
		return 0, fmt.Errorf("%w: feed uri: %v", ErrInvalidArgument, err)
	}

	if s.IsLivemark(ctx, parentID) {
		return 0, fmt.Errorf("%w: folder %d is a livemark", ErrInvalidArgument, parentID)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = normalized
	}

	site := ""
	if strings.TrimSpace(siteURI) != "" {
		site, err = s.checkSiteURI(normalized, siteURI)
		if err != nil {
			s.logger.Warn("site uri ignored", "site_uri", siteURI, "feed_uri", normalized, "err", err)
			site = ""
		}
	}

	var folderID int64

	err = s.bookmarks.RunInBatch(ctx, func(ctx context.Context) error {
		id, err := s.bookmarks.CreateFolder(ctx, parentID, name, index)
		if err != nil {
			return fmt.Errorf("create livemark folder: %w", err)
		}
		folderID = id

		if err := s.bookmarks.SetFolderReadonly(ctx, id, true); err != nil {
			return err
		}

		if err := s.annotations.SetAnnotation(ctx, id, AnnoFeedURI, normalized); err != nil {
			return err
		}

		if site != "" {
			if err := s.annotations.SetAnnotation(ctx, id, AnnoSiteURI, site); err != nil {
				return err
			}
		}

		if folderOnly {
			if _, err := s.bookmarks.InsertBookmark(ctx, id, PlaceholderURI, 0, s.loadingTitle); err != nil {
				return fmt.Errorf("insert loading placeholder: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) || errors.Is(err, store.ErrNotFolder) {
			return 0, fmt.Errorf("%w: parent %d: %v", ErrInvalidArgument, parentID, err)
		}
		return 0, err
	}

	s.mu.Lock()
	_, err = s.registry.Add(folderID, normalized)
	count := s.registry.Len()
	s.mu.Unlock()

	if err != nil {
		return 0, err
	}

	// The folder may have been removed before it was registered.
	if _, err := s.bookmarks.Item(ctx, folderID); errors.Is(err, store.ErrItemNotFound) {
		s.mu.Lock()
		s.registry.Remove(folderID)
		count = s.registry.Len()
		s.mu.Unlock()
		s.metrics.registered(count)

		return 0, fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
	}

	s.metrics.registered(count)
	s.logger.Info("livemark created", "folder_id", folderID, "feed_uri", normalized, "folder_only", folderOnly)

	return folderID, nil
}

// checkSiteURI resolves a site link against the feed and vets it.
func (s *Service) checkSiteURI(feedURI, siteURI string) (string, error) {
	resolved, err := feed.Resolve(feedURI, siteURI)
	if err != nil {
		return "", err
	}

	if err := s.policy.CheckLoadURI(feedURI, resolved); err != nil {
		return "", err
	}

	return resolved, nil
}

func (s *Service) requireLivemark(ctx context.Context, folderID int64) error {
	if !s.IsLivemark(ctx, folderID) {
		return fmt.Errorf("%w: item %d is not a livemark", ErrInvalidArgument, folderID)
	}

	return nil
}

// GetFeedURI returns the feed URI of a livemark.
func (s *Service) GetFeedURI(ctx context.Context, folderID int64) (string, error) {
	if err := s.requireLivemark(ctx, folderID); err != nil {
		return "", err
	}

	uri, err := s.annotations.Annotation(ctx, folderID, AnnoFeedURI)
	if err != nil {
		return "", fmt.Errorf("read feed uri: %w", err)
	}

	return uri, nil
}

// SetFeedURI points an existing livemark at a new feed. The next due sweep
// loads from it.
func (s *Service) SetFeedURI(ctx context.Context, folderID int64, feedURI string) error {
	normalized, err := feed.NormalizeURL(feedURI)
	if err != nil {
		return fmt.Errorf("%w: feed uri: %v", ErrInvalidArgument, err)
	}

	s.mu.Lock()
	rec, err := s.registry.Find(folderID)
	s.mu.Unlock()

	if err != nil {
		return err
	}

	if err := s.annotations.SetAnnotation(ctx, folderID, AnnoFeedURI, normalized); err != nil {
		return fmt.Errorf("write feed uri: %w", err)
	}

	s.mu.Lock()
	if s.registry.contains(rec) {
		rec.FeedURI = normalized
	}
	s.mu.Unlock()

	s.logger.Info("livemark feed changed", "folder_id", folderID, "feed_uri", normalized)

	return nil
}

// GetSiteURI returns the site URI of a livemark, or "" when none is set.
func (s *Service) GetSiteURI(ctx context.Context, folderID int64) (string, error) {
	if err := s.requireLivemark(ctx, folderID); err != nil {
		return "", err
	}

	uri, err := s.annotations.Annotation(ctx, folderID, AnnoSiteURI)
	if errors.Is(err, store.ErrAnnotationNotFound) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("read site uri: %w", err)
	}

	return uri, nil
}

// SetSiteURI replaces the site URI. An empty value removes it; a value the
// load policy rejects is refused.
func (s *Service) SetSiteURI(ctx context.Context, folderID int64, siteURI string) error {
	if err := s.requireLivemark(ctx, folderID); err != nil {
		return err
	}

	if strings.TrimSpace(siteURI) == "" {
		return s.annotations.RemoveAnnotation(ctx, folderID, AnnoSiteURI)
	}

	feedURI, err := s.GetFeedURI(ctx, folderID)
	if err != nil {
		return err
	}

	site, err := s.checkSiteURI(feedURI, siteURI)
	if err != nil {
		return fmt.Errorf("%w: site uri: %v", ErrInvalidArgument, err)
	}

	return s.annotations.SetAnnotation(ctx, folderID, AnnoSiteURI, site)
}

// ReloadAllLivemarks starts a load for every unlocked livemark.
func (s *Service) ReloadAllLivemarks(ctx context.Context) int {
	return s.Sweep(ctx, true)
}

// ReloadLivemarkFolder starts a load for one livemark unless one is running.
func (s *Service) ReloadLivemarkFolder(ctx context.Context, folderID int64) (bool, error) {
	return s.RefreshOne(ctx, folderID, true)
}

// RemoveLivemark deletes the livemark folder. Its record goes with it through
// the removal notification.
func (s *Service) RemoveLivemark(ctx context.Context, folderID int64) error {
	s.mu.Lock()
	_, err := s.registry.Find(folderID)
	s.mu.Unlock()

	if err != nil {
		return err
	}

	if err := s.bookmarks.RemoveItem(ctx, folderID); err != nil {
		return fmt.Errorf("remove livemark folder: %w", err)
	}

	return nil
}

type recordView struct {
	feedURI  string
	phase    string
	folderID int64
	locked   bool
}

func (s *Service) snapshot(rec *Record) recordView {
	view := recordView{
		feedURI:  rec.FeedURI,
		folderID: rec.FolderID,
		locked:   rec.locked,
	}

	if rec.session != nil {
		view.phase = rec.session.currentState().String()
	}

	return view
}

// List returns the status of every livemark in registration order.
func (s *Service) List(ctx context.Context) ([]Status, error) {
	s.mu.Lock()
	records := s.registry.Records()
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, s.snapshot(rec))
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(views))

	for _, view := range views {
		status, err := s.status(ctx, view)
		if errors.Is(err, store.ErrItemNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		out = append(out, status)
	}

	return out, nil
}

// Get returns the status of one livemark.
func (s *Service) Get(ctx context.Context, folderID int64) (Status, error) {
	s.mu.Lock()
	rec, err := s.registry.Find(folderID)
	var view recordView
	if err == nil {
		view = s.snapshot(rec)
	}
	s.mu.Unlock()

	if err != nil {
		return Status{}, err
	}

	return s.status(ctx, view)
}

func (s *Service) status(ctx context.Context, view recordView) (Status, error) {
	item, err := s.bookmarks.Item(ctx, view.folderID)
	if err != nil {
		return Status{}, fmt.Errorf("load livemark folder %d: %w", view.folderID, err)
	}

	children, err := s.bookmarks.Children(ctx, view.folderID)
	if err != nil {
		return Status{}, fmt.Errorf("load livemark children %d: %w", view.folderID, err)
	}

	status := Status{
		Title:    item.Title,
		FeedURI:  view.feedURI,
		Phase:    view.phase,
		FolderID: view.folderID,
		ParentID: item.ParentID,
		Loading:  view.locked,
	}

	for _, child := range children {
		if child.URI != PlaceholderURI {
			status.Children++
		}
	}

	if site, err := s.annotations.Annotation(ctx, view.folderID, AnnoSiteURI); err == nil {
		status.SiteURI = site
	}

	if at, ok := s.expiration(ctx, view.folderID); ok {
		status.ExpiresAt = at.UTC()
	}

	if failed, err := s.annotations.Annotation(ctx, view.folderID, AnnoLoadFailed); err == nil {
		status.LoadFailed = failed == "true"
	}

	return status, nil
}

// Children returns the current child bookmarks of a livemark.
func (s *Service) Children(ctx context.Context, folderID int64) ([]store.Item, error) {
	s.mu.Lock()
	_, err := s.registry.Find(folderID)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return s.bookmarks.Children(ctx, folderID)
}

// ImportOPML creates a folder-only livemark for every subscription. A
// subscription with a category lands in a plain folder of that name under
// parentID, created on first use. Entries with an unusable feed URL are
// skipped.
func (s *Service) ImportOPML(ctx context.Context, parentID int64, subscriptions []opml.Subscription) (ImportResult, error) {
	result := ImportResult{Imported: []int64{}}

	if _, err := s.bookmarks.Item(ctx, parentID); err != nil {
		return result, fmt.Errorf("%w: parent %d: %v", ErrInvalidArgument, parentID, err)
	}

	if s.IsLivemark(ctx, parentID) {
		return result, fmt.Errorf("%w: folder %d is a livemark", ErrInvalidArgument, parentID)
	}

	folders := map[string]int64{}

	for _, sub := range subscriptions {
		target := parentID

		if sub.Category != "" {
			id, ok := folders[sub.Category]
			if !ok {
				created, err := s.bookmarks.CreateFolder(ctx, parentID, sub.Category, store.DefaultIndex)
				if err != nil {
					return result, fmt.Errorf("create folder %q: %w", sub.Category, err)
				}
				id = created
				folders[sub.Category] = id
			}
			target = id
		}

		id, err := s.CreateLivemarkFolderOnly(ctx, target, sub.Title, sub.SiteURL, sub.URL, store.DefaultIndex)
		if errors.Is(err, ErrInvalidArgument) {
			s.logger.Warn("opml entry skipped", "url", sub.URL, "err", err)
			result.Skipped++
			continue
		}

		if err != nil {
			return result, err
		}

		result.Imported = append(result.Imported, id)
	}

	s.logger.Info("opml imported", "imported", len(result.Imported), "skipped", result.Skipped, "folders", len(folders))

	return result, nil
}

// ExportOPML returns every livemark as an OPML subscription. Livemarks outside
// the root folder carry their parent folder's title as category.
func (s *Service) ExportOPML(ctx context.Context) ([]opml.Subscription, error) {
	statuses, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	parents := map[int64]string{}
	subs := make([]opml.Subscription, 0, len(statuses))

	for _, status := range statuses {
		category, ok := parents[status.ParentID]
		if !ok && status.ParentID != store.RootFolderID {
			parent, err := s.bookmarks.Item(ctx, status.ParentID)
			if err != nil {
				return nil, fmt.Errorf("load folder %d: %w", status.ParentID, err)
			}
			category = parent.Title
			parents[status.ParentID] = category
		}

		subs = append(subs, opml.Subscription{
			Title:    status.Title,
			URL:      status.FeedURI,
			SiteURL:  status.SiteURI,
			Category: category,
		})
	}

	return subs, nil
}
