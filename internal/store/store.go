// Package store provides SQLite-backed persistence for the bookmark tree and
// its annotations.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Register the sqlite database/sql driver.
)

// RootFolderID is the id of the folder every other item descends from.
const RootFolderID int64 = 1

// DefaultIndex appends an item after the existing children of its folder.
const DefaultIndex = -1

var (
	// ErrItemNotFound reports a missing bookmark or folder.
	ErrItemNotFound = errors.New("item not found")
	// ErrNotFolder reports an item that cannot hold children.
	ErrNotFolder = errors.New("item is not a folder")
	// ErrAnnotationNotFound reports a missing annotation.
	ErrAnnotationNotFound = errors.New("annotation not found")
	// ErrRootFolder reports an attempt to remove the root folder.
	ErrRootFolder = errors.New("root folder cannot be removed")
)

// ItemKind distinguishes folders from bookmarks.
type ItemKind string

const (
	KindFolder   ItemKind = "folder"
	KindBookmark ItemKind = "bookmark"
)

// Item is one node of the bookmark tree.
type Item struct {
	CreatedAt time.Time
	Kind      ItemKind
	Title     string
	URI       string
	ID        int64
	ParentID  int64
	Index     int
	Readonly  bool
}

// Store is the bookmark tree and annotation store. Mutations notify
// subscribers synchronously after they are committed.
type Store struct {
	db        *sql.DB
	observers map[uint64]Observer
	nextSubID uint64
	mu        sync.Mutex
}

// Open is part of the store package API.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite behaves best with a single connection for this workload.
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return db, nil
}

// Init is part of the store package API.
func Init(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id INTEGER,
	kind TEXT NOT NULL,
	title TEXT NOT NULL,
	uri TEXT,
	position INTEGER NOT NULL DEFAULT 0,
	readonly INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	FOREIGN KEY(parent_id) REFERENCES items(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS items_parent_position ON items(parent_id, position);

CREATE TABLE IF NOT EXISTS annotations (
	item_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (item_id, name),
	FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS annotations_name ON annotations(name);
`

	_, err := db.ExecContext(context.Background(), schema)
	if err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	return ensureRootFolder(db)
}

// New wraps an initialized database.
func New(db *sql.DB) *Store {
	return &Store{
		db:        db,
		observers: make(map[uint64]Observer),
	}
}

// DB exposes the underlying handle for callers that own its lifetime.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateFolder is part of the store package API.
func (s *Store) CreateFolder(ctx context.Context, parentID int64, title string, index int) (int64, error) {
	var id int64

	err := s.mutate(ctx, func(ctx context.Context, q querier) ([]Event, error) {
		var event Event
		var err error

		id, event, err = insertItem(ctx, q, parentID, KindFolder, title, "", index)
		if err != nil {
			return nil, fmt.Errorf("create folder: %w", err)
		}

		return []Event{event}, nil
	})

	return id, err
}

// InsertBookmark is part of the store package API.
func (s *Store) InsertBookmark(ctx context.Context, folderID int64, uri string, index int, title string) (int64, error) {
	var id int64

	err := s.mutate(ctx, func(ctx context.Context, q querier) ([]Event, error) {
		var event Event
		var err error

		id, event, err = insertItem(ctx, q, folderID, KindBookmark, title, uri, index)
		if err != nil {
			return nil, fmt.Errorf("insert bookmark: %w", err)
		}

		return []Event{event}, nil
	})

	return id, err
}

// SetFolderReadonly is part of the store package API.
func (s *Store) SetFolderReadonly(ctx context.Context, folderID int64, readonly bool) error {
	return s.mutate(ctx, func(ctx context.Context, q querier) ([]Event, error) {
		res, err := q.ExecContext(ctx,
			"UPDATE items SET readonly = ? WHERE id = ? AND kind = ?",
			readonly, folderID, KindFolder,
		)
		if err != nil {
			return nil, fmt.Errorf("update folder readonly flag: %w", err)
		}

		if err := requireAffected(res, folderID); err != nil {
			return nil, err
		}

		return nil, nil
	})
}

// RemoveItem deletes an item and everything below it.
func (s *Store) RemoveItem(ctx context.Context, itemID int64) error {
	if itemID == RootFolderID {
		return ErrRootFolder
	}

	return s.mutate(ctx, func(ctx context.Context, q querier) ([]Event, error) {
		item, err := scanItem(q.QueryRowContext(ctx, selectItemSQL+" WHERE id = ?", itemID))
		if err != nil {
			return nil, err
		}

		events, err := subtreeRemovals(ctx, q, itemID)
		if err != nil {
			return nil, err
		}

		_, err = q.ExecContext(ctx, "DELETE FROM items WHERE id = ?", itemID)
		if err != nil {
			return nil, fmt.Errorf("delete item: %w", err)
		}

		_, err = q.ExecContext(ctx,
			"UPDATE items SET position = position - 1 WHERE parent_id = ? AND position > ?",
			item.ParentID, item.Index,
		)
		if err != nil {
			return nil, fmt.Errorf("compact sibling positions: %w", err)
		}

		return append(events, Event{
			Kind:     ItemRemoved,
			ItemKind: item.Kind,
			ID:       item.ID,
			ParentID: item.ParentID,
			Index:    item.Index,
			URI:      item.URI,
		}), nil
	})
}

// RemoveFolderChildren deletes every child of a folder, leaving the folder.
func (s *Store) RemoveFolderChildren(ctx context.Context, folderID int64) error {
	return s.mutate(ctx, func(ctx context.Context, q querier) ([]Event, error) {
		folder, err := scanItem(q.QueryRowContext(ctx, selectItemSQL+" WHERE id = ?", folderID))
		if err != nil {
			return nil, err
		}

		if folder.Kind != KindFolder {
			return nil, fmt.Errorf("remove children of %d: %w", folderID, ErrNotFolder)
		}

		events, err := subtreeRemovals(ctx, q, folderID)
		if err != nil {
			return nil, err
		}

		_, err = q.ExecContext(ctx, "DELETE FROM items WHERE parent_id = ?", folderID)
		if err != nil {
			return nil, fmt.Errorf("delete folder children: %w", err)
		}

		return events, nil
	})
}

// Item is part of the store package API.
func (s *Store) Item(ctx context.Context, itemID int64) (Item, error) {
	ctx = contextOrBackground(ctx)

	return scanItem(s.querier(ctx).QueryRowContext(ctx, selectItemSQL+" WHERE id = ?", itemID))
}

// Children returns the direct children of a folder in position order.
func (s *Store) Children(ctx context.Context, folderID int64) ([]Item, error) {
	ctx = contextOrBackground(ctx)
	q := s.querier(ctx)

	folder, err := scanItem(q.QueryRowContext(ctx, selectItemSQL+" WHERE id = ?", folderID))
	if err != nil {
		return nil, err
	}

	if folder.Kind != KindFolder {
		return nil, fmt.Errorf("list children of %d: %w", folderID, ErrNotFolder)
	}

	rows, err := q.QueryContext(ctx, selectItemSQL+" WHERE parent_id = ? ORDER BY position ASC, id ASC", folderID)
	if err != nil {
		return nil, fmt.Errorf("query folder children: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	items := make([]Item, 0)

	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		items = append(items, item)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate folder children: %w", rowsErr)
	}

	return items, nil
}

const selectItemSQL = `
SELECT id, COALESCE(parent_id, 0), kind, title, COALESCE(uri, ''), position, readonly, created_at
FROM items`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var item Item

	err := row.Scan(
		&item.ID,
		&item.ParentID,
		&item.Kind,
		&item.Title,
		&item.URI,
		&item.Index,
		&item.Readonly,
		&item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}

	if err != nil {
		return Item{}, fmt.Errorf("scan item row: %w", err)
	}

	return item, nil
}

func insertItem(
	ctx context.Context,
	q querier,
	parentID int64,
	kind ItemKind,
	title string,
	uri string,
	index int,
) (int64, Event, error) {
	var (
		parentKind ItemKind
		childCount int
	)

	err := q.QueryRowContext(ctx, `
SELECT kind, (SELECT COUNT(*) FROM items WHERE parent_id = ?)
FROM items
WHERE id = ?
`, parentID, parentID).Scan(&parentKind, &childCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, Event{}, fmt.Errorf("parent %d: %w", parentID, ErrItemNotFound)
	}

	if err != nil {
		return 0, Event{}, fmt.Errorf("lookup parent folder: %w", err)
	}

	if parentKind != KindFolder {
		return 0, Event{}, fmt.Errorf("parent %d: %w", parentID, ErrNotFolder)
	}

	position := clampIndex(index, childCount)

	_, err = q.ExecContext(ctx,
		"UPDATE items SET position = position + 1 WHERE parent_id = ? AND position >= ?",
		parentID, position,
	)
	if err != nil {
		return 0, Event{}, fmt.Errorf("shift sibling positions: %w", err)
	}

	res, err := q.ExecContext(ctx, `
INSERT INTO items (parent_id, kind, title, uri, position, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, parentID, kind, strings.TrimSpace(title), nullString(uri), position, time.Now().UTC())
	if err != nil {
		return 0, Event{}, fmt.Errorf("insert item row: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, Event{}, fmt.Errorf("read inserted item id: %w", err)
	}

	return id, Event{
		Kind:     ItemAdded,
		ItemKind: kind,
		ID:       id,
		ParentID: parentID,
		Index:    position,
		URI:      uri,
	}, nil
}

// subtreeRemovals lists removal events for every descendant of rootID,
// deepest items first.
func subtreeRemovals(ctx context.Context, q querier, rootID int64) ([]Event, error) {
	rows, err := q.QueryContext(ctx, `
WITH RECURSIVE subtree(id, depth) AS (
	SELECT id, 1 FROM items WHERE parent_id = ?
	UNION ALL
	SELECT items.id, subtree.depth + 1
	FROM items JOIN subtree ON items.parent_id = subtree.id
)
SELECT items.id, items.parent_id, items.kind, items.position, COALESCE(items.uri, '')
FROM items JOIN subtree ON items.id = subtree.id
ORDER BY subtree.depth DESC, items.position DESC
`, rootID)
	if err != nil {
		return nil, fmt.Errorf("query subtree: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var events []Event

	for rows.Next() {
		event := Event{Kind: ItemRemoved}

		scanErr := rows.Scan(&event.ID, &event.ParentID, &event.ItemKind, &event.Index, &event.URI)
		if scanErr != nil {
			return nil, fmt.Errorf("scan subtree row: %w", scanErr)
		}

		events = append(events, event)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate subtree rows: %w", rowsErr)
	}

	return events, nil
}

func requireAffected(res sql.Result, itemID int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("item %d: %w", itemID, ErrItemNotFound)
	}

	return nil
}

func clampIndex(index, count int) int {
	if index < 0 || index > count {
		return count
	}

	return index
}

func ensureRootFolder(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), `
INSERT OR IGNORE INTO items (id, parent_id, kind, title, position, created_at)
VALUES (?, NULL, ?, 'Bookmarks', 0, ?)
`, RootFolderID, KindFolder, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure root folder: %w", err)
	}

	return nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}

	return ctx
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	return value
}

func rollbackTx(tx *sql.Tx) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("tx rollback failed", "err", err)
	}
}
