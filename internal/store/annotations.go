package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Annotation returns the value stored under name for an item.
func (s *Store) Annotation(ctx context.Context, itemID int64, name string) (string, error) {
	ctx = contextOrBackground(ctx)

	var value string

	err := s.querier(ctx).QueryRowContext(ctx,
		"SELECT value FROM annotations WHERE item_id = ? AND name = ?",
		itemID, name,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrAnnotationNotFound
	}

	if err != nil {
		return "", fmt.Errorf("lookup annotation %q: %w", name, err)
	}

	return value, nil
}

// SetAnnotation is part of the store package API.
func (s *Store) SetAnnotation(ctx context.Context, itemID int64, name, value string) error {
	return s.mutate(ctx, func(ctx context.Context, q querier) ([]Event, error) {
		var exists int

		err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE id = ?", itemID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("lookup annotated item: %w", err)
		}

		if exists == 0 {
			return nil, fmt.Errorf("annotate %d: %w", itemID, ErrItemNotFound)
		}

		_, err = q.ExecContext(ctx, `
INSERT INTO annotations (item_id, name, value, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(item_id, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, itemID, name, value, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("upsert annotation %q: %w", name, err)
		}

		return nil, nil
	})
}

// RemoveAnnotation deletes an annotation. Removing an absent one is a no-op.
func (s *Store) RemoveAnnotation(ctx context.Context, itemID int64, name string) error {
	return s.mutate(ctx, func(ctx context.Context, q querier) ([]Event, error) {
		_, err := q.ExecContext(ctx, "DELETE FROM annotations WHERE item_id = ? AND name = ?", itemID, name)
		if err != nil {
			return nil, fmt.Errorf("delete annotation %q: %w", name, err)
		}

		return nil, nil
	})
}

// HasAnnotation is part of the store package API.
func (s *Store) HasAnnotation(ctx context.Context, itemID int64, name string) (bool, error) {
	ctx = contextOrBackground(ctx)

	var count int

	err := s.querier(ctx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM annotations WHERE item_id = ? AND name = ?",
		itemID, name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count annotation %q: %w", name, err)
	}

	return count > 0, nil
}

// ItemsWithAnnotation lists the ids of items carrying name, oldest first.
func (s *Store) ItemsWithAnnotation(ctx context.Context, name string) ([]int64, error) {
	ctx = contextOrBackground(ctx)

	rows, err := s.querier(ctx).QueryContext(ctx,
		"SELECT item_id FROM annotations WHERE name = ? ORDER BY item_id ASC",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("query annotated items: %w", err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	ids := make([]int64, 0)

	for rows.Next() {
		var id int64

		scanErr := rows.Scan(&id)
		if scanErr != nil {
			return nil, fmt.Errorf("scan annotated item: %w", scanErr)
		}

		ids = append(ids, id)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate annotated items: %w", rowsErr)
	}

	return ids, nil
}
