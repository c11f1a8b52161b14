package store

import (
	"context"
	"database/sql"
	"fmt"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type batchKey struct{}

type batch struct {
	store  *Store
	tx     *sql.Tx
	events []Event
}

// RunInBatch runs fn inside one transaction. Store calls made with the context
// passed to fn join the transaction and their change events are delivered
// after it commits. Nested calls join the outer batch.
func (s *Store) RunInBatch(ctx context.Context, fn func(context.Context) error) error {
	ctx = contextOrBackground(ctx)

	if b := s.batchFrom(ctx); b != nil {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			rollbackTx(tx)
		}
	}()

	b := &batch{store: s, tx: tx}

	err = fn(context.WithValue(ctx, batchKey{}, b))
	if err != nil {
		return err
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("commit batch transaction: %w", commitErr)
	}

	committed = true

	s.notify(b.events)

	return nil
}

func (s *Store) batchFrom(ctx context.Context) *batch {
	b, ok := ctx.Value(batchKey{}).(*batch)
	if !ok || b.store != s {
		return nil
	}

	return b
}

func (s *Store) querier(ctx context.Context) querier {
	if b := s.batchFrom(ctx); b != nil {
		return b.tx
	}

	return s.db
}

// mutate runs fn in the caller's batch or in a transaction of its own.
func (s *Store) mutate(ctx context.Context, fn func(context.Context, querier) ([]Event, error)) error {
	ctx = contextOrBackground(ctx)

	if b := s.batchFrom(ctx); b != nil {
		events, err := fn(ctx, b.tx)
		if err != nil {
			return err
		}

		b.events = append(b.events, events...)

		return nil
	}

	var events []Event

	err := s.RunInBatch(ctx, func(batchCtx context.Context) error {
		var fnErr error

		events, fnErr = fn(batchCtx, s.batchFrom(batchCtx).tx)

		return fnErr
	})
	if err != nil {
		return err
	}

	s.notify(events)

	return nil
}
