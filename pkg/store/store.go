// Package store implements the persistence layer on top of pgx. Each
// entity gets a focused set of methods; all SQL lives here. Stores are
// usable against the pool or inside a transaction via WithTx.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness or idempotency conflict.
	ErrConflict = errors.New("conflict")
)

// DBTX is the querier shared by pgxpool.Pool and pgx.Tx. Store methods
// run against whichever the store was built with.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store bundles all entity stores over one querier.
type Store struct {
	db DBTX
}

// New creates a Store over the given querier (pool or transaction).
func New(db DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to the transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

// Begin opens a transaction on the underlying querier. When the store is
// already transactional this opens a savepoint.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.db.Begin(ctx)
}
