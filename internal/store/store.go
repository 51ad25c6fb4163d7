// Package store implements the Store Abstraction: entity CRUD, graph
// walks, vector upsert/kNN, namespace-scoped queries, snapshot/restore, and
// `transaction(scope, f)`, backed by Postgres via sqlx and lib/pq.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/cortexmesh/core/pkg/types"
)

// Store wraps the sqlx connection and the in-memory vector index.
type Store struct {
	db       *sqlx.DB
	vectors  *vectorShards
}

// Open connects to dsn and wraps it as a Store. It does not run migrations;
// call Migrate separately so callers can choose when schema changes apply.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, types.Wrap(types.ErrIO, "connecting to store", err)
	}
	return &Store{db: db, vectors: newVectorShards()}, nil
}

// NewWithDB wraps an already-open *sqlx.DB, used by tests against sqlmock.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db, vectors: newVectorShards()}
}

// DB exposes the underlying handle for internal/pool's health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Migrate applies every pending migration under migrationsPath.
func (s *Store) Migrate(migrationsPath string) error {
	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return types.Wrap(types.ErrIO, "creating migration driver", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return types.Wrap(types.ErrIO, "loading migrations", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return types.Wrap(types.ErrIO, "applying migrations", err)
	}
	return nil
}

// ErrNestedTransaction is returned when Transaction is called while already
// inside one: nested transactions are rejected rather than silently
// flattened.
var ErrNestedTransaction = types.NewError(types.ErrInvalidState, "nested transaction")

type txKey struct{}

// Transaction runs f inside a single SQL transaction scoped to scope (an
// opaque label used for logging only), committing on success and rolling
// back on error or panic.
func (s *Store) Transaction(ctx context.Context, scope string, f func(ctx context.Context) error) (err error) {
	if _, nested := ctx.Value(txKey{}).(*sqlx.Tx); nested {
		return ErrNestedTransaction
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return types.Wrap(types.ErrIO, fmt.Sprintf("beginning transaction %s", scope), err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = types.Wrap(types.ErrTransactionAborted, fmt.Sprintf("committing transaction %s", scope), cErr)
		}
	}()

	err = f(txCtx)
	return err
}

// queryer returns the transaction bound to ctx, or the plain *sqlx.DB if
// there isn't one — every CRUD method goes through this so it transparently
// participates in an enclosing Transaction.
func (s *Store) queryer(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

func isNoRows(err error) bool { return err == sql.ErrNoRows }
