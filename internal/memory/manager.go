package memory

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so the same operations
// run standalone or inside a consolidation pass's transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

// ops implements every memory operation over a querier.
type ops struct {
	q querier
}

// Store is the persistent memory database: facts, aliases, episodes,
// commitments, consolidation state, file hashes and indexed chunks.
type Store struct {
	ops
	db *sql.DB
}

// Tx exposes the same operations bound to one transaction. A consolidation
// pass wraps all of its writes in a single Tx.
type Tx struct {
	ops
	tx *sql.Tx
}

// Open opens (creating if needed) the memory database and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// One shared connection; sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	L_debug("memory: store opened", "path", path)
	return &Store{ops: ops{q: db}, db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the raw handle for the search and indexer paths.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside one transaction, rolling back on error.
func (s *Store) WithTx(fn func(*Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	t := &Tx{ops: ops{q: tx}, tx: tx}
	if err := fn(t); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			L_warn("memory: rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
