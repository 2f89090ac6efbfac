/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Opens a SQLite database with mattn/go-sqlite3 and hands it to the shared
  document store in store/sqldoc. Only the dialect lives here: unique
  violation detection and the write lock.

CONCURRENCY:
  SQLite allows a single writer, so every write and every WithTx holds a
  process-wide lock (sync.RWMutex). Reads share the read lock. With
  PostgreSQL, database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/clanwars.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  stocks := ledger.NewStockService(store, hub, cfg)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/sqldoc/sqldoc.go: Tables and queries
  - store/postgres/postgres.go: Same store on PostgreSQL
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/freshy/clanwars/store/sqldoc"
)

// Dialect is the SQLite flavor of the document store.
var Dialect = sqldoc.Dialect{
	Name:              "sqlite",
	Schema:            sqldoc.Schema,
	IsUniqueViolation: IsUniqueViolation,
	SerializeWrites:   true,
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY failure.
func IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqldoc.Store, error) {
	dsn := dbPath
	if strings.Contains(dsn, "?") {
		dsn += "&_foreign_keys=on&_journal_mode=WAL"
	} else {
		dsn += "?_foreign_keys=on&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	if strings.HasPrefix(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	store := sqldoc.New(db, Dialect)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}
