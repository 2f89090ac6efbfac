/*
store.go - Persistence contract for the engine

PURPOSE:
  A document store holding Clan, Planet, User, Transaction and StockHistory
  records. Each write is a whole-document write guarded by the record's
  Version: Save succeeds only when the stored version equals the version
  that was read, then increments it.

KEY INTERFACES:
  Store:   Single-document reads and writes
  TxStore: Store plus WithTx, running several writes atomically

PENDING UNIQUENESS:
  CreateTransaction refuses a second PENDING stock transaction for the same
  clan with ErrPendingExists. Implementations back this with a unique
  constraint or a check under their write lock, never read-then-insert.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and development
  - store/sqlite: SQLite
  - store/postgres: Postgres
*/
package ledger

import (
	"context"
	"time"
)

// Store handles persistence of engine documents.
type Store interface {
	GetClan(ctx context.Context, id ClanID) (*Clan, error)
	ListClans(ctx context.Context) ([]*Clan, error)
	CreateClan(ctx context.Context, c *Clan) error
	// SaveClan writes c if its Version is current, then bumps c.Version.
	SaveClan(ctx context.Context, c *Clan) error

	GetPlanet(ctx context.Context, id PlanetID) (*Planet, error)
	CreatePlanet(ctx context.Context, p *Planet) error
	SavePlanet(ctx context.Context, p *Planet) error

	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, u *User) error

	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	// CreateTransaction inserts t. Returns ErrPendingExists when t is a pending
	// stock transaction and the clan already has one.
	CreateTransaction(ctx context.Context, t *Transaction) error
	SaveTransaction(ctx context.Context, t *Transaction) error
	// PendingStockTransaction returns the clan's pending stock transaction,
	// or ErrRecordNotFound.
	PendingStockTransaction(ctx context.Context, clanID ClanID) (*Transaction, error)
	ListPendingStockTransactions(ctx context.Context) ([]*Transaction, error)
	ListTransactions(ctx context.Context, clanID ClanID, limit int) ([]*Transaction, error)

	// StockRate returns the rate of symbol for the given market day, or
	// ErrRecordNotFound.
	StockRate(ctx context.Context, day time.Time, symbol string) (*StockHistory, error)
	SaveStockRate(ctx context.Context, h StockHistory) error

	// Reset removes every document. Used by demo scenarios.
	Reset(ctx context.Context) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
