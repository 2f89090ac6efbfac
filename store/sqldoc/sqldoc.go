/*
Package sqldoc stores engine documents in a SQL database.

PURPOSE:
  Shared implementation of ledger.TxStore over database/sql. Each record is
  a JSON document in a `doc` column next to a `version` column; the few
  fields the engine queries by (clan, kind, status, day) are lifted into
  indexed columns. store/sqlite and store/postgres only supply a Dialect.

OPTIMISTIC WRITES:
  Save* issues
    UPDATE ... SET doc = ?, version = version + 1 WHERE id = ? AND version = ?
  Zero affected rows means the document changed since it was read (or is
  gone) and the write fails with ledger.ErrConcurrentModification.

SINGLE PENDING TRADE:
  A partial unique index on transactions(clan_id) WHERE kind = 'stock' AND
  status = 'PENDING' makes the second pending insert for a clan fail inside
  the database; the error is translated to ledger.ErrPendingExists.

KEY TABLES:
  clans, planets, users:  id, doc, version
  transactions:           id, clan_id, kind, status, created_at, doc, version
  stock_history:          day, symbol, rate (PRIMARY KEY day, symbol)
*/
package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freshy/clanwars/ledger"
)

// Dialect adapts the store to one SQL engine.
type Dialect struct {
	Name string

	// Schema statements, run in order by Migrate.
	Schema []string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation func(err error) bool

	// SerializeWrites makes every write and transaction take a process-wide
	// lock. Needed for SQLite, which allows one writer at a time.
	SerializeWrites bool
}

// Schema is the portable DDL shared by both dialects.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS clans (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS planets (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		doc TEXT NOT NULL,
		version BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		clan_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		doc TEXT NOT NULL,
		version BIGINT NOT NULL
	)`,
	// At most one pending stock trade per clan.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_single_pending_stock
		ON transactions(clan_id) WHERE kind = 'stock' AND status = 'PENDING'`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_clan_created
		ON transactions(clan_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_status
		ON transactions(kind, status)`,
	`CREATE TABLE IF NOT EXISTS stock_history (
		day TEXT NOT NULL,
		symbol TEXT NOT NULL,
		rate TEXT NOT NULL,
		PRIMARY KEY (day, symbol)
	)`,
}

const (
	kindStock  = "stock"
	kindPlanet = "planet"

	// Fixed width so that created_at sorts as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
	dayLayout  = "2006-01-02"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.TxStore.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.RWMutex
	docs    *docs
}

var _ ledger.TxStore = (*Store)(nil)

// New wraps an open database. Call Migrate before use.
func New(db *sql.DB, dialect Dialect) *Store {
	s := &Store{db: db, dialect: dialect}
	s.docs = &docs{q: db, dialect: &s.dialect}
	return s
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) rlock() func() {
	if !s.dialect.SerializeWrites {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if !s.dialect.SerializeWrites {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithTx executes fn within a database transaction.
// If fn returns error, transaction is rolled back.
// If fn returns nil, transaction is committed.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	defer s.lock()()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect.Name, err)
	}
	if err := fn(&docs{q: tx, dialect: &s.dialect}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *Store) GetClan(ctx context.Context, id ledger.ClanID) (*ledger.Clan, error) {
	defer s.rlock()()
	return s.docs.GetClan(ctx, id)
}

func (s *Store) ListClans(ctx context.Context) ([]*ledger.Clan, error) {
	defer s.rlock()()
	return s.docs.ListClans(ctx)
}

func (s *Store) CreateClan(ctx context.Context, c *ledger.Clan) error {
	defer s.lock()()
	return s.docs.CreateClan(ctx, c)
}

func (s *Store) SaveClan(ctx context.Context, c *ledger.Clan) error {
	defer s.lock()()
	return s.docs.SaveClan(ctx, c)
}

func (s *Store) GetPlanet(ctx context.Context, id ledger.PlanetID) (*ledger.Planet, error) {
	defer s.rlock()()
	return s.docs.GetPlanet(ctx, id)
}

func (s *Store) CreatePlanet(ctx context.Context, p *ledger.Planet) error {
	defer s.lock()()
	return s.docs.CreatePlanet(ctx, p)
}

func (s *Store) SavePlanet(ctx context.Context, p *ledger.Planet) error {
	defer s.lock()()
	return s.docs.SavePlanet(ctx, p)
}

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	defer s.rlock()()
	return s.docs.GetUser(ctx, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*ledger.User, error) {
	defer s.rlock()()
	return s.docs.GetUserByUsername(ctx, username)
}

func (s *Store) CreateUser(ctx context.Context, u *ledger.User) error {
	defer s.lock()()
	return s.docs.CreateUser(ctx, u)
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	defer s.rlock()()
	return s.docs.GetTransaction(ctx, id)
}

func (s *Store) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	defer s.lock()()
	return s.docs.CreateTransaction(ctx, t)
}

func (s *Store) SaveTransaction(ctx context.Context, t *ledger.Transaction) error {
	defer s.lock()()
	return s.docs.SaveTransaction(ctx, t)
}

func (s *Store) PendingStockTransaction(ctx context.Context, clanID ledger.ClanID) (*ledger.Transaction, error) {
	defer s.rlock()()
	return s.docs.PendingStockTransaction(ctx, clanID)
}

func (s *Store) ListPendingStockTransactions(ctx context.Context) ([]*ledger.Transaction, error) {
	defer s.rlock()()
	return s.docs.ListPendingStockTransactions(ctx)
}

func (s *Store) ListTransactions(ctx context.Context, clanID ledger.ClanID, limit int) ([]*ledger.Transaction, error) {
	defer s.rlock()()
	return s.docs.ListTransactions(ctx, clanID, limit)
}

func (s *Store) StockRate(ctx context.Context, day time.Time, symbol string) (*ledger.StockHistory, error) {
	defer s.rlock()()
	return s.docs.StockRate(ctx, day, symbol)
}

func (s *Store) SaveStockRate(ctx context.Context, h ledger.StockHistory) error {
	defer s.lock()()
	return s.docs.SaveStockRate(ctx, h)
}

func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		return st.Reset(ctx)
	})
}

// =============================================================================
// DOCUMENT OPERATIONS - Shared by Store and transactions
// =============================================================================

type docs struct {
	q       querier
	dialect *Dialect
}

// bind rewrites "?" placeholders for the dialect.
func (d *docs) bind(query string) string {
	if d.dialect.Placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *docs) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.q.ExecContext(ctx, d.bind(query), args...)
}

func (d *docs) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.q.QueryRowContext(ctx, d.bind(query), args...)
}

func (d *docs) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.q.QueryContext(ctx, d.bind(query), args...)
}

// getDoc loads and decodes one document from table by id.
func (d *docs) getDoc(ctx context.Context, table, id string, dst any) (int64, error) {
	var (
		raw     string
		version int64
	)
	err := d.queryRow(ctx, "SELECT doc, version FROM "+table+" WHERE id = ?", id).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%s: get %s %s: %w", d.dialect.Name, table, id, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return 0, fmt.Errorf("%s: decode %s %s: %w", d.dialect.Name, table, id, err)
	}
	return version, nil
}

// updateDoc writes doc if the stored version is still version.
func (d *docs) updateDoc(ctx context.Context, table, id string, version int64, doc any, extra map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	set := "doc = ?, version = version + 1"
	args := []any{string(raw)}
	for _, col := range slices.Sorted(maps.Keys(extra)) {
		set += ", " + col + " = ?"
		args = append(args, extra[col])
	}
	args = append(args, id, version)

	res, err := d.exec(ctx, "UPDATE "+table+" SET "+set+" WHERE id = ? AND version = ?", args...)
	if err != nil {
		return fmt.Errorf("%s: update %s %s: %w", d.dialect.Name, table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrConcurrentModification
	}
	return nil
}

// -----------------------------------------------------------------------------
// Clans
// -----------------------------------------------------------------------------

func (d *docs) GetClan(ctx context.Context, id ledger.ClanID) (*ledger.Clan, error) {
	var c ledger.Clan
	v, err := d.getDoc(ctx, "clans", string(id), &c)
	if err != nil {
		return nil, err
	}
	c.Version = v
	return &c, nil
}

func (d *docs) ListClans(ctx context.Context) ([]*ledger.Clan, error) {
	rows, err := d.query(ctx, "SELECT doc, version FROM clans ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%s: list clans: %w", d.dialect.Name, err)
	}
	defer rows.Close()

	var out []*ledger.Clan
	for rows.Next() {
		var (
			raw string
			c   ledger.Clan
		)
		if err := rows.Scan(&raw, &c.Version); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (d *docs) CreateClan(ctx context.Context, c *ledger.Clan) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := d.exec(ctx, "INSERT INTO clans (id, doc, version) VALUES (?, ?, 1)", string(c.ID), string(raw)); err != nil {
		return fmt.Errorf("%s: create clan %s: %w", d.dialect.Name, c.ID, err)
	}
	c.Version = 1
	return nil
}

func (d *docs) SaveClan(ctx context.Context, c *ledger.Clan) error {
	if err := d.updateDoc(ctx, "clans", string(c.ID), c.Version, c, nil); err != nil {
		return err
	}
	c.Version++
	return nil
}

// -----------------------------------------------------------------------------
// Planets
// -----------------------------------------------------------------------------

func (d *docs) GetPlanet(ctx context.Context, id ledger.PlanetID) (*ledger.Planet, error) {
	var p ledger.Planet
	v, err := d.getDoc(ctx, "planets", string(id), &p)
	if err != nil {
		return nil, err
	}
	p.Version = v
	return &p, nil
}

func (d *docs) CreatePlanet(ctx context.Context, p *ledger.Planet) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if _, err := d.exec(ctx, "INSERT INTO planets (id, doc, version) VALUES (?, ?, 1)", string(p.ID), string(raw)); err != nil {
		return fmt.Errorf("%s: create planet %s: %w", d.dialect.Name, p.ID, err)
	}
	p.Version = 1
	return nil
}

func (d *docs) SavePlanet(ctx context.Context, p *ledger.Planet) error {
	if err := d.updateDoc(ctx, "planets", string(p.ID), p.Version, p, nil); err != nil {
		return err
	}
	p.Version++
	return nil
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

func (d *docs) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	var u ledger.User
	v, err := d.getDoc(ctx, "users", string(id), &u)
	if err != nil {
		return nil, err
	}
	u.Version = v
	return &u, nil
}

func (d *docs) GetUserByUsername(ctx context.Context, username string) (*ledger.User, error) {
	var id string
	err := d.queryRow(ctx, "SELECT id FROM users WHERE username = ?", username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get user %s: %w", d.dialect.Name, username, err)
	}
	return d.GetUser(ctx, ledger.UserID(id))
}

func (d *docs) CreateUser(ctx context.Context, u *ledger.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if _, err := d.exec(ctx, "INSERT INTO users (id, username, doc, version) VALUES (?, ?, ?, 1)",
		string(u.ID), u.Username, string(raw)); err != nil {
		return fmt.Errorf("%s: create user %s: %w", d.dialect.Name, u.ID, err)
	}
	u.Version = 1
	return nil
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

func txKind(t *ledger.Transaction) string {
	if t.IsStock() {
		return kindStock
	}
	return kindPlanet
}

func txClan(t *ledger.Transaction) string {
	id, _ := t.ClanSide()
	return string(id)
}

func (d *docs) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	var t ledger.Transaction
	v, err := d.getDoc(ctx, "transactions", string(id), &t)
	if err != nil {
		return nil, err
	}
	t.Version = v
	return &t, nil
}

func (d *docs) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = d.exec(ctx,
		"INSERT INTO transactions (id, clan_id, kind, status, created_at, doc, version) VALUES (?, ?, ?, ?, ?, ?, 1)",
		string(t.ID), txClan(t), txKind(t), string(t.Status), t.CreatedAt.UTC().Format(timeLayout), string(raw),
	)
	if err != nil {
		if d.dialect.IsUniqueViolation != nil && d.dialect.IsUniqueViolation(err) &&
			t.IsStock() && t.Status == ledger.StatusPending {
			return ledger.ErrPendingExists
		}
		return fmt.Errorf("%s: create transaction %s: %w", d.dialect.Name, t.ID, err)
	}
	t.Version = 1
	return nil
}

func (d *docs) SaveTransaction(ctx context.Context, t *ledger.Transaction) error {
	err := d.updateDoc(ctx, "transactions", string(t.ID), t.Version, t, map[string]any{
		"status": string(t.Status),
	})
	if err != nil {
		return err
	}
	t.Version++
	return nil
}

func (d *docs) scanTransactions(rows *sql.Rows) ([]*ledger.Transaction, error) {
	defer rows.Close()
	var out []*ledger.Transaction
	for rows.Next() {
		var (
			raw string
			t   ledger.Transaction
		)
		if err := rows.Scan(&raw, &t.Version); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (d *docs) PendingStockTransaction(ctx context.Context, clanID ledger.ClanID) (*ledger.Transaction, error) {
	rows, err := d.query(ctx,
		"SELECT doc, version FROM transactions WHERE clan_id = ? AND kind = ? AND status = ?",
		string(clanID), kindStock, string(ledger.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("%s: pending transaction %s: %w", d.dialect.Name, clanID, err)
	}
	txs, err := d.scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, ledger.ErrRecordNotFound
	}
	return txs[0], nil
}

func (d *docs) ListPendingStockTransactions(ctx context.Context) ([]*ledger.Transaction, error) {
	rows, err := d.query(ctx,
		"SELECT doc, version FROM transactions WHERE kind = ? AND status = ? ORDER BY created_at DESC, id",
		kindStock, string(ledger.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("%s: list pending: %w", d.dialect.Name, err)
	}
	return d.scanTransactions(rows)
}

func (d *docs) ListTransactions(ctx context.Context, clanID ledger.ClanID, limit int) ([]*ledger.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.query(ctx,
		"SELECT doc, version FROM transactions WHERE clan_id = ? ORDER BY created_at DESC, id LIMIT ?",
		string(clanID), limit)
	if err != nil {
		return nil, fmt.Errorf("%s: list transactions %s: %w", d.dialect.Name, clanID, err)
	}
	return d.scanTransactions(rows)
}

// -----------------------------------------------------------------------------
// Stock history
// -----------------------------------------------------------------------------

func (d *docs) StockRate(ctx context.Context, day time.Time, symbol string) (*ledger.StockHistory, error) {
	var raw string
	err := d.queryRow(ctx, "SELECT rate FROM stock_history WHERE day = ? AND symbol = ?",
		day.Format(dayLayout), symbol).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: stock rate %s: %w", d.dialect.Name, symbol, err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: decode rate %q: %w", d.dialect.Name, raw, err)
	}
	return &ledger.StockHistory{Date: day, Symbol: symbol, Rate: rate}, nil
}

func (d *docs) SaveStockRate(ctx context.Context, h ledger.StockHistory) error {
	_, err := d.exec(ctx, `
		INSERT INTO stock_history (day, symbol, rate) VALUES (?, ?, ?)
		ON CONFLICT (day, symbol) DO UPDATE SET rate = excluded.rate`,
		h.Date.Format(dayLayout), h.Symbol, h.Rate.String())
	if err != nil {
		return fmt.Errorf("%s: save stock rate %s: %w", d.dialect.Name, h.Symbol, err)
	}
	return nil
}

func (d *docs) Reset(ctx context.Context) error {
	for _, table := range []string{"transactions", "stock_history", "users", "planets", "clans"} {
		if _, err := d.exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("%s: reset %s: %w", d.dialect.Name, table, err)
		}
	}
	return nil
}
