// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/freshy/clanwars/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a ledger.TxStore kept in process memory. Documents are cloned
// on the way in and out, so callers never share state with the store.
type Memory struct {
	mu sync.RWMutex
	d  *data
}

type rateKey struct {
	day    string
	symbol string
}

type data struct {
	clans        map[ledger.ClanID]*ledger.Clan
	planets      map[ledger.PlanetID]*ledger.Planet
	users        map[ledger.UserID]*ledger.User
	transactions map[ledger.TransactionID]*ledger.Transaction
	rates        map[rateKey]ledger.StockHistory
}

var _ ledger.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

func newData() *data {
	return &data{
		clans:        make(map[ledger.ClanID]*ledger.Clan),
		planets:      make(map[ledger.PlanetID]*ledger.Planet),
		users:        make(map[ledger.UserID]*ledger.User),
		transactions: make(map[ledger.TransactionID]*ledger.Transaction),
		rates:        make(map[rateKey]ledger.StockHistory),
	}
}

func dayKey(day time.Time) string { return day.Format("2006-01-02") }

// =============================================================================
// LOCKED ACCESSORS
// =============================================================================

func (m *Memory) GetClan(ctx context.Context, id ledger.ClanID) (*ledger.Clan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetClan(ctx, id)
}

func (m *Memory) ListClans(ctx context.Context) ([]*ledger.Clan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListClans(ctx)
}

func (m *Memory) CreateClan(ctx context.Context, c *ledger.Clan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateClan(ctx, c)
}

func (m *Memory) SaveClan(ctx context.Context, c *ledger.Clan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveClan(ctx, c)
}

func (m *Memory) GetPlanet(ctx context.Context, id ledger.PlanetID) (*ledger.Planet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetPlanet(ctx, id)
}

func (m *Memory) CreatePlanet(ctx context.Context, p *ledger.Planet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreatePlanet(ctx, p)
}

func (m *Memory) SavePlanet(ctx context.Context, p *ledger.Planet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SavePlanet(ctx, p)
}

func (m *Memory) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetUser(ctx, id)
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetUserByUsername(ctx, username)
}

func (m *Memory) CreateUser(ctx context.Context, u *ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateUser(ctx, u)
}

func (m *Memory) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetTransaction(ctx, id)
}

func (m *Memory) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateTransaction(ctx, t)
}

func (m *Memory) SaveTransaction(ctx context.Context, t *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveTransaction(ctx, t)
}

func (m *Memory) PendingStockTransaction(ctx context.Context, clanID ledger.ClanID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.PendingStockTransaction(ctx, clanID)
}

func (m *Memory) ListPendingStockTransactions(ctx context.Context) ([]*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListPendingStockTransactions(ctx)
}

func (m *Memory) ListTransactions(ctx context.Context, clanID ledger.ClanID, limit int) ([]*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListTransactions(ctx, clanID, limit)
}

func (m *Memory) StockRate(ctx context.Context, day time.Time, symbol string) (*ledger.StockHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.StockRate(ctx, day, symbol)
}

func (m *Memory) SaveStockRate(ctx context.Context, h ledger.StockHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveStockRate(ctx, h)
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.Reset(ctx)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions are serial.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(m.d); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

func (d *data) clone() *data {
	cp := newData()
	for k, v := range d.clans {
		cp.clans[k] = v.Clone()
	}
	for k, v := range d.planets {
		cp.planets[k] = v.Clone()
	}
	for k, v := range d.users {
		u := *v
		cp.users[k] = &u
	}
	for k, v := range d.transactions {
		cp.transactions[k] = v.Clone()
	}
	for k, v := range d.rates {
		cp.rates[k] = v
	}
	return cp
}

// =============================================================================
// UNLOCKED DOCUMENT OPERATIONS
// =============================================================================

func (d *data) GetClan(_ context.Context, id ledger.ClanID) (*ledger.Clan, error) {
	c, ok := d.clans[id]
	if !ok {
		return nil, ledger.ErrRecordNotFound
	}
	return c.Clone(), nil
}

func (d *data) ListClans(_ context.Context) ([]*ledger.Clan, error) {
	out := make([]*ledger.Clan, 0, len(d.clans))
	for _, c := range d.clans {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *data) CreateClan(_ context.Context, c *ledger.Clan) error {
	c.Version = 1
	d.clans[c.ID] = c.Clone()
	return nil
}

func (d *data) SaveClan(_ context.Context, c *ledger.Clan) error {
	cur, ok := d.clans[c.ID]
	if !ok {
		return ledger.ErrRecordNotFound
	}
	if cur.Version != c.Version {
		return ledger.ErrConcurrentModification
	}
	c.Version++
	d.clans[c.ID] = c.Clone()
	return nil
}

func (d *data) GetPlanet(_ context.Context, id ledger.PlanetID) (*ledger.Planet, error) {
	p, ok := d.planets[id]
	if !ok {
		return nil, ledger.ErrRecordNotFound
	}
	return p.Clone(), nil
}

func (d *data) CreatePlanet(_ context.Context, p *ledger.Planet) error {
	p.Version = 1
	d.planets[p.ID] = p.Clone()
	return nil
}

func (d *data) SavePlanet(_ context.Context, p *ledger.Planet) error {
	cur, ok := d.planets[p.ID]
	if !ok {
		return ledger.ErrRecordNotFound
	}
	if cur.Version != p.Version {
		return ledger.ErrConcurrentModification
	}
	p.Version++
	d.planets[p.ID] = p.Clone()
	return nil
}

func (d *data) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, ledger.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *data) GetUserByUsername(_ context.Context, username string) (*ledger.User, error) {
	for _, u := range d.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ledger.ErrRecordNotFound
}

func (d *data) CreateUser(_ context.Context, u *ledger.User) error {
	u.Version = 1
	cp := *u
	d.users[u.ID] = &cp
	return nil
}

func (d *data) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	t, ok := d.transactions[id]
	if !ok {
		return nil, ledger.ErrRecordNotFound
	}
	return t.Clone(), nil
}

func (d *data) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	if t.IsStock() && t.Status == ledger.StatusPending {
		if clanID, ok := t.ClanSide(); ok {
			if _, err := d.PendingStockTransaction(ctx, clanID); err == nil {
				return ledger.ErrPendingExists
			}
		}
	}
	t.Version = 1
	d.transactions[t.ID] = t.Clone()
	return nil
}

func (d *data) SaveTransaction(_ context.Context, t *ledger.Transaction) error {
	cur, ok := d.transactions[t.ID]
	if !ok {
		return ledger.ErrRecordNotFound
	}
	if cur.Version != t.Version {
		return ledger.ErrConcurrentModification
	}
	t.Version++
	d.transactions[t.ID] = t.Clone()
	return nil
}

func (d *data) PendingStockTransaction(_ context.Context, clanID ledger.ClanID) (*ledger.Transaction, error) {
	for _, t := range d.transactions {
		if t.IsStock() && t.Status == ledger.StatusPending && t.Involves(clanID) {
			return t.Clone(), nil
		}
	}
	return nil, ledger.ErrRecordNotFound
}

func (d *data) ListPendingStockTransactions(_ context.Context) ([]*ledger.Transaction, error) {
	var out []*ledger.Transaction
	for _, t := range d.transactions {
		if t.IsStock() && t.Status == ledger.StatusPending {
			out = append(out, t.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (d *data) ListTransactions(_ context.Context, clanID ledger.ClanID, limit int) ([]*ledger.Transaction, error) {
	var out []*ledger.Transaction
	for _, t := range d.transactions {
		if t.Involves(clanID) {
			out = append(out, t.Clone())
		}
	}
	sortNewestFirst(out)
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(txs []*ledger.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}

func (d *data) StockRate(_ context.Context, day time.Time, symbol string) (*ledger.StockHistory, error) {
	h, ok := d.rates[rateKey{day: dayKey(day), symbol: symbol}]
	if !ok {
		return nil, ledger.ErrRecordNotFound
	}
	return &h, nil
}

func (d *data) SaveStockRate(_ context.Context, h ledger.StockHistory) error {
	d.rates[rateKey{day: dayKey(h.Date), symbol: h.Symbol}] = h
	return nil
}

func (d *data) Reset(_ context.Context) error {
	*d = *newData()
	return nil
}
