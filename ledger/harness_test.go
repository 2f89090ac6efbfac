package ledger_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/freshy/clanwars/ledger"
	"github.com/freshy/clanwars/ledger/store"
	"github.com/freshy/clanwars/realtime"
	"github.com/freshy/clanwars/store/sqlite"
)

// =============================================================================
// TEST WORLD
// =============================================================================
//
//   andromeda: leader alice, members bob carol dave erin, money 1000,
//              standing on p-proxima
//   orion:     leader olga, member pete, money 500, MINT 50,
//              standing on p-vega (which it owns)
//   planets:   p-proxima (ALPHA), p-vega (BETA, orion), p-sirius (DOG)
//   rates:     MINT 10, ECML 25.5 on the market day of noon
//   hours:     09:00-22:00 ICT, ConfirmRequire 3

var ict = time.FixedZone("ICT", 7*60*60)

// noon is a Monday at midday, market open.
var noon = time.Date(2026, 3, 2, 12, 0, 0, 0, ict)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   ledger.TxStore
	events  *realtime.Recorder
	clock   *clock
	stocks  *ledger.StockService
	redeems *ledger.RedeemService
}

// forEachStore runs fn against a fresh world on every store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, h *harness)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newHarness(t, store.NewMemory()))
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		fn(t, newHarness(t, st))
	})
}

func newHarness(t *testing.T, st ledger.TxStore) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  st,
		events: realtime.NewRecorder(),
		clock:  &clock{now: noon},
	}

	h.stocks = ledger.NewStockService(st, h.events, ledger.StockConfig{
		Symbols:        ledger.DefaultSymbols,
		ConfirmRequire: 3,
		Hours:          ledger.DefaultMarketHours(ict),
	})
	h.stocks.Now = h.clock.Now
	h.stocks.Logger = logger

	h.redeems = ledger.NewRedeemService(st, h.events)
	h.redeems.Now = h.clock.Now
	h.redeems.Logger = logger

	h.seed()
	return h
}

func (h *harness) seed() {
	t, ctx := h.t, h.ctx
	t.Helper()

	orion := ledger.ClanID("orion")
	require.NoError(t, h.store.CreateClan(ctx, &ledger.Clan{
		ID:         "andromeda",
		Name:       "Andromeda",
		Leader:     "u-alice",
		Properties: ledger.ClanProperties{Money: 1000, Fuel: 20, Stocks: map[string]int64{}},
		Position:   ledger.AtPlanet("p-proxima"),
	}))
	require.NoError(t, h.store.CreateClan(ctx, &ledger.Clan{
		ID:             orion,
		Name:           "Orion",
		Leader:         "u-olga",
		Properties:     ledger.ClanProperties{Money: 500, Stocks: map[string]int64{"MINT": 50}},
		OwnedPlanetIDs: []ledger.PlanetID{"p-vega"},
		Position:       ledger.AtPlanet("p-vega"),
	}))

	for _, p := range []*ledger.Planet{
		{ID: "p-proxima", Name: "Proxima", Visitor: 3, Redeem: "ALPHA"},
		{ID: "p-vega", Name: "Vega", Redeem: "BETA", Owner: &orion},
		{ID: "p-sirius", Name: "Sirius", Redeem: "DOG"},
	} {
		require.NoError(t, h.store.CreatePlanet(ctx, p))
	}

	for _, u := range []*ledger.User{
		{ID: "u-alice", Username: "alice", Role: ledger.RoleMember, ClanID: "andromeda"},
		{ID: "u-bob", Username: "bob", Role: ledger.RoleMember, ClanID: "andromeda"},
		{ID: "u-carol", Username: "carol", Role: ledger.RoleMember, ClanID: "andromeda"},
		{ID: "u-dave", Username: "dave", Role: ledger.RoleMember, ClanID: "andromeda"},
		{ID: "u-erin", Username: "erin", Role: ledger.RoleMember, ClanID: "andromeda"},
		{ID: "u-olga", Username: "olga", Role: ledger.RoleMember, ClanID: orion},
		{ID: "u-pete", Username: "pete", Role: ledger.RoleMember, ClanID: orion},
		{ID: "u-admin", Username: "admin", Role: ledger.RoleAdmin},
		{ID: "u-mod", Username: "mod", Role: ledger.RoleMod},
	} {
		require.NoError(t, h.store.CreateUser(ctx, u))
	}

	h.setRate("MINT", "10")
	h.setRate("ECML", "25.5")
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *harness) user(id ledger.UserID) *ledger.User {
	h.t.Helper()
	u, err := h.store.GetUser(h.ctx, id)
	require.NoError(h.t, err)
	return u
}

func (h *harness) clan(id ledger.ClanID) *ledger.Clan {
	h.t.Helper()
	c, err := h.store.GetClan(h.ctx, id)
	require.NoError(h.t, err)
	return c
}

func (h *harness) planet(id ledger.PlanetID) *ledger.Planet {
	h.t.Helper()
	p, err := h.store.GetPlanet(h.ctx, id)
	require.NoError(h.t, err)
	return p
}

func (h *harness) transaction(id ledger.TransactionID) *ledger.Transaction {
	h.t.Helper()
	tx, err := h.store.GetTransaction(h.ctx, id)
	require.NoError(h.t, err)
	return tx
}

// updateClan applies fn to the stored clan, as another part of the game would.
func (h *harness) updateClan(id ledger.ClanID, fn func(c *ledger.Clan)) {
	h.t.Helper()
	c := h.clan(id)
	fn(c)
	require.NoError(h.t, h.store.SaveClan(h.ctx, c))
}

func (h *harness) setRate(symbol, rate string) {
	h.t.Helper()
	require.NoError(h.t, h.store.SaveStockRate(h.ctx, ledger.StockHistory{
		Date:   h.stocks.Config.Hours.Day(h.clock.Now()),
		Symbol: symbol,
		Rate:   decimal.RequireFromString(rate),
	}))
}

// open has the leader of clanID create a trade and fails the test on denial.
func (h *harness) open(clanID ledger.ClanID, leader ledger.UserID, method, symbol, amount string) *ledger.Transaction {
	h.t.Helper()
	tx, err := h.stocks.Create(h.ctx, h.user(leader), clanID, ledger.StockOrder{Method: method, Symbol: symbol, Amount: amount})
	require.NoError(h.t, err)
	return tx
}

func (h *harness) confirm(id ledger.UserID, tx *ledger.Transaction) (*ledger.Transaction, error) {
	return h.stocks.Confirm(h.ctx, h.user(id), h.user(id).ClanID, string(tx.ID))
}

func (h *harness) reject(id ledger.UserID, tx *ledger.Transaction) (*ledger.Transaction, error) {
	return h.stocks.Reject(h.ctx, h.user(id), h.user(id).ClanID, string(tx.ID))
}

func (h *harness) redeem(actor ledger.UserID, clanID ledger.ClanID, planet ledger.PlanetID, code string) (*ledger.RedeemResult, error) {
	return h.redeems.Redeem(h.ctx, h.user(actor), clanID, ledger.RedeemRequest{Code: code, PlanetID: planet})
}

// at returns noon's market day at the given wall-clock time.
func at(hour, minute, second int) time.Time {
	return time.Date(noon.Year(), noon.Month(), noon.Day(), hour, minute, second, 0, ict)
}
