/*
Package storetest checks a ledger.TxStore against the persistence contract.

USAGE:

	func TestMemoryStore(t *testing.T) {
	    storetest.Run(t, func(t *testing.T) ledger.TxStore {
	        return store.NewMemory()
	    })
	}

Every subtest gets a fresh, empty store from the factory.
*/
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshy/clanwars/ledger"
)

// Factory returns an empty store.
type Factory func(t *testing.T) ledger.TxStore

var base = time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)

// Run executes the contract suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("ClanVersioning", func(t *testing.T) { testClanVersioning(t, newStore(t)) })
	t.Run("MissingRecords", func(t *testing.T) { testMissingRecords(t, newStore(t)) })
	t.Run("PlanetOwner", func(t *testing.T) { testPlanetOwner(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("SinglePendingStock", func(t *testing.T) { testSinglePendingStock(t, newStore(t)) })
	t.Run("TransactionVersioning", func(t *testing.T) { testTransactionVersioning(t, newStore(t)) })
	t.Run("ListTransactions", func(t *testing.T) { testListTransactions(t, newStore(t)) })
	t.Run("WithTx", func(t *testing.T) { testWithTx(t, newStore(t)) })
	t.Run("StockRates", func(t *testing.T) { testStockRates(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
}

func newClan(id ledger.ClanID, money int64) *ledger.Clan {
	return &ledger.Clan{
		ID:         id,
		Name:       string(id),
		Leader:     ledger.UserID("u-" + string(id)),
		Properties: ledger.ClanProperties{Money: money, Stocks: map[string]int64{"MINT": 5}},
		Position:   ledger.AtPlanet("p-1"),
	}
}

func pendingBuy(clanID ledger.ClanID, at time.Time) *ledger.Transaction {
	return &ledger.Transaction{
		ID:             ledger.NewTransactionID(),
		Owner:          ledger.ClanParty(clanID),
		Receiver:       ledger.MarketParty(),
		Status:         ledger.StatusPending,
		ConfirmRequire: 3,
		Confirmer:      []ledger.UserID{"u-leader"},
		Rejector:       []ledger.UserID{},
		Item:           ledger.Item{Stock: &ledger.StockItem{Symbol: "MINT", Rate: decimal.RequireFromString("10.5"), Amount: 4}},
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func planetClaim(clanID ledger.ClanID, planet ledger.PlanetID, at time.Time) *ledger.Transaction {
	return &ledger.Transaction{
		ID:        ledger.NewTransactionID(),
		Owner:     ledger.ClanParty(clanID),
		Receiver:  ledger.PlanetParty(planet),
		Status:    ledger.StatusSuccess,
		Confirmer: []ledger.UserID{},
		Rejector:  []ledger.UserID{},
		Item:      ledger.Item{Planets: []ledger.PlanetID{planet}},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func testClanVersioning(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, st.CreateClan(ctx, newClan("andromeda", 100)))

	// GIVEN: Two readers of the same version
	a, err := st.GetClan(ctx, "andromeda")
	require.NoError(t, err)
	b, err := st.GetClan(ctx, "andromeda")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Version)
	assert.True(t, a.Position.IsAt("p-1"))
	assert.Equal(t, int64(5), a.Holding("MINT"))

	// WHEN: Both write
	a.Properties.Money = 10
	require.NoError(t, st.SaveClan(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Properties.Money = 999
	err = st.SaveClan(ctx, b)

	// THEN: The second write loses
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	got, err := st.GetClan(ctx, "andromeda")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Properties.Money)
	assert.Equal(t, int64(2), got.Version)
}

func testMissingRecords(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()

	_, err := st.GetClan(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
	_, err = st.GetPlanet(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
	_, err = st.GetUser(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
	_, err = st.GetUserByUsername(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
	_, err = st.GetTransaction(ctx, ledger.NewTransactionID())
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
	_, err = st.PendingStockTransaction(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
	_, err = st.StockRate(ctx, base, "MINT")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)

	assert.Error(t, st.SaveClan(ctx, newClan("ghost", 1)))
}

func testPlanetOwner(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, st.CreatePlanet(ctx, &ledger.Planet{ID: "p-1", Name: "Proxima", Visitor: 2, Redeem: "ALPHA"}))

	p, err := st.GetPlanet(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, p.IsOwned())
	assert.Equal(t, "ALPHA", p.Redeem)

	owner := ledger.ClanID("andromeda")
	p.Owner = &owner
	p.Visitor = 0
	require.NoError(t, st.SavePlanet(ctx, p))

	got, err := st.GetPlanet(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, got.OwnedBy("andromeda"))
	assert.Equal(t, 0, got.Visitor)
	assert.Equal(t, int64(2), got.Version)
}

func testUsers(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, st.CreateUser(ctx, &ledger.User{
		ID: "u-alice", Username: "alice", Role: ledger.RoleMember, ClanID: "andromeda",
		Properties: map[string]int64{"fuel_cards": 2},
	}))

	byID, err := st.GetUser(ctx, "u-alice")
	require.NoError(t, err)
	byName, err := st.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, byID.ID, byName.ID)
	assert.Equal(t, ledger.ClanID("andromeda"), byName.ClanID)
	assert.Equal(t, int64(2), byName.Properties["fuel_cards"])
}

func testSinglePendingStock(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()

	// GIVEN: A pending trade for andromeda
	first := pendingBuy("andromeda", base)
	require.NoError(t, st.CreateTransaction(ctx, first))

	// WHEN: A second pending trade is inserted for the same clan
	err := st.CreateTransaction(ctx, pendingBuy("andromeda", base.Add(time.Second)))

	// THEN: The store refuses it
	assert.ErrorIs(t, err, ledger.ErrPendingExists)

	// Other clans and planet transfers are unaffected
	require.NoError(t, st.CreateTransaction(ctx, pendingBuy("orion", base)))
	require.NoError(t, st.CreateTransaction(ctx, planetClaim("andromeda", "p-1", base)))
	require.NoError(t, st.CreateTransaction(ctx, planetClaim("andromeda", "p-2", base)))

	pending, err := st.ListPendingStockTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// Once the first settles, a new one may open
	first.Status = ledger.StatusReject
	require.NoError(t, st.SaveTransaction(ctx, first))
	next := pendingBuy("andromeda", base.Add(time.Minute))
	require.NoError(t, st.CreateTransaction(ctx, next))

	got, err := st.PendingStockTransaction(ctx, "andromeda")
	require.NoError(t, err)
	assert.Equal(t, next.ID, got.ID)
	assert.True(t, got.Item.Stock.Rate.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, ledger.MethodBuy, got.Method())
}

func testTransactionVersioning(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	tx := pendingBuy("andromeda", base)
	require.NoError(t, st.CreateTransaction(ctx, tx))

	a, err := st.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	b, err := st.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)

	a.Confirmer = append(a.Confirmer, "u-bob")
	require.NoError(t, st.SaveTransaction(ctx, a))

	b.Status = ledger.StatusReject
	assert.ErrorIs(t, st.SaveTransaction(ctx, b), ledger.ErrConcurrentModification)

	got, err := st.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, got.Status)
	assert.Equal(t, []ledger.UserID{"u-leader", "u-bob"}, got.Confirmer)
	assert.True(t, got.CreatedAt.Equal(base))
}

func testListTransactions(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	var ids []ledger.TransactionID
	for i := 0; i < 3; i++ {
		tx := planetClaim("andromeda", ledger.PlanetID("p-"+string(rune('a'+i))), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, st.CreateTransaction(ctx, tx))
		ids = append(ids, tx.ID)
	}
	require.NoError(t, st.CreateTransaction(ctx, planetClaim("orion", "p-z", base)))

	txs, err := st.ListTransactions(ctx, "andromeda", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ids[2], txs[0].ID)
	assert.Equal(t, ids[1], txs[1].ID)

	all, err := st.ListTransactions(ctx, "andromeda", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testWithTx(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, st.CreateClan(ctx, newClan("andromeda", 100)))
	boom := errors.New("boom")

	// Rollback
	err := st.WithTx(ctx, func(s ledger.Store) error {
		c, err := s.GetClan(ctx, "andromeda")
		if err != nil {
			return err
		}
		c.Properties.Money = 50
		if err := s.SaveClan(ctx, c); err != nil {
			return err
		}
		if err := s.CreateTransaction(ctx, pendingBuy("andromeda", base)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c, err := st.GetClan(ctx, "andromeda")
	require.NoError(t, err)
	assert.Equal(t, int64(100), c.Properties.Money)
	_, err = st.PendingStockTransaction(ctx, "andromeda")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)

	// Commit
	err = st.WithTx(ctx, func(s ledger.Store) error {
		c, err := s.GetClan(ctx, "andromeda")
		if err != nil {
			return err
		}
		c.Properties.Money = 70
		return s.SaveClan(ctx, c)
	})
	require.NoError(t, err)

	c, err = st.GetClan(ctx, "andromeda")
	require.NoError(t, err)
	assert.Equal(t, int64(70), c.Properties.Money)
}

func testStockRates(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.FixedZone("ICT", 7*60*60))

	require.NoError(t, st.SaveStockRate(ctx, ledger.StockHistory{Date: day, Symbol: "MINT", Rate: decimal.NewFromInt(10)}))
	require.NoError(t, st.SaveStockRate(ctx, ledger.StockHistory{Date: day, Symbol: "MINT", Rate: decimal.RequireFromString("12.25")}))

	h, err := st.StockRate(ctx, day, "MINT")
	require.NoError(t, err)
	assert.True(t, h.Rate.Equal(decimal.RequireFromString("12.25")), "got %s", h.Rate)

	_, err = st.StockRate(ctx, day.AddDate(0, 0, 1), "MINT")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
	_, err = st.StockRate(ctx, day, "ECML")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

func testReset(t *testing.T, st ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, st.CreateClan(ctx, newClan("andromeda", 100)))
	require.NoError(t, st.CreateUser(ctx, &ledger.User{ID: "u-alice", Username: "alice"}))
	require.NoError(t, st.CreateTransaction(ctx, pendingBuy("andromeda", base)))

	require.NoError(t, st.Reset(ctx))

	clans, err := st.ListClans(ctx)
	require.NoError(t, err)
	assert.Empty(t, clans)
	_, err = st.GetUser(ctx, "u-alice")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)

	// The store is usable afterwards
	require.NoError(t, st.CreateTransaction(ctx, pendingBuy("andromeda", base)))
}
