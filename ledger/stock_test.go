package ledger_test

import (
	"context"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshy/clanwars/ledger"
)

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestStock_BuySettlesOnQuorum(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: Alice opens BUY 20 MINT at 10
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "20")
		assert.Equal(t, ledger.StatusPending, tx.Status)
		assert.Equal(t, []ledger.UserID{"u-alice"}, tx.Confirmer)
		assert.True(t, tx.Owner.IsClan("andromeda"))
		assert.True(t, tx.Receiver.IsMarket())

		// WHEN: Three members confirm
		got, err := h.confirm("u-bob", tx)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, got.Status)

		got, err = h.confirm("u-carol", tx)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, got.Status)
		assert.Equal(t, int64(1000), h.clan("andromeda").Properties.Money, "no money moves before quorum")

		got, err = h.confirm("u-dave", tx)
		require.NoError(t, err)

		// THEN: The third member's confirmation settles the trade
		assert.Equal(t, ledger.StatusSuccess, got.Status)
		assert.Len(t, got.Confirmer, 4)

		clan := h.clan("andromeda")
		assert.Equal(t, int64(800), clan.Properties.Money)
		assert.Equal(t, int64(20), clan.Holding("MINT"))
		assert.Equal(t, ledger.StatusSuccess, h.transaction(tx.ID).Status)

		_, err = h.stocks.Pending(h.ctx, "andromeda")
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		money, ok := h.events.Last(ledger.EventClanMoney)
		require.True(t, ok)
		assert.Equal(t, "andromeda", money.Subject)
		assert.Equal(t, int64(800), money.Payload)

		task, ok := h.events.Last(ledger.EventTaskStock)
		require.True(t, ok)
		assert.Nil(t, task.Payload)
	})
}

func TestStock_SellCreditsFloor(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: Andromeda holds 10 ECML, rate 25.5
		h.updateClan("andromeda", func(c *ledger.Clan) { c.Properties.Stocks["ECML"] = 10 })

		// WHEN: SELL 5 ECML (127.5) reaches quorum
		tx := h.open("andromeda", "u-alice", "sell", "ecml", "5")
		assert.Equal(t, ledger.MethodSell, tx.Method())
		assert.True(t, tx.Owner.IsMarket())
		for _, id := range []ledger.UserID{"u-bob", "u-carol", "u-dave"} {
			_, err := h.confirm(id, tx)
			require.NoError(t, err)
		}

		// THEN: The clan is credited 127 and keeps 5 shares
		clan := h.clan("andromeda")
		assert.Equal(t, int64(1127), clan.Properties.Money)
		assert.Equal(t, int64(5), clan.Holding("ECML"))
	})
}

func TestStock_BuyDebitsCeil(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// BUY 3 ECML at 25.5 = 76.5
		tx := h.open("andromeda", "u-alice", "BUY", "ECML", "3")
		for _, id := range []ledger.UserID{"u-bob", "u-carol", "u-dave"} {
			_, err := h.confirm(id, tx)
			require.NoError(t, err)
		}
		assert.Equal(t, int64(923), h.clan("andromeda").Properties.Money)
	})
}

func TestStock_BalanceSpentBeforeSettlement(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: A trade worth the whole treasury
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "100")
		_, err := h.confirm("u-bob", tx)
		require.NoError(t, err)
		_, err = h.confirm("u-carol", tx)
		require.NoError(t, err)

		// AND: Half the money is spent elsewhere
		h.updateClan("andromeda", func(c *ledger.Clan) { c.Properties.Money = 500 })

		// WHEN: The last confirmation arrives
		got, err := h.confirm("u-dave", tx)

		// THEN: The trade is rejected, nothing goes negative
		assert.ErrorIs(t, err, ledger.ErrPrecondition)
		assert.Equal(t, "You don't have enough money to buy", ledger.Message(err))
		require.NotNil(t, got)
		assert.Equal(t, ledger.StatusReject, got.Status)
		assert.Equal(t, ledger.StatusReject, h.transaction(tx.ID).Status)

		clan := h.clan("andromeda")
		assert.Equal(t, int64(500), clan.Properties.Money)
		assert.Equal(t, int64(0), clan.Holding("MINT"))
	})
}

func TestStock_HugeBuyCannotWrapCost(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: 1844674407370955162 MINT at 10 costs just over 2^64
		_, err := h.stocks.Create(h.ctx, h.user("u-alice"), "andromeda",
			ledger.StockOrder{Method: "BUY", Symbol: "MINT", Amount: "1844674407370955162"})

		// THEN: Refused up front, nothing pending, nothing spent
		assert.ErrorIs(t, err, ledger.ErrValidation)
		_, err = h.stocks.Pending(h.ctx, "andromeda")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		clan := h.clan("andromeda")
		assert.Equal(t, int64(1000), clan.Properties.Money)
		assert.Equal(t, int64(0), clan.Holding("MINT"))

		// AND: The largest allowed order is judged on its real cost
		_, err = h.stocks.Create(h.ctx, h.user("u-alice"), "andromeda",
			ledger.StockOrder{Method: "BUY", Symbol: "MINT", Amount: "1000000000"})
		assert.Equal(t, "You don't have enough money to buy this stock", ledger.Message(err))
	})
}

func TestStock_SettlementNeverOverflows(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		before  func(c *ledger.Clan)
		squeeze func(c *ledger.Clan)
		message string
	}{
		{
			name:    "buy into a full holding",
			method:  "BUY",
			squeeze: func(c *ledger.Clan) { setHolding(c, "MINT", math.MaxInt64-5) },
			message: "Your clan cannot hold that many stocks",
		},
		{
			name:    "sell into a full treasury",
			method:  "SELL",
			before:  func(c *ledger.Clan) { setHolding(c, "MINT", 20) },
			squeeze: func(c *ledger.Clan) { c.Properties.Money = math.MaxInt64 - 100 },
			message: "Your clan cannot hold that much money",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachStore(t, func(t *testing.T, h *harness) {
				// GIVEN: A 20 MINT trade (200 money) is pending
				if tt.before != nil {
					h.updateClan("andromeda", tt.before)
				}
				tx := h.open("andromeda", "u-alice", tt.method, "MINT", "20")
				_, err := h.confirm("u-bob", tx)
				require.NoError(t, err)
				_, err = h.confirm("u-carol", tx)
				require.NoError(t, err)

				// AND: The clan's balances grow near the int64 ceiling
				h.updateClan("andromeda", tt.squeeze)
				before := h.clan("andromeda")

				// WHEN: The last confirmation arrives
				got, err := h.confirm("u-dave", tx)

				// THEN: Rejected, balances untouched
				assert.ErrorIs(t, err, ledger.ErrPrecondition)
				assert.Equal(t, tt.message, ledger.Message(err))
				require.NotNil(t, got)
				assert.Equal(t, ledger.StatusReject, got.Status)

				after := h.clan("andromeda")
				assert.Equal(t, before.Properties.Money, after.Properties.Money)
				assert.Equal(t, before.Holding("MINT"), after.Holding("MINT"))
			})
		})
	}
}

func setHolding(c *ledger.Clan, symbol string, n int64) {
	if c.Properties.Stocks == nil {
		c.Properties.Stocks = map[string]int64{}
	}
	c.Properties.Stocks[symbol] = n
}

func TestStock_ConcurrentConfirmationsSettleOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "20")

		var wg sync.WaitGroup
		errs := make(chan error, 4)
		for _, id := range []ledger.UserID{"u-bob", "u-carol", "u-dave", "u-erin"} {
			actor := h.user(id)
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.stocks.Confirm(h.ctx, actor, "andromeda", string(tx.ID))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		// Exactly one voter arrives after settlement
		late := 0
		for err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, ledger.ErrPrecondition)
				late++
			}
		}
		assert.Equal(t, 1, late)

		clan := h.clan("andromeda")
		assert.Equal(t, int64(800), clan.Properties.Money)
		assert.Equal(t, int64(20), clan.Holding("MINT"))
	})
}

// =============================================================================
// STALE PRICE AND MARKET HOURS
// =============================================================================

func TestStock_PriceChangeForcesReject(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: A pending trade at 10 with one confirmation
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "20")
		_, err := h.confirm("u-bob", tx)
		require.NoError(t, err)

		// WHEN: The rate moves and another member confirms
		h.setRate("MINT", "11")
		got, err := h.confirm("u-carol", tx)

		// THEN: Denied as stale and the trade is rejected
		assert.ErrorIs(t, err, ledger.ErrStale)
		assert.Equal(t, "The price has been changed", ledger.Message(err))
		require.NotNil(t, got)
		assert.Equal(t, ledger.StatusReject, got.Status)
		assert.Equal(t, ledger.StatusReject, h.transaction(tx.ID).Status)
		assert.Equal(t, int64(1000), h.clan("andromeda").Properties.Money)

		// AND: The clan may open a new trade at the new price
		next := h.open("andromeda", "u-alice", "BUY", "MINT", "20")
		assert.Equal(t, "11", next.Item.Stock.Rate.String())
	})
}

func TestStock_MarketHoursGateCreate(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		alice := h.user("u-alice")
		order := ledger.StockOrder{Method: "BUY", Symbol: "MINT", Amount: "1"}

		for _, closed := range []struct {
			name string
			hour int
			min  int
			sec  int
		}{
			{"before open", 8, 59, 59},
			{"at close", 22, 0, 0},
			{"late night", 23, 30, 0},
		} {
			h.clock.Set(at(closed.hour, closed.min, closed.sec))
			_, err := h.stocks.Create(h.ctx, alice, "andromeda", order)
			assert.ErrorIs(t, err, ledger.ErrPrecondition, closed.name)
			assert.Equal(t, "market closed!!!", ledger.Message(err), closed.name)
		}

		h.clock.Set(at(9, 0, 0))
		_, err := h.stocks.Create(h.ctx, alice, "andromeda", order)
		assert.NoError(t, err, "the window includes the opening instant")
	})
}

func TestStock_VoteAfterCloseRejects(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "20")
		h.clock.Set(at(22, 30, 0))

		got, err := h.confirm("u-bob", tx)

		assert.ErrorIs(t, err, ledger.ErrPrecondition)
		assert.Equal(t, "market closed!!! This transaction will be rejected!!!!", ledger.Message(err))
		require.NotNil(t, got)
		assert.Equal(t, ledger.StatusReject, got.Status)
		assert.Equal(t, []ledger.UserID{"u-alice"}, h.transaction(tx.ID).Confirmer)
	})
}

func TestStock_ExpirePending(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "20")
		other := h.open("orion", "u-olga", "SELL", "MINT", "5")

		// Nothing expires while the market is open
		n, err := h.stocks.ExpirePending(h.ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		// After close both are rejected
		h.clock.Set(at(22, 0, 1))
		h.events.Reset()
		n, err = h.stocks.ExpirePending(h.ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, ledger.StatusReject, h.transaction(tx.ID).Status)
		assert.Equal(t, ledger.StatusReject, h.transaction(other.ID).Status)
		assert.Len(t, h.events.Events(ledger.EventTaskStock), 2)

		// A second sweep finds nothing
		n, err = h.stocks.ExpirePending(h.ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

// staleListing reports extra transactions as pending, like a listing taken
// just before a concurrent vote or delete.
type staleListing struct {
	ledger.TxStore
	extra []*ledger.Transaction
}

func (s staleListing) ListPendingStockTransactions(ctx context.Context) ([]*ledger.Transaction, error) {
	pending, err := s.TxStore.ListPendingStockTransactions(ctx)
	return append(slices.Clone(s.extra), pending...), err
}

func TestStock_ExpirePendingSurvivesFailures(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: Orion's trade was vetoed, Andromeda's is pending
		vetoed := h.open("orion", "u-olga", "SELL", "MINT", "5")
		_, err := h.reject("u-olga", vetoed)
		require.NoError(t, err)
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "20")

		// AND: The listing is out of date, a gone trade comes first
		gone := &ledger.Transaction{ID: ledger.NewTransactionID(), Status: ledger.StatusPending}
		stocks := ledger.NewStockService(staleListing{
			TxStore: h.store,
			extra:   []*ledger.Transaction{gone, h.transaction(vetoed.ID)},
		}, h.events, h.stocks.Config)
		stocks.Now = h.clock.Now
		stocks.Logger = h.stocks.Logger

		// WHEN: The market closes and the sweep runs
		h.clock.Set(at(22, 0, 1))
		h.events.Reset()
		n, err := stocks.ExpirePending(h.ctx)

		// THEN: The failure is reported but the pending trade still expires
		assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
		assert.Contains(t, err.Error(), string(gone.ID))
		assert.Equal(t, 1, n)
		assert.Equal(t, ledger.StatusReject, h.transaction(tx.ID).Status)

		// AND: The vetoed trade is left alone
		assert.Len(t, h.events.Events(ledger.EventTaskStock), 1)
		assert.True(t, h.transaction(vetoed.ID).UpdatedAt.Equal(noon))
	})
}

// =============================================================================
// VOTING RULES
// =============================================================================

func TestStock_LeaderVeto(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: A trade with a member's confirmation
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "20")
		_, err := h.confirm("u-bob", tx)
		require.NoError(t, err)

		// WHEN: The leader, who confirmed by creating, rejects
		got, err := h.reject("u-alice", tx)

		// THEN: The trade is rejected at once
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusReject, got.Status)
		assert.Equal(t, []ledger.UserID{"u-alice"}, got.Rejector)

		_, err = h.confirm("u-carol", tx)
		assert.Equal(t, "you are too late!!! this confirmation is already REJECT", ledger.Message(err))
	})
}

func TestStock_RejectQuorum(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "20")

		got, err := h.reject("u-bob", tx)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, got.Status)

		got, err = h.reject("u-carol", tx)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, got.Status)

		got, err = h.reject("u-dave", tx)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusReject, got.Status)
		assert.Len(t, got.Rejector, 3)
		assert.Equal(t, int64(1000), h.clan("andromeda").Properties.Money)
	})
}

func TestStock_DoubleVotes(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "20")

		tests := []struct {
			name  string
			vote  func() (*ledger.Transaction, error)
			wants string
		}{
			{"leader confirms own trade", func() (*ledger.Transaction, error) { return h.confirm("u-alice", tx) }, "You already accepted"},
			{"bob confirms", func() (*ledger.Transaction, error) { return h.confirm("u-bob", tx) }, ""},
			{"bob confirms again", func() (*ledger.Transaction, error) { return h.confirm("u-bob", tx) }, "You already accepted"},
			{"bob rejects after confirming", func() (*ledger.Transaction, error) { return h.reject("u-bob", tx) }, "You already accepted"},
			{"carol rejects", func() (*ledger.Transaction, error) { return h.reject("u-carol", tx) }, ""},
			{"carol rejects again", func() (*ledger.Transaction, error) { return h.reject("u-carol", tx) }, "You already rejected"},
			{"carol confirms after rejecting", func() (*ledger.Transaction, error) { return h.confirm("u-carol", tx) }, "You already rejected"},
		}

		for _, tt := range tests {
			_, err := tt.vote()
			if tt.wants == "" {
				assert.NoError(t, err, tt.name)
				continue
			}
			assert.ErrorIs(t, err, ledger.ErrPrecondition, tt.name)
			assert.Equal(t, tt.wants, ledger.Message(err), tt.name)
		}

		stored := h.transaction(tx.ID)
		assert.Equal(t, ledger.StatusPending, stored.Status)
		assert.Equal(t, []ledger.UserID{"u-alice", "u-bob"}, stored.Confirmer)
		assert.Equal(t, []ledger.UserID{"u-carol"}, stored.Rejector)
	})
}

func TestStock_TooLateAfterSuccess(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "1")
		for _, id := range []ledger.UserID{"u-bob", "u-carol", "u-dave"} {
			_, err := h.confirm(id, tx)
			require.NoError(t, err)
		}

		_, err := h.confirm("u-erin", tx)
		assert.Equal(t, "you are too late!!! this confirmation is already SUCCESS", ledger.Message(err))
		_, err = h.reject("u-erin", tx)
		assert.Equal(t, "you are too late!!! this confirmation is already SUCCESS", ledger.Message(err))
		assert.Equal(t, int64(990), h.clan("andromeda").Properties.Money)
	})
}

func TestStock_OtherClanCannotVote(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "20")
		olga := h.user("u-olga")

		// Voting through andromeda's path while belonging to orion
		_, err := h.stocks.Confirm(h.ctx, olga, "andromeda", string(tx.ID))
		assert.ErrorIs(t, err, ledger.ErrUnauthorized)

		// Voting through orion's path on andromeda's transaction
		_, err = h.stocks.Reject(h.ctx, olga, "orion", string(tx.ID))
		assert.ErrorIs(t, err, ledger.ErrUnauthorized)
		assert.Equal(t, "This transaction is belong to other clan. What do you want???", ledger.Message(err))

		assert.Empty(t, h.transaction(tx.ID).Rejector)
	})
}

func TestStock_VoteLookupErrors(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		bob := h.user("u-bob")

		_, err := h.stocks.Confirm(h.ctx, bob, "andromeda", "")
		assert.ErrorIs(t, err, ledger.ErrValidation)

		_, err = h.stocks.Confirm(h.ctx, bob, "andromeda", "not-a-uuid")
		assert.ErrorIs(t, err, ledger.ErrValidation)

		_, err = h.stocks.Reject(h.ctx, bob, "andromeda", uuid.NewString())
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		assert.Equal(t, "transaction not found", ledger.Message(err))
	})
}

// =============================================================================
// CREATE VALIDATION
// =============================================================================

func TestStock_CreateDenials(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		tests := []struct {
			name    string
			actor   ledger.UserID
			clan    ledger.ClanID
			order   ledger.StockOrder
			kind    error
			message string
		}{
			{"missing method", "u-alice", "andromeda", ledger.StockOrder{Symbol: "MINT", Amount: "1"}, ledger.ErrValidation, "method or symbol not defined"},
			{"missing symbol", "u-alice", "andromeda", ledger.StockOrder{Method: "BUY", Amount: "1"}, ledger.ErrValidation, "method or symbol not defined"},
			{"bad method", "u-alice", "andromeda", ledger.StockOrder{Method: "HOLD", Symbol: "MINT", Amount: "1"}, ledger.ErrValidation, "BUY or SELL only!!!"},
			{"unknown symbol", "u-alice", "andromeda", ledger.StockOrder{Method: "BUY", Symbol: "DOGE", Amount: "1"}, ledger.ErrValidation, "the symbol does not exist"},
			{"fractional amount", "u-alice", "andromeda", ledger.StockOrder{Method: "BUY", Symbol: "MINT", Amount: "1.5"}, ledger.ErrValidation, "amount must be a whole number"},
			{"text amount", "u-alice", "andromeda", ledger.StockOrder{Method: "BUY", Symbol: "MINT", Amount: "abc"}, ledger.ErrValidation, "amount is not a number"},
			{"zero amount", "u-alice", "andromeda", ledger.StockOrder{Method: "BUY", Symbol: "MINT", Amount: "0"}, ledger.ErrValidation, "amount must be greater than 0"},
			{"amount past int64 total", "u-alice", "andromeda", ledger.StockOrder{Method: "BUY", Symbol: "MINT", Amount: "1844674407370955162"}, ledger.ErrValidation, "amount must be at most 1000000000"},
			{"unknown clan", "u-alice", "nebula", ledger.StockOrder{Method: "BUY", Symbol: "MINT", Amount: "1"}, ledger.ErrNotFound, "clan not found"},
			{"member", "u-bob", "andromeda", ledger.StockOrder{Method: "BUY", Symbol: "MINT", Amount: "1"}, ledger.ErrUnauthorized, "Please ask leader to perform this action"},
			{"other clan's leader", "u-olga", "andromeda", ledger.StockOrder{Method: "BUY", Symbol: "MINT", Amount: "1"}, ledger.ErrUnauthorized, "Please ask leader to perform this action"},
			{"no price today", "u-alice", "andromeda", ledger.StockOrder{Method: "BUY", Symbol: "HCA", Amount: "1"}, ledger.ErrPrecondition, "the price of HCA is not available today"},
			{"too expensive", "u-alice", "andromeda", ledger.StockOrder{Method: "BUY", Symbol: "MINT", Amount: "101"}, ledger.ErrPrecondition, "You don't have enough money to buy this stock"},
			{"selling unheld stock", "u-alice", "andromeda", ledger.StockOrder{Method: "SELL", Symbol: "MINT", Amount: "1"}, ledger.ErrPrecondition, "You don't have enough stock to sell"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := h.stocks.Create(h.ctx, h.user(tt.actor), tt.clan, tt.order)
				assert.ErrorIs(t, err, tt.kind)
				assert.Equal(t, tt.message, ledger.Message(err))
			})
		}

		_, err := h.stocks.Pending(h.ctx, "andromeda")
		assert.Equal(t, "there is no pending stock transaction", ledger.Message(err))
	})
}

func TestStock_SinglePendingPerClan(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		first := h.open("andromeda", "u-alice", "BUY", "MINT", "1")

		_, err := h.stocks.Create(h.ctx, h.user("u-alice"), "andromeda",
			ledger.StockOrder{Method: "BUY", Symbol: "ECML", Amount: "1"})
		assert.ErrorIs(t, err, ledger.ErrPrecondition)
		assert.Equal(t, "There are still pending stock's transaction", ledger.Message(err))

		// Orion is independent
		h.open("orion", "u-olga", "SELL", "MINT", "1")

		pending, err := h.stocks.Pending(h.ctx, "andromeda")
		require.NoError(t, err)
		assert.Equal(t, first.ID, pending.ID)
	})
}

func TestStock_CreateChecksLeaderFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: Andromeda has a pending trade
		h.open("andromeda", "u-alice", "BUY", "MINT", "1")

		// WHEN: A member tries to open another, on a symbol with no price
		_, err := h.stocks.Create(h.ctx, h.user("u-bob"), "andromeda",
			ledger.StockOrder{Method: "BUY", Symbol: "HCA", Amount: "1"})

		// THEN: The leader rule is reported before the pending and price rules
		assert.ErrorIs(t, err, ledger.ErrUnauthorized)
		assert.Equal(t, "Please ask leader to perform this action", ledger.Message(err))
	})
}

func TestStock_CreateEmitsPendingTask(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		tx := h.open("andromeda", "u-alice", "BUY", "MINT", "2")

		msg, ok := h.events.Last(ledger.EventTaskStock)
		require.True(t, ok)
		assert.Equal(t, "andromeda", msg.Subject)
		pending, ok := msg.Payload.(*ledger.Transaction)
		require.True(t, ok)
		assert.Equal(t, tx.ID, pending.ID)

		_, ok = h.events.Last(ledger.EventTransaction)
		assert.True(t, ok)
	})
}
