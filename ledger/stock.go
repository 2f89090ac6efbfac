/*
stock.go - Multi-signature stock trading against the market

PURPOSE:
  A clan trades stock with the market through a PENDING transaction that
  members confirm or reject. The trade settles once enough distinct members
  confirm; the leader can veto at any time.

STATE MACHINE:

	         Create (leader)
	               │
	               ▼
	         ┌──────────┐   confirm x ConfirmRequire   ┌─────────┐
	         │ PENDING  │ ───────────────────────────▶ │ SUCCESS │
	         └──────────┘                              └─────────┘
	               │  leader reject / reject quorum /
	               │  market closed / price moved /
	               │  balance gone at settlement
	               ▼
	         ┌──────────┐
	         │  REJECT  │
	         └──────────┘

MONEY PERSPECTIVE:
  The owner of a transaction is the party money flows out of.
  BUY:  owner = Clan,   receiver = Market
  SELL: owner = Market, receiver = Clan

RE-VALIDATION:
  Confirmations may be hours apart, so every transition re-reads the
  transaction, the day's rate and the clan inside one store transaction.
  The balance check is repeated at settlement; a balance spent elsewhere
  turns into a REJECT, never into a negative balance.

SEE ALSO:
  - votes.go: Quorum and double-vote predicates
  - market.go: Market hours
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// DefaultSymbols are the tradable stock symbols.
var DefaultSymbols = []string{"MINT", "ECML", "HCA", "LING", "MALP"}

// DefaultConfirmRequire is the number of confirmations needed beyond the initiator.
const DefaultConfirmRequire = 3

// StockConfig holds the market rules.
type StockConfig struct {
	Symbols        []string
	ConfirmRequire int
	Hours          MarketHours
}

// StockOrder is a trade request as typed by the leader. Amount is kept as
// text so that non-numeric input is reported by the engine.
type StockOrder struct {
	Method string
	Symbol string
	Amount string
}

// StockService runs the stock transaction lifecycle.
type StockService struct {
	Store    TxStore
	Notifier Notifier
	Alerter  Alerter
	Config   StockConfig
	Logger   *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewStockService creates a service with no-op alerts and the default logger.
func NewStockService(store TxStore, notifier Notifier, cfg StockConfig) *StockService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if cfg.ConfirmRequire <= 0 {
		cfg.ConfirmRequire = DefaultConfirmRequire
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = DefaultSymbols
	}
	if cfg.Hours.Open == cfg.Hours.Close {
		cfg.Hours = DefaultMarketHours(cfg.Hours.Location)
	}
	return &StockService{
		Store:    store,
		Notifier: notifier,
		Alerter:  nopAlerter{},
		Config:   cfg,
		Logger:   slog.Default(),
		Now:      time.Now,
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Pending returns the clan's pending stock transaction.
func (s *StockService) Pending(ctx context.Context, clanID ClanID) (*Transaction, error) {
	tx, err := s.Store.PendingStockTransaction(ctx, clanID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, deny(ErrNotFound, "there is no pending stock transaction")
	}
	return tx, err
}

// =============================================================================
// CREATE
// =============================================================================

// Create opens a PENDING trade. Only the clan leader may create one and a
// clan has at most one pending trade.
func (s *StockService) Create(ctx context.Context, actor *User, clanID ClanID, order StockOrder) (*Transaction, error) {
	now := s.Now()
	if !s.Config.Hours.IsOpen(now) {
		return nil, deny(ErrPrecondition, "market closed!!!")
	}

	if order.Method == "" || order.Symbol == "" {
		return nil, deny(ErrValidation, "method or symbol not defined")
	}
	method := Method(strings.ToUpper(strings.TrimSpace(order.Method)))
	symbol := strings.ToUpper(strings.TrimSpace(order.Symbol))
	if method != MethodBuy && method != MethodSell {
		return nil, deny(ErrValidation, "BUY or SELL only!!!")
	}
	if !slices.Contains(s.Config.Symbols, symbol) {
		return nil, deny(ErrValidation, "the symbol does not exist")
	}
	amount, err := ParseAmount(order.Amount)
	if err != nil {
		return nil, err
	}

	var tx *Transaction
	err = s.Store.WithTx(ctx, func(st Store) error {
		clan, err := st.GetClan(ctx, clanID)
		if errors.Is(err, ErrRecordNotFound) {
			return deny(ErrNotFound, "clan not found")
		}
		if err != nil {
			return err
		}
		if actor.ClanID != clan.ID || clan.Leader != actor.ID {
			return deny(ErrUnauthorized, "Please ask leader to perform this action")
		}

		if _, err := st.PendingStockTransaction(ctx, clanID); err == nil {
			return deny(ErrPrecondition, "There are still pending stock's transaction")
		} else if !errors.Is(err, ErrRecordNotFound) {
			return err
		}

		stock, err := st.StockRate(ctx, s.Config.Hours.Day(now), symbol)
		if errors.Is(err, ErrRecordNotFound) {
			return deny(ErrPrecondition, "the price of %s is not available today", symbol)
		}
		if err != nil {
			return err
		}

		item := StockItem{Symbol: symbol, Rate: stock.Rate, Amount: amount}
		if method == MethodBuy && !canAfford(clan, item) {
			return deny(ErrPrecondition, "You don't have enough money to buy this stock")
		}
		if method == MethodBuy && !addFits(clan.Holding(symbol), amount) {
			return deny(ErrPrecondition, "Your clan cannot hold that many stocks")
		}
		if method == MethodSell && clan.Holding(symbol) < amount {
			return deny(ErrPrecondition, "You don't have enough stock to sell")
		}
		if method == MethodSell && !canReceive(clan, item) {
			return deny(ErrPrecondition, "Your clan cannot hold that much money")
		}

		tx = &Transaction{
			ID:             NewTransactionID(),
			Status:         StatusPending,
			ConfirmRequire: s.Config.ConfirmRequire,
			Confirmer:      []UserID{actor.ID},
			Rejector:       []UserID{},
			Item:           Item{Stock: &item},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if method == MethodBuy {
			tx.Owner, tx.Receiver = ClanParty(clanID), MarketParty()
		} else {
			tx.Owner, tx.Receiver = MarketParty(), ClanParty(clanID)
		}

		if err := st.CreateTransaction(ctx, tx); err != nil {
			if errors.Is(err, ErrPendingExists) {
				return deny(ErrPrecondition, "There are still pending stock's transaction")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("stock transaction created",
		"clan", clanID, "tx", tx.ID, "method", method, "symbol", symbol, "amount", amount, "rate", tx.Item.Stock.Rate)

	var out outbox
	out.add(EventTransaction, string(clanID), tx)
	out.add(EventTaskStock, string(clanID), pendingOrNil(tx))
	out.flush(s.Notifier)
	return tx, nil
}

// =============================================================================
// CONFIRM
// =============================================================================

// Confirm records actor's approval. When the confirmation count reaches
// ConfirmRequire+1 the trade settles. A denial may come with the
// transaction's new state (for example, a forced REJECT).
func (s *StockService) Confirm(ctx context.Context, actor *User, clanID ClanID, rawID string) (*Transaction, error) {
	id, err := ParseTransactionID(rawID)
	if err != nil {
		return nil, err
	}

	var (
		out     outbox
		result  *Transaction
		denial  error
		settled *Clan
	)

	err = s.Store.WithTx(ctx, func(st Store) error {
		tx, err := s.loadForVote(ctx, st, actor, clanID, id)
		if err != nil {
			return err
		}
		result = tx
		now := s.Now()

		if !s.Config.Hours.IsOpen(now) {
			denial = deny(ErrPrecondition, "market closed!!! This transaction will be rejected!!!!")
			return s.forceReject(ctx, st, tx, now, &out, "market closed")
		}

		switch {
		case tx.Status == StatusSuccess:
			return deny(ErrPrecondition, "you are too late!!! this confirmation is already SUCCESS")
		case tx.Status == StatusReject:
			return deny(ErrPrecondition, "you are too late!!! this confirmation is already REJECT")
		case HasConfirmed(tx, actor.ID):
			return deny(ErrPrecondition, "You already accepted")
		case HasRejected(tx, actor.ID):
			return deny(ErrPrecondition, "You already rejected")
		}

		item := tx.Item.Stock
		stock, err := st.StockRate(ctx, s.Config.Hours.Day(now), item.Symbol)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		if err != nil || !stock.Rate.Equal(item.Rate) {
			denial = deny(ErrStale, "The price has been changed")
			return s.forceReject(ctx, st, tx, now, &out, "price changed")
		}

		tx.Confirmer = append(tx.Confirmer, actor.ID)
		tx.UpdatedAt = now

		if QuorumReached(tx) {
			clan, reason, err := s.settle(ctx, st, tx)
			if err != nil {
				return err
			}
			if reason != "" {
				denial = deny(ErrPrecondition, "%s", reason)
				return s.forceReject(ctx, st, tx, now, &out, reason)
			}
			settled = clan
			out.add(EventTransaction, string(clanID), tx)
			out.add(EventClanMoney, string(clanID), clan.Properties.Money)
			out.add(EventClanStock, string(clanID), clan.Properties.Stocks)
		} else if err := st.SaveTransaction(ctx, tx); err != nil {
			return err
		}

		out.add(EventTaskStock, string(clanID), pendingOrNil(tx))
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.flush(s.Notifier)
	if settled != nil {
		s.Logger.Info("stock transaction settled",
			"clan", clanID, "tx", result.ID, "money", settled.Properties.Money)
		s.Alerter.TradeSettled(ctx, settled, result)
	}
	return result, denial
}

// settle applies the trade to the clan and marks the transaction SUCCESS.
// A non-empty reason means the clan can no longer cover the trade.
func (s *StockService) settle(ctx context.Context, st Store, tx *Transaction) (*Clan, string, error) {
	clanID, ok := tx.ClanSide()
	if !ok {
		return nil, "", deny(ErrNotFound, "transaction has no clan")
	}
	clan, err := st.GetClan(ctx, clanID)
	if err != nil {
		return nil, "", err
	}

	item := *tx.Item.Stock
	if clan.Properties.Stocks == nil {
		clan.Properties.Stocks = map[string]int64{}
	}

	switch tx.Method() {
	case MethodBuy:
		if !canAfford(clan, item) {
			return nil, "You don't have enough money to buy", nil
		}
		if !addFits(clan.Holding(item.Symbol), item.Amount) {
			return nil, "Your clan cannot hold that many stocks", nil
		}
		cost, _ := item.Cost()
		clan.Properties.Money -= cost
		clan.Properties.Stocks[item.Symbol] += item.Amount
	case MethodSell:
		if clan.Holding(item.Symbol) < item.Amount {
			return nil, "You don't have enough stocks to sell", nil
		}
		if !canReceive(clan, item) {
			return nil, "Your clan cannot hold that much money", nil
		}
		proceeds, _ := item.Proceeds()
		clan.Properties.Money += proceeds
		clan.Properties.Stocks[item.Symbol] -= item.Amount
	}

	tx.Status = StatusSuccess
	if err := st.SaveClan(ctx, clan); err != nil {
		return nil, "", err
	}
	if err := st.SaveTransaction(ctx, tx); err != nil {
		return nil, "", err
	}
	return clan, "", nil
}

// =============================================================================
// REJECT
// =============================================================================

// Reject records actor's rejection. The transaction becomes REJECT when the
// rejections reach ConfirmRequire, or at once when the actor is the leader.
// A member who confirmed cannot reject, except the leader.
func (s *StockService) Reject(ctx context.Context, actor *User, clanID ClanID, rawID string) (*Transaction, error) {
	id, err := ParseTransactionID(rawID)
	if err != nil {
		return nil, err
	}

	var (
		out    outbox
		result *Transaction
		denial error
	)

	err = s.Store.WithTx(ctx, func(st Store) error {
		tx, err := s.loadForVote(ctx, st, actor, clanID, id)
		if err != nil {
			return err
		}
		result = tx
		now := s.Now()

		if !s.Config.Hours.IsOpen(now) {
			denial = deny(ErrPrecondition, "market closed!!! This transaction will be rejected!!!!")
			return s.forceReject(ctx, st, tx, now, &out, "market closed")
		}

		switch tx.Status {
		case StatusSuccess:
			return deny(ErrPrecondition, "you are too late!!! this confirmation is already SUCCESS")
		case StatusReject:
			return deny(ErrPrecondition, "you are too late!!! this confirmation is already REJECT")
		}

		clan, err := st.GetClan(ctx, clanID)
		if errors.Is(err, ErrRecordNotFound) {
			return deny(ErrNotFound, "clan not found")
		}
		if err != nil {
			return err
		}
		leader := clan.Leader == actor.ID

		if HasConfirmed(tx, actor.ID) && !leader {
			return deny(ErrPrecondition, "You already accepted")
		}
		if HasRejected(tx, actor.ID) {
			return deny(ErrPrecondition, "You already rejected")
		}

		tx.Rejector = append(tx.Rejector, actor.ID)
		tx.UpdatedAt = now
		if RejectQuorumReached(tx) || leader {
			tx.Status = StatusReject
		}
		if err := st.SaveTransaction(ctx, tx); err != nil {
			return err
		}

		out.add(EventTransaction, string(clanID), tx)
		out.add(EventTaskStock, string(clanID), pendingOrNil(tx))
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.flush(s.Notifier)
	if result.Status == StatusReject && denial == nil {
		s.Logger.Info("stock transaction rejected", "clan", clanID, "tx", result.ID, "by", actor.ID)
	}
	return result, denial
}

// =============================================================================
// EXPIRY
// =============================================================================

// ExpirePending rejects every pending stock transaction while the market is
// closed. Returns the number of transactions rejected. A failure on one
// transaction does not stop the sweep; failures are joined into the error.
func (s *StockService) ExpirePending(ctx context.Context) (int, error) {
	now := s.Now()
	if s.Config.Hours.IsOpen(now) {
		return 0, nil
	}

	pending, err := s.Store.ListPendingStockTransactions(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs []error
	for _, p := range pending {
		var out outbox
		err := s.Store.WithTx(ctx, func(st Store) error {
			tx, err := st.GetTransaction(ctx, p.ID)
			if err != nil {
				return err
			}
			return s.forceReject(ctx, st, tx, now, &out, "market closed")
		})
		if err != nil {
			s.Logger.Error("expire pending transaction", "tx", p.ID, "err", err)
			errs = append(errs, fmt.Errorf("expire %s: %w", p.ID, err))
			continue
		}
		if len(out.events) > 0 {
			expired++
		}
		out.flush(s.Notifier)
	}
	return expired, errors.Join(errs...)
}

// =============================================================================
// HELPERS
// =============================================================================

// loadForVote reads the transaction and checks that actor may vote on it.
func (s *StockService) loadForVote(ctx context.Context, st Store, actor *User, clanID ClanID, id TransactionID) (*Transaction, error) {
	tx, err := st.GetTransaction(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, deny(ErrNotFound, "transaction not found")
	}
	if err != nil {
		return nil, err
	}
	if !tx.IsStock() {
		return nil, deny(ErrNotFound, "transaction not found")
	}
	if !tx.Involves(clanID) || actor.ClanID != clanID {
		return nil, deny(ErrUnauthorized, "This transaction is belong to other clan. What do you want???")
	}
	return tx, nil
}

// forceReject moves a pending transaction to REJECT. Terminal transactions
// are left untouched.
func (s *StockService) forceReject(ctx context.Context, st Store, tx *Transaction, now time.Time, out *outbox, reason string) error {
	if tx.Status.Terminal() {
		return nil
	}
	tx.Status = StatusReject
	tx.UpdatedAt = now
	if err := st.SaveTransaction(ctx, tx); err != nil {
		return err
	}

	subject := ""
	if clanID, ok := tx.ClanSide(); ok {
		subject = string(clanID)
	}
	out.add(EventTransaction, subject, tx)
	out.add(EventTaskStock, subject, nil)
	s.Logger.Warn("stock transaction force rejected", "clan", subject, "tx", tx.ID, "reason", reason)
	return nil
}

func canAfford(clan *Clan, item StockItem) bool {
	cost, ok := item.Cost()
	return ok && cost <= clan.Properties.Money
}

func canReceive(clan *Clan, item StockItem) bool {
	proceeds, ok := item.Proceeds()
	return ok && addFits(clan.Properties.Money, proceeds)
}

// pendingOrNil is the payload of set.task.stock: the transaction while it
// is pending, nil afterwards.
func pendingOrNil(tx *Transaction) any {
	if tx.Status == StatusPending {
		return tx
	}
	return nil
}
