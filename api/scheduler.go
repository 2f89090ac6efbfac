/*
scheduler.go - Market-close sweeper

PURPOSE:
  Periodically rejects pending stock transactions once the market has
  closed, so that a trade nobody touched after hours does not sit in
  PENDING until the next morning.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Does nothing while the market is open
  - Each expired transaction is rejected in its own store transaction and
    broadcast (set.transaction, set.task.stock = null)

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewMarketSweeper(stocks, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - ledger/stock.go: ExpirePending
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/freshy/clanwars/ledger"
	"github.com/freshy/clanwars/metrics"
)

// MarketSweeper expires pending stock transactions after market close.
type MarketSweeper struct {
	Stocks        *ledger.StockService
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewMarketSweeper creates a new sweeper.
func NewMarketSweeper(stocks *ledger.StockService, logger *slog.Logger) *MarketSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketSweeper{
		Stocks:        stocks,
		Logger:        logger.With("component", "sweeper"),
		CheckInterval: time.Minute,
		Enabled:       true,
	}
}

// Start begins the sweeper.
func (ms *MarketSweeper) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.Enabled {
		ms.Logger.Info("disabled, not starting")
		return
	}
	if ms.ticker != nil {
		return
	}

	ms.ticker = time.NewTicker(ms.CheckInterval)
	ms.stop = make(chan struct{})
	ms.wg.Add(1)

	go ms.run()

	ms.Logger.Info("started", "interval", ms.CheckInterval)
}

// Stop stops the sweeper and waits for an in-flight sweep.
func (ms *MarketSweeper) Stop() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.ticker != nil {
		ms.ticker.Stop()
		close(ms.stop)
		ms.wg.Wait()
		ms.ticker = nil
		ms.Logger.Info("stopped")
	}
}

func (ms *MarketSweeper) run() {
	defer ms.wg.Done()

	// Run immediately on start
	ms.RunNow(context.Background())

	for {
		select {
		case <-ms.ticker.C:
			ms.RunNow(context.Background())
		case <-ms.stop:
			return
		}
	}
}

// RunNow performs one sweep and returns the number of expired transactions.
func (ms *MarketSweeper) RunNow(ctx context.Context) int {
	n, err := ms.Stocks.ExpirePending(ctx)
	if ms.Metrics != nil {
		ms.Metrics.AddExpired(n)
	}
	if err != nil {
		ms.Logger.Error("sweep failed", "expired", n, "err", err)
		return n
	}
	if n > 0 {
		ms.Logger.Info("expired pending stock transactions", "count", n)
	}
	return n
}
