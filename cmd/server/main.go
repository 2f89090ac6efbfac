/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the clan ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (YAML, .env, environment)
  2. Build the slog logger
  3. Open the store (sqlite, postgres or memory) and seed it if empty
  4. Wire realtime hub, Discord alerts and the engine services
  5. Start the market-close sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides storage (":memory:" allowed)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper, disconnect realtime clients
  4. Wait for pending Discord alerts
  5. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/clanwars.db"

  # Run with in-memory database, seeded from seed.world in dev.yaml
  ./server -config=dev.yaml -db=":memory:"

  # Run against PostgreSQL
  DATABASE_DRIVER=postgres DATABASE_URL=postgres://... ./server

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freshy/clanwars/alert"
	"github.com/freshy/clanwars/api"
	"github.com/freshy/clanwars/auth"
	"github.com/freshy/clanwars/config"
	"github.com/freshy/clanwars/factory"
	"github.com/freshy/clanwars/ledger"
	"github.com/freshy/clanwars/ledger/store"
	"github.com/freshy/clanwars/realtime"
	"github.com/freshy/clanwars/store/postgres"
	"github.com/freshy/clanwars/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.DSN = *dbPath
	}

	logger := cfg.Logger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	stockCfg, err := cfg.StockConfig()
	if err != nil {
		return err
	}

	// Initialize store
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeStore()

	if cfg.Seed.World != "" {
		if err := seed(ctx, st, cfg.Seed.World, stockCfg, logger); err != nil {
			return err
		}
	}

	// Engine
	hub := realtime.NewHub(logger, cfg.Server.AllowedOrigins)
	discord := alert.NewDiscord(cfg.Alerts.DiscordWebhook, logger)

	stocks := ledger.NewStockService(st, hub, stockCfg)
	stocks.Alerter = discord
	stocks.Logger = logger

	redeems := ledger.NewRedeemService(st, hub)
	redeems.Alerter = discord
	redeems.Logger = logger

	// Initialize handler
	handler := api.NewHandler(st, stocks, redeems)
	handler.Logger = logger
	handler.StorageName = cfg.Storage.Driver
	handler.Clients = hub.ClientCount
	handler.LimitRedeems(cfg.Redeem.Rate(), cfg.Redeem.Burst)
	handler.Metrics.WatchClients(hub.ClientCount)

	sweeper := api.NewMarketSweeper(stocks, logger)
	sweeper.CheckInterval = cfg.Market.SweepInterval
	sweeper.Metrics = handler.Metrics
	sweeper.Start()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		Auth:           auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Realtime:       hub.ServeWS,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "storage", cfg.Storage.Driver,
			"market_open", stockCfg.Hours.Open, "market_close", stockCfg.Hours.Close, "timezone", cfg.Market.Timezone)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		sweeper.Stop()
		return err
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}
	sweeper.Stop()
	hub.Close()
	discord.Wait()

	logger.Info("server stopped")
	return nil
}

// openStore returns the configured store and its close function.
func openStore(ctx context.Context, cfg *config.Config) (ledger.TxStore, func() error, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return store.NewMemory(), func() error { return nil }, nil
	case "sqlite":
		s, err := sqlite.New(cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		if cfg.Storage.DSN == "" {
			return nil, nil, errors.New("postgres needs storage.dsn or DATABASE_URL")
		}
		s, err := postgres.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// seed loads a world definition into an empty store.
func seed(ctx context.Context, st ledger.TxStore, path string, stockCfg ledger.StockConfig, logger *slog.Logger) error {
	clans, err := st.ListClans(ctx)
	if err != nil {
		return err
	}
	if len(clans) > 0 {
		logger.Info("store already populated, skipping seed", "clans", len(clans))
		return nil
	}

	wf := &factory.WorldFactory{Location: stockCfg.Hours.Location}
	world, err := wf.ReadWorld(path)
	if err != nil {
		return err
	}
	if err := wf.Load(ctx, st, world, stockCfg.Hours.Day(time.Now()), false); err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	logger.Info("world seeded", "path", path, "clans", len(world.Clans), "planets", len(world.Planets), "users", len(world.Users))
	return nil
}
