// Package config loads server settings from a YAML file, a .env file and
// the environment, in that order of precedence (environment wins).
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/freshy/clanwars/ledger"
)

// Config is the complete server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Market  MarketConfig  `yaml:"market"`
	Redeem  RedeemConfig  `yaml:"redeem"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Log     LogConfig     `yaml:"log"`
	Seed    SeedConfig    `yaml:"seed"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig selects the ledger store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres | memory
	DSN    string `yaml:"dsn"`    // SQLite path, ":memory:", or a postgres:// URL
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// MarketConfig holds the trading rules.
type MarketConfig struct {
	Open           string        `yaml:"open"`
	Close          string        `yaml:"close"`
	Timezone       string        `yaml:"timezone"`
	Symbols        []string      `yaml:"symbols"`
	ConfirmRequire int           `yaml:"confirm_require"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// RedeemConfig limits redeem attempts per clan. An explicit zero
// attempts_per_minute disables the limit.
type RedeemConfig struct {
	AttemptsPerMinute *int `yaml:"attempts_per_minute"`
	Burst             int  `yaml:"burst"`
}

// Rate returns the allowed attempts per minute; 0 means unlimited.
func (r RedeemConfig) Rate() int {
	if r.AttemptsPerMinute == nil || *r.AttemptsPerMinute < 0 {
		return 0
	}
	return *r.AttemptsPerMinute
}

type AlertsConfig struct {
	DiscordWebhook string `yaml:"discord_webhook"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// SeedConfig names a world definition loaded into an empty store at startup.
type SeedConfig struct {
	World string `yaml:"world"`
}

// Load reads the YAML file at path (optional when empty) and the .env file
// if present, then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config.Load: PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK"); v != "" {
		cfg.Alerts.DiscordWebhook = v
	}
	if v := os.Getenv("MARKET_TIMEZONE"); v != "" {
		cfg.Market.Timezone = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "clanwars.db"
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "dev-secret-change-me"
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if cfg.Market.Open == "" {
		cfg.Market.Open = "09:00:00"
	}
	if cfg.Market.Close == "" {
		cfg.Market.Close = "22:00:00"
	}
	if cfg.Market.Timezone == "" {
		cfg.Market.Timezone = "Asia/Bangkok"
	}
	if len(cfg.Market.Symbols) == 0 {
		cfg.Market.Symbols = append([]string(nil), ledger.DefaultSymbols...)
	}
	if cfg.Market.ConfirmRequire <= 0 {
		cfg.Market.ConfirmRequire = ledger.DefaultConfirmRequire
	}
	if cfg.Market.SweepInterval <= 0 {
		cfg.Market.SweepInterval = time.Minute
	}
	if cfg.Redeem.AttemptsPerMinute == nil {
		attempts := 30
		cfg.Redeem.AttemptsPerMinute = &attempts
	}
	if cfg.Redeem.Burst <= 0 {
		cfg.Redeem.Burst = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// StockConfig resolves the market section into engine rules.
func (c *Config) StockConfig() (ledger.StockConfig, error) {
	loc, err := time.LoadLocation(c.Market.Timezone)
	if err != nil {
		return ledger.StockConfig{}, fmt.Errorf("config: market.timezone %q: %w", c.Market.Timezone, err)
	}
	open, err := ledger.ParseTimeOfDay(c.Market.Open)
	if err != nil {
		return ledger.StockConfig{}, fmt.Errorf("config: market.open: %w", err)
	}
	closeAt, err := ledger.ParseTimeOfDay(c.Market.Close)
	if err != nil {
		return ledger.StockConfig{}, fmt.Errorf("config: market.close: %w", err)
	}

	symbols := make([]string, 0, len(c.Market.Symbols))
	for _, s := range c.Market.Symbols {
		symbols = append(symbols, strings.ToUpper(strings.TrimSpace(s)))
	}
	return ledger.StockConfig{
		Symbols:        symbols,
		ConfirmRequire: c.Market.ConfirmRequire,
		Hours:          ledger.MarketHours{Open: open, Close: closeAt, Location: loc},
	}, nil
}

// Logger builds the slog logger described by the log section.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(c.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
