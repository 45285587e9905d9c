// Package env loads the application configuration.
//
// Settings come from an optional TOML file, then environment variables, which
// may themselves be set from a `.env` file. Secrets are only ever read from
// the environment.
package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/dense-analysis/papertrade/internal/database"
)

// DefaultConfigPath is read when PAPERTRADE_CONFIG is not set.
const DefaultConfigPath = "papertrade.toml"

type Config struct {
	Server struct {
		Address    string `toml:"address"`
		BcryptCost int    `toml:"bcrypt_cost"`
		SecretKey  string `toml:"-"`
	} `toml:"server"`

	Ledger struct {
		StartingCash decimal.Decimal `toml:"starting_cash"`
	} `toml:"ledger"`

	Database struct {
		Driver   string `toml:"driver"`
		Path     string `toml:"path"`
		Host     string `toml:"host"`
		Port     string `toml:"port"`
		Name     string `toml:"name"`
		Username string `toml:"username"`
		Password string `toml:"-"`
	} `toml:"database"`

	Quote struct {
		Provider string            `toml:"provider"`
		URL      string            `toml:"url"`
		Timeout  time.Duration     `toml:"timeout"`
		Static   map[string]string `toml:"static"`
		Token    string            `toml:"-"`
	} `toml:"quote"`

	Redis struct {
		Address  string        `toml:"address"`
		DB       int           `toml:"db"`
		Prefix   string        `toml:"prefix"`
		TTL      time.Duration `toml:"ttl"`
		Password string        `toml:"-"`
	} `toml:"redis"`

	ClickHouse struct {
		Address  string `toml:"address"`
		Database string `toml:"database"`
		Username string `toml:"username"`
		Table    string `toml:"table"`
		Password string `toml:"-"`
	} `toml:"clickhouse"`

	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`

	// startingCashSet is true when the starting cash was configured, so an
	// explicit zero is kept.
	startingCashSet bool
}

// Load reads the `.env` file if there is one, then the TOML configuration.
//
// An empty path means PAPERTRADE_CONFIG, or DefaultConfigPath if that is not
// set. The default file may be missing; an explicitly named one may not.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".env error: %w", err)
	}

	required := true

	if path == "" {
		path = os.Getenv("PAPERTRADE_CONFIG")
	}

	if path == "" {
		path = DefaultConfigPath
		required = false
	}

	var cfg Config

	meta, err := toml.DecodeFile(path, &cfg)

	if err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else {
		cfg.startingCashSet = meta.IsDefined("ledger", "starting_cash")
	}

	if err := applyEnvironment(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setString(target *string, name string) {
	if value, ok := os.LookupEnv(name); ok {
		*target = value
	}
}

func applyEnvironment(cfg *Config) error {
	setString(&cfg.Server.Address, "LISTEN_ADDR")
	setString(&cfg.Server.SecretKey, "SECRET_KEY")
	setString(&cfg.Database.Driver, "DB_DRIVER")
	setString(&cfg.Database.Path, "DB_PATH")
	setString(&cfg.Database.Host, "DB_HOST")
	setString(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.Name, "DB_NAME")
	setString(&cfg.Database.Username, "DB_USERNAME")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Quote.Provider, "QUOTE_PROVIDER")
	setString(&cfg.Quote.URL, "QUOTE_URL")
	setString(&cfg.Quote.Token, "QUOTE_API_KEY")
	setString(&cfg.Redis.Address, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.ClickHouse.Address, "CLICKHOUSE_ADDR")
	setString(&cfg.ClickHouse.Database, "CLICKHOUSE_DB")
	setString(&cfg.ClickHouse.Username, "CLICKHOUSE_USERNAME")
	setString(&cfg.ClickHouse.Password, "CLICKHOUSE_PASSWORD")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	if value, ok := os.LookupEnv("STARTING_CASH"); ok {
		cash, err := decimal.NewFromString(value)

		if err != nil {
			return fmt.Errorf("STARTING_CASH: %w", err)
		}

		cfg.Ledger.StartingCash = cash
		cfg.startingCashSet = true
	}

	if value, ok := os.LookupEnv("BCRYPT_COST"); ok {
		cost, err := strconv.Atoi(value)

		if err != nil {
			return fmt.Errorf("BCRYPT_COST: %w", err)
		}

		cfg.Server.BcryptCost = cost
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8000"
	}

	if cfg.Server.BcryptCost <= 0 {
		cfg.Server.BcryptCost = 12
	}

	if !cfg.startingCashSet {
		cfg.Ledger.StartingCash = decimal.NewFromInt(10000)
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = string(database.SQLite)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/papertrade.db"
	}

	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}

	if cfg.Quote.Provider == "" {
		if len(cfg.Quote.Static) > 0 {
			cfg.Quote.Provider = "static"
		} else {
			cfg.Quote.Provider = "http"
		}
	}

	if cfg.Quote.URL == "" {
		cfg.Quote.URL = "https://cloud.iexapis.com/stable"
	}

	if cfg.Quote.Timeout <= 0 {
		cfg.Quote.Timeout = 5 * time.Second
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "papertrade"
	}

	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 15 * time.Second
	}

	if cfg.ClickHouse.Table == "" {
		cfg.ClickHouse.Table = "papertrade_transactions"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg *Config) error {
	if cfg.Ledger.StartingCash.IsNegative() {
		return errors.New("ledger.starting_cash must not be negative")
	}

	switch database.Dialect(cfg.Database.Driver) {
	case database.SQLite:
	case database.Postgres:
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return errors.New("database.host and database.name are required for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", cfg.Database.Driver)
	}

	switch cfg.Quote.Provider {
	case "http":
		if strings.TrimSpace(cfg.Quote.URL) == "" {
			return errors.New("quote.url is empty")
		}
	case "static":
		for symbol, price := range cfg.Quote.Static {
			value, err := decimal.NewFromString(price)

			if err != nil || !value.IsPositive() {
				return fmt.Errorf("quote.static.%s: invalid price %q", symbol, price)
			}
		}
	default:
		return fmt.Errorf("unknown quote.provider %q", cfg.Quote.Provider)
	}

	return nil
}

// Dialect returns the configured database dialect.
func (cfg *Config) Dialect() database.Dialect {
	return database.Dialect(cfg.Database.Driver)
}

// DSN returns the connection string for the configured database.
func (cfg *Config) DSN() string {
	if cfg.Dialect() == database.Postgres {
		return database.PostgresDSN(
			cfg.Database.Username,
			cfg.Database.Password,
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Name,
		)
	}

	return cfg.Database.Path
}

// RequireSecretKey fails when no session secret is configured.
func (cfg *Config) RequireSecretKey() error {
	if len(cfg.Server.SecretKey) == 0 {
		return errors.New("no SECRET_KEY variable set")
	}

	return nil
}
