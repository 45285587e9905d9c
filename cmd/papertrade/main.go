// Serve the papertrade web application.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dense-analysis/papertrade/internal/database"
	"github.com/dense-analysis/papertrade/internal/env"
	"github.com/dense-analysis/papertrade/internal/ledger"
	"github.com/dense-analysis/papertrade/internal/logger"
	"github.com/dense-analysis/papertrade/internal/migrate"
	"github.com/dense-analysis/papertrade/internal/model"
	trading "github.com/dense-analysis/papertrade/internal/portfolio"
	"github.com/dense-analysis/papertrade/internal/quote"
	"github.com/dense-analysis/papertrade/internal/route"
	"github.com/dense-analysis/papertrade/internal/route/auth"
	"github.com/dense-analysis/papertrade/internal/route/portfolio"
	"github.com/dense-analysis/papertrade/internal/session"
)

// newQuoteProvider builds the configured price source, cached in Redis when
// a Redis address is set.
func newQuoteProvider(cfg *env.Config) (quote.Provider, func()) {
	var provider quote.Provider

	switch cfg.Quote.Provider {
	case "static":
		static := quote.NewStatic()

		for symbol, price := range cfg.Quote.Static {
			static.Set(model.Quote{Symbol: symbol, Price: decimal.RequireFromString(price)})
		}

		provider = static
	default:
		if cfg.Quote.Token == "" {
			log.Warn().Msg("no QUOTE_API_KEY variable set")
		}

		provider = quote.NewHTTPProvider(cfg.Quote.URL, cfg.Quote.Token, cfg.Quote.Timeout)
	}

	if cfg.Redis.Address == "" {
		return provider, func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	log.Info().Str("address", cfg.Redis.Address).Dur("ttl", cfg.Redis.TTL).Msg("caching quotes in redis")

	return quote.NewCache(provider, rdb, cfg.Redis.Prefix, cfg.Redis.TTL), func() { rdb.Close() }
}

func run() error {
	cfg, err := env.Load("")

	if err != nil {
		return err
	}

	logger.Setup(cfg.Log.Level)

	if err := cfg.RequireSecretKey(); err != nil {
		return err
	}

	ctx := context.Background()
	conn, err := database.Open(ctx, cfg.Dialect(), cfg.DSN())

	if err != nil {
		return fmt.Errorf("database connection error: %w", err)
	}

	defer conn.Close()

	if cfg.Dialect() == database.SQLite {
		if err := migrate.Up(ctx, conn); err != nil {
			return fmt.Errorf("migration error: %w", err)
		}
	}

	quotes, closeQuotes := newQuoteProvider(cfg)
	defer closeQuotes()

	store := ledger.New(conn)
	sessions := session.NewStore(cfg.Server.SecretKey)

	router := route.NewRouter(
		sessions,
		&auth.Routes{
			Users:        store,
			Sessions:     sessions,
			BcryptCost:   cfg.Server.BcryptCost,
			StartingCash: cfg.Ledger.StartingCash,
		},
		&portfolio.Routes{Engine: trading.New(store, quotes)},
	)

	server := http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	log.Info().Str("address", cfg.Server.Address).Str("database", string(cfg.Dialect())).Msg("server started")

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-done:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shut down failed: %w", err)
	}

	log.Info().Msg("server shut down successfully")

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("papertrade stopped")
		os.Exit(1)
	}
}
