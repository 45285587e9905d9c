package quote

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dense-analysis/papertrade/internal/model"
)

// Cache keeps recent quotes in Redis in front of another Provider.
//
// Redis errors never fail a lookup: the cache is skipped and the wrapped
// provider is asked instead.
type Cache struct {
	next   Provider
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewCache(next Provider, rdb *redis.Client, prefix string, ttl time.Duration) *Cache {
	return &Cache{next: next, rdb: rdb, prefix: prefix, ttl: ttl}
}

type cachedQuote struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Price  string `json:"price"`
}

func (cache *Cache) key(symbol string) string {
	return cache.prefix + ":quote:" + symbol
}

func encodeQuote(quote model.Quote) string {
	content, _ := json.Marshal(cachedQuote{quote.Symbol, quote.Name, quote.Price.String()})

	return string(content)
}

func decodeQuote(content string) (model.Quote, error) {
	var cached cachedQuote

	if err := json.Unmarshal([]byte(content), &cached); err != nil {
		return model.Quote{}, err
	}

	price, err := decimal.NewFromString(cached.Price)

	if err != nil {
		return model.Quote{}, err
	}

	return model.Quote{Symbol: cached.Symbol, Name: cached.Name, Price: price}, nil
}

func (cache *Cache) Lookup(ctx context.Context, symbol string) (model.Quote, error) {
	symbol = Normalize(symbol)
	key := cache.key(symbol)

	content, err := cache.rdb.Get(ctx, key).Result()

	switch {
	case err == nil:
		if quote, decodeErr := decodeQuote(content); decodeErr == nil {
			return quote, nil
		}
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("symbol", symbol).Msg("quote cache read failed")
	}

	quote, err := cache.next.Lookup(ctx, symbol)

	if err != nil {
		return quote, err
	}

	if err := cache.rdb.Set(ctx, key, encodeQuote(quote), cache.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("quote cache write failed")
	}

	return quote, nil
}
