// Package quote looks up current stock prices.
package quote

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/dense-analysis/papertrade/internal/model"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrUnavailable   = errors.New("quote unavailable")
)

// Provider returns the current price and display name for a symbol.
type Provider interface {
	Lookup(ctx context.Context, symbol string) (model.Quote, error)
}

// Normalize trims and upper-cases a ticker symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Static serves quotes from memory.
type Static struct {
	mutex    sync.RWMutex
	quotes   map[string]model.Quote
	failures map[string]error
}

func NewStatic(quotes ...model.Quote) *Static {
	static := &Static{
		quotes:   make(map[string]model.Quote, len(quotes)),
		failures: map[string]error{},
	}

	for _, quote := range quotes {
		static.Set(quote)
	}

	return static
}

// Set adds or replaces the quote for a symbol and clears any failure.
func (static *Static) Set(quote model.Quote) {
	static.mutex.Lock()
	defer static.mutex.Unlock()

	quote.Symbol = Normalize(quote.Symbol)

	if quote.Name == "" {
		quote.Name = quote.Symbol
	}

	static.quotes[quote.Symbol] = quote
	delete(static.failures, quote.Symbol)
}

// Fail makes every lookup of symbol return err.
func (static *Static) Fail(symbol string, err error) {
	static.mutex.Lock()
	defer static.mutex.Unlock()

	static.failures[Normalize(symbol)] = err
}

func (static *Static) Lookup(ctx context.Context, symbol string) (model.Quote, error) {
	if err := ctx.Err(); err != nil {
		return model.Quote{}, ErrUnavailable
	}

	static.mutex.RLock()
	defer static.mutex.RUnlock()

	symbol = Normalize(symbol)

	if err, ok := static.failures[symbol]; ok {
		return model.Quote{}, err
	}

	quote, ok := static.quotes[symbol]

	if !ok {
		return model.Quote{}, ErrUnknownSymbol
	}

	return quote, nil
}
