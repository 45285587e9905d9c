// Package portfolio applies trading rules to the ledger.
//
// A trade is one validate, compute, commit step. The quote is fetched before
// the ledger scope is opened, and every read used to validate the trade is
// repeated inside the scope, so concurrent trades for one user can never
// spend the same cash or sell the same shares twice.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dense-analysis/papertrade/internal/ledger"
	"github.com/dense-analysis/papertrade/internal/model"
	"github.com/dense-analysis/papertrade/internal/quote"
)

var (
	ErrInvalidInput       = errors.New("invalid number of shares")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
)

// Ledger is the storage the engine reads and commits to.
type Ledger interface {
	GetUser(ctx context.Context, userID int64) (model.User, error)
	GetCash(ctx context.Context, userID int64) (decimal.Decimal, error)
	GetHoldings(ctx context.Context, userID int64) ([]model.Holding, error)
	GetHoldingForSymbol(ctx context.Context, userID int64, symbol string) (int64, error)
	GetHistory(ctx context.Context, userID int64) ([]model.Transaction, error)
	WithinUser(ctx context.Context, userID int64, fn func(*ledger.Tx) error) error
}

type Engine struct {
	ledger Ledger
	quotes quote.Provider
	now    func() time.Time
}

func New(store Ledger, quotes quote.Provider) *Engine {
	return &Engine{ledger: store, quotes: quotes, now: ledger.Now}
}

// ParseShares turns user input into a positive share count.
func ParseShares(raw string) (int64, error) {
	shares, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)

	if err != nil || shares <= 0 {
		return 0, ErrInvalidInput
	}

	return shares, nil
}

// Quote returns the current quote for a symbol.
func (engine *Engine) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	symbol = quote.Normalize(symbol)

	if symbol == "" {
		return model.Quote{}, quote.ErrUnknownSymbol
	}

	result, err := engine.quotes.Lookup(ctx, symbol)

	if err != nil {
		if errors.Is(err, quote.ErrUnknownSymbol) || errors.Is(err, quote.ErrUnavailable) {
			return model.Quote{}, err
		}

		return model.Quote{}, fmt.Errorf("%w: %w", quote.ErrUnavailable, err)
	}

	if !result.Price.IsPositive() {
		return model.Quote{}, quote.ErrUnknownSymbol
	}

	result.Symbol = symbol

	return result, nil
}

// Buy spends cash on shares at the current price.
func (engine *Engine) Buy(ctx context.Context, userID int64, symbol string, shares int64) (model.TradeResult, error) {
	if shares <= 0 {
		return model.TradeResult{}, ErrInvalidInput
	}

	current, err := engine.Quote(ctx, symbol)

	if err != nil {
		return model.TradeResult{}, err
	}

	cost := current.Price.Mul(decimal.NewFromInt(shares))
	var result model.TradeResult

	err = engine.ledger.WithinUser(ctx, userID, func(tx *ledger.Tx) error {
		cash, err := tx.GetCash(ctx)

		if err != nil {
			return err
		}

		if cost.GreaterThan(cash) {
			return ErrInsufficientFunds
		}

		result.Cash = cash.Sub(cost)
		result.Transaction, err = record(ctx, tx, model.Transaction{
			UserID: userID,
			Symbol: current.Symbol,
			Price:  current.Price,
			Shares: shares,
			Amount: cost,
			Kind:   model.Buy,
			Time:   engine.now(),
		})

		if err != nil {
			return err
		}

		return tx.SetCash(ctx, result.Cash)
	})

	if err != nil {
		return model.TradeResult{}, err
	}

	log.Info().
		Int64("user", userID).
		Str("symbol", current.Symbol).
		Int64("shares", shares).
		Str("amount", cost.String()).
		Msg("buy")

	return result, nil
}

// Sell turns owned shares into cash at the current price.
func (engine *Engine) Sell(ctx context.Context, userID int64, symbol string, shares int64) (model.TradeResult, error) {
	if shares <= 0 {
		return model.TradeResult{}, ErrInvalidInput
	}

	symbol = quote.Normalize(symbol)
	owned, err := engine.ledger.GetHoldingForSymbol(ctx, userID, symbol)

	if err != nil {
		return model.TradeResult{}, err
	}

	// Checked again inside the scope, this saves a quote lookup.
	if shares > owned {
		return model.TradeResult{}, ErrInsufficientShares
	}

	current, err := engine.Quote(ctx, symbol)

	if err != nil {
		return model.TradeResult{}, err
	}

	proceeds := current.Price.Mul(decimal.NewFromInt(shares))
	var result model.TradeResult

	err = engine.ledger.WithinUser(ctx, userID, func(tx *ledger.Tx) error {
		owned, err := tx.GetHoldingForSymbol(ctx, symbol)

		if err != nil {
			return err
		}

		if shares > owned {
			return ErrInsufficientShares
		}

		cash, err := tx.GetCash(ctx)

		if err != nil {
			return err
		}

		result.Cash = cash.Add(proceeds)
		result.Transaction, err = record(ctx, tx, model.Transaction{
			UserID: userID,
			Symbol: symbol,
			Price:  current.Price,
			Shares: -shares,
			Amount: proceeds,
			Kind:   model.Sell,
			Time:   engine.now(),
		})

		if err != nil {
			return err
		}

		return tx.SetCash(ctx, result.Cash)
	})

	if err != nil {
		return model.TradeResult{}, err
	}

	log.Info().
		Int64("user", userID).
		Str("symbol", symbol).
		Int64("shares", -shares).
		Str("amount", proceeds.String()).
		Msg("sell")

	return result, nil
}

func record(ctx context.Context, tx *ledger.Tx, transaction model.Transaction) (model.Transaction, error) {
	id, err := tx.RecordTransaction(ctx, transaction)
	transaction.ID = id

	return transaction, err
}

// View values every holding at its current price.
//
// A symbol whose quote cannot be fetched is valued at the price of its last
// transaction and marked Stale, and the view is marked Degraded.
func (engine *Engine) View(ctx context.Context, userID int64) (model.PortfolioView, error) {
	var view model.PortfolioView
	var err error

	if view.Cash, err = engine.ledger.GetCash(ctx, userID); err != nil {
		return view, err
	}

	holdingList, err := engine.ledger.GetHoldings(ctx, userID)

	if err != nil {
		return view, err
	}

	view.Positions = make([]model.Position, len(holdingList))
	var waitGroup sync.WaitGroup

	for i, holding := range holdingList {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			view.Positions[i] = engine.value(ctx, holding)
		}()
	}

	waitGroup.Wait()

	sort.SliceStable(view.Positions, func(i, j int) bool {
		return view.Positions[j].Value.LessThan(view.Positions[i].Value)
	})

	view.Total = decimal.Zero

	for _, position := range view.Positions {
		view.Total = view.Total.Add(position.Value)
		view.Degraded = view.Degraded || position.Stale
	}

	view.NetWorth = view.Cash.Add(view.Total)

	return view, nil
}

func (engine *Engine) value(ctx context.Context, holding model.Holding) model.Position {
	position := model.Position{
		Symbol: holding.Symbol,
		Name:   holding.Symbol,
		Shares: holding.Shares,
		Price:  holding.LastPrice,
	}

	if current, err := engine.Quote(ctx, holding.Symbol); err != nil {
		log.Warn().Err(err).Str("symbol", holding.Symbol).Msg("using last recorded price")
		position.Stale = true
	} else {
		position.Name = current.Name
		position.Price = current.Price
	}

	position.Value = position.Price.Mul(decimal.NewFromInt(position.Shares))

	return position
}

// History returns the user's transactions, oldest first.
func (engine *Engine) History(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return engine.ledger.GetHistory(ctx, userID)
}

// Holdings returns the symbols the user owns, for choosing what to sell.
func (engine *Engine) Holdings(ctx context.Context, userID int64) ([]model.Holding, error) {
	return engine.ledger.GetHoldings(ctx, userID)
}
