package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the direction of a trade in the ledger.
type Kind string

const (
	Buy  Kind = "Buy"
	Sell Kind = "Sell"
)

// User represents a user in the database
type User struct {
	ID       int64
	Username string
	Hash     string
	Cash     decimal.Decimal
	// StartingCash is the balance the user opened with. It is not set for
	// users created before it was recorded.
	StartingCash decimal.NullDecimal
}

// Transaction is one immutable row of the ledger.
//
// Shares is signed: positive for a Buy, negative for a Sell. Amount is always
// |Shares| * Price.
type Transaction struct {
	ID     int64
	UserID int64
	Symbol string
	Price  decimal.Decimal
	Shares int64
	Amount decimal.Decimal
	Kind   Kind
	Time   time.Time
}

// Holding is the aggregate of signed shares for one symbol.
type Holding struct {
	Symbol    string
	Shares    int64
	LastPrice decimal.Decimal
}

// Quote is a point-in-time price for a symbol.
type Quote struct {
	Symbol string
	Name   string
	Price  decimal.Decimal
}

// Position is a Holding valued at a current price.
type Position struct {
	Symbol string
	Name   string
	Shares int64
	Price  decimal.Decimal
	Value  decimal.Decimal
	// Stale is set when the current price could not be fetched and the last
	// recorded transaction price was used instead.
	Stale bool
}

// PortfolioView is the rendered state of an account.
type PortfolioView struct {
	Positions []Position
	Cash      decimal.Decimal
	Total     decimal.Decimal
	NetWorth  decimal.Decimal
	Degraded  bool
}

// TradeResult is returned after a committed Buy or Sell.
type TradeResult struct {
	Transaction Transaction
	Cash        decimal.Decimal
}
