package portfolio

import (
	"errors"

	"github.com/dense-analysis/papertrade/internal/ledger"
	"github.com/dense-analysis/papertrade/internal/quote"
)

// Message returns the text shown to a user for a trading error.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "Invalid number of shares!"
	case errors.Is(err, quote.ErrUnknownSymbol):
		return "Invalid symbol"
	case errors.Is(err, ErrInsufficientFunds):
		return "Not enough cash for this purchase!"
	case errors.Is(err, ErrInsufficientShares):
		return "You don't own that many shares!"
	case errors.Is(err, quote.ErrUnavailable):
		return "Prices are unavailable right now, try again later"
	case errors.Is(err, ledger.ErrNotFound):
		return "Unknown user, please log in again"
	default:
		return "Something went wrong"
	}
}
