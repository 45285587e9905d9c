package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dense-analysis/papertrade/internal/model"
)

// Report is the result of replaying one user's ledger.
type Report struct {
	UserID       int64
	Transactions int
	ExpectedCash decimal.Decimal
	ActualCash   decimal.Decimal
	Problems     []string
}

// OK is true when the replay found no problems.
func (report Report) OK() bool {
	return len(report.Problems) == 0
}

// Verify replays a user's history from their opening balance and checks it
// against the stored balance. defaultStartingCash is used for users with no
// recorded opening balance.
func (engine *Engine) Verify(ctx context.Context, userID int64, defaultStartingCash decimal.Decimal) (Report, error) {
	report := Report{UserID: userID, ExpectedCash: defaultStartingCash}
	user, err := engine.ledger.GetUser(ctx, userID)

	if err != nil {
		return report, err
	}

	if user.StartingCash.Valid {
		report.ExpectedCash = user.StartingCash.Decimal
	}

	report.ActualCash = user.Cash

	history, err := engine.ledger.GetHistory(ctx, userID)

	if err != nil {
		return report, err
	}

	report.Transactions = len(history)
	sharesBySymbol := map[string]int64{}

	for _, transaction := range history {
		expectedAmount := transaction.Price.Mul(decimal.NewFromInt(transaction.Shares).Abs())

		if !transaction.Amount.Equal(expectedAmount) {
			report.Problems = append(report.Problems, fmt.Sprintf(
				"transaction %d: amount %s is not %d x %s",
				transaction.ID, transaction.Amount, transaction.Shares, transaction.Price,
			))
		}

		switch {
		case transaction.Kind == model.Buy && transaction.Shares > 0:
			report.ExpectedCash = report.ExpectedCash.Sub(transaction.Amount)
		case transaction.Kind == model.Sell && transaction.Shares < 0:
			report.ExpectedCash = report.ExpectedCash.Add(transaction.Amount)
		default:
			report.Problems = append(report.Problems, fmt.Sprintf(
				"transaction %d: %s with %d shares",
				transaction.ID, transaction.Kind, transaction.Shares,
			))
		}

		sharesBySymbol[transaction.Symbol] += transaction.Shares

		if sharesBySymbol[transaction.Symbol] < 0 {
			report.Problems = append(report.Problems, fmt.Sprintf(
				"transaction %d: %s holding goes negative",
				transaction.ID, transaction.Symbol,
			))
		}

		if report.ExpectedCash.IsNegative() {
			report.Problems = append(report.Problems, fmt.Sprintf(
				"transaction %d: cash goes negative",
				transaction.ID,
			))
		}
	}

	if !report.ExpectedCash.Equal(report.ActualCash) {
		report.Problems = append(report.Problems, fmt.Sprintf(
			"cash is %s, replay gives %s",
			report.ActualCash, report.ExpectedCash,
		))
	}

	return report, nil
}
