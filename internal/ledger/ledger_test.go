package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dense-analysis/papertrade/internal/database"
	"github.com/dense-analysis/papertrade/internal/migrate"
	"github.com/dense-analysis/papertrade/internal/model"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	conn, err := database.Open(ctx, database.SQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Up(ctx, conn))

	return New(conn)
}

func createUser(t *testing.T, store *Store, username string) int64 {
	t.Helper()

	id, err := store.CreateUser(context.Background(), username, "hash", decimal.RequireFromString("10000.00"))
	require.NoError(t, err)

	return id
}

func record(t *testing.T, store *Store, userID int64, symbol string, price string, shares int64) {
	t.Helper()

	kind := model.Buy

	if shares < 0 {
		kind = model.Sell
	}

	unitPrice := decimal.RequireFromString(price)
	amount := unitPrice.Mul(decimal.NewFromInt(shares).Abs())

	err := store.WithinUser(context.Background(), userID, func(tx *Tx) error {
		_, err := tx.RecordTransaction(context.Background(), model.Transaction{
			Symbol: symbol,
			Price:  unitPrice,
			Shares: shares,
			Amount: amount,
			Kind:   kind,
			Time:   Now(),
		})

		return err
	})
	require.NoError(t, err)
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	id := createUser(t, store, "ada")

	user, err := store.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, "hash", user.Hash)
	assert.True(t, decimal.RequireFromString("10000").Equal(user.Cash))
	assert.True(t, user.StartingCash.Valid)
	assert.True(t, decimal.RequireFromString("10000").Equal(user.StartingCash.Decimal))

	found, err := store.FindUserByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	_, err = store.CreateUser(ctx, "ada", "other", decimal.Zero)
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = store.FindUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserWithoutOpeningBalance(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.conn.Exec(ctx, "insert into users (username, hash, cash) values (?, ?, ?)", "old", "hash", "42.00"))

	user, err := store.FindUserByUsername(ctx, "old")
	require.NoError(t, err)
	assert.False(t, user.StartingCash.Valid)
	assert.True(t, decimal.RequireFromString("42").Equal(user.Cash))
}

func TestGetCashUnknownUser(t *testing.T) {
	store := newStore(t)

	_, err := store.GetCash(context.Background(), 404)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithinUserUnknownUser(t *testing.T) {
	store := newStore(t)
	called := false

	err := store.WithinUser(context.Background(), 404, func(tx *Tx) error {
		called = true

		return nil
	})

	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, called)
}

func TestWithinUserCommitsCashAndTransactionTogether(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	userID := createUser(t, store, "ada")

	err := store.WithinUser(ctx, userID, func(tx *Tx) error {
		cash, err := tx.GetCash(ctx)

		if err != nil {
			return err
		}

		if _, err := tx.RecordTransaction(ctx, model.Transaction{
			Symbol: "AAPL",
			Price:  decimal.RequireFromString("100.00"),
			Shares: 10,
			Amount: decimal.RequireFromString("1000.00"),
			Kind:   model.Buy,
			Time:   Now(),
		}); err != nil {
			return err
		}

		return tx.SetCash(ctx, cash.Sub(decimal.RequireFromString("1000.00")))
	})
	require.NoError(t, err)

	cash, err := store.GetCash(ctx, userID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("9000").Equal(cash), cash.String())

	shares, err := store.GetHoldingForSymbol(ctx, userID, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(10), shares)
}

func TestWithinUserRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	userID := createUser(t, store, "ada")
	failure := errors.New("boom")

	err := store.WithinUser(ctx, userID, func(tx *Tx) error {
		if _, err := tx.RecordTransaction(ctx, model.Transaction{
			Symbol: "AAPL",
			Price:  decimal.RequireFromString("100.00"),
			Shares: 10,
			Amount: decimal.RequireFromString("1000.00"),
			Kind:   model.Buy,
			Time:   Now(),
		}); err != nil {
			return err
		}

		return failure
	})
	assert.ErrorIs(t, err, failure)

	history, err := store.GetHistory(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestWithinUserRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	userID := createUser(t, store, "ada")

	assert.Panics(t, func() {
		_ = store.WithinUser(ctx, userID, func(tx *Tx) error {
			if err := tx.SetCash(ctx, decimal.Zero); err != nil {
				return err
			}

			panic("unexpected")
		})
	})

	cash, err := store.GetCash(ctx, userID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10000").Equal(cash))
}

func TestGetHoldingsAggregatesAndHidesClosedPositions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	userID := createUser(t, store, "ada")
	otherID := createUser(t, store, "bob")

	record(t, store, userID, "MSFT", "300.00", 2)
	record(t, store, userID, "AAPL", "100.00", 10)
	record(t, store, userID, "AAPL", "150.00", -4)
	record(t, store, userID, "TSLA", "200.00", 3)
	record(t, store, userID, "TSLA", "210.00", -3)
	record(t, store, otherID, "AAPL", "100.00", 50)

	holdings, err := store.GetHoldings(ctx, userID)
	require.NoError(t, err)
	require.Len(t, holdings, 2)

	assert.Equal(t, "AAPL", holdings[0].Symbol)
	assert.Equal(t, int64(6), holdings[0].Shares)
	assert.True(t, decimal.RequireFromString("150").Equal(holdings[0].LastPrice))

	assert.Equal(t, "MSFT", holdings[1].Symbol)
	assert.Equal(t, int64(2), holdings[1].Shares)

	shares, err := store.GetHoldingForSymbol(ctx, userID, "TSLA")
	require.NoError(t, err)
	assert.Equal(t, int64(0), shares)

	shares, err = store.GetHoldingForSymbol(ctx, userID, "NONE")
	require.NoError(t, err)
	assert.Equal(t, int64(0), shares)
}

func TestGetHistoryIsInsertionOrdered(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	userID := createUser(t, store, "ada")

	record(t, store, userID, "AAPL", "100.00", 10)
	record(t, store, userID, "AAPL", "150.00", -4)

	history, err := store.GetHistory(ctx, userID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, model.Buy, history[0].Kind)
	assert.Equal(t, int64(10), history[0].Shares)
	assert.True(t, decimal.RequireFromString("1000").Equal(history[0].Amount))
	assert.Equal(t, model.Sell, history[1].Kind)
	assert.Equal(t, int64(-4), history[1].Shares)
	assert.True(t, decimal.RequireFromString("600").Equal(history[1].Amount))
	assert.Less(t, history[0].ID, history[1].ID)
	assert.WithinDuration(t, time.Now(), history[1].Time, time.Minute)
}

func TestTransactionsAfter(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	userID := createUser(t, store, "ada")
	otherID := createUser(t, store, "bob")

	record(t, store, userID, "AAPL", "100.00", 1)
	record(t, store, otherID, "MSFT", "100.00", 2)
	record(t, store, userID, "AAPL", "100.00", 3)

	first, err := store.TransactionsAfter(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, otherID, first[1].UserID)

	rest, err := store.TransactionsAfter(ctx, first[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(3), rest[0].Shares)

	idList, err := store.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{userID, otherID}, idList)
}
