// Package ledger stores the append-only transaction log and user cash.
//
// The ledger performs no validation. Callers that change cash or append
// transactions do so inside WithinUser, which serialises all writers for the
// same user and applies their writes as one unit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dense-analysis/papertrade/internal/database"
	"github.com/dense-analysis/papertrade/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrStorage       = errors.New("storage error")
	ErrUsernameTaken = errors.New("username already exists")
)

// Store is the ledger backed by a SQL database.
type Store struct {
	conn *database.Conn
}

func New(conn *database.Conn) *Store {
	return &Store{conn: conn}
}

func storageError(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrStorage, err)
}

var userQuery = `select id, username, hash, cash, starting_cash from users `

func scanUser(row database.Row, user *model.User) error {
	return row.Scan(&user.ID, &user.Username, &user.Hash, &user.Cash, &user.StartingCash)
}

func loadUser(ctx context.Context, conn database.Queryable, user *model.User, where string, argument any) error {
	if err := scanUser(conn.QueryRow(ctx, userQuery+where, argument), user); err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return ErrNotFound
		}

		return storageError(err)
	}

	return nil
}

// CreateUser registers a new handle with a starting cash balance.
func (store *Store) CreateUser(ctx context.Context, username, hash string, cash decimal.Decimal) (int64, error) {
	var existing model.User

	if err := loadUser(ctx, store.conn, &existing, "where username = ?", username); err == nil {
		return 0, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	var id int64
	row := store.conn.QueryRow(
		ctx,
		"insert into users (username, hash, cash, starting_cash) values (?, ?, ?, ?) returning id",
		username,
		hash,
		cash,
		cash,
	)

	if err := row.Scan(&id); err != nil {
		// Lost a race with another registration for the same handle.
		if isUniqueViolation(err) {
			return 0, ErrUsernameTaken
		}

		return 0, storageError(err)
	}

	return id, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(err.Error())

	return strings.Contains(message, "unique") || strings.Contains(message, "duplicate key")
}

// FindUserByUsername loads a user by their handle.
func (store *Store) FindUserByUsername(ctx context.Context, username string) (model.User, error) {
	var user model.User
	err := loadUser(ctx, store.conn, &user, "where username = ?", username)

	return user, err
}

// GetUser loads a user by ID.
func (store *Store) GetUser(ctx context.Context, userID int64) (model.User, error) {
	var user model.User
	err := loadUser(ctx, store.conn, &user, "where id = ?", userID)

	return user, err
}

// ListUserIDs returns every user ID in ascending order.
func (store *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	var idList []int64

	err := model.LoadList(
		ctx,
		store.conn,
		&idList,
		16,
		func(row database.Row, id *int64) error { return row.Scan(id) },
		"select id from users order by id",
	)

	return idList, storageError(err)
}

func getCash(ctx context.Context, conn database.Queryable, userID int64) (decimal.Decimal, error) {
	var cash decimal.Decimal

	if err := conn.QueryRow(ctx, "select cash from users where id = ?", userID).Scan(&cash); err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}

		return decimal.Zero, storageError(err)
	}

	return cash, nil
}

// GetCash returns the current cash balance of a user.
func (store *Store) GetCash(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return getCash(ctx, store.conn, userID)
}

func getHoldingForSymbol(ctx context.Context, conn database.Queryable, userID int64, symbol string) (int64, error) {
	var shares int64
	row := conn.QueryRow(
		ctx,
		"select cast(coalesce(sum(shares), 0) as bigint) from transactions where user_id = ? and symbol = ?",
		userID,
		symbol,
	)

	if err := row.Scan(&shares); err != nil {
		return 0, storageError(err)
	}

	return shares, nil
}

// GetHoldingForSymbol returns the aggregate signed shares for one symbol.
func (store *Store) GetHoldingForSymbol(ctx context.Context, userID int64, symbol string) (int64, error) {
	return getHoldingForSymbol(ctx, store.conn, userID, symbol)
}

var holdingsQuery = `
select
	t.symbol,
	cast(sum(t.shares) as bigint) as total_shares,
	(
		select latest.price
		from transactions as latest
		where latest.user_id = t.user_id and latest.symbol = t.symbol
		order by latest.id desc
		limit 1
	) as last_price
from transactions as t
where t.user_id = ?
group by t.user_id, t.symbol
having sum(t.shares) <> 0
order by t.symbol
`

func scanHolding(row database.Row, holding *model.Holding) error {
	return row.Scan(&holding.Symbol, &holding.Shares, &holding.LastPrice)
}

// GetHoldings returns every symbol with a non-zero aggregate.
func (store *Store) GetHoldings(ctx context.Context, userID int64) ([]model.Holding, error) {
	var holdingList []model.Holding
	err := model.LoadList(ctx, store.conn, &holdingList, 8, scanHolding, holdingsQuery, userID)

	return holdingList, storageError(err)
}

var transactionQuery = `select id, user_id, symbol, price, shares, amount, kind, time from transactions `

func scanTransaction(row database.Row, transaction *model.Transaction) error {
	var kind string

	if err := row.Scan(
		&transaction.ID,
		&transaction.UserID,
		&transaction.Symbol,
		&transaction.Price,
		&transaction.Shares,
		&transaction.Amount,
		&kind,
		&transaction.Time,
	); err != nil {
		return err
	}

	transaction.Kind = model.Kind(kind)

	return nil
}

// GetHistory returns every transaction of a user, oldest first.
func (store *Store) GetHistory(ctx context.Context, userID int64) ([]model.Transaction, error) {
	var transactionList []model.Transaction
	err := model.LoadList(
		ctx,
		store.conn,
		&transactionList,
		32,
		scanTransaction,
		transactionQuery+"where user_id = ? order by id",
		userID,
	)

	return transactionList, storageError(err)
}

// TransactionsAfter returns up to `limit` transactions of all users with an ID
// greater than `afterID`, in ID order.
func (store *Store) TransactionsAfter(ctx context.Context, afterID int64, limit int) ([]model.Transaction, error) {
	var transactionList []model.Transaction
	err := model.LoadList(
		ctx,
		store.conn,
		&transactionList,
		limit,
		scanTransaction,
		transactionQuery+"where id > ? order by id limit ?",
		afterID,
		limit,
	)

	return transactionList, storageError(err)
}

// Tx is a unit of work scoped to one user.
type Tx struct {
	tx     *database.Tx
	userID int64
}

// GetCash reads the cash balance inside the scope.
func (tx *Tx) GetCash(ctx context.Context) (decimal.Decimal, error) {
	return getCash(ctx, tx.tx, tx.userID)
}

// GetHoldingForSymbol reads the aggregate shares for a symbol inside the scope.
func (tx *Tx) GetHoldingForSymbol(ctx context.Context, symbol string) (int64, error) {
	return getHoldingForSymbol(ctx, tx.tx, tx.userID, symbol)
}

// RecordTransaction appends one row to the ledger and returns its ID.
func (tx *Tx) RecordTransaction(ctx context.Context, transaction model.Transaction) (int64, error) {
	var id int64
	row := tx.tx.QueryRow(
		ctx,
		`insert into transactions (user_id, symbol, price, shares, amount, kind, time)
		values (?, ?, ?, ?, ?, ?, ?)
		returning id`,
		tx.userID,
		transaction.Symbol,
		transaction.Price,
		transaction.Shares,
		transaction.Amount,
		string(transaction.Kind),
		transaction.Time.UTC(),
	)

	if err := row.Scan(&id); err != nil {
		return 0, storageError(err)
	}

	return id, nil
}

// SetCash overwrites the cash balance of the scoped user.
func (tx *Tx) SetCash(ctx context.Context, balance decimal.Decimal) error {
	return storageError(tx.tx.Exec(ctx, "update users set cash = ? where id = ?", balance, tx.userID))
}

// WithinUser runs `fn` inside a database transaction holding the lock on the
// user's row. The transaction commits when `fn` returns nil and rolls back on
// every other exit, including a panic.
func (store *Store) WithinUser(ctx context.Context, userID int64, fn func(*Tx) error) (err error) {
	tx, err := store.conn.Begin(ctx)

	if err != nil {
		return storageError(err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	lockQuery := "select id from users where id = ?"

	if tx.Dialect() == database.Postgres {
		lockQuery += " for update"
	}

	var lockedID int64

	if err := tx.QueryRow(ctx, lockQuery, userID).Scan(&lockedID); err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return ErrNotFound
		}

		return storageError(err)
	}

	if err := fn(&Tx{tx: tx, userID: userID}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageError(err)
	}

	committed = true

	return nil
}

// Now is the clock used for new transactions, truncated so that every
// backend stores the same value.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
