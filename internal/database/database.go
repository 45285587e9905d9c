// Package database wraps the SQL connection used by the ledger.
//
// Queries are written with `?` placeholders and rebound for the dialect of
// the connection, so the same statements run against PostgreSQL and SQLite.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v4/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour of a connection.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

type Conn struct {
	db      *sql.DB
	dialect Dialect
}

type Row interface {
	Scan(dest ...any) error
}

type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Queryable defines an interface for a connection or an open transaction.
type Queryable interface {
	Exec(ctx context.Context, sql string, arguments ...any) error
	Query(ctx context.Context, sql string, arguments ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) Row
}

var ErrNoRows = sql.ErrNoRows

// PostgresDSN builds a connection string from its parts.
func PostgresDSN(username, password, host, port, name string) string {
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(username, password),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + name,
	}

	return dsn.String()
}

// Open connects to the database for the given dialect and checks the
// connection is alive.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Conn, error) {
	var db *sql.DB
	var err error

	switch dialect {
	case Postgres:
		db, err = sql.Open("pgx", dsn)

		if err != nil {
			return nil, err
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	case SQLite:
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}

		db, err = sql.Open("sqlite", dsn+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")

		if err != nil {
			return nil, err
		}

		// One connection serialises every transaction on the file.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unknown database dialect %q", dialect)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Conn{db: db, dialect: dialect}, nil
}

// Dialect returns the SQL flavour of the connection.
func (conn *Conn) Dialect() Dialect {
	return conn.dialect
}

// Close closes a database connection.
func (conn *Conn) Close() error {
	return conn.db.Close()
}

// Exec executes a database query.
func (conn *Conn) Exec(ctx context.Context, sql string, arguments ...any) error {
	_, err := conn.db.ExecContext(ctx, rebind(conn.dialect, sql), arguments...)

	return err
}

// Query executes a database query.
func (conn *Conn) Query(ctx context.Context, sql string, arguments ...any) (Rows, error) {
	return conn.db.QueryContext(ctx, rebind(conn.dialect, sql), arguments...)
}

// QueryRow executes a database query returning Row data.
func (conn *Conn) QueryRow(ctx context.Context, sql string, arguments ...any) Row {
	return conn.db.QueryRowContext(ctx, rebind(conn.dialect, sql), arguments...)
}

// Begin starts a transaction.
func (conn *Conn) Begin(ctx context.Context) (*Tx, error) {
	tx, err := conn.db.BeginTx(ctx, nil)

	if err != nil {
		return nil, err
	}

	return &Tx{tx: tx, dialect: conn.dialect}, nil
}

// Tx is an open transaction. It satisfies Queryable.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (tx *Tx) Exec(ctx context.Context, sql string, arguments ...any) error {
	_, err := tx.tx.ExecContext(ctx, rebind(tx.dialect, sql), arguments...)

	return err
}

func (tx *Tx) Query(ctx context.Context, sql string, arguments ...any) (Rows, error) {
	return tx.tx.QueryContext(ctx, rebind(tx.dialect, sql), arguments...)
}

func (tx *Tx) QueryRow(ctx context.Context, sql string, arguments ...any) Row {
	return tx.tx.QueryRowContext(ctx, rebind(tx.dialect, sql), arguments...)
}

// Dialect returns the SQL flavour of the transaction.
func (tx *Tx) Dialect() Dialect {
	return tx.dialect
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

// rebind replaces `?` placeholders with `$1`, `$2`... for PostgreSQL.
func rebind(dialect Dialect, query string) string {
	if dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var builder strings.Builder
	builder.Grow(len(query) + 8)
	index := 0

	for _, char := range query {
		if char == '?' {
			index++
			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(index))
		} else {
			builder.WriteRune(char)
		}
	}

	return builder.String()
}
