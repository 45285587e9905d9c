// Package archive copies the ledger into ClickHouse for reporting.
//
// The ledger remains the source of truth. Archiving only ever appends rows
// with an ID greater than the greatest ID already archived, so running it
// again continues where the last run stopped.
//
// IDs are handed out when a row is inserted but rows become visible when
// their ledger transaction commits, so a lower ID can appear after a higher
// one. Rows younger than the settle window are never archived, and a run
// stops at the first one it meets. The settle window must be longer than
// any ledger transaction.
package archive

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/dense-analysis/papertrade/internal/database"
	"github.com/dense-analysis/papertrade/internal/model"
)

const (
	// DefaultPageSize is the number of ledger rows sent in one batch.
	DefaultPageSize = 1000
	// DefaultSettle is how old a ledger row must be before it is archived.
	DefaultSettle = time.Minute
)

type Batch interface {
	Append(values ...any) error
	Send() error
}

// Sink is the archive database.
type Sink interface {
	Exec(ctx context.Context, sql string, arguments ...any) error
	QueryRow(ctx context.Context, sql string, arguments ...any) database.Row
	PrepareBatch(ctx context.Context, sql string) (Batch, error)
}

// Source reads ledger rows in ID order.
type Source interface {
	TransactionsAfter(ctx context.Context, afterID int64, limit int) ([]model.Transaction, error)
}

// Conn is a ClickHouse connection.
type Conn struct {
	chConn clickhouse.Conn
}

// Connect connects to ClickHouse and checks the connection works.
func Connect(ctx context.Context, address, databaseName, username, password string) (*Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{address},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: username,
			Password: password,
		},
		DialTimeout: time.Second * 5,
	})

	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()

		return nil, err
	}

	return &Conn{chConn: conn}, nil
}

func (conn *Conn) Close() error {
	return conn.chConn.Close()
}

func (conn *Conn) Exec(ctx context.Context, sql string, arguments ...any) error {
	return conn.chConn.Exec(ctx, sql, arguments...)
}

func (conn *Conn) QueryRow(ctx context.Context, sql string, arguments ...any) database.Row {
	return conn.chConn.QueryRow(ctx, sql, arguments...)
}

// PrepareBatch prepares an insert batch for ClickHouse.
func (conn *Conn) PrepareBatch(ctx context.Context, sql string) (Batch, error) {
	return conn.chConn.PrepareBatch(ctx, sql)
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Archiver struct {
	source   Source
	sink     Sink
	table    string
	pageSize int
	settle   time.Duration
	now      func() time.Time
}

func New(source Source, sink Sink, table string) (*Archiver, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid archive table name %q", table)
	}

	return &Archiver{
		source:   source,
		sink:     sink,
		table:    table,
		pageSize: DefaultPageSize,
		settle:   DefaultSettle,
		now:      time.Now,
	}, nil
}

// SetPageSize changes how many rows are sent per batch.
func (archiver *Archiver) SetPageSize(size int) {
	if size > 0 {
		archiver.pageSize = size
	}
}

var createTableQuery = `
CREATE TABLE IF NOT EXISTS %s (
	id Int64,
	user_id Int64,
	symbol String,
	price Decimal(18, 4),
	shares Int64,
	amount Decimal(18, 4),
	kind LowCardinality(String),
	time DateTime64(6, 'UTC')
)
ENGINE = ReplacingMergeTree
ORDER BY (user_id, id)
`

// SetSettle changes how old a row must be before it is archived.
func (archiver *Archiver) SetSettle(settle time.Duration) {
	if settle >= 0 {
		archiver.settle = settle
	}
}

// settled returns the leading rows of page older than cutoff.
func settled(page []model.Transaction, cutoff time.Time) []model.Transaction {
	for i, transaction := range page {
		if !transaction.Time.Before(cutoff) {
			return page[:i]
		}
	}

	return page
}

// CreateTable creates the archive table if it does not exist.
func (archiver *Archiver) CreateTable(ctx context.Context) error {
	return archiver.sink.Exec(ctx, fmt.Sprintf(createTableQuery, archiver.table))
}

// LastArchivedID returns the greatest archived ledger ID, or 0.
func (archiver *Archiver) LastArchivedID(ctx context.Context) (int64, error) {
	var id int64
	row := archiver.sink.QueryRow(ctx, fmt.Sprintf("SELECT max(id) FROM %s", archiver.table))

	if err := row.Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

func (archiver *Archiver) sendPage(ctx context.Context, page []model.Transaction) error {
	batch, err := archiver.sink.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", archiver.table))

	if err != nil {
		return err
	}

	for _, transaction := range page {
		if err := batch.Append(
			transaction.ID,
			transaction.UserID,
			transaction.Symbol,
			transaction.Price,
			transaction.Shares,
			transaction.Amount,
			string(transaction.Kind),
			transaction.Time,
		); err != nil {
			return err
		}
	}

	return batch.Send()
}

// Run archives every ledger row not yet archived and returns how many rows
// were sent.
func (archiver *Archiver) Run(ctx context.Context) (int, error) {
	if err := archiver.CreateTable(ctx); err != nil {
		return 0, fmt.Errorf("create archive table: %w", err)
	}

	afterID, err := archiver.LastArchivedID(ctx)

	if err != nil {
		return 0, fmt.Errorf("read archive position: %w", err)
	}

	cutoff := archiver.now().Add(-archiver.settle)
	sent := 0

	for {
		page, err := archiver.source.TransactionsAfter(ctx, afterID, archiver.pageSize)

		if err != nil {
			return sent, err
		}

		ready := settled(page, cutoff)

		if len(ready) > 0 {
			if err := archiver.sendPage(ctx, ready); err != nil {
				return sent, fmt.Errorf("send batch after %d: %w", afterID, err)
			}

			sent += len(ready)
			afterID = ready[len(ready)-1].ID
			log.Debug().Int64("after", afterID).Int("rows", len(ready)).Msg("archived batch")
		}

		if len(ready) < len(page) || len(page) < archiver.pageSize {
			break
		}
	}

	log.Info().Int("rows", sent).Str("table", archiver.table).Msg("archive complete")

	return sent, nil
}
