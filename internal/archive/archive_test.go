package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dense-analysis/papertrade/internal/database"
	"github.com/dense-analysis/papertrade/internal/ledger"
	"github.com/dense-analysis/papertrade/internal/migrate"
	"github.com/dense-analysis/papertrade/internal/model"
)

type fakeRow struct {
	id int64
}

func (row fakeRow) Scan(dest ...any) error {
	*dest[0].(*int64) = row.id

	return nil
}

type fakeBatch struct {
	sink *fakeSink
	rows [][]any
}

func (batch *fakeBatch) Append(values ...any) error {
	batch.rows = append(batch.rows, values)

	return nil
}

func (batch *fakeBatch) Send() error {
	if batch.sink.failSend {
		return errors.New("connection reset")
	}

	batch.sink.batches = append(batch.sink.batches, batch.rows)

	return nil
}

type fakeSink struct {
	statements []string
	batches    [][][]any
	failSend   bool
}

func (sink *fakeSink) Exec(ctx context.Context, sql string, arguments ...any) error {
	sink.statements = append(sink.statements, sql)

	return nil
}

func (sink *fakeSink) QueryRow(ctx context.Context, sql string, arguments ...any) database.Row {
	var last int64

	for _, batch := range sink.batches {
		for _, row := range batch {
			last = max(last, row[0].(int64))
		}
	}

	return fakeRow{last}
}

func (sink *fakeSink) PrepareBatch(ctx context.Context, sql string) (Batch, error) {
	sink.statements = append(sink.statements, sql)

	return &fakeBatch{sink: sink}, nil
}

func (sink *fakeSink) rowCount() int {
	count := 0

	for _, batch := range sink.batches {
		count += len(batch)
	}

	return count
}

func newLedger(t *testing.T, trades int) *ledger.Store {
	t.Helper()

	ctx := context.Background()
	conn, err := database.Open(ctx, database.SQLite, filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Up(ctx, conn))

	store := ledger.New(conn)
	userID, err := store.CreateUser(ctx, "ann", "hash", decimal.NewFromInt(10000))
	require.NoError(t, err)

	for i := 0; i < trades; i++ {
		require.NoError(t, store.WithinUser(ctx, userID, func(tx *ledger.Tx) error {
			_, err := tx.RecordTransaction(ctx, model.Transaction{
				UserID: userID,
				Symbol: fmt.Sprintf("S%d", i%3),
				Price:  decimal.RequireFromString("1.50"),
				Shares: 2,
				Amount: decimal.RequireFromString("3.00"),
				Kind:   model.Buy,
				Time:   ledger.Now(),
			})

			return err
		}))
	}

	return store
}

// newArchiver returns an archiver whose clock is far enough ahead that every
// row is settled.
func newArchiver(t *testing.T, source Source, sink Sink) *Archiver {
	t.Helper()

	archiver, err := New(source, sink, "papertrade_transactions")
	require.NoError(t, err)
	archiver.now = func() time.Time { return time.Now().Add(time.Hour) }

	return archiver
}

// lateSource is a ledger where rows can become visible out of ID order.
type lateSource struct {
	rows []model.Transaction
}

func (source *lateSource) TransactionsAfter(ctx context.Context, afterID int64, limit int) ([]model.Transaction, error) {
	var page []model.Transaction

	for _, row := range source.rows {
		if row.ID > afterID && len(page) < limit {
			page = append(page, row)
		}
	}

	return page, nil
}

func (source *lateSource) commit(id int64, at time.Time) {
	row := model.Transaction{ID: id, UserID: id, Symbol: "AAPL", Shares: 1, Kind: model.Buy, Time: at}
	index := sort.Search(len(source.rows), func(i int) bool { return source.rows[i].ID > id })
	source.rows = slices.Insert(source.rows, index, row)
}

func TestNewRejectsBadTableName(t *testing.T) {
	_, err := New(nil, &fakeSink{}, "ledger; DROP TABLE x")
	assert.Error(t, err)
}

func TestRunSendsEveryRowInPages(t *testing.T) {
	sink := &fakeSink{}
	archiver := newArchiver(t, newLedger(t, 7), sink)
	archiver.SetPageSize(3)

	sent, err := archiver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, sent)
	assert.Len(t, sink.batches, 3)
	assert.Equal(t, 7, sink.rowCount())
	assert.True(t, strings.Contains(sink.statements[0], "CREATE TABLE IF NOT EXISTS papertrade_transactions"))

	first := sink.batches[0][0]
	assert.Equal(t, int64(1), first[0])
	assert.Equal(t, "S0", first[2])
	assert.Equal(t, "Buy", first[6])
}

func TestRunContinuesFromLastArchivedRow(t *testing.T) {
	store := newLedger(t, 4)
	sink := &fakeSink{}
	archiver := newArchiver(t, store, sink)

	sent, err := archiver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, sent)

	sent, err = archiver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 4, sink.rowCount())
}

func TestRunReportsSendFailure(t *testing.T) {
	sink := &fakeSink{failSend: true}
	archiver := newArchiver(t, newLedger(t, 2), sink)

	sent, err := archiver.Run(context.Background())
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, 0, sent)
}

func TestRunWaitsForRowsCommittedOutOfOrder(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	clock := start
	source := &lateSource{}
	sink := &fakeSink{}
	archiver, err := New(source, sink, "papertrade_transactions")
	require.NoError(t, err)
	archiver.now = func() time.Time { return clock }

	// Row 11 commits while row 10 is still inside its ledger transaction.
	source.commit(11, start.Add(-2*time.Second))

	sent, err := archiver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	source.commit(10, start.Add(-3*time.Second))
	clock = start.Add(2 * DefaultSettle)

	sent, err = archiver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Len(t, sink.batches, 1)
	assert.Equal(t, int64(10), sink.batches[0][0][0])
	assert.Equal(t, int64(11), sink.batches[0][1][0])
}

func TestRunStopsAtFirstUnsettledRow(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	source := &lateSource{}
	source.commit(1, now.Add(-time.Hour))
	source.commit(2, now.Add(-time.Second))
	source.commit(3, now.Add(-time.Hour))

	sink := &fakeSink{}
	archiver, err := New(source, sink, "papertrade_transactions")
	require.NoError(t, err)
	archiver.now = func() time.Time { return now }

	sent, err := archiver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	archiver.now = func() time.Time { return now.Add(time.Hour) }

	sent, err = archiver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 3, sink.rowCount())
}
