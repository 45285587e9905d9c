// Package migrate moves the ledger schema from one migration number to another.
package migrate

import (
	"context"
	"embed"
	"io/fs"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dense-analysis/papertrade/internal/database"
)

//go:embed migrations
var migrationFiles embed.FS

// Latest selects the newest migration.
const Latest = math.MaxInt32

type MigrationExecutor struct {
	conn              *database.Conn
	directoryName     string
	migrationFileList []string
}

func NewMigrationExecutor(conn *database.Conn) (*MigrationExecutor, error) {
	directoryName := path.Join("migrations", string(conn.Dialect()))
	entries, err := fs.ReadDir(migrationFiles, directoryName)

	if err != nil {
		return nil, err
	}

	migrationFileList := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFileList = append(migrationFileList, entry.Name())
		}
	}

	sort.Strings(migrationFileList)

	return &MigrationExecutor{conn, directoryName, migrationFileList}, nil
}

func (executor *MigrationExecutor) CreateMigrationTable(ctx context.Context) error {
	return executor.conn.Exec(
		ctx,
		"CREATE TABLE IF NOT EXISTS papertrade_migration (migration_number integer NOT NULL UNIQUE)",
	)
}

func (executor *MigrationExecutor) CurrentMigration(ctx context.Context) (int, error) {
	row := executor.conn.QueryRow(
		ctx,
		"SELECT COALESCE(MAX(migration_number), 0) FROM papertrade_migration",
	)

	var migrationNumber int
	err := row.Scan(&migrationNumber)

	return migrationNumber, err
}

// LatestMigration returns the highest migration number available.
func (executor *MigrationExecutor) LatestMigration() int {
	latest := 0

	for _, filename := range executor.migrationFileList {
		if number, _, ok := parseFilename(filename); ok && number > latest {
			latest = number
		}
	}

	return latest
}

func parseFilename(filename string) (number int, reverse bool, ok bool) {
	splitList := strings.Split(filename, "_")
	number, err := strconv.Atoi(splitList[0])

	if err != nil {
		return 0, false, false
	}

	return number, splitList[len(splitList)-1] == "reverse.sql", true
}

func splitStatements(content string) []string {
	// NOTE: SQL functions in migration files won't work.
	parts := strings.Split(content, ";\n")
	statements := make([]string, 0, len(parts))

	for _, part := range parts {
		if statement := strings.TrimSpace(part); statement != "" {
			statements = append(statements, statement)
		}
	}

	return statements
}

func (executor *MigrationExecutor) applyMigration(ctx context.Context, migrationNumber int, reverse bool) (bool, error) {
	var matchedFilename string

	for _, filename := range executor.migrationFileList {
		fileMigrationNumber, isReverseFile, ok := parseFilename(filename)

		if ok && migrationNumber == fileMigrationNumber && reverse == isReverseFile {
			matchedFilename = path.Join(executor.directoryName, filename)
			break
		}
	}

	if len(matchedFilename) == 0 {
		return true, nil
	}

	log.Info().Str("file", matchedFilename).Msg("applying migration")

	file, err := migrationFiles.ReadFile(matchedFilename)

	if err != nil {
		return false, err
	}

	tx, err := executor.conn.Begin(ctx)

	if err != nil {
		return false, err
	}

	defer tx.Rollback()

	for _, statement := range splitStatements(string(file)) {
		if err := tx.Exec(ctx, statement); err != nil {
			return false, err
		}
	}

	if reverse {
		err = tx.Exec(ctx, "DELETE FROM papertrade_migration WHERE migration_number = ?", migrationNumber)
	} else {
		err = tx.Exec(ctx, "INSERT INTO papertrade_migration (migration_number) VALUES (?)", migrationNumber)
	}

	if err != nil {
		return false, err
	}

	return false, tx.Commit()
}

// ApplyMigrations moves forwards or backwards until the selected migration
// number is reached, or no more migration files exist.
func (executor *MigrationExecutor) ApplyMigrations(ctx context.Context, selectedMigrationNumber int) error {
	if err := executor.CreateMigrationTable(ctx); err != nil {
		return err
	}

	startMigrationNumber, err := executor.CurrentMigration(ctx)

	if err != nil {
		return err
	}

	if selectedMigrationNumber > executor.LatestMigration() {
		selectedMigrationNumber = executor.LatestMigration()
	}

	reverse := selectedMigrationNumber < startMigrationNumber

	for i := startMigrationNumber; i != selectedMigrationNumber; {
		if !reverse {
			i += 1
		}

		stop, err := executor.applyMigration(ctx, i, reverse)

		if reverse {
			i -= 1
		}

		if err != nil {
			return err
		}

		if stop {
			break
		}
	}

	return nil
}

// Up applies every migration that has not been applied yet.
func Up(ctx context.Context, conn *database.Conn) error {
	executor, err := NewMigrationExecutor(conn)

	if err != nil {
		return err
	}

	return executor.ApplyMigrations(ctx, Latest)
}
