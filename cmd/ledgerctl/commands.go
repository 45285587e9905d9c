package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/subcommands"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dense-analysis/papertrade/internal/archive"
	"github.com/dense-analysis/papertrade/internal/database"
	"github.com/dense-analysis/papertrade/internal/env"
	"github.com/dense-analysis/papertrade/internal/ledger"
	"github.com/dense-analysis/papertrade/internal/logger"
	"github.com/dense-analysis/papertrade/internal/migrate"
	trading "github.com/dense-analysis/papertrade/internal/portfolio"
	"github.com/dense-analysis/papertrade/internal/quote"
	"github.com/dense-analysis/papertrade/internal/route/auth"
)

var commands = []subcommands.Command{
	&migrateCmd{},
	&adduserCmd{},
	&verifyCmd{},
	&archiveCmd{},
}

var configPath = flag.String("config", "", "path to the TOML configuration file")

// connect loads the configuration and opens the ledger database.
func connect(ctx context.Context) (*env.Config, *database.Conn, error) {
	cfg, err := env.Load(*configPath)

	if err != nil {
		return nil, nil, err
	}

	logger.Setup(cfg.Log.Level)

	conn, err := database.Open(ctx, cfg.Dialect(), cfg.DSN())

	if err != nil {
		return nil, nil, fmt.Errorf("connection error: %w", err)
	}

	return cfg, conn, nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "%s\n", err)

	return subcommands.ExitFailure
}

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "migrate the ledger schema up or down" }
func (*migrateCmd) Usage() string {
	return `ledgerctl migrate [<migration number>]

  Applies or reverses migrations until the given migration number is
  reached. Without a number every migration is applied.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() > 1 {
		return subcommands.ExitUsageError
	}

	selected := migrate.Latest

	if f.NArg() == 1 {
		number, err := strconv.Atoi(f.Arg(0))

		if err != nil || number < 0 {
			return fail(fmt.Errorf("invalid migration number: %s", f.Arg(0)))
		}

		selected = number
	}

	_, conn, err := connect(ctx)

	if err != nil {
		return fail(err)
	}

	defer conn.Close()

	executor, err := migrate.NewMigrationExecutor(conn)

	if err != nil {
		return fail(err)
	}

	if err := executor.ApplyMigrations(ctx, selected); err != nil {
		return fail(fmt.Errorf("migration error: %w", err))
	}

	return subcommands.ExitSuccess
}

type adduserCmd struct {
	cash string
}

func (*adduserCmd) Name() string     { return "adduser" }
func (*adduserCmd) Synopsis() string { return "create a user who can log in" }
func (*adduserCmd) Usage() string {
	return `ledgerctl adduser [-cash <amount>] <username> <password>
`
}

func (cmd *adduserCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&cmd.cash, "cash", "", "starting cash, defaults to ledger.starting_cash")
}

func (cmd *adduserCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 || f.Arg(0) == "" || f.Arg(1) == "" {
		return subcommands.ExitUsageError
	}

	cfg, conn, err := connect(ctx)

	if err != nil {
		return fail(err)
	}

	defer conn.Close()

	cash := cfg.Ledger.StartingCash

	if cmd.cash != "" {
		cash, err = decimal.NewFromString(cmd.cash)

		if err != nil || cash.IsNegative() {
			return fail(fmt.Errorf("invalid cash amount: %s", cmd.cash))
		}
	}

	hash, err := auth.HashPassword(f.Arg(1), cfg.Server.BcryptCost)

	if err != nil {
		return fail(fmt.Errorf("password hashing error: %w", err))
	}

	userID, err := ledger.New(conn).CreateUser(ctx, f.Arg(0), hash, cash)

	if err != nil {
		return fail(fmt.Errorf("could not create user: %w", err))
	}

	fmt.Printf("created user %d\n", userID)

	return subcommands.ExitSuccess
}

type verifyCmd struct{}

func (*verifyCmd) Name() string     { return "verify" }
func (*verifyCmd) Synopsis() string { return "check every user's cash against their transactions" }
func (*verifyCmd) Usage() string {
	return `ledgerctl verify

  Replays each user's transactions from their opening balance and reports
  users whose balance or holdings do not add up. Users created before
  opening balances were recorded start from the configured starting cash.
`
}
func (*verifyCmd) SetFlags(*flag.FlagSet) {}

func (*verifyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, conn, err := connect(ctx)

	if err != nil {
		return fail(err)
	}

	defer conn.Close()

	store := ledger.New(conn)
	engine := trading.New(store, quote.NewStatic())
	userIDs, err := store.ListUserIDs(ctx)

	if err != nil {
		return fail(err)
	}

	var problems error

	for _, userID := range userIDs {
		report, err := engine.Verify(ctx, userID, cfg.Ledger.StartingCash)

		if err != nil {
			return fail(err)
		}

		if report.OK() {
			continue
		}

		for _, problem := range report.Problems {
			problems = errors.Join(problems, fmt.Errorf("user %d: %s", userID, problem))
		}
	}

	if problems != nil {
		return fail(problems)
	}

	log.Info().Int("users", len(userIDs)).Msg("ledger verified")

	return subcommands.ExitSuccess
}

type archiveCmd struct {
	pageSize int
	settle   time.Duration
}

func (*archiveCmd) Name() string     { return "archive" }
func (*archiveCmd) Synopsis() string { return "copy new ledger rows into ClickHouse" }
func (*archiveCmd) Usage() string {
	return `ledgerctl archive [-page <rows>] [-settle <duration>]

  Rows younger than the settle duration are left for a later run.
`
}

func (cmd *archiveCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&cmd.pageSize, "page", archive.DefaultPageSize, "rows sent per batch")
	f.DurationVar(&cmd.settle, "settle", archive.DefaultSettle, "minimum age of an archived row")
}

func (cmd *archiveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, conn, err := connect(ctx)

	if err != nil {
		return fail(err)
	}

	defer conn.Close()

	if cfg.ClickHouse.Address == "" {
		return fail(errors.New("no CLICKHOUSE_ADDR variable set"))
	}

	sink, err := archive.Connect(
		ctx,
		cfg.ClickHouse.Address,
		cfg.ClickHouse.Database,
		cfg.ClickHouse.Username,
		cfg.ClickHouse.Password,
	)

	if err != nil {
		return fail(fmt.Errorf("clickhouse connection error: %w", err))
	}

	defer sink.Close()

	archiver, err := archive.New(ledger.New(conn), sink, cfg.ClickHouse.Table)

	if err != nil {
		return fail(err)
	}

	archiver.SetPageSize(cmd.pageSize)
	archiver.SetSettle(cmd.settle)

	sent, err := archiver.Run(ctx)

	if err != nil {
		return fail(err)
	}

	fmt.Printf("archived %d rows\n", sent)

	return subcommands.ExitSuccess
}
