package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/KAsare1/Fintrack-server/cmd/api"
	"github.com/KAsare1/Fintrack-server/config"
	"github.com/KAsare1/Fintrack-server/db"
	"github.com/KAsare1/Fintrack-server/ratelimit"
	"github.com/KAsare1/Fintrack-server/service/budgets"
	notification "github.com/KAsare1/Fintrack-server/service/notifications"
	"github.com/KAsare1/Fintrack-server/service/recurring"
	"github.com/KAsare1/Fintrack-server/service/transactions"
	"github.com/google/subcommands"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// setup loads the configuration, installs the logger and opens the
// database.
func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(cfg.Logger())

	gdb, err := db.NewPSQLStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database initialization: %w", err)
	}
	slog.Info("Connected to the database")
	return cfg, gdb, nil
}

func fail(err error) subcommands.ExitStatus {
	slog.Error(err.Error())
	return subcommands.ExitFailure
}

type serveCmd struct{}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the HTTP API (default command)" }
func (*serveCmd) Usage() string {
	return `serve

  Starts the API server on SERVER_PORT and runs until interrupted.
`
}
func (*serveCmd) SetFlags(*flag.FlagSet) {}

func (*serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, gdb, err := setup()
	if err != nil {
		return fail(err)
	}
	defer db.Close(gdb)
	if err := cfg.RequireServer(); err != nil {
		return fail(err)
	}

	store, closeStore := ratelimit.NewStore(ctx, cfg.RedisAddr)
	defer closeStore()

	if err := api.NewApiServer(cfg, gdb, store).Run(ctx); err != nil {
		return fail(fmt.Errorf("server error: %w", err))
	}
	slog.Info("Server stopped")
	return subcommands.ExitSuccess
}

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create or update every table" }
func (*migrateCmd) Usage() string {
	return `migrate

  Runs gorm auto-migration for all models.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	_, gdb, err := setup()
	if err != nil {
		return fail(err)
	}
	defer db.Close(gdb)

	slog.Info("Starting database migrations")
	if err := db.Migrate(gdb); err != nil {
		return fail(fmt.Errorf("migration error: %w", err))
	}
	slog.Info("Migrations completed successfully")
	return subcommands.ExitSuccess
}

type clearDBCmd struct {
	tables   string
	truncate bool
	yes      bool
}

func (*clearDBCmd) Name() string     { return "clear-db" }
func (*clearDBCmd) Synopsis() string { return "drop or empty tables" }
func (*clearDBCmd) Usage() string {
	return `clear-db [-tables users,transactions] [-truncate] [-yes]

  Drops every table (or the listed ones). With -truncate the tables are
  emptied instead and their id sequences restarted.
`
}

func (c *clearDBCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.tables, "tables", "", "Comma separated table names. Empty means all tables.")
	f.BoolVar(&c.truncate, "truncate", false, "Empty the tables instead of dropping them.")
	f.BoolVar(&c.yes, "yes", false, "Do not ask for confirmation.")
}

func (c *clearDBCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	_, gdb, err := setup()
	if err != nil {
		return fail(err)
	}
	defer db.Close(gdb)

	tables, err := tableNames(gdb, c.tables)
	if err != nil {
		return fail(err)
	}

	if !c.yes {
		fmt.Printf("This will %s: %s\nAre you sure? (yes/no): ", map[bool]string{true: "empty", false: "drop"}[c.truncate], strings.Join(tables, ", "))
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			slog.Info("Database clearing cancelled")
			return subcommands.ExitSuccess
		}
	}

	if err := clearTables(gdb, tables, c.truncate); err != nil {
		return fail(err)
	}
	slog.Info("Database cleared", "tables", len(tables), "truncate", c.truncate)
	return subcommands.ExitSuccess
}

// tableNames resolves the -tables flag against the known models, children
// before parents.
func tableNames(gdb *gorm.DB, list string) ([]string, error) {
	models := db.Models()
	known := make([]string, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		stmt := &gorm.Statement{DB: gdb}
		if err := stmt.Parse(models[i]); err != nil {
			return nil, err
		}
		known = append(known, stmt.Schema.Table)
	}
	if strings.TrimSpace(list) == "" {
		return known, nil
	}

	wanted := map[string]bool{}
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			wanted[name] = true
		}
	}
	var out []string
	for _, name := range known {
		if wanted[name] {
			out = append(out, name)
			delete(wanted, name)
		}
	}
	for name := range wanted {
		return nil, fmt.Errorf("unknown table: %s", name)
	}
	return out, nil
}

func clearTables(gdb *gorm.DB, tables []string, truncate bool) error {
	if truncate {
		quoted := make([]string, len(tables))
		for i, t := range tables {
			quoted[i] = pq.QuoteIdentifier(t)
		}
		return gdb.Exec("TRUNCATE TABLE " + strings.Join(quoted, ", ") + " RESTART IDENTITY CASCADE").Error
	}
	for _, t := range tables {
		if err := gdb.Exec("DROP TABLE IF EXISTS " + pq.QuoteIdentifier(t) + " CASCADE").Error; err != nil {
			return fmt.Errorf("dropping %s: %w", t, err)
		}
		slog.Info("Table dropped", "table", t)
	}
	return nil
}

type processRecurringCmd struct {
	date string
}

func (*processRecurringCmd) Name() string { return "process-recurring" }
func (*processRecurringCmd) Synopsis() string {
	return "record due recurring expenses and send upcoming reminders"
}
func (*processRecurringCmd) Usage() string {
	return `process-recurring [-date YYYY-MM-DD]

  Creates the transactions of every active recurring expense due on or
  before the date (today by default) and reminds users of expenses due in
  the next three days. Meant to run daily from cron.
`
}

func (p *processRecurringCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.date, "date", "", "Process as if today were this date.")
}

func (p *processRecurringCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	now := time.Now()
	if p.date != "" {
		d, err := time.Parse("2006-01-02", p.date)
		if err != nil {
			return fail(fmt.Errorf("invalid -date: %w", err))
		}
		now = d
	}

	cfg, gdb, err := setup()
	if err != nil {
		return fail(err)
	}
	defer db.Close(gdb)
	if cfg.EncryptionKey == "" {
		return fail(fmt.Errorf("missing required environment variable: ENCRYPTION_KEY"))
	}

	notifier := notification.NewNotifier(gdb, nil, notification.NewMailer(cfg))
	watcher := budgets.NewWatcher(gdb, notifier)
	// Alerts must be delivered before the process exits.
	watcher.Synchronous()
	hooks := transactions.Hooks{Watcher: watcher}

	res, err := recurring.NewProcessor(gdb, hooks, notifier).Run(ctx, now)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("created %d transactions, sent %d reminders, %d failures\n", res.Created, res.Reminded, res.Failed)
	if res.Failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
