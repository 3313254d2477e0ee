// Command backfill generates embeddings for existing transactions and
// categories. Per-entity failures are reported in the summary but do
// not fail the run; the exit code is non-zero only for setup errors.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/fintrack-app/fintrack/pkg/backfill"
	"github.com/fintrack-app/fintrack/pkg/config"
	"github.com/fintrack-app/fintrack/pkg/embedding"
	"github.com/fintrack-app/fintrack/pkg/finance"
	"github.com/fintrack-app/fintrack/pkg/observability"
	"github.com/fintrack-app/fintrack/pkg/repository/embeddings"
	"github.com/fintrack-app/fintrack/pkg/search"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "backfill: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		entityType     = flag.String("entity-type", string(backfill.TargetAll), "entities to backfill: transaction, category or all")
		batchSize      = flag.Int("batch-size", 0, "page size for listing entities (0 = config default)")
		pageDelay      = flag.String("delay", "", "pause between pages, a duration like 500ms or a bare integer of milliseconds (empty = config default)")
		migrationsPath = flag.String("migrations", "", "run database migrations from this directory before backfilling")
		jsonOutput     = flag.Bool("json", false, "print the summary as JSON")
	)
	flag.Parse()

	_ = godotenv.Load()

	target, err := backfill.ParseTarget(*entityType)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewStandardLoggerWithLevel("backfill", observability.ParseLogLevel(cfg.LogLevel))
	metrics := observability.NewLogMetricsClient(logger)

	provider := embedding.NewOpenAIClient(embedding.OpenAIConfig{
		APIKey:         cfg.OpenAI.APIKey,
		Model:          cfg.OpenAI.Model,
		Dimensions:     cfg.OpenAI.Dimensions,
		Endpoint:       cfg.OpenAI.Endpoint,
		RequestTimeout: cfg.OpenAI.RequestTimeout,
	})
	if !provider.Enabled() {
		return embedding.ErrDisabled
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if *migrationsPath != "" {
		if err := runMigrations(db, *migrationsPath); err != nil {
			return err
		}
		logger.Info("migrations applied", map[string]interface{}{"path": *migrationsPath})
	}

	store, err := embeddings.NewPostgresStore(db, logger, metrics)
	if err != nil {
		return err
	}

	transactions := finance.NewPostgresTransactionSource(db)
	categories := finance.NewPostgresCategorySource(db)
	service := search.NewService(provider, store, transactions, categories, logger, metrics)

	runCfg := backfill.Config{
		BatchSize:      cfg.Backfill.BatchSize,
		PageDelay:      cfg.Backfill.PageDelay,
		MaxAttempts:    cfg.Backfill.MaxAttempts,
		InitialBackoff: cfg.Backfill.InitialBackoff,
	}
	if *batchSize > 0 {
		runCfg.BatchSize = *batchSize
	}
	if *pageDelay != "" {
		delay, err := parseDelay(*pageDelay)
		if err != nil {
			return err
		}
		runCfg.PageDelay = delay
	}

	runner := backfill.NewRunner(service, transactions, categories, runCfg, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	stats, err := runner.Run(ctx, target)
	if err != nil {
		return err
	}

	if *jsonOutput {
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Backfill finished in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  total:     %d\n", stats.Total)
	fmt.Printf("  succeeded: %d\n", stats.Succeeded)
	fmt.Printf("  skipped:   %d\n", stats.Skipped)
	fmt.Printf("  failed:    %d\n", stats.Failed)
	for _, f := range stats.Failures {
		fmt.Printf("  failure: %s %s: %s\n", f.EntityType, f.EntityID, f.Error)
	}
	return nil
}

// parseDelay reads the -delay value. A bare integer is milliseconds;
// anything else must be a Go duration string.
func parseDelay(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid -delay %q: must not be negative", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid -delay %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid -delay %q: must not be negative", s)
	}
	return d, nil
}

func runMigrations(db *sqlx.DB, path string) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
