// Command search runs a natural-language query or a category
// suggestion against the embedding store from the terminal. Useful for
// smoke-testing ranking behavior against a live database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/fintrack-app/fintrack/pkg/config"
	"github.com/fintrack-app/fintrack/pkg/embedding"
	"github.com/fintrack-app/fintrack/pkg/finance"
	"github.com/fintrack-app/fintrack/pkg/models"
	"github.com/fintrack-app/fintrack/pkg/observability"
	"github.com/fintrack-app/fintrack/pkg/repository/embeddings"
	"github.com/fintrack-app/fintrack/pkg/search"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "search: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		userFlag     = flag.String("user", "", "user id to search as (required)")
		query        = flag.String("query", "", "natural-language query over transactions")
		suggest      = flag.String("suggest", "", "description to suggest a category for")
		categoryType = flag.String("type", string(models.CategoryTypeExpense), "category type for suggestion: INCOME or EXPENSE")
		limit        = flag.Int("limit", 0, "maximum results (0 = configured default)")
		threshold    = flag.Float64("threshold", -1, "minimum similarity (-1 = configured default)")
		noHybrid     = flag.Bool("no-hybrid", false, "skip hybrid fusion, semantic ranking only")
		timeout      = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	_ = godotenv.Load()

	if *query == "" && *suggest == "" {
		return fmt.Errorf("one of -query or -suggest is required")
	}
	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		return fmt.Errorf("invalid -user: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewStandardLoggerWithLevel("search", observability.ParseLogLevel(cfg.LogLevel))

	provider := embedding.NewOpenAIClient(embedding.OpenAIConfig{
		APIKey:         cfg.OpenAI.APIKey,
		Model:          cfg.OpenAI.Model,
		Dimensions:     cfg.OpenAI.Dimensions,
		Endpoint:       cfg.OpenAI.Endpoint,
		RequestTimeout: cfg.OpenAI.RequestTimeout,
	})

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	store, err := embeddings.NewPostgresStore(db, logger, nil)
	if err != nil {
		return err
	}

	service := search.NewService(
		provider,
		store,
		finance.NewPostgresTransactionSource(db),
		finance.NewPostgresCategorySource(db),
		logger,
		nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *suggest != "" {
		opts := suggestOptions(cfg.Search, *threshold, !*noHybrid)

		suggestion, err := service.SuggestCategory(ctx, *suggest,
			models.CategoryType(*categoryType),
			uuid.NullUUID{UUID: userID, Valid: true}, opts)
		if err != nil {
			return err
		}
		if suggestion == nil {
			fmt.Println("no category matched")
			return nil
		}
		fmt.Printf("%s (%s) similarity=%.4f", suggestion.CategoryName, suggestion.Type, suggestion.Similarity)
		if suggestion.RankScore != nil {
			fmt.Printf(" rank=%.6f", *suggestion.RankScore)
		}
		fmt.Println()
		return nil
	}

	opts := transactionOptions(cfg.Search, *limit, *threshold, !*noHybrid)

	results, err := service.SearchSimilarTransactions(ctx, userID, *query, opts)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. %s similarity=%.4f", i+1, r.Content, r.Similarity)
		if r.RankScore != nil {
			fmt.Printf(" rank=%.6f", *r.RankScore)
		}
		fmt.Printf(" (%s)\n", r.EntityID)
	}
	return nil
}

// transactionOptions builds search options from the configured ranking
// defaults; explicit flag values win over configuration.
func transactionOptions(cfg config.SearchConfig, limit int, threshold float64, hybrid bool) search.TransactionSearchOptions {
	opts := search.DefaultTransactionSearchOptions()
	opts.Limit = cfg.Limit
	opts.SimilarityThreshold = cfg.SimilarityThreshold
	opts.RRFK = cfg.RRFK
	opts.FullTextWeight = cfg.FullTextWeight
	opts.SemanticWeight = cfg.SemanticWeight
	opts.UseHybrid = hybrid
	if limit > 0 {
		opts.Limit = limit
	}
	if threshold >= 0 {
		opts.SimilarityThreshold = threshold
	}
	return opts
}

func suggestOptions(cfg config.SearchConfig, threshold float64, hybrid bool) search.SuggestOptions {
	opts := search.DefaultSuggestOptions()
	opts.SimilarityThreshold = cfg.SimilarityThreshold
	opts.RRFK = cfg.RRFK
	opts.FullTextWeight = cfg.CategoryTextWeight
	opts.SemanticWeight = cfg.SemanticWeight
	opts.UseHybrid = hybrid
	if threshold >= 0 {
		opts.SimilarityThreshold = threshold
	}
	return opts
}
