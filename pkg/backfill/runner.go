// Package backfill walks existing transactions and categories and
// generates embeddings for any that lack one. It is the batch
// counterpart of the per-entity generation hooks and is safe to rerun:
// the store upserts, so already-embedded entities are simply refreshed.
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/fintrack-app/fintrack/pkg/embedding"
	"github.com/fintrack-app/fintrack/pkg/models"
	"github.com/fintrack-app/fintrack/pkg/observability"
	"github.com/fintrack-app/fintrack/pkg/search"
)

// Target selects which entity kinds a run covers.
type Target string

const (
	TargetTransactions Target = "transaction"
	TargetCategories   Target = "category"
	TargetAll          Target = "all"
)

// Valid reports whether the target is a known value.
func (t Target) Valid() bool {
	switch t {
	case TargetTransactions, TargetCategories, TargetAll:
		return true
	}
	return false
}

// ParseTarget maps a CLI value to a Target. Singular and plural
// spellings are both accepted.
func ParseTarget(s string) (Target, error) {
	switch s {
	case "transaction", "transactions":
		return TargetTransactions, nil
	case "category", "categories":
		return TargetCategories, nil
	case "all":
		return TargetAll, nil
	}
	return "", fmt.Errorf("invalid backfill target %q", s)
}

// EmbeddingGenerator is the slice of the search service the runner
// needs. *search.Service satisfies it.
type EmbeddingGenerator interface {
	Enabled() bool
	GenerateTransactionEmbedding(ctx context.Context, transactionID uuid.UUID) (*models.EmbeddingRecord, error)
	GenerateCategoryEmbedding(ctx context.Context, categoryID uuid.UUID) (*models.EmbeddingRecord, error)
}

// Config tunes a backfill run.
type Config struct {
	// BatchSize is the page size for listing entities.
	BatchSize int
	// PageDelay is the pause between pages, spreading provider load.
	PageDelay time.Duration
	// MaxAttempts is the total number of generation attempts per
	// entity, including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry; subsequent
	// retries double it.
	InitialBackoff time.Duration
}

// DefaultConfig returns the standard backfill settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		PageDelay:      500 * time.Millisecond,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
	}
}

// Failure records one entity that exhausted its attempts.
type Failure struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityID   uuid.UUID         `json:"entity_id"`
	Error      string            `json:"error"`
}

// Stats summarizes a run. Processed = Succeeded + Skipped + Failed.
type Stats struct {
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Runner drives a backfill over the CRUD layer's paged listings.
type Runner struct {
	generator    EmbeddingGenerator
	transactions search.TransactionSource
	categories   search.CategorySource
	config       Config
	logger       observability.Logger
	metrics      observability.MetricsClient
}

// NewRunner creates a Runner. Logger and metrics may be nil. Zero or
// negative config fields fall back to the defaults.
func NewRunner(
	generator EmbeddingGenerator,
	transactions search.TransactionSource,
	categories search.CategorySource,
	config Config,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *Runner {
	defaults := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PageDelay < 0 {
		config.PageDelay = defaults.PageDelay
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Runner{
		generator:    generator,
		transactions: transactions,
		categories:   categories,
		config:       config,
		logger:       logger,
		metrics:      metrics,
	}
}

// Run backfills the selected target. Per-entity failures are recorded
// in the returned stats and never abort the run; an error is returned
// only for fatal setup conditions such as a disabled provider or a
// listing failure.
func (r *Runner) Run(ctx context.Context, target Target) (*Stats, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("invalid backfill target %q", target)
	}
	if !r.generator.Enabled() {
		return nil, embedding.ErrDisabled
	}

	stats := &Stats{}
	start := time.Now()

	if target == TargetTransactions || target == TargetAll {
		if err := r.backfillTransactions(ctx, stats); err != nil {
			return stats, err
		}
	}
	if target == TargetCategories || target == TargetAll {
		if err := r.backfillCategories(ctx, stats); err != nil {
			return stats, err
		}
	}

	r.metrics.RecordOperation("backfill", string(target), stats.Failed == 0, time.Since(start))
	r.logger.Info("backfill complete", map[string]interface{}{
		"target":    string(target),
		"total":     stats.Total,
		"succeeded": stats.Succeeded,
		"skipped":   stats.Skipped,
		"failed":    stats.Failed,
		"duration":  time.Since(start).String(),
	})
	return stats, nil
}

func (r *Runner) backfillTransactions(ctx context.Context, stats *Stats) error {
	offset := 0
	for {
		page, err := r.transactions.ListTransactions(ctx, offset, r.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to list transactions at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			return nil
		}

		for _, tx := range page {
			r.processEntity(ctx, stats, models.EntityTypeTransaction, tx.ID, func(ctx context.Context) (*models.EmbeddingRecord, error) {
				return r.generator.GenerateTransactionEmbedding(ctx, tx.ID)
			})
		}

		offset += len(page)
		if len(page) < r.config.BatchSize {
			return nil
		}
		if err := r.pageDelay(ctx); err != nil {
			return err
		}
	}
}

func (r *Runner) backfillCategories(ctx context.Context, stats *Stats) error {
	offset := 0
	for {
		page, err := r.categories.ListCategories(ctx, offset, r.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to list categories at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			return nil
		}

		for _, cat := range page {
			r.processEntity(ctx, stats, models.EntityTypeCategory, cat.ID, func(ctx context.Context) (*models.EmbeddingRecord, error) {
				return r.generator.GenerateCategoryEmbedding(ctx, cat.ID)
			})
		}

		offset += len(page)
		if len(page) < r.config.BatchSize {
			return nil
		}
		if err := r.pageDelay(ctx); err != nil {
			return err
		}
	}
}

// processEntity generates one embedding with bounded retry. A nil
// record without error means the entity has no embeddable content and
// counts as skipped.
func (r *Runner) processEntity(ctx context.Context, stats *Stats, entityType models.EntityType, entityID uuid.UUID, generate func(context.Context) (*models.EmbeddingRecord, error)) {
	stats.Total++
	stats.Processed++

	var record *models.EmbeddingRecord
	operation := func() error {
		var err error
		record, err = generate(ctx)
		if err != nil && !embedding.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.config.InitialBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(r.config.MaxAttempts-1)), ctx))
	if err != nil {
		stats.Failed++
		stats.Failures = append(stats.Failures, Failure{
			EntityType: entityType,
			EntityID:   entityID,
			Error:      err.Error(),
		})
		r.metrics.IncrementCounter("backfill_entity_failed", 1)
		r.logger.Error("backfill failed for entity", map[string]interface{}{
			"entity_type": string(entityType),
			"entity_id":   entityID,
			"error":       err.Error(),
		})
		return
	}

	if record == nil {
		stats.Skipped++
		return
	}
	stats.Succeeded++
}

func (r *Runner) pageDelay(ctx context.Context) error {
	if r.config.PageDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.config.PageDelay):
		return nil
	}
}

var _ EmbeddingGenerator = (*search.Service)(nil)
