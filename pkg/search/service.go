// Package search is the retrieval engine's public surface: embedding
// generation for transactions and categories, natural-language search
// over transactions, and category suggestion. Searches degrade through
// three tiers — hybrid fusion, semantic-only, client-side brute force —
// so an optional store capability never fails a query.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fintrack-app/fintrack/pkg/embedding"
	"github.com/fintrack-app/fintrack/pkg/models"
	"github.com/fintrack-app/fintrack/pkg/observability"
	"github.com/fintrack-app/fintrack/pkg/repository/embeddings"
)

// DefaultSimilarityThreshold is the minimum cosine similarity a result
// must reach to be returned.
const DefaultSimilarityThreshold = 0.7

// DefaultSearchLimit caps transaction search results.
const DefaultSearchLimit = 10

// Service is the retrieval engine. Construct once at process startup
// and share by reference; it holds no per-request state.
type Service struct {
	provider     embedding.Client
	store        embeddings.Store
	transactions TransactionSource
	categories   CategorySource
	logger       observability.Logger
	metrics      observability.MetricsClient

	disabledOnce sync.Once
}

// NewService wires the engine together. Logger and metrics may be nil.
func NewService(
	provider embedding.Client,
	store embeddings.Store,
	transactions TransactionSource,
	categories CategorySource,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *Service {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Service{
		provider:     provider,
		store:        store,
		transactions: transactions,
		categories:   categories,
		logger:       logger,
		metrics:      metrics,
	}
}

// Enabled reports whether an embedding credential is configured.
// When false, searches return empty results and generation is skipped;
// nothing errors.
func (s *Service) Enabled() bool {
	return s.provider.Enabled()
}

func (s *Service) logDisabled() {
	s.disabledOnce.Do(func() {
		s.logger.Warn("embedding provider not configured, semantic features disabled", nil)
	})
}

// TransactionSearchOptions tunes SearchSimilarTransactions. Obtain the
// defaults from DefaultTransactionSearchOptions and override fields as
// needed.
type TransactionSearchOptions struct {
	WalletID            *uuid.UUID
	CategoryName        string
	Limit               int
	SimilarityThreshold float64
	UseHybrid           bool
	FullTextWeight      float64
	SemanticWeight      float64
	RRFK                int
}

// DefaultTransactionSearchOptions returns the documented defaults:
// limit 10, threshold 0.7, hybrid on, both channels weighted 1.
func DefaultTransactionSearchOptions() TransactionSearchOptions {
	return TransactionSearchOptions{
		Limit:               DefaultSearchLimit,
		SimilarityThreshold: DefaultSimilarityThreshold,
		UseHybrid:           true,
		FullTextWeight:      embeddings.DefaultFullTextWeight,
		SemanticWeight:      embeddings.DefaultSemanticWeight,
		RRFK:                embeddings.DefaultRRFK,
	}
}

// SuggestOptions tunes SuggestCategory. The full-text channel is
// biased to 1.5 so exact category names outrank paraphrases.
type SuggestOptions struct {
	SimilarityThreshold float64
	UseHybrid           bool
	FullTextWeight      float64
	SemanticWeight      float64
	RRFK                int
}

// DefaultSuggestOptions returns the documented suggestion defaults.
func DefaultSuggestOptions() SuggestOptions {
	return SuggestOptions{
		SimilarityThreshold: DefaultSimilarityThreshold,
		UseHybrid:           true,
		FullTextWeight:      embeddings.DefaultCategoryFullTextWeight,
		SemanticWeight:      embeddings.DefaultSemanticWeight,
		RRFK:                embeddings.DefaultRRFK,
	}
}

// GenerateTransactionEmbedding computes and upserts the embedding for
// one transaction. Returns nil without error when the transaction has
// a blank description or the service is disabled; the record key is
// (transaction, id), so regeneration replaces rather than duplicates.
func (s *Service) GenerateTransactionEmbedding(ctx context.Context, transactionID uuid.UUID) (*models.EmbeddingRecord, error) {
	if transactionID == uuid.Nil {
		return nil, errors.New("transaction id is required")
	}
	if !s.Enabled() {
		s.logDisabled()
		return nil, nil
	}

	tx, err := s.transactions.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(tx.Description) == "" {
		s.logger.Debug("skipping embedding for transaction without description", map[string]interface{}{
			"transaction_id": transactionID,
		})
		return nil, nil
	}

	content := transactionContent(tx)
	vector, err := s.embed(ctx, "generate_transaction_embedding", content)
	if err != nil {
		return nil, err
	}

	record := &models.EmbeddingRecord{
		EntityType: models.EntityTypeTransaction,
		EntityID:   tx.ID,
		UserID:     uuid.NullUUID{UUID: tx.UserID, Valid: true},
		Content:    content,
		Embedding:  vector,
		Metadata: models.TransactionMetadata{
			CategoryName:    tx.CategoryName,
			CategoryType:    tx.CategoryType,
			TransactionDate: tx.TransactionDate,
			Amount:          tx.Amount,
			WalletID:        tx.WalletID,
		},
	}

	return s.store.Upsert(ctx, record)
}

// GenerateCategoryEmbedding computes and upserts the embedding for one
// category. GLOBAL categories are stored with a null owner regardless
// of the source row's owner field.
func (s *Service) GenerateCategoryEmbedding(ctx context.Context, categoryID uuid.UUID) (*models.EmbeddingRecord, error) {
	if categoryID == uuid.Nil {
		return nil, errors.New("category id is required")
	}
	if !s.Enabled() {
		s.logDisabled()
		return nil, nil
	}

	cat, err := s.categories.GetCategoryByID(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cat.Name) == "" {
		s.logger.Debug("skipping embedding for category without name", map[string]interface{}{
			"category_id": categoryID,
		})
		return nil, nil
	}

	content := categoryContent(cat)
	vector, err := s.embed(ctx, "generate_category_embedding", content)
	if err != nil {
		return nil, err
	}

	owner := cat.OwnerID
	if cat.Scope == models.CategoryScopeGlobal {
		owner = uuid.NullUUID{}
	}

	record := &models.EmbeddingRecord{
		EntityType: models.EntityTypeCategory,
		EntityID:   cat.ID,
		UserID:     owner,
		Content:    content,
		Embedding:  vector,
		Metadata: models.CategoryMetadata{
			Name:  cat.Name,
			Type:  cat.Type,
			Scope: cat.Scope,
			Icon:  cat.Icon,
		},
	}

	return s.store.Upsert(ctx, record)
}

// DeleteEmbedding removes the record for (entityType, entityID).
// Idempotent; deleting an absent record succeeds. Cascading from
// source-entity deletion is the caller's responsibility.
func (s *Service) DeleteEmbedding(ctx context.Context, entityType models.EntityType, entityID uuid.UUID) error {
	if !entityType.Valid() {
		return fmt.Errorf("invalid entity type %q", entityType)
	}
	if entityID == uuid.Nil {
		return errors.New("entity id is required")
	}
	return s.store.DeleteByKey(ctx, entityType, entityID)
}

// SearchSimilarTransactions ranks the user's transactions against a
// natural-language query. A disabled service returns an empty slice.
// Wallet and category filters are applied to the ranked rows'
// metadata; the candidate ask is widened when filters are set so
// filtering does not starve the result list.
func (s *Service) SearchSimilarTransactions(ctx context.Context, userID uuid.UUID, query string, opts TransactionSearchOptions) ([]models.SearchResult, error) {
	if userID == uuid.Nil {
		return nil, errors.New("user id is required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query cannot be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	if !s.Enabled() {
		s.logDisabled()
		return []models.SearchResult{}, nil
	}

	queryVector, err := s.embed(ctx, "search_transactions", query)
	if err != nil {
		return nil, err
	}

	candidateLimit := opts.Limit
	filtered := opts.WalletID != nil || opts.CategoryName != ""
	if filtered {
		candidateLimit = opts.Limit * 3
	}

	tiers := s.transactionTiers(userID, query, queryVector, candidateLimit, opts)
	rows, err := s.runTiers(ctx, "search_transactions", tiers)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(rows))
	for _, row := range rows {
		if row.Similarity < opts.SimilarityThreshold {
			continue
		}
		if !matchesTransactionFilters(row, opts.WalletID, opts.CategoryName) {
			continue
		}
		results = append(results, models.SearchResult{
			EntityID:   row.EntityID,
			Similarity: row.Similarity,
			Content:    row.Content,
			Metadata:   row.Metadata,
			RankScore:  row.RankScore,
		})
		if len(results) == opts.Limit {
			break
		}
	}
	return results, nil
}

// SuggestCategory returns the best-matching category for a free-text
// description, or nil when nothing clears the similarity threshold.
// Candidates are limited to the requested category type, scoped to the
// user's own categories plus GLOBAL ones.
func (s *Service) SuggestCategory(ctx context.Context, description string, categoryType models.CategoryType, userID uuid.NullUUID, opts SuggestOptions) (*models.CategorySuggestion, error) {
	if strings.TrimSpace(description) == "" {
		return nil, errors.New("description cannot be empty")
	}
	if !categoryType.Valid() {
		return nil, fmt.Errorf("invalid category type %q", categoryType)
	}
	if !s.Enabled() {
		s.logDisabled()
		return nil, nil
	}

	queryVector, err := s.embed(ctx, "suggest_category", description)
	if err != nil {
		return nil, err
	}

	owner := embeddings.OwnerFilter{Owner: userID, IncludeGlobal: true}
	tiers := s.categoryTiers(description, queryVector, owner, categoryType, opts)
	rows, err := s.runTiers(ctx, "suggest_category", tiers)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.Similarity < opts.SimilarityThreshold {
			continue
		}
		meta, ok := row.Metadata.(models.CategoryMetadata)
		if !ok {
			continue
		}
		return &models.CategorySuggestion{
			CategoryID:   row.EntityID,
			CategoryName: meta.Name,
			Similarity:   row.Similarity,
			Type:         meta.Type,
			RankScore:    row.RankScore,
		}, nil
	}
	return nil, nil
}

func (s *Service) transactionTiers(userID uuid.UUID, query string, queryVector []float32, limit int, opts TransactionSearchOptions) []tier {
	var tiers []tier
	if opts.UseHybrid {
		tiers = append(tiers, tier{
			name: "hybrid",
			run: func(ctx context.Context) ([]embeddings.Row, error) {
				return s.store.HybridSearchTransactions(ctx, embeddings.HybridTransactionQuery{
					QueryText:      query,
					QueryVector:    queryVector,
					UserID:         userID,
					Limit:          limit,
					FullTextWeight: opts.FullTextWeight,
					SemanticWeight: opts.SemanticWeight,
					RRFK:           opts.RRFK,
				})
			},
		})
	}
	tiers = append(tiers,
		tier{
			name: "semantic",
			run: func(ctx context.Context) ([]embeddings.Row, error) {
				return s.store.SearchTransactions(ctx, embeddings.TransactionQuery{
					QueryVector: queryVector,
					UserID:      userID,
					Threshold:   opts.SimilarityThreshold,
					Limit:       limit,
				})
			},
		},
		tier{
			name: "client",
			run: func(ctx context.Context) ([]embeddings.Row, error) {
				candidates, err := s.store.FetchAllForOwner(ctx, models.EntityTypeTransaction, embeddings.OwnerFilter{
					Owner: uuid.NullUUID{UUID: userID, Valid: true},
				})
				if err != nil {
					return nil, err
				}
				return embeddings.RankBySimilarity(candidates, queryVector, opts.SimilarityThreshold, limit)
			},
		},
	)
	return tiers
}

func (s *Service) categoryTiers(description string, queryVector []float32, owner embeddings.OwnerFilter, categoryType models.CategoryType, opts SuggestOptions) []tier {
	var tiers []tier
	if opts.UseHybrid {
		tiers = append(tiers, tier{
			name: "hybrid",
			run: func(ctx context.Context) ([]embeddings.Row, error) {
				return s.store.HybridSearchCategories(ctx, embeddings.HybridCategoryQuery{
					QueryText:      description,
					QueryVector:    queryVector,
					Owner:          owner,
					Type:           categoryType,
					Limit:          1,
					FullTextWeight: opts.FullTextWeight,
					SemanticWeight: opts.SemanticWeight,
					RRFK:           opts.RRFK,
				})
			},
		})
	}
	tiers = append(tiers,
		tier{
			name: "semantic",
			run: func(ctx context.Context) ([]embeddings.Row, error) {
				return s.store.SearchCategories(ctx, embeddings.CategoryQuery{
					QueryVector: queryVector,
					Owner:       owner,
					Type:        categoryType,
					Threshold:   opts.SimilarityThreshold,
					Limit:       1,
				})
			},
		},
		tier{
			name: "client",
			run: func(ctx context.Context) ([]embeddings.Row, error) {
				candidates, err := s.store.FetchAllForOwner(ctx, models.EntityTypeCategory, owner)
				if err != nil {
					return nil, err
				}
				scoped := candidates[:0]
				for _, c := range candidates {
					if meta, ok := c.Metadata.(models.CategoryMetadata); ok && meta.Type == categoryType {
						scoped = append(scoped, c)
					}
				}
				return embeddings.RankBySimilarity(scoped, queryVector, opts.SimilarityThreshold, 1)
			},
		},
	)
	return tiers
}

// embed generates the query vector. Failures here are hard errors: no
// tier can proceed without a vector.
func (s *Service) embed(ctx context.Context, operation, text string) ([]float32, error) {
	start := time.Now()
	vector, err := s.provider.Embed(ctx, text)
	s.metrics.RecordOperation("embedding_provider", operation, err == nil, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	return vector, nil
}

func matchesTransactionFilters(row embeddings.Row, walletID *uuid.UUID, categoryName string) bool {
	if walletID == nil && categoryName == "" {
		return true
	}
	meta, ok := row.Metadata.(models.TransactionMetadata)
	if !ok {
		return false
	}
	if walletID != nil && meta.WalletID != *walletID {
		return false
	}
	if categoryName != "" && !strings.EqualFold(meta.CategoryName, categoryName) {
		return false
	}
	return true
}

// transactionContent derives the text that gets embedded for a
// transaction: "[<category name>] <description>".
func transactionContent(t *models.Transaction) string {
	return fmt.Sprintf("[%s] %s", t.CategoryName, strings.TrimSpace(t.Description))
}

// categoryContent derives the text that gets embedded for a category:
// "[<INCOME|EXPENSE>]: <name>".
func categoryContent(c *models.Category) string {
	return fmt.Sprintf("[%s]: %s", c.Type, c.Name)
}
