// Package embeddings provides persistence and ranking for embedding
// records. The Postgres implementation delegates ranking to pgvector
// and full-text functions executed inside the database; the in-memory
// implementation mirrors the same contracts for tests and
// database-less runs.
package embeddings

import (
	"context"

	"github.com/google/uuid"

	"github.com/fintrack-app/fintrack/pkg/models"
)

// Ranking defaults shared by every store implementation. The RRF
// smoothing constant discounts exact top-rank position; the category
// suggestion path biases the full-text channel to prefer exact name
// matches.
const (
	DefaultRRFK                   = 50
	DefaultFullTextWeight         = 1.0
	DefaultSemanticWeight         = 1.0
	DefaultCategoryFullTextWeight = 1.5
)

// OwnerFilter scopes a read to one owner, optionally including
// globally visible records (user_id IS NULL).
type OwnerFilter struct {
	Owner         uuid.NullUUID
	IncludeGlobal bool
}

// Matches reports whether a record's owner passes the filter.
func (f OwnerFilter) Matches(owner uuid.NullUUID) bool {
	if !owner.Valid {
		return f.IncludeGlobal
	}
	return f.Owner.Valid && owner.UUID == f.Owner.UUID
}

// Row is one ranked row returned by a store-side search. RankScore is
// nil for purely semantic rankings.
type Row struct {
	EntityID   uuid.UUID
	Content    string
	Metadata   models.Metadata
	Similarity float64
	RankScore  *float64
}

// TransactionQuery parameterizes the semantic-only transaction
// ranking. Results are sorted descending by similarity, every row
// satisfies Similarity >= Threshold, and at most Limit rows return.
type TransactionQuery struct {
	QueryVector []float32
	UserID      uuid.UUID
	Threshold   float64
	Limit       int
}

// HybridTransactionQuery parameterizes the fused lexical + semantic
// transaction ranking. Threshold filtering is the caller's concern.
type HybridTransactionQuery struct {
	QueryText      string
	QueryVector    []float32
	UserID         uuid.UUID
	Limit          int
	FullTextWeight float64
	SemanticWeight float64
	RRFK           int
}

// CategoryQuery parameterizes the semantic-only category ranking.
// Owner scoping covers both user-owned and global categories.
type CategoryQuery struct {
	QueryVector []float32
	Owner       OwnerFilter
	Type        models.CategoryType
	Threshold   float64
	Limit       int
}

// HybridCategoryQuery parameterizes the fused category ranking.
type HybridCategoryQuery struct {
	QueryText      string
	QueryVector    []float32
	Owner          OwnerFilter
	Type           models.CategoryType
	Limit          int
	FullTextWeight float64
	SemanticWeight float64
	RRFK           int
}

// Store is the persistence and ranking contract for embedding records.
// The four search methods model procedures that execute inside the
// storage engine; callers treat them as remote calls that may be
// independently unavailable.
type Store interface {
	// Upsert writes a record keyed on (EntityType, EntityID) with
	// last-write-wins semantics and returns the stored row. The
	// uniqueness invariant is guaranteed by an atomic
	// insert-or-update, never read-then-write.
	Upsert(ctx context.Context, record *models.EmbeddingRecord) (*models.EmbeddingRecord, error)

	// FetchAllForOwner reads the full scoped corpus for the
	// client-side fallback path.
	FetchAllForOwner(ctx context.Context, entityType models.EntityType, owner OwnerFilter) ([]*models.EmbeddingRecord, error)

	// DeleteByKey removes a record. Idempotent; absent keys are not an
	// error.
	DeleteByKey(ctx context.Context, entityType models.EntityType, entityID uuid.UUID) error

	// HybridSearchTransactions runs the fused lexical + semantic
	// transaction ranking.
	HybridSearchTransactions(ctx context.Context, q HybridTransactionQuery) ([]Row, error)

	// SearchTransactions runs the semantic-only transaction ranking.
	SearchTransactions(ctx context.Context, q TransactionQuery) ([]Row, error)

	// HybridSearchCategories runs the fused category ranking.
	HybridSearchCategories(ctx context.Context, q HybridCategoryQuery) ([]Row, error)

	// SearchCategories runs the semantic-only category ranking.
	SearchCategories(ctx context.Context, q CategoryQuery) ([]Row, error)
}
