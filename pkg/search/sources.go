package search

import (
	"context"

	"github.com/google/uuid"

	"github.com/fintrack-app/fintrack/pkg/models"
)

// TransactionSource is the narrow read surface the engine consumes
// from the CRUD layer for transactions.
type TransactionSource interface {
	// GetTransactionByID returns the transaction or models.ErrNotFound.
	GetTransactionByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)

	// ListTransactions pages through all transactions ordered by
	// creation time ascending. Used by the backfill runner.
	ListTransactions(ctx context.Context, offset, limit int) ([]*models.Transaction, error)
}

// CategorySource is the narrow read surface the engine consumes from
// the CRUD layer for categories.
type CategorySource interface {
	// GetCategoryByID returns the category or models.ErrNotFound.
	GetCategoryByID(ctx context.Context, id uuid.UUID) (*models.Category, error)

	// ListCategories pages through all categories ordered by creation
	// time ascending. Used by the backfill runner.
	ListCategories(ctx context.Context, offset, limit int) ([]*models.Category, error)
}
