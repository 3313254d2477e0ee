// Package finance provides Postgres-backed read access to the CRUD
// application's transactions and categories tables, shaped as the
// narrow source interfaces the retrieval engine consumes.
package finance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fintrack-app/fintrack/pkg/models"
	"github.com/fintrack-app/fintrack/pkg/search"
)

// PostgresTransactionSource reads transactions joined with their
// category so embedding content can be derived in one fetch.
type PostgresTransactionSource struct {
	db *sqlx.DB
}

// NewPostgresTransactionSource creates a transaction source.
func NewPostgresTransactionSource(db *sqlx.DB) *PostgresTransactionSource {
	return &PostgresTransactionSource{db: db}
}

const transactionColumns = `
	t.id, t.description, c.name AS category_name, c.type AS category_type,
	t.transaction_date, t.amount::text AS amount, t.wallet_id, t.user_id, t.created_at`

// GetTransactionByID implements search.TransactionSource.
func (s *PostgresTransactionSource) GetTransactionByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	query := `
		SELECT` + transactionColumns + `
		FROM transactions t
		JOIN categories c ON c.id = t.category_id
		WHERE t.id = $1`

	var tx models.Transaction
	err := s.db.GetContext(ctx, &tx, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return &tx, nil
}

// ListTransactions implements search.TransactionSource. Pages are
// ordered by creation time so a backfill visits rows deterministically.
func (s *PostgresTransactionSource) ListTransactions(ctx context.Context, offset, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT` + transactionColumns + `
		FROM transactions t
		JOIN categories c ON c.id = t.category_id
		ORDER BY t.created_at, t.id
		OFFSET $1 LIMIT $2`

	var txs []*models.Transaction
	if err := s.db.SelectContext(ctx, &txs, query, offset, limit); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// PostgresCategorySource reads categories.
type PostgresCategorySource struct {
	db *sqlx.DB
}

// NewPostgresCategorySource creates a category source.
func NewPostgresCategorySource(db *sqlx.DB) *PostgresCategorySource {
	return &PostgresCategorySource{db: db}
}

// GetCategoryByID implements search.CategorySource.
func (s *PostgresCategorySource) GetCategoryByID(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	query := `
		SELECT id, name, type, scope, COALESCE(icon, '') AS icon, owner_id, created_at
		FROM categories
		WHERE id = $1`

	var cat models.Category
	err := s.db.GetContext(ctx, &cat, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category %s: %w", id, err)
	}
	return &cat, nil
}

// ListCategories implements search.CategorySource.
func (s *PostgresCategorySource) ListCategories(ctx context.Context, offset, limit int) ([]*models.Category, error) {
	query := `
		SELECT id, name, type, scope, COALESCE(icon, '') AS icon, owner_id, created_at
		FROM categories
		ORDER BY created_at, id
		OFFSET $1 LIMIT $2`

	var cats []*models.Category
	if err := s.db.SelectContext(ctx, &cats, query, offset, limit); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return cats, nil
}

var (
	_ search.TransactionSource = (*PostgresTransactionSource)(nil)
	_ search.CategorySource    = (*PostgresCategorySource)(nil)
)
