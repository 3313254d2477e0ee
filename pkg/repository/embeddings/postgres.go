package embeddings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fintrack-app/fintrack/pkg/common"
	"github.com/fintrack-app/fintrack/pkg/models"
	"github.com/fintrack-app/fintrack/pkg/observability"
)

// PostgresStore implements Store on PostgreSQL with the pgvector
// extension. Ranking runs inside the database through the functions
// created by the migrations; see migrations/000002_search_functions.
type PostgresStore struct {
	db      *sqlx.DB
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewPostgresStore creates a Postgres-backed store and verifies the
// pgvector extension is installed.
func NewPostgresStore(db *sqlx.DB, logger observability.Logger, metrics observability.MetricsClient) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !exists {
		return nil, errors.New("pgvector extension is not installed in the database")
	}

	return &PostgresStore{db: db, logger: logger, metrics: metrics}, nil
}

// Upsert implements Store.
func (s *PostgresStore) Upsert(ctx context.Context, record *models.EmbeddingRecord) (*models.EmbeddingRecord, error) {
	if record == nil {
		return nil, errors.New("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	metadataJSON, err := models.EncodeMetadata(record.Metadata)
	if err != nil {
		return nil, err
	}

	id := record.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	start := time.Now()
	query := `
		INSERT INTO embeddings (
			id, entity_type, entity_id, user_id, content, embedding, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::vector, $7, now(), now()
		)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	stored := *record
	err = s.db.QueryRowContext(ctx, query,
		id,
		record.EntityType,
		record.EntityID,
		record.UserID,
		record.Content,
		common.FormatPgVector(record.Embedding),
		metadataJSON,
	).Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt)
	s.metrics.RecordOperation("embedding_store", "upsert", err == nil, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert embedding: %w", err)
	}

	return &stored, nil
}

// FetchAllForOwner implements Store.
func (s *PostgresStore) FetchAllForOwner(ctx context.Context, entityType models.EntityType, owner OwnerFilter) ([]*models.EmbeddingRecord, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("invalid entity type %q", entityType)
	}

	query := `
		SELECT id, entity_type, entity_id, user_id, content, embedding::text AS embedding, metadata, created_at, updated_at
		FROM embeddings
		WHERE entity_type = $1`
	args := []interface{}{entityType}

	switch {
	case owner.Owner.Valid && owner.IncludeGlobal:
		query += ` AND (user_id = $2 OR user_id IS NULL)`
		args = append(args, owner.Owner.UUID)
	case owner.Owner.Valid:
		query += ` AND user_id = $2`
		args = append(args, owner.Owner.UUID)
	case owner.IncludeGlobal:
		query += ` AND user_id IS NULL`
	default:
		return nil, errors.New("owner filter matches nothing")
	}
	query += ` ORDER BY created_at, entity_id`

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch embeddings: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*models.EmbeddingRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	return records, nil
}

// DeleteByKey implements Store.
func (s *PostgresStore) DeleteByKey(ctx context.Context, entityType models.EntityType, entityID uuid.UUID) error {
	if !entityType.Valid() {
		return fmt.Errorf("invalid entity type %q", entityType)
	}

	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID)
	s.metrics.RecordOperation("embedding_store", "delete", err == nil, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

// HybridSearchTransactions implements Store.
func (s *PostgresStore) HybridSearchTransactions(ctx context.Context, q HybridTransactionQuery) ([]Row, error) {
	query := `
		SELECT entity_id, content, metadata, similarity, rank_score
		FROM hybrid_search_transaction_embeddings($1, $2::vector, $3, $4, $5, $6, $7)`

	return s.queryRows(ctx, models.EntityTypeTransaction, "hybrid_search_transactions", true, query,
		q.QueryText,
		common.FormatPgVector(q.QueryVector),
		q.UserID,
		q.Limit,
		q.FullTextWeight,
		q.SemanticWeight,
		q.RRFK,
	)
}

// SearchTransactions implements Store.
func (s *PostgresStore) SearchTransactions(ctx context.Context, q TransactionQuery) ([]Row, error) {
	query := `
		SELECT entity_id, content, metadata, similarity
		FROM match_transaction_embeddings($1::vector, $2, $3, $4)`

	return s.queryRows(ctx, models.EntityTypeTransaction, "match_transactions", false, query,
		common.FormatPgVector(q.QueryVector),
		q.UserID,
		q.Threshold,
		q.Limit,
	)
}

// HybridSearchCategories implements Store.
func (s *PostgresStore) HybridSearchCategories(ctx context.Context, q HybridCategoryQuery) ([]Row, error) {
	query := `
		SELECT entity_id, content, metadata, similarity, rank_score
		FROM hybrid_search_category_embeddings($1, $2::vector, $3, $4, $5, $6, $7, $8)`

	return s.queryRows(ctx, models.EntityTypeCategory, "hybrid_search_categories", true, query,
		q.QueryText,
		common.FormatPgVector(q.QueryVector),
		nullUUIDArg(q.Owner.Owner),
		string(q.Type),
		q.Limit,
		q.FullTextWeight,
		q.SemanticWeight,
		q.RRFK,
	)
}

// SearchCategories implements Store.
func (s *PostgresStore) SearchCategories(ctx context.Context, q CategoryQuery) ([]Row, error) {
	query := `
		SELECT entity_id, content, metadata, similarity
		FROM match_category_embeddings($1::vector, $2, $3, $4, $5)`

	return s.queryRows(ctx, models.EntityTypeCategory, "match_categories", false, query,
		common.FormatPgVector(q.QueryVector),
		nullUUIDArg(q.Owner.Owner),
		string(q.Type),
		q.Threshold,
		q.Limit,
	)
}

func (s *PostgresStore) queryRows(ctx context.Context, entityType models.EntityType, operation string, hybrid bool, query string, args ...interface{}) ([]Row, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordOperation("embedding_store", operation, err == nil, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", operation, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []Row
	for rows.Next() {
		var (
			row          Row
			metadataJSON []byte
			rankScore    sql.NullFloat64
		)
		if hybrid {
			err = rows.Scan(&row.EntityID, &row.Content, &metadataJSON, &row.Similarity, &rankScore)
		} else {
			err = rows.Scan(&row.EntityID, &row.Content, &metadataJSON, &row.Similarity)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", operation, err)
		}
		if rankScore.Valid {
			score := rankScore.Float64
			row.RankScore = &score
		}
		row.Metadata, err = models.DecodeMetadata(entityType, metadataJSON)
		if err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", operation, err)
	}

	return results, nil
}

func scanRecord(rows *sqlx.Rows) (*models.EmbeddingRecord, error) {
	var (
		record       models.EmbeddingRecord
		embeddingStr string
		metadataJSON []byte
	)
	err := rows.Scan(
		&record.ID,
		&record.EntityType,
		&record.EntityID,
		&record.UserID,
		&record.Content,
		&embeddingStr,
		&metadataJSON,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan embedding record: %w", err)
	}

	record.Embedding, err = common.ParsePgVector(embeddingStr)
	if err != nil {
		return nil, err
	}
	record.Metadata, err = models.DecodeMetadata(record.EntityType, metadataJSON)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func nullUUIDArg(id uuid.NullUUID) interface{} {
	if !id.Valid {
		return nil
	}
	return id.UUID
}
