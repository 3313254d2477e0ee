package embeddings

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fintrack-app/fintrack/pkg/common"
	"github.com/fintrack-app/fintrack/pkg/models"
)

// MemoryStore is an in-process Store. It mirrors the ranking contracts
// of the Postgres functions — including the reciprocal rank fusion —
// so it can stand in for the database in tests and local runs. The
// lexical channel approximates full-text relevance with query-token
// overlap on the record content.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.EmbeddingRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.EmbeddingRecord)}
}

func recordKey(entityType models.EntityType, entityID uuid.UUID) string {
	return string(entityType) + "|" + entityID.String()
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, record *models.EmbeddingRecord) (*models.EmbeddingRecord, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := *record
	stored.Embedding = append([]float32(nil), record.Embedding...)

	key := recordKey(record.EntityType, record.EntityID)
	if prev, ok := s.records[key]; ok {
		stored.ID = prev.ID
		stored.CreatedAt = prev.CreatedAt
		if !now.After(prev.UpdatedAt) {
			now = prev.UpdatedAt.Add(time.Nanosecond)
		}
	} else {
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.records[key] = &stored
	out := stored
	return &out, nil
}

// FetchAllForOwner implements Store.
func (s *MemoryStore) FetchAllForOwner(ctx context.Context, entityType models.EntityType, owner OwnerFilter) ([]*models.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*models.EmbeddingRecord
	for _, r := range s.records {
		if r.EntityType != entityType || !owner.Matches(r.UserID) {
			continue
		}
		copied := *r
		records = append(records, &copied)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].EntityID.String() < records[j].EntityID.String()
	})
	return records, nil
}

// DeleteByKey implements Store.
func (s *MemoryStore) DeleteByKey(ctx context.Context, entityType models.EntityType, entityID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey(entityType, entityID))
	return nil
}

// HybridSearchTransactions implements Store.
func (s *MemoryStore) HybridSearchTransactions(ctx context.Context, q HybridTransactionQuery) ([]Row, error) {
	candidates, err := s.FetchAllForOwner(ctx, models.EntityTypeTransaction, OwnerFilter{
		Owner: uuid.NullUUID{UUID: q.UserID, Valid: true},
	})
	if err != nil {
		return nil, err
	}
	return fuseRankings(candidates, q.QueryText, q.QueryVector, fusionParams{
		limit:          q.Limit,
		fullTextWeight: q.FullTextWeight,
		semanticWeight: q.SemanticWeight,
		rrfK:           q.RRFK,
	})
}

// SearchTransactions implements Store.
func (s *MemoryStore) SearchTransactions(ctx context.Context, q TransactionQuery) ([]Row, error) {
	candidates, err := s.FetchAllForOwner(ctx, models.EntityTypeTransaction, OwnerFilter{
		Owner: uuid.NullUUID{UUID: q.UserID, Valid: true},
	})
	if err != nil {
		return nil, err
	}
	return RankBySimilarity(candidates, q.QueryVector, q.Threshold, q.Limit)
}

// HybridSearchCategories implements Store.
func (s *MemoryStore) HybridSearchCategories(ctx context.Context, q HybridCategoryQuery) ([]Row, error) {
	candidates, err := s.categoryCandidates(ctx, q.Owner, q.Type)
	if err != nil {
		return nil, err
	}
	return fuseRankings(candidates, q.QueryText, q.QueryVector, fusionParams{
		limit:          q.Limit,
		fullTextWeight: q.FullTextWeight,
		semanticWeight: q.SemanticWeight,
		rrfK:           q.RRFK,
	})
}

// SearchCategories implements Store.
func (s *MemoryStore) SearchCategories(ctx context.Context, q CategoryQuery) ([]Row, error) {
	candidates, err := s.categoryCandidates(ctx, q.Owner, q.Type)
	if err != nil {
		return nil, err
	}
	return RankBySimilarity(candidates, q.QueryVector, q.Threshold, q.Limit)
}

func (s *MemoryStore) categoryCandidates(ctx context.Context, owner OwnerFilter, categoryType models.CategoryType) ([]*models.EmbeddingRecord, error) {
	records, err := s.FetchAllForOwner(ctx, models.EntityTypeCategory, owner)
	if err != nil {
		return nil, err
	}
	filtered := records[:0]
	for _, r := range records {
		if meta, ok := r.Metadata.(models.CategoryMetadata); ok && meta.Type == categoryType {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

type fusionParams struct {
	limit          int
	fullTextWeight float64
	semanticWeight float64
	rrfK           int
}

// fuseRankings merges the lexical and semantic rankings of the same
// candidate pool with reciprocal rank fusion: a 1-based rank r in a
// channel contributes weight/(k+r), totals are summed per entity, and
// ties break on raw semantic similarity. This is the same computation
// the hybrid_search_* SQL functions perform server-side.
func fuseRankings(candidates []*models.EmbeddingRecord, queryText string, queryVector []float32, p fusionParams) ([]Row, error) {
	if p.rrfK <= 0 {
		p.rrfK = DefaultRRFK
	}

	rows := make([]Row, 0, len(candidates))
	for _, r := range candidates {
		sim, err := common.CosineSimilarity(queryVector, r.Embedding)
		if err != nil {
			return nil, err
		}
		score := 0.0
		rows = append(rows, Row{
			EntityID:   r.EntityID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: sim,
			RankScore:  &score,
		})
	}

	// Semantic channel: every candidate ranked by similarity.
	semantic := make([]int, 0, len(rows))
	for i := range rows {
		semantic = append(semantic, i)
	}
	sort.Slice(semantic, func(a, b int) bool {
		ra, rb := rows[semantic[a]], rows[semantic[b]]
		if ra.Similarity != rb.Similarity {
			return ra.Similarity > rb.Similarity
		}
		return ra.EntityID.String() < rb.EntityID.String()
	})
	for rank, i := range semantic {
		*rows[i].RankScore += p.semanticWeight / float64(p.rrfK+rank+1)
	}

	// Lexical channel: only candidates with token overlap appear.
	queryTokens := tokenize(queryText)
	type lexHit struct {
		idx   int
		score int
	}
	var lexical []lexHit
	for i := range rows {
		if score := lexicalScore(queryTokens, rows[i].Content); score > 0 {
			lexical = append(lexical, lexHit{idx: i, score: score})
		}
	}
	sort.Slice(lexical, func(a, b int) bool {
		if lexical[a].score != lexical[b].score {
			return lexical[a].score > lexical[b].score
		}
		return rows[lexical[a].idx].EntityID.String() < rows[lexical[b].idx].EntityID.String()
	})
	for rank, hit := range lexical {
		*rows[hit.idx].RankScore += p.fullTextWeight / float64(p.rrfK+rank+1)
	}

	sort.Slice(rows, func(a, b int) bool {
		if *rows[a].RankScore != *rows[b].RankScore {
			return *rows[a].RankScore > *rows[b].RankScore
		}
		if rows[a].Similarity != rows[b].Similarity {
			return rows[a].Similarity > rows[b].Similarity
		}
		return rows[a].EntityID.String() < rows[b].EntityID.String()
	})

	if p.limit > 0 && len(rows) > p.limit {
		rows = rows[:p.limit]
	}
	return rows, nil
}

// RankBySimilarity is the semantic-only ranking: cosine against every
// candidate, threshold filter, descending sort, truncation.
func RankBySimilarity(candidates []*models.EmbeddingRecord, queryVector []float32, threshold float64, limit int) ([]Row, error) {
	rows := make([]Row, 0, len(candidates))
	for _, r := range candidates {
		sim, err := common.CosineSimilarity(queryVector, r.Embedding)
		if err != nil {
			return nil, err
		}
		if sim < threshold {
			continue
		}
		rows = append(rows, Row{
			EntityID:   r.EntityID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: sim,
		})
	}
	sort.Slice(rows, func(a, b int) bool {
		if rows[a].Similarity != rows[b].Similarity {
			return rows[a].Similarity > rows[b].Similarity
		}
		return rows[a].EntityID.String() < rows[b].EntityID.String()
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

func lexicalScore(queryTokens []string, content string) int {
	contentTokens := tokenize(content)
	set := make(map[string]struct{}, len(contentTokens))
	for _, t := range contentTokens {
		set[t] = struct{}{}
	}
	score := 0
	for _, t := range queryTokens {
		if _, ok := set[t]; ok {
			score++
		}
	}
	return score
}
