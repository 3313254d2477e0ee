package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrack-app/fintrack/pkg/embedding"
	"github.com/fintrack-app/fintrack/pkg/models"
	"github.com/fintrack-app/fintrack/pkg/repository/embeddings"
)

const testDim = 8

func axisVector(axis int) []float32 {
	v := make([]float32, testDim)
	v[axis] = 1
	return v
}

// fixedEmbedder maps known texts to fixed unit vectors so similarity
// outcomes are exact. Unknown texts land on the last axis.
func fixedEmbedder(mapping map[string]int) *embedding.MockClient {
	return &embedding.MockClient{
		Dim: testDim,
		EmbedFn: func(ctx context.Context, text string) ([]float32, error) {
			if axis, ok := mapping[text]; ok {
				return axisVector(axis), nil
			}
			return axisVector(testDim - 1), nil
		},
	}
}

type fakeTransactionSource struct {
	txs []*models.Transaction
}

func (f *fakeTransactionSource) GetTransactionByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	for _, tx := range f.txs {
		if tx.ID == id {
			return tx, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeTransactionSource) ListTransactions(ctx context.Context, offset, limit int) ([]*models.Transaction, error) {
	if offset >= len(f.txs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.txs) {
		end = len(f.txs)
	}
	return f.txs[offset:end], nil
}

type fakeCategorySource struct {
	cats []*models.Category
}

func (f *fakeCategorySource) GetCategoryByID(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	for _, cat := range f.cats {
		if cat.ID == id {
			return cat, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeCategorySource) ListCategories(ctx context.Context, offset, limit int) ([]*models.Category, error) {
	if offset >= len(f.cats) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.cats) {
		end = len(f.cats)
	}
	return f.cats[offset:end], nil
}

// flakyStore wraps a MemoryStore and fails selected search methods so
// the degradation chain can be exercised.
type flakyStore struct {
	*embeddings.MemoryStore
	failHybrid   bool
	failSemantic bool
	failFetch    bool
	hybridCalls  int
	searchCalls  int
	fetchCalls   int
}

var errUnavailable = errors.New("function does not exist")

func (s *flakyStore) HybridSearchTransactions(ctx context.Context, q embeddings.HybridTransactionQuery) ([]embeddings.Row, error) {
	s.hybridCalls++
	if s.failHybrid {
		return nil, errUnavailable
	}
	return s.MemoryStore.HybridSearchTransactions(ctx, q)
}

func (s *flakyStore) SearchTransactions(ctx context.Context, q embeddings.TransactionQuery) ([]embeddings.Row, error) {
	s.searchCalls++
	if s.failSemantic {
		return nil, errUnavailable
	}
	return s.MemoryStore.SearchTransactions(ctx, q)
}

func (s *flakyStore) HybridSearchCategories(ctx context.Context, q embeddings.HybridCategoryQuery) ([]embeddings.Row, error) {
	s.hybridCalls++
	if s.failHybrid {
		return nil, errUnavailable
	}
	return s.MemoryStore.HybridSearchCategories(ctx, q)
}

func (s *flakyStore) SearchCategories(ctx context.Context, q embeddings.CategoryQuery) ([]embeddings.Row, error) {
	s.searchCalls++
	if s.failSemantic {
		return nil, errUnavailable
	}
	return s.MemoryStore.SearchCategories(ctx, q)
}

func (s *flakyStore) FetchAllForOwner(ctx context.Context, entityType models.EntityType, owner embeddings.OwnerFilter) ([]*models.EmbeddingRecord, error) {
	s.fetchCalls++
	if s.failFetch {
		return nil, errUnavailable
	}
	return s.MemoryStore.FetchAllForOwner(ctx, entityType, owner)
}

func newTransaction(userID uuid.UUID, description, categoryName string) *models.Transaction {
	return &models.Transaction{
		ID:              uuid.New(),
		Description:     description,
		CategoryName:    categoryName,
		CategoryType:    models.CategoryTypeExpense,
		TransactionDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Amount:          "42.50",
		WalletID:        uuid.New(),
		UserID:          userID,
		CreatedAt:       time.Now(),
	}
}

func TestServiceDisabledBehavior(t *testing.T) {
	ctx := context.Background()
	provider := &embedding.MockClient{Dim: testDim, Disabled: true}
	txSource := &fakeTransactionSource{txs: []*models.Transaction{
		newTransaction(uuid.New(), "coffee", "Groceries"),
	}}
	service := NewService(provider, embeddings.NewMemoryStore(), txSource, &fakeCategorySource{}, nil, nil)

	assert.False(t, service.Enabled())

	record, err := service.GenerateTransactionEmbedding(ctx, txSource.txs[0].ID)
	require.NoError(t, err)
	assert.Nil(t, record)

	results, err := service.SearchSimilarTransactions(ctx, uuid.New(), "coffee", DefaultTransactionSearchOptions())
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	suggestion, err := service.SuggestCategory(ctx, "coffee", models.CategoryTypeExpense,
		uuid.NullUUID{UUID: uuid.New(), Valid: true}, DefaultSuggestOptions())
	require.NoError(t, err)
	assert.Nil(t, suggestion)
}

func TestGenerateTransactionEmbedding(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	tx := newTransaction(userID, "weekly grocery run", "Groceries")

	provider := fixedEmbedder(map[string]int{
		"[Groceries] weekly grocery run": 0,
	})
	store := embeddings.NewMemoryStore()
	service := NewService(provider, store, &fakeTransactionSource{txs: []*models.Transaction{tx}}, &fakeCategorySource{}, nil, nil)

	record, err := service.GenerateTransactionEmbedding(ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.EntityTypeTransaction, record.EntityType)
	assert.Equal(t, tx.ID, record.EntityID)
	assert.Equal(t, "[Groceries] weekly grocery run", record.Content)
	assert.Equal(t, uuid.NullUUID{UUID: userID, Valid: true}, record.UserID)

	meta, ok := record.Metadata.(models.TransactionMetadata)
	require.True(t, ok)
	assert.Equal(t, "Groceries", meta.CategoryName)
	assert.Equal(t, tx.WalletID, meta.WalletID)
	assert.Equal(t, "42.50", meta.Amount)
}

func TestGenerateTransactionEmbeddingSkipsBlankDescription(t *testing.T) {
	ctx := context.Background()
	tx := newTransaction(uuid.New(), "   ", "Groceries")

	store := embeddings.NewMemoryStore()
	service := NewService(fixedEmbedder(nil), store, &fakeTransactionSource{txs: []*models.Transaction{tx}}, &fakeCategorySource{}, nil, nil)

	record, err := service.GenerateTransactionEmbedding(ctx, tx.ID)
	require.NoError(t, err)
	assert.Nil(t, record)

	records, err := store.FetchAllForOwner(ctx, models.EntityTypeTransaction, embeddings.OwnerFilter{
		Owner: uuid.NullUUID{UUID: tx.UserID, Valid: true},
	})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGenerateTransactionEmbeddingNotFound(t *testing.T) {
	service := NewService(fixedEmbedder(nil), embeddings.NewMemoryStore(), &fakeTransactionSource{}, &fakeCategorySource{}, nil, nil)

	_, err := service.GenerateTransactionEmbedding(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGenerateCategoryEmbeddingGlobalScopeClearsOwner(t *testing.T) {
	ctx := context.Background()
	cat := &models.Category{
		ID:    uuid.New(),
		Name:  "Groceries",
		Type:  models.CategoryTypeExpense,
		Scope: models.CategoryScopeGlobal,
		// Stale owner on a global row must not leak into the record.
		OwnerID:   uuid.NullUUID{UUID: uuid.New(), Valid: true},
		CreatedAt: time.Now(),
	}

	provider := fixedEmbedder(map[string]int{"[EXPENSE]: Groceries": 0})
	service := NewService(provider, embeddings.NewMemoryStore(), &fakeTransactionSource{}, &fakeCategorySource{cats: []*models.Category{cat}}, nil, nil)

	record, err := service.GenerateCategoryEmbedding(ctx, cat.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "[EXPENSE]: Groceries", record.Content)
	assert.False(t, record.UserID.Valid)

	meta, ok := record.Metadata.(models.CategoryMetadata)
	require.True(t, ok)
	assert.Equal(t, models.CategoryScopeGlobal, meta.Scope)
}

func TestSearchSimilarTransactionsValidation(t *testing.T) {
	service := NewService(fixedEmbedder(nil), embeddings.NewMemoryStore(), &fakeTransactionSource{}, &fakeCategorySource{}, nil, nil)

	_, err := service.SearchSimilarTransactions(context.Background(), uuid.Nil, "coffee", DefaultTransactionSearchOptions())
	assert.Error(t, err)

	_, err = service.SearchSimilarTransactions(context.Background(), uuid.New(), "  ", DefaultTransactionSearchOptions())
	assert.Error(t, err)
}

func TestSearchSimilarTransactionsScopesToUser(t *testing.T) {
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()

	aliceTx := newTransaction(alice, "espresso at the corner cafe", "Coffee")
	bobTx := newTransaction(bob, "espresso machine repair", "Appliances")

	provider := fixedEmbedder(map[string]int{
		"[Coffee] espresso at the corner cafe": 0,
		"[Appliances] espresso machine repair": 0,
		"espresso":                             0,
	})
	store := embeddings.NewMemoryStore()
	txSource := &fakeTransactionSource{txs: []*models.Transaction{aliceTx, bobTx}}
	service := NewService(provider, store, txSource, &fakeCategorySource{}, nil, nil)

	for _, tx := range txSource.txs {
		_, err := service.GenerateTransactionEmbedding(ctx, tx.ID)
		require.NoError(t, err)
	}

	results, err := service.SearchSimilarTransactions(ctx, alice, "espresso", DefaultTransactionSearchOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, aliceTx.ID, results[0].EntityID)
}

func TestSearchSimilarTransactionsFallsBackToSemantic(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	tx := newTransaction(userID, "monthly rent", "Housing")

	provider := fixedEmbedder(map[string]int{
		"[Housing] monthly rent": 0,
		"rent":                   0,
	})
	store := &flakyStore{MemoryStore: embeddings.NewMemoryStore(), failHybrid: true}
	txSource := &fakeTransactionSource{txs: []*models.Transaction{tx}}
	service := NewService(provider, store, txSource, &fakeCategorySource{}, nil, nil)

	_, err := service.GenerateTransactionEmbedding(ctx, tx.ID)
	require.NoError(t, err)

	results, err := service.SearchSimilarTransactions(ctx, userID, "rent", DefaultTransactionSearchOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, tx.ID, results[0].EntityID)
	assert.Equal(t, 1, store.hybridCalls)
	assert.Equal(t, 1, store.searchCalls)
	assert.Nil(t, results[0].RankScore)
}

func TestSearchSimilarTransactionsFallsBackToClientSide(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	tx := newTransaction(userID, "monthly rent", "Housing")

	provider := fixedEmbedder(map[string]int{
		"[Housing] monthly rent": 0,
		"rent":                   0,
	})
	store := &flakyStore{MemoryStore: embeddings.NewMemoryStore(), failHybrid: true, failSemantic: true}
	txSource := &fakeTransactionSource{txs: []*models.Transaction{tx}}
	service := NewService(provider, store, txSource, &fakeCategorySource{}, nil, nil)

	_, err := service.GenerateTransactionEmbedding(ctx, tx.ID)
	require.NoError(t, err)

	results, err := service.SearchSimilarTransactions(ctx, userID, "rent", DefaultTransactionSearchOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, tx.ID, results[0].EntityID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.GreaterOrEqual(t, store.fetchCalls, 1)
}

func TestSearchSimilarTransactionsAllTiersFail(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{
		MemoryStore:  embeddings.NewMemoryStore(),
		failHybrid:   true,
		failSemantic: true,
		failFetch:    true,
	}
	service := NewService(fixedEmbedder(nil), store, &fakeTransactionSource{}, &fakeCategorySource{}, nil, nil)

	_, err := service.SearchSimilarTransactions(ctx, uuid.New(), "anything", DefaultTransactionSearchOptions())
	assert.ErrorIs(t, err, errUnavailable)
}

func TestSearchSimilarTransactionsWalletFilter(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	txA := newTransaction(userID, "groceries at market", "Groceries")
	txB := newTransaction(userID, "groceries delivered", "Groceries")

	provider := fixedEmbedder(map[string]int{
		fmt.Sprintf("[Groceries] %s", txA.Description): 0,
		fmt.Sprintf("[Groceries] %s", txB.Description): 0,
		"groceries": 0,
	})
	store := embeddings.NewMemoryStore()
	txSource := &fakeTransactionSource{txs: []*models.Transaction{txA, txB}}
	service := NewService(provider, store, txSource, &fakeCategorySource{}, nil, nil)

	for _, tx := range txSource.txs {
		_, err := service.GenerateTransactionEmbedding(ctx, tx.ID)
		require.NoError(t, err)
	}

	opts := DefaultTransactionSearchOptions()
	opts.WalletID = &txA.WalletID

	results, err := service.SearchSimilarTransactions(ctx, userID, "groceries", opts)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, txA.ID, results[0].EntityID)
}

func TestSearchSimilarTransactionsThreshold(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	tx := newTransaction(userID, "unrelated purchase", "Misc")

	// The stored vector is orthogonal to the query vector, so the
	// default threshold excludes it.
	provider := fixedEmbedder(map[string]int{
		"[Misc] unrelated purchase": 1,
		"concert tickets":           0,
	})
	store := embeddings.NewMemoryStore()
	txSource := &fakeTransactionSource{txs: []*models.Transaction{tx}}
	service := NewService(provider, store, txSource, &fakeCategorySource{}, nil, nil)

	_, err := service.GenerateTransactionEmbedding(ctx, tx.ID)
	require.NoError(t, err)

	results, err := service.SearchSimilarTransactions(ctx, userID, "concert tickets", DefaultTransactionSearchOptions())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSuggestCategory(t *testing.T) {
	ctx := context.Background()
	alice := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	global := &models.Category{
		ID: uuid.New(), Name: "Groceries", Type: models.CategoryTypeExpense,
		Scope: models.CategoryScopeGlobal, CreatedAt: time.Now(),
	}
	own := &models.Category{
		ID: uuid.New(), Name: "Coffee", Type: models.CategoryTypeExpense,
		Scope: models.CategoryScopeUser, OwnerID: alice, CreatedAt: time.Now(),
	}
	income := &models.Category{
		ID: uuid.New(), Name: "Salary", Type: models.CategoryTypeIncome,
		Scope: models.CategoryScopeGlobal, CreatedAt: time.Now(),
	}

	provider := fixedEmbedder(map[string]int{
		"[EXPENSE]: Groceries": 0,
		"[EXPENSE]: Coffee":    1,
		"[INCOME]: Salary":     2,
		"weekly food shopping": 0,
		"morning latte":        1,
	})
	store := embeddings.NewMemoryStore()
	catSource := &fakeCategorySource{cats: []*models.Category{global, own, income}}
	service := NewService(provider, store, &fakeTransactionSource{}, catSource, nil, nil)

	for _, cat := range catSource.cats {
		_, err := service.GenerateCategoryEmbedding(ctx, cat.ID)
		require.NoError(t, err)
	}

	suggestion, err := service.SuggestCategory(ctx, "weekly food shopping", models.CategoryTypeExpense, alice, DefaultSuggestOptions())
	require.NoError(t, err)
	require.NotNil(t, suggestion)
	assert.Equal(t, global.ID, suggestion.CategoryID)
	assert.Equal(t, "Groceries", suggestion.CategoryName)
	assert.Equal(t, models.CategoryTypeExpense, suggestion.Type)

	suggestion, err = service.SuggestCategory(ctx, "morning latte", models.CategoryTypeExpense, alice, DefaultSuggestOptions())
	require.NoError(t, err)
	require.NotNil(t, suggestion)
	assert.Equal(t, own.ID, suggestion.CategoryID)
}

func TestSuggestCategoryNoMatchBelowThreshold(t *testing.T) {
	ctx := context.Background()
	alice := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	cat := &models.Category{
		ID: uuid.New(), Name: "Groceries", Type: models.CategoryTypeExpense,
		Scope: models.CategoryScopeGlobal, CreatedAt: time.Now(),
	}

	provider := fixedEmbedder(map[string]int{
		"[EXPENSE]: Groceries": 0,
		"skydiving lessons":    1,
	})
	store := embeddings.NewMemoryStore()
	catSource := &fakeCategorySource{cats: []*models.Category{cat}}
	service := NewService(provider, store, &fakeTransactionSource{}, catSource, nil, nil)

	_, err := service.GenerateCategoryEmbedding(ctx, cat.ID)
	require.NoError(t, err)

	suggestion, err := service.SuggestCategory(ctx, "skydiving lessons", models.CategoryTypeExpense, alice, DefaultSuggestOptions())
	require.NoError(t, err)
	assert.Nil(t, suggestion)
}

func TestSuggestCategoryValidation(t *testing.T) {
	service := NewService(fixedEmbedder(nil), embeddings.NewMemoryStore(), &fakeTransactionSource{}, &fakeCategorySource{}, nil, nil)

	_, err := service.SuggestCategory(context.Background(), "", models.CategoryTypeExpense, uuid.NullUUID{}, DefaultSuggestOptions())
	assert.Error(t, err)

	_, err = service.SuggestCategory(context.Background(), "coffee", models.CategoryType("SAVINGS"), uuid.NullUUID{}, DefaultSuggestOptions())
	assert.Error(t, err)
}

func TestDeleteEmbedding(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	tx := newTransaction(userID, "coffee", "Coffee")

	provider := fixedEmbedder(map[string]int{"[Coffee] coffee": 0})
	store := embeddings.NewMemoryStore()
	txSource := &fakeTransactionSource{txs: []*models.Transaction{tx}}
	service := NewService(provider, store, txSource, &fakeCategorySource{}, nil, nil)

	_, err := service.GenerateTransactionEmbedding(ctx, tx.ID)
	require.NoError(t, err)

	require.NoError(t, service.DeleteEmbedding(ctx, models.EntityTypeTransaction, tx.ID))
	// Deleting again is not an error.
	require.NoError(t, service.DeleteEmbedding(ctx, models.EntityTypeTransaction, tx.ID))

	assert.Error(t, service.DeleteEmbedding(ctx, models.EntityType("wallet"), tx.ID))
}
