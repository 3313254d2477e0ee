// Package models defines the core domain types shared by the retrieval
// engine: entity enumerations, embedding records and the metadata
// payloads carried alongside search results.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("entity not found")

// EntityType identifies the kind of source entity an embedding record
// was derived from.
type EntityType string

const (
	EntityTypeTransaction EntityType = "transaction"
	EntityTypeCategory    EntityType = "category"
)

// Valid reports whether the entity type is a known value.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeTransaction, EntityTypeCategory:
		return true
	}
	return false
}

// CategoryType distinguishes income categories from expense categories.
type CategoryType string

const (
	CategoryTypeIncome  CategoryType = "INCOME"
	CategoryTypeExpense CategoryType = "EXPENSE"
)

// Valid reports whether the category type is a known value.
func (t CategoryType) Valid() bool {
	switch t {
	case CategoryTypeIncome, CategoryTypeExpense:
		return true
	}
	return false
}

// CategoryScope distinguishes categories visible to every user from
// categories owned by a single user.
type CategoryScope string

const (
	CategoryScopeGlobal CategoryScope = "GLOBAL"
	CategoryScopeUser   CategoryScope = "USER"
)

// Valid reports whether the category scope is a known value.
func (s CategoryScope) Valid() bool {
	switch s {
	case CategoryScopeGlobal, CategoryScopeUser:
		return true
	}
	return false
}

// Transaction is the read model of a transaction as exposed by the
// CRUD layer. Amount is carried as a decimal string so monetary values
// never pass through floats.
type Transaction struct {
	ID              uuid.UUID    `db:"id"`
	Description     string       `db:"description"`
	CategoryName    string       `db:"category_name"`
	CategoryType    CategoryType `db:"category_type"`
	TransactionDate time.Time    `db:"transaction_date"`
	Amount          string       `db:"amount"`
	WalletID        uuid.UUID    `db:"wallet_id"`
	UserID          uuid.UUID    `db:"user_id"`
	CreatedAt       time.Time    `db:"created_at"`
}

// Category is the read model of a category as exposed by the CRUD
// layer. OwnerID is null for GLOBAL categories.
type Category struct {
	ID        uuid.UUID     `db:"id"`
	Name      string        `db:"name"`
	Type      CategoryType  `db:"type"`
	Scope     CategoryScope `db:"scope"`
	Icon      string        `db:"icon"`
	OwnerID   uuid.NullUUID `db:"owner_id"`
	CreatedAt time.Time     `db:"created_at"`
}

// EmbeddingRecord is one stored embedding, keyed uniquely by
// (EntityType, EntityID). UserID is null for globally visible records
// such as GLOBAL-scoped categories.
type EmbeddingRecord struct {
	ID         uuid.UUID
	EntityType EntityType
	EntityID   uuid.UUID
	UserID     uuid.NullUUID
	Content    string
	Embedding  []float32
	Metadata   Metadata
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks the structural invariants of a record before it is
// written to the store.
func (r *EmbeddingRecord) Validate() error {
	if !r.EntityType.Valid() {
		return fmt.Errorf("invalid entity type %q", r.EntityType)
	}
	if r.EntityID == uuid.Nil {
		return errors.New("entity id is required")
	}
	if len(r.Embedding) == 0 {
		return errors.New("embedding vector is empty")
	}
	if r.Metadata != nil && r.Metadata.EntityType() != r.EntityType {
		return fmt.Errorf("metadata type %q does not match entity type %q",
			r.Metadata.EntityType(), r.EntityType)
	}
	return nil
}

// SearchResult is one ranked hit from a transaction search. RankScore
// is set only when the result was produced by hybrid fusion.
type SearchResult struct {
	EntityID   uuid.UUID `json:"entity_id"`
	Similarity float64   `json:"similarity"`
	Content    string    `json:"content"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	RankScore  *float64  `json:"rank_score,omitempty"`
}

// CategorySuggestion is the best-matching category for a free-text
// description. RankScore is set only when produced by hybrid fusion.
type CategorySuggestion struct {
	CategoryID   uuid.UUID    `json:"category_id"`
	CategoryName string       `json:"category_name"`
	Similarity   float64      `json:"similarity"`
	Type         CategoryType `json:"type"`
	RankScore    *float64     `json:"rank_score,omitempty"`
}
