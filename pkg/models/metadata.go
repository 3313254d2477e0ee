package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metadata is the side payload stored with an embedding record and
// returned verbatim with search results. It is a tagged union
// discriminated by the owning record's EntityType; it never
// participates in ranking.
type Metadata interface {
	EntityType() EntityType
}

// TransactionMetadata is the metadata payload for transaction records.
type TransactionMetadata struct {
	CategoryName    string       `json:"category_name"`
	CategoryType    CategoryType `json:"category_type"`
	TransactionDate time.Time    `json:"transaction_date"`
	Amount          string       `json:"amount"`
	WalletID        uuid.UUID    `json:"wallet_id"`
}

// EntityType implements Metadata.
func (TransactionMetadata) EntityType() EntityType { return EntityTypeTransaction }

// CategoryMetadata is the metadata payload for category records.
type CategoryMetadata struct {
	Name  string        `json:"name"`
	Type  CategoryType  `json:"type"`
	Scope CategoryScope `json:"scope"`
	Icon  string        `json:"icon,omitempty"`
}

// EntityType implements Metadata.
func (CategoryMetadata) EntityType() EntityType { return EntityTypeCategory }

// EncodeMetadata marshals a metadata payload to JSON for the JSONB
// column. A nil payload encodes as an empty object.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata unmarshals a JSON payload into the concrete metadata
// type selected by the entity type discriminator.
func DecodeMetadata(entityType EntityType, data []byte) (Metadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch entityType {
	case EntityTypeTransaction:
		var m TransactionMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction metadata: %w", err)
		}
		return m, nil
	case EntityTypeCategory:
		var m CategoryMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal category metadata: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("invalid entity type %q", entityType)
	}
}
