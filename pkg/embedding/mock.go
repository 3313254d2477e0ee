package embedding

import (
	"context"
	"crypto/sha256"
	"math"
)

// MockClient is a deterministic in-process Client used in tests and
// credential-less local runs. Without an EmbedFn it derives a unit
// vector from a hash of the input text, so identical texts always map
// to identical vectors.
type MockClient struct {
	Dim      int
	Disabled bool
	EmbedFn  func(ctx context.Context, text string) ([]float32, error)
}

// NewMockClient creates a MockClient with the given dimension.
func NewMockClient(dim int) *MockClient {
	return &MockClient{Dim: dim}
}

// Enabled implements Client.
func (m *MockClient) Enabled() bool { return !m.Disabled }

// Dimensions implements Client.
func (m *MockClient) Dimensions() int { return m.Dim }

// Embed implements Client.
func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Disabled {
		return nil, ErrDisabled
	}
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text)
	}

	digest := sha256.Sum256([]byte(text))
	vector := make([]float32, m.Dim)
	var norm float64
	for i := range vector {
		b := digest[i%len(digest)]
		v := float64(b)/127.5 - 1
		vector[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}
