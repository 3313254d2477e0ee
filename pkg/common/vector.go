// Package common holds small shared utilities for working with
// embedding vectors: similarity math and the pgvector wire format.
package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DimensionMismatchError is returned when two vectors of different
// lengths are compared. Vectors produced by the same generator always
// share a dimension, so a mismatch indicates corpus or generator
// version skew and is never silently coerced.
type DimensionMismatchError struct {
	LenA int
	LenB int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: %d vs %d", e.LenA, e.LenB)
}

// CosineSimilarity computes the cosine similarity of two vectors of
// equal dimension. A zero vector on either side yields 0 rather than
// NaN. Accumulation happens in float64 to keep scores stable.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{LenA: len(a), LenB: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// FormatPgVector renders a vector in the pgvector text format:
// [0.1,0.2,...]
func FormatPgVector(vector []float32) string {
	var b strings.Builder
	b.WriteString("[")
	for i, v := range vector {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteString("]")
	return b.String()
}

// ParsePgVector parses the pgvector text format back into a float32
// slice. Accepts both bracket and brace delimiters.
func ParsePgVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "[]{}")
	if s == "" {
		return []float32{}, nil
	}

	parts := strings.Split(s, ",")
	vector := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse vector component %d: %w", i, err)
		}
		vector[i] = float32(f)
	}
	return vector, nil
}
