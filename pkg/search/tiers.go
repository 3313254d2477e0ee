package search

import (
	"context"

	"github.com/fintrack-app/fintrack/pkg/repository/embeddings"
)

// tier is one retrieval strategy in the degradation chain. Strategies
// are tried in order; an error from any tier except the last is an
// expected unavailability, logged and skipped, never surfaced.
type tier struct {
	name string
	run  func(ctx context.Context) ([]embeddings.Row, error)
}

// runTiers executes strategies in order and returns the first
// successful result, even an empty one. Only the final tier's failure
// propagates to the caller.
func (s *Service) runTiers(ctx context.Context, operation string, tiers []tier) ([]embeddings.Row, error) {
	var lastErr error
	for i, t := range tiers {
		rows, err := t.run(ctx)
		if err == nil {
			if i > 0 {
				s.metrics.IncrementCounter("search_tier_fallback", 1)
			}
			return rows, nil
		}
		lastErr = err
		if i < len(tiers)-1 {
			s.logger.Warn("search tier unavailable, falling back", map[string]interface{}{
				"operation": operation,
				"tier":      t.name,
				"next":      tiers[i+1].name,
				"error":     err.Error(),
			})
			continue
		}
		s.logger.Error("all search tiers failed", map[string]interface{}{
			"operation": operation,
			"tier":      t.name,
			"error":     err.Error(),
		})
	}
	return nil, lastErr
}
