package search

import (
	"context"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/metrics"
)

// lexicalCandidates fetches the full-text side. Negative ranks (possible
// with rank normalization options) are preserved here and clamped during the
// merge.
func (e *Engine) lexicalCandidates(ctx context.Context, query string, topK int) ([]db.LexicalHit, error) {
	hits, err := e.backend.LexicalSearch(ctx, query, topK)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.LexicalSearches.WithLabelValues(e.backend.SourceType(), status).Inc()
	return hits, err
}
