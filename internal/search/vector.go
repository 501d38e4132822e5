package search

import (
	"context"
	"time"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/metrics"
)

// vectorCandidates fetches the dense side with timing metrics.
func (e *Engine) vectorCandidates(ctx context.Context, vec db.Vector, topK int) ([]db.VectorHit, error) {
	start := time.Now()
	hits, err := e.backend.VectorSearch(ctx, vec, topK)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordVectorSearch(e.backend.SourceType(), status, time.Since(start).Seconds())
	return hits, err
}
