// Package jobs runs background embedding work. The queue row in Postgres is
// the single source of truth: enqueue never blocks on completion, workers
// claim rows with a compare-and-set, and a crashed worker's job is simply
// re-enqueued by the retry path.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/metrics"
)

// Queue is the enqueue/inspect surface used by HTTP handlers and the CLI.
type Queue struct {
	client *db.Client
	logger *zap.Logger
}

func NewQueue(client *db.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue schedules an embedding pass for a scope. Duplicate active jobs
// for the same (scope, model) collapse onto the existing row.
func (q *Queue) Enqueue(ctx context.Context, sourceType, sourceID, model string, priority int, force bool) (uuid.UUID, error) {
	id, err := q.client.EnqueueJob(ctx, sourceType, sourceID, model, priority, force)
	if err != nil {
		return uuid.Nil, err
	}
	q.logger.Info("Embedding job enqueued",
		zap.String("job_id", id.String()),
		zap.String("source_type", sourceType),
		zap.String("source_id", sourceID),
		zap.String("model", model),
	)
	q.refreshDepth(ctx)
	return id, nil
}

// Get fetches one job.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*db.EmbeddingJob, error) {
	return q.client.GetJob(ctx, id)
}

// List returns recent jobs, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status string, limit int) ([]db.EmbeddingJob, error) {
	return q.client.ListJobs(ctx, status, limit)
}

// Summarize aggregates queue counts per status.
func (q *Queue) Summarize(ctx context.Context) ([]db.JobSummary, error) {
	return q.client.SummarizeJobs(ctx)
}

func (q *Queue) refreshDepth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if n, err := q.client.CountPendingJobs(ctx); err == nil {
		metrics.JobQueueDepth.Set(float64(n))
	}
}
