package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

// EnqueueJob inserts a PENDING embedding job. A scope+model that already has
// a PENDING or RUNNING job is not enqueued twice; the existing job id is
// returned instead.
func (c *Client) EnqueueJob(ctx context.Context, sourceType, sourceID, modelName string, priority int, force bool) (uuid.UUID, error) {
	var existing uuid.UUID
	err := c.get(ctx, &existing, `
		SELECT id FROM embedding_jobs
		WHERE source_type = $1 AND source_id = $2 AND model_name = $3
		  AND status IN ($4, $5)
		ORDER BY created_at DESC LIMIT 1`,
		sourceType, sourceID, modelName, JobStatusPending, JobStatusRunning)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("check existing job: %w", err)
	}

	id := uuid.New()
	_, err = c.exec(ctx, `
		INSERT INTO embedding_jobs
			(id, source_type, source_id, model_name, status, priority, force, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		id, sourceType, sourceID, modelName, JobStatusPending, priority, force)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// ClaimNextJob atomically claims the highest-priority runnable job for a
// worker. The compare-and-set on status plus SKIP LOCKED guarantees each job
// is handed to exactly one worker. Returns nil when the queue is empty.
func (c *Client) ClaimNextJob(ctx context.Context, workerID string) (*EmbeddingJob, error) {
	var job EmbeddingJob
	err := c.get(ctx, &job, `
		UPDATE embedding_jobs SET
			status = $2, worker_id = $1, started_at = now()
		WHERE id = (
			SELECT id FROM embedding_jobs
			WHERE status = $3 AND next_run_at <= now()
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, source_type, source_id, model_name, status, priority,
		          retry_count, worker_id, progress, force, error_log,
		          created_at, started_at, finished_at, next_run_at`,
		workerID, JobStatusRunning, JobStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// UpdateJobProgress records progress in [0,1]. The worker_id guard rejects
// updates from a worker that lost its claim.
func (c *Client) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, workerID string, progress float64) error {
	res, err := c.exec(ctx, `
		UPDATE embedding_jobs SET progress = $3
		WHERE id = $1 AND worker_id = $2 AND status = $4`,
		jobID, workerID, progress, JobStatusRunning)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindConflict, "job %s no longer owned by %s", jobID, workerID)
	}
	return nil
}

// CompleteJob marks a claimed job SUCCEEDED.
func (c *Client) CompleteJob(ctx context.Context, jobID uuid.UUID, workerID string) error {
	res, err := c.exec(ctx, `
		UPDATE embedding_jobs SET
			status = $3, progress = 1.0, finished_at = now()
		WHERE id = $1 AND worker_id = $2 AND status = $4`,
		jobID, workerID, JobStatusSucceeded, JobStatusRunning)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindConflict, "job %s no longer owned by %s", jobID, workerID)
	}
	return nil
}

// FailJob records a failure. When retry is true the job returns to PENDING
// with an incremented retry_count and a next_run_at pushed out by backoff;
// otherwise it lands in FAILED with the error preserved.
func (c *Client) FailJob(ctx context.Context, jobID uuid.UUID, workerID, errMsg string, retry bool, backoff time.Duration) error {
	var (
		res sql.Result
		err error
	)
	if retry {
		res, err = c.exec(ctx, `
			UPDATE embedding_jobs SET
				status = $3, retry_count = retry_count + 1, worker_id = NULL,
				error_log = $4, next_run_at = now() + $5::interval
			WHERE id = $1 AND worker_id = $2 AND status = $6`,
			jobID, workerID, JobStatusPending, errMsg,
			fmt.Sprintf("%d milliseconds", backoff.Milliseconds()), JobStatusRunning)
	} else {
		res, err = c.exec(ctx, `
			UPDATE embedding_jobs SET
				status = $3, error_log = $4, finished_at = now()
			WHERE id = $1 AND worker_id = $2 AND status = $5`,
			jobID, workerID, JobStatusFailed, errMsg, JobStatusRunning)
	}
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindConflict, "job %s no longer owned by %s", jobID, workerID)
	}
	return nil
}

// GetJob fetches one job row.
func (c *Client) GetJob(ctx context.Context, jobID uuid.UUID) (*EmbeddingJob, error) {
	var job EmbeddingJob
	err := c.get(ctx, &job, `
		SELECT id, source_type, source_id, model_name, status, priority,
		       retry_count, worker_id, progress, force, error_log,
		       created_at, started_at, finished_at, next_run_at
		FROM embedding_jobs WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.KindNotFound, "job %s not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns recent jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status string, limit int) ([]EmbeddingJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, source_type, source_id, model_name, status, priority,
		       retry_count, worker_id, progress, force, error_log,
		       created_at, started_at, finished_at, next_run_at
		FROM embedding_jobs`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	var jobs []EmbeddingJob
	if err := c.sel(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// SummarizeJobs aggregates queue counts per status.
func (c *Client) SummarizeJobs(ctx context.Context) ([]JobSummary, error) {
	var rows []JobSummary
	err := c.sel(ctx, &rows, `
		SELECT status, count(*) AS count
		FROM embedding_jobs
		GROUP BY status
		ORDER BY status ASC`)
	if err != nil {
		return nil, fmt.Errorf("summarize jobs: %w", err)
	}
	return rows, nil
}

// CountPendingJobs reports queue depth for the gauge.
func (c *Client) CountPendingJobs(ctx context.Context) (int, error) {
	var n int
	err := c.get(ctx, &n, `
		SELECT count(*) FROM embedding_jobs WHERE status = $1`, JobStatusPending)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}
