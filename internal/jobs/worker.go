package jobs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/embeddings"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/metrics"
)

// Embedder is the slice of the embedding service workers call.
type Embedder interface {
	EmbedPDF(ctx context.Context, pdfID uuid.UUID, model string, force bool, batchSize int, progress func(float64)) (*embeddings.Report, error)
	EmbedUnifiedChunks(ctx context.Context, sourceType, sourceID, model string, force bool, batchSize int, progress func(float64)) (*embeddings.Report, error)
}

// Pool polls the queue with a fixed set of workers.
type Pool struct {
	client   *db.Client
	embedder Embedder
	cfg      config.JobsConfig
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewPool(client *db.Client, embedder Embedder, cfg config.JobsConfig, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{client: client, embedder: embedder, cfg: cfg, logger: logger}
}

// Start launches the workers. They run until Stop or context cancellation.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)
	host, _ := os.Hostname()
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d", host, i)
		g.Go(func() error {
			p.runWorker(ctx, workerID)
			return nil
		})
	}
	g.Go(func() error {
		p.runDepthGauge(ctx)
		return nil
	})

	go func() {
		defer close(p.done)
		_ = g.Wait()
	}()
	p.logger.Info("Job pool started", zap.Int("workers", p.cfg.Workers))
}

// Stop cancels the workers and waits for them to drain.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// Drain the queue before sleeping again.
		for {
			job, err := p.client.ClaimNextJob(ctx, workerID)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("Job claim failed", zap.Error(err))
				}
				break
			}
			if job == nil {
				break
			}
			metrics.JobsClaimed.WithLabelValues(workerID).Inc()
			p.execute(ctx, workerID, job)
		}
	}
}

func (p *Pool) execute(ctx context.Context, workerID string, job *db.EmbeddingJob) {
	logger := p.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("worker_id", workerID),
		zap.String("source_type", job.SourceType),
		zap.String("source_id", job.SourceID),
	)
	logger.Info("Job started", zap.Int("retry_count", job.RetryCount))

	progress := func(frac float64) {
		// Progress loss is harmless; the claim guard rejects stale workers.
		_ = p.client.UpdateJobProgress(ctx, job.ID, workerID, frac)
	}

	var err error
	if job.SourceType == "pdf" {
		var pdfID uuid.UUID
		pdfID, err = uuid.Parse(job.SourceID)
		if err == nil {
			_, err = p.embedder.EmbedPDF(ctx, pdfID, job.ModelName, job.Force, 0, progress)
		}
	} else {
		_, err = p.embedder.EmbedUnifiedChunks(ctx, job.SourceType, job.SourceID, job.ModelName, job.Force, 0, progress)
	}

	if err == nil {
		if cErr := p.client.CompleteJob(ctx, job.ID, workerID); cErr != nil {
			logger.Warn("Job completion lost", zap.Error(cErr))
			return
		}
		metrics.JobsCompleted.WithLabelValues(db.JobStatusSucceeded).Inc()
		logger.Info("Job succeeded")
		return
	}

	retry := fault.IsRetryable(err) && job.RetryCount < p.cfg.MaxRetries
	backoff := p.cfg.BaseBackoff << uint(job.RetryCount)
	if fErr := p.client.FailJob(ctx, job.ID, workerID, err.Error(), retry, backoff); fErr != nil {
		logger.Warn("Job failure lost", zap.Error(fErr))
		return
	}
	if retry {
		metrics.JobsCompleted.WithLabelValues("retried").Inc()
		logger.Warn("Job will retry",
			zap.Error(err),
			zap.Duration("backoff", backoff),
			zap.Int("retry_count", job.RetryCount+1),
		)
		return
	}
	metrics.JobsCompleted.WithLabelValues(db.JobStatusFailed).Inc()
	logger.Error("Job failed permanently", zap.Error(err))
}

func (p *Pool) runDepthGauge(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.client.CountPendingJobs(ctx); err == nil {
				metrics.JobQueueDepth.Set(float64(n))
			}
		}
	}
}
