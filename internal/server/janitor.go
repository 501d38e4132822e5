package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
)

// Janitor expires idle sessions on a fixed cadence.
type Janitor struct {
	client   *db.Client
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewJanitor(client *db.Client, ttl time.Duration, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		client:   client,
		ttl:      ttl,
		interval: time.Hour,
		logger:   logger,
	}
}

func (j *Janitor) Start(ctx context.Context) {
	if j.ttl <= 0 {
		return
	}
	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	go func() {
		defer close(j.done)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.sweep(ctx)
			}
		}
	}()
}

func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
		<-j.done
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := j.client.ExpireIdleSessions(ctx, j.ttl)
	if err != nil {
		j.logger.Warn("Session expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.logger.Info("Expired idle sessions", zap.Int64("count", n))
	}
}
