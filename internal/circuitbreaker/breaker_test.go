package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBreaker(cfg Config) *Breaker {
	return New("test", cfg, zap.NewNop())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	b := newTestBreaker(cfg)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 2
	cfg.Timeout = 10 * time.Millisecond
	b := newTestBreaker(cfg)

	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 2; i++ {
		err := b.Execute(context.Background(), func() error { return nil })
		require.NoError(t, err)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	b := newTestBreaker(cfg)

	boom := errors.New("boom")
	_ = b.Execute(context.Background(), func() error { return boom })
	_ = b.Execute(context.Background(), func() error { return boom })
	_ = b.Execute(context.Background(), func() error { return nil })
	_ = b.Execute(context.Background(), func() error { return boom })

	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	b := newTestBreaker(cfg)

	assert.Panics(t, func() {
		_ = b.Execute(context.Background(), func() error { panic("kaboom") })
	})
	assert.Equal(t, StateOpen, b.State())
}
