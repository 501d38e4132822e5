package circuitbreaker

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HTTPWrapper wraps an http.Client with a circuit breaker. 5xx responses
// count as breaker failures; 4xx do not trip the breaker.
type HTTPWrapper struct {
	client *http.Client
	cb     *Breaker
}

// NewHTTPWrapper creates an HTTP wrapper with circuit breaker protection
func NewHTTPWrapper(client *http.Client, name string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPWrapper{
		client: client,
		cb:     New(name, DefaultConfig(), logger),
	}
}

// Do executes an HTTP request through the circuit breaker
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var err2 error
		resp, err2 = hw.client.Do(req)
		if err2 != nil {
			return err2
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	// A 5xx classification still hands the response back to the caller.
	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}

// State exposes the underlying breaker state for health checks
func (hw *HTTPWrapper) State() State { return hw.cb.State() }

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }

// RedisWrapper wraps a go-redis client with a circuit breaker
type RedisWrapper struct {
	client *redis.Client
	cb     *Breaker
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker protection
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	return &RedisWrapper{
		client: client,
		cb:     New("redis", DefaultConfig(), logger),
	}
}

// Get fetches a key; breaker failures and cache misses both return ok=false
func (rw *RedisWrapper) Get(ctx context.Context, key string) ([]byte, bool) {
	var b []byte
	err := rw.cb.Execute(ctx, func() error {
		var err2 error
		b, err2 = rw.client.Get(ctx, key).Bytes()
		if err2 == redis.Nil {
			b = nil
			return nil
		}
		return err2
	})
	if err != nil || b == nil {
		return nil, false
	}
	return b, true
}

// Set stores a key with TTL; errors are swallowed after breaker accounting
func (rw *RedisWrapper) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	_ = rw.cb.Execute(ctx, func() error {
		return rw.client.Set(ctx, key, value, ttl).Err()
	})
}

// Ping checks connectivity through the breaker
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.cb.Execute(ctx, func() error {
		return rw.client.Ping(ctx).Err()
	})
}

// Close releases the underlying client
func (rw *RedisWrapper) Close() error { return rw.client.Close() }
