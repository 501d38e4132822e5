package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/inkwell-ai/inkwell/internal/circuitbreaker"
	"github.com/inkwell-ai/inkwell/internal/db"
)

func writeProbe(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DatabaseChecker pings Postgres. The database is critical: nothing
// answers without it.
type DatabaseChecker struct {
	client *db.Client
}

func NewDatabaseChecker(client *db.Client) *DatabaseChecker {
	return &DatabaseChecker{client: client}
}

func (d *DatabaseChecker) Name() string   { return "database" }
func (d *DatabaseChecker) Critical() bool { return true }

func (d *DatabaseChecker) Check(ctx context.Context) Result {
	start := time.Now()
	res := Result{Component: "database", Critical: true}
	if err := d.client.Ping(ctx); err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	} else if time.Since(start) > 250*time.Millisecond {
		res.Status = StatusDegraded
	}
	res.Latency = time.Since(start)
	return res
}

// RedisChecker pings the shared embedding cache. Not critical: the
// service degrades to provider calls when the cache is gone.
type RedisChecker struct {
	wrapper *circuitbreaker.RedisWrapper
}

func NewRedisChecker(wrapper *circuitbreaker.RedisWrapper) *RedisChecker {
	return &RedisChecker{wrapper: wrapper}
}

func (r *RedisChecker) Name() string   { return "redis" }
func (r *RedisChecker) Critical() bool { return false }

func (r *RedisChecker) Check(ctx context.Context) Result {
	start := time.Now()
	res := Result{Component: "redis"}
	if err := r.wrapper.Ping(ctx); err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	}
	res.Latency = time.Since(start)
	return res
}

// HTTPChecker probes an external provider's base URL. Providers are
// non-critical; retrieval falls back or fails per request.
type HTTPChecker struct {
	name    string
	url     string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPChecker(name, url string) *HTTPChecker {
	return &HTTPChecker{
		name:    name,
		url:     url,
		client:  &http.Client{},
		timeout: 3 * time.Second,
	}
}

func (h *HTTPChecker) Name() string   { return h.name }
func (h *HTTPChecker) Critical() bool { return false }

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	res := Result{Component: h.name}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
		res.Latency = time.Since(start)
		return res
	}
	resp, err := h.client.Do(req)
	if err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	} else {
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			res.Status = StatusUnhealthy
			res.Error = resp.Status
		}
	}
	res.Latency = time.Since(start)
	return res
}
