// Package health aggregates liveness and readiness checks for the
// /healthz and /readyz endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status of one component check.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is one component's check outcome.
type Result struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Critical  bool          `json:"critical"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) Result
}

// Manager runs registered checkers and serves the probe endpoints.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Register adds a checker. Registration happens at startup only.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// CheckAll runs every checker with a shared deadline.
func (m *Manager) CheckAll(ctx context.Context) []Result {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	results := make([]Result, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = c.Check(ctx)
		}(i, c)
	}
	wg.Wait()
	return results
}

// Ready reports whether every critical dependency is usable.
func (m *Manager) Ready(ctx context.Context) (bool, []Result) {
	results := m.CheckAll(ctx)
	for _, r := range results {
		if r.Critical && r.Status == StatusUnhealthy {
			return false, results
		}
	}
	return true, results
}

// Register mounts /healthz and /readyz.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", m.handleLiveness)
	mux.HandleFunc("GET /readyz", m.handleReadiness)
}

// handleLiveness answers 200 whenever the process can serve HTTP at all.
func (m *Manager) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (m *Manager) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready, results := m.Ready(r.Context())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
		for _, res := range results {
			if res.Status == StatusUnhealthy {
				m.logger.Warn("Readiness check failed",
					zap.String("component", res.Component),
					zap.String("error", res.Error),
				)
			}
		}
	}
	writeProbe(w, status, map[string]interface{}{
		"ready":      ready,
		"components": results,
	})
}
