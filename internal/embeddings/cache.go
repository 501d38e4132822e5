package embeddings

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/circuitbreaker"
	"github.com/inkwell-ai/inkwell/internal/metrics"
)

// Cache defines the second-tier embedding cache operations.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, v []float32, ttl time.Duration)
}

// LocalLRU is the in-process first tier: a small LRU with per-entry TTL.
type LocalLRU struct {
	mu   sync.Mutex
	cap  int
	list *list.List               // front = most recent
	m    map[string]*list.Element // key -> element
}

type lruEntry struct {
	key string
	vec []float32
	exp time.Time
}

func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LocalLRU{cap: capacity, list: list.New(), m: make(map[string]*list.Element, capacity)}
}

func (l *LocalLRU) Get(_ context.Context, key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.m[key]; ok {
		ent := el.Value.(lruEntry)
		if ent.exp.After(time.Now()) {
			l.list.MoveToFront(el)
			return ent.vec, true
		}
		l.list.Remove(el)
		delete(l.m, key)
	}
	return nil, false
}

func (l *LocalLRU) Set(_ context.Context, key string, v []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.m[key]; ok {
		el.Value = lruEntry{key: key, vec: v, exp: time.Now().Add(ttl)}
		l.list.MoveToFront(el)
		return
	}
	el := l.list.PushFront(lruEntry{key: key, vec: v, exp: time.Now().Add(ttl)})
	l.m[key] = el
	if l.list.Len() > l.cap {
		oldest := l.list.Back()
		if oldest != nil {
			ent := oldest.Value.(lruEntry)
			delete(l.m, ent.key)
			l.list.Remove(oldest)
		}
	}
}

// RedisCache is the shared second tier, circuit-breaker wrapped so a Redis
// outage degrades to misses instead of failing embedding calls.
type RedisCache struct {
	cli *circuitbreaker.RedisWrapper
}

func NewRedisCache(addr string, logger *zap.Logger) (*RedisCache, error) {
	rc := redis.NewClient(&redis.Options{Addr: addr})
	wrapper := circuitbreaker.NewRedisWrapper(rc, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wrapper.Ping(ctx); err != nil {
		return nil, err
	}
	return &RedisCache{cli: wrapper}, nil
}

// Wrapper exposes the underlying client for health checks.
func (r *RedisCache) Wrapper() *circuitbreaker.RedisWrapper { return r.cli }

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, ok := r.cli.Get(ctx, key)
	if !ok {
		return nil, false
	}
	// 4-byte little-endian float32 chunks.
	if len(b)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(b)/4)
	for i := 0; i < len(out); i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}

func (r *RedisCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	r.cli.Set(ctx, key, b, ttl)
}

// MakeKey derives the cache key from (model, version, text). Version is part
// of the key so a version bump never serves stale vectors.
func MakeKey(model, version, text string) string {
	h := sha256.Sum256([]byte(model + "|" + version + "|" + text))
	return "emb:" + hex.EncodeToString(h[:16])
}

// tieredCache consults the LRU then Redis, promoting Redis hits into the LRU.
type tieredCache struct {
	lru    *LocalLRU
	shared Cache
	ttl    time.Duration
}

const lruTTL = 30 * time.Minute

func (t *tieredCache) get(ctx context.Context, key string) ([]float32, bool) {
	if v, ok := t.lru.Get(ctx, key); ok {
		metrics.EmbeddingCacheHits.WithLabelValues("lru").Inc()
		return v, true
	}
	if t.shared != nil {
		if v, ok := t.shared.Get(ctx, key); ok {
			t.lru.Set(ctx, key, v, lruTTL)
			metrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
			return v, true
		}
	}
	metrics.EmbeddingCacheMisses.Inc()
	return nil, false
}

func (t *tieredCache) set(ctx context.Context, key string, v []float32) {
	t.lru.Set(ctx, key, v, lruTTL)
	if t.shared != nil {
		t.shared.Set(ctx, key, v, t.ttl)
	}
}
