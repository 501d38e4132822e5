package search

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/metrics"
)

// Result is one merged retrieval hit. VectorDistance and LexicalRank are the
// raw per-side values, present only when that side produced the chunk.
type Result struct {
	ChunkID        string   `json:"chunk_id"`
	Text           string   `json:"text"`
	Metadata       db.JSONB `json:"metadata,omitempty"`
	Score          float64  `json:"score"`
	Source         string   `json:"source"`
	VectorDistance *float64 `json:"vector_distance,omitempty"`
	LexicalRank    *float64 `json:"lexical_rank,omitempty"`
	Snippet        string   `json:"snippet,omitempty"`
}

// Result source values.
const (
	SourceVector  = "vector"
	SourceLexical = "lexical"
	SourceBoth    = "both"
)

// QueryMetrics describes one hybrid query for logging and response metadata.
type QueryMetrics struct {
	VectorCandidates  int `json:"vector_candidates"`
	LexicalCandidates int `json:"lexical_candidates"`
	OverlapCount      int `json:"overlap_count"`
	FinalCount        int `json:"final_count"`
}

// Request is one hybrid query. Embedding may be nil to skip the vector side;
// Text empty skips the lexical side.
type Request struct {
	Embedding    db.Vector
	Text         string
	VectorTopK   int
	LexicalTopK  int
	MaxResults   int
	VectorWeight float64
}

// Engine merges vector and lexical candidates for one backend.
type Engine struct {
	backend Backend
	logger  *zap.Logger
}

func NewEngine(backend Backend, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{backend: backend, logger: logger}
}

type candidate struct {
	chunkID  string
	vecScore float64 // 1/(1+distance), 0 when absent
	lexScore float64 // clamped rank, 0 when absent
	distance *float64
	rank     *float64
	snippet  string
}

// Query runs both sides, merges with weight w, and hydrates the winners.
//
// Per-side scores are normalized by the side's max before weighting, so a
// strong lexical match and a strong vector match compete on equal footing.
// When one side returns nothing its weight collapses to zero and the other
// side decides alone.
func (e *Engine) Query(ctx context.Context, req Request) ([]Result, QueryMetrics, error) {
	start := time.Now()
	w := clamp01(req.VectorWeight)

	byID := make(map[string]*candidate)

	var m QueryMetrics
	if req.VectorTopK > 0 && req.Embedding != nil {
		// nil skips the vector side; a present-but-empty vector is a
		// caller bug, not a skip.
		if len(req.Embedding) == 0 {
			return nil, m, fault.Invalid("query embedding must not be empty")
		}
		hits, err := e.vectorCandidates(ctx, req.Embedding, req.VectorTopK)
		if err != nil {
			return nil, m, err
		}
		m.VectorCandidates = len(hits)
		for _, h := range hits {
			d := h.Distance
			byID[h.ChunkID] = &candidate{
				chunkID:  h.ChunkID,
				vecScore: 1 / (1 + d),
				distance: &d,
			}
		}
	}
	if req.LexicalTopK > 0 && req.Text != "" {
		hits, err := e.lexicalCandidates(ctx, req.Text, req.LexicalTopK)
		if err != nil {
			return nil, m, err
		}
		m.LexicalCandidates = len(hits)
		for _, h := range hits {
			r := math.Max(h.Rank, 0)
			if c, ok := byID[h.ChunkID]; ok {
				m.OverlapCount++
				rank := h.Rank
				c.lexScore = r
				c.rank = &rank
				c.snippet = h.Snippet
				continue
			}
			rank := h.Rank
			byID[h.ChunkID] = &candidate{
				chunkID:  h.ChunkID,
				lexScore: r,
				rank:     &rank,
				snippet:  h.Snippet,
			}
		}
	}

	var maxV, maxL float64
	for _, c := range byID {
		maxV = math.Max(maxV, c.vecScore)
		maxL = math.Max(maxL, c.lexScore)
	}

	// A side that produced no candidates contributes no weight.
	wv, wl := w, 1-w
	if m.VectorCandidates == 0 {
		wv = 0
	}
	if m.LexicalCandidates == 0 {
		wl = 0
	}
	totalW := wv + wl
	if totalW == 0 {
		totalW = 1
	}

	merged := make([]*candidate, 0, len(byID))
	for _, c := range byID {
		merged = append(merged, c)
	}

	combined := func(c *candidate) float64 {
		var v, l float64
		if maxV > 0 {
			v = c.vecScore / maxV
		}
		if maxL > 0 {
			l = c.lexScore / maxL
		}
		return (wv*v + wl*l) / totalW
	}

	sort.Slice(merged, func(i, j int) bool {
		ci, cj := combined(merged[i]), combined(merged[j])
		if ci != cj {
			return ci > cj
		}
		ri, rj := rankOrZero(merged[i]), rankOrZero(merged[j])
		if ri != rj {
			return ri > rj
		}
		di, dj := negDistance(merged[i]), negDistance(merged[j])
		if di != dj {
			return di > dj
		}
		return merged[i].chunkID < merged[j].chunkID
	})

	if req.MaxResults > 0 && len(merged) > req.MaxResults {
		merged = merged[:req.MaxResults]
	}
	m.FinalCount = len(merged)

	ids := make([]string, len(merged))
	for i, c := range merged {
		ids[i] = c.chunkID
	}
	hydrated, err := e.backend.Hydrate(ctx, ids)
	if err != nil {
		return nil, m, err
	}

	results := make([]Result, 0, len(merged))
	for _, c := range merged {
		res := Result{
			ChunkID:        c.chunkID,
			Score:          combined(c),
			Source:         sourceOf(c),
			VectorDistance: c.distance,
			LexicalRank:    c.rank,
			Snippet:        c.snippet,
		}
		if h, ok := hydrated[c.chunkID]; ok {
			res.Text = h.Text
			res.Metadata = h.Metadata
		}
		results = append(results, res)
	}

	metrics.HybridSearches.WithLabelValues(e.backend.SourceType(), "ok").Inc()
	metrics.HybridCandidateOverlap.Observe(float64(m.OverlapCount))
	e.logger.Debug("Hybrid query",
		zap.String("source_type", e.backend.SourceType()),
		zap.Int("vector_candidates", m.VectorCandidates),
		zap.Int("lexical_candidates", m.LexicalCandidates),
		zap.Int("overlap", m.OverlapCount),
		zap.Int("final", m.FinalCount),
		zap.Duration("took", time.Since(start)),
	)
	return results, m, nil
}

func sourceOf(c *candidate) string {
	switch {
	case c.distance != nil && c.rank != nil:
		return SourceBoth
	case c.distance != nil:
		return SourceVector
	default:
		return SourceLexical
	}
}

func rankOrZero(c *candidate) float64 {
	if c.rank == nil {
		return 0
	}
	return *c.rank
}

func negDistance(c *candidate) float64 {
	if c.distance == nil {
		return math.Inf(-1)
	}
	return -*c.distance
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
