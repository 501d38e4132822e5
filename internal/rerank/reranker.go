package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/metrics"
	"github.com/inkwell-ai/inkwell/internal/tracing"
)

// Candidate is one passage entering the reranker. RetrieverScore is the
// pre-rerank hybrid score, preserved through the pass for debugging.
type Candidate struct {
	ChunkID        string    `json:"chunk_id"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"-"`
	RetrieverScore float64   `json:"retriever_score"`
	Metadata       db.JSONB  `json:"metadata,omitempty"`
}

// Reranked is one output item. CombinedScore equals RerankScore when MMR is
// off, otherwise the MMR marginal value.
type Reranked struct {
	Candidate
	RerankScore   float64 `json:"rerank_score"`
	CombinedScore float64 `json:"combined_score"`
	Rank          int     `json:"rank"`
}

// Scorer produces one cross-encoder score per (query, text) pair.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Options controls one rerank pass.
type Options struct {
	TopK     int
	ApplyMMR bool
	Lambda   float64
}

// Reranker orders candidates by joint (query, passage) relevance.
type Reranker struct {
	scorer Scorer
	logger *zap.Logger
}

func New(scorer Scorer, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{scorer: scorer, logger: logger}
}

// Rerank scores all candidates against the query and returns the topK in
// refined order. With MMR enabled the final order trades relevance against
// redundancy; without it the order is pure cross-encoder score.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate, opts Options) ([]Reranked, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if opts.TopK <= 0 {
		return nil, nil
	}
	if r.scorer == nil {
		return nil, fault.New(fault.KindDependencyMissing, "no cross-encoder configured")
	}

	start := time.Now()
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil {
		metrics.RerankRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(scores) != len(candidates) {
		metrics.RerankRequests.WithLabelValues("error").Inc()
		return nil, fault.New(fault.KindProviderProtocol,
			"reranker returned %d scores for %d candidates", len(scores), len(candidates))
	}

	var out []Reranked
	if opts.ApplyMMR {
		mmrIn := make([]MMRCandidate, len(candidates))
		for i, c := range candidates {
			mmrIn[i] = MMRCandidate{ChunkID: c.ChunkID, Score: scores[i], Embedding: c.Embedding}
		}
		byID := make(map[string]int, len(candidates))
		for i, c := range candidates {
			byID[c.ChunkID] = i
		}
		for _, pick := range MMR(mmrIn, opts.Lambda, opts.TopK) {
			i := byID[pick.ChunkID]
			out = append(out, Reranked{
				Candidate:     candidates[i],
				RerankScore:   scores[i],
				CombinedScore: pick.MMRScore,
			})
		}
	} else {
		idx := make([]int, len(candidates))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
		if len(idx) > opts.TopK {
			idx = idx[:opts.TopK]
		}
		for _, i := range idx {
			out = append(out, Reranked{
				Candidate:     candidates[i],
				RerankScore:   scores[i],
				CombinedScore: scores[i],
			})
		}
	}
	for i := range out {
		out[i].Rank = i
	}

	metrics.RerankRequests.WithLabelValues("ok").Inc()
	metrics.RerankLatency.Observe(time.Since(start).Seconds())
	r.logger.Debug("Reranked candidates",
		zap.Int("in", len(candidates)),
		zap.Int("out", len(out)),
		zap.Bool("mmr", opts.ApplyMMR),
	)
	return out, nil
}

// HTTPScorer calls the cross-encoder sidecar.
type HTTPScorer struct {
	baseURL string
	model   string
	http    *http.Client
}

func NewHTTPScorer(baseURL, model string, timeout time.Duration) *HTTPScorer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScorer{baseURL: baseURL, model: model, http: &http.Client{Timeout: timeout}}
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	url := fmt.Sprintf("%s/rerank", s.baseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	buf, _ := json.Marshal(scoreRequest{Query: query, Documents: texts, Model: s.model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependencyMissing, err, "cross-encoder unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := fault.KindProviderProtocol
		if resp.StatusCode >= 500 {
			kind = fault.KindTransient
		}
		return nil, fault.New(kind, "cross-encoder returned %d: %s", resp.StatusCode, string(body))
	}
	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fault.Wrap(fault.KindProviderProtocol, err, "malformed rerank response")
	}
	return sr.Scores, nil
}
