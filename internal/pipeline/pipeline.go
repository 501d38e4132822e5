package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/rerank"
	"github.com/inkwell-ai/inkwell/internal/search"
)

// QueryEmbedder turns query text into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text, model string) ([]float32, error)
}

// RerankPass refines candidate order; the rerank package satisfies it.
type RerankPass interface {
	Rerank(ctx context.Context, query string, candidates []rerank.Candidate, opts rerank.Options) ([]rerank.Reranked, error)
}

// Request is one pipeline search.
type Request struct {
	SourceType string                 `json:"source_type"`
	SourceID   string                 `json:"source_id"`
	Query      string                 `json:"query"`
	Context    string                 `json:"context,omitempty"`
	Overrides  map[string]interface{} `json:"overrides,omitempty"`
}

// Chunk is one final retrieval unit handed to callers.
type Chunk struct {
	ChunkID        string   `json:"chunk_id"`
	Text           string   `json:"text"`
	Score          float64  `json:"score"`
	RetrieverScore float64  `json:"retriever_score"`
	RerankScore    *float64 `json:"rerank_score,omitempty"`
	Rank           int      `json:"rank"`
	Source         string   `json:"source"`
	Boosted        bool     `json:"boosted,omitempty"`
	Metadata       db.JSONB `json:"metadata,omitempty"`
	Citation       db.JSONB `json:"citation,omitempty"`
}

// Response carries the chunks plus retrieval metadata for run snapshots.
type Response struct {
	Status   string   `json:"status"`
	Chunks   []Chunk  `json:"chunks"`
	Metadata db.JSONB `json:"metadata"`
}

// Pipeline runs scoped retrieval under resolved options.
type Pipeline struct {
	embedder QueryEmbedder
	reranker RerankPass
	metric   string
	logger   *zap.Logger

	mu        sync.RWMutex
	defaults  config.PipelineConfig
	overrides map[string]map[string]interface{}
}

// New builds a pipeline. reranker may be nil when no cross-encoder is
// deployed; searches then keep the hybrid order.
func New(embedder QueryEmbedder, reranker RerankPass, cfg config.PipelineConfig, metric string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		embedder:  embedder,
		reranker:  reranker,
		metric:    metric,
		logger:    logger,
		defaults:  cfg,
		overrides: cfg.SourceOverrides,
	}
}

// UpdateTuning swaps the global defaults; wired to the config hot reloader.
func (p *Pipeline) UpdateTuning(cfg config.PipelineConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults = cfg
	p.overrides = cfg.SourceOverrides
	p.logger.Info("Pipeline tuning updated",
		zap.Float64("vector_weight", cfg.VectorWeight),
		zap.Int("rerank_top_k", cfg.RerankTopK),
	)
}

// Resolve computes effective options: globals, then the source type's
// configured overrides, then the request's.
func (p *Pipeline) Resolve(sourceType string, requestOverrides map[string]interface{}) Options {
	p.mu.RLock()
	opts := FromConfig(p.defaults)
	perSource := p.overrides[sourceType]
	p.mu.RUnlock()

	if perSource != nil {
		opts = opts.Apply(perSource)
	}
	if requestOverrides != nil {
		opts = opts.Apply(requestOverrides)
	}
	return opts
}

// EnsureIndexReady reports the scope's status, kicking off ingestion when
// the scope has never been indexed.
func (p *Pipeline) EnsureIndexReady(ctx context.Context, sourceType, sourceID string) (*db.IngestionStatus, error) {
	adapter, err := AdapterFor(sourceType)
	if err != nil {
		return nil, err
	}
	st, err := adapter.IndexStatus(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if st.State == db.IndexStatusNotIndexed {
		return adapter.Ingest(ctx, sourceID)
	}
	return st, nil
}

// Search runs the full retrieval pass for one scope.
func (p *Pipeline) Search(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fault.Invalid("query must not be empty")
	}
	adapter, err := AdapterFor(req.SourceType)
	if err != nil {
		return nil, err
	}

	status, err := p.EnsureIndexReady(ctx, req.SourceType, req.SourceID)
	if err != nil {
		return nil, err
	}
	if status.State != db.IndexStatusReady {
		return &Response{
			Status: status.State,
			Metadata: db.JSONB{
				"source_type": req.SourceType,
				"source_id":   req.SourceID,
				"message":     status.Message,
			},
		}, nil
	}

	opts := p.Resolve(req.SourceType, req.Overrides)

	backend, err := adapter.Backend(ctx, req.SourceID, p.metric)
	if err != nil {
		return nil, err
	}

	var queryVec db.Vector
	if opts.VectorTopK > 0 {
		vec, err := p.embedder.EmbedQuery(ctx, req.Query, "")
		if err != nil {
			return nil, err
		}
		queryVec = db.Vector(vec)
	}

	engine := search.NewEngine(backend, p.logger)
	results, qm, err := engine.Query(ctx, search.Request{
		Embedding:    queryVec,
		Text:         req.Query,
		VectorTopK:   opts.VectorTopK,
		LexicalTopK:  opts.LexicalTopK,
		MaxResults:   opts.MaxResults,
		VectorWeight: opts.VectorWeight,
	})
	if err != nil {
		return nil, err
	}

	candidates, boosted := p.applyContextBoost(results, req.Context, opts.ContextBoost)

	meta := db.JSONB{
		"source_type":        req.SourceType,
		"source_id":          req.SourceID,
		"options":            opts,
		"vector_candidates":  qm.VectorCandidates,
		"lexical_candidates": qm.LexicalCandidates,
		"overlap_count":      qm.OverlapCount,
		"final_count":        qm.FinalCount,
		"boosted_count":      boosted,
	}

	chunks, rerankMeta := p.finalize(ctx, req.Query, candidates, opts, adapter, backend)
	for k, v := range rerankMeta {
		meta[k] = v
	}

	return &Response{Status: db.IndexStatusReady, Chunks: chunks, Metadata: meta}, nil
}

type boostedCandidate struct {
	result         search.Result
	retrieverScore float64
	boosted        bool
}

// applyContextBoost multiplies retriever scores for chunks whose leading
// terms appear in the conversational context. The boost influences ordering
// into (and fallback out of) the reranker; stored scores are untouched.
func (p *Pipeline) applyContextBoost(results []search.Result, contextText string, factor float64) ([]boostedCandidate, int) {
	out := make([]boostedCandidate, len(results))
	lowered := strings.ToLower(contextText)
	var count int
	for i, r := range results {
		bc := boostedCandidate{result: r, retrieverScore: r.Score}
		if factor > 1 && lowered != "" {
			terms := strings.Fields(strings.ToLower(r.Text))
			if len(terms) > 10 {
				terms = terms[:10]
			}
			for _, term := range terms {
				if strings.Contains(lowered, term) {
					bc.retrieverScore *= factor
					bc.boosted = true
					count++
					break
				}
			}
		}
		out[i] = bc
	}
	if count > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].retrieverScore > out[j].retrieverScore
		})
	}
	return out, count
}

// finalize reranks when configured, falling back to the retriever order if
// the cross-encoder is missing.
func (p *Pipeline) finalize(ctx context.Context, query string, candidates []boostedCandidate, opts Options, adapter Adapter, backend search.Backend) ([]Chunk, db.JSONB) {
	meta := db.JSONB{"reranked": false}

	if p.reranker != nil && opts.RerankTopK > 0 && len(candidates) > 0 {
		in := make([]rerank.Candidate, len(candidates))
		for i, c := range candidates {
			in[i] = rerank.Candidate{
				ChunkID:        c.result.ChunkID,
				Text:           c.result.Text,
				RetrieverScore: c.retrieverScore,
				Metadata:       c.result.Metadata,
			}
		}
		// MMR measures redundancy on stored vectors; without them it
		// degenerates to score order.
		if opts.ApplyMMR {
			ids := make([]string, len(candidates))
			for i, c := range candidates {
				ids[i] = c.result.ChunkID
			}
			vectors, err := backend.Embeddings(ctx, ids)
			if err != nil {
				p.logger.Warn("Embedding hydration for MMR failed, diversification degraded", zap.Error(err))
				meta["mmr_degraded"] = err.Error()
			}
			for i := range in {
				in[i].Embedding = vectors[in[i].ChunkID]
			}
		}
		reranked, err := p.reranker.Rerank(ctx, query, in, rerank.Options{
			TopK:     opts.RerankTopK,
			ApplyMMR: opts.ApplyMMR,
			Lambda:   opts.MMRLambda,
		})
		if err == nil {
			meta["reranked"] = true
			byID := make(map[string]boostedCandidate, len(candidates))
			for _, c := range candidates {
				byID[c.result.ChunkID] = c
			}
			out := make([]Chunk, len(reranked))
			for i, rr := range reranked {
				src := byID[rr.ChunkID]
				score := rr.RerankScore
				out[i] = Chunk{
					ChunkID:        rr.ChunkID,
					Text:           rr.Text,
					Score:          rr.CombinedScore,
					RetrieverScore: rr.RetrieverScore,
					RerankScore:    &score,
					Rank:           rr.Rank,
					Source:         src.result.Source,
					Boosted:        src.boosted,
					Metadata:       rr.Metadata,
					Citation:       adapter.FormatCitation(rr.Metadata),
				}
			}
			return out, meta
		}
		if fault.KindOf(err) != fault.KindDependencyMissing {
			p.logger.Warn("Rerank failed, keeping retriever order", zap.Error(err))
		} else {
			p.logger.Debug("Cross-encoder unavailable, keeping retriever order")
		}
		meta["rerank_fallback"] = err.Error()
	}

	limit := len(candidates)
	if opts.RerankTopK > 0 && limit > opts.RerankTopK {
		limit = opts.RerankTopK
	}
	out := make([]Chunk, 0, limit)
	for i, c := range candidates[:limit] {
		out = append(out, Chunk{
			ChunkID:        c.result.ChunkID,
			Text:           c.result.Text,
			Score:          c.result.Score,
			RetrieverScore: c.retrieverScore,
			Rank:           i,
			Source:         c.result.Source,
			Boosted:        c.boosted,
			Metadata:       c.result.Metadata,
			Citation:       adapter.FormatCitation(c.result.Metadata),
		})
	}
	return out, meta
}
