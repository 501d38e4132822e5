package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/rerank"
	"github.com/inkwell-ai/inkwell/internal/search"
)

type stubBackend struct {
	lexical    []db.LexicalHit
	texts      map[string]string
	embeddings map[string]db.Vector
	embedErr   error
}

func (s *stubBackend) VectorSearch(context.Context, db.Vector, int) ([]db.VectorHit, error) {
	return nil, nil
}

func (s *stubBackend) LexicalSearch(context.Context, string, int) ([]db.LexicalHit, error) {
	return s.lexical, nil
}

func (s *stubBackend) Hydrate(_ context.Context, ids []string) (map[string]search.Hydrated, error) {
	out := map[string]search.Hydrated{}
	for _, id := range ids {
		out[id] = search.Hydrated{Text: s.texts[id]}
	}
	return out, nil
}

func (s *stubBackend) Embeddings(_ context.Context, ids []string) (map[string]db.Vector, error) {
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	out := make(map[string]db.Vector, len(ids))
	for _, id := range ids {
		if v, ok := s.embeddings[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (s *stubBackend) SourceType() string { return "stub" }

type stubAdapter struct {
	sourceType string
	status     *db.IngestionStatus
	backend    search.Backend
	ingested   int
}

func (a *stubAdapter) SourceType() string { return a.sourceType }

func (a *stubAdapter) Ingest(context.Context, string) (*db.IngestionStatus, error) {
	a.ingested++
	return &db.IngestionStatus{State: db.IndexStatusIndexing, Message: db.JSONB{}}, nil
}

func (a *stubAdapter) IndexStatus(context.Context, string) (*db.IngestionStatus, error) {
	return a.status, nil
}

func (a *stubAdapter) Backend(context.Context, string, string) (search.Backend, error) {
	return a.backend, nil
}

func (a *stubAdapter) FormatCitation(meta db.JSONB) db.JSONB {
	return db.JSONB{"type": "stub"}
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(context.Context, string, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type stubReranker struct {
	err   error
	calls int
	got   []rerank.Candidate
}

func (s *stubReranker) Rerank(_ context.Context, _ string, cands []rerank.Candidate, opts rerank.Options) ([]rerank.Reranked, error) {
	s.calls++
	s.got = cands
	if s.err != nil {
		return nil, s.err
	}
	out := make([]rerank.Reranked, 0, opts.TopK)
	for i, c := range cands {
		if i == opts.TopK {
			break
		}
		out = append(out, rerank.Reranked{Candidate: c, RerankScore: 0.5, CombinedScore: 0.5, Rank: i})
	}
	return out, nil
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		VectorTopK:   10,
		LexicalTopK:  10,
		MaxResults:   10,
		VectorWeight: 0.6,
		RerankTopK:   5,
		ApplyMMR:     false,
		MMRLambda:    0.7,
		ContextBoost: 1.0,
		SourceOverrides: map[string]map[string]interface{}{
			"stub": {"lexical_top_k": 3},
		},
	}
}

func TestResolveOrder(t *testing.T) {
	p := New(stubEmbedder{}, nil, testConfig(), search.MetricCosine, nil)

	// Globals alone.
	opts := p.Resolve("other", nil)
	assert.Equal(t, 10, opts.LexicalTopK)

	// Per-source override wins over global.
	opts = p.Resolve("stub", nil)
	assert.Equal(t, 3, opts.LexicalTopK)

	// Request override wins over both.
	opts = p.Resolve("stub", map[string]interface{}{"lexical_top_k": float64(7), "apply_mmr": true})
	assert.Equal(t, 7, opts.LexicalTopK)
	assert.True(t, opts.ApplyMMR)
}

func TestSearchUnknownSourceType(t *testing.T) {
	resetAdapters()
	p := New(stubEmbedder{}, nil, testConfig(), search.MetricCosine, nil)

	_, err := p.Search(context.Background(), Request{SourceType: "nope", SourceID: "x", Query: "q"})
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))
}

func TestSearchEmptyQuery(t *testing.T) {
	p := New(stubEmbedder{}, nil, testConfig(), search.MetricCosine, nil)

	_, err := p.Search(context.Background(), Request{SourceType: "stub", SourceID: "x", Query: "  "})
	require.Error(t, err)
	assert.Equal(t, fault.KindInvalidArgument, fault.KindOf(err))
}

func TestSearchTriggersIngestWhenNotIndexed(t *testing.T) {
	resetAdapters()
	adapter := &stubAdapter{
		sourceType: "stub",
		status:     &db.IngestionStatus{State: db.IndexStatusNotIndexed, Message: db.JSONB{}},
	}
	RegisterAdapter(adapter)

	p := New(stubEmbedder{}, nil, testConfig(), search.MetricCosine, nil)
	resp, err := p.Search(context.Background(), Request{SourceType: "stub", SourceID: "s", Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.ingested)
	assert.Equal(t, db.IndexStatusIndexing, resp.Status)
	assert.Empty(t, resp.Chunks)
}

func TestSearchSkipsWhenIndexing(t *testing.T) {
	resetAdapters()
	adapter := &stubAdapter{
		sourceType: "stub",
		status:     &db.IngestionStatus{State: db.IndexStatusIndexing, Message: db.JSONB{}},
	}
	RegisterAdapter(adapter)

	p := New(stubEmbedder{}, nil, testConfig(), search.MetricCosine, nil)
	resp, err := p.Search(context.Background(), Request{SourceType: "stub", SourceID: "s", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 0, adapter.ingested)
	assert.Equal(t, db.IndexStatusIndexing, resp.Status)
}

func readyAdapter(backend search.Backend) *stubAdapter {
	return &stubAdapter{
		sourceType: "stub",
		status:     &db.IngestionStatus{State: db.IndexStatusReady, Message: db.JSONB{}},
		backend:    backend,
	}
}

func TestSearchReranks(t *testing.T) {
	resetAdapters()
	backend := &stubBackend{
		lexical: []db.LexicalHit{{ChunkID: "a", Rank: 0.9}, {ChunkID: "b", Rank: 0.5}},
		texts:   map[string]string{"a": "text a", "b": "text b"},
	}
	RegisterAdapter(readyAdapter(backend))

	rr := &stubReranker{}
	p := New(stubEmbedder{}, rr, testConfig(), search.MetricCosine, nil)

	resp, err := p.Search(context.Background(), Request{SourceType: "stub", SourceID: "s", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 1, rr.calls)
	assert.Equal(t, true, resp.Metadata["reranked"])
	require.Len(t, resp.Chunks, 2)
	assert.NotNil(t, resp.Chunks[0].RerankScore)
	assert.Equal(t, db.JSONB{"type": "stub"}, resp.Chunks[0].Citation)
}

func TestSearchRerankFallback(t *testing.T) {
	resetAdapters()
	backend := &stubBackend{
		lexical: []db.LexicalHit{{ChunkID: "a", Rank: 0.9}, {ChunkID: "b", Rank: 0.5}},
		texts:   map[string]string{"a": "text a", "b": "text b"},
	}
	RegisterAdapter(readyAdapter(backend))

	rr := &stubReranker{err: fault.New(fault.KindDependencyMissing, "no cross-encoder")}
	p := New(stubEmbedder{}, rr, testConfig(), search.MetricCosine, nil)

	resp, err := p.Search(context.Background(), Request{SourceType: "stub", SourceID: "s", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, false, resp.Metadata["reranked"])
	require.Len(t, resp.Chunks, 2)
	// Retriever order preserved.
	assert.Equal(t, "a", resp.Chunks[0].ChunkID)
	assert.Nil(t, resp.Chunks[0].RerankScore)
}

func TestSearchHydratesEmbeddingsForMMR(t *testing.T) {
	resetAdapters()
	backend := &stubBackend{
		lexical: []db.LexicalHit{{ChunkID: "a", Rank: 0.9}, {ChunkID: "b", Rank: 0.5}},
		texts:   map[string]string{"a": "text a", "b": "text b"},
		embeddings: map[string]db.Vector{
			"a": {1, 0},
			"b": {0, 1},
		},
	}
	RegisterAdapter(readyAdapter(backend))

	rr := &stubReranker{}
	p := New(stubEmbedder{}, rr, testConfig(), search.MetricCosine, nil)

	_, err := p.Search(context.Background(), Request{
		SourceType: "stub",
		SourceID:   "s",
		Query:      "q",
		Overrides:  map[string]interface{}{"apply_mmr": true},
	})
	require.NoError(t, err)
	require.Len(t, rr.got, 2)
	for _, c := range rr.got {
		assert.NotEmpty(t, c.Embedding, "candidate %s entered rerank without its stored vector", c.ChunkID)
	}
	assert.Equal(t, []float32{1, 0}, rr.got[0].Embedding)
}

func TestSearchMMRSurfacesEmbeddingFetchFailure(t *testing.T) {
	resetAdapters()
	backend := &stubBackend{
		lexical:  []db.LexicalHit{{ChunkID: "a", Rank: 0.9}},
		texts:    map[string]string{"a": "text a"},
		embedErr: fault.New(fault.KindTransient, "connection reset"),
	}
	RegisterAdapter(readyAdapter(backend))

	rr := &stubReranker{}
	p := New(stubEmbedder{}, rr, testConfig(), search.MetricCosine, nil)

	resp, err := p.Search(context.Background(), Request{
		SourceType: "stub",
		SourceID:   "s",
		Query:      "q",
		Overrides:  map[string]interface{}{"apply_mmr": true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rr.calls)
	assert.Contains(t, resp.Metadata["mmr_degraded"], "connection reset")
}

func TestSearchContextBoostReordersRerankInput(t *testing.T) {
	resetAdapters()
	backend := &stubBackend{
		lexical: []db.LexicalHit{
			{ChunkID: "plain", Rank: 0.9},
			{ChunkID: "boosted", Rank: 0.8},
		},
		texts: map[string]string{
			"plain":   "unrelated words entirely",
			"boosted": "melanoma progression study",
		},
	}
	RegisterAdapter(readyAdapter(backend))

	rr := &stubReranker{}
	p := New(stubEmbedder{}, rr, testConfig(), search.MetricCosine, nil)

	resp, err := p.Search(context.Background(), Request{
		SourceType: "stub",
		SourceID:   "s",
		Query:      "q",
		Context:    "we discussed melanoma earlier",
		Overrides:  map[string]interface{}{"context_boost": 2.0},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.Metadata["boosted_count"])
	// The boosted chunk entered rerank first.
	require.NotEmpty(t, rr.got)
	assert.Equal(t, "boosted", rr.got[0].ChunkID)
	assert.Greater(t, rr.got[0].RetrieverScore, 1.0)
}

func TestHotReloadUpdatesDefaults(t *testing.T) {
	p := New(stubEmbedder{}, nil, testConfig(), search.MetricCosine, nil)

	cfg := testConfig()
	cfg.VectorWeight = 0.2
	p.UpdateTuning(cfg)

	opts := p.Resolve("other", nil)
	assert.Equal(t, 0.2, opts.VectorWeight)
}

func TestPDFAdapterCitation(t *testing.T) {
	a := &PDFAdapter{}
	c := a.FormatCitation(db.JSONB{"page_start": 3, "page_end": 5, "section_path": "Methods"})
	assert.Equal(t, "pp. 3-5", c["label"])
	assert.Equal(t, "Methods", c["section"])

	c = a.FormatCitation(db.JSONB{"page_start": 2, "page_end": 2})
	assert.Equal(t, "p. 2", c["label"])
}

func TestOntologyAdapterCitation(t *testing.T) {
	a := &OntologyAdapter{Kind: "disease"}
	assert.Equal(t, "ontology_disease", a.SourceType())

	c := a.FormatCitation(db.JSONB{"term_id": "MONDO:0005105", "name": "melanoma"})
	assert.Equal(t, "melanoma (MONDO:0005105)", c["label"])
	assert.Equal(t, "ontology_term", c["type"])
}
