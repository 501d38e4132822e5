package rerank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

type fixedScorer struct {
	scores []float64
	err    error
}

func (f fixedScorer) Score(context.Context, string, []string) ([]float64, error) {
	return f.scores, f.err
}

func TestRerankOrdersByScore(t *testing.T) {
	r := New(fixedScorer{scores: []float64{0.2, 0.9, 0.5}}, nil)

	out, err := r.Rerank(context.Background(), "q", []Candidate{
		{ChunkID: "a", Text: "ta", RetrieverScore: 0.8},
		{ChunkID: "b", Text: "tb", RetrieverScore: 0.1},
		{ChunkID: "c", Text: "tc", RetrieverScore: 0.5},
	}, Options{TopK: 2})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, 0, out[0].Rank)
	assert.Equal(t, 0.9, out[0].RerankScore)
	assert.Equal(t, 0.9, out[0].CombinedScore)
	// Pre-rerank score survives the pass.
	assert.Equal(t, 0.1, out[0].RetrieverScore)

	assert.Equal(t, "c", out[1].ChunkID)
	assert.Equal(t, 1, out[1].Rank)
}

func TestRerankWithMMRUsesMarginalScore(t *testing.T) {
	r := New(fixedScorer{scores: []float64{1.0, 0.95, 0.8}}, nil)

	out, err := r.Rerank(context.Background(), "q", []Candidate{
		{ChunkID: "top", Text: "t", Embedding: []float32{1, 0}},
		{ChunkID: "dup", Text: "t", Embedding: []float32{1, 0}},
		{ChunkID: "other", Text: "t", Embedding: []float32{0, 1}},
	}, Options{TopK: 2, ApplyMMR: true, Lambda: 0.5})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "top", out[0].ChunkID)
	assert.Equal(t, "other", out[1].ChunkID)
	assert.Equal(t, 0.8, out[1].RerankScore)
	assert.NotEqual(t, out[1].RerankScore, out[1].CombinedScore)
}

func TestRerankScoreCountMismatch(t *testing.T) {
	r := New(fixedScorer{scores: []float64{0.5}}, nil)

	_, err := r.Rerank(context.Background(), "q", []Candidate{
		{ChunkID: "a", Text: "t"}, {ChunkID: "b", Text: "t"},
	}, Options{TopK: 2})
	require.Error(t, err)
	assert.Equal(t, fault.KindProviderProtocol, fault.KindOf(err))
}

func TestRerankWithoutScorer(t *testing.T) {
	r := New(nil, nil)

	_, err := r.Rerank(context.Background(), "q",
		[]Candidate{{ChunkID: "a", Text: "t"}}, Options{TopK: 1})
	require.Error(t, err)
	assert.Equal(t, fault.KindDependencyMissing, fault.KindOf(err))
}

func TestHTTPScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"scores":[0.7,0.3]}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, "test-model", time.Second)
	scores, err := s.Score(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.3}, scores)
}

func TestHTTPScorerUnreachable(t *testing.T) {
	s := NewHTTPScorer("http://127.0.0.1:1", "m", 200*time.Millisecond)
	_, err := s.Score(context.Background(), "q", []string{"a"})
	require.Error(t, err)
	assert.Equal(t, fault.KindDependencyMissing, fault.KindOf(err))
}
