package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/rerank"
)

var _ rerank.Scorer = retrieverScorer{}

func parseCandidates(t *testing.T, raw string) candidatesFile {
	t.Helper()
	var file candidatesFile
	require.NoError(t, json.Unmarshal([]byte(raw), &file))
	return file
}

func TestFallbackScorerKeepsRetrieverOrder(t *testing.T) {
	file := parseCandidates(t, `{
		"query": "what is melanoma",
		"candidates": [
			{"chunk_id": "c1", "text": "weak match", "retriever_score": 0.2},
			{"chunk_id": "c2", "text": "strong match", "retriever_score": 0.9},
			{"chunk_id": "c3", "text": "middling match", "retriever_score": 0.5}
		]
	}`)

	cands, scorer := buildCandidates(file)
	require.Len(t, cands, 3)

	reranked, err := rerank.New(scorer, zap.NewNop()).Rerank(context.Background(), file.Query, cands, rerank.Options{TopK: 3})
	require.NoError(t, err)
	require.Len(t, reranked, 3)
	assert.Equal(t, "c2", reranked[0].ChunkID)
	assert.Equal(t, "c3", reranked[1].ChunkID)
	assert.Equal(t, "c1", reranked[2].ChunkID)
	assert.Equal(t, 0.9, reranked[0].RerankScore)
}

func TestFallbackScorerRejectsMismatchedTexts(t *testing.T) {
	scorer := retrieverScorer{scores: []float64{0.1, 0.2}}

	_, err := scorer.Score(context.Background(), "q", []string{"only one"})
	require.Error(t, err)
}

func TestFallbackScorerAppliesMMROnEmbeddings(t *testing.T) {
	file := parseCandidates(t, `{
		"query": "q",
		"candidates": [
			{"chunk_id": "a", "text": "a", "retriever_score": 1.0, "embedding": [1, 0]},
			{"chunk_id": "dup", "text": "a again", "retriever_score": 0.9, "embedding": [1, 0]},
			{"chunk_id": "b", "text": "b", "retriever_score": 0.8, "embedding": [0, 1]}
		]
	}`)

	cands, scorer := buildCandidates(file)
	reranked, err := rerank.New(scorer, zap.NewNop()).Rerank(context.Background(), file.Query, cands, rerank.Options{
		TopK:     2,
		ApplyMMR: true,
		Lambda:   0.5,
	})
	require.NoError(t, err)
	require.Len(t, reranked, 2)
	assert.Equal(t, "a", reranked[0].ChunkID)
	// The near-duplicate loses to the diverse candidate.
	assert.Equal(t, "b", reranked[1].ChunkID)
}
