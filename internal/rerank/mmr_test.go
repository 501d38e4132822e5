package rerank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMMRFirstPickIsHighestScore(t *testing.T) {
	picks := MMR([]MMRCandidate{
		{ChunkID: "a", Score: 0.3},
		{ChunkID: "b", Score: 0.9},
		{ChunkID: "c", Score: 0.5},
	}, 0.7, 3)

	require.Len(t, picks, 3)
	assert.Equal(t, "b", picks[0].ChunkID)
	assert.Equal(t, 0.9, picks[0].MMRScore)
}

func TestMMRPenalizesRedundancy(t *testing.T) {
	// "dup" is nearly identical to the top pick; "other" is orthogonal with
	// a slightly lower relevance. MMR at lambda=0.5 should prefer "other".
	picks := MMR([]MMRCandidate{
		{ChunkID: "top", Score: 1.0, Embedding: []float32{1, 0}},
		{ChunkID: "dup", Score: 0.95, Embedding: []float32{1, 0}},
		{ChunkID: "other", Score: 0.8, Embedding: []float32{0, 1}},
	}, 0.5, 2)

	require.Len(t, picks, 2)
	assert.Equal(t, "top", picks[0].ChunkID)
	assert.Equal(t, "other", picks[1].ChunkID)
}

func TestMMRNoEmbeddingsIsRelevanceOrder(t *testing.T) {
	picks := MMR([]MMRCandidate{
		{ChunkID: "a", Score: 0.2},
		{ChunkID: "b", Score: 0.8},
		{ChunkID: "c", Score: 0.5},
	}, 0.7, 3)

	require.Len(t, picks, 3)
	assert.Equal(t, []string{"b", "c", "a"},
		[]string{picks[0].ChunkID, picks[1].ChunkID, picks[2].ChunkID})
}

func TestMMRTopKZero(t *testing.T) {
	assert.Nil(t, MMR([]MMRCandidate{{ChunkID: "a", Score: 1}}, 0.5, 0))
}

func TestMMRLambdaClamped(t *testing.T) {
	picks := MMR([]MMRCandidate{
		{ChunkID: "a", Score: 0.9},
		{ChunkID: "b", Score: 0.1},
	}, 7, 2)
	require.Len(t, picks, 2)
	// lambda clamps to 1: pure relevance, no similarity penalty.
	assert.Equal(t, 0.1, picks[1].MMRScore)
}

func TestCosineSim(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSim([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSim([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSim(nil, []float32{1}))
	assert.Equal(t, 0.0, cosineSim([]float32{1}, []float32{1, 2}))
}
