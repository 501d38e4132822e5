// Package rerank refines retrieval order with a cross-encoder and an
// optional maximal-marginal-relevance pass for diversity.
package rerank

import "math"

// MMRCandidate is one item entering diversification. Embedding may be nil;
// candidates without embeddings contribute zero similarity and the pass
// degrades to relevance ordering.
type MMRCandidate struct {
	ChunkID   string
	Score     float64
	Embedding []float32
}

// MMRPick is one selected item with its marginal score.
type MMRPick struct {
	MMRCandidate
	MMRScore float64
}

// MMR greedily selects up to topK candidates maximizing
// lambda*score - (1-lambda)*max_sim(candidate, selected).
//
// The first pick is the highest-relevance candidate and keeps its relevance
// as its MMR score.
func MMR(candidates []MMRCandidate, lambda float64, topK int) []MMRPick {
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	remaining := make([]MMRCandidate, len(candidates))
	copy(remaining, candidates)

	var picks []MMRPick
	for len(picks) < topK && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, c := range remaining {
			var score float64
			if len(picks) == 0 {
				score = c.Score
			} else {
				var maxSim float64
				for _, p := range picks {
					maxSim = math.Max(maxSim, cosineSim(c.Embedding, p.Embedding))
				}
				score = lambda*c.Score - (1-lambda)*maxSim
			}
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		picks = append(picks, MMRPick{MMRCandidate: remaining[bestIdx], MMRScore: bestScore})
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return picks
}

// cosineSim returns 0 for nil, empty, or mismatched vectors.
func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
