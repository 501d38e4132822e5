package pipeline

import (
	"github.com/inkwell-ai/inkwell/internal/config"
)

// Options are the effective retrieval knobs for one search, produced by the
// resolution order: global defaults, then per-source overrides, then request
// overrides.
type Options struct {
	VectorTopK   int     `json:"vector_top_k"`
	LexicalTopK  int     `json:"lexical_top_k"`
	MaxResults   int     `json:"max_results"`
	VectorWeight float64 `json:"vector_weight"`
	RerankTopK   int     `json:"rerank_top_k"`
	ApplyMMR     bool    `json:"apply_mmr"`
	MMRLambda    float64 `json:"mmr_lambda"`
	ContextBoost float64 `json:"context_boost"`
}

// FromConfig snapshots the global defaults.
func FromConfig(p config.PipelineConfig) Options {
	return Options{
		VectorTopK:   p.VectorTopK,
		LexicalTopK:  p.LexicalTopK,
		MaxResults:   p.MaxResults,
		VectorWeight: p.VectorWeight,
		RerankTopK:   p.RerankTopK,
		ApplyMMR:     p.ApplyMMR,
		MMRLambda:    p.MMRLambda,
		ContextBoost: p.ContextBoost,
	}
}

// Apply overlays one override map. Unknown keys are ignored; values arrive
// as whatever the decoder produced (YAML ints, JSON float64s), so numeric
// coercion is deliberate.
func (o Options) Apply(overrides map[string]interface{}) Options {
	for key, raw := range overrides {
		switch key {
		case "vector_top_k":
			if v, ok := asInt(raw); ok {
				o.VectorTopK = v
			}
		case "lexical_top_k":
			if v, ok := asInt(raw); ok {
				o.LexicalTopK = v
			}
		case "max_results":
			if v, ok := asInt(raw); ok {
				o.MaxResults = v
			}
		case "vector_weight":
			if v, ok := asFloat(raw); ok {
				o.VectorWeight = v
			}
		case "rerank_top_k":
			if v, ok := asInt(raw); ok {
				o.RerankTopK = v
			}
		case "apply_mmr":
			if v, ok := raw.(bool); ok {
				o.ApplyMMR = v
			}
		case "mmr_lambda":
			if v, ok := asFloat(raw); ok {
				o.MMRLambda = v
			}
		case "context_boost":
			if v, ok := asFloat(raw); ok {
				o.ContextBoost = v
			}
		}
	}
	return o
}

func asInt(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	}
	return 0, false
}

func asFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
