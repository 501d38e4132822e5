package embeddings

import (
	"sort"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

// ModelSpec declares one embedding model the service may use. Versions are
// provider-assigned strings; a bump invalidates stored sets on the next
// forced re-embed.
type ModelSpec struct {
	Name             string `mapstructure:"name"`
	DefaultVersion   string `mapstructure:"default_version"`
	Dimensions       int    `mapstructure:"dimensions"`
	MaxBatchSize     int    `mapstructure:"max_batch_size"`
	DefaultBatchSize int    `mapstructure:"default_batch_size"`
}

// Registry maps model names to their specs. Unknown models are rejected up
// front so a typo cannot write vectors of surprise dimensions.
type Registry struct {
	specs map[string]ModelSpec
}

// builtinSpecs covers the models the provider ships out of the box.
var builtinSpecs = []ModelSpec{
	{Name: "text-embedding-3-small", DefaultVersion: "1", Dimensions: 1536, MaxBatchSize: 2048, DefaultBatchSize: 128},
	{Name: "text-embedding-3-large", DefaultVersion: "1", Dimensions: 3072, MaxBatchSize: 2048, DefaultBatchSize: 64},
	{Name: "bge-small-en-v1.5", DefaultVersion: "1.5", Dimensions: 384, MaxBatchSize: 512, DefaultBatchSize: 128},
}

// NewRegistry builds a registry from the built-in specs plus any extras;
// extras override built-ins with the same name.
func NewRegistry(extra []ModelSpec) *Registry {
	specs := make(map[string]ModelSpec, len(builtinSpecs)+len(extra))
	for _, s := range builtinSpecs {
		specs[s.Name] = s
	}
	for _, s := range extra {
		if s.DefaultBatchSize <= 0 {
			s.DefaultBatchSize = 64
		}
		if s.MaxBatchSize <= 0 {
			s.MaxBatchSize = s.DefaultBatchSize
		}
		specs[s.Name] = s
	}
	return &Registry{specs: specs}
}

// Lookup resolves a model name.
func (r *Registry) Lookup(name string) (ModelSpec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return ModelSpec{}, fault.New(fault.KindInvalidArgument, "unknown embedding model %q", name)
	}
	return spec, nil
}

// BatchSize clamps a requested batch size into the model's allowed range,
// falling back to the model default when the request is zero. Negative
// requests are rejected.
func (r *Registry) BatchSize(name string, requested int) (int, error) {
	spec, err := r.Lookup(name)
	if err != nil {
		return 0, err
	}
	if requested < 0 {
		return 0, fault.New(fault.KindInvalidArgument, "non-positive batch size %d", requested)
	}
	if requested == 0 {
		return spec.DefaultBatchSize, nil
	}
	if requested > spec.MaxBatchSize {
		return spec.MaxBatchSize, nil
	}
	return requested, nil
}

// Models lists registered model names in stable order.
func (r *Registry) Models() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
