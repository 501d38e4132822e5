// Package embeddings owns vector generation: the model registry, the
// provider client, the two-tier cache, and the versioned write paths into
// Postgres.
package embeddings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/metrics"
)

// Config controls the embedding service behavior.
type Config struct {
	DefaultModel string
	CacheTTL     time.Duration
	MaxLRU       int
}

// pdfStore is the slice of db.Client the PDF embedding path needs.
type pdfStore interface {
	ListPDFChunks(ctx context.Context, pdfID uuid.UUID) ([]db.PDFChunk, error)
	PDFEmbeddingSetInfo(ctx context.Context, pdfID uuid.UUID, modelName string) (*db.EmbeddingSetInfo, error)
	ReplacePDFEmbeddingSet(ctx context.Context, pdfID uuid.UUID, modelName, modelVersion string, dimensions int, vectors map[string]db.Vector) error
}

// chunkStore is the slice of db.Client the unified embedding path needs.
type chunkStore interface {
	UnifiedChunksForEmbedding(ctx context.Context, sourceType, sourceID string, force bool) ([]db.UnifiedChunk, error)
	UpdateUnifiedEmbedding(ctx context.Context, sourceType, sourceID, chunkID string, vec db.Vector) error
	CountUnifiedChunks(ctx context.Context, sourceType, sourceID string) (total, embedded int, err error)
}

// Service generates and persists embeddings with version bookkeeping.
type Service struct {
	cfg      Config
	provider Provider
	registry *Registry
	pdfs     pdfStore
	chunks   chunkStore
	cache    tieredCache
	logger   *zap.Logger
}

// Global singleton for simple wiring
var globalSvc *Service

// Initialize wires the process-wide service.
func Initialize(cfg Config, provider Provider, registry *Registry, client *db.Client, shared Cache, logger *zap.Logger) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "text-embedding-3-small"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	globalSvc = NewService(cfg, provider, registry, client, client, shared, logger)
}

// Get returns the process-wide service, or nil before Initialize.
func Get() *Service { return globalSvc }

// NewService builds a service with explicit stores; tests use this directly.
func NewService(cfg Config, provider Provider, registry *Registry, pdfs pdfStore, chunks chunkStore, shared Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		provider: provider,
		registry: registry,
		pdfs:     pdfs,
		chunks:   chunks,
		cache:    tieredCache{lru: NewLocalLRU(cfg.MaxLRU), shared: shared, ttl: cfg.CacheTTL},
		logger:   logger,
	}
}

// Registry exposes the model registry for validation at the API surface.
func (s *Service) Registry() *Registry { return s.registry }

// DefaultModel returns the configured default model name.
func (s *Service) DefaultModel() string { return s.cfg.DefaultModel }

// EmbedQuery returns the vector for a single query text, cache first.
func (s *Service) EmbedQuery(ctx context.Context, text, model string) ([]float32, error) {
	if model == "" {
		model = s.cfg.DefaultModel
	}
	spec, err := s.registry.Lookup(model)
	if err != nil {
		return nil, err
	}

	key := MakeKey(spec.Name, spec.DefaultVersion, text)
	if v, ok := s.cache.get(ctx, key); ok {
		return v, nil
	}

	vecs, err := s.embedBatch(ctx, []string{text}, spec)
	if err != nil {
		return nil, err
	}
	s.cache.set(ctx, key, vecs[0])
	return vecs[0], nil
}

// embedBatch calls the provider and enforces the registered dimensions.
func (s *Service) embedBatch(ctx context.Context, texts []string, spec ModelSpec) ([][]float32, error) {
	vecs, err := s.provider.Embed(ctx, texts, spec.Name)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		if len(v) != spec.Dimensions {
			return nil, fault.New(fault.KindProviderProtocol,
				"model %s returned %d dimensions at index %d, registry says %d",
				spec.Name, len(v), i, spec.Dimensions)
		}
	}
	return vecs, nil
}

// Report summarizes one embedding pass. Skipped counts chunks left as-is
// because their stored vector was already current.
type Report struct {
	Model      string `json:"model"`
	Version    string `json:"version"`
	Dimensions int    `json:"dimensions"`
	Total      int    `json:"total"`
	Embedded   int    `json:"embedded"`
	Skipped    int    `json:"skipped"`
}

// EmbedPDF builds or rebuilds the embedding set for (pdf, model).
//
// The operation is idempotent: when the stored set is already complete at
// the registry's current version and force is false, nothing is written.
// Otherwise the whole set is regenerated and swapped in one transaction, so
// a set is never observable half at one version and half at another.
func (s *Service) EmbedPDF(ctx context.Context, pdfID uuid.UUID, model string, force bool, batchSize int, progress func(float64)) (*Report, error) {
	if model == "" {
		model = s.cfg.DefaultModel
	}
	spec, err := s.registry.Lookup(model)
	if err != nil {
		return nil, err
	}
	batch, err := s.registry.BatchSize(spec.Name, batchSize)
	if err != nil {
		return nil, err
	}

	chunks, err := s.pdfs.ListPDFChunks(ctx, pdfID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fault.New(fault.KindDependencyMissing, "pdf %s has no chunks to embed", pdfID)
	}

	rep := &Report{Model: spec.Name, Version: spec.DefaultVersion, Dimensions: spec.Dimensions, Total: len(chunks)}

	if !force {
		info, err := s.pdfs.PDFEmbeddingSetInfo(ctx, pdfID, spec.Name)
		if err != nil {
			return nil, err
		}
		complete := info.Count == len(chunks) &&
			len(info.Versions) == 1 && info.Versions[0] == spec.DefaultVersion
		if complete {
			rep.Skipped = len(chunks)
			s.logger.Debug("Embedding set already current",
				zap.String("pdf_id", pdfID.String()),
				zap.String("model", spec.Name),
			)
			return rep, nil
		}
	}

	vectors := make(map[string]db.Vector, len(chunks))
	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		window := chunks[start:end]
		texts := make([]string, len(window))
		for i, ch := range window {
			texts[i] = ch.Text
		}
		vecs, err := s.embedBatch(ctx, texts, spec)
		if err != nil {
			return nil, err
		}
		for i, ch := range window {
			vectors[ch.ChunkID] = db.Vector(vecs[i])
		}
		if progress != nil {
			progress(float64(end) / float64(len(chunks)))
		}
	}

	if err := s.pdfs.ReplacePDFEmbeddingSet(ctx, pdfID, spec.Name, spec.DefaultVersion, spec.Dimensions, vectors); err != nil {
		return nil, err
	}
	rep.Embedded = len(vectors)
	metrics.EmbeddingsWritten.WithLabelValues("pdf", spec.Name).Add(float64(len(vectors)))

	s.logger.Info("Embedded PDF",
		zap.String("pdf_id", pdfID.String()),
		zap.String("model", spec.Name),
		zap.String("version", spec.DefaultVersion),
		zap.Int("chunks", len(vectors)),
	)
	return rep, nil
}

// EmbedUnifiedChunks fills in missing embeddings for a unified scope. With
// force=true every chunk is re-embedded.
func (s *Service) EmbedUnifiedChunks(ctx context.Context, sourceType, sourceID, model string, force bool, batchSize int, progress func(float64)) (*Report, error) {
	if model == "" {
		model = s.cfg.DefaultModel
	}
	spec, err := s.registry.Lookup(model)
	if err != nil {
		return nil, err
	}
	batch, err := s.registry.BatchSize(spec.Name, batchSize)
	if err != nil {
		return nil, err
	}

	chunks, err := s.chunks.UnifiedChunksForEmbedding(ctx, sourceType, sourceID, force)
	if err != nil {
		return nil, err
	}
	rep := &Report{Model: spec.Name, Version: spec.DefaultVersion, Dimensions: spec.Dimensions, Total: len(chunks)}
	if !force {
		// Without force only unembedded chunks are listed; the rest of the
		// scope counts as skipped.
		if total, _, err := s.chunks.CountUnifiedChunks(ctx, sourceType, sourceID); err == nil {
			rep.Total = total
			rep.Skipped = total - len(chunks)
		}
	}
	if len(chunks) == 0 {
		return rep, nil
	}

	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		window := chunks[start:end]
		texts := make([]string, len(window))
		for i, ch := range window {
			texts[i] = ch.ChunkText
		}
		vecs, err := s.embedBatch(ctx, texts, spec)
		if err != nil {
			return rep, err
		}
		for i, ch := range window {
			if err := s.chunks.UpdateUnifiedEmbedding(ctx, sourceType, sourceID, ch.ChunkID, db.Vector(vecs[i])); err != nil {
				return rep, err
			}
			rep.Embedded++
		}
		if progress != nil {
			progress(float64(end) / float64(len(chunks)))
		}
	}
	metrics.EmbeddingsWritten.WithLabelValues(sourceType, spec.Name).Add(float64(rep.Embedded))

	s.logger.Info("Embedded unified chunks",
		zap.String("source_type", sourceType),
		zap.String("source_id", sourceID),
		zap.String("model", spec.Name),
		zap.Int("embedded", rep.Embedded),
	)
	return rep, nil
}
