// Package search implements scoped retrieval over Postgres: dense vector
// search, full-text lexical search, and the weighted hybrid merge.
package search

import (
	"context"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
)

// Hydrated carries the text and metadata attached to results after the merge.
type Hydrated struct {
	Text     string
	Metadata db.JSONB
}

// Backend is one searchable scope. Implementations translate scope identity
// into SQL; the hybrid engine is scope-agnostic.
type Backend interface {
	VectorSearch(ctx context.Context, vec db.Vector, topK int) ([]db.VectorHit, error)
	LexicalSearch(ctx context.Context, query string, topK int) ([]db.LexicalHit, error)
	Hydrate(ctx context.Context, chunkIDs []string) (map[string]Hydrated, error)
	// Embeddings returns the stored vectors for the given chunks; ids with
	// no stored vector are absent from the map. MMR needs these.
	Embeddings(ctx context.Context, chunkIDs []string) (map[string]db.Vector, error)
	SourceType() string
}

// Distance metric names accepted in configuration.
const (
	MetricCosine       = "cosine"
	MetricL2           = "l2"
	MetricInnerProduct = "inner_product"
	MetricL1           = "l1"
)

// OperatorFor maps a metric name to its pgvector operator. Empty defaults to
// cosine.
func OperatorFor(metric string) (string, error) {
	switch metric {
	case "", MetricCosine:
		return "<=>", nil
	case MetricL2:
		return "<->", nil
	case MetricInnerProduct:
		return "<#>", nil
	case MetricL1:
		return "<+>", nil
	default:
		return "", fault.New(fault.KindInvalidArgument, "unknown distance metric %q", metric)
	}
}

// UnifiedBackend searches one (source_type, source_id) scope in
// unified_chunks.
type UnifiedBackend struct {
	Client     *db.Client
	SourceKind string
	SourceID   string
	Operator   string
}

func NewUnifiedBackend(client *db.Client, sourceType, sourceID, metric string) (*UnifiedBackend, error) {
	op, err := OperatorFor(metric)
	if err != nil {
		return nil, err
	}
	return &UnifiedBackend{Client: client, SourceKind: sourceType, SourceID: sourceID, Operator: op}, nil
}

func (b *UnifiedBackend) SourceType() string { return b.SourceKind }

func (b *UnifiedBackend) VectorSearch(ctx context.Context, vec db.Vector, topK int) ([]db.VectorHit, error) {
	return b.Client.VectorSearchUnified(ctx, b.SourceKind, b.SourceID, vec, topK, b.Operator)
}

func (b *UnifiedBackend) LexicalSearch(ctx context.Context, query string, topK int) ([]db.LexicalHit, error) {
	return b.Client.LexicalSearchUnified(ctx, b.SourceKind, b.SourceID, query, topK)
}

func (b *UnifiedBackend) Hydrate(ctx context.Context, chunkIDs []string) (map[string]Hydrated, error) {
	chunks, err := b.Client.FetchUnifiedChunks(ctx, b.SourceKind, b.SourceID, chunkIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Hydrated, len(chunks))
	for _, ch := range chunks {
		out[ch.ChunkID] = Hydrated{Text: ch.ChunkText, Metadata: ch.ChunkMetadata}
	}
	return out, nil
}

func (b *UnifiedBackend) Embeddings(ctx context.Context, chunkIDs []string) (map[string]db.Vector, error) {
	return b.Client.FetchUnifiedEmbeddings(ctx, b.SourceKind, b.SourceID, chunkIDs)
}

// PDFBackend searches one document's chunks under one embedding model.
type PDFBackend struct {
	Client   *db.Client
	PDFID    uuid.UUID
	Model    string
	Operator string
}

func NewPDFBackend(client *db.Client, pdfID uuid.UUID, model, metric string) (*PDFBackend, error) {
	op, err := OperatorFor(metric)
	if err != nil {
		return nil, err
	}
	return &PDFBackend{Client: client, PDFID: pdfID, Model: model, Operator: op}, nil
}

func (b *PDFBackend) SourceType() string { return "pdf" }

func (b *PDFBackend) VectorSearch(ctx context.Context, vec db.Vector, topK int) ([]db.VectorHit, error) {
	return b.Client.VectorSearchPDF(ctx, b.PDFID, b.Model, vec, topK, b.Operator)
}

func (b *PDFBackend) LexicalSearch(ctx context.Context, query string, topK int) ([]db.LexicalHit, error) {
	return b.Client.LexicalSearchPDF(ctx, b.PDFID, query, topK)
}

func (b *PDFBackend) Embeddings(ctx context.Context, chunkIDs []string) (map[string]db.Vector, error) {
	return b.Client.FetchPDFEmbeddings(ctx, b.PDFID, b.Model, chunkIDs)
}

func (b *PDFBackend) Hydrate(ctx context.Context, chunkIDs []string) (map[string]Hydrated, error) {
	chunks, err := b.Client.FetchPDFChunks(ctx, b.PDFID, chunkIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Hydrated, len(chunks))
	for _, ch := range chunks {
		out[ch.ChunkID] = Hydrated{
			Text: ch.Text,
			Metadata: db.JSONB{
				"pdf_id":       b.PDFID.String(),
				"chunk_index":  ch.ChunkIndex,
				"page_start":   ch.PageStart,
				"page_end":     ch.PageEnd,
				"section_path": ch.SectionPath,
				"is_table":     ch.IsTable,
				"is_figure":    ch.IsFigure,
			},
		}
	}
	return out, nil
}
