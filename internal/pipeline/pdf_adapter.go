package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/search"
)

// Ingestor runs one (re)ingestion for a scope. Workers in the ingest
// package satisfy this; adapters stay decoupled from worker internals.
type Ingestor interface {
	Run(ctx context.Context, sourceID string) (*db.IngestionStatus, error)
}

// PDFAdapter scopes retrieval to one uploaded document under one embedding
// model.
type PDFAdapter struct {
	Client   *db.Client
	Model    string
	Ingestor Ingestor
}

func (a *PDFAdapter) SourceType() string { return "pdf" }

func (a *PDFAdapter) Ingest(ctx context.Context, sourceID string) (*db.IngestionStatus, error) {
	if a.Ingestor == nil {
		return nil, fault.New(fault.KindDependencyMissing, "no pdf ingestor configured")
	}
	return a.Ingestor.Run(ctx, sourceID)
}

func (a *PDFAdapter) IndexStatus(ctx context.Context, sourceID string) (*db.IngestionStatus, error) {
	if _, err := uuid.Parse(sourceID); err != nil {
		return nil, fault.New(fault.KindInvalidArgument, "pdf source id must be a uuid, got %q", sourceID)
	}
	return a.Client.GetIngestionStatus(ctx, "pdf", sourceID)
}

func (a *PDFAdapter) Backend(_ context.Context, sourceID, metric string) (search.Backend, error) {
	pdfID, err := uuid.Parse(sourceID)
	if err != nil {
		return nil, fault.New(fault.KindInvalidArgument, "pdf source id must be a uuid, got %q", sourceID)
	}
	return search.NewPDFBackend(a.Client, pdfID, a.Model, metric)
}

// FormatCitation renders a page-range citation from pdf chunk metadata.
func (a *PDFAdapter) FormatCitation(meta db.JSONB) db.JSONB {
	out := db.JSONB{"type": "pdf"}
	ps, okS := numField(meta, "page_start")
	pe, okE := numField(meta, "page_end")
	switch {
	case okS && okE && ps != pe:
		out["label"] = fmt.Sprintf("pp. %d-%d", ps, pe)
	case okS:
		out["label"] = fmt.Sprintf("p. %d", ps)
	}
	if sp, ok := meta["section_path"].(string); ok && sp != "" {
		out["section"] = sp
	}
	if okS {
		out["page_start"] = ps
	}
	if okE {
		out["page_end"] = pe
	}
	return out
}

func numField(meta db.JSONB, key string) (int, bool) {
	if meta == nil {
		return 0, false
	}
	v, ok := asInt(meta[key])
	return v, ok
}
