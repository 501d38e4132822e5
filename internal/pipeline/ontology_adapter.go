package pipeline

import (
	"context"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/search"
)

// OntologyAdapter scopes retrieval to one ontology kind. The full source
// type is "ontology_<kind>"; source ids name a release or namespace within
// the kind (e.g. "mondo").
type OntologyAdapter struct {
	Kind     string
	Client   *db.Client
	Ingestor Ingestor
}

func (a *OntologyAdapter) SourceType() string { return "ontology_" + a.Kind }

func (a *OntologyAdapter) Ingest(ctx context.Context, sourceID string) (*db.IngestionStatus, error) {
	if a.Ingestor == nil {
		return nil, fault.New(fault.KindDependencyMissing, "no ingestor configured for %s", a.SourceType())
	}
	return a.Ingestor.Run(ctx, sourceID)
}

func (a *OntologyAdapter) IndexStatus(ctx context.Context, sourceID string) (*db.IngestionStatus, error) {
	return a.Client.GetIngestionStatus(ctx, a.SourceType(), sourceID)
}

func (a *OntologyAdapter) Backend(_ context.Context, sourceID, metric string) (search.Backend, error) {
	return search.NewUnifiedBackend(a.Client, a.SourceType(), sourceID, metric)
}

// FormatCitation renders a term citation from ontology chunk metadata.
func (a *OntologyAdapter) FormatCitation(meta db.JSONB) db.JSONB {
	out := db.JSONB{"type": "ontology_term", "ontology": a.Kind}
	if meta == nil {
		return out
	}
	termID, _ := meta["term_id"].(string)
	name, _ := meta["name"].(string)
	switch {
	case termID != "" && name != "":
		out["label"] = name + " (" + termID + ")"
	case termID != "":
		out["label"] = termID
	case name != "":
		out["label"] = name
	}
	if termID != "" {
		out["term_id"] = termID
	}
	return out
}
