package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/embeddings"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/metrics"
)

// UnifiedEmbedder is the slice of the embedding service workers invoke
// after a successful commit.
type UnifiedEmbedder interface {
	EmbedUnifiedChunks(ctx context.Context, sourceType, sourceID, model string, force bool, batchSize int, progress func(float64)) (*embeddings.Report, error)
}

// OntologyWorker ingests one ontology kind from OBO files. Source ids map
// to files under Dir as <source_id>.obo.
type OntologyWorker struct {
	Client    *db.Client
	Kind      string
	Dir       string
	Embedder  UnifiedEmbedder
	AutoEmbed bool
	Logger    *zap.Logger
}

func (w *OntologyWorker) sourceType() string { return "ontology_" + w.Kind }

// Run implements the pipeline's Ingestor contract.
func (w *OntologyWorker) Run(ctx context.Context, sourceID string) (*db.IngestionStatus, error) {
	return w.IngestFile(ctx, sourceID, filepath.Join(w.Dir, sourceID+".obo"))
}

// IngestFile replaces the term, relation, and chunk sets for one scope from
// an OBO file, then embeds when auto-embed is on.
//
// The replace happens in one transaction holding the scope's advisory lock,
// so concurrent re-ingests serialize and readers never see a half-replaced
// set. Embedding runs after commit; its outcome decides READY vs ERROR.
func (w *OntologyWorker) IngestFile(ctx context.Context, sourceID, path string) (*db.IngestionStatus, error) {
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	st := w.sourceType()
	start := time.Now()
	metrics.IngestionsStarted.WithLabelValues(st).Inc()

	info, err := Fingerprint(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArgument, err, "cannot fingerprint %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArgument, err, "cannot open %s", path)
	}
	oboTerms, err := ParseOBO(f)
	f.Close()
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArgument, err, "cannot parse %s", path)
	}
	if len(oboTerms) == 0 {
		return nil, fault.Invalid("%s contains no usable terms", path)
	}

	terms, relations, chunks := w.buildRows(oboTerms)

	var payload db.JSONB
	err = w.Client.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := db.AcquireScopeLock(ctx, tx, st, sourceID, false); err != nil {
			return err
		}
		delTerms, delRels, err := db.ReplaceOntologyTermsTx(ctx, tx, st, sourceID, terms, relations)
		if err != nil {
			return err
		}
		delChunks, err := db.ReplaceUnifiedChunksTx(ctx, tx, st, sourceID, chunks)
		if err != nil {
			return err
		}
		payload = db.JSONB{
			"stage":     "indexing",
			"file_info": info.Payload(),
			"deleted": db.JSONB{
				"terms":     delTerms,
				"relations": delRels,
				"chunks":    delChunks,
			},
			"inserted": db.JSONB{
				"terms":     len(terms),
				"relations": len(relations),
				"chunks":    len(chunks),
			},
		}
		return db.UpsertIngestionStatusTx(ctx, tx, st, sourceID, db.IndexStatusIndexing, payload)
	})
	if err != nil {
		metrics.RecordIngestion(st, "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.ChunksIngested.WithLabelValues(st).Add(float64(len(chunks)))

	final, err := w.finishEmbedding(ctx, sourceID, payload)
	status, state := ingestOutcome(final, err)
	metrics.RecordIngestion(st, status, time.Since(start).Seconds())
	logger.Info("Ontology ingestion finished",
		zap.String("source_type", st),
		zap.String("source_id", sourceID),
		zap.Int("terms", len(terms)),
		zap.String("state", state),
		zap.Duration("took", time.Since(start)),
	)
	return final, err
}

func (w *OntologyWorker) finishEmbedding(ctx context.Context, sourceID string, payload db.JSONB) (*db.IngestionStatus, error) {
	st := w.sourceType()

	if !w.AutoEmbed || w.Embedder == nil {
		payload["stage"] = "awaiting_embeddings"
		if err := w.Client.UpsertIngestionStatus(ctx, st, sourceID, db.IndexStatusReady, payload); err != nil {
			return nil, err
		}
		return w.Client.GetIngestionStatus(ctx, st, sourceID)
	}

	rep, err := w.Embedder.EmbedUnifiedChunks(ctx, st, sourceID, "", true, 0, nil)
	if err != nil {
		payload["stage"] = "error"
		payload["embedding"] = db.JSONB{"error": err.Error()}
		if upErr := w.Client.UpsertIngestionStatus(ctx, st, sourceID, db.IndexStatusError, payload); upErr != nil {
			return nil, upErr
		}
		status, getErr := w.Client.GetIngestionStatus(ctx, st, sourceID)
		if getErr != nil {
			return nil, getErr
		}
		return status, err
	}

	payload["stage"] = "ready"
	payload["embedding"] = db.JSONB{
		"model":    rep.Model,
		"version":  rep.Version,
		"embedded": rep.Embedded,
		"total":    rep.Total,
	}
	if err := w.Client.UpsertIngestionStatus(ctx, st, sourceID, db.IndexStatusReady, payload); err != nil {
		return nil, err
	}
	return w.Client.GetIngestionStatus(ctx, st, sourceID)
}

// buildRows translates parsed stanzas into term, relation, and chunk rows.
// The chunk text concatenates name, definition, and synonyms so both search
// sides have the full lexical surface of the term.
func (w *OntologyWorker) buildRows(oboTerms []OBOTerm) ([]db.OntologyTerm, []db.OntologyTermRelation, []db.UnifiedChunk) {
	terms := make([]db.OntologyTerm, 0, len(oboTerms))
	var relations []db.OntologyTermRelation
	chunks := make([]db.UnifiedChunk, 0, len(oboTerms))

	known := make(map[string]bool, len(oboTerms))
	for _, t := range oboTerms {
		known[t.ID] = true
	}

	for _, t := range oboTerms {
		terms = append(terms, db.OntologyTerm{
			TermID:     t.ID,
			Name:       t.Name,
			Definition: t.Definition,
			Synonyms:   t.Synonyms,
			Xrefs:      t.Xrefs,
		})
		for _, p := range t.Parents {
			// Edges to terms outside this file would orphan on lookup,
			// and a term is never its own parent.
			if !known[p.ID] || p.ID == t.ID {
				continue
			}
			relations = append(relations, db.OntologyTermRelation{
				ChildTermID:  t.ID,
				ParentTermID: p.ID,
				RelationType: p.Relation,
			})
		}

		var sb strings.Builder
		sb.WriteString(t.Name)
		if t.Definition != "" {
			fmt.Fprintf(&sb, ". %s", t.Definition)
		}
		if len(t.Synonyms) > 0 {
			fmt.Fprintf(&sb, " Synonyms: %s.", strings.Join(t.Synonyms, "; "))
		}
		chunks = append(chunks, db.UnifiedChunk{
			ChunkID:   t.ID,
			ChunkText: sb.String(),
			ChunkMetadata: db.JSONB{
				"term_id": t.ID,
				"name":    t.Name,
			},
		})
	}
	return terms, relations, chunks
}
