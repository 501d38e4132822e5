package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/embeddings"
	"github.com/inkwell-ai/inkwell/internal/fault"
	"github.com/inkwell-ai/inkwell/internal/metrics"
)

// PDFEmbedder is the slice of the embedding service the PDF worker invokes.
type PDFEmbedder interface {
	EmbedPDF(ctx context.Context, pdfID uuid.UUID, model string, force bool, batchSize int, progress func(float64)) (*embeddings.Report, error)
}

// PDFExtract is the extraction artifact the upstream parser writes: one JSON
// file per document with layout-aware chunks. Raw PDF handling stays outside
// this service.
type PDFExtract struct {
	Filename  string            `json:"filename"`
	Title     string            `json:"title"`
	PageCount int               `json:"page_count"`
	Chunks    []PDFExtractChunk `json:"chunks"`
}

// PDFExtractChunk is one layout chunk in reading order.
type PDFExtractChunk struct {
	Text        string `json:"text"`
	PageStart   int    `json:"page_start"`
	PageEnd     int    `json:"page_end"`
	SectionPath string `json:"section_path,omitempty"`
	IsTable     bool   `json:"is_table,omitempty"`
	IsFigure    bool   `json:"is_figure,omitempty"`
}

// PDFWorker ingests extraction artifacts. Source ids are document UUIDs;
// artifacts live under Dir as <pdf_id>.json.
type PDFWorker struct {
	Client    *db.Client
	Dir       string
	Embedder  PDFEmbedder
	AutoEmbed bool
	Logger    *zap.Logger

	// MaxChunkTokens bounds stored chunk size; extract chunks beyond it
	// are re-split on token windows. 0 uses the default.
	MaxChunkTokens int

	chunkerOnce sync.Once
	chunker     *embeddings.Chunker
	chunkerErr  error
}

const defaultMaxChunkTokens = 480

// splitChunks re-chunks oversized extract chunks so no stored chunk
// exceeds the embedding window. Sub-chunks inherit their parent's pages
// and section.
func (w *PDFWorker) splitChunks(extract *PDFExtract) ([]PDFExtractChunk, error) {
	w.chunkerOnce.Do(func() {
		maxTokens := w.MaxChunkTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxChunkTokens
		}
		w.chunker, w.chunkerErr = embeddings.NewChunker(maxTokens, maxTokens/8)
	})
	if w.chunkerErr != nil {
		return nil, fmt.Errorf("tokenizer unavailable: %w", w.chunkerErr)
	}

	out := make([]PDFExtractChunk, 0, len(extract.Chunks))
	for _, ch := range extract.Chunks {
		for _, part := range w.chunker.Split(ch.Text) {
			sub := ch
			sub.Text = part
			out = append(out, sub)
		}
	}
	return out, nil
}

// Run implements the pipeline's Ingestor contract.
func (w *PDFWorker) Run(ctx context.Context, sourceID string) (*db.IngestionStatus, error) {
	pdfID, err := uuid.Parse(sourceID)
	if err != nil {
		return nil, fault.Invalid("pdf source id must be a uuid, got %q", sourceID)
	}
	return w.IngestFile(ctx, pdfID, filepath.Join(w.Dir, sourceID+".json"))
}

// IngestFile replaces a document's chunk set from an extraction artifact.
// The document row is created on first ingest and updated on re-ingest.
func (w *PDFWorker) IngestFile(ctx context.Context, pdfID uuid.UUID, path string) (*db.IngestionStatus, error) {
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	metrics.IngestionsStarted.WithLabelValues("pdf").Inc()

	info, err := Fingerprint(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArgument, err, "cannot fingerprint %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArgument, err, "cannot read %s", path)
	}
	var extract PDFExtract
	if err := json.Unmarshal(raw, &extract); err != nil {
		return nil, fault.Wrap(fault.KindInvalidArgument, err, "malformed extraction artifact %s", path)
	}
	if len(extract.Chunks) == 0 {
		return nil, fault.Invalid("%s contains no chunks", path)
	}
	split, err := w.splitChunks(&extract)
	if err != nil {
		return nil, err
	}

	chunks := make([]db.PDFChunk, len(split))
	for i, ch := range split {
		chunks[i] = db.PDFChunk{
			ChunkID:     fmt.Sprintf("c%04d", i),
			ChunkIndex:  i,
			Text:        ch.Text,
			PageStart:   ch.PageStart,
			PageEnd:     ch.PageEnd,
			SectionPath: ch.SectionPath,
			IsTable:     ch.IsTable,
			IsFigure:    ch.IsFigure,
		}
	}

	var payload db.JSONB
	err = w.Client.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := db.AcquireScopeLock(ctx, tx, "pdf", pdfID.String(), false); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pdf_documents (id, filename, title, page_count, embedding_models)
			VALUES ($1, $2, $3, $4, '{}'::jsonb)
			ON CONFLICT (id) DO UPDATE SET
				filename = EXCLUDED.filename,
				title = EXCLUDED.title,
				page_count = EXCLUDED.page_count`,
			pdfID, extract.Filename, extract.Title, extract.PageCount); err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}
		deleted, err := db.ReplacePDFChunksTx(ctx, tx, pdfID, chunks)
		if err != nil {
			return err
		}
		payload = db.JSONB{
			"stage":     "indexing",
			"file_info": info.Payload(),
			"deleted":   db.JSONB{"chunks": deleted},
			"inserted":  db.JSONB{"chunks": len(chunks)},
		}
		return db.UpsertIngestionStatusTx(ctx, tx, "pdf", pdfID.String(), db.IndexStatusIndexing, payload)
	})
	if err != nil {
		metrics.RecordIngestion("pdf", "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.ChunksIngested.WithLabelValues("pdf").Add(float64(len(chunks)))

	final, err := w.finishEmbedding(ctx, pdfID, payload)
	status, state := ingestOutcome(final, err)
	metrics.RecordIngestion("pdf", status, time.Since(start).Seconds())
	logger.Info("PDF ingestion finished",
		zap.String("pdf_id", pdfID.String()),
		zap.Int("chunks", len(chunks)),
		zap.String("state", state),
		zap.Duration("took", time.Since(start)),
	)
	return final, err
}

// ingestOutcome summarizes a finishEmbedding result for metrics and logs.
// final may be nil when the status row could not be written or re-read.
func ingestOutcome(final *db.IngestionStatus, err error) (status, state string) {
	status = "ok"
	state = "unknown"
	if final != nil {
		state = final.State
	}
	if err != nil || (final != nil && final.State == db.IndexStatusError) {
		status = "error"
	}
	return status, state
}

func (w *PDFWorker) finishEmbedding(ctx context.Context, pdfID uuid.UUID, payload db.JSONB) (*db.IngestionStatus, error) {
	id := pdfID.String()

	if !w.AutoEmbed || w.Embedder == nil {
		payload["stage"] = "awaiting_embeddings"
		if err := w.Client.UpsertIngestionStatus(ctx, "pdf", id, db.IndexStatusReady, payload); err != nil {
			return nil, err
		}
		return w.Client.GetIngestionStatus(ctx, "pdf", id)
	}

	rep, err := w.Embedder.EmbedPDF(ctx, pdfID, "", true, 0, nil)
	if err != nil {
		payload["stage"] = "error"
		payload["embedding"] = db.JSONB{"error": err.Error()}
		if upErr := w.Client.UpsertIngestionStatus(ctx, "pdf", id, db.IndexStatusError, payload); upErr != nil {
			return nil, upErr
		}
		status, getErr := w.Client.GetIngestionStatus(ctx, "pdf", id)
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
	if err := w.Client.UpsertIngestionStatus(ctx, "pdf", id, db.IndexStatusReady, payload); err != nil {
		return nil, err
	}
	return w.Client.GetIngestionStatus(ctx, "pdf", id)
}
