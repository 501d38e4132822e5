package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

// CreatePDFDocument inserts a document row and returns its id.
func (c *Client) CreatePDFDocument(ctx context.Context, filename, title string, pageCount int) (uuid.UUID, error) {
	id := uuid.New()
	_, err := c.exec(ctx, `
		INSERT INTO pdf_documents (id, filename, title, page_count, embedding_models)
		VALUES ($1, $2, $3, $4, '{}'::jsonb)`,
		id, filename, title, pageCount)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create pdf document: %w", err)
	}
	return id, nil
}

// GetPDFDocument fetches one document.
func (c *Client) GetPDFDocument(ctx context.Context, pdfID uuid.UUID) (*PDFDocument, error) {
	var doc PDFDocument
	err := c.get(ctx, &doc, `
		SELECT id, filename, title, page_count, embedding_models, created_at
		FROM pdf_documents WHERE id = $1`, pdfID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.KindNotFound, "pdf document %s not found", pdfID)
	}
	if err != nil {
		return nil, fmt.Errorf("get pdf document: %w", err)
	}
	return &doc, nil
}

// ReplacePDFChunksTx swaps a document's chunk set inside the caller's
// transaction. Returns the number of deleted rows.
func ReplacePDFChunksTx(ctx context.Context, tx *sqlx.Tx, pdfID uuid.UUID, chunks []PDFChunk) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM pdf_chunks WHERE pdf_id = $1`, pdfID)
	if err != nil {
		return 0, fmt.Errorf("delete pdf chunks: %w", err)
	}
	deleted, _ := res.RowsAffected()

	const batchSize = 500
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := insertPDFChunkBatch(ctx, tx, pdfID, chunks[start:end]); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func insertPDFChunkBatch(ctx context.Context, tx *sqlx.Tx, pdfID uuid.UUID, chunks []PDFChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`INSERT INTO pdf_chunks
		(pdf_id, chunk_id, chunk_index, text, page_start, page_end, section_path, is_table, is_figure, search_vector) VALUES `)
	for i, ch := range chunks {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * 9
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,to_tsvector('english', $%d))",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+4)
		args = append(args, pdfID, ch.ChunkID, ch.ChunkIndex, ch.Text,
			ch.PageStart, ch.PageEnd, ch.SectionPath, ch.IsTable, ch.IsFigure)
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert pdf chunks: %w", err)
	}
	return nil
}

// ListPDFChunks returns a document's chunks in reading order.
func (c *Client) ListPDFChunks(ctx context.Context, pdfID uuid.UUID) ([]PDFChunk, error) {
	var chunks []PDFChunk
	err := c.sel(ctx, &chunks, `
		SELECT pdf_id, chunk_id, chunk_index, text, page_start, page_end,
		       section_path, is_table, is_figure, created_at
		FROM pdf_chunks WHERE pdf_id = $1
		ORDER BY chunk_index ASC`, pdfID)
	if err != nil {
		return nil, fmt.Errorf("list pdf chunks: %w", err)
	}
	return chunks, nil
}

// FetchPDFChunks hydrates a batch of chunks by id.
func (c *Client) FetchPDFChunks(ctx context.Context, pdfID uuid.UUID, chunkIDs []string) ([]PDFChunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	var chunks []PDFChunk
	err := c.sel(ctx, &chunks, `
		SELECT pdf_id, chunk_id, chunk_index, text, page_start, page_end,
		       section_path, is_table, is_figure, created_at
		FROM pdf_chunks WHERE pdf_id = $1 AND chunk_id = ANY($2)`,
		pdfID, pq.Array(chunkIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch pdf chunks: %w", err)
	}
	return chunks, nil
}

// FetchPDFEmbeddings returns the stored vectors for a batch of chunks under
// one model. Chunks not yet embedded are omitted.
func (c *Client) FetchPDFEmbeddings(ctx context.Context, pdfID uuid.UUID, modelName string, chunkIDs []string) (map[string]Vector, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	var rows []struct {
		ChunkID   string `db:"chunk_id"`
		Embedding Vector `db:"embedding"`
	}
	err := c.sel(ctx, &rows, `
		SELECT chunk_id, embedding FROM pdf_embeddings
		WHERE pdf_id = $1 AND model_name = $2 AND chunk_id = ANY($3)`,
		pdfID, modelName, pq.Array(chunkIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch pdf embeddings: %w", err)
	}
	out := make(map[string]Vector, len(rows))
	for _, r := range rows {
		out[r.ChunkID] = r.Embedding
	}
	return out, nil
}

// EmbeddingSetInfo describes the stored embedding set for (pdf, model).
type EmbeddingSetInfo struct {
	Count    int      `db:"count"`
	Versions []string `db:"-"`
}

// PDFEmbeddingSetInfo reports how many vectors exist for (pdf, model) and at
// which versions. A healthy set has exactly one version; zero versions means
// the set is empty.
func (c *Client) PDFEmbeddingSetInfo(ctx context.Context, pdfID uuid.UUID, modelName string) (*EmbeddingSetInfo, error) {
	var rows []struct {
		ModelVersion string `db:"model_version"`
		Count        int    `db:"count"`
	}
	err := c.sel(ctx, &rows, `
		SELECT model_version, count(*) AS count
		FROM pdf_embeddings
		WHERE pdf_id = $1 AND model_name = $2
		GROUP BY model_version
		ORDER BY model_version ASC`, pdfID, modelName)
	if err != nil {
		return nil, fmt.Errorf("embedding set info: %w", err)
	}
	info := &EmbeddingSetInfo{}
	for _, r := range rows {
		info.Count += r.Count
		info.Versions = append(info.Versions, r.ModelVersion)
	}
	return info, nil
}

// ReplacePDFEmbeddingSet atomically replaces the embedding set for
// (pdf, model): the old vectors are deleted, the new set inserted, and the
// document's embedding_models registry entry upserted, all in one
// transaction. Readers never observe a mixed-version set.
func (c *Client) ReplacePDFEmbeddingSet(ctx context.Context, pdfID uuid.UUID, modelName, modelVersion string, dimensions int, vectors map[string]Vector) error {
	return c.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM pdf_embeddings WHERE pdf_id = $1 AND model_name = $2`,
			pdfID, modelName); err != nil {
			return fmt.Errorf("delete embedding set: %w", err)
		}

		ids := make([]string, 0, len(vectors))
		for id := range vectors {
			ids = append(ids, id)
		}
		// Stable insert order keeps batch boundaries deterministic.
		sort.Strings(ids)

		const batchSize = 200
		for start := 0; start < len(ids); start += batchSize {
			end := start + batchSize
			if end > len(ids) {
				end = len(ids)
			}
			var (
				sb   strings.Builder
				args []interface{}
			)
			sb.WriteString(`INSERT INTO pdf_embeddings
				(pdf_id, chunk_id, model_name, model_version, dimensions, embedding) VALUES `)
			for i, id := range ids[start:end] {
				if i > 0 {
					sb.WriteByte(',')
				}
				base := i * 6
				fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d::vector)",
					base+1, base+2, base+3, base+4, base+5, base+6)
				args = append(args, pdfID, id, modelName, modelVersion, dimensions, vectors[id].Literal())
			}
			if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
				return fmt.Errorf("insert embedding set: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE pdf_documents
			SET embedding_models = embedding_models || jsonb_build_object(
				$2::text, jsonb_build_object(
					'version', $3::text,
					'dimensions', $4::int,
					'chunk_count', $5::int))
			WHERE id = $1`,
			pdfID, modelName, modelVersion, dimensions, len(ids)); err != nil {
			return fmt.Errorf("update embedding registry: %w", err)
		}
		return nil
	})
}

// VectorSearchPDF returns the topK nearest chunks of one document for one
// embedding model.
func (c *Client) VectorSearchPDF(ctx context.Context, pdfID uuid.UUID, modelName string, vec Vector, topK int, operator string) ([]VectorHit, error) {
	query := fmt.Sprintf(`
		SELECT e.chunk_id, e.embedding %s $3::vector AS distance
		FROM pdf_embeddings e
		WHERE e.pdf_id = $1 AND e.model_name = $2
		ORDER BY distance ASC, e.chunk_id ASC
		LIMIT $4`, operator)

	var hits []VectorHit
	if err := c.sel(ctx, &hits, query, pdfID, modelName, vec.Literal(), topK); err != nil {
		return nil, fmt.Errorf("pdf vector search: %w", err)
	}
	return hits, nil
}

// LexicalSearchPDF runs full-text search over a document's chunks. Ties on
// rank break by reading order (chunk_index ASC).
func (c *Client) LexicalSearchPDF(ctx context.Context, pdfID uuid.UUID, queryText string, topK int) ([]LexicalHit, error) {
	const query = `
		SELECT chunk_id,
		       ts_headline('english', text, q, 'MaxFragments=1, MaxWords=30') AS snippet,
		       ts_rank(search_vector, q) AS rank
		FROM pdf_chunks, websearch_to_tsquery('english', $2) q
		WHERE pdf_id = $1 AND search_vector @@ q
		ORDER BY rank DESC, chunk_index ASC
		LIMIT $3`

	var hits []LexicalHit
	if err := c.sel(ctx, &hits, query, pdfID, queryText, topK); err != nil {
		return nil, fmt.Errorf("pdf lexical search: %w", err)
	}
	return hits, nil
}
