package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// VectorHit is one nearest-neighbor result.
type VectorHit struct {
	ChunkID  string  `db:"chunk_id"`
	Distance float64 `db:"distance"`
}

// LexicalHit is one full-text result. Rank is non-negative; invalid ranks
// are clamped to 0 by the search layer.
type LexicalHit struct {
	ChunkID string  `db:"chunk_id"`
	Snippet string  `db:"snippet"`
	Rank    float64 `db:"rank"`
}

// ReplaceUnifiedChunksTx deletes the prior chunk set for a scope and inserts
// the new one inside the caller's transaction. Returns the number of deleted
// rows. The search_vector column is populated from chunk_text in the same
// statement so it can never go stale.
func ReplaceUnifiedChunksTx(ctx context.Context, tx *sqlx.Tx, sourceType, sourceID string, chunks []UnifiedChunk) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM unified_chunks WHERE source_type = $1 AND source_id = $2`,
		sourceType, sourceID)
	if err != nil {
		return 0, fmt.Errorf("delete prior chunks: %w", err)
	}
	deleted, _ := res.RowsAffected()

	const batchSize = 500
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := insertUnifiedChunkBatch(ctx, tx, sourceType, sourceID, chunks[start:end]); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func insertUnifiedChunkBatch(ctx context.Context, tx *sqlx.Tx, sourceType, sourceID string, chunks []UnifiedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`INSERT INTO unified_chunks
		(source_type, source_id, chunk_id, chunk_text, chunk_metadata, search_vector) VALUES `)
	for i, ch := range chunks {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,to_tsvector('english', $%d))",
			base+1, base+2, base+3, base+4, base+5, base+4)
		args = append(args, sourceType, sourceID, ch.ChunkID, ch.ChunkText, ch.ChunkMetadata)
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

// VectorSearchUnified returns the topK nearest chunks for a unified scope
// under the given pgvector distance operator. The query vector is bound as a
// single literal parameter.
func (c *Client) VectorSearchUnified(ctx context.Context, sourceType, sourceID string, vec Vector, topK int, operator string) ([]VectorHit, error) {
	query := fmt.Sprintf(`
		SELECT chunk_id, embedding %s $3::vector AS distance
		FROM unified_chunks
		WHERE source_type = $1 AND source_id = $2 AND embedding IS NOT NULL
		ORDER BY distance ASC, chunk_id ASC
		LIMIT $4`, operator)

	var hits []VectorHit
	if err := c.sel(ctx, &hits, query, sourceType, sourceID, vec.Literal(), topK); err != nil {
		return nil, fmt.Errorf("unified vector search: %w", err)
	}
	return hits, nil
}

// LexicalSearchUnified runs full-text search over the precomputed
// search_vector column. Ties on rank break by chunk_id ASC for determinism.
func (c *Client) LexicalSearchUnified(ctx context.Context, sourceType, sourceID, queryText string, topK int) ([]LexicalHit, error) {
	const query = `
		SELECT chunk_id,
		       ts_headline('english', chunk_text, q, 'MaxFragments=1, MaxWords=30') AS snippet,
		       ts_rank(search_vector, q) AS rank
		FROM unified_chunks, websearch_to_tsquery('english', $3) q
		WHERE source_type = $1 AND source_id = $2 AND search_vector @@ q
		ORDER BY rank DESC, chunk_id ASC
		LIMIT $4`

	var hits []LexicalHit
	if err := c.sel(ctx, &hits, query, sourceType, sourceID, queryText, topK); err != nil {
		return nil, fmt.Errorf("unified lexical search: %w", err)
	}
	return hits, nil
}

// FetchUnifiedChunks hydrates chunk text and metadata for a batch of ids in
// one round trip.
func (c *Client) FetchUnifiedChunks(ctx context.Context, sourceType, sourceID string, chunkIDs []string) ([]UnifiedChunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	const query = `
		SELECT source_type, source_id, chunk_id, chunk_text, chunk_metadata, created_at
		FROM unified_chunks
		WHERE source_type = $1 AND source_id = $2 AND chunk_id = ANY($3)`

	var chunks []UnifiedChunk
	if err := c.sel(ctx, &chunks, query, sourceType, sourceID, pq.Array(chunkIDs)); err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}
	return chunks, nil
}

// FetchUnifiedEmbeddings returns the stored vectors for a batch of chunk
// ids. Chunks without an embedding are omitted.
func (c *Client) FetchUnifiedEmbeddings(ctx context.Context, sourceType, sourceID string, chunkIDs []string) (map[string]Vector, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	const query = `
		SELECT chunk_id, embedding
		FROM unified_chunks
		WHERE source_type = $1 AND source_id = $2
		  AND chunk_id = ANY($3) AND embedding IS NOT NULL`

	var rows []struct {
		ChunkID   string `db:"chunk_id"`
		Embedding Vector `db:"embedding"`
	}
	if err := c.sel(ctx, &rows, query, sourceType, sourceID, pq.Array(chunkIDs)); err != nil {
		return nil, fmt.Errorf("fetch embeddings: %w", err)
	}
	out := make(map[string]Vector, len(rows))
	for _, r := range rows {
		out[r.ChunkID] = r.Embedding
	}
	return out, nil
}

// UnifiedChunksForEmbedding lists the chunks an embedding pass must cover.
// With force=false only chunks lacking an embedding are returned.
func (c *Client) UnifiedChunksForEmbedding(ctx context.Context, sourceType, sourceID string, force bool) ([]UnifiedChunk, error) {
	query := `
		SELECT source_type, source_id, chunk_id, chunk_text, chunk_metadata, created_at
		FROM unified_chunks
		WHERE source_type = $1 AND source_id = $2`
	if !force {
		query += ` AND embedding IS NULL`
	}
	query += ` ORDER BY chunk_id ASC`

	var chunks []UnifiedChunk
	if err := c.sel(ctx, &chunks, query, sourceType, sourceID); err != nil {
		return nil, fmt.Errorf("list chunks for embedding: %w", err)
	}
	return chunks, nil
}

// UpdateUnifiedEmbedding stores one chunk's embedding.
func (c *Client) UpdateUnifiedEmbedding(ctx context.Context, sourceType, sourceID, chunkID string, vec Vector) error {
	_, err := c.exec(ctx, `
		UPDATE unified_chunks SET embedding = $4::vector
		WHERE source_type = $1 AND source_id = $2 AND chunk_id = $3`,
		sourceType, sourceID, chunkID, vec.Literal())
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return nil
}

// CountUnifiedChunks returns total and embedded chunk counts for a scope.
func (c *Client) CountUnifiedChunks(ctx context.Context, sourceType, sourceID string) (total, embedded int, err error) {
	row := struct {
		Total    int `db:"total"`
		Embedded int `db:"embedded"`
	}{}
	err = c.get(ctx, &row, `
		SELECT count(*) AS total, count(embedding) AS embedded
		FROM unified_chunks
		WHERE source_type = $1 AND source_id = $2`,
		sourceType, sourceID)
	if err != nil {
		return 0, 0, fmt.Errorf("count chunks: %w", err)
	}
	return row.Total, row.Embedded, nil
}
