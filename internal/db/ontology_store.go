package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

// ReplaceOntologyTermsTx swaps the structured term and relation rows for one
// ontology scope inside the caller's transaction. Returns the deleted term
// and relation counts.
func ReplaceOntologyTermsTx(ctx context.Context, tx *sqlx.Tx, ontologyType, sourceID string, terms []OntologyTerm, relations []OntologyTermRelation) (delTerms, delRels int64, err error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM ontology_term_relations WHERE ontology_type = $1 AND source_id = $2`,
		ontologyType, sourceID)
	if err != nil {
		return 0, 0, fmt.Errorf("delete term relations: %w", err)
	}
	delRels, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx,
		`DELETE FROM ontology_terms WHERE ontology_type = $1 AND source_id = $2`,
		ontologyType, sourceID)
	if err != nil {
		return 0, delRels, fmt.Errorf("delete terms: %w", err)
	}
	delTerms, _ = res.RowsAffected()

	const batchSize = 500
	for start := 0; start < len(terms); start += batchSize {
		end := start + batchSize
		if end > len(terms) {
			end = len(terms)
		}
		if err := insertTermBatch(ctx, tx, ontologyType, sourceID, terms[start:end]); err != nil {
			return delTerms, delRels, err
		}
	}
	for start := 0; start < len(relations); start += batchSize {
		end := start + batchSize
		if end > len(relations) {
			end = len(relations)
		}
		if err := insertRelationBatch(ctx, tx, ontologyType, sourceID, relations[start:end]); err != nil {
			return delTerms, delRels, err
		}
	}
	return delTerms, delRels, nil
}

func insertTermBatch(ctx context.Context, tx *sqlx.Tx, ontologyType, sourceID string, terms []OntologyTerm) error {
	if len(terms) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`INSERT INTO ontology_terms
		(ontology_type, source_id, term_id, name, definition, synonyms, xrefs, term_metadata) VALUES `)
	for i, t := range terms {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * 8
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, ontologyType, sourceID, t.TermID, t.Name, t.Definition,
			pq.Array(t.Synonyms), pq.Array(t.Xrefs), t.TermMetadata)
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert terms: %w", err)
	}
	return nil
}

func insertRelationBatch(ctx context.Context, tx *sqlx.Tx, ontologyType, sourceID string, rels []OntologyTermRelation) error {
	if len(rels) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`INSERT INTO ontology_term_relations
		(ontology_type, source_id, child_term_id, parent_term_id, relation_type) VALUES `)
	for i, r := range rels {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, ontologyType, sourceID, r.ChildTermID, r.ParentTermID, r.RelationType)
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert term relations: %w", err)
	}
	return nil
}

// GetOntologyTerm fetches one structured term row.
func (c *Client) GetOntologyTerm(ctx context.Context, ontologyType, sourceID, termID string) (*OntologyTerm, error) {
	var row struct {
		OntologyTerm
		Synonyms pq.StringArray `db:"synonyms"`
		Xrefs    pq.StringArray `db:"xrefs"`
	}
	err := c.get(ctx, &row, `
		SELECT ontology_type, source_id, term_id, name, definition,
		       synonyms, xrefs, term_metadata, created_at
		FROM ontology_terms
		WHERE ontology_type = $1 AND source_id = $2 AND term_id = $3`,
		ontologyType, sourceID, termID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.KindNotFound, "term %s not found in %s/%s", termID, ontologyType, sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get term: %w", err)
	}
	term := row.OntologyTerm
	term.Synonyms = []string(row.Synonyms)
	term.Xrefs = []string(row.Xrefs)
	return &term, nil
}

// TermParents returns the one-hop parents of a term.
func (c *Client) TermParents(ctx context.Context, ontologyType, sourceID, termID string) ([]OntologyTermRelation, error) {
	var rels []OntologyTermRelation
	err := c.sel(ctx, &rels, `
		SELECT ontology_type, source_id, child_term_id, parent_term_id, relation_type
		FROM ontology_term_relations
		WHERE ontology_type = $1 AND source_id = $2 AND child_term_id = $3
		ORDER BY parent_term_id ASC`,
		ontologyType, sourceID, termID)
	if err != nil {
		return nil, fmt.Errorf("term parents: %w", err)
	}
	return rels, nil
}

// TermChildren returns the one-hop children of a term.
func (c *Client) TermChildren(ctx context.Context, ontologyType, sourceID, termID string) ([]OntologyTermRelation, error) {
	var rels []OntologyTermRelation
	err := c.sel(ctx, &rels, `
		SELECT ontology_type, source_id, child_term_id, parent_term_id, relation_type
		FROM ontology_term_relations
		WHERE ontology_type = $1 AND source_id = $2 AND parent_term_id = $3
		ORDER BY child_term_id ASC`,
		ontologyType, sourceID, termID)
	if err != nil {
		return nil, fmt.Errorf("term children: %w", err)
	}
	return rels, nil
}
