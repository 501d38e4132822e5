package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

const upsertStatusSQL = `
	INSERT INTO ingestion_statuses (source_type, source_id, state, message, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (source_type, source_id)
	DO UPDATE SET state = EXCLUDED.state, message = EXCLUDED.message, updated_at = now()`

// UpsertIngestionStatus records the current state for a scope. Message is a
// structured payload; pass nil to store an empty object.
func (c *Client) UpsertIngestionStatus(ctx context.Context, sourceType, sourceID, state string, message JSONB) error {
	if message == nil {
		message = JSONB{}
	}
	if _, err := c.exec(ctx, upsertStatusSQL, sourceType, sourceID, state, message); err != nil {
		return fmt.Errorf("upsert ingestion status: %w", err)
	}
	return nil
}

// UpsertIngestionStatusTx is the transactional form used by ingestion
// workers so terminal states commit atomically with the data they describe.
func UpsertIngestionStatusTx(ctx context.Context, tx *sqlx.Tx, sourceType, sourceID, state string, message JSONB) error {
	if message == nil {
		message = JSONB{}
	}
	if _, err := tx.ExecContext(ctx, upsertStatusSQL, sourceType, sourceID, state, message); err != nil {
		return fmt.Errorf("upsert ingestion status: %w", err)
	}
	return nil
}

// GetIngestionStatus returns the status row for a scope, or NOT_INDEXED when
// no row exists yet.
func (c *Client) GetIngestionStatus(ctx context.Context, sourceType, sourceID string) (*IngestionStatus, error) {
	var st IngestionStatus
	err := c.get(ctx, &st, `
		SELECT source_type, source_id, state, message, updated_at
		FROM ingestion_statuses
		WHERE source_type = $1 AND source_id = $2`,
		sourceType, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return &IngestionStatus{
			SourceType: sourceType,
			SourceID:   sourceID,
			State:      IndexStatusNotIndexed,
			Message:    JSONB{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ingestion status: %w", err)
	}
	return &st, nil
}

// ListIngestionStatuses returns all status rows, optionally filtered by
// source type.
func (c *Client) ListIngestionStatuses(ctx context.Context, sourceType string) ([]IngestionStatus, error) {
	query := `
		SELECT source_type, source_id, state, message, updated_at
		FROM ingestion_statuses`
	args := []interface{}{}
	if sourceType != "" {
		query += ` WHERE source_type = $1`
		args = append(args, sourceType)
	}
	query += ` ORDER BY source_type ASC, source_id ASC`

	var statuses []IngestionStatus
	if err := c.sel(ctx, &statuses, query, args...); err != nil {
		return nil, fmt.Errorf("list ingestion statuses: %w", err)
	}
	return statuses, nil
}

// RequireReady surfaces a typed error unless the scope is READY.
func (c *Client) RequireReady(ctx context.Context, sourceType, sourceID string) error {
	st, err := c.GetIngestionStatus(ctx, sourceType, sourceID)
	if err != nil {
		return err
	}
	switch st.State {
	case IndexStatusReady:
		return nil
	case IndexStatusIndexing:
		return fault.New(fault.KindConflict, "index for %s/%s is still building", sourceType, sourceID)
	default:
		return fault.New(fault.KindDependencyMissing, "index for %s/%s is %s", sourceType, sourceID, st.State)
	}
}
