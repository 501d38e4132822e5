package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

// CreateSession opens a new chat session, optionally bound to a PDF.
func (c *Client) CreateSession(ctx context.Context, pdfID *uuid.UUID, title string) (*ChatSession, error) {
	s := &ChatSession{
		ID:           uuid.New(),
		PDFID:        pdfID,
		Title:        title,
		CreatedAt:    time.Now().UTC(),
		LastActivity: time.Now().UTC(),
	}
	_, err := c.exec(ctx, `
		INSERT INTO chat_sessions (id, pdf_id, title, total_messages, created_at, last_activity)
		VALUES ($1, $2, $3, 0, $4, $5)`,
		s.ID, s.PDFID, s.Title, s.CreatedAt, s.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// GetSession fetches one session.
func (c *Client) GetSession(ctx context.Context, id uuid.UUID) (*ChatSession, error) {
	var s ChatSession
	err := c.get(ctx, &s, `
		SELECT id, pdf_id, title, total_messages, created_at, last_activity
		FROM chat_sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.KindNotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// ListMessages returns a session's messages in insertion order. A positive
// limit keeps the most recent messages, so the result is always the tail of
// the conversation, not its head.
func (c *Client) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error) {
	query := `
		SELECT id, session_id, message_type, content, citations, retrieval_stats, created_at
		FROM messages WHERE session_id = $1
		ORDER BY created_at ASC, id ASC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query = `
		SELECT id, session_id, message_type, content, citations, retrieval_stats, created_at
		FROM messages WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
		args = append(args, limit)
	}
	var msgs []Message
	if err := c.sel(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if limit > 0 {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

// AppendMessages writes one or more messages and bumps the session counters
// in a single transaction. The caller decides the set: a user question alone
// on failed runs, question plus AI response on success.
func (c *Client) AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return c.WithTx(ctx, func(tx *sqlx.Tx) error {
		for i := range msgs {
			m := &msgs[i]
			if m.ID == uuid.Nil {
				m.ID = uuid.New()
			}
			m.SessionID = sessionID
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO messages (id, session_id, message_type, content, citations, retrieval_stats)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				m.ID, m.SessionID, m.MessageType, m.Content, m.Citations, m.RetrievalStats); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE chat_sessions
			SET total_messages = total_messages + $2, last_activity = now()
			WHERE id = $1`, sessionID, len(msgs))
		if err != nil {
			return fmt.Errorf("bump session counters: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fault.New(fault.KindNotFound, "session %s not found", sessionID)
		}
		return nil
	})
}

// CreateRun opens a RUNNING run row for a question.
func (c *Client) CreateRun(ctx context.Context, sessionID uuid.UUID, workflowName, question string) (*Run, error) {
	r := &Run{
		ID:           uuid.New(),
		SessionID:    sessionID,
		WorkflowName: workflowName,
		Question:     question,
		Status:       RunStatusRunning,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := c.exec(ctx, `
		INSERT INTO runs (id, session_id, workflow_name, question, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.SessionID, r.WorkflowName, r.Question, r.Status, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return r, nil
}

// CompleteRun finalizes a run with its terminal status, state snapshot,
// specialist list, latency, and optional error message.
func (c *Client) CompleteRun(ctx context.Context, runID uuid.UUID, status string, snapshot JSONB, specialists []string, latency time.Duration, errMsg *string) error {
	ms := latency.Milliseconds()
	_, err := c.exec(ctx, `
		UPDATE runs
		SET status = $2, state_snapshot = $3, specialists_invoked = $4,
		    latency_ms = $5, error_message = $6, completed_at = now()
		WHERE id = $1`,
		runID, status, snapshot, pq.Array(specialists), ms, errMsg)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var row struct {
		Run
		SpecialistsInvoked pq.StringArray `db:"specialists_invoked"`
	}
	err := c.get(ctx, &row, `
		SELECT id, session_id, workflow_name, question, status, state_snapshot,
		       specialists_invoked, latency_ms, error_message, run_metadata,
		       created_at, completed_at
		FROM runs WHERE id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.KindNotFound, "run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	run := row.Run
	run.SpecialistsInvoked = []string(row.SpecialistsInvoked)
	return &run, nil
}

// ExpireIdleSessions deletes sessions idle beyond ttl along with their
// messages and runs. Returns the number of sessions removed.
func (c *Client) ExpireIdleSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	var deleted int64
	err := c.WithTx(ctx, func(tx *sqlx.Tx) error {
		cutoff := time.Now().UTC().Add(-ttl)
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE session_id IN
				(SELECT id FROM chat_sessions WHERE last_activity < $1)`, cutoff); err != nil {
			return fmt.Errorf("expire messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM runs WHERE session_id IN
				(SELECT id FROM chat_sessions WHERE last_activity < $1)`, cutoff); err != nil {
			return fmt.Errorf("expire runs: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM chat_sessions WHERE last_activity < $1`, cutoff)
		if err != nil {
			return fmt.Errorf("expire sessions: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
