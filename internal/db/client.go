// Package db owns all Postgres access: chunk and embedding rows, ontology
// terms, ingestion statuses, chat sessions, and the embedding job queue.
//
// The schema relies on the pgvector extension for dense vectors and tsvector
// columns for lexical search. Ingestion workers are the only writers of
// chunk/term/status rows; retrieval paths are read-only.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/internal/circuitbreaker"
	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/fault"
)

// Client manages the connection pool and exposes the store methods defined
// across this package.
type Client struct {
	db     *sqlx.DB
	cb     *circuitbreaker.Breaker
	logger *zap.Logger
}

// NewClient opens a connection pool and verifies connectivity.
func NewClient(cfg config.DatabaseConfig, logger *zap.Logger) (*Client, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	rawDB, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	rawDB.SetMaxOpenConns(cfg.MaxConnections)
	rawDB.SetMaxIdleConns(cfg.IdleConnections)
	rawDB.SetConnMaxLifetime(cfg.MaxLifetime)

	client := &Client{
		db:     rawDB,
		cb:     circuitbreaker.New("postgres", circuitbreaker.DefaultConfig(), logger),
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database client initialized",
		zap.String("host", cfg.Host),
		zap.Int("max_connections", cfg.MaxConnections),
	)
	return client, nil
}

// NewClientFromDB wraps an existing database handle; used by tests with sqlmock.
func NewClientFromDB(raw *sql.DB, logger *zap.Logger) *Client {
	return &Client{
		db:     sqlx.NewDb(raw, "postgres"),
		cb:     circuitbreaker.New("postgres", circuitbreaker.DefaultConfig(), logger),
		logger: logger,
	}
}

// Ping verifies connectivity through the circuit breaker.
func (c *Client) Ping(ctx context.Context) error {
	return c.cb.Execute(ctx, func() error {
		return c.db.PingContext(ctx)
	})
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// DB exposes the raw handle for health checks.
func (c *Client) DB() *sqlx.DB { return c.db }

// get runs a single-row query through the breaker.
func (c *Client) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return c.cb.Execute(ctx, func() error {
		return c.db.GetContext(ctx, dest, query, args...)
	})
}

// sel runs a multi-row query through the breaker.
func (c *Client) sel(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return c.cb.Execute(ctx, func() error {
		return c.db.SelectContext(ctx, dest, query, args...)
	})
}

// exec runs a statement through the breaker.
func (c *Client) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := c.cb.Execute(ctx, func() error {
		var err2 error
		res, err2 = c.db.ExecContext(ctx, query, args...)
		return err2
	})
	return res, err
}

// WithTx runs fn in a transaction, rolling back on error or panic.
func (c *Client) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// AcquireScopeLock takes the transaction-scoped advisory lock for an
// ingestion scope. Concurrent re-ingests of the same scope serialize here;
// wait=false surfaces Conflict instead of blocking.
func AcquireScopeLock(ctx context.Context, tx *sqlx.Tx, sourceType, sourceID string, wait bool) error {
	key := scopeLockKey(sourceType, sourceID)
	if wait {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
			return fmt.Errorf("acquire scope lock: %w", err)
		}
		return nil
	}
	var got bool
	if err := tx.GetContext(ctx, &got, `SELECT pg_try_advisory_xact_lock($1)`, key); err != nil {
		return fmt.Errorf("acquire scope lock: %w", err)
	}
	if !got {
		return fault.New(fault.KindConflict, "ingestion already running for %s/%s", sourceType, sourceID)
	}
	return nil
}

func scopeLockKey(sourceType, sourceID string) int64 {
	// FNV-1a over the scope tuple; stable across processes.
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for _, s := range []string{sourceType, "\x00", sourceID} {
		for i := 0; i < len(s); i++ {
			h ^= uint64(s[i])
			h *= prime64
		}
	}
	return int64(h)
}
