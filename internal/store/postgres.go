package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresSink stores records in a shared PostgreSQL database.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and ensures the analyses table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresSink{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresSink) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS analyses (
			id BIGSERIAL PRIMARY KEY,
			record_key TEXT NOT NULL,
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			alignment TEXT NOT NULL,
			confidence SMALLINT NOT NULL,
			divergence BOOLEAN NOT NULL DEFAULT FALSE,
			record JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (symbol, timeframe, ts)
		)
	`)
	return err
}

// Name returns the sink name.
func (s *PostgresSink) Name() string {
	return "postgres"
}

// Save inserts a record; a duplicate key fails with ErrRecordExists.
func (s *PostgresSink) Save(ctx context.Context, record *models.AnalysisRecord) (string, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	meta := record.Metadata
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO analyses (record_key, run_id, symbol, timeframe, ts, alignment, confidence, divergence, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, record.Key(), meta.RunID, meta.Symbol, meta.Timeframe, meta.Timestamp.UTC(),
		string(record.Integrated.Alignment), record.Integrated.Confidence,
		record.Integrated.DivergenceDetected, body).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", apperrors.Wrapf(apperrors.ErrRecordExists, "postgres %s", record.Key())
		}
		return "", fmt.Errorf("insert analysis: %w", err)
	}

	return fmt.Sprintf("postgres:analyses/%d", id), nil
}

// Close closes the connection pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}
