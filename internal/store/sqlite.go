package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore persists analysis records and caches candles in SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Batch workers write concurrently
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:   db,
		path: dbPath,
		now:  time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Candle cache, timestamps in unix milliseconds
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		fetched_at INTEGER NOT NULL,
		UNIQUE(symbol, timeframe, timestamp)
	);

	-- Completed analysis records
	CREATE TABLE IF NOT EXISTS analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_key TEXT NOT NULL,
		run_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		alignment TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		divergence INTEGER NOT NULL DEFAULT 0,
		quant_sentiment TEXT,
		visual_sentiment TEXT,
		recommendation TEXT,
		record TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timeframe, timestamp)
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol_tf ON candles(symbol, timeframe, timestamp);
	CREATE INDEX IF NOT EXISTS idx_analyses_symbol ON analyses(symbol, timeframe);
	CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Name returns the sink name.
func (s *SQLiteStore) Name() string {
	return "sqlite"
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Save inserts a record. A record with the same symbol, timeframe and
// timestamp already present fails with ErrRecordExists.
func (s *SQLiteStore) Save(ctx context.Context, record *models.AnalysisRecord) (string, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	meta := record.Metadata
	in := record.Integrated
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (record_key, run_id, symbol, timeframe, timestamp, alignment, confidence,
			divergence, quant_sentiment, visual_sentiment, recommendation, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.Key(), meta.RunID, meta.Symbol, meta.Timeframe, meta.Timestamp.UTC().Unix(),
		string(in.Alignment), in.Confidence, boolToInt(in.DivergenceDetected),
		string(in.QuantSentiment), string(in.VisualSentiment), in.Recommendation, string(body))
	if err != nil {
		if isUniqueViolation(err) {
			return "", apperrors.Wrapf(apperrors.ErrRecordExists, "sqlite %s", record.Key())
		}
		return "", fmt.Errorf("failed to insert analysis: %w", err)
	}

	return s.path + "#" + record.Key(), nil
}

// ListRecords returns record summaries, newest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]RecordSummary, error) {
	query := `SELECT record_key, run_id, symbol, timeframe, timestamp, alignment, confidence, divergence, recommendation
		FROM analyses WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Timeframe != "" {
		query += " AND timeframe = ?"
		args = append(args, filter.Timeframe)
	}
	if filter.Alignment != "" {
		query += " AND alignment = ?"
		args = append(args, string(filter.Alignment))
	}
	if filter.Divergence {
		query += " AND divergence = 1"
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC().Unix())
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var out []RecordSummary
	for rows.Next() {
		var r RecordSummary
		var ts int64
		var alignment string
		var divergence int
		var recommendation sql.NullString
		if err := rows.Scan(&r.Key, &r.RunID, &r.Symbol, &r.Timeframe, &ts, &alignment,
			&r.Confidence, &divergence, &recommendation); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		r.Timestamp = time.Unix(ts, 0).UTC()
		r.Alignment = models.Alignment(alignment)
		r.Divergence = divergence == 1
		r.Recommendation = recommendation.String
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analyses: %w", err)
	}

	return out, nil
}

// GetRecord loads the full record stored under key.
func (s *SQLiteStore) GetRecord(ctx context.Context, key string) (*models.AnalysisRecord, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM analyses WHERE record_key = ?`, key).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var record models.AnalysisRecord
	if err := json.Unmarshal([]byte(body), &record); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", key, err)
	}
	return &record, nil
}

// SaveCandles upserts candles into the cache and marks them fetched now.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	fetchedAt := s.now().UTC().Unix()
	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp.UTC().UnixMilli(),
			c.Open, c.High, c.Low, c.Close, c.Volume, fetchedAt)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// LoadCandles returns up to limit of the newest cached candles, oldest first,
// and the oldest fetch time among them, so a window mixing fresh and stale
// rows reports the stale one. An empty cache yields no candles and a zero
// time.
func (s *SQLiteStore) LoadCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume, fetched_at FROM (
			SELECT timestamp, open, high, low, close, volume, fetched_at
			FROM candles
			WHERE symbol = ? AND timeframe = ?
			ORDER BY timestamp DESC
			LIMIT ?
		) ORDER BY timestamp ASC
	`, symbol, timeframe, limit)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	var oldest int64
	for rows.Next() {
		var c models.Candle
		var ts, fetched int64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &fetched); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan candle: %w", err)
		}
		if len(candles) == 0 || fetched < oldest {
			oldest = fetched
		}
		c.Timestamp = time.UnixMilli(ts).UTC()
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("error iterating candles: %w", err)
	}
	if len(candles) == 0 {
		return nil, time.Time{}, nil
	}

	return candles, time.Unix(oldest, 0).UTC(), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
