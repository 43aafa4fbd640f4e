package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dm-alt/USM-scripts/pkg/models"
)

// Fixed width so observed_at compares correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a SQLite-based implementation of the store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store, creating the parent directory
// if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	// WAL so `hourly correlation` can read while the daemon writes.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS last_match (
		slot INTEGER PRIMARY KEY CHECK (slot = 1),
		url TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		base_endpoint TEXT NOT NULL,
		submission_endpoint TEXT NOT NULL,
		observed_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveLastMatch upserts the single slot unless the stored row is fresher
func (s *SQLiteStore) SaveLastMatch(ctx context.Context, req *models.ObservedRequest) error {
	if req == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_match
		(slot, url, correlation_id, collection, base_endpoint, submission_endpoint, observed_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			url = excluded.url,
			correlation_id = excluded.correlation_id,
			collection = excluded.collection,
			base_endpoint = excluded.base_endpoint,
			submission_endpoint = excluded.submission_endpoint,
			observed_at = excluded.observed_at
		WHERE excluded.observed_at >= last_match.observed_at
	`, req.URL, req.CorrelationID, req.Collection, req.BaseEndpoint, req.SubmissionEndpoint,
		req.ObservedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save last match: %w", err)
	}
	return nil
}

// LastMatch returns the stored match, or nil when empty
func (s *SQLiteStore) LastMatch(ctx context.Context) (*models.ObservedRequest, error) {
	var req models.ObservedRequest
	var observedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT url, correlation_id, collection, base_endpoint, submission_endpoint, observed_at
		FROM last_match WHERE slot = 1
	`).Scan(&req.URL, &req.CorrelationID, &req.Collection, &req.BaseEndpoint, &req.SubmissionEndpoint, &observedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last match: %w", err)
	}

	req.ObservedAt, err = time.Parse(timeLayout, observedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse observed_at %q: %w", observedAt, err)
	}
	return &req, nil
}

// ClearLastMatch empties the slot
func (s *SQLiteStore) ClearLastMatch(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM last_match`); err != nil {
		return fmt.Errorf("failed to clear last match: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
