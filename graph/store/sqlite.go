package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLite is a single-file Store implementation.
//
// Designed for development and single-process deployments: zero setup, WAL
// mode for concurrent reads, transactional writes. Use ":memory:" for an
// ephemeral database in tests.
type SQLite[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLite opens (and migrates) a SQLite-backed store at path.
func NewSQLite[S any](path string) (*SQLite[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLite[S]{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLite[S]) createTables(ctx context.Context) error {
	const steps = `
		CREATE TABLE IF NOT EXISTS workflow_steps (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, step)
		)`
	if _, err := s.db.ExecContext(ctx, steps); err != nil {
		return err
	}

	const checkpoints = `
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			step INTEGER NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`
	_, err := s.db.ExecContext(ctx, checkpoints)
	return err
}

// SaveStep implements Store.
func (s *SQLite[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store is closed")
	}

	const q = `
		INSERT INTO workflow_steps (run_id, step, node_id, state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step) DO UPDATE SET node_id = excluded.node_id, state = excluded.state`
	_, err = s.db.ExecContext(ctx, q, runID, step, nodeID, string(data))
	return err
}

// LoadLatest implements Store.
func (s *SQLite[S]) LoadLatest(ctx context.Context, runID string) (S, int, error) {
	var zero S

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return zero, 0, errors.New("store is closed")
	}

	const q = `SELECT step, state FROM workflow_steps WHERE run_id = ? ORDER BY step DESC LIMIT 1`
	var step int
	var data string
	err := s.db.QueryRowContext(ctx, q, runID).Scan(&step, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, 0, ErrNotFound
	}
	if err != nil {
		return zero, 0, err
	}

	var state S
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, step, nil
}

// SaveCheckpoint implements Store.
func (s *SQLite[S]) SaveCheckpoint(ctx context.Context, cpID string, state S, step int) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store is closed")
	}

	const q = `
		INSERT INTO workflow_checkpoints (checkpoint_id, step, state)
		VALUES (?, ?, ?)
		ON CONFLICT(checkpoint_id) DO UPDATE SET step = excluded.step, state = excluded.state`
	_, err = s.db.ExecContext(ctx, q, cpID, step, string(data))
	return err
}

// LoadCheckpoint implements Store.
func (s *SQLite[S]) LoadCheckpoint(ctx context.Context, cpID string) (S, int, error) {
	var zero S

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return zero, 0, errors.New("store is closed")
	}

	const q = `SELECT step, state FROM workflow_checkpoints WHERE checkpoint_id = ?`
	var step int
	var data string
	err := s.db.QueryRowContext(ctx, q, cpID).Scan(&step, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, 0, ErrNotFound
	}
	if err != nil {
		return zero, 0, err
	}

	var state S
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, step, nil
}

// Close releases the underlying database.
func (s *SQLite[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
