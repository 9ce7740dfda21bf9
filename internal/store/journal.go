// Package store persists the invocation journal: one row per call made
// through a binding, the wasm host or a script.
//
// The journal is an audit trail only. Nothing reads it back to answer a call.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fibhost/internal/binding"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Sources of a journal entry.
const (
	SourceNative = "native"
	SourceWasm   = "wasm"
	SourceScript = "script"
)

// Entry is a single journaled call.
type Entry struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Name       string    `json:"name"`
	Args       []int64   `json:"args"`
	Result     int64     `json:"result"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Succeeded reports whether the call returned without error.
func (e Entry) Succeeded() bool {
	return e.Error == ""
}

// FromInvocation converts a binding invocation to a journal entry.
func FromInvocation(inv binding.Invocation, source string) Entry {
	e := Entry{
		ID:         inv.ID,
		Source:     source,
		Name:       inv.Name,
		Args:       inv.Args,
		Result:     inv.Result,
		DurationMs: inv.Duration.Milliseconds(),
		CreatedAt:  inv.StartedAt,
	}
	if inv.Err != nil {
		e.Error = inv.Err.Error()
	}
	return e
}

// Journal is a SQLite-backed invocation log. Thread-safe.
type Journal struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	logger *zap.Logger
}

// Open opens (creating if needed) the journal at path. ":memory:" is accepted.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// A single connection keeps ":memory:" databases alive across queries.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, dbPath: path, logger: logger}
	if err := j.ensureSchema(); err != nil {
		db.Close()
		logger.Error("Failed to ensure journal schema", zap.Error(err))
		return nil, fmt.Errorf("failed to ensure journal schema: %w", err)
	}

	logger.Debug("Journal opened", zap.String("path", path))
	return j, nil
}

// ensureSchema creates the invocations table if it doesn't exist.
func (j *Journal) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS invocations (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		name TEXT NOT NULL,
		args TEXT NOT NULL,
		result INTEGER NOT NULL,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invocations_name ON invocations(name);
	CREATE INDEX IF NOT EXISTS idx_invocations_created ON invocations(created_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends an entry.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.ID == "" {
		return fmt.Errorf("journal entry has no id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	args, err := json.Marshal(e.Args)
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO invocations (id, source, name, args, result, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Source, e.Name, string(args), e.Result, e.Error, e.DurationMs, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		j.logger.Error("Failed to record invocation", zap.String("id", e.ID), zap.Error(err))
		return fmt.Errorf("failed to record invocation %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, source, name, args, result, error, duration_ms, created_at
		FROM invocations
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			args    string
			errText sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Name, &args, &e.Result, &errText, &e.DurationMs, &created); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &e.Args); err != nil {
			return nil, fmt.Errorf("failed to decode args of %s: %w", e.ID, err)
		}
		e.Error = errText.String
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of journaled calls.
func (j *Journal) Count(ctx context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count journal: %w", err)
	}
	return n, nil
}

// Observer returns a binding observer that journals every call.
// Write failures are logged, never returned to the caller of the binding.
func (j *Journal) Observer(source string) func(binding.Invocation) {
	return func(inv binding.Invocation) {
		if err := j.Record(context.Background(), FromInvocation(inv, source)); err != nil {
			j.logger.Warn("Dropping journal entry", zap.String("id", inv.ID), zap.Error(err))
		}
	}
}

// Path returns the database path.
func (j *Journal) Path() string {
	return j.dbPath
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
