package decision

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/raedjah1/adtbot/internal/workflow"
)

const patternSchema = `CREATE TABLE IF NOT EXISTS decision_patterns (
	intent     TEXT NOT NULL,
	context    TEXT NOT NULL,
	action     TEXT NOT NULL,
	successes  INTEGER NOT NULL DEFAULT 0,
	failures   INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (intent, context, action)
);`

// SQLitePatternStore persists patterns in a SQLite database file.
type SQLitePatternStore struct {
	db *sql.DB
}

// OpenSQLitePatternStore opens (creating if needed) the database at path.
// Use ":memory:" for a throwaway database.
func OpenSQLitePatternStore(ctx context.Context, path string) (*SQLitePatternStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pattern db: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, patternSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create pattern schema: %w", err)
	}
	return &SQLitePatternStore{db: db}, nil
}

// Load reads every stored pattern.
func (s *SQLitePatternStore) Load(ctx context.Context) ([]Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT intent, context, action, successes, failures, updated_at
		 FROM decision_patterns ORDER BY intent, context, action`)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []Pattern
	for rows.Next() {
		var (
			p         Pattern
			ctxType   string
			action    string
			updatedAt int64
		)
		if err := rows.Scan(&p.Intent, &ctxType, &action, &p.Successes, &p.Failures, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Context = ContextType(ctxType)
		p.Action = workflow.ActionType(action)
		p.UpdatedAt = time.UnixMilli(updatedAt)
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// Save upserts patterns in one transaction. Stored counts are replaced, not
// incremented.
func (s *SQLitePatternStore) Save(ctx context.Context, patterns []Pattern) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO decision_patterns (intent, context, action, successes, failures, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (intent, context, action) DO UPDATE SET
		   successes = excluded.successes,
		   failures = excluded.failures,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range patterns {
		if _, err = stmt.ExecContext(ctx,
			p.Intent, string(p.Context), string(p.Action),
			p.Successes, p.Failures, p.UpdatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("upsert pattern %s/%s/%s: %w", p.Intent, p.Context, p.Action, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLitePatternStore) Close() error {
	return s.db.Close()
}
