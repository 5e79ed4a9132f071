// Package audit keeps an operator-facing journal of tool dispatches in
// SQLite, including calls that were refused or had no effect.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/suraboy/weather-insight/internal/types"
)

// Journal persists dispatch records.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	j, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// New creates a journal on an existing database, running migrations on
// first use.
func New(db *sql.DB) (*Journal, error) {
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatches (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			call_id    TEXT NOT NULL,
			tool       TEXT NOT NULL,
			arguments  TEXT NOT NULL,
			route      TEXT NOT NULL DEFAULT '',
			query      TEXT NOT NULL DEFAULT '',
			result     TEXT NOT NULL,
			outcome    TEXT NOT NULL,
			at         TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = j.db.Exec(`CREATE INDEX IF NOT EXISTS idx_dispatches_session ON dispatches(session_id)`)
	return err
}

// Record appends one dispatch.
func (j *Journal) Record(ctx context.Context, rec *types.DispatchRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO dispatches (session_id, call_id, tool, arguments, route, query, result, outcome, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.SessionID), rec.CallID, rec.Tool, rec.Arguments,
		rec.Route, rec.Query, rec.Result, rec.Outcome,
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*types.DispatchRecord, error) {
	return j.query(ctx,
		`SELECT session_id, call_id, tool, arguments, route, query, result, outcome, at
		 FROM dispatches ORDER BY id DESC LIMIT ?`, limit)
}

// BySession returns a session's records in dispatch order.
func (j *Journal) BySession(ctx context.Context, sessionID types.SessionID) ([]*types.DispatchRecord, error) {
	return j.query(ctx,
		`SELECT session_id, call_id, tool, arguments, route, query, result, outcome, at
		 FROM dispatches WHERE session_id = ? ORDER BY id ASC`, string(sessionID))
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]*types.DispatchRecord, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	var out []*types.DispatchRecord
	for rows.Next() {
		var (
			rec       types.DispatchRecord
			sessionID string
			at        string
		)
		if err := rows.Scan(&sessionID, &rec.CallID, &rec.Tool, &rec.Arguments,
			&rec.Route, &rec.Query, &rec.Result, &rec.Outcome, &at); err != nil {
			return nil, err
		}
		rec.SessionID = types.SessionID(sessionID)
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
