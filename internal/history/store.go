package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	scenario_id  TEXT NOT NULL,
	score        REAL NOT NULL,
	stop_error_m REAL NOT NULL,
	overshoot    INTEGER NOT NULL,
	final_notch  INTEGER NOT NULL,
	finished_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, finished_at);
`

// Run is one persisted run record.
type Run struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	ScenarioID string    `json:"scenario_id"`
	Score      float64   `json:"score"`
	StopErrorM float64   `json:"stop_error_m"`
	Overshoot  bool      `json:"overshoot"`
	FinalNotch int       `json:"final_notch"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store persists finished runs to a local SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// the driver is file-backed; a single writer avoids SQLITE_BUSY churn
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordRun inserts one finished run.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, session_id, scenario_id, score, stop_error_m, overshoot, final_notch, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SessionID, run.ScenarioID, run.Score, run.StopErrorM,
		run.Overshoot, run.FinalNotch, run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, scenario_id, score, stop_error_m, overshoot, final_notch, finished_at
		 FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ScenarioID, &r.Score,
			&r.StopErrorM, &r.Overshoot, &r.FinalNotch, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
