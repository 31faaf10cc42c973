package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lucasnoah/selfheal/internal/heal"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite stores history in a local SQLite database.
type SQLite struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens or creates the database at the given path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &SQLite{conn: conn, path: path}
	if err := s.Migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
    id             TEXT PRIMARY KEY,
    dir            TEXT NOT NULL,
    state          TEXT NOT NULL CHECK(state IN ('PENDING','CONVERGED','HEALTHY','EXHAUSTED','ABORTED')),
    fixed          BOOLEAN NOT NULL,
    fixed_by       TEXT,
    dirty_at_start BOOLEAN NOT NULL,
    baseline_probe TEXT,
    final_probe    TEXT,
    exit_code      INTEGER NOT NULL,
    stages_run     INTEGER NOT NULL,
    started_at     TEXT NOT NULL,
    finished_at    TEXT NOT NULL,
    error          TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS stage_results (
    run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    idx           INTEGER NOT NULL,
    name          TEXT NOT NULL,
    run_when      TEXT NOT NULL,
    attempted     BOOLEAN NOT NULL,
    succeeded     BOOLEAN NOT NULL,
    skip_reason   TEXT,
    precondition  TEXT,
    probe         TEXT,
    changed       BOOLEAN NOT NULL,
    duration_ms   INTEGER NOT NULL,
    commands      TEXT,
    PRIMARY KEY (run_id, idx)
);
`

// Migrate applies the database schema.
func (s *SQLite) Migrate() error {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sqliteSchemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Record inserts a finished run and its stage results.
func (s *SQLite) Record(ctx context.Context, run *heal.Run, dir string) error {
	rr, stages := Records(run, dir)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, dir, state, fixed, fixed_by, dirty_at_start, baseline_probe, final_probe,
		                   exit_code, stages_run, started_at, finished_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rr.ID, rr.Dir, rr.State, rr.Fixed, rr.FixedBy, rr.DirtyAtStart, rr.BaselineProbe, rr.FinalProbe,
		rr.ExitCode, rr.StagesRun, rr.StartedAt.UTC().Format(sqliteTimeFormat), rr.FinishedAt.UTC().Format(sqliteTimeFormat), rr.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, st := range stages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO stage_results (run_id, idx, name, run_when, attempted, succeeded, skip_reason,
			                            precondition, probe, changed, duration_ms, commands)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.RunID, st.Index, st.Name, st.When, st.Attempted, st.Succeeded, st.SkipReason,
			st.Precondition, st.Probe, st.Changed, st.DurationMs, st.Commands,
		)
		if err != nil {
			return fmt.Errorf("insert stage %q: %w", st.Name, err)
		}
	}
	return tx.Commit()
}

const sqliteRunColumns = `id, dir, state, fixed, COALESCE(fixed_by, ''), dirty_at_start, COALESCE(baseline_probe, ''),
	COALESCE(final_probe, ''), exit_code, stages_run, started_at, finished_at, COALESCE(error, '')`

// List returns the most recent runs, newest first.
func (s *SQLite) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Get returns a run and its stage results, or nil if no run has that ID.
func (s *SQLite) Get(ctx context.Context, id string) (*RunRecord, []StageRecord, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanSQLiteRun(row)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT run_id, idx, name, run_when, attempted, succeeded, COALESCE(skip_reason, ''),
		        COALESCE(precondition, ''), COALESCE(probe, ''), changed, duration_ms, COALESCE(commands, '')
		 FROM stage_results WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get stage results: %w", err)
	}
	defer rows.Close()

	var stages []StageRecord
	for rows.Next() {
		var st StageRecord
		if err := rows.Scan(&st.RunID, &st.Index, &st.Name, &st.When, &st.Attempted, &st.Succeeded, &st.SkipReason,
			&st.Precondition, &st.Probe, &st.Changed, &st.DurationMs, &st.Commands); err != nil {
			return nil, nil, fmt.Errorf("scan stage result: %w", err)
		}
		stages = append(stages, st)
	}
	return run, stages, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteRun(row scanner) (*RunRecord, error) {
	var r RunRecord
	var started, finished string
	err := row.Scan(&r.ID, &r.Dir, &r.State, &r.Fixed, &r.FixedBy, &r.DirtyAtStart, &r.BaselineProbe,
		&r.FinalProbe, &r.ExitCode, &r.StagesRun, &started, &finished, &r.Error)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if r.StartedAt, err = time.Parse(sqliteTimeFormat, started); err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	if r.FinishedAt, err = time.Parse(sqliteTimeFormat, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at %q: %w", finished, err)
	}
	return &r, nil
}
