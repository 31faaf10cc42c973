package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucasnoah/selfheal/internal/heal"
)

// Postgres stores history in a shared PostgreSQL database, for teams that run
// self-heal from CI on many machines.
type Postgres struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS selfheal_runs (
    id             TEXT PRIMARY KEY,
    dir            TEXT NOT NULL,
    state          TEXT NOT NULL,
    fixed          BOOLEAN NOT NULL,
    fixed_by       TEXT NOT NULL DEFAULT '',
    dirty_at_start BOOLEAN NOT NULL,
    baseline_probe TEXT NOT NULL DEFAULT '',
    final_probe    TEXT NOT NULL DEFAULT '',
    exit_code      INTEGER NOT NULL,
    stages_run     INTEGER NOT NULL,
    started_at     TIMESTAMPTZ NOT NULL,
    finished_at    TIMESTAMPTZ NOT NULL,
    error          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_selfheal_runs_started ON selfheal_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS selfheal_stage_results (
    run_id       TEXT NOT NULL REFERENCES selfheal_runs(id) ON DELETE CASCADE,
    idx          INTEGER NOT NULL,
    name         TEXT NOT NULL,
    run_when     TEXT NOT NULL,
    attempted    BOOLEAN NOT NULL,
    succeeded    BOOLEAN NOT NULL,
    skip_reason  TEXT NOT NULL DEFAULT '',
    precondition TEXT NOT NULL DEFAULT '',
    probe        TEXT NOT NULL DEFAULT '',
    changed      BOOLEAN NOT NULL,
    duration_ms  BIGINT NOT NULL,
    commands     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, idx)
);
`

// OpenPostgres connects to dsn and creates the history tables if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Record inserts a finished run and its stage results in one transaction.
func (p *Postgres) Record(ctx context.Context, run *heal.Run, dir string) error {
	rr, stages := Records(run, dir)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO selfheal_runs (id, dir, state, fixed, fixed_by, dirty_at_start, baseline_probe, final_probe,
		                            exit_code, stages_run, started_at, finished_at, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rr.ID, rr.Dir, rr.State, rr.Fixed, rr.FixedBy, rr.DirtyAtStart, rr.BaselineProbe, rr.FinalProbe,
		rr.ExitCode, rr.StagesRun, rr.StartedAt, rr.FinishedAt, rr.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, st := range stages {
		_, err := tx.Exec(ctx,
			`INSERT INTO selfheal_stage_results (run_id, idx, name, run_when, attempted, succeeded, skip_reason,
			                                     precondition, probe, changed, duration_ms, commands)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			st.RunID, st.Index, st.Name, st.When, st.Attempted, st.Succeeded, st.SkipReason,
			st.Precondition, st.Probe, st.Changed, st.DurationMs, st.Commands,
		)
		if err != nil {
			return fmt.Errorf("insert stage %q: %w", st.Name, err)
		}
	}
	return tx.Commit(ctx)
}

const postgresRunColumns = `id, dir, state, fixed, fixed_by, dirty_at_start, baseline_probe, final_probe,
	exit_code, stages_run, started_at, finished_at, error`

// List returns the most recent runs, newest first.
func (p *Postgres) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+postgresRunColumns+` FROM selfheal_runs ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Get returns a run and its stage results, or nil if no run has that ID.
func (p *Postgres) Get(ctx context.Context, id string) (*RunRecord, []StageRecord, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+postgresRunColumns+` FROM selfheal_runs WHERE id = $1`, id)
	run, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := p.pool.Query(ctx,
		`SELECT run_id, idx, name, run_when, attempted, succeeded, skip_reason,
		        precondition, probe, changed, duration_ms, commands
		 FROM selfheal_stage_results WHERE run_id = $1 ORDER BY idx`, id)
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

func scanPostgresRun(row pgx.Row) (*RunRecord, error) {
	var r RunRecord
	err := row.Scan(&r.ID, &r.Dir, &r.State, &r.Fixed, &r.FixedBy, &r.DirtyAtStart, &r.BaselineProbe,
		&r.FinalProbe, &r.ExitCode, &r.StagesRun, &r.StartedAt, &r.FinishedAt, &r.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &r, nil
}
