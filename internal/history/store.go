// Package history records finished self-heal runs so operators can see which
// stage fixed what, and how often the loop gives up.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/selfheal/internal/config"
	"github.com/lucasnoah/selfheal/internal/heal"
)

// Store persists runs.
type Store interface {
	Record(ctx context.Context, run *heal.Run, dir string) error
	List(ctx context.Context, limit int) ([]RunRecord, error)
	Get(ctx context.Context, id string) (*RunRecord, []StageRecord, error)
	Close() error
}

// RunRecord represents a row in the runs table.
type RunRecord struct {
	ID            string
	Dir           string
	State         string
	Fixed         bool
	FixedBy       string
	DirtyAtStart  bool
	BaselineProbe string
	FinalProbe    string
	ExitCode      int
	StagesRun     int
	StartedAt     time.Time
	FinishedAt    time.Time
	Error         string
}

// StageRecord represents a row in the stage_results table.
type StageRecord struct {
	RunID        string
	Index        int
	Name         string
	When         string
	Attempted    bool
	Succeeded    bool
	SkipReason   string
	Precondition string
	Probe        string
	Changed      bool
	DurationMs   int64
	Commands     string // winning command per logical command, "; "-joined
}

// Records converts a finished run to rows.
func Records(run *heal.Run, dir string) (RunRecord, []StageRecord) {
	rr := RunRecord{
		ID:            run.ID,
		Dir:           dir,
		State:         string(run.State),
		Fixed:         run.Fixed,
		FixedBy:       run.FixedBy,
		DirtyAtStart:  run.DirtyAtStart,
		BaselineProbe: string(run.BaselineProbe),
		FinalProbe:    string(run.FinalProbe),
		ExitCode:      run.ExitCode(),
		StagesRun:     len(run.Executed()),
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		Error:         run.Error,
	}

	stages := make([]StageRecord, 0, len(run.Stages))
	for _, s := range run.Stages {
		var cmds []string
		for _, c := range s.Outcome.Commands {
			if c.Winner != "" {
				cmds = append(cmds, c.Winner)
			} else if n := len(c.Attempts); n > 0 {
				cmds = append(cmds, c.Attempts[n-1].Command+" (failed)")
			}
		}
		stages = append(stages, StageRecord{
			RunID:        run.ID,
			Index:        s.Index,
			Name:         s.Name,
			When:         s.When,
			Attempted:    s.Outcome.Attempted,
			Succeeded:    s.Outcome.Succeeded,
			SkipReason:   s.Outcome.SkipReason,
			Precondition: string(s.Precondition),
			Probe:        string(s.Probe),
			Changed:      s.Changed,
			DurationMs:   s.Outcome.Duration.Milliseconds(),
			Commands:     strings.Join(cmds, "; "),
		})
	}
	return rr, stages
}

// DefaultSQLitePath returns ~/.selfheal/history.db, creating the directory if
// needed. History lives outside the project so recording a run never dirties
// the working tree the change detector watches.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".selfheal")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open returns the store configured by cfg.
func Open(ctx context.Context, cfg config.History) (Store, error) {
	switch cfg.Driver {
	case config.HistoryNone:
		return Nop{}, nil
	case config.HistoryPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	case "", config.HistorySQLite:
		path := cfg.DSN
		if path == "" {
			var err error
			if path, err = DefaultSQLitePath(); err != nil {
				return nil, err
			}
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// Nop discards runs.
type Nop struct{}

func (Nop) Record(context.Context, *heal.Run, string) error { return nil }
func (Nop) List(context.Context, int) ([]RunRecord, error) { return nil, nil }
func (Nop) Get(_ context.Context, id string) (*RunRecord, []StageRecord, error) {
	return nil, nil, nil
}
func (Nop) Close() error { return nil }
