package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/selfheal/internal/config"
	"github.com/lucasnoah/selfheal/internal/history"
	"github.com/lucasnoah/selfheal/internal/report"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded self-heal runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-10s %-19s %-8s %-4s %s\n", "RUN", "STATE", "STARTED", "DURATION", "EXIT", "FIXED BY")
		fmt.Fprintf(w, "%-36s %-10s %-19s %-8s %-4s %s\n",
			strings.Repeat("-", 36),
			strings.Repeat("-", 10),
			strings.Repeat("-", 19),
			strings.Repeat("-", 8),
			strings.Repeat("-", 4),
			strings.Repeat("-", 8))
		for _, r := range runs {
			fmt.Fprintf(w, "%-36s %-10s %-19s %-8s %-4d %s\n",
				r.ID, r.State, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.FinishedAt.Sub(r.StartedAt).Round(time.Second), r.ExitCode, r.FixedBy)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show the stage-by-stage record of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		run, stages, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %q not found", args[0])
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run:      %s\n", run.ID)
		fmt.Fprintf(w, "Dir:      %s\n", run.Dir)
		fmt.Fprintf(w, "State:    %s (exit %d)\n", run.State, run.ExitCode)
		fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
		fmt.Fprintf(w, "Duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		fmt.Fprintf(w, "Baseline: %s\n", run.BaselineProbe)
		if run.FixedBy != "" {
			fmt.Fprintf(w, "Fixed by: %s\n", run.FixedBy)
		}
		if run.DirtyAtStart {
			fmt.Fprintln(w, "Note:     working tree was dirty before the run")
		}
		if run.Error != "" {
			fmt.Fprintf(w, "Error:    %s\n", run.Error)
		}
		fmt.Fprintln(w)
		for _, st := range stages {
			if !st.Attempted {
				fmt.Fprintf(w, "[SKIP] %d. %s - %s\n", st.Index+1, st.Name, st.SkipReason)
				continue
			}
			fmt.Fprintf(w, "%s %d. %s - %s (%dms) probe=%s changed=%t\n",
				report.Label(st.Succeeded), st.Index+1, st.Name, st.Commands, st.DurationMs, st.Probe, st.Changed)
		}
		return nil
	},
}

// openHistory uses the configured store, or the default SQLite store when no
// config file is found.
func openHistory(cmd *cobra.Command) (history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		if configFile != "" {
			return nil, err
		}
		return history.Open(cmd.Context(), config.History{
			Driver: config.HistorySQLite,
			DSN:    os.Getenv(config.EnvHistoryDSN),
		})
	}
	if cfg.SelfHeal.History.Driver == config.HistoryNone {
		return nil, fmt.Errorf("history is disabled (selfheal.history.driver: none)")
	}
	return history.Open(cmd.Context(), cfg.SelfHeal.History)
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	historyCmd.AddCommand(historyShowCmd)
}
