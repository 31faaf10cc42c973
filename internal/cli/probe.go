package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/selfheal/internal/report"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run the healthcheck once without repairing anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dir, err := loadValidConfig(cmd)
		if err != nil {
			return err
		}
		log, err := newLogger(cmd)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outcome, err := newProbe(cfg, dir, newRunner(cmd, false), log).Check(ctx)
		if err != nil {
			return &ExitError{Code: 1, Err: err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s healthcheck - %s\n", report.Label(outcome.Passed()), cfg.SelfHeal.Healthcheck.Command)
		if !outcome.Passed() {
			return &ExitError{Code: 1}
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().String("dir", "", "project directory (overrides selfheal.dir)")
}
