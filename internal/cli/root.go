package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "selfheal",
	Short: "Apply ordered repairs until the healthcheck passes",
	Long: `selfheal runs a project's healthcheck and, while it fails, applies an ordered
list of repair stages (format, dependency install, reinstall, ...), re-running
the healthcheck after each. It stops at the first passing healthcheck.

A run succeeds only if the healthcheck passes after a repair actually changed
the working tree, or if the healthcheck was already passing. Run history is
stored in ~/.selfheal/history.db unless configured otherwise.

Running selfheal with no subcommand is the same as "selfheal run".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSelfHeal,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "", "path to selfheal config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format: console or json")
	addRunFlags(rootCmd)
	addRunFlags(runCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}
