package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "fixloop",
	Short: "fixloop — iterative fix-and-test for Python code",
	Long: `fixloop repairs Python code one reported issue at a time. Each iteration
applies a deterministic rewrite rule (or, failing that, a language-model fix),
validates the result and routes to the next issue until the list is empty or
the iteration budget is spent.

Configuration is read from --config, ./fixloop.yaml or ~/.fixloop/config.yaml.
Run history is stored in ~/.fixloop/ (SQLite or Postgres for runs, files for
artifacts).`,
	SilenceUsage: true,
}

// Execute runs the root command; SIGINT and SIGTERM cancel its context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to fixloop config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print progress and debug logs to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(fixBatchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
}
