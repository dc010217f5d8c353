package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/checks"
	"github.com/lucasnoah/fixloop/internal/report"
)

var checkCmd = &cobra.Command{
	Use:   "check FILE [check-names...]",
	Short: "Run static-analysis checks (flake8, bandit, pylint, ...) on a file",
	Long: `Run the named checks from the config against FILE, or every configured check
when no names are given. Checks with auto_fix enabled may rewrite FILE.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		cont, _ := cmd.Flags().GetBool("continue")
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gateChecks, err := cfg.GateChecks(args[1:]...)
		if err != nil {
			return err
		}
		if len(gateChecks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No checks configured.")
			return nil
		}

		runner := checks.NewRunner(&checks.ExecRunner{})
		stop := startSpinner(cmd, format, fmt.Sprintf("running %d check(s)", len(gateChecks)))
		gate, results, err := runner.RunGate(cmd.Context(), path, checks.GateOpts{Checks: gateChecks, Continue: cont})
		stop()
		if err != nil {
			return err
		}

		switch format {
		case report.FormatJSON:
			out, err := gate.JSON()
			if err != nil {
				return fmt.Errorf("marshal gate result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
		case report.FormatYAML:
			if err := report.Print(cmd.OutOrStdout(), gate, format); err != nil {
				return err
			}
		default:
			for _, r := range results {
				statusIcon := "PASS"
				if !r.Passed {
					statusIcon = "FAIL"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s — %s (%dms)\n", statusIcon, r.CheckName, r.Summary, r.DurationMs)
				for _, f := range r.Findings {
					fmt.Fprintf(cmd.OutOrStdout(), "    %s:%d: %s %s\n", f.File, f.Line, f.Code, f.Message)
				}
			}
		}

		if !gate.Passed {
			return fmt.Errorf("%d check(s) failed", len(gate.RemainingFailures))
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().Bool("continue", false, "keep running checks after a failure")
	checkCmd.Flags().StringP("output", "o", "human", "output format: human, json or yaml")
}
