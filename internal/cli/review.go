package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/checks"
	"github.com/lucasnoah/fixloop/internal/report"
	"github.com/lucasnoah/fixloop/internal/review"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

var reviewCmd = &cobra.Command{
	Use:   "review FILE",
	Short: "Review a Python file with the analysis agents",
	Long: `Ask the code analyzer, security reviewer and performance optimizer agents to
review FILE, extract the issues they report and, with --fix, run the
fix-and-test loop on them. With --checks the configured static-analysis checks
run first and their findings are shared with the agents.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		fix, _ := cmd.Flags().GetBool("fix")
		maxIter, _ := cmd.Flags().GetInt("max-iterations")
		useChecks, _ := cmd.Flags().GetBool("checks")
		noHistory, _ := cmd.Flags().GetBool("no-history")

		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		code, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		logger := newLogger(cmd)
		c, err := newCompleter(cfg, logger, true)
		if err != nil {
			return err
		}
		ropts := []review.Option{
			review.WithTemplateDir(cfg.TemplatesDir),
			review.WithLogger(logger),
			review.WithProgress(progressWriter(cmd)),
		}
		if useChecks {
			gateChecks, err := cfg.GateChecks(cfg.Fixer.DefaultChecks...)
			if err != nil {
				return err
			}
			ropts = append(ropts, review.WithChecks(checks.NewRunner(&checks.ExecRunner{}), checks.GateOpts{Checks: gateChecks}))
		}
		reviewer := review.New(c, ropts...)

		var engine *workflow.Engine
		if fix {
			opts, err := workflowOptions(cmd, cfg)
			if err != nil {
				return err
			}
			engine = workflow.New(opts)
		}

		stop := startSpinner(cmd, format, "reviewing "+filepath.Base(path))
		start := time.Now()
		rep, err := review.ReviewAndFix(cmd.Context(), reviewer, engine, string(code), maxIter)
		stop()
		if err != nil {
			return err
		}
		if rep.Fix != nil && !noHistory {
			recordRun(cmd, cfg, path, *rep.Fix, time.Since(start))
		}

		if format != report.FormatHuman {
			return report.Print(cmd.OutOrStdout(), rep, format)
		}
		printReview(cmd, rep)
		if rep.Fix != nil {
			fmt.Fprintln(cmd.OutOrStdout())
			return report.Print(cmd.OutOrStdout(), *rep.Fix, format)
		}
		return nil
	},
}

func printReview(cmd *cobra.Command, rep *review.Report) {
	w := cmd.OutOrStdout()
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Review: %d issue(s) found\n", rep.IssuesFound)
	if rep.Message != "" {
		fmt.Fprintf(w, "  %s\n", rep.Message)
	}
	for _, iss := range rep.Issues {
		if iss.Agent != "" {
			fmt.Fprintf(w, "  - %s (%s)\n", iss, iss.Agent)
		} else {
			fmt.Fprintf(w, "  - %s\n", iss)
		}
	}
}

func init() {
	reviewCmd.Flags().Bool("fix", false, "run the fix loop on the extracted issues")
	reviewCmd.Flags().Int("max-iterations", 0, "iteration budget for --fix (default from config)")
	reviewCmd.Flags().Bool("checks", false, "run the configured checks and share their findings with the agents")
	reviewCmd.Flags().StringP("output", "o", "human", "output format: human, json or yaml")
	reviewCmd.Flags().Bool("no-history", false, "do not record the fix run in history")
}
