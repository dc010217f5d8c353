package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/checks"
	"github.com/lucasnoah/fixloop/internal/config"
	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/report"
	"github.com/lucasnoah/fixloop/internal/runs"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

// errRunFailed makes the command exit non-zero when issues remain.
var errRunFailed = errors.New("fix run failed: iteration budget exhausted")

var fixCmd = &cobra.Command{
	Use:   "fix FILE",
	Short: "Fix the issues listed for a Python file",
	Long: `Run the fix-and-test loop on FILE. Issues come from --issues (a YAML or JSON
list of {severity, description, line}) and, with --checks, from the configured
static-analysis checks run against FILE first.

The fixed code is printed (or written back with --write) and the run is
recorded in the history store unless --no-history is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		issuesPath, _ := cmd.Flags().GetString("issues")
		maxIter, _ := cmd.Flags().GetInt("max-iterations")
		write, _ := cmd.Flags().GetBool("write")
		showDiff, _ := cmd.Flags().GetBool("diff")
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
		issues, err := loadIssues(issuesPath)
		if err != nil {
			return err
		}
		if useChecks {
			found, err := checkIssues(cmd, cfg, path)
			if err != nil {
				return err
			}
			issues = issue.Dedup(append(issues, found...))
		}

		opts, err := workflowOptions(cmd, cfg)
		if err != nil {
			return err
		}
		engine := workflow.New(opts)

		stop := startSpinner(cmd, format, fmt.Sprintf("fixing %d issue(s) in %s", len(issues), filepath.Base(path)))
		start := time.Now()
		res := engine.FixCode(cmd.Context(), string(code), issues, maxIter)
		stop()

		if !noHistory {
			recordRun(cmd, cfg, path, res, time.Since(start))
		}

		if write && res.Changed() {
			if err := runs.WriteAtomic(path, []byte(res.FixedCode)); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", path)
		}

		if err := report.Print(cmd.OutOrStdout(), res, format); err != nil {
			return err
		}
		if showDiff {
			report.PrintDiff(cmd.OutOrStdout(), report.UnifiedDiff(filepath.Base(path), res.OriginalCode, res.FixedCode))
		}
		if res.Status == workflow.StatusFailed {
			return errRunFailed
		}
		return nil
	},
}

var fixBatchCmd = &cobra.Command{
	Use:   "fix-batch FILE...",
	Short: "Fix several files concurrently with the same issue list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issuesPath, _ := cmd.Flags().GetString("issues")
		maxIter, _ := cmd.Flags().GetInt("max-iterations")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		write, _ := cmd.Flags().GetBool("write")
		noHistory, _ := cmd.Flags().GetBool("no-history")

		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		issues, err := loadIssues(issuesPath)
		if err != nil {
			return err
		}

		jobs := make([]workflow.Job, 0, len(args))
		for _, path := range args {
			code, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			jobs = append(jobs, workflow.Job{Name: path, Code: string(code), Issues: issues, MaxIterations: maxIter})
		}

		opts, err := workflowOptions(cmd, cfg)
		if err != nil {
			return err
		}
		engine := workflow.New(opts)

		stop := startSpinner(cmd, format, fmt.Sprintf("fixing %d file(s)", len(jobs)))
		start := time.Now()
		results, err := engine.FixBatch(cmd.Context(), jobs, concurrency)
		stop()
		if err != nil {
			return err
		}

		failed := 0
		for _, jr := range results {
			if !noHistory {
				recordRun(cmd, cfg, jr.Name, jr.Result, time.Since(start))
			}
			if write && jr.Result.Changed() {
				if err := runs.WriteAtomic(jr.Name, []byte(jr.Result.FixedCode)); err != nil {
					return fmt.Errorf("write %s: %w", jr.Name, err)
				}
			}
			if jr.Result.Status == workflow.StatusFailed {
				failed++
			}
		}

		if format != report.FormatHuman {
			if err := report.Print(cmd.OutOrStdout(), results, format); err != nil {
				return err
			}
		} else {
			for _, jr := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "== %s\n", jr.Name)
				if err := report.Print(cmd.OutOrStdout(), jr.Result, format); err != nil {
					return err
				}
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
		}
		return nil
	},
}

// recordRun stores a run in history. Failures are reported on stderr and
// do not fail the command.
func recordRun(cmd *cobra.Command, cfg *config.Config, source string, res workflow.Result, dur time.Duration) {
	h, err := openHistory(cfg)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: run not recorded: %v\n", err)
		return
	}
	defer h.Close()
	id, err := h.record(cmd, source, res, dur)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: run not recorded: %v\n", err)
		return
	}
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "  → recorded run %s\n", id)
	}
}

// checkIssues runs the default checks against path and converts their
// findings into issues.
func checkIssues(cmd *cobra.Command, cfg *config.Config, path string) ([]issue.Issue, error) {
	gateChecks, err := cfg.GateChecks(cfg.Fixer.DefaultChecks...)
	if err != nil {
		return nil, err
	}
	runner := checks.NewRunner(&checks.ExecRunner{})
	_, results, err := runner.RunGate(cmd.Context(), path, checks.GateOpts{Checks: gateChecks, Continue: true})
	if err != nil {
		return nil, fmt.Errorf("run checks: %w", err)
	}
	return checks.ToIssues(results), nil
}

func init() {
	for _, c := range []*cobra.Command{fixCmd, fixBatchCmd} {
		c.Flags().String("issues", "", "YAML or JSON file listing the issues to fix")
		c.Flags().Int("max-iterations", 0, "iteration budget (default from config)")
		c.Flags().StringP("output", "o", "human", "output format: human, json or yaml")
		c.Flags().Bool("write", false, "write the fixed code back to the file")
		c.Flags().Bool("no-history", false, "do not record the run in history")
	}
	fixCmd.Flags().Bool("diff", false, "print a unified diff of the changes")
	fixCmd.Flags().Bool("checks", false, "add findings from the configured checks to the issue list")
	fixBatchCmd.Flags().Int("concurrency", 4, "files fixed in parallel")
}
