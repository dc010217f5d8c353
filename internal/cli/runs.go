package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/analytics"
	"github.com/lucasnoah/fixloop/internal/db"
	"github.com/lucasnoah/fixloop/internal/report"
	"github.com/lucasnoah/fixloop/internal/runs"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded fix runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		h, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer h.Close()

		list, err := h.db.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tITER\tFIXED\tLEFT\tCREATED")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
				r.ID, r.Source, r.Status, r.Iterations, r.MaxIterations, r.IssuesFixed, r.IssuesRemaining, r.CreatedAt)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		showDiff, _ := cmd.Flags().GetBool("diff")
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		h, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer h.Close()

		rec, err := h.runs.Get(id)
		if err != nil {
			if errors.Is(err, runs.ErrNotFound) {
				return showFromDB(cmd, h, id, format)
			}
			return err
		}

		if format == report.FormatHuman {
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s (%s, %s)\n", rec.ID, rec.Source, rec.CreatedAt)
		}
		if err := report.Print(cmd.OutOrStdout(), rec.Result, format); err != nil {
			return err
		}
		if showDiff {
			d, err := h.runs.Diff(id)
			if err != nil {
				return err
			}
			report.PrintDiff(cmd.OutOrStdout(), d)
		}
		return nil
	},
}

// showFromDB prints the database record of a run whose artifacts are gone.
func showFromDB(cmd *cobra.Command, h *history, id string, format report.Format) error {
	run, err := h.db.GetRun(cmd.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrRunNotFound) {
			return fmt.Errorf("run %s not found", id)
		}
		return err
	}
	its, err := h.db.RunIterations(cmd.Context(), id)
	if err != nil {
		return err
	}
	return report.Print(cmd.OutOrStdout(), map[string]interface{}{"run": run, "iterations": its}, format)
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a recorded run and its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		h, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer h.Close()

		errFiles := h.runs.Delete(id)
		errDB := h.db.DeleteRun(cmd.Context(), id)
		if errors.Is(errFiles, runs.ErrNotFound) && errors.Is(errDB, db.ErrRunNotFound) {
			return fmt.Errorf("run %s not found", id)
		}
		if errFiles != nil && !errors.Is(errFiles, runs.ErrNotFound) {
			return errFiles
		}
		if errDB != nil && !errors.Is(errDB, db.ErrRunNotFound) {
			return errDB
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted run %s\n", id)
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics over recorded runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		rep, err := analytics.QueryReport(d, since)
		if err != nil {
			return err
		}
		if format != report.FormatHuman {
			return report.Print(cmd.OutOrStdout(), rep, format)
		}
		printStats(cmd, rep)
		return nil
	},
}

func printStats(cmd *cobra.Command, rep *analytics.Report) {
	out := cmd.OutOrStdout()
	s := rep.Summary
	fmt.Fprintf(out, "Runs: %d (done %d, failed %d, %.1f%% done), avg %.1f iteration(s)\n",
		s.Runs, s.Done, s.Failed, s.DonePct, s.AvgIterations)
	fmt.Fprintf(out, "Issues: %d handled, %d left unhandled\n", s.IssuesFixed, s.IssuesRemaining)
	if s.Runs == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTRATEGY\tTOTAL\tCHANGED%\tPASSED%\tROLLED BACK%")
	for _, r := range rep.Strategies {
		fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\n", r.Strategy, r.Total, r.Changed, r.Passed, r.RolledBack)
	}
	w.Flush()

	it := rep.Iterations
	fmt.Fprintf(out, "\nIterations: 0: %.1f%%  1: %.1f%%  2: %.1f%%  3+: %.1f%%  exhausted: %.1f%%\n",
		it.Zero, it.One, it.Two, it.ThreePlus, it.Exhausted)

	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nDAY\tRUNS\tDONE\tFAILED\tAVG ITER")
	for _, t := range rep.Throughput {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f\n", t.Period, t.Runs, t.Done, t.Failed, t.AvgIterations)
	}
	w.Flush()

	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nISSUE\tSEVERITY\tCOUNT\tPASSED%\tSTRATEGIES")
	for _, c := range rep.CommonIssues {
		desc := c.Description
		if len(desc) > 50 {
			desc = desc[:47] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%s\n", desc, c.Severity, c.Count, c.Passed, c.Strategies)
	}
	w.Flush()
}

func init() {
	runsStatsCmd.Flags().String("since", "", "only runs created at or after this date (2006-01-02 or RFC 3339)")
	runsStatsCmd.Flags().StringP("output", "o", "human", "output format: human, json or yaml")
	runsCmd.AddCommand(runsStatsCmd)

	runsListCmd.Flags().Int("limit", 20, "maximum runs to list")
	runsShowCmd.Flags().Bool("diff", false, "print the stored diff")
	runsShowCmd.Flags().StringP("output", "o", "human", "output format: human, json or yaml")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
}
