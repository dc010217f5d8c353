// Package report renders fix results for terminals and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/validate"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

// Format selects an output encoding.
type Format string

const (
	FormatHuman Format = "human"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts human, json or yaml (case-insensitive).
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatHuman, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatHuman, nil
	}
	return "", fmt.Errorf("unknown output format %q (supported: human, json, yaml)", s)
}

// Print writes v in the given format. Human output is defined for
// workflow.Result and validate.TestReport; other values fall back to YAML.
func Print(w io.Writer, v interface{}, format Format) error {
	switch format {
	case FormatJSON:
		return printJSON(w, v)
	case FormatYAML:
		return printYAML(w, v)
	}

	switch r := v.(type) {
	case workflow.Result:
		printResult(w, r)
	case *workflow.Result:
		printResult(w, *r)
	case validate.TestReport:
		printTestReport(w, r)
	case *validate.TestReport:
		printTestReport(w, *r)
	default:
		return printYAML(w, v)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}

func printYAML(w io.Writer, v interface{}) error {
	output, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, string(output))
	return err
}

func printResult(w io.Writer, r workflow.Result) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan, color.Bold)

	statusColor(r.Status).Fprintf(w, "Status: %s\n", strings.ToUpper(string(r.Status)))
	fmt.Fprintf(w, "Iterations: %d/%d\n", r.Iterations, r.MaxIterations)
	fmt.Fprintf(w, "Issues: %d handled, %d remaining\n", r.IssuesFixed, r.IssuesRemaining)

	if len(r.Steps) > 0 {
		fmt.Fprintln(w)
		cyan.Fprintln(w, "Steps:")
		for _, s := range r.Steps {
			fmt.Fprintf(w, "  %d. %s %s\n", s.Iteration, severityColor(s.Issue.Severity).Sprintf("[%s]", severityLabel(s.Issue.Severity)), s.Issue.Description)
			outcome := "no change"
			if s.Changed {
				outcome = color.GreenString("changed")
			}
			if s.RolledBack {
				outcome = color.YellowString("rolled back")
			}
			fmt.Fprintf(w, "     %s: %s\n", s.Strategy, outcome)
			if s.FallbackErr != "" {
				fmt.Fprintf(w, "     %s\n", color.HiBlackString("fallback: %s", s.FallbackErr))
			}
		}
	}

	if len(r.RemainingIssues) > 0 {
		fmt.Fprintln(w)
		color.New(color.FgYellow, color.Bold).Fprintln(w, "Remaining:")
		for _, iss := range r.RemainingIssues {
			fmt.Fprintf(w, "  - [%s] %s\n", severityLabel(iss.Severity), iss.Description)
		}
	}

	fmt.Fprintln(w)
	bold.Fprintln(w, "Last test report:")
	writeTestReport(w, r.LastTestReport, "  ")
}

func printTestReport(w io.Writer, r validate.TestReport) {
	writeTestReport(w, r, "")
}

func writeTestReport(w io.Writer, r validate.TestReport, indent string) {
	if r.Passed {
		fmt.Fprintf(w, "%s%s\n", indent, color.GreenString("passed"))
	} else {
		fmt.Fprintf(w, "%s%s\n", indent, color.RedString("failed"))
	}
	syntax := color.GreenString("valid")
	if !r.SyntaxValid {
		syntax = color.RedString("invalid")
	}
	fmt.Fprintf(w, "%ssyntax: %s\n", indent, syntax)
	for _, e := range r.SyntaxErrors {
		fmt.Fprintf(w, "%s  %s\n", indent, e)
	}
	if len(r.FlaggedPatterns) > 0 {
		fmt.Fprintf(w, "%sflagged: %s\n", indent, color.YellowString(strings.Join(r.FlaggedPatterns, ", ")))
	}
}

func statusColor(s workflow.Status) *color.Color {
	switch s {
	case workflow.StatusDone:
		return color.New(color.FgGreen, color.Bold)
	case workflow.StatusFailed:
		return color.New(color.FgRed, color.Bold)
	}
	return color.New(color.FgYellow, color.Bold)
}

func severityColor(s issue.Severity) *color.Color {
	switch s {
	case issue.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case issue.SeverityHigh:
		return color.New(color.FgRed)
	case issue.SeverityMedium:
		return color.New(color.FgYellow)
	case issue.SeverityLow:
		return color.New(color.FgBlue)
	}
	return color.New(color.FgWhite)
}

func severityLabel(s issue.Severity) string {
	if s == "" {
		return "Unknown"
	}
	return string(s)
}

// PrintDiff writes a unified diff, coloring added and removed lines.
func PrintDiff(w io.Writer, d string) {
	for _, line := range strings.SplitAfter(d, "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			color.New(color.Bold).Fprint(w, line)
		case strings.HasPrefix(line, "@@"):
			color.New(color.FgCyan).Fprint(w, line)
		case strings.HasPrefix(line, "+"):
			color.New(color.FgGreen).Fprint(w, line)
		case strings.HasPrefix(line, "-"):
			color.New(color.FgRed).Fprint(w, line)
		default:
			fmt.Fprint(w, line)
		}
	}
}
