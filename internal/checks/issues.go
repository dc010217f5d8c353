package checks

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/fixloop/internal/issue"
)

// ToIssues turns check findings into workflow issues, so tools can supply
// issues the same way the review agents do. Each issue's Agent is the
// check name.
func ToIssues(results []*Result) []issue.Issue {
	var out []issue.Issue
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, f := range r.Findings {
			desc := f.Message
			if f.Code != "" {
				desc = fmt.Sprintf("%s: %s", f.Code, f.Message)
			}
			iss := issue.Issue{
				Severity:    findingSeverity(f),
				Description: desc,
				Agent:       r.CheckName,
			}
			if f.Line > 0 {
				iss = iss.AtLine(f.Line)
			}
			out = append(out, iss)
		}
	}
	return out
}

func findingSeverity(f Finding) issue.Severity {
	switch strings.ToLower(f.Severity) {
	case "critical", "fatal":
		return issue.SeverityCritical
	case "high":
		return issue.SeverityHigh
	case "medium", "error":
		return issue.SeverityMedium
	}
	return issue.SeverityLow
}

// Summarize renders findings as "- [check] line N: CODE message" lines for
// prompts and terminal output.
func Summarize(results []*Result) string {
	var sb strings.Builder
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, f := range r.Findings {
			fmt.Fprintf(&sb, "- [%s] ", r.CheckName)
			if f.Line > 0 {
				fmt.Fprintf(&sb, "line %d: ", f.Line)
			}
			if f.Code != "" {
				sb.WriteString(f.Code + " ")
			}
			sb.WriteString(f.Message)
			sb.WriteString("\n")
		}
		if len(r.Findings) == 0 && !r.Passed && r.Output != "" {
			fmt.Fprintf(&sb, "- [%s] %s\n", r.CheckName, strings.TrimSpace(r.Output))
		}
	}
	return sb.String()
}
