package review

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasnoah/fixloop/internal/issue"
)

var lineNumberRe = regexp.MustCompile(`\d+`)

// issueSpeakers are the transcript speakers whose replies carry issues.
var issueSpeakers = map[string]bool{
	AgentCodeAnalyzer:         true,
	AgentSecurityReviewer:     true,
	AgentPerformanceOptimizer: true,
}

// ExtractIssues parses "- Issue type:" blocks out of the reviewer messages.
// Blocks without both a severity and a description are dropped. The result
// is de-duplicated by issue.Key and sorted by severity.
func ExtractIssues(t Transcript) []issue.Issue {
	var found []issue.Issue
	for _, msg := range t.Messages {
		if !issueSpeakers[msg.Speaker] {
			continue
		}
		found = append(found, parseMessage(msg)...)
	}
	return issue.SortBySeverity(issue.Dedup(found))
}

// draft is an issue being assembled line by line.
type draft struct {
	severity    issue.Severity
	description string
	line        *int
}

func (d draft) complete() bool {
	return d.severity != "" && d.description != ""
}

func parseMessage(msg Message) []issue.Issue {
	var (
		out []issue.Issue
		cur draft
	)
	flush := func() {
		if !cur.complete() {
			return
		}
		iss := issue.Issue{Severity: cur.severity, Description: cur.description, Agent: msg.Speaker}
		if cur.line != nil {
			iss = iss.AtLine(*cur.line)
		}
		out = append(out, iss)
	}

	for _, raw := range strings.Split(msg.Content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		switch {
		case strings.Contains(line, "- Issue type:"):
			flush()
			cur = draft{}
		case strings.Contains(line, "Line number:"):
			if m := lineNumberRe.FindString(line); m != "" {
				if n, err := strconv.Atoi(m); err == nil {
					cur.line = &n
				}
			}
		case strings.Contains(line, "Description:"):
			if desc := fieldValue(line, "Description:"); desc != "" {
				cur.description = desc
			}
		case strings.Contains(line, "Severity:"):
			if sev := issue.ParseSeverity(fieldValue(line, "Severity:")); sev.Valid() {
				cur.severity = sev
			}
		}
	}
	flush()
	return out
}

// fieldValue strips "- label" / "label" from line and trims the rest.
func fieldValue(line, label string) string {
	line = strings.ReplaceAll(line, "- "+label, "")
	line = strings.ReplaceAll(line, label, "")
	return strings.TrimSpace(line)
}
