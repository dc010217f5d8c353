package checks

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BanditParser parses bandit -f json output.
type BanditParser struct{}

type banditOutput struct {
	Results []struct {
		Filename        string `json:"filename"`
		LineNumber      int    `json:"line_number"`
		ColOffset       int    `json:"col_offset"`
		IssueSeverity   string `json:"issue_severity"`
		IssueConfidence string `json:"issue_confidence"`
		IssueText       string `json:"issue_text"`
		TestID          string `json:"test_id"`
		TestName        string `json:"test_name"`
	} `json:"results"`
	Errors []struct {
		Filename string `json:"filename"`
		Reason   string `json:"reason"`
	} `json:"errors"`
}

func (p *BanditParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var raw banditOutput
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return ParseResult{
			Passed:  exitCode == 0,
			Summary: fmt.Sprintf("exit code %d (could not parse bandit JSON)", exitCode),
		}
	}

	counts := map[string]int{}
	var findings []Finding
	for _, r := range raw.Results {
		sev := strings.ToLower(r.IssueSeverity)
		counts[sev]++
		findings = append(findings, Finding{
			File:     r.Filename,
			Line:     r.LineNumber,
			Column:   r.ColOffset,
			Code:     r.TestID,
			Severity: sev,
			Message:  fmt.Sprintf("%s (%s)", r.IssueText, r.TestName),
		})
	}
	for _, e := range raw.Errors {
		findings = append(findings, Finding{File: e.Filename, Severity: "error", Message: e.Reason})
	}

	passed := len(raw.Results) == 0 && len(raw.Errors) == 0
	summary := fmt.Sprintf("%d issues (%d high, %d medium, %d low)",
		len(raw.Results), counts["high"], counts["medium"], counts["low"])
	if len(raw.Errors) > 0 {
		summary += fmt.Sprintf(", %d errors", len(raw.Errors))
	}
	if passed {
		summary = "no issues found"
	}

	return ParseResult{
		Passed:   passed,
		Summary:  summary,
		Findings: findings,
	}
}
