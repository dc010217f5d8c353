package checks

import (
	"encoding/json"
	"fmt"
)

// PylintParser parses pylint --output-format=json output.
type PylintParser struct{}

type pylintMessage struct {
	Type      string `json:"type"` // convention, refactor, warning, error, fatal
	Path      string `json:"path"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Symbol    string `json:"symbol"`
	Message   string `json:"message"`
	MessageID string `json:"message-id"`
}

func (p *PylintParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var msgs []pylintMessage
	if err := json.Unmarshal([]byte(stdout), &msgs); err != nil {
		return ParseResult{
			Passed:  exitCode == 0,
			Summary: fmt.Sprintf("exit code %d (could not parse pylint JSON)", exitCode),
		}
	}

	errors, warnings := 0, 0
	findings := make([]Finding, 0, len(msgs))
	for _, m := range msgs {
		switch m.Type {
		case "error", "fatal":
			errors++
		case "warning":
			warnings++
		}
		findings = append(findings, Finding{
			File:     m.Path,
			Line:     m.Line,
			Column:   m.Column,
			Code:     m.MessageID,
			Severity: m.Type,
			Message:  fmt.Sprintf("%s (%s)", m.Message, m.Symbol),
		})
	}

	// pylint's exit code is a bit mask; only errors and fatals fail the check.
	passed := errors == 0
	summary := fmt.Sprintf("%d errors, %d warnings, %d other", errors, warnings, len(msgs)-errors-warnings)

	return ParseResult{
		Passed:   passed,
		Summary:  summary,
		Findings: findings,
	}
}
