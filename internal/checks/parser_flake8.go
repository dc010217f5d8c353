package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Flake8Parser parses flake8's default text output.
type Flake8Parser struct{}

// flake8 output format: snippet.py:12:5: F401 'os' imported but unused
var flake8LineRe = regexp.MustCompile(`^(.+?):(\d+):(\d+):\s+([A-Z]+\d+)\s+(.+)$`)

func (p *Flake8Parser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var findings []Finding
	errors := 0
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		m := flake8LineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		sev := "warning"
		if flake8IsError(m[4]) {
			sev = "error"
			errors++
		}
		findings = append(findings, Finding{
			File:     m[1],
			Line:     lineNum,
			Column:   col,
			Code:     m[4],
			Severity: sev,
			Message:  m[5],
		})
	}

	passed := exitCode == 0 && len(findings) == 0
	summary := fmt.Sprintf("%d problems (%d errors)", len(findings), errors)
	if passed {
		summary = "no problems"
	}

	return ParseResult{
		Passed:   passed,
		Summary:  summary,
		Findings: findings,
	}
}

// flake8IsError reports pyflakes (F) and runtime/syntax (E9) codes, which
// point at real bugs rather than style.
func flake8IsError(code string) bool {
	return strings.HasPrefix(code, "F") || strings.HasPrefix(code, "E9")
}
