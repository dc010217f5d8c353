// Package validate runs the static post-fix checks: a Python syntax parse and
// a handful of signature checks for constructs the fix rules should have
// removed.
package validate

import (
	"context"
	"regexp"

	"github.com/lucasnoah/fixloop/internal/pyast"
)

// Flag names reported in TestReport.FlaggedPatterns.
const (
	FlagEvalExec         = "eval/exec"
	FlagWeakHash         = "weak-hash"
	FlagSQLInterpolation = "sql-interpolation"
)

// TestReport is the verdict for one candidate code string.
type TestReport struct {
	SyntaxValid     bool     `json:"syntax_valid" yaml:"syntax_valid"`
	SyntaxErrors    []string `json:"syntax_errors,omitempty" yaml:"syntax_errors,omitempty"`
	FlaggedPatterns []string `json:"flagged_patterns" yaml:"flagged_patterns"`
	Passed          bool     `json:"passed" yaml:"passed"`
}

var (
	// evalExecRe is the textual fallback for sources tree-sitter cannot parse.
	evalExecRe = regexp.MustCompile(`(^|[^\w.])(eval|exec)\s*\(`)
	weakHashRe = regexp.MustCompile(`(?i)\bmd5\b`)

	// f, rf and fr literals, triple-quoted ones may span lines.
	fStringRe     = regexp.MustCompile(`(?is)(?:^|[^\w])(?:rf|fr|f)("""(.*?)"""|'''(.*?)'''|"([^"\n]*)"|'([^'\n]*)')`)
	sqlKeywordRe  = regexp.MustCompile(`(?i)\b(select|insert|update|delete)\b`)
	placeholderRe = regexp.MustCompile(`\{[^{}]*\}`)

	sqlFormatRe  = regexp.MustCompile(`(?i)("[^"\n]*\b(select|insert|update|delete)\b[^"\n]*"|'[^'\n]*\b(select|insert|update|delete)\b[^'\n]*')\s*\.format\(`)
	sqlPercentRe = regexp.MustCompile(`(?i)("[^"\n]*\b(select|insert|update|delete)\b[^"\n]*%[sdif][^"\n]*"|'[^'\n]*\b(select|insert|update|delete)\b[^'\n]*%[sdif][^'\n]*')\s*%`)
)

// Validate checks code and returns a report. It never mutates its input and
// never fails: a parser error is reported as a syntax error.
func Validate(code string) TestReport {
	return ValidateContext(context.Background(), code)
}

// ValidateContext is Validate with a caller-supplied context for the parse.
func ValidateContext(ctx context.Context, code string) TestReport {
	report := TestReport{FlaggedPatterns: []string{}}

	f, err := pyast.Parse(ctx, code)
	if err != nil {
		report.SyntaxErrors = []string{err.Error()}
	} else {
		defer f.Close()
		for _, e := range f.SyntaxErrors() {
			report.SyntaxErrors = append(report.SyntaxErrors, e.String())
		}
		report.SyntaxValid = len(report.SyntaxErrors) == 0
	}

	if hasEvalExec(f, report.SyntaxValid, code) {
		report.FlaggedPatterns = append(report.FlaggedPatterns, FlagEvalExec)
	}
	if weakHashRe.MatchString(code) {
		report.FlaggedPatterns = append(report.FlaggedPatterns, FlagWeakHash)
	}
	if HasSQLInterpolation(code) {
		report.FlaggedPatterns = append(report.FlaggedPatterns, FlagSQLInterpolation)
	}

	report.Passed = report.SyntaxValid && len(report.FlaggedPatterns) == 0
	return report
}

// hasEvalExec prefers the syntax tree, which ignores strings and comments,
// and falls back to a regexp when the tree is unusable.
func hasEvalExec(f *pyast.File, valid bool, code string) bool {
	if f != nil && valid {
		return len(f.CallsTo("eval", "exec")) > 0
	}
	return evalExecRe.MatchString(code)
}

// HasSQLInterpolation reports whether code builds a SQL literal through an
// f-string, str.format or %-formatting.
func HasSQLInterpolation(code string) bool {
	return hasSQLFString(code) || sqlFormatRe.MatchString(code) || sqlPercentRe.MatchString(code)
}

func hasSQLFString(code string) bool {
	for _, m := range fStringRe.FindAllStringSubmatch(code, -1) {
		body := m[2] + m[3] + m[4] + m[5]
		if sqlKeywordRe.MatchString(body) && placeholderRe.MatchString(body) {
			return true
		}
	}
	return false
}
