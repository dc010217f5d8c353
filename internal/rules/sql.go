package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lucasnoah/fixloop/internal/issue"
)

const (
	fPrefix     = `([rR][fF]|[fF][rR]|[fF])`
	plainPrefix = `([rR]?)`
	// One-line literal; triple quotes first so """ is not read as "" + ".
	sqlLiteral = `("""[^\\]*?"""|'''[^\\]*?'''|"[^"\\]*"|'[^'\\]*')`
)

var (
	sqlKeywordRe = regexp.MustCompile(`(?i)\b(select|insert|update|delete)\b`)

	// name = f"..." / name = rf'...' / name = f"""..."""
	fstringAssignRe = regexp.MustCompile(`^(\s*)([A-Za-z_][\w.]*)\s*=\s*` + fPrefix + sqlLiteral + `\s*(#.*)?$`)
	// name = "...".format(args)
	formatAssignRe = regexp.MustCompile(`^(\s*)([A-Za-z_][\w.]*)\s*=\s*` + plainPrefix + sqlLiteral + `\.format\((.*)\)\s*(#.*)?$`)
	// name = "..." % args
	percentAssignRe = regexp.MustCompile(`^(\s*)([A-Za-z_][\w.]*)\s*=\s*` + plainPrefix + sqlLiteral + `\s*%\s*(.+?)\s*(#.*)?$`)
	// cursor.execute(f"...")
	fstringExecRe = regexp.MustCompile(`([A-Za-z_][\w.]*\.execute)\(\s*` + fPrefix + sqlLiteral + `\s*\)`)

	bracePlaceholderRe   = regexp.MustCompile(`['"]?\{([^{}]*)\}['"]?`)
	percentPlaceholderRe = regexp.MustCompile(`['"]?%[sdif]['"]?`)
)

// fixSQLInjection rewrites interpolated SQL into "?"-parameterized statements.
// Assignments get a trailing "# params: (...)" comment naming the extracted
// values, and any later cursor.execute(name) call passes them explicitly.
func fixSQLInjection(code string, _ issue.Issue) string {
	lines := strings.Split(code, "\n")
	params := make(map[string]string) // variable -> params tuple
	changed := false

	for i, line := range lines {
		if rewritten, name, tuple, ok := rewriteSQLAssignment(line); ok {
			lines[i] = rewritten
			params[name] = tuple
			changed = true
			continue
		}
		if rewritten, ok := rewriteSQLExecute(line); ok {
			lines[i] = rewritten
			changed = true
		}
	}
	if !changed {
		return code
	}

	for name, tuple := range params {
		callRe := regexp.MustCompile(`(\.execute\(\s*)` + regexp.QuoteMeta(name) + `(\s*\))`)
		for i, line := range lines {
			lines[i] = callRe.ReplaceAllString(line, "${1}"+name+", "+tuple+"${2}")
		}
	}
	return strings.Join(lines, "\n")
}

func rewriteSQLAssignment(line string) (out, name, tuple string, ok bool) {
	if m := fstringAssignRe.FindStringSubmatch(line); m != nil {
		quote, body := literalParts(m[4])
		if !isInterpolatedSQL(body, "{") {
			return "", "", "", false
		}
		stmt, args := replaceBraces(body)
		tuple = paramTuple(args)
		return fmt.Sprintf("%s%s = %s%s%s%s  # params: %s", m[1], m[2], rawPrefix(m[3]), quote, stmt, quote, tuple), m[2], tuple, true
	}
	if m := formatAssignRe.FindStringSubmatch(line); m != nil {
		quote, body := literalParts(m[4])
		if !isInterpolatedSQL(body, "{") {
			return "", "", "", false
		}
		stmt, _ := replaceBraces(body)
		tuple = paramTuple(splitArgs(m[5]))
		return fmt.Sprintf("%s%s = %s%s%s%s  # params: %s", m[1], m[2], m[3], quote, stmt, quote, tuple), m[2], tuple, true
	}
	if m := percentAssignRe.FindStringSubmatch(line); m != nil {
		quote, body := literalParts(m[4])
		if !isInterpolatedSQL(body, "%") {
			return "", "", "", false
		}
		stmt := percentPlaceholderRe.ReplaceAllString(body, "?")
		rhs := strings.TrimSpace(m[5])
		if strings.HasPrefix(rhs, "(") && strings.HasSuffix(rhs, ")") {
			rhs = rhs[1 : len(rhs)-1]
		}
		tuple = paramTuple(splitArgs(rhs))
		return fmt.Sprintf("%s%s = %s%s%s%s  # params: %s", m[1], m[2], m[3], quote, stmt, quote, tuple), m[2], tuple, true
	}
	return "", "", "", false
}

func rewriteSQLExecute(line string) (string, bool) {
	changed := false
	out := fstringExecRe.ReplaceAllStringFunc(line, func(match string) string {
		m := fstringExecRe.FindStringSubmatch(match)
		quote, body := literalParts(m[3])
		if !isInterpolatedSQL(body, "{") {
			return match
		}
		stmt, args := replaceBraces(body)
		changed = true
		return fmt.Sprintf("%s(%s%s%s%s, %s)", m[1], rawPrefix(m[2]), quote, stmt, quote, paramTuple(args))
	})
	return out, changed
}

// literalParts splits a matched literal into its quote and body.
func literalParts(literal string) (string, string) {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(literal) >= 2*len(q) && strings.HasPrefix(literal, q) && strings.HasSuffix(literal, q) {
			return q, literal[len(q) : len(literal)-len(q)]
		}
	}
	return `"`, literal
}

// rawPrefix keeps the r of an rf/fr prefix once the f is gone.
func rawPrefix(prefix string) string {
	if strings.ContainsAny(prefix, "rR") {
		return "r"
	}
	return ""
}

func isInterpolatedSQL(body, marker string) bool {
	return sqlKeywordRe.MatchString(body) && strings.Contains(body, marker)
}

// replaceBraces swaps every {expr} (with any surrounding quotes) for "?" and
// returns the expressions in order.
func replaceBraces(body string) (string, []string) {
	var args []string
	stmt := bracePlaceholderRe.ReplaceAllStringFunc(body, func(match string) string {
		m := bracePlaceholderRe.FindStringSubmatch(match)
		if expr := cleanExpr(m[1]); expr != "" {
			args = append(args, expr)
		}
		return "?"
	})
	return stmt, args
}

// cleanExpr strips format specs and conversions: "{name!r:>10}" -> "name".
func cleanExpr(expr string) string {
	if i := strings.IndexAny(expr, "!:"); i >= 0 {
		expr = expr[:i]
	}
	return strings.TrimSpace(expr)
}

func splitArgs(s string) []string {
	var args []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if k, v, ok := strings.Cut(a, "="); ok && !strings.Contains(k, "(") {
			a = strings.TrimSpace(v)
		}
		args = append(args, a)
	}
	return args
}

func paramTuple(args []string) string {
	switch len(args) {
	case 0:
		return "()"
	case 1:
		return "(" + args[0] + ",)"
	}
	return "(" + strings.Join(args, ", ") + ")"
}
