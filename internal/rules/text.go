package rules

import (
	"context"
	"regexp"
	"strings"

	"github.com/lucasnoah/fixloop/internal/pyast"
)

var (
	shebangRe  = regexp.MustCompile(`^#!`)
	encodingRe = regexp.MustCompile(`^#.*coding[:=]`)
)

// indentOf returns the leading whitespace of a line.
func indentOf(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// headerLines counts the shebang and encoding lines that must stay first.
func headerLines(lines []string) int {
	n := 0
	for n < len(lines) && n < 2 {
		if (n == 0 && shebangRe.MatchString(lines[n])) || encodingRe.MatchString(lines[n]) {
			n++
			continue
		}
		break
	}
	return n
}

// moduleInsertRow returns the row where new module-level imports go. With
// afterImports set that is just past the last top-level import; otherwise,
// or when there is none, it is past the shebang, encoding line, module
// docstring and __future__ imports.
func moduleInsertRow(code string, lines []string, afterImports bool) int {
	at := headerLines(lines)
	f, err := pyast.Parse(context.Background(), code)
	if err != nil {
		return at
	}
	defer f.Close()
	if afterImports {
		if top := f.TopLevelImports(); len(top) > 0 {
			return top[len(top)-1].EndRow + 1
		}
	}
	if end := f.PreambleEnd(); end > at {
		at = end
	}
	return at
}

// insertLines inserts block before lines[at].
func insertLines(lines []string, at int, block ...string) []string {
	out := make([]string, 0, len(lines)+len(block))
	out = append(out, lines[:at]...)
	out = append(out, block...)
	return append(out, lines[at:]...)
}
