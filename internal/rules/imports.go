package rules

import (
	"context"
	"strings"

	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/pyast"
)

const movedImportsMarker = "# imports moved to module level"

// hoistImports moves imports out of function bodies to module level, after
// the existing top-level imports, keeping their relative order.
func hoistImports(code string, _ issue.Issue) string {
	f, err := pyast.Parse(context.Background(), code)
	if err != nil {
		return code
	}
	nested := f.NestedImports()
	top := f.TopLevelImports()
	f.Close()
	if len(nested) == 0 {
		return code
	}

	existing := make(map[string]bool, len(top))
	for _, sp := range top {
		existing[normalizeImport(sp.Text)] = true
	}
	var moved []string
	for _, sp := range nested {
		key := normalizeImport(sp.Text)
		if existing[key] {
			continue
		}
		existing[key] = true
		moved = append(moved, dedentImport(sp.Text))
	}

	// A block made only of hoisted imports keeps a "pass" where its last
	// import stood.
	hoisted := make(map[uint32]int)
	for _, sp := range nested {
		hoisted[sp.Block]++
	}

	// Cut bottom-up so earlier byte offsets stay valid.
	out := code
	for i := len(nested) - 1; i >= 0; i-- {
		sp := nested[i]
		start, end := int(sp.StartByte), int(sp.EndByte)
		if end > len(out) || start > end {
			continue
		}
		if sp.BlockSize > 0 && hoisted[sp.Block] == sp.BlockSize {
			out = out[:start] + "pass" + out[end:]
			hoisted[sp.Block] = -1
			continue
		}
		out = cutStatement(out, start, end)
	}

	if len(moved) == 0 {
		return out
	}
	lines := strings.Split(out, "\n")
	block := append([]string{movedImportsMarker}, moved...)
	lines = insertLines(lines, moduleInsertRow(out, lines, true), block...)
	return strings.Join(lines, "\n")
}

// cutStatement removes src[start:end] along with the ";" tying it to a
// neighbouring statement. When nothing but whitespace or a comment is left
// on the line, the whole line goes.
func cutStatement(src string, start, end int) string {
	if j := skipBlanks(src, end); j < len(src) && src[j] == ';' {
		end = skipBlanks(src, j+1)
	} else {
		i := start
		for i > 0 && isBlank(src[i-1]) {
			i--
		}
		if i > 0 && src[i-1] == ';' {
			start = i - 1
			for start > 0 && isBlank(src[start-1]) {
				start--
			}
		}
	}

	lineStart := strings.LastIndexByte(src[:start], '\n') + 1
	lineEnd := len(src)
	if k := strings.IndexByte(src[end:], '\n'); k >= 0 {
		lineEnd = end + k
	}
	rest := strings.TrimSpace(src[end:lineEnd])
	if strings.TrimSpace(src[lineStart:start]) != "" || (rest != "" && !strings.HasPrefix(rest, "#")) {
		return src[:start] + src[end:]
	}
	switch {
	case lineEnd < len(src):
		lineEnd++
	case lineStart > 0:
		lineStart--
	}
	return src[:lineStart] + src[lineEnd:]
}

func skipBlanks(s string, i int) int {
	for i < len(s) && isBlank(s[i]) {
		i++
	}
	return i
}

func isBlank(c byte) bool { return c == ' ' || c == '\t' }

func normalizeImport(stmt string) string {
	return strings.Join(strings.Fields(stmt), " ")
}

// dedentImport strips the function-level indentation from continuation lines.
func dedentImport(stmt string) string {
	parts := strings.Split(stmt, "\n")
	for i := range parts {
		parts[i] = strings.TrimLeft(parts[i], " \t")
		if i > 0 {
			parts[i] = "    " + parts[i]
		}
	}
	return strings.Join(parts, "\n")
}
