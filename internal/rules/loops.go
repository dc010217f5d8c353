package rules

import (
	"context"
	"strings"

	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/pyast"
)

// loopAdviceMarker opens the advisory block; its presence above a loop
// means the loop was already annotated.
const loopAdviceMarker = "# PERF: nested loops here are O(n*m)."

var loopAdvice = []string{
	loopAdviceMarker,
	"# Build a set or dict from the inner collection once and replace the",
	"# inner loop with a constant-time lookup.",
}

// annotateNestedLoops cannot safely restructure the loops, so it only adds
// an advisory comment above each outermost nested loop.
func annotateNestedLoops(code string, _ issue.Issue) string {
	f, err := pyast.Parse(context.Background(), code)
	if err != nil {
		return code
	}
	loops := f.OuterNestedLoops()
	f.Close()
	if len(loops) == 0 {
		return code
	}

	lines := strings.Split(code, "\n")
	changed := false
	// Bottom-up so earlier row numbers stay valid.
	for i := len(loops) - 1; i >= 0; i-- {
		row := loops[i].StartRow
		if row >= len(lines) {
			continue
		}
		if row > 0 && strings.TrimSpace(lines[row-1]) == strings.TrimSpace(loopAdvice[len(loopAdvice)-1]) {
			continue
		}
		indent := indentOf(lines[row])
		block := make([]string, len(loopAdvice))
		for j, l := range loopAdvice {
			block[j] = indent + l
		}
		lines = insertLines(lines, row, block...)
		changed = true
	}
	if !changed {
		return code
	}
	return strings.Join(lines, "\n")
}
