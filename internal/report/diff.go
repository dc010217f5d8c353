package report

import (
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// contextLines is the number of unchanged lines kept around each change.
const contextLines = 3

type opKind byte

const (
	opEqual  opKind = ' '
	opDelete opKind = '-'
	opInsert opKind = '+'
)

type lineOp struct {
	kind opKind
	text string
	// 0-based positions in before / after of the line (or of the next line
	// for ops that do not consume that side).
	orig, new int
}

// UnifiedDiff renders the line diff between before and after as a unified
// diff for name. Identical inputs give "".
func UnifiedDiff(name, before, after string) string {
	if before == after {
		return ""
	}
	a, b := splitLines(before), splitLines(after)
	ops := editScript(a, b)

	fd := &diff.FileDiff{
		OrigName: "a/" + name,
		NewName:  "b/" + name,
		Hunks:    hunks(ops),
	}
	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return ""
	}
	return string(out)
}

// ChangedLines counts removed and added lines between before and after.
func ChangedLines(before, after string) (removed, added int) {
	for _, op := range editScript(splitLines(before), splitLines(after)) {
		switch op.kind {
		case opDelete:
			removed++
		case opInsert:
			added++
		}
	}
	return removed, added
}

func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// editScript computes a longest-common-subsequence edit script from a to b.
func editScript(a, b []string) []lineOp {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	ops := make([]lineOp, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, lineOp{kind: opEqual, text: a[i], orig: i, new: j})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, lineOp{kind: opDelete, text: a[i], orig: i, new: j})
			i++
		default:
			ops = append(ops, lineOp{kind: opInsert, text: b[j], orig: i, new: j})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, lineOp{kind: opDelete, text: a[i], orig: i, new: j})
	}
	for ; j < m; j++ {
		ops = append(ops, lineOp{kind: opInsert, text: b[j], orig: i, new: j})
	}
	return ops
}

// hunks groups an edit script into hunks with contextLines of context.
func hunks(ops []lineOp) []*diff.Hunk {
	var out []*diff.Hunk
	for start := 0; start < len(ops); {
		// Find the next change.
		first := start
		for first < len(ops) && ops[first].kind == opEqual {
			first++
		}
		if first == len(ops) {
			break
		}

		from := first - contextLines
		if from < start {
			from = start
		}
		// Extend until a run of more than 2*contextLines equal lines.
		to := first
		for to < len(ops) {
			if ops[to].kind != opEqual {
				to++
				continue
			}
			run := to
			for run < len(ops) && ops[run].kind == opEqual {
				run++
			}
			if run == len(ops) || run-to > 2*contextLines {
				to += min(contextLines, run-to)
				break
			}
			to = run
		}

		out = append(out, buildHunk(ops[from:to]))
		start = to
	}
	return out
}

func buildHunk(ops []lineOp) *diff.Hunk {
	h := &diff.Hunk{}
	var body strings.Builder
	for _, op := range ops {
		switch op.kind {
		case opEqual:
			h.OrigLines++
			h.NewLines++
		case opDelete:
			h.OrigLines++
		case opInsert:
			h.NewLines++
		}
		body.WriteByte(byte(op.kind))
		body.WriteString(op.text)
		if !strings.HasSuffix(op.text, "\n") {
			body.WriteString("\n\\ No newline at end of file\n")
		}
	}

	// Unified diff ranges start at the first line of the hunk, or at the
	// line before it when the range is empty.
	h.OrigStartLine = int32(ops[0].orig)
	if h.OrigLines > 0 {
		h.OrigStartLine++
	}
	h.NewStartLine = int32(ops[0].new)
	if h.NewLines > 0 {
		h.NewStartLine++
	}
	h.Body = []byte(body.String())
	return h
}
