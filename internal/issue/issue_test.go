package issue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRank(t *testing.T) {
	assert.Equal(t, 0, Rank(SeverityCritical))
	assert.Equal(t, 1, Rank(SeverityHigh))
	assert.Equal(t, 2, Rank(SeverityMedium))
	assert.Equal(t, 3, Rank(SeverityLow))
	assert.Equal(t, 4, Rank(""))
	assert.Equal(t, 4, Rank("Blocker"))
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]Severity{
		"critical":          SeverityCritical,
		"HIGH - leaks data": SeverityHigh,
		" Medium ":          SeverityMedium,
		"low":               SeverityLow,
		"blocker":           Severity("blocker"),
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseSeverity(in), "input %q", in)
	}
}

func TestSortBySeverity_StableAndCopy(t *testing.T) {
	in := []Issue{
		New(SeverityLow, "low-1"),
		New("", "unknown"),
		New(SeverityCritical, "crit-1"),
		New(SeverityMedium, "med"),
		New(SeverityCritical, "crit-2"),
		New(SeverityLow, "low-2"),
	}
	got := SortBySeverity(in)

	var descs []string
	for _, i := range got {
		descs = append(descs, i.Description)
	}
	assert.Equal(t, []string{"crit-1", "crit-2", "med", "low-1", "low-2", "unknown"}, descs)
	assert.Equal(t, "low-1", in[0].Description, "input must not be reordered")
}

func TestDedup(t *testing.T) {
	prefix := "SQL injection through string formatting in the query builder"
	in := []Issue{
		New(SeverityCritical, prefix).AtLine(4),
		New(SeverityHigh, prefix+" (again)").AtLine(4),
		New(SeverityCritical, prefix).AtLine(9),
		New(SeverityLow, "no line"),
		New(SeverityLow, "no line"),
	}
	got := Dedup(in)
	require.Len(t, got, 3)
	assert.Equal(t, SeverityCritical, got[0].Severity)
	assert.Equal(t, 9, *got[1].Line)
	assert.Nil(t, got[2].Line)
}

func TestParse_ListAndDocument(t *testing.T) {
	list := `
- severity: critical
  description: SQL injection vulnerability
  line: 4
  agent: SecurityReviewer
- severity: High
  description: weak md5 hash
`
	got, err := Parse([]byte(list))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, SeverityCritical, got[0].Severity)
	assert.Equal(t, 4, *got[0].Line)
	assert.Equal(t, "SecurityReviewer", got[0].Agent)

	doc := `{"issues": [{"severity": "LOW", "description": "nested loop"}]}`
	got, err = Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, SeverityLow, got[0].Severity)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- severity: Medium\n  description: import inside function\n"), 0o644))

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "[Medium] import inside function", got[0].String())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
