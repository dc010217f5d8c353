package issue

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity is the reported importance of an issue.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// Rank returns the processing order of a severity (lower = earlier).
// Unknown or empty severities sort after Low.
func Rank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return Rank(s) < 4
}

// ParseSeverity maps free text such as "HIGH - leaks data" onto a Severity.
// Text that names no known severity is returned verbatim so it still sorts last.
func ParseSeverity(text string) Severity {
	upper := strings.ToUpper(strings.TrimSpace(text))
	switch {
	case strings.Contains(upper, "CRITICAL"):
		return SeverityCritical
	case strings.Contains(upper, "HIGH"):
		return SeverityHigh
	case strings.Contains(upper, "MEDIUM"):
		return SeverityMedium
	case strings.Contains(upper, "LOW"):
		return SeverityLow
	}
	return Severity(strings.TrimSpace(text))
}

// UnmarshalYAML accepts any capitalisation ("critical", "HIGH").
func (s *Severity) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = ParseSeverity(raw)
	return nil
}

// UnmarshalJSON applies the same normalisation as UnmarshalYAML.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseSeverity(raw)
	return nil
}

// Issue is one reported defect. Issues are values: the fix workflow copies
// them between queues and never modifies them.
type Issue struct {
	Severity    Severity `json:"severity" yaml:"severity"`
	Description string   `json:"description" yaml:"description"`
	Line        *int     `json:"line,omitempty" yaml:"line,omitempty"`
	Agent       string   `json:"agent,omitempty" yaml:"agent,omitempty"`
}

// New returns an issue without line or agent information.
func New(sev Severity, description string) Issue {
	return Issue{Severity: sev, Description: description}
}

// AtLine returns a copy of the issue pinned to the given line.
func (i Issue) AtLine(line int) Issue {
	i.Line = &line
	return i
}

// String renders "[High] description (line 4)".
func (i Issue) String() string {
	sev := string(i.Severity)
	if sev == "" {
		sev = "?"
	}
	s := fmt.Sprintf("[%s] %s", sev, i.Description)
	if i.Line != nil {
		s += fmt.Sprintf(" (line %d)", *i.Line)
	}
	return s
}

// SortBySeverity returns a copy of issues ordered by Rank. The sort is stable,
// so issues of equal severity keep their input order.
func SortBySeverity(issues []Issue) []Issue {
	sorted := make([]Issue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Rank(sorted[i].Severity) < Rank(sorted[j].Severity)
	})
	return sorted
}

// keyPrefixLen is how much of a description participates in duplicate detection.
const keyPrefixLen = 40

// Key identifies an issue for de-duplication: its line number (or none) plus
// the first 40 characters of its description.
func Key(i Issue) string {
	line := "-"
	if i.Line != nil {
		line = fmt.Sprintf("%d", *i.Line)
	}
	desc := []rune(i.Description)
	if len(desc) > keyPrefixLen {
		desc = desc[:keyPrefixLen]
	}
	return line + "|" + string(desc)
}

// Dedup drops issues whose Key was already seen, keeping the first occurrence.
// It is offered to issue suppliers; the fix workflow itself never de-duplicates.
func Dedup(issues []Issue) []Issue {
	seen := make(map[string]bool, len(issues))
	out := make([]Issue, 0, len(issues))
	for _, i := range issues {
		k := Key(i)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, i)
	}
	return out
}

// issueFile is the on-disk shape of an issue list. Both a bare list and a
// document with an "issues" key are accepted.
type issueFile struct {
	Issues []Issue `yaml:"issues"`
}

// Parse decodes a YAML or JSON issue list.
func Parse(data []byte) ([]Issue, error) {
	var list []Issue
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc issueFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing issues: %w", err)
	}
	return doc.Issues, nil
}

// LoadFile reads and parses an issue list from disk.
func LoadFile(path string) ([]Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading issues file: %w", err)
	}
	return Parse(data)
}
