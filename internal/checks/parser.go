package checks

// Finding is one normalized diagnostic from a check tool.
type Finding struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Code     string `json:"code,omitempty"`
	Severity string `json:"severity,omitempty"` // tool-specific, lower-cased
	Message  string `json:"message"`
}

// ParseResult holds the normalized output from a parser.
type ParseResult struct {
	Passed   bool      `json:"passed"`
	Summary  string    `json:"summary"`
	Findings []Finding `json:"findings"`
	Output   string    `json:"output,omitempty"` // raw tail, generic parser only
}

// Parser converts raw command output into a structured ParseResult.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) ParseResult
}
