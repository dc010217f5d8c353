// Package rules holds the deterministic, pattern-based rewrites the fixer
// tries before falling back to a language model.
//
// Rules are pure functions of (code, issue): they never error, never panic
// outward, and return the input unchanged when their pattern is absent.
package rules

import (
	"strings"

	"github.com/lucasnoah/fixloop/internal/issue"
)

// Rule pairs an issue-category predicate with a rewrite.
type Rule struct {
	Name    string
	Summary string

	// Match receives the lower-cased issue description.
	Match func(desc string) bool
	// Apply returns the rewritten code, or code itself when nothing matched.
	Apply func(code string, iss issue.Issue) string
}

// table is consulted in order; the first matching rule wins.
var table = []Rule{
	{
		Name:    "sql-injection",
		Summary: "parameterize string-interpolated SQL statements",
		Match: func(d string) bool {
			return strings.Contains(d, "sql") && containsAny(d, "injection", "query")
		},
		Apply: fixSQLInjection,
	},
	{
		Name:    "weak-crypto",
		Summary: "replace weak digests with sha256",
		Match: func(d string) bool {
			return strings.Contains(d, "md5") ||
				(strings.Contains(d, "weak") && containsAny(d, "hash", "crypt"))
		},
		Apply: fixWeakCrypto,
	},
	{
		Name:    "hardcoded-secret",
		Summary: "read hardcoded secrets from the environment",
		Match: func(d string) bool {
			return containsAny(d, "hardcoded", "hard-coded", "api key", "api_key", "secret") ||
				(strings.Contains(d, "api") && strings.Contains(d, "key"))
		},
		Apply: fixHardcodedSecret,
	},
	{
		Name:    "nested-loop",
		Summary: "annotate nested loops with a lookup-table suggestion",
		Match: func(d string) bool {
			return containsAny(d, "nested loop", "o(n²)", "o(n^2)", "o(n2)", "o(n*m)")
		},
		Apply: annotateNestedLoops,
	},
	{
		Name:    "import-in-function",
		Summary: "move function-level imports to module level",
		Match: func(d string) bool {
			return strings.Contains(d, "import") && containsAny(d, "function", "inside")
		},
		Apply: hoistImports,
	},
}

// All returns the rule table in selection order.
func All() []Rule {
	out := make([]Rule, len(table))
	copy(out, table)
	return out
}

// Select returns the first rule whose predicate matches the issue.
func Select(iss issue.Issue) (Rule, bool) {
	desc := strings.ToLower(iss.Description)
	for _, r := range table {
		if r.Match(desc) {
			return r, true
		}
	}
	return Rule{}, false
}

// Apply runs the selected rule against code. It returns the rewritten code
// and the rule's name; name is empty when no rule matched. A rule that
// matched but found nothing to rewrite returns code unchanged.
func Apply(code string, iss issue.Issue) (fixed string, name string) {
	r, ok := Select(iss)
	if !ok {
		return code, ""
	}
	return safeApply(r, code, iss), r.Name
}

func safeApply(r Rule, code string, iss issue.Issue) (out string) {
	defer func() {
		if recover() != nil {
			out = code
		}
	}()
	return r.Apply(code, iss)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
