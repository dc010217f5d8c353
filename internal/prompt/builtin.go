package prompt

// Template names.
const (
	FixTemplate         = "fix.md"
	AnalyzerTemplate    = "analyzer.md"
	SecurityTemplate    = "security.md"
	PerformanceTemplate = "performance.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	FixTemplate:         fixTemplate,
	AnalyzerTemplate:    analyzerTemplate,
	SecurityTemplate:    securityTemplate,
	PerformanceTemplate: performanceTemplate,
}

const fixTemplate = "Fix this code issue:\n" +
	"\n" +
	"Issue: {{description}}\n" +
	"Severity: {{severity}}\n" +
	"{{#if line}}Line: {{line}}\n{{/if}}" +
	"\n" +
	"Code:\n" +
	"```python\n" +
	"{{code}}\n" +
	"```\n" +
	"\n" +
	"Change only what is necessary to resolve the issue.\n" +
	"Return ONLY the fixed code, no explanations.\n"

// issueFormat is shared by the review agents so their replies can be parsed
// back into issues.
const issueFormat = `Report every issue as its own block, exactly in this shape:

- Issue type: <category>
- Line number: <number>
- Description: <one sentence>
- Severity: <CRITICAL|HIGH|MEDIUM|LOW>
`

const analyzerTemplate = `You are a Code Analyzer specializing in Python code quality.

Review the code below for:
1. Code smells and anti-patterns
2. PEP 8 style problems
3. Readability and maintainability
4. Repeated logic
5. Error handling mistakes

Distinguish style issues from functional bugs and give specific line numbers.
Prioritize by severity: Critical > High > Medium > Low.

` + issueFormat + `{{#if findings}}
Static analysis already reported:
{{findings}}
{{/if}}
Code:
` + "```python\n{{code}}\n```\n"

const securityTemplate = `You are a Security Reviewer specializing in Python vulnerabilities.

Look for:
1. SQL injection
2. Cross-site scripting
3. Missing authentication or authorization checks
4. Unvalidated input
5. Weak cryptography
6. Hardcoded secrets
7. Other OWASP Top 10 problems

Mark every security issue as CRITICAL and name the vulnerability in the
description.

` + issueFormat + `{{#if findings}}
The security scanner already reported:
{{findings}}
{{/if}}
Code:
` + "```python\n{{code}}\n```\n"

const performanceTemplate = `You are a Performance Optimizer specializing in code efficiency.

Analyze:
1. Algorithmic complexity (time and space)
2. Bottlenecks such as nested loops
3. Database query efficiency
4. Caching opportunities
5. Memory leaks

State the current complexity in the description (for example "nested loop, O(n^2)").
Severity guide: CRITICAL for O(n^3) or worse and leaks, HIGH for O(n^2) in hot
paths, MEDIUM for inefficient but acceptable code, LOW for micro-optimizations.

` + issueFormat + `
Code:
` + "```python\n{{code}}\n```\n"
