package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lucasnoah/fixloop/internal/issue"
)

var (
	secretAssignRe = regexp.MustCompile(`^(\s*)([A-Za-z_]\w*)\s*=\s*("[^"\n]*"|'[^'\n]*')\s*(#.*)?$`)
	importOSRe     = regexp.MustCompile(`(?m)^import\s+([\w.]+\s*,\s*)*os(\s*,.*)?\s*(#.*)?$`)
)

// fixHardcodedSecret replaces NAME = "literal" for secret-looking names with
// NAME = os.getenv("NAME") and makes sure os is imported exactly once.
func fixHardcodedSecret(code string, _ issue.Issue) string {
	lines := strings.Split(code, "\n")
	changed := false
	for i, line := range lines {
		m := secretAssignRe.FindStringSubmatch(line)
		if m == nil || !isSecretName(m[2]) {
			continue
		}
		if len(m[3]) <= 2 { // empty literal holds no secret
			continue
		}
		lines[i] = fmt.Sprintf(`%s%s = os.getenv("%s")`, m[1], m[2], m[2])
		changed = true
	}
	if !changed {
		return code
	}
	if !importOSRe.MatchString(strings.Join(lines, "\n")) {
		lines = insertLines(lines, moduleInsertRow(code, lines, false), "import os")
	}
	return strings.Join(lines, "\n")
}

var (
	camelBoundaryRe = regexp.MustCompile(`([a-z0-9])([A-Z])`)

	secretWords = map[string]bool{
		"secret": true, "token": true, "password": true, "passwd": true, "pwd": true,
		"passphrase": true, "credential": true, "credentials": true, "apikey": true,
	}
	// keyQualifiers turn a trailing "key" segment into a secret: API_KEY, SECRET_KEY.
	keyQualifiers = map[string]bool{
		"api": true, "secret": true, "private": true, "access": true,
		"auth": true, "signing": true, "encryption": true,
	}
)

// isSecretName reports whether a variable names a secret value. The name is
// split into "_" and camelCase segments and the last one decides, so
// DB_PASSWORD and apiKey match while TOKENIZER and PASSWORD_FIELD do not.
func isSecretName(name string) bool {
	name = camelBoundaryRe.ReplaceAllString(name, "${1}_${2}")
	var segs []string
	for _, seg := range strings.Split(strings.ToLower(name), "_") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		return false
	}
	last := segs[len(segs)-1]
	if secretWords[last] {
		return true
	}
	return last == "key" && len(segs) > 1 && keyQualifiers[segs[len(segs)-2]]
}
