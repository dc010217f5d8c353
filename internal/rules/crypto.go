package rules

import (
	"regexp"
	"strings"

	"github.com/lucasnoah/fixloop/internal/issue"
)

var (
	md5LowerRe  = regexp.MustCompile(`\bmd5\b`)
	md5UpperRe  = regexp.MustCompile(`\bMD5\b`)
	sha1LowerRe = regexp.MustCompile(`\bsha1\b`)
	sha1UpperRe = regexp.MustCompile(`\bSHA1\b`)
)

// fixWeakCrypto swaps md5 (and sha1, when the issue names it) for sha256.
// Only whole identifiers change, so hashlib.md5(...) and hashlib.new("md5")
// are rewritten while names like md5_digest are left alone.
func fixWeakCrypto(code string, iss issue.Issue) string {
	out := md5LowerRe.ReplaceAllString(code, "sha256")
	out = md5UpperRe.ReplaceAllString(out, "SHA256")
	if strings.Contains(strings.ToLower(iss.Description), "sha1") {
		out = sha1LowerRe.ReplaceAllString(out, "sha256")
		out = sha1UpperRe.ReplaceAllString(out, "SHA256")
	}
	return out
}
