package query

import (
	"regexp"
	"strings"
)

// forbiddenSignatures is the injection denylist applied to the raw query
// before any tokenization. It is a coarse first-line screen: the persistence
// layer still binds every value as a query parameter, which is the actual
// injection defense.
var forbiddenSignatures = []string{
	`;\s*drop\s+table`,
	`;\s*delete\s+from`,
	`;\s*update\s`,
	`;\s*insert\s+into`,
	`union\s+select`,
	`/\*.*?\*/`,
	`--`,
	`'\s*(or|and)\b.*=`,
	`\bexec\s*\(`,
	`xp_cmdshell`,
	`<\s*script`,
	`javascript\s*:`,
	`\bon\w+\s*=`,
	`expression\s*\(`,
	`\beval\s*\(`,
	`\bdocument\.`,
	`\bwindow\.`,
}

var forbiddenPattern = regexp.MustCompile(`(?is)(` + strings.Join(forbiddenSignatures, "|") + `)`)

// ContainsForbiddenPattern reports whether the raw query matches any
// SQL/XSS injection signature. Matching input must never reach the
// tokenizer, not even as rejected tokens.
func ContainsForbiddenPattern(raw string) bool {
	return forbiddenPattern.MatchString(raw)
}
