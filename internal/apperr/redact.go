package apperr

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLen caps persisted and returned error text, in runes.
const MaxMessageLen = 500

const redacted = "[REDACTED]"

var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`), "Bearer " + redacted},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`), redacted},
	{regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{20,}`), redacted},
	{regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`), redacted},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|token|secret|password|x-api-key)(["']?\s*[:=]\s*["']?)[^\s"'&,;]+`), "${1}${2}" + redacted},
	{regexp.MustCompile(`(?i)\b(?:https?|wss?)://[^\s"'<>]+`), "[URL]"},
}

// Redact strips API keys, bearer tokens, credential assignments and service
// URLs from s.
func Redact(s string) string {
	for _, r := range redactions {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// Truncate caps s at max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max < 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}

// Sanitize redacts and truncates s for persistence or display.
func Sanitize(s string) string {
	return Truncate(strings.TrimSpace(Redact(s)), MaxMessageLen)
}
