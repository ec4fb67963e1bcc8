package apperr

import "regexp"

// Patterns for credential material that must never reach an error body
// or a log line. Matched case-insensitively against whole messages.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`),
	regexp.MustCompile(`(?i)basic\s+[A-Za-z0-9+/=]+`),
	regexp.MustCompile(`s4k_(live|test)_[a-z0-9]{8}_[A-Za-z0-9]+`),
	regexp.MustCompile(`(?i)("?(password|passwd|client_secret|clientsecret|secret|api[_-]?key)"?\s*[:=]\s*)("[^"]*"|[^\s,};]+)`),
	regexp.MustCompile(`(?i)(x-csrf-token:\s*)\S+`),
}

// Redact replaces credential-shaped substrings with a fixed marker.
func Redact(message string) string {
	out := message
	out = redactPatterns[0].ReplaceAllString(out, "Bearer [REDACTED]")
	out = redactPatterns[1].ReplaceAllString(out, "Basic [REDACTED]")
	out = redactPatterns[2].ReplaceAllString(out, "s4k_[REDACTED]")
	out = redactPatterns[3].ReplaceAllString(out, `$1"[REDACTED]"`)
	out = redactPatterns[4].ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
