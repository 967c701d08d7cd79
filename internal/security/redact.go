// Package security masks credentials before they reach logs, terminals or
// notification channels.
package security

import (
	"regexp"
	"strings"
)

// sensitivePatterns match credentials that can appear inside error messages
// and URLs. The first capture group is kept; the rest of the match is masked.
var sensitivePatterns = []*regexp.Regexp{
	// key=value and key: value pairs
	regexp.MustCompile(`(?i)((?:api[_-]?key|secret|access[_-]?token|auth[_-]?token|bot[_-]?token|password|bearer)["']?\s*[=:\s]\s*["']?)([^\s"'&,]+)`),
	// Telegram bot API paths: /bot123456:ABC.../sendMessage
	regexp.MustCompile(`(/bot)(\d+:[A-Za-z0-9_-]{20,})`),
	// user:password@ in connection strings
	regexp.MustCompile(`((?:postgres|postgresql|mysql|redis|amqp)://[^:/@\s]+:)([^@\s]+)`),
	// OpenAI style keys
	regexp.MustCompile(`()(sk-[A-Za-z0-9_-]{20,})`),
}

// MaskCredential keeps the first and last four characters of long values.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// Redact masks every credential found in s.
func Redact(s string) string {
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllStringFunc(s, func(match string) string {
			m := p.FindStringSubmatch(match)
			return m[1] + MaskCredential(m[2])
		})
	}
	return s
}

// RedactedError is an error whose message has been redacted. The original
// error stays reachable through Unwrap so errors.Is keeps working.
type RedactedError struct {
	msg string
	err error
}

func (e *RedactedError) Error() string { return e.msg }

func (e *RedactedError) Unwrap() error { return e.err }

// RedactError returns err with credentials masked in its message, or err
// itself when there was nothing to mask.
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	redacted := Redact(msg)
	if redacted == msg {
		return err
	}
	return &RedactedError{msg: redacted, err: err}
}
