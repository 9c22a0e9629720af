package logging

import (
	"regexp"
	"strings"
)

var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"credential",
}

var secretPatterns = []*regexp.Regexp{
	// linksync access/refresh tokens
	regexp.MustCompile(`\bls[ar]_[a-zA-Z0-9]{16,}`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{16,})`),

	// key=value style secrets
	regexp.MustCompile(`(?i)(token|secret|password)[=:]["']?([a-zA-Z0-9+/=_-]{16,})["']?`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces sensitive information in a string.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// TokenHint returns a short, log-safe prefix of a token.
func TokenHint(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return RedactedValue
	}
	return token[:8] + "…"
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
