// Package redact scrubs sensitive fragments from strings before they are
// logged or embedded in error responses: credentials, connection strings,
// API keys, file paths, and host:port pairs.
package redact

import "regexp"

// Redaction placeholders.
const (
	PathPlaceholder       = "[REDACTED_PATH]"
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	HostPlaceholder       = "[REDACTED_HOST]"
)

var (
	dbConnRegex = regexp.MustCompile(`(?i)(postgres|mysql|sqlite|db|database|connection)://[^@\s]+@`)
	apiKeyRegex = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|key|access|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)
	passwordRegex = regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`)
	unixPathRegex = regexp.MustCompile(`(/[\w.-]+){2,}`)
	hostPortRegex = regexp.MustCompile(
		`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}(?::\d{1,5})?\b`,
	)

	placeholders = []struct {
		pattern     *regexp.Regexp
		replacement string
	}{
		{dbConnRegex, CredentialPlaceholder},
		{passwordRegex, CredentialPlaceholder},
		{apiKeyRegex, KeyPlaceholder},
		{unixPathRegex, PathPlaceholder},
		{hostPortRegex, HostPlaceholder},
	}
)

// String redacts sensitive fragments from the input.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, p := range placeholders {
		result = p.pattern.ReplaceAllString(result, p.replacement)
	}
	return result
}

// Error redacts an error's Error() output. Nil yields the empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
