// Package logging scrubs credentials from anything bound for a log line.
// Store endpoints and error messages can embed API keys or basic-auth
// userinfo; nothing in this package ever lets one through.
package logging

import (
	"regexp"
)

const (
	// MaxReasonLength caps store failure reasons carried into logs and
	// error summaries.
	MaxReasonLength = 120
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"
)

var (
	// Matches api_key=xxx, apikey=xxx, key=xxx query or env style values.
	apiKeyParamPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey)=[^;&\s]+`)

	// Matches ApiKey and Bearer authorization header values.
	authHeaderPattern = regexp.MustCompile(`(?i)(apikey|bearer)\s+[A-Za-z0-9+/=_.-]+`)

	// Matches userinfo credentials embedded in a URL (user:pass@host).
	urlCredsPattern = regexp.MustCompile(`://[^:/\s"]+:[^@\s"]+@[^/\s"]+`)
)

// SanitizeEndpoint removes credentials from a store URL so it can be
// logged. Use this on every endpoint bound for a log field.
func SanitizeEndpoint(endpoint string) string {
	if endpoint == "" {
		return ""
	}

	sanitized := urlCredsPattern.ReplaceAllString(endpoint, "://"+RedactedText+"@"+RedactedText)
	sanitized = apiKeyParamPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	return sanitized
}

// SanitizeError scrubs credentials from an error message before logging.
// Transport errors from the store client can echo the request URL and
// authorization header back in their text.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := apiKeyParamPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = authHeaderPattern.ReplaceAllString(sanitized, "${1} "+RedactedText)
	sanitized = urlCredsPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
