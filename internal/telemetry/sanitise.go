package telemetry

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	// Minimum length for alphanumeric strings to be considered tokens
	minTokenLength = 20
	// Maximum length of an error message attribute
	maxErrorLength = 512
)

var (
	// Credential assignments inside free text, e.g. "access_token=abc"
	secretPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|access[_-]?token|client[_-]?secret|secret[_-]?key|token|secret|password|authorization)([\s:="']+)([^\s"'&,]+)`)

	// URL query parameters that might contain secrets
	sensitiveQueryParams = map[string]bool{
		"api_key":       true,
		"apikey":        true,
		"token":         true,
		"access_token":  true,
		"client_id":     true,
		"client_secret": true,
		"secret":        true,
		"key":           true,
		"password":      true,
		"auth":          true,
	}
)

// SanitiseURL removes credentials and sensitive query parameters from URLs.
// Baidu passes access_token in the query string, so every OCR URL is logged
// through here.
func SanitiseURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" {
		return "[INVALID_URL]"
	}

	parsedURL.User = nil

	if parsedURL.RawQuery != "" {
		query := parsedURL.Query()
		for key := range query {
			keyLower := strings.ToLower(key)
			if sensitiveQueryParams[keyLower] || strings.Contains(keyLower, "key") || strings.Contains(keyLower, "token") || strings.Contains(keyLower, "secret") {
				query.Set(key, "[REDACTED]")
			}
		}
		parsedURL.RawQuery = query.Encode()
	}

	return parsedURL.String()
}

// SanitiseError renders err for span attributes and the failure journal with
// credential values removed
func SanitiseError(err error) string {
	if err == nil {
		return ""
	}
	return TruncateString(SanitiseString(err.Error()), maxErrorLength)
}

// SanitiseString removes credential assignments and bare tokens from s
func SanitiseString(s string) string {
	if s == "" {
		return s
	}

	if secretPattern.MatchString(s) {
		return secretPattern.ReplaceAllString(s, "$1$2[REDACTED]")
	}

	// A lone long alphanumeric string is probably a token
	if len(s) > minTokenLength && isTokenLike(s) {
		return s[:4] + "...[REDACTED]"
	}

	return s
}

func isTokenLike(s string) bool {
	for _, char := range s {
		isValid := (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' || char == '.'
		if !isValid {
			return false
		}
	}
	return true
}

// TruncateString truncates a string to a maximum length with ellipsis
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
