package logger

import (
	"fmt"
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}

// redactPIIValue masks recipient addresses and drops message text. Other
// values only have embedded addresses masked.
func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "email") || strings.Contains(key, "recipient"):
		return RedactEmail(val)
	case key == "body" || strings.HasSuffix(key, "_body") || key == "reply":
		return fmt.Sprintf("[%d chars]", len(val))
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
