package logger

import "strings"

// RedactEmail masks an address for safe logging.
// "jane.roe@example.com" becomes "ja***@example.com"; local parts of two chars
// or fewer are fully masked; anything that isn't an address becomes
// "***@***".
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	local := parts[0]
	if len(local) > 2 {
		return local[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
