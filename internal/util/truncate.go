package util

import "fmt"

// DefaultLogMaxLen caps upstream response bodies echoed into logs (1KB).
const DefaultLogMaxLen = 1024

// TruncateLog truncates long strings for logging.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is TruncateLog for a response body with DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}

// MaskSecret keeps only the tail of a token or code for log lines.
func MaskSecret(s string) string {
	if len(s) < 8 {
		return "***"
	}
	return "..." + s[len(s)-4:]
}
