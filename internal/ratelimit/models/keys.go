package models

import "strings"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so an identifier containing ':' (an IPv6 address, say) cannot spill into
// an adjacent key.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewIPRateLimitKey builds the bucket key for a client IP.
func NewIPRateLimitKey(ip string) string {
	return "ratelimit:ip:" + SanitizeKeySegment(ip)
}
