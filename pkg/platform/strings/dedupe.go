// Package strings provides string normalization helpers shared by the
// contact validator and the data mapper.
package strings

import (
	"strings"
	"unicode"
)

// DedupeBy normalizes each value, drops empty results and keeps the first
// occurrence of each normalized value. Order is preserved.
func DedupeBy(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		n := normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			result = append(result, n)
		}
	}

	return result
}

// DedupeAndTrimLower trims, lowercases and deduplicates. Used for emails.
//
//	DedupeAndTrimLower([]string{"  A@B.COM ", "a@b.com"}) // []string{"a@b.com"}
func DedupeAndTrimLower(values []string) []string {
	return DedupeBy(values, TrimLower)
}

// DedupeDigits reduces each value to its digits and deduplicates. Used for phones.
//
//	DedupeDigits([]string{"(11) 98765-4321", "11987654321"}) // []string{"11987654321"}
func DedupeDigits(values []string) []string {
	return DedupeBy(values, DigitsOnly)
}

// TrimLower trims surrounding whitespace and lowercases.
func TrimLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DigitsOnly strips every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
