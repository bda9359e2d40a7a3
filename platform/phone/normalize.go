// Package phone provides contact identifier utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	// DefaultRegion is used when formatting outbound numbers without a country prefix.
	DefaultRegion = "KZ"

	trunkPrefix = '8'
	countryCode = '7'

	domesticLength = 11
	maxE164Digits  = 15
	minSuffixMatch = 7
)

// opaqueSuffixes mark provider identifiers that are privacy ids rather than phone numbers.
var opaqueSuffixes = []string{"@lid"}

// Canonical returns the digit-only canonical contact id for a provider identifier.
// When raw is an opaque privacy id (or yields no digits) alt is used instead.
// It never panics; unusable input returns ok=false.
func Canonical(raw, alt string) (string, bool) {
	if !IsOpaque(raw) {
		if id, ok := canonicalize(raw); ok {
			return id, true
		}
	}
	if IsOpaque(alt) {
		return "", false
	}
	return canonicalize(alt)
}

// IsOpaque reports whether the identifier is a provider privacy id that cannot
// be resolved to a phone number.
func IsOpaque(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, suffix := range opaqueSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func canonicalize(raw string) (string, bool) {
	trimmed := stripProviderSuffix(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", false
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, trimmed)

	if len(digits) == domesticLength && digits[0] == trunkPrefix {
		digits = string(countryCode) + digits[1:]
	}

	if digits == "" || len(digits) > maxE164Digits {
		return "", false
	}
	return digits, true
}

// stripProviderSuffix removes messaging-domain qualifiers such as "@c.us",
// "@s.whatsapp.net" and multi-device markers like "77071234567:12".
func stripProviderSuffix(raw string) string {
	if idx := strings.IndexByte(raw, '@'); idx >= 0 {
		raw = raw[:idx]
	}
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		raw = raw[:idx]
	}
	return raw
}

// SuffixMatch compares two canonical ids tolerating a missing or different
// country prefix: either id may be a suffix of the other. The shorter side must
// carry at least seven digits so short fragments never match.
func SuffixMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) < minSuffixMatch {
		return false
	}
	return strings.HasSuffix(longer, shorter)
}

// NormalizeE164 formats a phone number to E.164 for outbound delivery.
// If parsing fails, it returns the trimmed input.
func NormalizeE164(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	if region == "" {
		region = DefaultRegion
	}

	if !strings.HasPrefix(trimmed, "+") {
		if canonical, ok := canonicalize(trimmed); ok && len(canonical) == domesticLength {
			trimmed = "+" + canonical
		}
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}
