// Package slugid generates URL-stable tenant identifiers from organization
// display names and short-codes.
//
// Slugs are restricted to [a-z0-9-], normalized from common Latin diacritics,
// and bounded in length. A time-derived suffix disambiguates collisions:
//
//	slugid.Tenant("Acme County")                    // "acme-county"
//	slugid.WithSuffix("acme-county", time.Now())    // "acme-county-t3kx9"
package slugid

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// maxLength bounds a tenant slug before any suffix.
	maxLength = 40

	separator = '-'
)

// normalizer strips combining marks after canonical decomposition, so
// "Café" becomes "Cafe" before sanitization.
var normalizer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Tenant converts an organization name or short-code into a tenant slug.
// Returns an empty string when nothing usable survives sanitization; the
// caller decides the fallback.
func Tenant(name string) string {
	normalized, _, err := transform.String(normalizer, name)
	if err != nil {
		normalized = name
	}

	var b strings.Builder
	b.Grow(len(normalized))
	lastSep := true // suppress leading separators
	for _, r := range strings.ToLower(normalized) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastSep = false
		case !lastSep:
			b.WriteRune(separator)
			lastSep = true
		}
	}

	return truncate(strings.Trim(b.String(), string(separator)), maxLength)
}

// WithSuffix appends a short disambiguating suffix derived from t.
// Used when the candidate slug already exists as a tenant id.
func WithSuffix(slug string, t time.Time) string {
	// Base36 of the millisecond clock; the low digits churn fast enough
	// to separate near-simultaneous signups.
	encoded := strconv.FormatInt(t.UnixMilli(), 36)
	if len(encoded) > 5 {
		encoded = encoded[len(encoded)-5:]
	}
	if slug == "" {
		return encoded
	}
	return slug + string(separator) + encoded
}

// truncate cuts the slug to max runes, backing up to the previous word
// boundary so truncation never leaves a dangling fragment mid-word.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	r = r[:max]
	if i := lastIndexRune(r, separator); i > 0 {
		r = r[:i]
	}
	return strings.TrimRight(string(r), string(separator))
}

func lastIndexRune(r []rune, sep rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == sep {
			return i
		}
	}
	return -1
}
