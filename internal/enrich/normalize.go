// Package enrich resolves crash locations to coordinates through the
// geocode cache and an external geocoder, subject to a per-run policy.
package enrich

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upper = cases.Upper(language.AmericanEnglish)

// placeholders are location values the source uses when no address was
// recorded. They are never sent to the geocoder.
var placeholders = map[string]struct{}{
	"":        {},
	"N/A":     {},
	"NA":      {},
	"NULL":    {},
	"NONE":    {},
	"UNKNOWN": {},
}

// CanonicalLocation returns the cache key form of a raw crash location:
// uppercased with runs of whitespace collapsed to single spaces.
func CanonicalLocation(raw string) string {
	return strings.Join(strings.Fields(upper.String(raw)), " ")
}

// Geocodable reports whether a canonical location is worth sending to the
// geocoder.
func Geocodable(canonical string) bool {
	_, placeholder := placeholders[canonical]
	return !placeholder
}
