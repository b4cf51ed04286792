// Package nameutil provides identifier and title normalisation helpers:
// slugs for cache/logo file names, 40-hex content-id validation, tvg-id
// canonicalisation, and stream-reference extraction from source URLs.
package nameutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	contentIDRegex = regexp.MustCompile(`^[0-9a-f]{40}$`)
	nonSlugRegex   = regexp.MustCompile(`[^a-z0-9-]+`)
	multiSpace     = regexp.MustCompile(` +`)

	// Trailing numbered country suffix, e.g. "Channel.uk2" -> "Channel.uk".
	numberedCountry = regexp.MustCompile(`\.([a-z]{2})\d+$`)

	// "Name.cc", "Name_cc" or "Name-cc" with a two-letter country code.
	nameCountry = regexp.MustCompile(`^(.*)[._-]([A-Za-z]{2})$`)

	// Bracketed country code in a title, e.g. "Channel [UK]".
	titleCountry = regexp.MustCompile(`\[([A-Za-z]{2})\]`)

	stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Slugify converts an arbitrary string to a stable lowercase slug containing
// only [a-z0-9-]. "+" becomes "plus" so names like "C++" survive. The result
// is idempotent: Slugify(Slugify(s)) == Slugify(s).
func Slugify(s string) string {
	if folded, _, err := transform.String(stripDiacritics, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "+", "plus")
	s = nonSlugRegex.ReplaceAllString(s, " ")
	s = multiSpace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return strings.ReplaceAll(s, " ", "-")
}

// IsValidContentID reports whether s is a 40-character lowercase hex string,
// the shape of an engine content-id.
func IsValidContentID(s string) bool {
	return contentIDRegex.MatchString(s)
}

// IsValidInfohash reports whether s is a valid infohash. Infohashes share the
// content-id shape but live in a different namespace.
func IsValidInfohash(s string) bool {
	return contentIDRegex.MatchString(s)
}

// NormaliseTvgID canonicalises a tvg-id. Overrides are applied first, then a
// trailing numbered country suffix is stripped, then one of two source forms
// is rewritten to the canonical "Name.cc":
//
//	"CC | Name"                       -> "Name.cc"
//	"Name.cc" / "Name_cc" / "Name-cc" -> "Name.cc"
//
// Unrecognised inputs are returned unchanged.
func NormaliseTvgID(id string, overrides map[string]string) string {
	if mapped, ok := overrides[id]; ok {
		id = mapped
	}

	id = numberedCountry.ReplaceAllString(id, ".$1")

	// "CC | Name" form.
	if before, after, found := strings.Cut(id, "|"); found {
		cc := strings.TrimSpace(before)
		name := strings.TrimSpace(after)
		if len(cc) == 2 && isAlpha(cc) && name != "" {
			return name + "." + strings.ToLower(cc)
		}
	}

	// "Name.cc" / "Name_cc" / "Name-cc" form.
	if m := nameCountry.FindStringSubmatch(id); m != nil {
		name := strings.TrimSpace(strings.ReplaceAll(m[1], "_", " "))
		if name != "" {
			return name + "." + strings.ToLower(m[2])
		}
	}

	return id
}

// TvgIDFromTitle derives a tvg-id from a title carrying a bracketed country
// code: "Name [CC]" -> "Name.cc". Returns "" when no bracket is present.
func TvgIDFromTitle(title string) string {
	m := titleCountry.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(titleCountry.ReplaceAllString(title, ""))
	name = strings.TrimSpace(multiSpace.ReplaceAllString(name, " "))
	if name == "" {
		return ""
	}
	return name + "." + strings.ToLower(m[1])
}

// CountryFromTvgID returns the lowercase country code embedded in a canonical
// tvg-id ("Name.cc"), or "" if none.
func CountryFromTvgID(id string) string {
	if m := nameCountry.FindStringSubmatch(id); m != nil && strings.Contains(id, ".") {
		return strings.ToLower(m[2])
	}
	return ""
}

// TitleHasCountry reports whether a title already carries a "[CC]" bracket.
func TitleHasCountry(title string) bool {
	return titleCountry.MatchString(title)
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return len(s) > 0
}
