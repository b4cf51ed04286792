package nameutil

import "strings"

// categoryKeywords maps canonical group titles to keywords that select them.
// Matching is case-insensitive substring over both the existing group title
// and the stream title.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"Sports", []string{"sport", "espn", "dazn", "football", "soccer", "nba", "nfl", "mlb", "nhl", "ufc", "golf", "tennis", "cricket", "rugby", "racing", "f1", "motogp"}},
	{"News", []string{"news", "cnn", "bbc world", "euronews", "al jazeera"}},
	{"Movies", []string{"movie", "cinema", "film", "hbo", "paramount"}},
	{"Kids", []string{"kids", "cartoon", "disney", "nickelodeon", "junior"}},
	{"Music", []string{"music", "mtv", "vh1"}},
	{"Documentary", []string{"documentary", "discovery", "nat geo", "national geographic", "history"}},
}

// PopulateGroupTitle picks a group title for a catalog entry. If a category
// keyword matches either the existing group title or the stream title, the
// canonical category wins. Otherwise a non-empty existing value is kept with
// its first letter capitalised, falling back to "General".
func PopulateGroupTitle(existing, title string) string {
	haystack := strings.ToLower(existing) + " " + strings.ToLower(title)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(haystack, kw) {
				return c.category
			}
		}
	}
	if existing != "" {
		return capitalise(existing)
	}
	return "General"
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
