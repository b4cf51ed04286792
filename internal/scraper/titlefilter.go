package scraper

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kism/acerestreamer/internal/config"
)

// TitleFilter decides which scraped titles become catalog entries and
// cleans them up first. Rules are evaluated in a fixed order and the first
// one that fires wins; all matching is case-insensitive substring.
type TitleFilter struct {
	alwaysExclude []string
	alwaysInclude []string
	exclude       []string
	include       []string
	regexes       []*regexp.Regexp
}

// NewTitleFilter compiles a filter from configuration.
func NewTitleFilter(cfg config.TitleFilterConfig) (*TitleFilter, error) {
	f := &TitleFilter{
		alwaysExclude: lowerAll(cfg.AlwaysExcludeWords),
		alwaysInclude: lowerAll(cfg.AlwaysIncludeWords),
		exclude:       lowerAll(cfg.ExcludeWords),
		include:       lowerAll(cfg.IncludeWords),
	}
	for _, pattern := range cfg.RegexPostprocessing {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling title regex %q: %w", pattern, err)
		}
		f.regexes = append(f.regexes, re)
	}
	return f, nil
}

// Postprocess strips every configured regex match from the title.
func (f *TitleFilter) Postprocess(title string) string {
	for _, re := range f.regexes {
		title = re.ReplaceAllString(title, "")
	}
	return strings.TrimSpace(title)
}

// Allows reports whether the title passes the filter.
func (f *TitleFilter) Allows(title string) bool {
	lowered := strings.ToLower(title)

	if containsAny(lowered, f.alwaysExclude) {
		return false
	}
	if containsAny(lowered, f.alwaysInclude) {
		return true
	}
	if containsAny(lowered, f.exclude) {
		return false
	}
	if len(f.include) > 0 {
		return containsAny(lowered, f.include)
	}
	return true
}

func containsAny(lowered string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(lowered, w) {
			return true
		}
	}
	return false
}

func lowerAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToLower(w)
	}
	return out
}
