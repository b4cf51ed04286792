// Package scraper discovers streams from heterogeneous external sources
// (HTML pages, IPTV playlists, JSON APIs), merges the findings and persists
// them as catalog entries. Sources are scraped concurrently; a failing
// source never takes the pass down with it.
package scraper

import (
	"context"
)

// FoundStream is one stream reference discovered by a scraper before
// merging. Either ContentID or Infohash is set; infohash-only finds are
// resolved during the merge.
type FoundStream struct {
	ContentID  string
	Infohash   string
	Title      string
	TvgID      string
	TvgLogo    string
	GroupTitle string
	Source     string
}

// TvgIDSink receives the tvg-ids a scrape pass discovered. The EPG merger
// implements it; the indirection keeps the two packages decoupled.
type TvgIDSink interface {
	AddTvgIDs(ids []string)
}

// LogoSink is asked to ensure a logo exists for each catalog entry.
// Failures are non-fatal and stay inside the sink.
type LogoSink interface {
	Fetch(ctx context.Context, title, sourceLogoURL string)
}
