package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/nameutil"
)

// apiEntry is one stream record from a JSON search API. Only the fields
// the merge cares about are decoded.
type apiEntry struct {
	Infohash              string   `json:"infohash"`
	Name                  string   `json:"name"`
	Availability          float64  `json:"availability"`
	AvailabilityUpdatedAt int64    `json:"availability_updated_at"`
	Categories            []string `json:"categories"`
}

// apiStaleAfter drops API results not confirmed available recently.
const apiStaleAfter = 14 * 24 * time.Hour

// apiScraper queries a JSON API that returns a flat list of streams keyed
// by infohash.
type apiScraper struct {
	cfg    config.APISourceConfig
	filter *TitleFilter
	fetch  fetchFunc
	logger *slog.Logger
}

func newAPIScraper(cfg config.APISourceConfig, fetch fetchFunc, logger *slog.Logger) (*apiScraper, error) {
	filter, err := NewTitleFilter(cfg.TitleFilter)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
	}
	return &apiScraper{cfg: cfg, filter: filter, fetch: fetch, logger: logger}, nil
}

func (s *apiScraper) scrape(ctx context.Context) ([]FoundStream, error) {
	body, err := s.fetch(ctx, s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.cfg.URL, err)
	}

	var entries []apiEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.cfg.URL, err)
	}

	cutoff := time.Now().Add(-apiStaleAfter).Unix()
	var found []FoundStream
	for _, entry := range entries {
		if !nameutil.IsValidInfohash(strings.ToLower(entry.Infohash)) {
			continue
		}
		if entry.Availability <= 0 || entry.AvailabilityUpdatedAt < cutoff {
			continue
		}
		title := s.filter.Postprocess(entry.Name)
		if title == "" || !s.filter.Allows(title) {
			continue
		}
		stream := FoundStream{
			Infohash: strings.ToLower(entry.Infohash),
			Title:    title,
			Source:   s.cfg.Name,
		}
		if len(entry.Categories) > 0 {
			stream.GroupTitle = entry.Categories[0]
		}
		found = append(found, stream)
	}
	return found, nil
}
