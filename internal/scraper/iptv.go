package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/nameutil"
	"github.com/kism/acerestreamer/pkg/m3u"
)

// iptvScraper reads an IPTV playlist whose entries point at stream
// references. Entries carry tvg metadata the HTML sources lack, so the
// merge prefers their tvg-id and logo.
type iptvScraper struct {
	cfg    config.IPTVSourceConfig
	filter *TitleFilter
	fetch  fetchFunc
	logger *slog.Logger
}

func newIPTVScraper(cfg config.IPTVSourceConfig, fetch fetchFunc, logger *slog.Logger) (*iptvScraper, error) {
	filter, err := NewTitleFilter(cfg.TitleFilter)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
	}
	return &iptvScraper{cfg: cfg, filter: filter, fetch: fetch, logger: logger}, nil
}

func (s *iptvScraper) scrape(ctx context.Context) ([]FoundStream, error) {
	body, err := s.fetch(ctx, s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.cfg.URL, err)
	}

	var found []FoundStream
	parser := &m3u.Parser{
		OnEntry: func(entry *m3u.Entry) error {
			stream, ok := s.convert(entry)
			if ok {
				found = append(found, stream)
			}
			return nil
		},
		OnError: func(lineNum int, err error) {
			s.logger.Debug("playlist line skipped",
				slog.String("source", s.cfg.Name),
				slog.Int("line", lineNum),
				slog.Any("error", err))
		},
	}
	if err := parser.ParseCompressed(bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.cfg.URL, err)
	}
	return found, nil
}

func (s *iptvScraper) convert(entry *m3u.Entry) (FoundStream, bool) {
	title := entry.Title
	if title == "" {
		title = entry.TvgName
	}
	title = s.filter.Postprocess(title)
	if title == "" || !s.filter.Allows(title) {
		return FoundStream{}, false
	}

	stream := FoundStream{
		Title:      title,
		TvgID:      entry.TvgID,
		TvgLogo:    entry.TvgLogo,
		GroupTitle: entry.GroupTitle,
		Source:     s.cfg.Name,
	}
	if id, ok := nameutil.ExtractContentID(entry.URL); ok {
		stream.ContentID = id
	} else if ih, ok := nameutil.ExtractInfohash(entry.URL); ok {
		stream.Infohash = ih
	} else {
		return FoundStream{}, false
	}
	return stream, true
}
