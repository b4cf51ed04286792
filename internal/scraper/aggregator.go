package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/httpclient"
	"github.com/kism/acerestreamer/internal/models"
	"github.com/kism/acerestreamer/internal/nameutil"
	"github.com/kism/acerestreamer/internal/repository"
	"github.com/kism/acerestreamer/internal/scrapecache"
)

// ContentIDResolver turns an infohash into a content-id, normally by
// asking the engine.
type ContentIDResolver interface {
	GetContentID(ctx context.Context, infohash string) (string, error)
}

const (
	defaultCacheTTL     = 2 * time.Hour
	defaultHTMLCacheTTL = time.Hour
	resolveRetryDelay   = time.Minute
)

// Scraper runs full catalog passes: fetch every configured source, merge
// the findings by content-id and upsert the result.
type Scraper struct {
	cfg      config.ScraperConfig
	catalog  repository.CatalogRepository
	infohash repository.InfohashMapRepository
	resolver ContentIDResolver
	cache    *scrapecache.Cache
	http     *httpclient.Client
	tvgIDs   TvgIDSink
	logos    LogoSink
	logger   *slog.Logger

	retryDelay time.Duration
}

// New builds a Scraper. tvgIDs and logos may be nil.
func New(
	cfg config.ScraperConfig,
	catalog repository.CatalogRepository,
	infohash repository.InfohashMapRepository,
	resolver ContentIDResolver,
	cache *scrapecache.Cache,
	http *httpclient.Client,
	tvgIDs TvgIDSink,
	logos LogoSink,
	logger *slog.Logger,
) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		cfg:        cfg,
		catalog:    catalog,
		infohash:   infohash,
		resolver:   resolver,
		cache:      cache,
		http:       http,
		tvgIDs:     tvgIDs,
		logos:      logos,
		logger:     logger.With(slog.String("component", "scraper")),
		retryDelay: resolveRetryDelay,
	}
}

// Run executes one scrape pass. Individual source failures are logged and
// skipped; the pass fails only when persistence does.
func (s *Scraper) Run(ctx context.Context) error {
	start := time.Now()
	// Each pass gets a run id so its log lines can be correlated.
	logger := s.logger.With(slog.String("run_id", ulid.Make().String()))

	found := s.scrapeSources(ctx)
	if len(found) == 0 {
		logger.Warn("scrape pass found nothing, keeping existing catalog")
		return nil
	}

	merged := s.merge(ctx, found)
	if len(merged) == 0 {
		return nil
	}

	for _, stream := range merged {
		if title, ok := s.cfg.NameOverrides[stream.ContentID]; ok && title != "" {
			stream.Title = title
		}
	}

	s.disambiguateTitles(ctx, merged)

	now := time.Now()
	var tvgIDs []string
	for _, stream := range merged {
		stream.LastScrapedAt = now
		if err := s.catalog.Upsert(ctx, stream); err != nil {
			return fmt.Errorf("upserting %s: %w", streamKey(stream), err)
		}
		if stream.TvgID != "" {
			tvgIDs = append(tvgIDs, stream.TvgID)
		}
		if s.logos != nil {
			s.logos.Fetch(ctx, stream.Title, stream.TvgLogo)
		}
	}
	if s.tvgIDs != nil && len(tvgIDs) > 0 {
		s.tvgIDs.AddTvgIDs(tvgIDs)
	}

	logger.Info("scrape pass complete",
		slog.Int("found", len(found)),
		slog.Int("streams", len(merged)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// scrapeSources fetches every source concurrently. A failing source is
// logged and contributes nothing.
func (s *Scraper) scrapeSources(ctx context.Context) []FoundStream {
	type result struct {
		streams []FoundStream
		source  string
		err     error
	}

	htmlTTL := s.cfg.HTMLCacheTTL
	if htmlTTL <= 0 {
		htmlTTL = defaultHTMLCacheTTL
	}
	ttl := s.cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	var jobs []func(context.Context) ([]FoundStream, error)
	var names []string
	for _, cfg := range s.cfg.HTMLSources {
		scraper, err := newHTMLScraper(cfg, s.cachedFetch(htmlTTL), s.logger)
		if err != nil {
			s.logger.Error("html source misconfigured", slog.String("source", cfg.Name), slog.Any("error", err))
			continue
		}
		jobs = append(jobs, scraper.scrape)
		names = append(names, cfg.Name)
	}
	for _, cfg := range s.cfg.IPTVSources {
		scraper, err := newIPTVScraper(cfg, s.cachedFetch(ttl), s.logger)
		if err != nil {
			s.logger.Error("iptv source misconfigured", slog.String("source", cfg.Name), slog.Any("error", err))
			continue
		}
		jobs = append(jobs, scraper.scrape)
		names = append(names, cfg.Name)
	}
	for _, cfg := range s.cfg.APISources {
		scraper, err := newAPIScraper(cfg, s.cachedFetch(ttl), s.logger)
		if err != nil {
			s.logger.Error("api source misconfigured", slog.String("source", cfg.Name), slog.Any("error", err))
			continue
		}
		jobs = append(jobs, scraper.scrape)
		names = append(names, cfg.Name)
	}

	results := make([]result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			streams, err := job(gctx)
			results[i] = result{streams: streams, source: names[i], err: err}
			return nil
		})
	}
	_ = g.Wait()

	var found []FoundStream
	for _, res := range results {
		if res.err != nil {
			s.logger.Error("source scrape failed", slog.String("source", res.source), slog.Any("error", res.err))
			continue
		}
		s.logger.Debug("source scraped", slog.String("source", res.source), slog.Int("streams", len(res.streams)))
		found = append(found, res.streams...)
	}
	return found
}

// cachedFetch returns a fetch function backed by the on-disk scrape cache.
func (s *Scraper) cachedFetch(ttl time.Duration) fetchFunc {
	return func(ctx context.Context, url string) ([]byte, error) {
		if s.cache != nil && s.cache.IsFresh(url, ttl) {
			if body := s.cache.Load(url); body != nil {
				return body, nil
			}
		}
		body, err := s.http.GetBody(ctx, url)
		if err != nil {
			// A stale copy beats nothing when the source is down.
			if s.cache != nil {
				if body := s.cache.Load(url); body != nil {
					s.logger.Warn("source unreachable, using stale cache", slog.String("url", url))
					return body, nil
				}
			}
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Save(url, body); err != nil {
				s.logger.Warn("scrape cache write failed", slog.Any("error", err))
			}
		}
		return body, nil
	}
}

// merge folds per-source findings into one record per stream, keyed by
// content-id, or by infohash for findings that could not be resolved yet.
func (s *Scraper) merge(ctx context.Context, found []FoundStream) []*models.AceStream {
	found = s.resolveInfohashes(ctx, found)

	byID := make(map[string]*models.AceStream)
	var order []string
	for _, f := range found {
		key := f.ContentID
		if key == "" {
			key = f.Infohash
		}
		existing, ok := byID[key]
		if !ok {
			byID[key] = &models.AceStream{
				ContentID:    f.ContentID,
				Infohash:     f.Infohash,
				Title:        f.Title,
				TvgID:        f.TvgID,
				TvgLogo:      f.TvgLogo,
				GroupTitle:   f.GroupTitle,
				SitesFoundOn: models.StringSet{f.Source},
			}
			order = append(order, key)
			continue
		}

		existing.SitesFoundOn = existing.SitesFoundOn.Add(f.Source)
		// Titles carrying a country tag win over plain ones.
		if nameutil.TitleHasCountry(f.Title) && !nameutil.TitleHasCountry(existing.Title) {
			existing.Title = f.Title
		}
		if existing.Infohash == "" {
			existing.Infohash = f.Infohash
		}
		if existing.TvgID == "" {
			existing.TvgID = f.TvgID
		}
		if existing.TvgLogo == "" {
			existing.TvgLogo = f.TvgLogo
		}
		if existing.GroupTitle == "" {
			existing.GroupTitle = f.GroupTitle
		}
	}

	merged := make([]*models.AceStream, 0, len(order))
	for _, id := range order {
		stream := byID[id]
		s.enrich(ctx, stream)
		merged = append(merged, stream)
	}
	return merged
}

// enrich fills derived fields after the merge.
func (s *Scraper) enrich(ctx context.Context, stream *models.AceStream) {
	if stream.TvgID == "" {
		stream.TvgID = nameutil.TvgIDFromTitle(stream.Title)
	} else {
		stream.TvgID = nameutil.NormaliseTvgID(stream.TvgID, nil)
		if cc := nameutil.CountryFromTvgID(stream.TvgID); cc != "" && !nameutil.TitleHasCountry(stream.Title) {
			stream.Title = fmt.Sprintf("%s [%s]", stream.Title, strings.ToUpper(cc))
		}
	}
	stream.GroupTitle = nameutil.PopulateGroupTitle(stream.GroupTitle, stream.Title)

	if stream.ContentID != "" && stream.Infohash != "" {
		if err := s.infohash.Learn(ctx, stream.ContentID, stream.Infohash); err != nil {
			s.logger.Warn("learning infohash mapping failed",
				slog.String("content_id", stream.ContentID), slog.Any("error", err))
		}
	}
}

// streamKey is the catalog identity: content-id when known, infohash
// otherwise.
func streamKey(stream *models.AceStream) string {
	if stream.ContentID != "" {
		return stream.ContentID
	}
	return stream.Infohash
}

// resolveInfohashes converts infohash-only findings into content-id
// findings, first through the learned mapping, then by asking the engine.
// Engine failures get one retry for the whole batch after a delay, the
// engine may still be warming up. Findings that stay unresolved are kept
// as infohash-only entries; the next pass tries resolving them again.
func (s *Scraper) resolveInfohashes(ctx context.Context, found []FoundStream) []FoundStream {
	resolved := make([]FoundStream, 0, len(found))
	var pending []FoundStream

	for _, f := range found {
		if f.ContentID != "" {
			resolved = append(resolved, f)
			continue
		}
		if id, err := s.infohash.ContentIDForInfohash(ctx, f.Infohash); err == nil && id != "" {
			f.ContentID = id
			resolved = append(resolved, f)
			continue
		}
		pending = append(pending, f)
	}

	for attempt := 0; attempt < 2 && len(pending) > 0; attempt++ {
		if attempt > 0 {
			if !sleepUnlessDone(ctx, s.retryDelay) {
				break
			}
		}
		var still []FoundStream
		for _, f := range pending {
			id, err := s.resolver.GetContentID(ctx, f.Infohash)
			if err != nil || id == "" {
				still = append(still, f)
				continue
			}
			f.ContentID = id
			if err := s.infohash.Learn(ctx, id, f.Infohash); err != nil {
				s.logger.Warn("learning infohash mapping failed",
					slog.String("infohash", f.Infohash), slog.Any("error", err))
			}
			resolved = append(resolved, f)
		}
		pending = still
	}
	if len(pending) > 0 {
		s.logger.Warn("infohashes left unresolved this pass", slog.Int("count", len(pending)))
		resolved = append(resolved, pending...)
	}
	return resolved
}

// disambiguateTitles appends " #n" to every stream sharing a title,
// numbering from #1. Streams already in the catalog keep their relative
// order by xc_id; newcomers sort after them by content-id.
func (s *Scraper) disambiguateTitles(ctx context.Context, merged []*models.AceStream) {
	existingXcID := make(map[string]uint)
	if current, err := s.catalog.GetAll(ctx); err == nil {
		for _, stream := range current {
			existingXcID[streamKey(&stream)] = stream.XcID
		}
	}

	byTitle := make(map[string][]*models.AceStream)
	for _, stream := range merged {
		key := strings.ToLower(stream.Title)
		byTitle[key] = append(byTitle[key], stream)
	}

	for _, group := range byTitle {
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			xi, oki := existingXcID[streamKey(group[i])]
			xj, okj := existingXcID[streamKey(group[j])]
			switch {
			case oki && okj:
				return xi < xj
			case oki:
				return true
			case okj:
				return false
			default:
				return streamKey(group[i]) < streamKey(group[j])
			}
		})
		for i, stream := range group {
			stream.Title = fmt.Sprintf("%s #%d", stream.Title, i+1)
		}
	}
}

func sleepUnlessDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
