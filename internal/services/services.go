// Package services wires the gateway together: storage, engine client,
// session pool, scrape and guide tasks, and the HTTP surface. The cmd
// layer builds one Services value and runs it.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/database"
	"github.com/kism/acerestreamer/internal/epg"
	internalhttp "github.com/kism/acerestreamer/internal/http"
	"github.com/kism/acerestreamer/internal/http/handlers"
	"github.com/kism/acerestreamer/internal/httpclient"
	"github.com/kism/acerestreamer/internal/logos"
	"github.com/kism/acerestreamer/internal/pool"
	"github.com/kism/acerestreamer/internal/quality"
	"github.com/kism/acerestreamer/internal/remotecfg"
	"github.com/kism/acerestreamer/internal/repository"
	"github.com/kism/acerestreamer/internal/scrapecache"
	"github.com/kism/acerestreamer/internal/scraper"
	"github.com/kism/acerestreamer/internal/tokens"
	"github.com/kism/acerestreamer/internal/ume"
	"github.com/kism/acerestreamer/internal/version"
)

// Services owns every long-lived component of the gateway.
type Services struct {
	cfg    *config.AppConfig
	logger *slog.Logger

	db         *database.DB
	catalog    repository.CatalogRepository
	infohash   repository.InfohashMapRepository
	categories repository.CategoryRepository

	http     *httpclient.Client
	engine   *ume.Client
	pool     *pool.Pool
	tracker  *quality.Tracker
	cache    *scrapecache.Cache
	logos    *logos.Fetcher
	epg      *epg.Merger
	verifier *tokens.Verifier
	remote   *remotecfg.Fetcher
	server   *internalhttp.Server
	stream   *handlers.StreamHandler

	cron        *cron.Cron
	scrapeEntry cron.EntryID
	runCtx      context.Context
	lock        *instanceLock

	scrapeMu sync.Mutex
	scraper  *scraper.Scraper
}

// New builds every component from the configuration. The instance lock is
// held until Close.
func New(cfg *config.AppConfig, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := ensureInstanceDirs(cfg.Instance); err != nil {
		return nil, err
	}

	lock, err := acquireLock(cfg.Instance.LockFilePath())
	if err != nil {
		return nil, err
	}

	s := &Services{cfg: cfg, logger: logger, lock: lock}
	if err := s.build(); err != nil {
		lock.Release()
		return nil, err
	}
	return s, nil
}

func ensureInstanceDirs(instance config.InstanceConfig) error {
	dirs := []string{
		instance.Dir,
		instance.BackupDir(),
		instance.ScraperCacheDir(),
		instance.TvgLogoDir(),
		instance.EPGDataDir(),
		instance.PlaylistDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating instance dir %s: %w", dir, err)
		}
	}
	return nil
}

func (s *Services) build() error {
	db, err := database.New(s.cfg.Database, s.cfg.Instance.DatabasePath(), s.logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	s.db = db
	s.catalog = repository.NewCatalogRepository(db.DB)
	s.infohash = repository.NewInfohashMapRepository(db.DB)
	s.categories = repository.NewCategoryRepository(db.DB)

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Logger = s.logger
	s.http = httpclient.New(httpCfg)

	s.engine = ume.New(s.cfg.Engine, s.http, s.logger)
	s.pool = pool.New(s.cfg.Pool, s.engine, s.http, s.logger)
	s.tracker = quality.New(repository.NewQualityRepository(db.DB), s.logger)

	cache, err := scrapecache.New(s.cfg.Instance.ScraperCacheDir())
	if err != nil {
		return fmt.Errorf("opening scrape cache: %w", err)
	}
	s.cache = cache

	s.logos = logos.New(s.cfg.Instance.TvgLogoDir(), s.cfg.Scraper.TvgLogoExternalURL, s.logger)

	merger, err := epg.New(s.cfg.EPGs, s.cfg.Instance.EPGDataDir(), s.http, s.logger)
	if err != nil {
		return fmt.Errorf("building EPG merger: %w", err)
	}
	s.epg = merger

	s.verifier = tokens.New(func() []config.UserConfig { return s.cfg.Auth.Users })
	s.scraper = scraper.New(s.cfg.Scraper, s.catalog, s.infohash, s.engine,
		s.cache, s.http, s.epg, s.logos, s.logger)

	s.remote = remotecfg.New(s.cfg, s.http, s.applyConfig, s.logger)
	s.cron = cron.New()

	s.buildServer()
	return nil
}

// buildServer assembles the HTTP surface: streaming routes on chi, the
// management API on huma.
func (s *Services) buildServer() {
	s.server = internalhttp.NewServer(s.cfg.Server, s.logger, version.Version)

	s.stream = handlers.NewStreamHandler(s.pool, s.infohash, s.tracker, s.verifier,
		s.http, s.cfg.Engine.Address, s.cfg.Server.ExternalURL, s.logger)
	s.stream.Register(s.server.Router())

	playlist := handlers.NewPlaylistHandler(s.catalog, s.epg, s.logos, s.verifier,
		s.cfg.Server.ExternalURL, s.logger)
	playlist.Register(s.server.Router())

	xc := handlers.NewXtreamHandler(s.catalog, s.categories, s.epg, s.verifier,
		s.stream, playlist, s.cfg.Server, s.logger)
	xc.Register(s.server.Router())

	handlers.NewHealthHandler().Register(s.server.API())

	handlers.AdminAuth(s.server.API(), s.cfg.Auth.AdminPassword)
	admin := handlers.NewAdminHandler(s.cfg, s.pool, s.tracker, s.catalog,
		scrapeRunnerFunc(s.scrapePass), s.stream.Probe, s.applyConfig, s.logger)
	admin.Register(s.server.API())
}

type scrapeRunnerFunc func(context.Context) error

func (f scrapeRunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run starts every background task and serves HTTP until ctx is cancelled.
func (s *Services) Run(ctx context.Context) error {
	defer s.Close()

	if err := s.tracker.Load(ctx); err != nil {
		s.logger.Warn("loading persisted quality state failed", slog.Any("error", err))
	}

	s.pool.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.epg.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.remote.Run(ctx)
	}()

	s.runCtx = ctx
	if err := s.scheduleScrape(ctx); err != nil {
		return err
	}
	s.cron.Start()

	// First pass immediately; the cron entry handles the rest.
	go func() {
		if err := s.scrapePass(ctx); err != nil {
			s.logger.Error("initial scrape pass failed", slog.Any("error", err))
		}
	}()

	err := s.server.ListenAndServe(ctx)

	<-s.cron.Stop().Done()
	s.pool.Stop()
	wg.Wait()
	return err
}

// scrapePass runs one scrape pass and refreshes the adhoc playlist
// exports from the resulting catalog.
func (s *Services) scrapePass(ctx context.Context) error {
	s.scrapeMu.Lock()
	sc := s.scraper
	s.scrapeMu.Unlock()

	if err := sc.Run(ctx); err != nil {
		return err
	}
	if err := s.exportPlaylists(ctx); err != nil {
		s.logger.Warn("adhoc playlist export failed", slog.Any("error", err))
	}
	return nil
}

func (s *Services) scheduleScrape(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.cfg.Scraper.Interval)
	id, err := s.cron.AddFunc(spec, func() {
		if err := s.scrapePass(ctx); err != nil {
			s.logger.Error("scheduled scrape pass failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling scrape every %s: %w", s.cfg.Scraper.Interval, err)
	}
	s.scrapeEntry = id
	return nil
}

// applyConfig reacts to a persisted configuration change: rebuild the
// scraper over the new sections, swap the EPG sources and refresh tokens.
func (s *Services) applyConfig(cfg *config.AppConfig) {
	s.scrapeMu.Lock()
	s.scraper = scraper.New(cfg.Scraper, s.catalog, s.infohash, s.engine,
		s.cache, s.http, s.epg, s.logos, s.logger)
	s.scrapeMu.Unlock()

	if err := s.epg.SetSources(cfg.EPGs); err != nil {
		s.logger.Error("applying EPG sources failed", slog.Any("error", err))
	}
	s.verifier.Refresh()

	// The scrape interval may have changed; replace the cron entry.
	if s.runCtx != nil {
		s.cron.Remove(s.scrapeEntry)
		if err := s.scheduleScrape(s.runCtx); err != nil {
			s.logger.Error("rescheduling scrape failed", slog.Any("error", err))
		}
	}

	s.logger.Info("configuration change applied",
		slog.Int("html_sources", len(cfg.Scraper.HTMLSources)),
		slog.Int("iptv_sources", len(cfg.Scraper.IPTVSources)),
		slog.Int("api_sources", len(cfg.Scraper.APISources)),
		slog.Int("epg_sources", len(cfg.EPGs)))
}

// Close releases the instance lock. Run calls it on the way out.
func (s *Services) Close() {
	if s.lock != nil {
		s.lock.Release()
		s.lock = nil
	}
}
