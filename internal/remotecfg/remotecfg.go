// Package remotecfg periodically pulls a hosted configuration document
// and overlays its scraper and EPG sections onto the running config.
// Secrets and local sections never come from the remote document.
package remotecfg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/httpclient"
)

const defaultInterval = 24 * time.Hour

// OnApply is invoked after a remote document replaces the live sections;
// the services layer uses it to restart scraping and rebuild EPG sources.
type OnApply func(cfg *config.AppConfig)

// Fetcher owns the remote settings task.
type Fetcher struct {
	http    *httpclient.Client
	logger  *slog.Logger
	onApply OnApply

	mu  sync.Mutex
	cfg *config.AppConfig
}

// New builds a Fetcher over the live configuration. onApply may be nil.
func New(cfg *config.AppConfig, http *httpclient.Client, onApply OnApply, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		http:    http,
		logger:  logger.With(slog.String("component", "remotecfg")),
		onApply: onApply,
		cfg:     cfg,
	}
}

// Run is the long-lived remote settings task. A zero interval means the
// default of 24 hours; an empty URL disables the task entirely.
func (f *Fetcher) Run(ctx context.Context) {
	f.mu.Lock()
	url := f.cfg.Remote.URL
	interval := f.cfg.Remote.Interval
	f.mu.Unlock()

	if url == "" {
		return
	}
	if interval <= 0 {
		interval = defaultInterval
	}

	for {
		if err := f.FetchOnce(ctx); err != nil {
			f.logger.Warn("remote settings fetch failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// FetchOnce downloads the remote document and applies it when it differs
// from the current configuration. The previous config is backed up before
// the overlay is persisted.
func (f *Fetcher) FetchOnce(ctx context.Context) error {
	f.mu.Lock()
	url := f.cfg.Remote.URL
	f.mu.Unlock()
	if url == "" {
		return nil
	}

	body, err := f.http.GetBody(ctx, url)
	if err != nil {
		return fmt.Errorf("fetching remote settings: %w", err)
	}

	var remote config.AppConfig
	if err := json.Unmarshal(body, &remote); err != nil {
		return fmt.Errorf("decoding remote settings: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cfg.EqualSections(&remote) {
		f.logger.Debug("remote settings unchanged")
		return nil
	}

	// Validate against a scratch copy so a bad document leaves the live
	// config untouched.
	candidate := *f.cfg
	candidate.ApplyRemote(&remote)
	if err := candidate.Validate(); err != nil {
		return fmt.Errorf("remote settings invalid: %w", err)
	}

	f.cfg.ApplyRemote(&remote)
	if err := f.cfg.SaveWithBackup(); err != nil {
		return fmt.Errorf("persisting remote settings: %w", err)
	}

	f.logger.Info("remote settings applied",
		slog.Int("html_sources", len(f.cfg.Scraper.HTMLSources)),
		slog.Int("iptv_sources", len(f.cfg.Scraper.IPTVSources)),
		slog.Int("api_sources", len(f.cfg.Scraper.APISources)),
		slog.Int("epg_sources", len(f.cfg.EPGs)))

	if f.onApply != nil {
		f.onApply(f.cfg)
	}
	return nil
}
