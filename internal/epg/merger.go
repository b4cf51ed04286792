// Package epg merges XMLTV guides from multiple providers into one
// condensed document covering exactly the channels the catalog knows
// about. Providers compete per tvg-id; the best-scoring candidate wins.
package epg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/httpclient"
	"github.com/kism/acerestreamer/internal/nameutil"
	"github.com/kism/acerestreamer/pkg/xmltv"
)

const (
	minWake      = time.Minute
	maxWake      = updateInterval
	postDownload = 10 * time.Second
)

// candidate is one provider's offering for a tvg-id.
type candidate struct {
	channels   []*xmltv.Channel
	programmes []*xmltv.Programme
}

// score ranks a candidate. Sparse guides are gated on upcoming programme
// count alone so a provider with descriptions but no coverage never beats
// one that actually has listings.
func (c *candidate) score(now time.Time) int {
	upcoming := 0
	withDesc := 0
	descLen := 0
	withIcon := 0
	for _, p := range c.programmes {
		if !p.Start.Before(now) {
			upcoming++
		}
		if p.Description != "" {
			withDesc++
			descLen += len(p.Description)
		}
		if p.Icon != "" {
			withIcon++
		}
	}

	if upcoming < 5 {
		return upcoming
	}
	if withDesc < 5 {
		return 5 + withDesc
	}
	return upcoming + withDesc + descLen/100 + withIcon
}

// Merger owns the EPG sources, the set of wanted tvg-ids and the published
// condensed document.
type Merger struct {
	dir    string
	http   *httpclient.Client
	logger *slog.Logger

	mu      sync.Mutex
	sources []*source
	tvgIDs  map[string]struct{}

	published atomic.Pointer[[]byte]
	wake      chan struct{}
	now       func() time.Time
}

// New builds a Merger over the configured sources. dir must exist.
func New(cfgs []config.EPGSourceConfig, dir string, http *httpclient.Client, logger *slog.Logger) (*Merger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Merger{
		dir:    dir,
		http:   http,
		logger: logger.With(slog.String("component", "epg")),
		tvgIDs: make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
		now:    time.Now,
	}
	if err := m.SetSources(cfgs); err != nil {
		return nil, err
	}
	return m, nil
}

// SetSources replaces the provider list, used at start and when remote
// settings change. Saved files of removed sources are left on disk.
func (m *Merger) SetSources(cfgs []config.EPGSourceConfig) error {
	sources := make([]*source, 0, len(cfgs))
	for _, cfg := range cfgs {
		src, err := newSource(cfg, m.dir)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}
	m.mu.Lock()
	m.sources = sources
	m.mu.Unlock()
	m.Wake()
	return nil
}

// AddTvgIDs records channel ids the catalog wants guide data for and
// nudges the update loop. Implements the scraper's sink interface.
func (m *Merger) AddTvgIDs(ids []string) {
	added := 0
	m.mu.Lock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := m.tvgIDs[id]; !ok {
			m.tvgIDs[id] = struct{}{}
			added++
		}
	}
	m.mu.Unlock()
	if added > 0 {
		m.Wake()
	}
}

// Wake nudges the update loop without waiting for its timer.
func (m *Merger) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Published returns the current condensed XMLTV document. The bytes are
// immutable; a recondense publishes a fresh slice.
func (m *Merger) Published() []byte {
	if p := m.published.Load(); p != nil {
		return *p
	}
	return nil
}

// Run is the merger's long-lived task. It refreshes due sources, waits
// briefly for late writes, recondenses, then sleeps until the earliest
// next update. Returns when ctx is cancelled.
func (m *Merger) Run(ctx context.Context) {
	for {
		downloaded := m.refresh(ctx)
		if ctx.Err() != nil {
			return
		}
		if downloaded > 0 {
			if !sleepUnlessDone(ctx, postDownload) {
				return
			}
		}
		if err := m.Condense(); err != nil {
			m.logger.Error("condense failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-time.After(m.nextWake()):
		}
	}
}

// refresh downloads every due source, returning how many succeeded.
func (m *Merger) refresh(ctx context.Context) int {
	m.mu.Lock()
	sources := make([]*source, len(m.sources))
	copy(sources, m.sources)
	m.mu.Unlock()

	downloaded := 0
	now := m.now()
	for _, src := range sources {
		if ctx.Err() != nil {
			return downloaded
		}
		if !src.timeToUpdate(now) {
			continue
		}
		if err := src.download(ctx, m.http); err != nil {
			m.logger.Warn("EPG download failed", slog.String("url", src.cfg.URL), slog.Any("error", err))
			continue
		}
		m.logger.Info("EPG downloaded", slog.String("url", src.cfg.URL))
		downloaded++
	}
	return downloaded
}

// nextWake is the earliest per-source deadline clamped to [1m, 6h].
func (m *Merger) nextWake() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := maxWake
	now := m.now()
	for _, src := range m.sources {
		if until := src.timeUntilNextUpdate(now); until < next {
			next = until
		}
	}
	if next < minWake {
		next = minWake
	}
	return next
}

// Condense rebuilds the published document from the saved guides. For each
// wanted tvg-id the best-scoring provider wins; ties keep the provider
// encountered first.
func (m *Merger) Condense() error {
	m.mu.Lock()
	sources := make([]*source, len(m.sources))
	copy(sources, m.sources)
	wanted := make(map[string]struct{}, len(m.tvgIDs))
	for id := range m.tvgIDs {
		wanted[id] = struct{}{}
	}
	m.mu.Unlock()

	type best struct {
		cand  *candidate
		score int
	}
	winners := make(map[string]*best)
	var order []string

	now := m.now()
	for _, src := range sources {
		candidates, err := m.collect(src, wanted)
		if err != nil {
			m.logger.Warn("EPG parse failed", slog.String("url", src.cfg.URL), slog.Any("error", err))
			continue
		}
		for id, cand := range candidates {
			score := cand.score(now)
			current, ok := winners[id]
			if !ok {
				winners[id] = &best{cand: cand, score: score}
				order = append(order, id)
				continue
			}
			if score > current.score {
				winners[id] = &best{cand: cand, score: score}
			}
		}
	}

	var buf bytes.Buffer
	w := xmltv.NewWriter(&buf)
	if err := w.WriteHeader(); err != nil {
		return fmt.Errorf("condensing: %w", err)
	}
	programmes := 0
	for _, id := range order {
		for _, ch := range winners[id].cand.channels {
			if err := w.WriteChannel(ch); err != nil {
				return fmt.Errorf("condensing: %w", err)
			}
		}
	}
	for _, id := range order {
		for _, p := range winners[id].cand.programmes {
			if err := w.WriteProgramme(p); err != nil {
				return fmt.Errorf("condensing: %w", err)
			}
			programmes++
		}
	}
	if err := w.WriteFooter(); err != nil {
		return fmt.Errorf("condensing: %w", err)
	}

	out := buf.Bytes()
	m.published.Store(&out)
	m.logger.Info("EPG condensed",
		slog.Int("channels", len(order)),
		slog.Int("programmes", programmes))
	return nil
}

// collect streams one saved guide and buckets elements whose normalised id
// is wanted. Channel ids in the output are rewritten to the canonical form
// the catalog uses.
func (m *Merger) collect(src *source, wanted map[string]struct{}) (map[string]*candidate, error) {
	f, err := src.open()
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}
	defer f.Close()

	candidates := make(map[string]*candidate)
	get := func(raw string) (*candidate, string, bool) {
		id := nameutil.NormaliseTvgID(raw, src.cfg.TvgIDOverrides)
		if _, ok := wanted[id]; !ok {
			return nil, "", false
		}
		cand, ok := candidates[id]
		if !ok {
			cand = &candidate{}
			candidates[id] = cand
		}
		return cand, id, true
	}

	parser := &xmltv.Parser{
		OnChannel: func(ch *xmltv.Channel) error {
			if cand, id, ok := get(ch.ID); ok {
				copied := *ch
				copied.ID = id
				cand.channels = append(cand.channels, &copied)
			}
			return nil
		},
		OnProgramme: func(p *xmltv.Programme) error {
			if cand, id, ok := get(p.Channel); ok {
				copied := *p
				copied.Channel = id
				cand.programmes = append(cand.programmes, &copied)
			}
			return nil
		},
	}
	if err := parser.ParseCompressed(f); err != nil {
		return nil, err
	}
	return candidates, nil
}

// WriteSources is a debugging aid listing each source and its freshness.
func (m *Merger) WriteSources(w func(url string, lastUpdated time.Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, src := range m.sources {
		w(src.cfg.URL, src.lastUpdated())
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
