// Package pool is the bounded allocator of engine playback sessions. Each
// live session holds an engine pid in [1..max]; sessions that have served
// for a while earn lock-in which shields them from eviction, and a
// background poolboy task keeps live sessions warm and reaps stale ones.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/httpclient"
	"github.com/kism/acerestreamer/internal/ume"
)

// ErrPoolFull is returned when every slot is held by a locked-in session.
// Callers surface it as 503 and must not retry server-side.
var ErrPoolFull = errors.New("session pool full, all entries locked in")

// Pool manages at most maxSize concurrent engine sessions.
type Pool struct {
	cfg    config.PoolConfig
	times  lockInTimes
	engine *ume.Client
	http   *httpclient.Client
	logger *slog.Logger

	mu      sync.Mutex
	entries map[int]*Entry // keyed by ace pid

	healthy atomic.Bool
	started atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a session pool. Start must be called to run the poolboy.
func New(cfg config.PoolConfig, engine *ume.Client, hc *httpclient.Client, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg: cfg,
		times: lockInTimes{
			lockInTime: cfg.LockInTime,
			resetMax:   cfg.LockInResetMax,
		},
		engine:  engine,
		http:    hc,
		logger:  logger.With(slog.String("component", "pool")),
		entries: make(map[int]*Entry),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Healthy reports the last observed engine reachability.
func (p *Pool) Healthy() bool {
	return p.healthy.Load()
}

// GetHLSURL returns the engine HLS playlist URL for the content-id,
// creating a session on miss and refreshing the entry's last-used time.
// The returned URL is empty when the engine is unreachable; the entry
// still exists and the poolboy will fill its middleware in later.
// The lock covers only the map mutation: the slot is reserved with nil
// middleware, then the engine round trip runs unlocked, so a slow engine
// never stalls the read paths or the poolboy.
func (p *Pool) GetHLSURL(ctx context.Context, contentID string) (string, error) {
	now := time.Now()

	p.mu.Lock()

	// Reuse a live session for the same stream.
	if entry := p.findByContentIDLocked(contentID); entry != nil {
		entry.DateLastUsed = now
		if entry.Middleware != nil {
			playbackURL := entry.Middleware.PlaybackURL
			p.mu.Unlock()
			return playbackURL, nil
		}
		p.mu.Unlock()
		return p.fillMiddleware(ctx, entry), nil
	}

	pid, victim, err := p.allocatePidLocked(now)
	if err != nil {
		p.mu.Unlock()
		return "", err
	}

	entry := &Entry{
		AcePid:       pid,
		ContentID:    contentID,
		DateStarted:  now,
		DateLastUsed: now,
	}
	p.entries[pid] = entry
	p.mu.Unlock()

	if victim != nil {
		p.logger.Info("session evicted",
			slog.Int("ace_pid", victim.AcePid),
			slog.String("content_id", victim.ContentID),
		)
		p.stopSession(ctx, victim)
	}

	p.logger.Info("session started",
		slog.Int("ace_pid", pid),
		slog.String("content_id", contentID),
	)

	return p.fillMiddleware(ctx, entry), nil
}

// Remove tears down the session for the content-id: issue a stop command,
// then drop the entry. Stop failures are logged, never propagated.
func (p *Pool) Remove(ctx context.Context, contentID, caller string) {
	p.mu.Lock()
	entry := p.findByContentIDLocked(contentID)
	if entry != nil {
		delete(p.entries, entry.AcePid)
	}
	p.mu.Unlock()

	if entry == nil {
		return
	}

	p.logger.Info("session removed",
		slog.Int("ace_pid", entry.AcePid),
		slog.String("content_id", contentID),
		slog.String("caller", caller),
	)
	p.stopSession(ctx, entry)
}

// GetByPID returns the session snapshot for an ace pid.
func (p *Pool) GetByPID(pid int) (EntryInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[pid]
	if !ok {
		return EntryInfo{}, false
	}
	return entry.info(time.Now(), p.times), true
}

// GetByContentID returns the session snapshot for a content-id.
func (p *Pool) GetByContentID(contentID string) (EntryInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := p.findByContentIDLocked(contentID)
	if entry == nil {
		return EntryInfo{}, false
	}
	return entry.info(time.Now(), p.times), true
}

// GetByMultistreamPath returns the session whose playback URL contains the
// given path fragment. Depending on configuration the probe also counts as
// use and refreshes the entry's last-used time.
func (p *Pool) GetByMultistreamPath(path string) (EntryInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range p.entries {
		if entry.Middleware == nil {
			continue
		}
		if strings.Contains(entry.Middleware.PlaybackURL, path) {
			if p.cfg.TouchOnPathProbeEnabled() {
				entry.DateLastUsed = time.Now()
			}
			return entry.info(time.Now(), p.times), true
		}
	}
	return EntryInfo{}, false
}

// StatsByContentID proxies the engine stat endpoint for the session
// serving the content-id. Returns nil when the session is absent or the
// stat is unavailable.
func (p *Pool) StatsByContentID(ctx context.Context, contentID string) *ume.Stat {
	p.mu.Lock()
	entry := p.findByContentIDLocked(contentID)
	var statURL string
	if entry != nil && entry.Middleware != nil {
		statURL = entry.Middleware.StatURL
	}
	p.mu.Unlock()

	if statURL == "" {
		return nil
	}

	stat, err := p.engine.GetStat(ctx, statURL)
	if err != nil {
		p.logger.Warn("stat fetch failed",
			slog.String("content_id", contentID),
			slog.Any("error", err),
		)
		return nil
	}
	return stat
}

// Snapshot returns an introspection view of every live session.
func (p *Pool) Snapshot() []EntryInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	infos := make([]EntryInfo, 0, len(p.entries))
	for pid := 1; pid <= p.cfg.MaxSize; pid++ {
		if entry, ok := p.entries[pid]; ok {
			infos = append(infos, entry.info(now, p.times))
		}
	}
	return infos
}

// Start launches the poolboy task.
func (p *Pool) Start(ctx context.Context) {
	if p.started.Swap(true) {
		return
	}
	go p.poolboy(ctx)
}

// Stop signals the poolboy and waits for it to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.started.Load() {
		<-p.done
	}
}

// findByContentIDLocked scans the live set. Callers hold p.mu.
func (p *Pool) findByContentIDLocked(contentID string) *Entry {
	for _, entry := range p.entries {
		if entry.ContentID == contentID {
			return entry
		}
	}
	return nil
}

// allocatePidLocked finds a slot for a new session: a free pid first, then
// the least recently used entry that is not locked in. The evicted entry,
// if any, is returned so the caller can stop it after unlocking. Callers
// hold p.mu.
func (p *Pool) allocatePidLocked(now time.Time) (int, *Entry, error) {
	for pid := 1; pid <= p.cfg.MaxSize; pid++ {
		if _, taken := p.entries[pid]; !taken {
			return pid, nil, nil
		}
	}

	var victim *Entry
	for _, entry := range p.entries {
		if entry.lockedIn(now, p.times) {
			continue
		}
		if victim == nil || entry.DateLastUsed.Before(victim.DateLastUsed) {
			victim = entry
		}
	}
	if victim == nil {
		return 0, nil, ErrPoolFull
	}

	delete(p.entries, victim.AcePid)
	return victim.AcePid, victim, nil
}

// fillMiddleware asks the engine for session URLs and installs them on the
// entry if it is still live. Engine failure leaves the middleware nil; the
// poolboy retries on its next pass. Runs without the pool lock held.
func (p *Pool) fillMiddleware(ctx context.Context, entry *Entry) string {
	mw, err := p.engine.GetMiddleware(ctx, entry.ContentID, entry.AcePid)
	if err != nil {
		p.logger.Warn("middleware fetch failed",
			slog.Int("ace_pid", entry.AcePid),
			slog.String("content_id", entry.ContentID),
			slog.Any("error", err),
		)
		return ""
	}

	p.mu.Lock()
	if current, ok := p.entries[entry.AcePid]; ok && current == entry {
		entry.Middleware = mw
		if entry.Infohash == "" {
			entry.Infohash = mw.Infohash
		}
	}
	p.mu.Unlock()

	return mw.PlaybackURL
}

// stopSession issues the engine stop command outside the pool lock.
func (p *Pool) stopSession(ctx context.Context, entry *Entry) {
	if entry.Middleware == nil || entry.Middleware.CommandURL == "" {
		return
	}
	if err := p.engine.Stop(ctx, entry.Middleware.CommandURL); err != nil {
		p.logger.Warn("session stop failed",
			slog.Int("ace_pid", entry.AcePid),
			slog.String("content_id", entry.ContentID),
			slog.Any("error", err),
		)
	}
}

// poolboy is the single long-lived maintenance task: refresh the engine
// health flag, reap stale sessions, keep the rest warm.
func (p *Pool) poolboy(ctx context.Context) {
	defer close(p.done)

	interval := p.cfg.KeepaliveInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.maintain(ctx)
		}
	}
}

// maintain runs one poolboy pass.
func (p *Pool) maintain(ctx context.Context) {
	_, err := p.engine.GetVersion(ctx)
	p.healthy.Store(err == nil)
	if err != nil {
		p.logger.Warn("engine unreachable", slog.Any("error", err))
	}

	now := time.Now()

	p.mu.Lock()
	var stale, live []*Entry
	for _, entry := range p.entries {
		if entry.stale(now, p.times) {
			stale = append(stale, entry)
			delete(p.entries, entry.AcePid)
		} else {
			live = append(live, entry)
		}
	}
	p.mu.Unlock()

	for _, entry := range stale {
		p.logger.Info("stale session reaped",
			slog.Int("ace_pid", entry.AcePid),
			slog.String("content_id", entry.ContentID),
		)
		p.stopSession(ctx, entry)
	}

	// Keep-alive HTTP runs outside the lock; errors are speculative IO and
	// are swallowed.
	for _, entry := range live {
		p.keepAlive(ctx, entry)
	}
}

// keepAlive keeps a session warm: re-fetch its middleware, touch the
// playback URL, and fetch the last segment the playlist references.
func (p *Pool) keepAlive(ctx context.Context, entry *Entry) {
	mw, err := p.engine.GetMiddleware(ctx, entry.ContentID, entry.AcePid)
	if err != nil {
		return
	}

	p.mu.Lock()
	if current, ok := p.entries[entry.AcePid]; ok && current == entry {
		entry.Middleware = mw
	}
	p.mu.Unlock()

	body, err := p.http.GetBody(ctx, mw.PlaybackURL)
	if err != nil {
		return
	}

	segmentURL := lastSegmentURL(body, mw.PlaybackURL)
	if segmentURL == "" {
		return
	}
	resp, err := p.http.Get(ctx, segmentURL)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// lastSegmentURL parses a media playlist and returns the absolute URL of
// its final segment, or empty when the body is not a media playlist.
func lastSegmentURL(body []byte, baseURL string) string {
	pl, err := playlist.Unmarshal(body)
	if err != nil {
		return ""
	}
	media, ok := pl.(*playlist.Media)
	if !ok || len(media.Segments) == 0 {
		return ""
	}

	segURI := media.Segments[len(media.Segments)-1].URI
	base, err := url.Parse(baseURL)
	if err != nil {
		return segURI
	}
	ref, err := url.Parse(segURI)
	if err != nil {
		return segURI
	}
	return base.ResolveReference(ref).String()
}

// String describes the pool state for logs.
func (p *Pool) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("pool %d/%d healthy=%t", len(p.entries), p.cfg.MaxSize, p.healthy.Load())
}
