package quality

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrRecheckRunning is returned when a sweep is already in flight.
var ErrRecheckRunning = errors.New("quality recheck already running")

// Probe synthesizes a gateway playlist request for a content-id. The HLS
// handler supplies it at wiring time; it bypasses token auth and feeds the
// Tracker through the normal observation path.
type Probe func(ctx context.Context, contentID string)

const (
	probesPerStream     = 3
	probeSpacing        = time.Second
	betweenStreamsDelay = 10 * time.Second
)

// StartRecheck launches a single-flight background sweep over the streams
// that have never worked or currently score zero. Returns ErrRecheckRunning
// if a sweep is already in progress. The sweep stops early when ctx is
// cancelled.
func (t *Tracker) StartRecheck(ctx context.Context, contentIDs []string, probe Probe) error {
	t.recheckMu.Lock()
	if t.recheckRunning {
		t.recheckMu.Unlock()
		return ErrRecheckRunning
	}
	t.recheckRunning = true
	t.recheckMu.Unlock()

	// Every sweep gets a run id so its log lines can be correlated.
	runLogger := t.logger.With(slog.String("run_id", ulid.Make().String()))

	targets := t.NeedsRecheck(contentIDs)
	runLogger.Info("quality recheck started", slog.Int("streams", len(targets)))

	go func() {
		defer func() {
			t.recheckMu.Lock()
			t.recheckRunning = false
			t.recheckMu.Unlock()
		}()
		t.sweep(ctx, targets, probe, runLogger)
	}()

	return nil
}

// RecheckRunning reports whether a sweep is in flight.
func (t *Tracker) RecheckRunning() bool {
	t.recheckMu.Lock()
	defer t.recheckMu.Unlock()
	return t.recheckRunning
}

func (t *Tracker) sweep(ctx context.Context, targets []string, probe Probe, logger *slog.Logger) {
	for i, contentID := range targets {
		for attempt := 0; attempt < probesPerStream; attempt++ {
			if attempt > 0 && !sleepCtx(ctx, probeSpacing) {
				return
			}
			probe(ctx, contentID)
		}
		if i < len(targets)-1 && !sleepCtx(ctx, betweenStreamsDelay) {
			return
		}
	}
	logger.Info("quality recheck finished", slog.Int("streams", len(targets)))
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
