package pool

import (
	"time"

	"github.com/kism/acerestreamer/internal/ume"
)

// Entry is one live engine playback session. Entries are owned exclusively
// by the Pool; callers only ever see EntryInfo snapshots.
type Entry struct {
	AcePid       int
	ContentID    string
	Infohash     string
	Middleware   *ume.Middleware
	DateStarted  time.Time
	DateLastUsed time.Time
}

// EntryInfo is a read-only snapshot of an Entry for introspection.
type EntryInfo struct {
	AcePid       int       `json:"ace_pid"`
	ContentID    string    `json:"content_id"`
	Infohash     string    `json:"infohash,omitempty"`
	PlaybackURL  string    `json:"playback_url,omitempty"`
	DateStarted  time.Time `json:"date_started"`
	DateLastUsed time.Time `json:"date_last_used"`
	LockedIn     bool      `json:"locked_in"`
	Stale        bool      `json:"stale"`
}

// lockInTimes holds the tuning constants an entry's state machine runs on.
type lockInTimes struct {
	lockInTime time.Duration
	resetMax   time.Duration
}

// requiredUnlock is how long the entry must sit idle before its lock-in
// decays. Serving time earns idle allowance, capped at resetMax.
func (e *Entry) requiredUnlock(now time.Time, t lockInTimes) time.Duration {
	started := now.Sub(e.DateStarted)
	idle := now.Sub(e.DateLastUsed)
	earned := started - idle
	if earned < 0 {
		earned = 0
	}
	if earned > t.resetMax {
		return t.resetMax
	}
	return earned
}

// lockedIn reports whether the entry is shielded from eviction: it has been
// serving for longer than lockInTime and has not gone idle past its earned
// allowance.
func (e *Entry) lockedIn(now time.Time, t lockInTimes) bool {
	started := now.Sub(e.DateStarted)
	idle := now.Sub(e.DateLastUsed)
	return started > t.lockInTime && idle <= e.requiredUnlock(now, t)
}

// stale reports whether the poolboy should destroy the entry. A seasoned
// entry is stale once its lock-in has fully decayed; a young entry is stale
// only after sitting unused for the full reset window.
func (e *Entry) stale(now time.Time, t lockInTimes) bool {
	started := now.Sub(e.DateStarted)
	idle := now.Sub(e.DateLastUsed)

	if started > t.lockInTime {
		if e.lockedIn(now, t) {
			return false
		}
		timeUntilUnlock := e.requiredUnlock(now, t) - idle
		return timeUntilUnlock < time.Second
	}
	return idle > t.resetMax
}

// info builds a snapshot at the given instant.
func (e *Entry) info(now time.Time, t lockInTimes) EntryInfo {
	playbackURL := ""
	if e.Middleware != nil {
		playbackURL = e.Middleware.PlaybackURL
	}
	return EntryInfo{
		AcePid:       e.AcePid,
		ContentID:    e.ContentID,
		Infohash:     e.Infohash,
		PlaybackURL:  playbackURL,
		DateStarted:  e.DateStarted,
		DateLastUsed: e.DateLastUsed,
		LockedIn:     e.lockedIn(now, t),
		Stale:        e.stale(now, t),
	}
}
