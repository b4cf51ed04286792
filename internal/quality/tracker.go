// Package quality tracks per-stream health from the HLS playlists the
// gateway proxies. The heuristic is playlist progress: a live stream's
// media playlist should reference ever-increasing segment numbers; a stream
// that stops advancing, or whose playlist cannot be fetched at all, decays.
// Scores live in [0,99]; -1 means never evaluated.
package quality

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/kism/acerestreamer/internal/models"
	"github.com/kism/acerestreamer/internal/repository"
)

const (
	// ScoreUnknown is the sentinel for streams never observed.
	ScoreUnknown = -1

	maxScore          = 99
	firstSuccessFloor = 20
	maxFailurePenalty = 5

	// newStreamSegmentCeiling is the segment number below which a stalled
	// stream gets the lenient -1 penalty instead of -4. Freshly started
	// sessions restart their segment numbering.
	newStreamSegmentCeiling = 20

	persistInterval = time.Minute
)

var (
	segmentNumberRegex = regexp.MustCompile(`(\d+)\.ts$`)
	extinfRegex        = regexp.MustCompile(`^#EXTINF:([0-9.]+),?`)
)

// streamState is the in-memory health record for one content-id. The
// in-memory copy is authoritative; the database row trails it by up to a
// minute.
type streamState struct {
	score               int
	hasEverWorked       bool
	m3uFailures         int
	lastSegmentNumber   int
	lastSegmentFetched  time.Time
	nextSegmentExpected time.Duration
	lastDBWrite         time.Time
	lastMessage         string
}

// Tracker consumes playlist observations and maintains scores.
type Tracker struct {
	repo   repository.QualityRepository
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]*streamState

	recheckMu      sync.Mutex
	recheckRunning bool

	now func() time.Time
}

// New creates a Tracker. Call Load to warm it from the database.
func New(repo repository.QualityRepository, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		repo:    repo,
		logger:  logger.With(slog.String("component", "quality")),
		streams: make(map[string]*streamState),
		now:     time.Now,
	}
}

// Load restores persisted scores.
func (t *Tracker) Load(ctx context.Context) error {
	records, err := t.repo.GetAll(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range records {
		t.streams[rec.ContentID] = &streamState{
			score:         rec.Score,
			hasEverWorked: rec.HasEverWorked,
			m3uFailures:   rec.M3UFailures,
			lastDBWrite:   t.now(),
		}
	}
	return nil
}

// Observe applies one playlist observation for a content-id. An empty body
// means the fetch failed. Master playlists are ignored; they carry no
// segment progress.
func (t *Tracker) Observe(contentID string, body []byte) {
	if isMasterPlaylist(body) {
		return
	}

	t.mu.Lock()
	state, ok := t.streams[contentID]
	if !ok {
		state = &streamState{score: 0}
		t.streams[contentID] = state
	}

	now := t.now()
	rating := t.rate(state, body, now)

	if rating > 0 {
		if state.score < firstSuccessFloor {
			state.score = firstSuccessFloor
		}
		state.hasEverWorked = true
	}
	state.score = clamp(state.score+rating, 0, maxScore)

	shouldPersist := now.Sub(state.lastDBWrite) >= persistInterval
	if shouldPersist {
		state.lastDBWrite = now
	}
	record := models.QualityCache{
		ContentID:     contentID,
		Score:         state.score,
		HasEverWorked: state.hasEverWorked,
		M3UFailures:   state.m3uFailures,
	}
	t.mu.Unlock()

	if shouldPersist {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.repo.Save(ctx, &record); err != nil {
			t.logger.Warn("persisting quality record failed",
				slog.String("content_id", contentID),
				slog.Any("error", err),
			)
		}
	}
}

// rate computes the observation's rating and updates segment bookkeeping.
// Callers hold t.mu.
func (t *Tracker) rate(state *streamState, body []byte, now time.Time) int {
	if len(strings.TrimSpace(string(body))) == 0 {
		rating := -state.m3uFailures
		if rating < -maxFailurePenalty {
			rating = -maxFailurePenalty
		}
		state.m3uFailures++
		state.lastMessage = "playlist fetch failed"
		return rating
	}

	tsNumber, segmentDuration, found := parseProgress(body)
	state.m3uFailures = 0
	if segmentDuration > 0 {
		state.nextSegmentExpected = segmentDuration
	}
	if !found {
		state.lastMessage = "playlist had no numbered segments"
		return 0
	}

	var rating int
	switch {
	case tsNumber > state.lastSegmentNumber:
		rating = clamp(tsNumber-state.lastSegmentNumber, 1, 5)
		state.lastSegmentFetched = now
		state.lastMessage = "segments advancing"
	case now.Sub(state.lastSegmentFetched) > state.nextSegmentExpected:
		if tsNumber < newStreamSegmentCeiling {
			rating = -1
		} else {
			rating = -4
		}
		state.lastMessage = "segments stalled"
	default:
		rating = 0
		state.lastMessage = "no new segments yet"
	}

	state.lastSegmentNumber = tsNumber
	return rating
}

// Score returns the current score for a content-id, or ScoreUnknown.
func (t *Tracker) Score(contentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.streams[contentID]
	if !ok {
		return ScoreUnknown
	}
	return state.score
}

// HasEverWorked reports whether the stream has ever produced segments.
func (t *Tracker) HasEverWorked(contentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.streams[contentID]
	return ok && state.hasEverWorked
}

// Info is an introspection snapshot for one stream.
type Info struct {
	ContentID     string `json:"content_id"`
	Score         int    `json:"score"`
	HasEverWorked bool   `json:"has_ever_worked"`
	M3UFailures   int    `json:"m3u_failures"`
	LastMessage   string `json:"last_message,omitempty"`
}

// Snapshot returns the state of every tracked stream.
func (t *Tracker) Snapshot() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	infos := make([]Info, 0, len(t.streams))
	for id, state := range t.streams {
		infos = append(infos, Info{
			ContentID:     id,
			Score:         state.score,
			HasEverWorked: state.hasEverWorked,
			M3UFailures:   state.m3uFailures,
			LastMessage:   state.lastMessage,
		})
	}
	return infos
}

// NeedsRecheck filters the given content-ids down to those that have never
// worked or currently score zero.
func (t *Tracker) NeedsRecheck(contentIDs []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for _, id := range contentIDs {
		state, ok := t.streams[id]
		if !ok || !state.hasEverWorked || state.score == 0 {
			out = append(out, id)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// isMasterPlaylist detects multivariant playlists. gohlslib does the real
// classification; the string check catches bodies it refuses to parse.
func isMasterPlaylist(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	if pl, err := playlist.Unmarshal(body); err == nil {
		_, isMaster := pl.(*playlist.Multivariant)
		return isMaster
	}
	return strings.Contains(string(body), "#EXT-X-STREAM-INF")
}

// parseProgress extracts the last numbered segment and its announced
// duration from a media playlist body.
func parseProgress(body []byte) (tsNumber int, segmentDuration time.Duration, found bool) {
	lines := strings.Split(string(body), "\n")
	lastExtinf := time.Duration(0)

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := extinfRegex.FindStringSubmatch(line); m != nil {
			if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
				lastExtinf = time.Duration(secs * float64(time.Second))
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.IndexByte(line, '?'); idx >= 0 {
			line = line[:idx]
		}
		if m := segmentNumberRegex.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				tsNumber = n
				segmentDuration = lastExtinf
				found = true
			}
		}
	}
	return tsNumber, segmentDuration, found
}
