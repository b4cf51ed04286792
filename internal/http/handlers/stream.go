// Package handlers provides the gateway's HTTP handlers: the streaming
// front-door on chi routes and the admin/health API on huma.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kism/acerestreamer/internal/hls"
	"github.com/kism/acerestreamer/internal/httpclient"
	"github.com/kism/acerestreamer/internal/nameutil"
	"github.com/kism/acerestreamer/internal/pool"
	"github.com/kism/acerestreamer/internal/quality"
	"github.com/kism/acerestreamer/internal/repository"
	"github.com/kism/acerestreamer/internal/tokens"
)

// Headers never forwarded from the engine to clients.
var hopHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
	"Keep-Alive":        true,
}

const playlistTimeout = 10 * time.Second

// StreamHandler serves rewritten HLS playlists and proxies segment
// traffic to the engine.
type StreamHandler struct {
	pool        *pool.Pool
	infohash    repository.InfohashMapRepository
	quality     *quality.Tracker
	tokens      *tokens.Verifier
	http        *httpclient.Client
	engineURL   string
	externalURL string
	logger      *slog.Logger
}

// NewStreamHandler builds the streaming handler. engineURL and
// externalURL both carry a trailing slash.
func NewStreamHandler(
	p *pool.Pool,
	infohash repository.InfohashMapRepository,
	tracker *quality.Tracker,
	verifier *tokens.Verifier,
	hc *httpclient.Client,
	engineURL, externalURL string,
	logger *slog.Logger,
) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		pool:        p,
		infohash:    infohash,
		quality:     tracker,
		tokens:      verifier,
		http:        hc,
		engineURL:   strings.TrimSuffix(engineURL, "/"),
		externalURL: externalURL,
		logger:      logger.With(slog.String("component", "stream")),
	}
}

// Register mounts the streaming routes.
func (h *StreamHandler) Register(r chi.Router) {
	r.Get("/hls/{id}", h.Playlist)
	r.Get("/ace/c/*", h.Proxy)
	r.Get("/hls/c/*", h.Proxy)
	r.Get("/hls/m/*", h.Proxy)
}

// Playlist handles GET /hls/{id}?token=. The id may be a content-id or a
// learned infohash.
func (h *StreamHandler) Playlist(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if _, err := h.tokens.Verify(token); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	contentID, ok := h.resolveID(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed stream id")
		return
	}

	h.servePlaylist(w, r, contentID, token)
}

// resolveID validates the path id, resolving infohashes through the
// learned mapping.
func (h *StreamHandler) resolveID(ctx context.Context, id string) (string, bool) {
	id = strings.ToLower(id)
	if nameutil.IsValidContentID(id) {
		return id, true
	}
	if nameutil.IsValidInfohash(id) {
		if mapped, err := h.infohash.ContentIDForInfohash(ctx, id); err == nil && mapped != "" {
			return mapped, true
		}
	}
	return "", false
}

// servePlaylist fetches the engine playlist for a content-id, rewrites it
// to the gateway origin and feeds the quality tracker. Shared with the XC
// resolution path.
func (h *StreamHandler) servePlaylist(w http.ResponseWriter, r *http.Request, contentID, token string) {
	playbackURL, err := h.pool.GetHLSURL(r.Context(), contentID)
	if err != nil {
		if errors.Is(err, pool.ErrPoolFull) {
			writeError(w, http.StatusServiceUnavailable, "session pool full")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}
	if playbackURL == "" {
		writeError(w, http.StatusServiceUnavailable, "engine unavailable")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), playlistTimeout)
	defer cancel()

	resp, err := h.http.Get(ctx, playbackURL)
	if err != nil {
		// A cancelled client generates no observation.
		if r.Context().Err() != nil {
			return
		}
		h.quality.Observe(contentID, nil)
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusRequestTimeout, "engine playlist timeout")
			return
		}
		writeError(w, http.StatusBadGateway, "engine playlist fetch failed")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.quality.Observe(contentID, nil)
		writeError(w, http.StatusBadGateway, "engine playlist read failed")
		return
	}

	if !hls.IsPlaylist(body) {
		h.quality.Observe(contentID, nil)
		writeError(w, http.StatusBadRequest, "engine returned a non-playlist body")
		return
	}

	rewritten := hls.RewritePlaylist(body, h.externalURL, token)
	h.quality.Observe(contentID, rewritten)

	copyHeaders(w, resp.Header)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rewritten)
}

// Probe synthesizes a playlist request for the quality recheck sweep. It
// bypasses token auth and writes nothing anywhere but the tracker.
func (h *StreamHandler) Probe(ctx context.Context, contentID string) {
	playbackURL, err := h.pool.GetHLSURL(ctx, contentID)
	if err != nil || playbackURL == "" {
		h.quality.Observe(contentID, nil)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, playlistTimeout)
	defer cancel()

	body, err := h.http.GetBody(fetchCtx, playbackURL)
	if err != nil || !hls.IsPlaylist(body) {
		h.quality.Observe(contentID, nil)
		return
	}
	h.quality.Observe(contentID, body)
}

// Proxy forwards segment and ancillary requests to the engine verbatim.
func (h *StreamHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	if _, err := h.tokens.Verify(r.URL.Query().Get("token")); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	path := dedupSlashes(r.URL.Path)

	// A segment fetch proves the client is still watching.
	h.pool.GetByMultistreamPath(path)

	target := h.engineURL + path
	if r.URL.RawQuery != "" {
		target += "?" + stripToken(r.URL.RawQuery)
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeError(w, http.StatusBadGateway, "engine request failed")
		return
	}

	resp, err := h.http.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeError(w, http.StatusBadGateway, "engine request failed")
		return
	}
	defer resp.Body.Close()

	copyHeaders(w, resp.Header)
	if strings.HasPrefix(path, "/ace/c/") {
		w.Header().Set("Content-Type", "video/MP2T")
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func copyHeaders(w http.ResponseWriter, src http.Header) {
	for key, values := range src {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
}

// dedupSlashes collapses duplicate path separators; some engine builds
// emit playlist URLs with doubled slashes.
func dedupSlashes(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path
}

// stripToken removes the gateway token from a query string before
// forwarding; the engine neither needs nor understands it.
func stripToken(rawQuery string) string {
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		if strings.HasPrefix(part, "token=") {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}
