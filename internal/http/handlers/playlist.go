package handlers

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kism/acerestreamer/internal/epg"
	"github.com/kism/acerestreamer/internal/logos"
	"github.com/kism/acerestreamer/internal/nameutil"
	"github.com/kism/acerestreamer/internal/repository"
	"github.com/kism/acerestreamer/internal/tokens"
	"github.com/kism/acerestreamer/pkg/m3u"
)

// defaultLogoPNG is a 1x1 transparent PNG served when no logo is cached.
var defaultLogoPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// PlaylistHandler serves the catalog playlist, the condensed guide and
// channel logos.
type PlaylistHandler struct {
	catalog     repository.CatalogRepository
	epg         *epg.Merger
	logos       *logos.Fetcher
	tokens      *tokens.Verifier
	externalURL string
	logger      *slog.Logger
}

// NewPlaylistHandler builds the playlist handler. externalURL carries a
// trailing slash.
func NewPlaylistHandler(
	catalog repository.CatalogRepository,
	merger *epg.Merger,
	logoFetcher *logos.Fetcher,
	verifier *tokens.Verifier,
	externalURL string,
	logger *slog.Logger,
) *PlaylistHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaylistHandler{
		catalog:     catalog,
		epg:         merger,
		logos:       logoFetcher,
		tokens:      verifier,
		externalURL: strings.TrimSuffix(externalURL, "/"),
		logger:      logger.With(slog.String("component", "playlist")),
	}
}

// Register mounts the playlist routes.
func (h *PlaylistHandler) Register(r chi.Router) {
	r.Get("/iptv", h.Playlist)
	r.Get("/iptv.m3u", h.Playlist)
	r.Get("/iptv.m3u8", h.Playlist)
	r.Get("/epg.xml", h.EPG)
	r.Get("/tvg-logo/{path}", h.Logo)
}

// Playlist emits the catalog as an extended M3U with gateway URLs.
func (h *PlaylistHandler) Playlist(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if _, err := h.tokens.Verify(token); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	body, err := h.render(r, token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "playlist render failed")
		return
	}

	w.Header().Set("Content-Type", "audio/mpegurl")
	_, _ = w.Write(body)
}

func (h *PlaylistHandler) render(r *http.Request, token string) ([]byte, error) {
	streams, err := h.catalog.GetAll(r.Context())
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	var buf bytes.Buffer
	writer := m3u.NewWriter(&buf)
	for _, stream := range streams {
		if stream.ContentID == "" {
			continue
		}
		entry := &m3u.Entry{
			TvgID:      stream.TvgID,
			GroupTitle: stream.GroupTitle,
			Title:      stream.Title,
			LastFound:  stream.LastScrapedAt.Unix(),
			URL:        h.streamURL(stream.ContentID, token),
		}
		if logo := h.logoURL(stream.Title, token); logo != "" {
			entry.TvgLogo = logo
		}
		if err := writer.WriteEntry(entry); err != nil {
			return nil, fmt.Errorf("writing playlist entry: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func (h *PlaylistHandler) streamURL(contentID, token string) string {
	u := fmt.Sprintf("%s/hls/%s", h.externalURL, contentID)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// logoURL points at the gateway's logo route when a cached file exists.
func (h *PlaylistHandler) logoURL(title, token string) string {
	if h.logos == nil {
		return ""
	}
	path := h.logos.Path(title)
	if path == "" {
		return ""
	}
	u := fmt.Sprintf("%s/tvg-logo/%s", h.externalURL, filepath.Base(path))
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// EPG serves the condensed XMLTV document.
func (h *PlaylistHandler) EPG(w http.ResponseWriter, r *http.Request) {
	if _, err := h.tokens.Verify(r.URL.Query().Get("token")); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	body := h.epg.Published()
	if body == nil {
		// Nothing condensed yet; an empty document keeps clients happy.
		body = []byte(`<?xml version="1.0" encoding="UTF-8"?><tv></tv>`)
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(body)
}

// Logo serves a cached logo file or the default placeholder.
func (h *PlaylistHandler) Logo(w http.ResponseWriter, r *http.Request) {
	if _, err := h.tokens.Verify(r.URL.Query().Get("token")); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	name := chi.URLParam(r, "path")
	// The route only ever serves slug-named files from the logo dir.
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		writeError(w, http.StatusBadRequest, "malformed logo path")
		return
	}

	title := strings.TrimSuffix(name, filepath.Ext(name))
	slug := nameutil.Slugify(title)
	if h.logos != nil && slug != "" {
		if path := h.logos.Path(slug); path != "" {
			http.ServeFile(w, r, path)
			return
		}
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(defaultLogoPNG)
}
