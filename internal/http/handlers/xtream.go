package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/epg"
	"github.com/kism/acerestreamer/internal/repository"
	"github.com/kism/acerestreamer/internal/tokens"
	"github.com/kism/acerestreamer/pkg/xtream"
)

// XtreamHandler implements the Xtream-Codes player protocol surface.
// Live streams only; VOD and series actions return 501.
type XtreamHandler struct {
	catalog    repository.CatalogRepository
	categories repository.CategoryRepository
	epg        *epg.Merger
	tokens     *tokens.Verifier
	stream     *StreamHandler
	playlist   *PlaylistHandler
	server     config.ServerConfig
	logger     *slog.Logger
}

// NewXtreamHandler builds the XC protocol handler.
func NewXtreamHandler(
	catalog repository.CatalogRepository,
	categories repository.CategoryRepository,
	merger *epg.Merger,
	verifier *tokens.Verifier,
	stream *StreamHandler,
	playlist *PlaylistHandler,
	server config.ServerConfig,
	logger *slog.Logger,
) *XtreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &XtreamHandler{
		catalog:    catalog,
		categories: categories,
		epg:        merger,
		tokens:     verifier,
		stream:     stream,
		playlist:   playlist,
		server:     server,
		logger:     logger.With(slog.String("component", "xtream")),
	}
}

// Register mounts the XC routes. The bare credentialed paths are matched
// last so they never shadow the named routes.
func (h *XtreamHandler) Register(r chi.Router) {
	r.Get("/player_api.php", h.PlayerAPI)
	r.Get("/get.php", h.GetPHP)
	r.Get("/xmltv.php", h.XMLTV)
	r.Get("/live/{user}/{pass}/{stream}", h.ResolveStream)
	r.Get("/{user}/{pass}/{stream}", h.ResolveStream)
}

func (h *XtreamHandler) authenticate(w http.ResponseWriter, r *http.Request) (username, password string, ok bool) {
	username = r.URL.Query().Get("username")
	password = r.URL.Query().Get("password")
	if err := h.tokens.VerifyUser(username, password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return "", "", false
	}
	return username, password, true
}

// PlayerAPI handles GET /player_api.php. The bare call returns auth and
// server info; live category and stream listings are supported, other
// actions are not implemented.
func (h *XtreamHandler) PlayerAPI(w http.ResponseWriter, r *http.Request) {
	username, password, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	switch action := r.URL.Query().Get("action"); action {
	case "":
		h.authInfo(w, username, password)
	case "get_live_categories":
		h.liveCategories(w, r)
	case "get_live_streams":
		h.liveStreams(w, r)
	default:
		writeError(w, http.StatusNotImplemented, "action not implemented: "+action)
	}
}

func (h *XtreamHandler) authInfo(w http.ResponseWriter, username, password string) {
	host, port, protocol := h.serverLocation()
	writeJSON(w, http.StatusOK, xtream.AuthInfo{
		UserInfo:   xtream.NewUserInfo(username, password, 1),
		ServerInfo: xtream.NewServerInfo(host, port, protocol),
	})
}

// serverLocation derives the XC server info fields from the external URL.
func (h *XtreamHandler) serverLocation() (host string, port int, protocol string) {
	protocol = "http"
	host = h.server.Host
	port = h.server.Port

	if u, err := url.Parse(h.server.ExternalURL); err == nil && u.Host != "" {
		protocol = u.Scheme
		host = u.Hostname()
		if p := u.Port(); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				port = n
			}
		} else if protocol == "https" {
			port = 443
		} else {
			port = 80
		}
	}
	return host, port, protocol
}

func (h *XtreamHandler) liveCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.categories.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading categories failed")
		return
	}

	out := make([]xtream.Category, 0, len(cats))
	for _, c := range cats {
		out = append(out, xtream.Category{
			CategoryID:   xtream.FlexString(strconv.FormatUint(uint64(c.XcCategoryID), 10)),
			CategoryName: c.Category,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *XtreamHandler) liveStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := h.catalog.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading catalog failed")
		return
	}

	filterID := r.URL.Query().Get("category_id")

	out := make([]xtream.Stream, 0, len(streams))
	num := 0
	for _, s := range streams {
		// Infohash-only entries stay out of XC output until resolved.
		if s.ContentID == "" {
			continue
		}
		categoryID, err := h.categories.EnsureID(r.Context(), s.GroupTitle)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "resolving category failed")
			return
		}
		catStr := strconv.FormatUint(uint64(categoryID), 10)
		if filterID != "" && filterID != catStr {
			continue
		}
		num++
		out = append(out, xtream.Stream{
			Num:          xtream.FlexInt(num),
			Name:         s.Title,
			StreamType:   "live",
			StreamID:     xtream.FlexInt(s.XcID),
			EPGChannelID: s.TvgID,
			Added:        xtream.FlexInt(s.CreatedAt.Unix()),
			CategoryID:   xtream.FlexString(catStr),
			CategoryIDs:  []xtream.FlexInt{xtream.FlexInt(categoryID)},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPHP handles GET /get.php?type=m3u_plus, the XC playlist download.
func (h *XtreamHandler) GetPHP(w http.ResponseWriter, r *http.Request) {
	_, password, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	body, err := h.playlist.render(r, password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "playlist render failed")
		return
	}
	w.Header().Set("Content-Type", "audio/mpegurl")
	_, _ = w.Write(body)
}

// XMLTV handles GET /xmltv.php, the XC guide download.
func (h *XtreamHandler) XMLTV(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.authenticate(w, r); !ok {
		return
	}

	body := h.epg.Published()
	if body == nil {
		body = []byte(`<?xml version="1.0" encoding="UTF-8"?><tv></tv>`)
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(body)
}

// ResolveStream handles the XC-style credentialed stream paths: the id is
// an xc_id with an optional container extension, resolved to a content-id
// and served through the playlist handler with the user's stream token.
func (h *XtreamHandler) ResolveStream(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "user")
	password := chi.URLParam(r, "pass")
	if err := h.tokens.VerifyUser(username, password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	raw := chi.URLParam(r, "stream")
	if i := strings.LastIndexByte(raw, '.'); i >= 0 {
		raw = raw[:i]
	}
	xcID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed stream id")
		return
	}

	stream, err := h.catalog.GetByXcID(r.Context(), uint(xcID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "catalog lookup failed")
		return
	}
	if stream == nil || stream.ContentID == "" {
		writeError(w, http.StatusNotFound, "unknown stream")
		return
	}

	h.stream.servePlaylist(w, r, stream.ContentID, password)
}
