package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/epg"
	"github.com/kism/acerestreamer/internal/httpclient"
	"github.com/kism/acerestreamer/internal/logos"
	"github.com/kism/acerestreamer/internal/models"
	"github.com/kism/acerestreamer/internal/repository"
	"github.com/kism/acerestreamer/pkg/xtream"
)

type xtreamFixture struct {
	router     *chi.Mux
	catalog    repository.CatalogRepository
	categories repository.CategoryRepository
}

func newXtreamFixture(t *testing.T) *xtreamFixture {
	t.Helper()

	sf := newStreamFixture(t, defaultPlaylist(cid('a')))
	db := handlersTestDB(t)
	catalog := repository.NewCatalogRepository(db)
	categories := repository.NewCategoryRepository(db)
	hc := httpclient.New(httpclient.Config{RetryAttempts: 1, CircuitThreshold: 100})
	merger, err := epg.New(nil, t.TempDir(), hc, testLogger())
	require.NoError(t, err)

	playlist := NewPlaylistHandler(catalog, merger, logos.New(t.TempDir(), "", testLogger()),
		testVerifier(), "http://gw.example/", testLogger())

	server := config.ServerConfig{
		Host:        "0.0.0.0",
		Port:        8080,
		ExternalURL: "http://gw.example:8080/",
	}
	h := NewXtreamHandler(catalog, categories, merger, testVerifier(), sf.handler, playlist, server, testLogger())

	router := chi.NewRouter()
	h.Register(router)
	return &xtreamFixture{router: router, catalog: catalog, categories: categories}
}

func (f *xtreamFixture) seed(t *testing.T, streams ...*models.AceStream) {
	t.Helper()
	for _, s := range streams {
		require.NoError(t, f.catalog.Upsert(context.Background(), s))
	}
}

func xcCreds() string {
	return "username=" + testUser + "&password=" + testToken
}

func TestPlayerAPIRejectsBadCredentials(t *testing.T) {
	f := newXtreamFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/player_api.php?username="+testUser+"&password=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPlayerAPIBareReturnsAuthInfo(t *testing.T) {
	f := newXtreamFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/player_api.php?"+xcCreds(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var auth xtream.AuthInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	assert.Equal(t, testUser, auth.UserInfo.Username)
	assert.Equal(t, testToken, auth.UserInfo.Password)
	assert.Equal(t, "gw.example", auth.ServerInfo.URL)
	assert.Equal(t, int64(8080), auth.ServerInfo.Port.Int())
	assert.Equal(t, "http", auth.ServerInfo.ServerProtocol)
}

func TestPlayerAPIUnknownActionNotImplemented(t *testing.T) {
	f := newXtreamFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/player_api.php?"+xcCreds()+"&action=get_vod_streams", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestPlayerAPILiveCategories(t *testing.T) {
	f := newXtreamFixture(t)
	ctx := context.Background()
	_, err := f.categories.EnsureID(ctx, "News")
	require.NoError(t, err)
	_, err = f.categories.EnsureID(ctx, "Sports")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/player_api.php?"+xcCreds()+"&action=get_live_categories", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var cats []xtream.Category
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cats))
	require.Len(t, cats, 2)
	assert.Equal(t, "News", cats[0].CategoryName)
	assert.Equal(t, "Sports", cats[1].CategoryName)
}

func TestPlayerAPILiveStreams(t *testing.T) {
	f := newXtreamFixture(t)
	f.seed(t,
		&models.AceStream{ContentID: cid('a'), Title: "BBC One [UK]", TvgID: "BBC.One.uk", GroupTitle: "News"},
		&models.AceStream{ContentID: cid('b'), Title: "Big Sport", GroupTitle: "Sports"},
	)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/player_api.php?"+xcCreds()+"&action=get_live_streams", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var streams []xtream.Stream
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &streams))
	require.Len(t, streams, 2)
	assert.Equal(t, "BBC One [UK]", streams[0].Name)
	assert.Equal(t, "live", streams[0].StreamType)
	assert.Equal(t, "BBC.One.uk", streams[0].EPGChannelID)
	assert.NotZero(t, streams[0].StreamID.Int())

	// Filtering by the second stream's category keeps only it.
	categoryID := string(streams[1].CategoryID)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/player_api.php?"+xcCreds()+"&action=get_live_streams&category_id="+categoryID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var filtered []xtream.Stream
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, "Big Sport", filtered[0].Name)
}

func TestGetPHPReturnsPlaylist(t *testing.T) {
	f := newXtreamFixture(t)
	f.seed(t, &models.AceStream{ContentID: cid('a'), Title: "BBC One [UK]"})

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/get.php?type=m3u_plus&"+xcCreds(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpegurl", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "#EXTM3U")
	assert.Contains(t, body, "http://gw.example/hls/"+cid('a')+"?token="+testToken)
}

func TestXCOutputExcludesInfohashOnlyStreams(t *testing.T) {
	f := newXtreamFixture(t)
	hash := strings.Repeat("e", 40)
	f.seed(t,
		&models.AceStream{ContentID: cid('a'), Title: "Resolved Channel", GroupTitle: "News"},
		&models.AceStream{Infohash: hash, Title: "Pending Channel"},
	)

	// The XC playlist download only lists streams with a content-id.
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/get.php?type=m3u_plus&"+xcCreds(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Resolved Channel")
	assert.NotContains(t, body, "Pending Channel")
	assert.NotContains(t, body, hash)

	// Same for the live stream listing.
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/player_api.php?"+xcCreds()+"&action=get_live_streams", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var streams []xtream.Stream
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &streams))
	require.Len(t, streams, 1)
	assert.Equal(t, "Resolved Channel", streams[0].Name)
}

func TestXMLTVReturnsGuide(t *testing.T) {
	f := newXtreamFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/xmltv.php?"+xcCreds(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<tv></tv>")
}

func TestResolveStreamServesPlaylist(t *testing.T) {
	f := newXtreamFixture(t)
	f.seed(t, &models.AceStream{ContentID: cid('a'), Title: "BBC One [UK]"})

	streams, err := f.catalog.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 1)
	xcID := streams[0].XcID

	for _, path := range []string{
		"/" + testUser + "/" + testToken + "/" + itoa(xcID) + ".m3u8",
		"/live/" + testUser + "/" + testToken + "/" + itoa(xcID),
	} {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, "path %s", path)
		assert.Contains(t, rec.Body.String(), "http://gw.example/ace/c/"+cid('a'))
	}
}

func TestResolveStreamErrors(t *testing.T) {
	f := newXtreamFixture(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"bad credentials", "/" + testUser + "/wrong/1.m3u8", http.StatusUnauthorized},
		{"malformed id", "/" + testUser + "/" + testToken + "/abc.m3u8", http.StatusBadRequest},
		{"unknown stream", "/" + testUser + "/" + testToken + "/999.m3u8", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func itoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
