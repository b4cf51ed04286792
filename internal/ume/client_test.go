package ume

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/httpclient"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	hc := httpclient.New(httpclient.Config{RetryAttempts: 1})
	return New(config.EngineConfig{Address: srv.URL + "/"}, hc, nil)
}

func TestGetVersion(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webui/api/service", r.URL.Path)
		assert.Equal(t, "get_version", r.URL.Query().Get("method"))
		_, _ = w.Write([]byte(`{"result":{"version":"3.1.80"}}`))
	})

	version, err := client.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.1.80", version)
}

func TestGetMiddleware(t *testing.T) {
	contentID := strings.Repeat("a", 40)

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ace/manifest.m3u8", r.URL.Path)
		assert.Equal(t, contentID, r.URL.Query().Get("content_id"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "2", r.URL.Query().Get("pid"))
		_, _ = w.Write([]byte(`{"response":{
			"playback_url":"http://127.0.0.1:6878/ace/c/` + contentID + `/stream.m3u8",
			"stat_url":"http://127.0.0.1:6878/ace/stat/abc",
			"command_url":"http://127.0.0.1:6878/ace/cmd/abc",
			"infohash":"` + strings.Repeat("b", 40) + `",
			"is_live":1}}`))
	})

	mw, err := client.GetMiddleware(context.Background(), contentID, 2)
	require.NoError(t, err)
	assert.Contains(t, mw.PlaybackURL, contentID)
	assert.NotEmpty(t, mw.StatURL)
	assert.NotEmpty(t, mw.CommandURL)
	assert.Equal(t, 1, mw.IsLive)
}

func TestGetMiddlewareEngineError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":null,"error":"cannot load torrent"}`))
	})

	_, err := client.GetMiddleware(context.Background(), strings.Repeat("a", 40), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot load torrent")
}

func TestGetStat(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"status":"dl","peers":5,"speed_down":1000,"speed_up":500,"downloaded":10000,"uploaded":5000}}`))
	})

	stat, err := client.GetStat(context.Background(), client.Address()+"ace/stat/abc")
	require.NoError(t, err)
	assert.Equal(t, "dl", stat.Status)
	assert.Equal(t, 5, stat.Peers)
	assert.EqualValues(t, 1000, stat.SpeedDown)
}

func TestStopAppendsMethod(t *testing.T) {
	var gotQuery string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`ok`))
	})

	require.NoError(t, client.Stop(context.Background(), client.Address()+"ace/cmd/abc?sid=1"))
	assert.Equal(t, "sid=1&method=stop", gotQuery)
}

func TestGetContentID(t *testing.T) {
	contentID := strings.Repeat("c", 40)

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/server/api", r.URL.Path)
		assert.Equal(t, "get_content_id", r.URL.Query().Get("method"))
		_, _ = w.Write([]byte(`{"result":{"content_id":"` + contentID + `"}}`))
	})

	got, err := client.GetContentID(context.Background(), strings.Repeat("d", 40))
	require.NoError(t, err)
	assert.Equal(t, contentID, got)
}
