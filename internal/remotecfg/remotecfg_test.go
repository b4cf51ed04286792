package remotecfg

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/httpclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.Instance.Dir = t.TempDir()
	return cfg
}

func remoteServer(t *testing.T, doc *config.AppConfig) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchOnceAppliesChangedSections(t *testing.T) {
	cfg := baseConfig(t)

	remote := config.Defaults()
	remote.Scraper.IPTVSources = []config.IPTVSourceConfig{
		{Name: "remote-src", URL: "http://lists.example.invalid/streams.m3u8"},
	}
	remote.EPGs = []config.EPGSourceConfig{
		{URL: "http://epg.example.invalid/guide.xml", Format: "xml"},
	}
	srv := remoteServer(t, remote)
	cfg.Remote.URL = srv.URL

	applied := 0
	hc := httpclient.New(httpclient.Config{RetryAttempts: 1, CircuitThreshold: 100})
	f := New(cfg, hc, func(*config.AppConfig) { applied++ }, testLogger())

	require.NoError(t, f.FetchOnce(context.Background()))

	assert.Equal(t, 1, applied)
	require.Len(t, cfg.Scraper.IPTVSources, 1)
	assert.Equal(t, "remote-src", cfg.Scraper.IPTVSources[0].Name)
	require.Len(t, cfg.EPGs, 1)

	// The overlay was persisted.
	saved, err := os.ReadFile(cfg.Instance.ConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(saved), "remote-src")
}

func TestFetchOnceNoOpWhenIdentical(t *testing.T) {
	cfg := baseConfig(t)
	srv := remoteServer(t, cfg)
	cfg.Remote.URL = srv.URL

	applied := 0
	hc := httpclient.New(httpclient.Config{RetryAttempts: 1, CircuitThreshold: 100})
	f := New(cfg, hc, func(*config.AppConfig) { applied++ }, testLogger())

	require.NoError(t, f.FetchOnce(context.Background()))

	assert.Zero(t, applied)
	_, err := os.Stat(cfg.Instance.ConfigPath())
	assert.True(t, os.IsNotExist(err), "identical document writes nothing")
}

func TestFetchOnceNeverReplacesSecrets(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Auth.AdminPassword = "local-secret"

	remote := config.Defaults()
	remote.Auth.AdminPassword = "attacker"
	remote.Scraper.IPTVSources = []config.IPTVSourceConfig{
		{Name: "remote-src", URL: "http://lists.example.invalid/streams.m3u8"},
	}
	srv := remoteServer(t, remote)
	cfg.Remote.URL = srv.URL

	hc := httpclient.New(httpclient.Config{RetryAttempts: 1, CircuitThreshold: 100})
	f := New(cfg, hc, nil, testLogger())

	require.NoError(t, f.FetchOnce(context.Background()))

	assert.Equal(t, "local-secret", cfg.Auth.AdminPassword)
}

func TestFetchOnceBadDocument(t *testing.T) {
	cfg := baseConfig(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	t.Cleanup(srv.Close)
	cfg.Remote.URL = srv.URL

	hc := httpclient.New(httpclient.Config{RetryAttempts: 1, CircuitThreshold: 100})
	f := New(cfg, hc, nil, testLogger())

	assert.Error(t, f.FetchOnce(context.Background()))
}

func TestFetchOnceDisabledWithoutURL(t *testing.T) {
	cfg := baseConfig(t)
	hc := httpclient.New(httpclient.Config{RetryAttempts: 1, CircuitThreshold: 100})
	f := New(cfg, hc, nil, testLogger())

	assert.NoError(t, f.FetchOnce(context.Background()))
	_ = filepath.Join
}
