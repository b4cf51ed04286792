package handlers

import (
	"context"
	"os"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/httpclient"
	"github.com/kism/acerestreamer/internal/pool"
	"github.com/kism/acerestreamer/internal/quality"
	"github.com/kism/acerestreamer/internal/repository"
	"github.com/kism/acerestreamer/internal/ume"
)

type adminFixture struct {
	handler *AdminHandler
	cfg     *config.AppConfig
	applied int
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()

	cfg := config.Defaults()
	cfg.Instance.Dir = t.TempDir()

	db := handlersTestDB(t)
	hc := httpclient.New(httpclient.Config{RetryAttempts: 1, CircuitThreshold: 100})
	engine := ume.New(config.EngineConfig{Address: "http://127.0.0.1:1/"}, hc, testLogger())
	p := pool.New(config.PoolConfig{MaxSize: 2}, engine, hc, testLogger())
	tracker := quality.New(repository.NewQualityRepository(db), testLogger())
	catalog := repository.NewCatalogRepository(db)

	f := &adminFixture{cfg: cfg}
	f.handler = NewAdminHandler(cfg, p, tracker, catalog, nil, nil,
		func(*config.AppConfig) { f.applied++ }, testLogger())
	return f
}

func TestPutConfigRejectsInvalid(t *testing.T) {
	f := newAdminFixture(t)

	bad := *f.cfg
	bad.Server.Port = 0
	_, err := f.handler.PutConfig(context.Background(), &PutConfigInput{Body: bad})
	require.Error(t, err)

	var status huma.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 400, status.GetStatus())

	// The live config is untouched and nothing was persisted.
	assert.NotZero(t, f.cfg.Server.Port)
	assert.Zero(t, f.applied)
	_, statErr := os.Stat(f.cfg.Instance.ConfigPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestPutConfigPersistsAndNotifies(t *testing.T) {
	f := newAdminFixture(t)

	updated := *f.cfg
	updated.Server.Port = 9090
	out, err := f.handler.PutConfig(context.Background(), &PutConfigInput{Body: updated})
	require.NoError(t, err)

	assert.Equal(t, 9090, out.Body.Server.Port)
	assert.Equal(t, 9090, f.cfg.Server.Port)
	assert.Equal(t, 1, f.applied)

	_, statErr := os.Stat(f.cfg.Instance.ConfigPath())
	assert.NoError(t, statErr)
}

func TestScrapeSourceCRUD(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	put := &PutSourceInput{Kind: "iptv", Name: "provider-a"}
	put.Body = ScrapeSource{URL: "http://provider-a.example/playlist.m3u8"}
	_, err := f.handler.PutSource(ctx, put)
	require.NoError(t, err)

	list, err := f.handler.ListSources(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list.Body, 1)
	assert.Equal(t, "iptv", list.Body[0].Kind)
	assert.Equal(t, "provider-a", list.Body[0].Name)

	// Updating the same name replaces rather than appends.
	put.Body.URL = "http://provider-a.example/v2.m3u8"
	_, err = f.handler.PutSource(ctx, put)
	require.NoError(t, err)
	list, err = f.handler.ListSources(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list.Body, 1)
	assert.Equal(t, "http://provider-a.example/v2.m3u8", list.Body[0].URL)

	_, err = f.handler.DeleteSource(ctx, &DeleteSourceInput{Kind: "iptv", Name: "provider-a"})
	require.NoError(t, err)
	list, err = f.handler.ListSources(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list.Body)

	_, err = f.handler.DeleteSource(ctx, &DeleteSourceInput{Kind: "iptv", Name: "provider-a"})
	require.Error(t, err)
}

func TestNameOverrideCRUD(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	put := &PutOverrideInput{ContentID: cid('A')}
	put.Body.Title = "Renamed Channel"
	_, err := f.handler.PutOverride(ctx, put)
	require.NoError(t, err)

	list, err := f.handler.ListOverrides(ctx, nil)
	require.NoError(t, err)
	// Content-ids are stored lower-cased.
	assert.Equal(t, "Renamed Channel", list.Body[cid('a')])

	bad := &PutOverrideInput{ContentID: "nope"}
	bad.Body.Title = "X"
	_, err = f.handler.PutOverride(ctx, bad)
	require.Error(t, err)

	_, err = f.handler.DeleteOverride(ctx, &DeleteOverrideInput{ContentID: cid('a')})
	require.NoError(t, err)
	_, err = f.handler.DeleteOverride(ctx, &DeleteOverrideInput{ContentID: cid('a')})
	require.Error(t, err)
}

func TestGetPoolSnapshot(t *testing.T) {
	f := newAdminFixture(t)

	out, err := f.handler.GetPool(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, out.Body.Healthy)
	assert.Empty(t, out.Body.Entries)
}

func TestGetPoolStatsUnknownSession(t *testing.T) {
	f := newAdminFixture(t)

	_, err := f.handler.GetPoolStats(context.Background(), &PoolStatsInput{ContentID: cid('a')})
	require.Error(t, err)
	var status huma.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 404, status.GetStatus())
}
