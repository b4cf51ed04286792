package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kism/acerestreamer/internal/config"
	"github.com/kism/acerestreamer/internal/models"
)

func testConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:   "sqlite",
		LogLevel: "silent",
	}
}

func TestNewSQLiteDefaultsToInstancePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acerestreamer.db")

	db, err := New(testConfig(), path, nil)
	require.NoError(t, err)

	assert.FileExists(t, path)

	// Migration created the catalog tables.
	for _, table := range []string{"ace_streams", "content_id_infohash", "category_xc", "ace_quality_cache"} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := New(testConfig(), path, nil)
	require.NoError(t, err)

	stream := models.AceStream{
		ContentID:    "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Title:        "Test Channel",
		GroupTitle:   "Sports",
		SitesFoundOn: models.NewStringSet("site-one"),
	}
	require.NoError(t, db.Create(&stream).Error)
	assert.NotZero(t, stream.XcID)

	var got models.AceStream
	require.NoError(t, db.Where("content_id = ?", stream.ContentID).First(&got).Error)
	assert.Equal(t, "Test Channel", got.Title)
	assert.Equal(t, models.StringSet{"site-one"}, got.SitesFoundOn)
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Driver = "oracle"

	_, err := New(cfg, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}
