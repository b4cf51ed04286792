package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kism/acerestreamer/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	return db
}

func testStream(id byte, title string) *models.AceStream {
	return &models.AceStream{
		ContentID:    strings.Repeat(string(id), 40),
		Title:        title,
		GroupTitle:   "General",
		SitesFoundOn: models.NewStringSet("site-one"),
	}
}

func TestCatalogRepo_UpsertAssignsXcID(t *testing.T) {
	repo := NewCatalogRepository(setupTestDB(t))
	ctx := context.Background()

	first := testStream('a', "First")
	second := testStream('b', "Second")
	require.NoError(t, repo.Upsert(ctx, first))
	require.NoError(t, repo.Upsert(ctx, second))

	assert.NotZero(t, first.XcID)
	assert.Equal(t, first.XcID+1, second.XcID)
}

func TestCatalogRepo_UpsertKeepsXcID(t *testing.T) {
	repo := NewCatalogRepository(setupTestDB(t))
	ctx := context.Background()

	stream := testStream('a', "Original Title")
	require.NoError(t, repo.Upsert(ctx, stream))
	originalID := stream.XcID

	updated := testStream('a', "Updated Title")
	updated.Infohash = strings.Repeat("f", 40)
	require.NoError(t, repo.Upsert(ctx, updated))

	got, err := repo.GetByContentID(ctx, stream.ContentID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, originalID, got.XcID)
	assert.Equal(t, "Updated Title", got.Title)
	assert.Equal(t, strings.Repeat("f", 40), got.Infohash)
}

func TestCatalogRepo_InfohashOnlyRows(t *testing.T) {
	repo := NewCatalogRepository(setupTestDB(t))
	ctx := context.Background()

	hashA := strings.Repeat("1", 40)
	hashB := strings.Repeat("2", 40)
	require.NoError(t, repo.Upsert(ctx, &models.AceStream{Infohash: hashA, Title: "Hash A"}))
	require.NoError(t, repo.Upsert(ctx, &models.AceStream{Infohash: hashB, Title: "Hash B"}))

	// Two rows without a content-id coexist, keyed by infohash.
	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Empty(t, all[0].ContentID)
	assert.Empty(t, all[1].ContentID)

	// An empty content-id lookup must not match them.
	got, err := repo.GetByContentID(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, got)

	// A re-scrape of the same infohash updates in place.
	require.NoError(t, repo.Upsert(ctx, &models.AceStream{Infohash: hashA, Title: "Hash A Renamed"}))
	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestCatalogRepo_InfohashRowGainsContentID(t *testing.T) {
	repo := NewCatalogRepository(setupTestDB(t))
	ctx := context.Background()

	hash := strings.Repeat("1", 40)
	first := &models.AceStream{Infohash: hash, Title: "Pending"}
	require.NoError(t, repo.Upsert(ctx, first))
	originalID := first.XcID

	resolved := &models.AceStream{
		ContentID: strings.Repeat("a", 40),
		Infohash:  hash,
		Title:     "Resolved",
	}
	require.NoError(t, repo.Upsert(ctx, resolved))

	// The row is rekeyed, not duplicated, and keeps its xc_id.
	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	got, err := repo.GetByContentID(ctx, resolved.ContentID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, originalID, got.XcID)
	assert.Equal(t, "Resolved", got.Title)
}

func TestCatalogRepo_GetAllSnapshot(t *testing.T) {
	repo := NewCatalogRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testStream('a', "One")))
	require.NoError(t, repo.Upsert(ctx, testStream('b', "Two")))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "One", all[0].Title)

	// A write invalidates the snapshot so the next read sees the change.
	require.NoError(t, repo.Delete(ctx, all[0].ContentID))

	all, err = repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Two", all[0].Title)
}

func TestCatalogRepo_GetByXcID(t *testing.T) {
	repo := NewCatalogRepository(setupTestDB(t))
	ctx := context.Background()

	stream := testStream('a', "Lookup")
	require.NoError(t, repo.Upsert(ctx, stream))

	got, err := repo.GetByXcID(ctx, stream.XcID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, stream.ContentID, got.ContentID)

	missing, err := repo.GetByXcID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCatalogRepo_Count(t *testing.T) {
	repo := NewCatalogRepository(setupTestDB(t))
	ctx := context.Background()

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, repo.Upsert(ctx, testStream('a', "One")))

	count, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
