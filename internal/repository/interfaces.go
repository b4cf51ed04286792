// Package repository defines data access interfaces for acerestreamer
// entities. All database access goes through these interfaces, enabling easy
// testing and database backend switching.
package repository

import (
	"context"

	"github.com/kism/acerestreamer/internal/models"
)

// CatalogRepository defines operations for the scraped stream catalog.
type CatalogRepository interface {
	// GetAll retrieves every catalog entry ordered by xc_id. The result is
	// served from an in-memory snapshot that is rebuilt after writes.
	GetAll(ctx context.Context) ([]models.AceStream, error)
	// GetByContentID retrieves a stream by content-id, nil when absent.
	GetByContentID(ctx context.Context, contentID string) (*models.AceStream, error)
	// GetByXcID retrieves a stream by its Xtream-Codes integer id, nil when absent.
	GetByXcID(ctx context.Context, xcID uint) (*models.AceStream, error)
	// Upsert creates the stream or updates the existing row with the same
	// content-id. The xc_id of an existing row is never changed.
	Upsert(ctx context.Context, stream *models.AceStream) error
	// Delete removes a stream by content-id.
	Delete(ctx context.Context, contentID string) error
	// Count returns the number of catalog entries.
	Count(ctx context.Context) (int64, error)
}

// InfohashMapRepository defines operations for the learned mapping between
// the content-id and infohash namespaces.
type InfohashMapRepository interface {
	// Learn records a content-id/infohash pair. Re-learning a known pair is
	// a no-op.
	Learn(ctx context.Context, contentID, infohash string) error
	// ContentIDForInfohash resolves an infohash, empty when unknown.
	ContentIDForInfohash(ctx context.Context, infohash string) (string, error)
	// InfohashForContentID resolves a content-id, empty when unknown.
	InfohashForContentID(ctx context.Context, contentID string) (string, error)
}

// CategoryRepository assigns stable integer ids to category names.
type CategoryRepository interface {
	// EnsureID returns the id for the category, allocating one on first sight.
	EnsureID(ctx context.Context, category string) (uint, error)
	// GetAll retrieves every known category ordered by id.
	GetAll(ctx context.Context) ([]models.CategoryXC, error)
}

// QualityRepository persists stream quality state between restarts.
type QualityRepository interface {
	// GetAll retrieves every persisted quality record.
	GetAll(ctx context.Context) ([]models.QualityCache, error)
	// Save creates or replaces the record for its content-id.
	Save(ctx context.Context, record *models.QualityCache) error
}
