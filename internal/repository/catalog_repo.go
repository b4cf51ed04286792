package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kism/acerestreamer/internal/models"
)

// catalogRepo implements CatalogRepository using GORM. Reads of the full
// catalog are frequent (every playlist, EPG and Xtream-Codes request walks
// it) so GetAll serves a cached snapshot that writes invalidate.
type catalogRepo struct {
	db *gorm.DB

	mu       sync.RWMutex
	snapshot []models.AceStream
}

var _ CatalogRepository = (*catalogRepo)(nil)

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(db *gorm.DB) *catalogRepo {
	return &catalogRepo{db: db}
}

func (r *catalogRepo) GetAll(ctx context.Context) ([]models.AceStream, error) {
	r.mu.RLock()
	if r.snapshot != nil {
		defer r.mu.RUnlock()
		return r.snapshot, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot != nil {
		return r.snapshot, nil
	}

	var streams []models.AceStream
	if err := r.db.WithContext(ctx).Order("xc_id ASC").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("listing catalog: %w", err)
	}
	r.snapshot = streams
	return streams, nil
}

func (r *catalogRepo) GetByContentID(ctx context.Context, contentID string) (*models.AceStream, error) {
	if contentID == "" {
		// Empty would match every infohash-only row.
		return nil, nil
	}
	var stream models.AceStream
	if err := r.db.WithContext(ctx).Where("content_id = ?", contentID).First(&stream).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by content-id: %w", err)
	}
	return &stream, nil
}

func (r *catalogRepo) GetByXcID(ctx context.Context, xcID uint) (*models.AceStream, error) {
	var stream models.AceStream
	if err := r.db.WithContext(ctx).Where("xc_id = ?", xcID).First(&stream).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by xc-id: %w", err)
	}
	return &stream, nil
}

func (r *catalogRepo) Upsert(ctx context.Context, stream *models.AceStream) error {
	stream.StreamKey = stream.ContentID
	if stream.StreamKey == "" {
		stream.StreamKey = stream.Infohash
	}
	if stream.StreamKey == "" {
		return errors.New("upserting stream: no content-id or infohash")
	}

	// A row first persisted by infohash migrates to its content-id key once
	// the hash resolves, keeping its xc_id.
	if stream.ContentID != "" && stream.Infohash != "" {
		err := r.db.WithContext(ctx).Model(&models.AceStream{}).
			Where("stream_key = ? AND content_id = ''", stream.Infohash).
			Updates(map[string]any{"stream_key": stream.ContentID, "content_id": stream.ContentID}).Error
		if err != nil {
			return fmt.Errorf("rekeying resolved stream: %w", err)
		}
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stream_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"content_id", "infohash", "title", "tvg_id", "tvg_logo", "group_title",
				"sites_found_on", "last_scraped_at", "updated_at",
			}),
		}).
		Create(stream).Error
	if err != nil {
		return fmt.Errorf("upserting stream: %w", err)
	}
	r.invalidate()
	return nil
}

func (r *catalogRepo) Delete(ctx context.Context, contentID string) error {
	if err := r.db.WithContext(ctx).Where("content_id = ?", contentID).Delete(&models.AceStream{}).Error; err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}
	r.invalidate()
	return nil
}

func (r *catalogRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.AceStream{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting streams: %w", err)
	}
	return count, nil
}

func (r *catalogRepo) invalidate() {
	r.mu.Lock()
	r.snapshot = nil
	r.mu.Unlock()
}
