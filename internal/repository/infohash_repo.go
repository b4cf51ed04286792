package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kism/acerestreamer/internal/models"
)

// infohashMapRepo implements InfohashMapRepository using GORM.
type infohashMapRepo struct {
	db *gorm.DB
}

var _ InfohashMapRepository = (*infohashMapRepo)(nil)

// NewInfohashMapRepository creates a new InfohashMapRepository.
func NewInfohashMapRepository(db *gorm.DB) *infohashMapRepo {
	return &infohashMapRepo{db: db}
}

func (r *infohashMapRepo) Learn(ctx context.Context, contentID, infohash string) error {
	pair := models.ContentIDInfohash{ContentID: contentID, Infohash: infohash}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&pair).Error
	if err != nil {
		return fmt.Errorf("learning content-id/infohash pair: %w", err)
	}
	return nil
}

func (r *infohashMapRepo) ContentIDForInfohash(ctx context.Context, infohash string) (string, error) {
	var pair models.ContentIDInfohash
	if err := r.db.WithContext(ctx).Where("infohash = ?", infohash).First(&pair).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("resolving infohash: %w", err)
	}
	return pair.ContentID, nil
}

func (r *infohashMapRepo) InfohashForContentID(ctx context.Context, contentID string) (string, error) {
	var pair models.ContentIDInfohash
	if err := r.db.WithContext(ctx).Where("content_id = ?", contentID).First(&pair).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("resolving content-id: %w", err)
	}
	return pair.Infohash, nil
}
