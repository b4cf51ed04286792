package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kism/acerestreamer/internal/models"
)

// qualityRepo implements QualityRepository using GORM.
type qualityRepo struct {
	db *gorm.DB
}

var _ QualityRepository = (*qualityRepo)(nil)

// NewQualityRepository creates a new QualityRepository.
func NewQualityRepository(db *gorm.DB) *qualityRepo {
	return &qualityRepo{db: db}
}

func (r *qualityRepo) GetAll(ctx context.Context) ([]models.QualityCache, error) {
	var records []models.QualityCache
	if err := r.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing quality records: %w", err)
	}
	return records, nil
}

func (r *qualityRepo) Save(ctx context.Context, record *models.QualityCache) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_id"}},
			UpdateAll: true,
		}).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("saving quality record: %w", err)
	}
	return nil
}
