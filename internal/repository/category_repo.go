package repository

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/kism/acerestreamer/internal/models"
)

// categoryRepo implements CategoryRepository using GORM. Ids are allocated
// on first sight and cached in memory; category names never change once
// assigned, so the cache is only ever appended to.
type categoryRepo struct {
	db *gorm.DB

	mu  sync.Mutex
	ids map[string]uint
}

var _ CategoryRepository = (*categoryRepo)(nil)

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(db *gorm.DB) *categoryRepo {
	return &categoryRepo{db: db, ids: make(map[string]uint)}
}

func (r *categoryRepo) EnsureID(ctx context.Context, category string) (uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.ids[category]; ok {
		return id, nil
	}

	row := models.CategoryXC{Category: category}
	err := r.db.WithContext(ctx).
		Where("category = ?", category).
		FirstOrCreate(&row).Error
	if err != nil {
		return 0, fmt.Errorf("ensuring category id: %w", err)
	}

	r.ids[category] = row.XcCategoryID
	return row.XcCategoryID, nil
}

func (r *categoryRepo) GetAll(ctx context.Context) ([]models.CategoryXC, error) {
	var categories []models.CategoryXC
	if err := r.db.WithContext(ctx).Order("xc_category_id ASC").Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return categories, nil
}
