package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/design-quality-api/internal/models"
)

// OptimizationRepository persists optimization results so history survives restarts.
type OptimizationRepository interface {
	Create(ctx context.Context, run *models.OptimizationRun) error
	Update(ctx context.Context, run *models.OptimizationRun) error
	List(ctx context.Context) ([]models.OptimizationRun, error)
}

type optimizationRepository struct {
	db *gorm.DB
}

// NewOptimizationRepository constructs an optimization repository.
func NewOptimizationRepository(db *gorm.DB) OptimizationRepository {
	return &optimizationRepository{db: db}
}

func (r *optimizationRepository) Create(ctx context.Context, run *models.OptimizationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *optimizationRepository) Update(ctx context.Context, run *models.OptimizationRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *optimizationRepository) List(ctx context.Context) ([]models.OptimizationRun, error) {
	var runs []models.OptimizationRun
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
