package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/design-quality-api/internal/models"
)

// DatasetRepository exposes persistence helpers for validation datasets.
type DatasetRepository interface {
	Create(ctx context.Context, dataset *models.ValidationDataset) error
	GetByID(ctx context.Context, id uint) (models.ValidationDataset, error)
	ListByTask(ctx context.Context, task string) ([]models.ValidationDataset, error)
}

type datasetRepository struct {
	db *gorm.DB
}

// NewDatasetRepository constructs a dataset repository.
func NewDatasetRepository(db *gorm.DB) DatasetRepository {
	return &datasetRepository{db: db}
}

func (r *datasetRepository) Create(ctx context.Context, dataset *models.ValidationDataset) error {
	return r.db.WithContext(ctx).Create(dataset).Error
}

func (r *datasetRepository) GetByID(ctx context.Context, id uint) (models.ValidationDataset, error) {
	var dataset models.ValidationDataset
	err := r.db.WithContext(ctx).
		Preload("TestCases", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&dataset, id).Error
	if err != nil {
		return models.ValidationDataset{}, err
	}
	return dataset, nil
}

func (r *datasetRepository) ListByTask(ctx context.Context, task string) ([]models.ValidationDataset, error) {
	var datasets []models.ValidationDataset
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if task != "" {
		query = query.Where("task = ?", task)
	}
	if err := query.Find(&datasets).Error; err != nil {
		return nil, err
	}
	return datasets, nil
}
