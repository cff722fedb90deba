package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/design-quality-api/internal/models"
)

// PromptRepository exposes persistence helpers for prompt versions.
type PromptRepository interface {
	Create(ctx context.Context, prompt *models.AIPrompt) error
	Update(ctx context.Context, prompt *models.AIPrompt) error
	GetByID(ctx context.Context, id uint) (models.AIPrompt, error)
	GetActive(ctx context.Context, task string) (models.AIPrompt, error)
	ListByTask(ctx context.Context, task string) ([]models.AIPrompt, error)
	ListLineage(ctx context.Context, id uint) ([]models.AIPrompt, error)
	GetByOptimizationID(ctx context.Context, optimizationID string) (models.AIPrompt, error)
	CreateVersion(ctx context.Context, prompt *models.AIPrompt) error
	Activate(ctx context.Context, id uint) (models.AIPrompt, error)
	RecordScore(ctx context.Context, id uint, score float64) error
}

type promptRepository struct {
	db *gorm.DB
}

// NewPromptRepository constructs a prompt repository.
func NewPromptRepository(db *gorm.DB) PromptRepository {
	return &promptRepository{db: db}
}

func (r *promptRepository) Create(ctx context.Context, prompt *models.AIPrompt) error {
	return r.db.WithContext(ctx).Create(prompt).Error
}

func (r *promptRepository) Update(ctx context.Context, prompt *models.AIPrompt) error {
	return r.db.WithContext(ctx).Save(prompt).Error
}

func (r *promptRepository) GetByID(ctx context.Context, id uint) (models.AIPrompt, error) {
	var prompt models.AIPrompt
	if err := r.db.WithContext(ctx).First(&prompt, id).Error; err != nil {
		return models.AIPrompt{}, err
	}
	return prompt, nil
}

func (r *promptRepository) GetActive(ctx context.Context, task string) (models.AIPrompt, error) {
	var prompt models.AIPrompt
	err := r.db.WithContext(ctx).
		Where("task = ? AND is_active = ?", task, true).
		Order("version DESC").
		First(&prompt).Error
	if err != nil {
		return models.AIPrompt{}, err
	}
	return prompt, nil
}

func (r *promptRepository) ListByTask(ctx context.Context, task string) ([]models.AIPrompt, error) {
	var prompts []models.AIPrompt
	query := r.db.WithContext(ctx).Order("task ASC").Order("version DESC")
	if task != "" {
		query = query.Where("task = ?", task)
	}
	if err := query.Find(&prompts).Error; err != nil {
		return nil, err
	}
	return prompts, nil
}

// ListLineage walks parent links from the given prompt back to its root,
// returning the oldest ancestor first.
func (r *promptRepository) ListLineage(ctx context.Context, id uint) ([]models.AIPrompt, error) {
	lineage := make([]models.AIPrompt, 0, 4)
	seen := map[uint]struct{}{}
	current := id
	for {
		if _, ok := seen[current]; ok {
			break
		}
		seen[current] = struct{}{}

		prompt, err := r.GetByID(ctx, current)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) && len(lineage) > 0 {
				break
			}
			return nil, err
		}
		lineage = append(lineage, prompt)
		if prompt.ParentID == nil {
			break
		}
		current = *prompt.ParentID
	}

	for i, j := 0, len(lineage)-1; i < j; i, j = i+1, j-1 {
		lineage[i], lineage[j] = lineage[j], lineage[i]
	}
	return lineage, nil
}

func (r *promptRepository) GetByOptimizationID(ctx context.Context, optimizationID string) (models.AIPrompt, error) {
	var prompt models.AIPrompt
	err := r.db.WithContext(ctx).
		Where("optimization_id = ?", optimizationID).
		Order("id ASC").
		First(&prompt).Error
	if err != nil {
		return models.AIPrompt{}, err
	}
	return prompt, nil
}

// maxVersionAttempts bounds the retries when a concurrent writer takes the
// same (task, version) slot first.
const maxVersionAttempts = 3

// CreateVersion assigns the next version number for the prompt's task and
// inserts it. The unique (task, version) index rejects a concurrent duplicate,
// in which case the number is recomputed.
func (r *promptRepository) CreateVersion(ctx context.Context, prompt *models.AIPrompt) error {
	var err error
	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		var current int
		err = r.db.WithContext(ctx).
			Model(&models.AIPrompt{}).
			Where("task = ?", prompt.Task).
			Select("COALESCE(MAX(version), 0)").
			Scan(&current).Error
		if err != nil {
			return err
		}

		prompt.ID = 0
		prompt.Version = current + 1
		err = r.db.WithContext(ctx).Create(prompt).Error
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return err
}

// Activate marks the prompt active and deactivates its siblings of the same task.
func (r *promptRepository) Activate(ctx context.Context, id uint) (models.AIPrompt, error) {
	var activated models.AIPrompt
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&activated, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AIPrompt{}).
			Where("task = ? AND id <> ?", activated.Task, activated.ID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		activated.IsActive = true
		return tx.Model(&activated).Update("is_active", true).Error
	})
	if err != nil {
		return models.AIPrompt{}, err
	}
	return activated, nil
}

// RecordScore folds one execution score into the rolling performance score in a
// single statement so concurrent recorders do not lose updates.
func (r *promptRepository) RecordScore(ctx context.Context, id uint, score float64) error {
	result := r.db.WithContext(ctx).
		Model(&models.AIPrompt{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"performance_score": gorm.Expr("(performance_score * execution_count + ?) / (execution_count + 1)", score),
			"execution_count":   gorm.Expr("execution_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
