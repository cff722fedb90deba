package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/design-quality-api/internal/models"
)

// ExecutionQuery narrows execution listings.
type ExecutionQuery struct {
	PromptID *uint
	Task     string
	Since    *time.Time
	Limit    int
}

// TestExecutionRepository exposes append-only persistence for test executions.
type TestExecutionRepository interface {
	Create(ctx context.Context, execution *models.TestExecution) error
	CreateBatch(ctx context.Context, executions []models.TestExecution) error
	GetByID(ctx context.Context, id uint) (models.TestExecution, error)
	List(ctx context.Context, query ExecutionQuery) ([]models.TestExecution, error)
}

const executionBatchSize = 100

type testExecutionRepository struct {
	db *gorm.DB
}

// NewTestExecutionRepository constructs a test execution repository.
func NewTestExecutionRepository(db *gorm.DB) TestExecutionRepository {
	return &testExecutionRepository{db: db}
}

func (r *testExecutionRepository) Create(ctx context.Context, execution *models.TestExecution) error {
	return r.db.WithContext(ctx).Omit("Prompt").Create(execution).Error
}

// CreateBatch inserts the executions in one transaction; either every row is
// written or none is.
func (r *testExecutionRepository) CreateBatch(ctx context.Context, executions []models.TestExecution) error {
	if len(executions) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit("Prompt").CreateInBatches(&executions, executionBatchSize).Error
	})
}

func (r *testExecutionRepository) GetByID(ctx context.Context, id uint) (models.TestExecution, error) {
	var execution models.TestExecution
	if err := r.db.WithContext(ctx).First(&execution, id).Error; err != nil {
		return models.TestExecution{}, err
	}
	return execution, nil
}

// List returns executions oldest first.
func (r *testExecutionRepository) List(ctx context.Context, query ExecutionQuery) ([]models.TestExecution, error) {
	db := r.db.WithContext(ctx).Model(&models.TestExecution{})
	if query.PromptID != nil {
		db = db.Where("test_executions.prompt_id = ?", *query.PromptID)
	}
	if query.Task != "" {
		db = db.Joins("JOIN ai_prompts ON ai_prompts.id = test_executions.prompt_id").
			Where("ai_prompts.task = ?", query.Task)
	}
	if query.Since != nil {
		db = db.Where("test_executions.created_at >= ?", *query.Since)
	}

	var executions []models.TestExecution
	if query.Limit > 0 {
		// newest N, returned oldest first
		if err := db.Order("test_executions.created_at DESC").Order("test_executions.id DESC").Limit(query.Limit).Find(&executions).Error; err != nil {
			return nil, err
		}
		for i, j := 0, len(executions)-1; i < j; i, j = i+1, j-1 {
			executions[i], executions[j] = executions[j], executions[i]
		}
		return executions, nil
	}

	if err := db.Order("test_executions.created_at ASC").Order("test_executions.id ASC").Find(&executions).Error; err != nil {
		return nil, err
	}
	return executions, nil
}
