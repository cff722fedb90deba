package dto

import (
	"time"

	"github.com/noah-isme/design-quality-api/internal/models"
)

// PromptCreateRequest captures a new prompt version.
type PromptCreateRequest struct {
	Task     string `json:"task" validate:"required,max=120"`
	Name     string `json:"name" validate:"omitempty,max=255"`
	Content  string `json:"content" validate:"required,min=1"`
	ParentID *uint  `json:"parent_id" validate:"omitempty,gt=0"`
	Activate bool   `json:"activate"`
}

// PromptResponse describes a prompt version.
type PromptResponse struct {
	ID               uint      `json:"id"`
	Task             string    `json:"task"`
	Version          int       `json:"version"`
	Name             string    `json:"name"`
	Content          string    `json:"content"`
	IsActive         bool      `json:"is_active"`
	PerformanceScore float64   `json:"performance_score"`
	ExecutionCount   int64     `json:"execution_count"`
	ParentID         *uint     `json:"parent_id,omitempty"`
	OptimizationID   string    `json:"optimization_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewPromptResponse maps a prompt model to its response.
func NewPromptResponse(prompt models.AIPrompt) PromptResponse {
	return PromptResponse{
		ID:               prompt.ID,
		Task:             prompt.Task,
		Version:          prompt.Version,
		Name:             prompt.Name,
		Content:          prompt.Content,
		IsActive:         prompt.IsActive,
		PerformanceScore: prompt.PerformanceScore,
		ExecutionCount:   prompt.ExecutionCount,
		ParentID:         prompt.ParentID,
		OptimizationID:   prompt.OptimizationID,
		CreatedAt:        prompt.CreatedAt,
		UpdatedAt:        prompt.UpdatedAt,
	}
}

// NewPromptResponseSlice maps a list of prompts.
func NewPromptResponseSlice(prompts []models.AIPrompt) []PromptResponse {
	responses := make([]PromptResponse, 0, len(prompts))
	for _, prompt := range prompts {
		responses = append(responses, NewPromptResponse(prompt))
	}
	return responses
}

// PromptSummaryResponse aggregates execution quality for one prompt version.
type PromptSummaryResponse struct {
	PromptID             uint     `json:"prompt_id"`
	Task                 string   `json:"task"`
	Version              int      `json:"version"`
	Executions           int      `json:"executions"`
	ScoredExecutions     int      `json:"scored_executions"`
	FailedExecutions     int      `json:"failed_executions"`
	MeanPrecision        float64  `json:"mean_precision"`
	MeanRecall           float64  `json:"mean_recall"`
	MeanF1               float64  `json:"mean_f1"`
	MeanAvgIoU           float64  `json:"mean_avg_iou"`
	MeanConfidence       *float64 `json:"mean_confidence"`
	MeanProcessingTimeMs float64  `json:"mean_processing_time_ms"`
	TotalTokens          int      `json:"total_tokens"`
	TotalCostUSD         float64  `json:"total_cost_usd"`
	PerformanceScore     float64  `json:"performance_score"`
}
