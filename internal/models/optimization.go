package models

import (
	"time"

	"gorm.io/datatypes"
)

// Rollout strategies for an optimized prompt.
const (
	RolloutImmediate    = "immediate"
	RolloutGradual      = "gradual"
	RolloutABTest       = "ab_test"
	RolloutManualReview = "manual_review"
)

// OptimizationRun is the durable record of a prompt optimization result.
type OptimizationRun struct {
	ID                 string            `gorm:"primaryKey;size:64" json:"id"`
	PromptID           uint              `gorm:"index" json:"prompt_id"`
	Task               string            `gorm:"size:120;index" json:"task"`
	TargetMetric       string            `gorm:"size:64;not null" json:"target_metric"`
	BaselineValue      float64           `json:"baseline_value"`
	ImprovedValue      float64           `json:"improved_value"`
	ImprovementPercent float64           `json:"improvement_percent"`
	Significance       float64           `json:"significance"`
	ConfidenceScore    float64           `json:"confidence_score"`
	SampleSize         int               `json:"sample_size"`
	RolloutStrategy    string            `gorm:"size:32" json:"rollout_strategy"`
	Successful         bool              `json:"successful"`
	Applied            bool              `json:"applied"`
	AppliedPromptID    *uint             `json:"applied_prompt_id"`
	OptimizedPrompt    string            `gorm:"type:text" json:"optimized_prompt"`
	Weaknesses         datatypes.JSON    `gorm:"type:json" json:"weaknesses"`
	Details            datatypes.JSONMap `gorm:"type:json" json:"details"`
	CreatedAt          time.Time         `gorm:"index" json:"created_at"`
	AppliedAt          *time.Time        `json:"applied_at"`
}
