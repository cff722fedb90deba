package models

import "time"

// AIPrompt is a versioned instruction prompt bound to a pipeline task.
type AIPrompt struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Task             string    `gorm:"size:120;not null;uniqueIndex:idx_prompt_task_version,priority:1" json:"task"`
	Version          int       `gorm:"not null;uniqueIndex:idx_prompt_task_version,priority:2" json:"version"`
	Name             string    `gorm:"size:255" json:"name"`
	Content          string    `gorm:"type:text;not null" json:"content"`
	IsActive         bool      `gorm:"default:false;index" json:"is_active"`
	PerformanceScore float64   `gorm:"default:0" json:"performance_score"`
	ExecutionCount   int64     `gorm:"default:0" json:"execution_count"`
	ParentID         *uint     `json:"parent_id"`
	OptimizationID   string    `gorm:"size:64;index" json:"optimization_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName pins the table name used by joins in the execution repository.
func (AIPrompt) TableName() string {
	return "ai_prompts"
}
