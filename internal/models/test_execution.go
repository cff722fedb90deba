package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/design-quality-api/pkg/metrics"
)

// TestExecution records one evaluation of a prompt version against one input.
// Rows are append-only.
type TestExecution struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	PromptID         uint              `gorm:"not null;index" json:"prompt_id"`
	DatasetID        *uint             `gorm:"index" json:"dataset_id"`
	TestCaseID       *uint             `json:"test_case_id"`
	InputData        datatypes.JSONMap `gorm:"type:json" json:"input_data"`
	AIOutput         datatypes.JSON    `gorm:"type:json" json:"-"`
	GroundTruth      datatypes.JSON    `gorm:"type:json" json:"-"`
	ProcessingTimeMs int64             `gorm:"default:0" json:"processing_time_ms"`
	TokensUsed       *int              `json:"tokens_used"`
	EstimatedCostUSD *float64          `json:"estimated_cost_usd"`
	Metrics          datatypes.JSONMap `gorm:"type:json" json:"metrics"`
	QualityScore     float64           `gorm:"default:0" json:"quality_score"`
	ValidationScore  *float64          `json:"validation_score"`
	Succeeded        bool              `gorm:"default:true" json:"succeeded"`
	Error            string            `gorm:"type:text" json:"error"`
	CreatedAt        time.Time         `gorm:"index" json:"created_at"`
	Prompt           AIPrompt          `gorm:"foreignKey:PromptID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// Predictions returns the sections produced by the pipeline.
func (e TestExecution) Predictions() []metrics.Section {
	return DecodeSections(e.AIOutput)
}

// Truth returns the ground-truth sections, if any were recorded.
func (e TestExecution) Truth() []metrics.Section {
	return DecodeSections(e.GroundTruth)
}

// HasGroundTruth reports whether the execution was scored against ground truth.
func (e TestExecution) HasGroundTruth() bool {
	return len(e.GroundTruth) > 0
}

// MetricValue reads a numeric metric from the stored metrics map.
func (e TestExecution) MetricValue(key string) (float64, bool) {
	if e.Metrics == nil {
		return 0, false
	}
	switch v := e.Metrics[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
