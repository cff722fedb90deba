package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/design-quality-api/internal/models"
)

// Metrics an optimization can target.
const (
	TargetValidationScore = "validation_score"
	TargetF1              = "f1"
	TargetPrecision       = "precision"
	TargetRecall          = "recall"
	TargetConfidence      = "confidence"
	TargetProcessingTime  = "processing_time"
)

// OptimizationRequest starts a prompt optimization pass.
type OptimizationRequest struct {
	TargetMetric         string   `json:"target_metric" validate:"required,oneof=validation_score f1 precision recall confidence processing_time"`
	ImprovementThreshold float64  `json:"improvement_threshold" validate:"gte=0,lte=100"`
	AnalysisPeriodDays   int      `json:"analysis_period_days" validate:"required,gte=1,lte=365"`
	FocusAreas           []string `json:"focus_areas" validate:"omitempty,dive,required"`
	ExcludePatterns      []string `json:"exclude_patterns" validate:"omitempty,dive,required"`
	Task                 string   `json:"task" validate:"omitempty,max=120"`
	PromptID             *uint    `json:"prompt_id" validate:"omitempty,gt=0"`
}

// Weakness is a detected shortcoming of the current prompt.
type Weakness struct {
	Category   string  `json:"category"`
	Severity   float64 `json:"severity"`
	Evidence   string  `json:"evidence"`
	Suggestion string  `json:"suggestion"`
}

// PromptOptimizationResult is the outcome of an optimization pass.
type PromptOptimizationResult struct {
	OptimizationID          string     `json:"optimization_id"`
	PromptID                uint       `json:"prompt_id"`
	Task                    string     `json:"task"`
	TargetMetric            string     `json:"target_metric"`
	BaselinePerformance     float64    `json:"baseline_performance"`
	ImprovedPerformance     float64    `json:"improved_performance"`
	ImprovementPercentage   float64    `json:"improvement_percentage"`
	StatisticalSignificance float64    `json:"statistical_significance"`
	ConfidenceScore         float64    `json:"confidence_score"`
	SampleSize              int        `json:"sample_size"`
	RolloutStrategy         string     `json:"rollout_strategy"`
	Successful              bool       `json:"successful"`
	Applied                 bool       `json:"applied"`
	AppliedPromptID         *uint      `json:"applied_prompt_id,omitempty"`
	OptimizedPrompt         string     `json:"optimized_prompt"`
	Weaknesses              []Weakness `json:"weaknesses"`
	CreatedAt               time.Time  `json:"created_at"`
	AppliedAt               *time.Time `json:"applied_at,omitempty"`
}

// NewOptimizationResult maps a stored optimization run to its result.
func NewOptimizationResult(run models.OptimizationRun) PromptOptimizationResult {
	weaknesses := []Weakness{}
	if len(run.Weaknesses) > 0 {
		_ = json.Unmarshal(run.Weaknesses, &weaknesses)
	}
	return PromptOptimizationResult{
		OptimizationID:          run.ID,
		PromptID:                run.PromptID,
		Task:                    run.Task,
		TargetMetric:            run.TargetMetric,
		BaselinePerformance:     run.BaselineValue,
		ImprovedPerformance:     run.ImprovedValue,
		ImprovementPercentage:   run.ImprovementPercent,
		StatisticalSignificance: run.Significance,
		ConfidenceScore:         run.ConfidenceScore,
		SampleSize:              run.SampleSize,
		RolloutStrategy:         run.RolloutStrategy,
		Successful:              run.Successful,
		Applied:                 run.Applied,
		AppliedPromptID:         run.AppliedPromptID,
		OptimizedPrompt:         run.OptimizedPrompt,
		Weaknesses:              weaknesses,
		CreatedAt:               run.CreatedAt,
		AppliedAt:               run.AppliedAt,
	}
}

// Insight kinds and priorities.
const (
	InsightPattern     = "pattern"
	InsightTrend       = "trend"
	InsightAnomaly     = "anomaly"
	InsightCorrelation = "correlation"

	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// LearningInsight is an observation derived from aggregate execution feedback.
type LearningInsight struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Priority        string    `json:"priority"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Task            string    `json:"task,omitempty"`
	PromptID        uint      `json:"prompt_id,omitempty"`
	Metric          string    `json:"metric,omitempty"`
	Value           float64   `json:"value"`
	Recommendations []string  `json:"recommendations"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// BenchmarkPoint is one point of the optimization trend series.
type BenchmarkPoint struct {
	OptimizationID string    `json:"optimization_id"`
	Timestamp      time.Time `json:"timestamp"`
	Value          float64   `json:"value"`
}

// OptimizationBenchmarks summarises optimization history.
type OptimizationBenchmarks struct {
	TotalOptimizations          int                        `json:"total_optimizations"`
	SuccessfulOptimizations     int                        `json:"successful_optimizations"`
	SuccessRate                 float64                    `json:"success_rate"`
	AverageImprovement          float64                    `json:"average_improvement"`
	BestPerformingOptimizations []PromptOptimizationResult `json:"best_performing_optimizations"`
	OptimizationTrends          []BenchmarkPoint           `json:"optimization_trends"`
	CacheHit                    bool                       `json:"cache_hit"`
}

// PromptEvolutionEntry is one step of a prompt's evolution history.
type PromptEvolutionEntry struct {
	PromptID        uint      `json:"prompt_id"`
	Version         int       `json:"version"`
	OptimizationID  string    `json:"optimization_id,omitempty"`
	Event           string    `json:"event"`
	Score           float64   `json:"score"`
	RolloutStrategy string    `json:"rollout_strategy,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
