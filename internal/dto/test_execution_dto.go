package dto

import (
	"time"

	"github.com/noah-isme/design-quality-api/internal/models"
	"github.com/noah-isme/design-quality-api/pkg/metrics"
)

// TestExecutionCreateRequest records one pipeline run made with a prompt version.
// A nil GroundTruth means the run is not scored for detection quality.
type TestExecutionCreateRequest struct {
	PromptID                  uint                   `json:"prompt_id" validate:"required,gt=0"`
	DatasetID                 *uint                  `json:"dataset_id" validate:"omitempty,gt=0"`
	TestCaseID                *uint                  `json:"test_case_id" validate:"omitempty,gt=0"`
	InputData                 map[string]interface{} `json:"input_data"`
	Predictions               []metrics.Section      `json:"predictions"`
	GroundTruth               []metrics.Section      `json:"ground_truth"`
	ProcessingTimeMs          float64                `json:"processing_time_ms"`
	TokensUsed                *int                   `json:"tokens_used" validate:"omitempty,gte=0"`
	EstimatedCostUSD          *float64               `json:"estimated_cost_usd" validate:"omitempty,gte=0"`
	AverageConfidenceOverride *float64               `json:"average_confidence_override" validate:"omitempty,gte=0,lte=1"`
	ValidationScore           *float64               `json:"validation_score" validate:"omitempty,gte=0,lte=100"`
	MatchThreshold            *float64               `json:"match_threshold" validate:"omitempty,gte=0,lte=1"`
	MatchByType               bool                   `json:"match_by_type"`
	Error                     string                 `json:"error"`
}

// TestExecutionResponse describes a recorded execution.
type TestExecutionResponse struct {
	ID              uint                   `json:"id"`
	PromptID        uint                   `json:"prompt_id"`
	DatasetID       *uint                  `json:"dataset_id,omitempty"`
	TestCaseID      *uint                  `json:"test_case_id,omitempty"`
	InputData       map[string]interface{} `json:"input_data,omitempty"`
	Predictions     []metrics.Section      `json:"predictions"`
	GroundTruth     []metrics.Section      `json:"ground_truth,omitempty"`
	Metrics         map[string]interface{} `json:"metrics"`
	QualityScore    float64                `json:"quality_score"`
	ValidationScore *float64               `json:"validation_score,omitempty"`
	Succeeded       bool                   `json:"succeeded"`
	Error           string                 `json:"error,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// NewTestExecutionResponse maps an execution model to its response.
func NewTestExecutionResponse(execution models.TestExecution) TestExecutionResponse {
	predictions := execution.Predictions()
	if predictions == nil {
		predictions = []metrics.Section{}
	}
	return TestExecutionResponse{
		ID:              execution.ID,
		PromptID:        execution.PromptID,
		DatasetID:       execution.DatasetID,
		TestCaseID:      execution.TestCaseID,
		InputData:       map[string]interface{}(execution.InputData),
		Predictions:     predictions,
		GroundTruth:     execution.Truth(),
		Metrics:         map[string]interface{}(execution.Metrics),
		QualityScore:    execution.QualityScore,
		ValidationScore: execution.ValidationScore,
		Succeeded:       execution.Succeeded,
		Error:           execution.Error,
		CreatedAt:       execution.CreatedAt,
	}
}

// NewTestExecutionResponseSlice maps a list of executions.
func NewTestExecutionResponseSlice(executions []models.TestExecution) []TestExecutionResponse {
	responses := make([]TestExecutionResponse, 0, len(executions))
	for _, execution := range executions {
		responses = append(responses, NewTestExecutionResponse(execution))
	}
	return responses
}
