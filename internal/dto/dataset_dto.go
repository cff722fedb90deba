package dto

import (
	"time"

	"github.com/noah-isme/design-quality-api/internal/models"
	"github.com/noah-isme/design-quality-api/pkg/metrics"
)

// TestCasePayload describes one dataset test case.
type TestCasePayload struct {
	Name             string                 `json:"name" validate:"omitempty,max=255"`
	InputData        map[string]interface{} `json:"input_data"`
	ExpectedSections []metrics.Section      `json:"expected_sections"`
}

// DatasetCreateRequest captures a new validation dataset.
type DatasetCreateRequest struct {
	Task        string            `json:"task" validate:"required,max=120"`
	Name        string            `json:"name" validate:"required,max=255"`
	Version     string            `json:"version" validate:"omitempty,max=32"`
	Description string            `json:"description" validate:"omitempty,max=5000"`
	TestCases   []TestCasePayload `json:"test_cases" validate:"required,min=1,dive"`
}

// TestCaseResponse describes a stored test case.
type TestCaseResponse struct {
	ID               uint                   `json:"id"`
	Name             string                 `json:"name"`
	InputData        map[string]interface{} `json:"input_data"`
	ExpectedSections []metrics.Section      `json:"expected_sections"`
}

// DatasetResponse describes a validation dataset.
type DatasetResponse struct {
	ID          uint               `json:"id"`
	Task        string             `json:"task"`
	Name        string             `json:"name"`
	Version     string             `json:"version"`
	Description string             `json:"description"`
	TestCases   []TestCaseResponse `json:"test_cases"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewDatasetResponse maps a dataset model to its response.
func NewDatasetResponse(dataset models.ValidationDataset) DatasetResponse {
	cases := make([]TestCaseResponse, 0, len(dataset.TestCases))
	for _, testCase := range dataset.TestCases {
		expected := testCase.Expected()
		if expected == nil {
			expected = []metrics.Section{}
		}
		cases = append(cases, TestCaseResponse{
			ID:               testCase.ID,
			Name:             testCase.Name,
			InputData:        map[string]interface{}(testCase.InputData),
			ExpectedSections: expected,
		})
	}

	return DatasetResponse{
		ID:          dataset.ID,
		Task:        dataset.Task,
		Name:        dataset.Name,
		Version:     dataset.Version,
		Description: dataset.Description,
		TestCases:   cases,
		CreatedAt:   dataset.CreatedAt,
	}
}

// DatasetCaseResult carries pipeline output for one test case of a dataset run.
type DatasetCaseResult struct {
	TestCaseID       uint              `json:"test_case_id" validate:"required,gt=0"`
	Predictions      []metrics.Section `json:"predictions"`
	ProcessingTimeMs float64           `json:"processing_time_ms"`
	TokensUsed       *int              `json:"tokens_used" validate:"omitempty,gte=0"`
	EstimatedCostUSD *float64          `json:"estimated_cost_usd" validate:"omitempty,gte=0"`
	Error            string            `json:"error"`
}

// DatasetRunRequest scores a prompt's output for every case of a dataset.
type DatasetRunRequest struct {
	PromptID       uint                `json:"prompt_id" validate:"required,gt=0"`
	Results        []DatasetCaseResult `json:"results" validate:"required,min=1,dive"`
	MatchThreshold *float64            `json:"match_threshold" validate:"omitempty,gte=0,lte=1"`
	MatchByType    bool                `json:"match_by_type"`
}

// DatasetRunResponse contains the recorded executions and their aggregate.
type DatasetRunResponse struct {
	DatasetID  uint                    `json:"dataset_id"`
	PromptID   uint                    `json:"prompt_id"`
	Executions []TestExecutionResponse `json:"executions"`
	Aggregate  metrics.DetectionKPIs   `json:"aggregate"`
}
