package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/design-quality-api/internal/dto"
	"github.com/noah-isme/design-quality-api/internal/models"
	"github.com/noah-isme/design-quality-api/pkg/metrics"
)

type executionFixture struct {
	prompts    *promptRepoStub
	executions *executionRepoStub
	datasets   *datasetRepoStub
	events     *publisherStub
	service    TestExecutionService
}

func newExecutionFixture(t *testing.T) executionFixture {
	t.Helper()
	prompts := newPromptRepoStub(models.AIPrompt{ID: 1, Task: "layout_analysis", Version: 1, Content: "Detect sections", IsActive: true})
	executions := &executionRepoStub{prompts: prompts}
	datasets := &datasetRepoStub{}
	events := &publisherStub{}

	svc := NewTestExecutionService(executions, prompts, datasets, events, testValidator(), testLogger(), TestExecutionConfig{})
	svc.(*testExecutionService).now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	return executionFixture{prompts: prompts, executions: executions, datasets: datasets, events: events, service: svc}
}

func TestRecordScoresAgainstGroundTruth(t *testing.T) {
	fx := newExecutionFixture(t)
	tokens := 1200

	resp, err := fx.service.Record(context.Background(), dto.TestExecutionCreateRequest{
		PromptID: 1,
		Predictions: []metrics.Section{
			{Type: "hero", Bounds: box(0, 0, 100, 50), Confidence: floatPtr(0.9)},
			{Type: "footer", Bounds: box(0, 400, 100, 50), Confidence: floatPtr(0.7)},
		},
		GroundTruth: []metrics.Section{
			{Type: "hero", Bounds: box(0, 0, 100, 50)},
			{Type: "footer", Bounds: box(0, 400, 100, 50)},
		},
		ProcessingTimeMs: 1234.7,
		TokensUsed:       &tokens,
	})
	require.NoError(t, err)

	require.True(t, resp.Succeeded)
	require.InDelta(t, 1.0, resp.QualityScore, 1e-9)
	require.Equal(t, int64(1234), resp.Metrics["processing_time_ms"])
	require.Equal(t, 2, resp.Metrics["tp"])
	require.InDelta(t, 0.8, resp.Metrics["average_confidence"].(float64), 1e-9)
	require.Len(t, resp.GroundTruth, 2)

	prompt, err := fx.prompts.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), prompt.ExecutionCount)
	require.InDelta(t, 1.0, prompt.PerformanceScore, 1e-9)
	require.Equal(t, 1, fx.events.published(SubjectExecutionRecorded))
}

func TestRecordWithoutGroundTruthUsesValidationScore(t *testing.T) {
	fx := newExecutionFixture(t)

	resp, err := fx.service.Record(context.Background(), dto.TestExecutionCreateRequest{
		PromptID:        1,
		Predictions:     []metrics.Section{{Type: "hero"}},
		ValidationScore: floatPtr(90),
	})
	require.NoError(t, err)

	require.InDelta(t, 0.9, resp.QualityScore, 1e-9)
	require.NotContains(t, resp.Metrics, "f1")
	require.Nil(t, resp.GroundTruth)
	require.Equal(t, 1, resp.Metrics["sections_detected"])
}

func TestRecordFailedRunScoresZero(t *testing.T) {
	fx := newExecutionFixture(t)

	resp, err := fx.service.Record(context.Background(), dto.TestExecutionCreateRequest{
		PromptID:    1,
		GroundTruth: []metrics.Section{{Bounds: box(0, 0, 10, 10)}},
		Error:       "model returned malformed JSON",
	})
	require.NoError(t, err)

	require.False(t, resp.Succeeded)
	require.Zero(t, resp.QualityScore)
	require.Equal(t, 1, resp.Metrics["fn"])
}

func TestRecordUnknownPromptIsRejected(t *testing.T) {
	fx := newExecutionFixture(t)

	_, err := fx.service.Record(context.Background(), dto.TestExecutionCreateRequest{PromptID: 99})
	require.ErrorIs(t, err, ErrPromptNotFound)
	require.Zero(t, fx.executions.count())
}

func TestRecordValidatesPayload(t *testing.T) {
	fx := newExecutionFixture(t)

	_, err := fx.service.Record(context.Background(), dto.TestExecutionCreateRequest{PromptID: 1, ValidationScore: floatPtr(140)})
	require.Error(t, err)
	require.Zero(t, fx.executions.count())
}

func TestComputeDoesNotPersist(t *testing.T) {
	fx := newExecutionFixture(t)

	resp, err := fx.service.Compute(context.Background(), dto.MetricsComputeRequest{
		Predictions:      []metrics.Section{{Bounds: box(0, 0, 10, 10)}, {Bounds: box(50, 50, 10, 10)}},
		GroundTruth:      []metrics.Section{{Bounds: box(0, 0, 10, 10)}},
		ProcessingTimeMs: -5,
	})
	require.NoError(t, err)

	require.Equal(t, 2, resp.SectionsDetected)
	require.Zero(t, resp.ProcessingTimeMs)
	require.Nil(t, resp.AverageConfidence)
	require.NotNil(t, resp.Precision)
	require.InDelta(t, 0.5, *resp.Precision, 1e-9)
	require.InDelta(t, 1.0, *resp.Recall, 1e-9)
	require.Equal(t, 1, *resp.FP)
	require.Zero(t, fx.executions.count())
}

func TestComputeWithoutGroundTruthOmitsKPIs(t *testing.T) {
	fx := newExecutionFixture(t)

	resp, err := fx.service.Compute(context.Background(), dto.MetricsComputeRequest{
		Predictions: []metrics.Section{{Confidence: floatPtr(0.4)}},
	})
	require.NoError(t, err)
	require.Nil(t, resp.F1)
	require.InDelta(t, 0.4, *resp.AverageConfidence, 1e-9)
}

func seedDataset(t *testing.T, fx executionFixture) models.ValidationDataset {
	t.Helper()
	first := models.ValidationTestCase{Name: "landing", InputData: map[string]interface{}{"image": "landing.png"}}
	first.SetExpectedSections([]metrics.Section{{Type: "hero", Bounds: box(0, 0, 10, 10)}})
	second := models.ValidationTestCase{Name: "pricing"}
	second.SetExpectedSections([]metrics.Section{
		{Type: "hero", Bounds: box(0, 0, 10, 10)},
		{Type: "pricing", Bounds: box(20, 20, 10, 10)},
	})

	dataset := models.ValidationDataset{Task: "layout_analysis", Name: "core", Version: "1.0", TestCases: []models.ValidationTestCase{first, second}}
	require.NoError(t, fx.datasets.Create(context.Background(), &dataset))
	return dataset
}

func TestRunDatasetRecordsEveryCaseAndAggregates(t *testing.T) {
	fx := newExecutionFixture(t)
	dataset := seedDataset(t, fx)

	resp, err := fx.service.RunDataset(context.Background(), dataset.ID, dto.DatasetRunRequest{
		PromptID: 1,
		Results: []dto.DatasetCaseResult{
			{TestCaseID: 1, Predictions: []metrics.Section{{Type: "hero", Bounds: box(0, 0, 10, 10)}}},
			{TestCaseID: 2, Predictions: []metrics.Section{{Type: "hero", Bounds: box(0, 0, 10, 10)}}},
		},
	})
	require.NoError(t, err)

	require.Len(t, resp.Executions, 2)
	require.Equal(t, uint(1), *resp.Executions[0].TestCaseID)
	require.Equal(t, uint(2), *resp.Executions[1].TestCaseID)
	require.Equal(t, "landing.png", resp.Executions[0].InputData["image"])

	require.Equal(t, 2, resp.Aggregate.TP)
	require.Zero(t, resp.Aggregate.FP)
	require.Equal(t, 1, resp.Aggregate.FN)
	require.InDelta(t, 1.0, resp.Aggregate.Precision, 1e-9)
	require.InDelta(t, 2.0/3.0, resp.Aggregate.Recall, 1e-9)
	require.InDelta(t, 0.8, resp.Aggregate.F1, 1e-9)

	prompt, err := fx.prompts.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), prompt.ExecutionCount)
	require.Equal(t, 2, fx.events.published(SubjectExecutionRecorded))
}

func TestRunDatasetRejectsForeignTestCaseBeforeWriting(t *testing.T) {
	fx := newExecutionFixture(t)
	dataset := seedDataset(t, fx)

	_, err := fx.service.RunDataset(context.Background(), dataset.ID, dto.DatasetRunRequest{
		PromptID: 1,
		Results: []dto.DatasetCaseResult{
			{TestCaseID: 1},
			{TestCaseID: 77},
		},
	})
	require.ErrorIs(t, err, ErrTestCaseNotInDataset)
	require.Zero(t, fx.executions.count())
}

func TestRunDatasetLeavesNoTraceWhenWriteFails(t *testing.T) {
	fx := newExecutionFixture(t)
	dataset := seedDataset(t, fx)
	fx.executions.batchErr = errors.New("deadlock detected")

	_, err := fx.service.RunDataset(context.Background(), dataset.ID, dto.DatasetRunRequest{
		PromptID: 1,
		Results: []dto.DatasetCaseResult{
			{TestCaseID: 1, Predictions: []metrics.Section{{Type: "hero", Bounds: box(0, 0, 10, 10)}}},
			{TestCaseID: 2, Predictions: []metrics.Section{{Type: "hero", Bounds: box(0, 0, 10, 10)}}},
		},
	})
	require.Error(t, err)
	require.Zero(t, fx.executions.count())
	require.Zero(t, fx.events.published(SubjectExecutionRecorded))

	prompt, err := fx.prompts.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, prompt.ExecutionCount)
}

func TestRunDatasetUnknownDataset(t *testing.T) {
	fx := newExecutionFixture(t)

	_, err := fx.service.RunDataset(context.Background(), 9, dto.DatasetRunRequest{
		PromptID: 1,
		Results:  []dto.DatasetCaseResult{{TestCaseID: 1}},
	})
	require.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestSummaryAggregatesPromptExecutions(t *testing.T) {
	fx := newExecutionFixture(t)
	ctx := context.Background()
	tokens := 100

	_, err := fx.service.Record(ctx, dto.TestExecutionCreateRequest{
		PromptID:    1,
		Predictions: []metrics.Section{{Bounds: box(0, 0, 10, 10), Confidence: floatPtr(0.6)}},
		GroundTruth: []metrics.Section{{Bounds: box(0, 0, 10, 10)}},
		TokensUsed:  &tokens,
	})
	require.NoError(t, err)
	_, err = fx.service.Record(ctx, dto.TestExecutionCreateRequest{
		PromptID:    1,
		Predictions: []metrics.Section{{Bounds: box(50, 50, 10, 10), Confidence: floatPtr(0.8)}},
		GroundTruth: []metrics.Section{{Bounds: box(0, 0, 10, 10)}},
		TokensUsed:  &tokens,
	})
	require.NoError(t, err)
	_, err = fx.service.Record(ctx, dto.TestExecutionCreateRequest{PromptID: 1, Error: "timeout"})
	require.NoError(t, err)

	summary, err := fx.service.Summary(ctx, 1)
	require.NoError(t, err)

	require.Equal(t, 3, summary.Executions)
	require.Equal(t, 2, summary.ScoredExecutions)
	require.Equal(t, 1, summary.FailedExecutions)
	require.InDelta(t, 0.5, summary.MeanF1, 1e-9)
	require.InDelta(t, 0.7, *summary.MeanConfidence, 1e-9)
	require.Equal(t, 200, summary.TotalTokens)
	require.InDelta(t, 1.0/3.0, summary.PerformanceScore, 1e-9)

	executions, err := fx.service.ListByPrompt(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	require.Equal(t, "timeout", executions[1].Error)

	_, err = fx.service.Summary(ctx, 42)
	require.ErrorIs(t, err, ErrPromptNotFound)
}

func TestGetExecutionNotFound(t *testing.T) {
	fx := newExecutionFixture(t)

	_, err := fx.service.Get(context.Background(), 5)
	require.ErrorIs(t, err, ErrExecutionNotFound)
}
