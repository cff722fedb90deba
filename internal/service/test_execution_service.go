package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/design-quality-api/internal/dto"
	"github.com/noah-isme/design-quality-api/internal/models"
	"github.com/noah-isme/design-quality-api/internal/observability"
	"github.com/noah-isme/design-quality-api/internal/repository"
	"github.com/noah-isme/design-quality-api/pkg/metrics"
)

const datasetScoringConcurrency = 8

// TestExecutionService records pipeline runs and scores them against ground truth.
type TestExecutionService interface {
	Compute(ctx context.Context, payload dto.MetricsComputeRequest) (dto.RunMetricsResponse, error)
	Record(ctx context.Context, payload dto.TestExecutionCreateRequest) (dto.TestExecutionResponse, error)
	RunDataset(ctx context.Context, datasetID uint, payload dto.DatasetRunRequest) (dto.DatasetRunResponse, error)
	Get(ctx context.Context, id uint) (dto.TestExecutionResponse, error)
	ListByPrompt(ctx context.Context, promptID uint, limit int) ([]dto.TestExecutionResponse, error)
	Summary(ctx context.Context, promptID uint) (dto.PromptSummaryResponse, error)
}

// TestExecutionConfig holds scoring defaults.
type TestExecutionConfig struct {
	MatchThreshold float64
}

type testExecutionService struct {
	executions repository.TestExecutionRepository
	prompts    repository.PromptRepository
	datasets   repository.DatasetRepository
	events     EventPublisher
	validator  *validator.Validate
	logger     zerolog.Logger
	tracer     trace.Tracer
	config     TestExecutionConfig
	now        func() time.Time
}

// NewTestExecutionService constructs a test execution service.
func NewTestExecutionService(executions repository.TestExecutionRepository, prompts repository.PromptRepository, datasets repository.DatasetRepository, events EventPublisher, validate *validator.Validate, logger zerolog.Logger, cfg TestExecutionConfig) TestExecutionService {
	if cfg.MatchThreshold <= 0 || cfg.MatchThreshold > 1 {
		cfg.MatchThreshold = metrics.DefaultMatchThreshold
	}
	if events == nil {
		events = noopEventPublisher{}
	}

	return &testExecutionService{
		executions: executions,
		prompts:    prompts,
		datasets:   datasets,
		events:     events,
		validator:  validate,
		logger:     logger.With().Str("component", "test_execution_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/design-quality-api/internal/service/test_execution"),
		config:     cfg,
		now:        time.Now,
	}
}

// scoringInput is the shared shape of single and dataset runs.
type scoringInput struct {
	Predictions               []metrics.Section
	GroundTruth               []metrics.Section
	HasGroundTruth            bool
	ProcessingTimeMs          float64
	TokensUsed                *int
	EstimatedCostUSD          *float64
	AverageConfidenceOverride *float64
	ValidationScore           *float64
	MatchThreshold            *float64
	MatchByType               bool
	Error                     string
}

type scoredRun struct {
	metrics metrics.RunMetrics
	quality float64
}

func (s *testExecutionService) score(input scoringInput) scoredRun {
	base := metrics.ComputeBaseMetrics(metrics.BaseParams{
		Sections:                  input.Predictions,
		ProcessingTimeMs:          input.ProcessingTimeMs,
		TokensUsed:                input.TokensUsed,
		EstimatedCostUSD:          input.EstimatedCostUSD,
		AverageConfidenceOverride: input.AverageConfidenceOverride,
	})

	parts := []metrics.Part{&base}
	if input.HasGroundTruth {
		threshold := s.config.MatchThreshold
		if input.MatchThreshold != nil {
			threshold = *input.MatchThreshold
		}
		kpis := metrics.ComputeValidationKPIs(metrics.ValidationParams{
			Predictions:    input.Predictions,
			GroundTruth:    input.GroundTruth,
			MatchThreshold: &threshold,
			MatchByType:    input.MatchByType,
		})
		parts = append(parts, &kpis)
	}

	run := metrics.Merge(parts...)
	return scoredRun{metrics: run, quality: qualityScore(run, input.ValidationScore, input.Error)}
}

// qualityScore reduces a run to a single 0..1 score used for the prompt's
// rolling performance: F1 when scored, else the validation score, else the
// mean confidence. Failed runs score 0.
func qualityScore(run metrics.RunMetrics, validationScore *float64, runError string) float64 {
	switch {
	case strings.TrimSpace(runError) != "":
		return 0
	case run.KPIs != nil:
		return run.KPIs.F1
	case validationScore != nil:
		return clamp01(*validationScore / 100)
	case run.AverageConfidence != nil:
		return clamp01(*run.AverageConfidence)
	default:
		return 0
	}
}

func (s *testExecutionService) Compute(ctx context.Context, payload dto.MetricsComputeRequest) (dto.RunMetricsResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.RunMetricsResponse{}, err
	}

	scored := s.score(scoringInput{
		Predictions:               payload.Predictions,
		GroundTruth:               payload.GroundTruth,
		HasGroundTruth:            payload.GroundTruth != nil,
		ProcessingTimeMs:          payload.ProcessingTimeMs,
		TokensUsed:                payload.TokensUsed,
		EstimatedCostUSD:          payload.EstimatedCostUSD,
		AverageConfidenceOverride: payload.AverageConfidenceOverride,
		MatchThreshold:            payload.MatchThreshold,
		MatchByType:               payload.MatchByType,
	})
	return dto.NewRunMetricsResponse(scored.metrics), nil
}

func (s *testExecutionService) Record(ctx context.Context, payload dto.TestExecutionCreateRequest) (dto.TestExecutionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TestExecutionResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "executions.record", trace.WithAttributes(
		attribute.Int64("prompt.id", int64(payload.PromptID)),
	))
	defer span.End()

	prompt, err := s.prompts.GetByID(ctx, payload.PromptID)
	if err != nil {
		span.RecordError(err)
		return dto.TestExecutionResponse{}, translatePromptError(err)
	}

	input := scoringInput{
		Predictions:               payload.Predictions,
		GroundTruth:               payload.GroundTruth,
		HasGroundTruth:            payload.GroundTruth != nil,
		ProcessingTimeMs:          payload.ProcessingTimeMs,
		TokensUsed:                payload.TokensUsed,
		EstimatedCostUSD:          payload.EstimatedCostUSD,
		AverageConfidenceOverride: payload.AverageConfidenceOverride,
		ValidationScore:           payload.ValidationScore,
		MatchThreshold:            payload.MatchThreshold,
		MatchByType:               payload.MatchByType,
		Error:                     payload.Error,
	}

	execution := s.newExecution(prompt, input, s.score(input))
	execution.DatasetID = payload.DatasetID
	execution.TestCaseID = payload.TestCaseID
	execution.InputData = datatypes.JSONMap(payload.InputData)

	if err := s.persist(ctx, prompt, &execution); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist_execution_failed")
		return dto.TestExecutionResponse{}, err
	}

	return dto.NewTestExecutionResponse(execution), nil
}

// RunDataset scores a prompt's output for every listed case of a dataset.
// Scoring runs concurrently. Executions are written in request order in a
// single transaction, so a failed write leaves no partial run behind, and
// nothing is written if any result references an unknown test case.
func (s *testExecutionService) RunDataset(ctx context.Context, datasetID uint, payload dto.DatasetRunRequest) (dto.DatasetRunResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.DatasetRunResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "executions.run_dataset", trace.WithAttributes(
		attribute.Int64("dataset.id", int64(datasetID)),
		attribute.Int("dataset.results", len(payload.Results)),
	))
	defer span.End()

	dataset, err := s.datasets.GetByID(ctx, datasetID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.DatasetRunResponse{}, ErrDatasetNotFound
		}
		return dto.DatasetRunResponse{}, err
	}

	prompt, err := s.prompts.GetByID(ctx, payload.PromptID)
	if err != nil {
		span.RecordError(err)
		return dto.DatasetRunResponse{}, translatePromptError(err)
	}

	cases := make(map[uint]models.ValidationTestCase, len(dataset.TestCases))
	for _, testCase := range dataset.TestCases {
		cases[testCase.ID] = testCase
	}
	for _, result := range payload.Results {
		if _, ok := cases[result.TestCaseID]; !ok {
			return dto.DatasetRunResponse{}, ErrTestCaseNotInDataset
		}
	}

	inputs := make([]scoringInput, len(payload.Results))
	scored := make([]scoredRun, len(payload.Results))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(datasetScoringConcurrency)
	for i, result := range payload.Results {
		i, result := i, result
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			inputs[i] = scoringInput{
				Predictions:      result.Predictions,
				GroundTruth:      cases[result.TestCaseID].Expected(),
				HasGroundTruth:   true,
				ProcessingTimeMs: result.ProcessingTimeMs,
				TokensUsed:       result.TokensUsed,
				EstimatedCostUSD: result.EstimatedCostUSD,
				MatchThreshold:   payload.MatchThreshold,
				MatchByType:      payload.MatchByType,
				Error:            result.Error,
			}
			scored[i] = s.score(inputs[i])
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return dto.DatasetRunResponse{}, err
	}

	rows := make([]models.TestExecution, 0, len(payload.Results))
	kpis := make([]metrics.DetectionKPIs, 0, len(payload.Results))
	for i, result := range payload.Results {
		testCase := cases[result.TestCaseID]
		execution := s.newExecution(prompt, inputs[i], scored[i])
		execution.DatasetID = &dataset.ID
		execution.TestCaseID = &testCase.ID
		execution.InputData = testCase.InputData
		rows = append(rows, execution)
		if scored[i].metrics.KPIs != nil {
			kpis = append(kpis, *scored[i].metrics.KPIs)
		}
	}

	if err := s.executions.CreateBatch(ctx, rows); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist_dataset_run_failed")
		return dto.DatasetRunResponse{}, err
	}

	executions := make([]dto.TestExecutionResponse, 0, len(rows))
	for i := range rows {
		s.recorded(ctx, prompt, &rows[i])
		executions = append(executions, dto.NewTestExecutionResponse(rows[i]))
	}

	aggregate := metrics.Aggregate(kpis...)
	s.logger.Info().
		Uint("dataset_id", dataset.ID).
		Uint("prompt_id", prompt.ID).
		Int("executions", len(executions)).
		Float64("f1", aggregate.F1).
		Msg("dataset run recorded")

	return dto.DatasetRunResponse{
		DatasetID:  dataset.ID,
		PromptID:   prompt.ID,
		Executions: executions,
		Aggregate:  aggregate,
	}, nil
}

func (s *testExecutionService) newExecution(prompt models.AIPrompt, input scoringInput, scored scoredRun) models.TestExecution {
	execution := models.TestExecution{
		PromptID:         prompt.ID,
		AIOutput:         models.EncodeSections(input.Predictions),
		ProcessingTimeMs: scored.metrics.ProcessingTimeMs,
		TokensUsed:       input.TokensUsed,
		EstimatedCostUSD: input.EstimatedCostUSD,
		Metrics:          datatypes.JSONMap(scored.metrics.Fields()),
		QualityScore:     scored.quality,
		ValidationScore:  input.ValidationScore,
		Succeeded:        strings.TrimSpace(input.Error) == "",
		Error:            strings.TrimSpace(input.Error),
		CreatedAt:        s.now().UTC(),
	}
	if input.HasGroundTruth {
		execution.GroundTruth = models.EncodeSections(input.GroundTruth)
	}
	return execution
}

func (s *testExecutionService) persist(ctx context.Context, prompt models.AIPrompt, execution *models.TestExecution) error {
	if err := s.executions.Create(ctx, execution); err != nil {
		return err
	}
	s.recorded(ctx, prompt, execution)
	return nil
}

// recorded folds a stored execution into the prompt score, metrics and event stream.
func (s *testExecutionService) recorded(ctx context.Context, prompt models.AIPrompt, execution *models.TestExecution) {
	if err := s.prompts.RecordScore(ctx, prompt.ID, execution.QualityScore); err != nil {
		s.logger.Error().Err(err).Uint("prompt_id", prompt.ID).Msg("failed to update prompt performance score")
	}

	outcome := "succeeded"
	if !execution.Succeeded {
		outcome = "failed"
	}
	observability.ExecutionsRecorded().WithLabelValues(prompt.Task, outcome).Inc()
	if f1, ok := execution.MetricValue("f1"); ok {
		observability.DetectionF1().WithLabelValues(prompt.Task).Observe(f1)
	}
	if iou, ok := execution.MetricValue("avg_iou"); ok {
		observability.DetectionIoU().WithLabelValues(prompt.Task).Observe(iou)
	}

	event := map[string]interface{}{
		"execution_id":  execution.ID,
		"prompt_id":     prompt.ID,
		"task":          prompt.Task,
		"quality_score": execution.QualityScore,
		"recorded_at":   execution.CreatedAt,
	}
	if err := s.events.Publish(ctx, SubjectExecutionRecorded, event); err != nil {
		s.logger.Warn().Err(err).Uint("execution_id", execution.ID).Msg("failed to publish execution event")
	}
}

func (s *testExecutionService) Get(ctx context.Context, id uint) (dto.TestExecutionResponse, error) {
	execution, err := s.executions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.TestExecutionResponse{}, ErrExecutionNotFound
		}
		return dto.TestExecutionResponse{}, err
	}
	return dto.NewTestExecutionResponse(execution), nil
}

func (s *testExecutionService) ListByPrompt(ctx context.Context, promptID uint, limit int) ([]dto.TestExecutionResponse, error) {
	if _, err := s.prompts.GetByID(ctx, promptID); err != nil {
		return nil, translatePromptError(err)
	}

	executions, err := s.executions.List(ctx, repository.ExecutionQuery{PromptID: &promptID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return dto.NewTestExecutionResponseSlice(executions), nil
}

func (s *testExecutionService) Summary(ctx context.Context, promptID uint) (dto.PromptSummaryResponse, error) {
	prompt, err := s.prompts.GetByID(ctx, promptID)
	if err != nil {
		return dto.PromptSummaryResponse{}, translatePromptError(err)
	}

	executions, err := s.executions.List(ctx, repository.ExecutionQuery{PromptID: &promptID})
	if err != nil {
		return dto.PromptSummaryResponse{}, err
	}

	stats := collectFeedback(executions)
	return dto.PromptSummaryResponse{
		PromptID:             prompt.ID,
		Task:                 prompt.Task,
		Version:              prompt.Version,
		Executions:           stats.SampleSize,
		ScoredExecutions:     len(stats.F1),
		FailedExecutions:     stats.Failed,
		MeanPrecision:        valueOr(stats.MeanPrecision, 0),
		MeanRecall:           valueOr(stats.MeanRecall, 0),
		MeanF1:               valueOr(stats.MeanF1, 0),
		MeanAvgIoU:           valueOr(stats.MeanAvgIoU, 0),
		MeanConfidence:       stats.MeanConfidence,
		MeanProcessingTimeMs: valueOr(stats.MeanProcessingTime, 0),
		TotalTokens:          stats.TotalTokens,
		TotalCostUSD:         stats.TotalCostUSD,
		PerformanceScore:     prompt.PerformanceScore,
	}, nil
}
