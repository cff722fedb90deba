package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
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
	"github.com/noah-isme/design-quality-api/pkg/ai"
)

const (
	benchmarksCachePrefix  = "optimizations:benchmarks"
	bestPerformingLimit    = 5
	fullConfidenceSamples  = 30
	maxExpectedGain        = 0.5
	severityGainFactor     = 0.25
	significantTrendLevel  = 0.95
	strongCorrelationLevel = 0.5
)

// Weakness thresholds over the analysis window.
const (
	minValidationScore  = 85.0
	minF1               = 0.8
	minConfidence       = 0.7
	maxProcessingTimeMs = 30000.0
	maxErrorRate        = 0.1
)

// Weakness categories.
const (
	WeaknessValidationErrors  = "validation_errors"
	WeaknessDetectionAccuracy = "detection_accuracy"
	WeaknessLowConfidence     = "low_confidence"
	WeaknessSlowProcessing    = "slow_processing"
	WeaknessPipelineErrors    = "pipeline_errors"
)

// Evolution events.
const (
	EvolutionVersionCreated = "version_created"
	EvolutionOptimized      = "optimized"
	EvolutionApplied        = "applied"
	EvolutionActivated      = "activated"
)

// OptimizationService tracks prompt optimizations and the insights learned from execution feedback.
type OptimizationService interface {
	OptimizePrompts(ctx context.Context, request dto.OptimizationRequest) (dto.PromptOptimizationResult, error)
	ImplementAutomaticOptimization(ctx context.Context, id string) (bool, error)
	GenerateLearningInsights(ctx context.Context) ([]dto.LearningInsight, error)
	GetOptimizationBenchmarks(ctx context.Context) (dto.OptimizationBenchmarks, error)
	PromptEvolution(ctx context.Context, promptID uint) ([]dto.PromptEvolutionEntry, error)
	Warm(ctx context.Context) error
	Start(ctx context.Context)
}

// OptimizationConfig tunes the learning sweep and caching.
type OptimizationConfig struct {
	SweepInterval     time.Duration
	BenchmarkCacheTTL time.Duration
	InsightWindowDays int
}

type optimizationService struct {
	prompts    repository.PromptRepository
	executions repository.TestExecutionRepository
	runs       repository.OptimizationRepository
	completer  ai.Completer
	cache      *redis.Client
	events     EventPublisher
	validator  *validator.Validate
	logger     zerolog.Logger
	tracer     trace.Tracer
	config     OptimizationConfig

	mu        sync.RWMutex
	history   map[string]models.OptimizationRun
	insights  map[string]dto.LearningInsight
	evolution map[uint][]dto.PromptEvolutionEntry

	// generation advances on every history change and keys the benchmarks
	// cache, so a result computed from an older history is never served.
	generation     uint64
	cacheNamespace string

	applyMu sync.Mutex

	newID func() string
	now   func() time.Time
}

// NewOptimizationService constructs the optimization tracker. completer, cache
// and events may be nil.
func NewOptimizationService(prompts repository.PromptRepository, executions repository.TestExecutionRepository, runs repository.OptimizationRepository, completer ai.Completer, cache *redis.Client, events EventPublisher, validate *validator.Validate, logger zerolog.Logger, cfg OptimizationConfig) OptimizationService {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.BenchmarkCacheTTL <= 0 {
		cfg.BenchmarkCacheTTL = 5 * time.Minute
	}
	if cfg.InsightWindowDays <= 0 {
		cfg.InsightWindowDays = 7
	}
	if events == nil {
		events = noopEventPublisher{}
	}

	return &optimizationService{
		prompts:        prompts,
		executions:     executions,
		runs:           runs,
		completer:      completer,
		cache:          cache,
		events:         events,
		validator:      validate,
		logger:         logger.With().Str("component", "optimization_service").Logger(),
		tracer:         otel.Tracer("github.com/noah-isme/design-quality-api/internal/service/optimization"),
		config:         cfg,
		history:        make(map[string]models.OptimizationRun),
		insights:       make(map[string]dto.LearningInsight),
		evolution:      make(map[uint][]dto.PromptEvolutionEntry),
		cacheNamespace: uuid.NewString(),
		newID:          func() string { return uuid.NewString() },
		now:            time.Now,
	}
}

// OptimizePrompts analyzes recent feedback for a prompt, identifies its
// weaknesses and records an optimized variant. Exactly one history entry is
// recorded on success and none on error.
func (s *optimizationService) OptimizePrompts(ctx context.Context, request dto.OptimizationRequest) (dto.PromptOptimizationResult, error) {
	if err := s.validator.Struct(request); err != nil {
		return dto.PromptOptimizationResult{}, err
	}
	if request.PromptID == nil && strings.TrimSpace(request.Task) == "" {
		return dto.PromptOptimizationResult{}, ErrOptimizationScopeRequired
	}

	ctx, span := s.tracer.Start(ctx, "optimizations.optimize", trace.WithAttributes(
		attribute.String("optimization.target_metric", request.TargetMetric),
		attribute.Int("optimization.analysis_period_days", request.AnalysisPeriodDays),
	))
	defer span.End()

	prompt, err := s.resolvePrompt(ctx, request)
	if err != nil {
		span.RecordError(err)
		return dto.PromptOptimizationResult{}, err
	}
	span.SetAttributes(attribute.Int64("prompt.id", int64(prompt.ID)))

	stats, source, err := s.analyze(ctx, prompt, request.AnalysisPeriodDays)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analyze_feedback_failed")
		return dto.PromptOptimizationResult{}, err
	}

	weaknesses := filterWeaknesses(identifyWeaknesses(stats), request.FocusAreas, request.ExcludePatterns)

	optimized, details, err := s.synthesize(ctx, prompt, request.TargetMetric, weaknesses)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesize_prompt_failed")
		return dto.PromptOptimizationResult{}, err
	}
	details["baseline_source"] = source

	series := stats.series(request.TargetMetric)
	baseline := valueOr(meanOf(series), 0)
	improved, improvement := expectedImprovement(request.TargetMetric, baseline, weaknesses)
	significance := welchSignificance(series)
	confidence := confidenceScore(stats.SampleSize, significance, len(weaknesses) > 0)

	encoded, err := json.Marshal(weaknesses)
	if err != nil {
		return dto.PromptOptimizationResult{}, fmt.Errorf("encode weaknesses: %w", err)
	}

	run := models.OptimizationRun{
		ID:                 s.newID(),
		PromptID:           prompt.ID,
		Task:               prompt.Task,
		TargetMetric:       request.TargetMetric,
		BaselineValue:      baseline,
		ImprovedValue:      improved,
		ImprovementPercent: improvement,
		Significance:       significance,
		ConfidenceScore:    confidence,
		SampleSize:         stats.SampleSize,
		RolloutStrategy:    rolloutStrategy(confidence, improvement, request.ImprovementThreshold),
		Successful:         len(weaknesses) > 0 && improvement >= request.ImprovementThreshold,
		OptimizedPrompt:    optimized,
		Weaknesses:         datatypes.JSON(encoded),
		Details:            details,
		CreatedAt:          s.now().UTC(),
	}

	if err := s.record(ctx, run); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record_optimization_failed")
		return dto.PromptOptimizationResult{}, err
	}

	span.SetAttributes(
		attribute.String("optimization.id", run.ID),
		attribute.String("optimization.rollout_strategy", run.RolloutStrategy),
		attribute.Bool("optimization.successful", run.Successful),
	)

	return dto.NewOptimizationResult(run), nil
}

func (s *optimizationService) resolvePrompt(ctx context.Context, request dto.OptimizationRequest) (models.AIPrompt, error) {
	task := strings.TrimSpace(request.Task)
	if request.PromptID != nil {
		prompt, err := s.prompts.GetByID(ctx, *request.PromptID)
		if err != nil {
			return models.AIPrompt{}, translatePromptError(err)
		}
		if task != "" && prompt.Task != task {
			return models.AIPrompt{}, ErrPromptTaskMismatch
		}
		return prompt, nil
	}

	prompt, err := s.prompts.GetActive(ctx, task)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.AIPrompt{}, ErrNoActivePrompt
		}
		return models.AIPrompt{}, err
	}
	return prompt, nil
}

// analyze loads the prompt's feedback in the window; when the prompt has no
// executions yet the task-wide feedback is used as baseline.
func (s *optimizationService) analyze(ctx context.Context, prompt models.AIPrompt, days int) (feedbackStats, string, error) {
	since := s.now().UTC().AddDate(0, 0, -days)

	var promptExecutions, taskExecutions []models.TestExecution
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		promptExecutions, err = s.executions.List(groupCtx, repository.ExecutionQuery{PromptID: &prompt.ID, Since: &since})
		return err
	})
	group.Go(func() error {
		var err error
		taskExecutions, err = s.executions.List(groupCtx, repository.ExecutionQuery{Task: prompt.Task, Since: &since})
		return err
	})
	if err := group.Wait(); err != nil {
		return feedbackStats{}, "", err
	}

	if len(promptExecutions) == 0 && len(taskExecutions) > 0 {
		return collectFeedback(taskExecutions), "task", nil
	}
	return collectFeedback(promptExecutions), "prompt", nil
}

func identifyWeaknesses(stats feedbackStats) []dto.Weakness {
	weaknesses := make([]dto.Weakness, 0, 5)

	if stats.MeanValidationScore != nil && *stats.MeanValidationScore < minValidationScore {
		weaknesses = append(weaknesses, dto.Weakness{
			Category:   WeaknessValidationErrors,
			Severity:   clamp01((minValidationScore - *stats.MeanValidationScore) / minValidationScore),
			Evidence:   fmt.Sprintf("average validation score %.1f is below %.0f", *stats.MeanValidationScore, minValidationScore),
			Suggestion: "Describe the expected section schema explicitly and require every field in the output.",
		})
	}
	if stats.MeanF1 != nil && *stats.MeanF1 < minF1 {
		weaknesses = append(weaknesses, dto.Weakness{
			Category:   WeaknessDetectionAccuracy,
			Severity:   clamp01((minF1 - *stats.MeanF1) / minF1),
			Evidence:   fmt.Sprintf("average F1 %.2f is below %.2f", *stats.MeanF1, minF1),
			Suggestion: "Enumerate the section types to detect and describe their visual boundaries.",
		})
	}
	if stats.MeanConfidence != nil && *stats.MeanConfidence < minConfidence {
		weaknesses = append(weaknesses, dto.Weakness{
			Category:   WeaknessLowConfidence,
			Severity:   clamp01((minConfidence - *stats.MeanConfidence) / minConfidence),
			Evidence:   fmt.Sprintf("average confidence %.2f is below %.2f", *stats.MeanConfidence, minConfidence),
			Suggestion: "Ask the model to flag uncertain regions instead of guessing their type.",
		})
	}
	if stats.MeanProcessingTime != nil && *stats.MeanProcessingTime > maxProcessingTimeMs {
		weaknesses = append(weaknesses, dto.Weakness{
			Category:   WeaknessSlowProcessing,
			Severity:   clamp01((*stats.MeanProcessingTime - maxProcessingTimeMs) / maxProcessingTimeMs),
			Evidence:   fmt.Sprintf("average processing time %.0f ms exceeds %.0f ms", *stats.MeanProcessingTime, maxProcessingTimeMs),
			Suggestion: "Shorten the instructions and request a compact output format.",
		})
	}
	if stats.SampleSize > 0 && stats.ErrorRate > maxErrorRate {
		weaknesses = append(weaknesses, dto.Weakness{
			Category:   WeaknessPipelineErrors,
			Severity:   clamp01((stats.ErrorRate - maxErrorRate) / (1 - maxErrorRate)),
			Evidence:   fmt.Sprintf("error rate %.2f exceeds %.2f", stats.ErrorRate, maxErrorRate),
			Suggestion: "Constrain the response to strict JSON that matches the section schema.",
		})
	}

	return weaknesses
}

// filterWeaknesses keeps focus-area categories (all when none are given) and
// drops any weakness whose category or suggestion contains an excluded pattern.
func filterWeaknesses(weaknesses []dto.Weakness, focusAreas, excludePatterns []string) []dto.Weakness {
	focus := make(map[string]struct{}, len(focusAreas))
	for _, area := range focusAreas {
		focus[strings.ToLower(strings.TrimSpace(area))] = struct{}{}
	}

	filtered := make([]dto.Weakness, 0, len(weaknesses))
	for _, weakness := range weaknesses {
		if len(focus) > 0 {
			if _, ok := focus[weakness.Category]; !ok {
				continue
			}
		}
		if matchesAny(weakness, excludePatterns) {
			continue
		}
		filtered = append(filtered, weakness)
	}
	return filtered
}

func matchesAny(weakness dto.Weakness, patterns []string) bool {
	category := strings.ToLower(weakness.Category)
	suggestion := strings.ToLower(weakness.Suggestion)
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if strings.Contains(category, pattern) || strings.Contains(suggestion, pattern) {
			return true
		}
	}
	return false
}

func (s *optimizationService) synthesize(ctx context.Context, prompt models.AIPrompt, target string, weaknesses []dto.Weakness) (string, datatypes.JSONMap, error) {
	details := datatypes.JSONMap{}
	if len(weaknesses) == 0 {
		details["synthesis"] = "unchanged"
		return prompt.Content, details, nil
	}

	categories := make([]string, 0, len(weaknesses))
	suggestions := make([]string, 0, len(weaknesses))
	for _, weakness := range weaknesses {
		categories = append(categories, fmt.Sprintf("%s: %s", weakness.Category, weakness.Evidence))
		suggestions = append(suggestions, weakness.Suggestion)
	}

	if s.completer == nil {
		details["synthesis"] = "rules"
		return appendGuidance(prompt.Content, suggestions), details, nil
	}

	result, err := s.completer.Complete(ctx, ai.CompletionInput{
		Task:         prompt.Task,
		BasePrompt:   prompt.Content,
		Weaknesses:   categories,
		Suggestions:  suggestions,
		TargetMetric: target,
	})
	if err != nil {
		return "", nil, fmt.Errorf("synthesize optimized prompt: %w", err)
	}

	details["synthesis"] = "model"
	details["model"] = result.Model
	details["tokens_used"] = result.TokensUsed
	return result.Text, details, nil
}

func appendGuidance(base string, suggestions []string) string {
	builder := strings.Builder{}
	builder.WriteString(strings.TrimRight(base, "\n"))
	builder.WriteString("\n\nAdditional guidance:\n")
	for _, suggestion := range suggestions {
		builder.WriteString("- ")
		builder.WriteString(suggestion)
		builder.WriteString("\n")
	}
	return builder.String()
}

// expectedImprovement projects the target metric after addressing the
// weaknesses. The projected gain closes part of the gap to the metric's
// ceiling, or cuts processing time, in proportion to total severity.
func expectedImprovement(target string, baseline float64, weaknesses []dto.Weakness) (float64, float64) {
	severity := 0.0
	for _, weakness := range weaknesses {
		severity += weakness.Severity
	}
	gain := math.Min(severity*severityGainFactor, maxExpectedGain)
	if gain <= 0 {
		return baseline, 0
	}

	if target == dto.TargetProcessingTime {
		return baseline * (1 - gain), gain * 100
	}

	ceiling := 1.0
	if target == dto.TargetValidationScore {
		ceiling = 100
	}
	headroom := math.Max(ceiling-baseline, 0)
	improved := baseline + headroom*gain

	switch {
	case baseline > 0:
		return improved, (improved - baseline) / baseline * 100
	case improved > 0:
		return improved, 100
	default:
		return improved, 0
	}
}

func confidenceScore(sampleSize int, significance float64, hasWeaknesses bool) float64 {
	score := 0.6*math.Min(float64(sampleSize)/fullConfidenceSamples, 1) + 0.25*clamp01(significance)
	if hasWeaknesses {
		score += 0.15
	}
	return clamp01(score)
}

func rolloutStrategy(confidence, improvement, threshold float64) string {
	switch {
	case confidence >= 0.9 && improvement >= 2*threshold:
		return models.RolloutImmediate
	case confidence >= 0.75:
		return models.RolloutGradual
	case confidence >= 0.5:
		return models.RolloutABTest
	default:
		return models.RolloutManualReview
	}
}

// record persists the run and then appends it to the in-memory history.
func (s *optimizationService) record(ctx context.Context, run models.OptimizationRun) error {
	if err := s.runs.Create(ctx, &run); err != nil {
		return err
	}

	s.mu.Lock()
	s.history[run.ID] = run
	s.appendEvolutionLocked(run.PromptID, dto.PromptEvolutionEntry{
		PromptID:        run.PromptID,
		OptimizationID:  run.ID,
		Event:           EvolutionOptimized,
		Score:           run.ImprovedValue,
		RolloutStrategy: run.RolloutStrategy,
		Timestamp:       run.CreatedAt,
	})
	stale := s.advanceGenerationLocked()
	s.mu.Unlock()

	observability.OptimizationsTotal().WithLabelValues(run.TargetMetric, run.RolloutStrategy).Inc()
	s.invalidateBenchmarks(ctx, stale)

	if err := s.events.Publish(ctx, SubjectOptimizationRecorded, dto.NewOptimizationResult(run)); err != nil {
		s.logger.Warn().Err(err).Str("optimization_id", run.ID).Msg("failed to publish optimization event")
	}

	s.logger.Info().
		Str("optimization_id", run.ID).
		Uint("prompt_id", run.PromptID).
		Str("target_metric", run.TargetMetric).
		Float64("improvement", run.ImprovementPercent).
		Str("rollout_strategy", run.RolloutStrategy).
		Bool("successful", run.Successful).
		Msg("optimization recorded")
	return nil
}

func (s *optimizationService) appendEvolutionLocked(promptID uint, entry dto.PromptEvolutionEntry) {
	s.evolution[promptID] = append(s.evolution[promptID], entry)
}

// ImplementAutomaticOptimization creates a prompt version from a successful
// optimization and activates it when the rollout is immediate. Applying an
// already applied optimization reports success without further changes, and
// a retry after a failed apply reuses the version created for the optimization.
func (s *optimizationService) ImplementAutomaticOptimization(ctx context.Context, id string) (bool, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.RLock()
	run, ok := s.history[id]
	s.mu.RUnlock()
	if !ok {
		return false, ErrOptimizationNotFound
	}
	if run.Applied {
		return true, nil
	}
	if !run.Successful {
		return false, nil
	}

	ctx, span := s.tracer.Start(ctx, "optimizations.apply", trace.WithAttributes(
		attribute.String("optimization.id", run.ID),
		attribute.String("optimization.rollout_strategy", run.RolloutStrategy),
	))
	defer span.End()

	base, err := s.prompts.GetByID(ctx, run.PromptID)
	if err != nil {
		span.RecordError(err)
		return false, translatePromptError(err)
	}

	candidate, err := s.prompts.GetByOptimizationID(ctx, run.ID)
	switch {
	case err == nil:
		s.logger.Info().Str("optimization_id", run.ID).Uint("prompt_id", candidate.ID).Msg("reusing prompt version from interrupted apply")
	case errors.Is(err, gorm.ErrRecordNotFound):
		parentID := base.ID
		candidate = models.AIPrompt{
			Task:           base.Task,
			Name:           fmt.Sprintf("%s (optimized)", strings.TrimSpace(base.Name)),
			Content:        run.OptimizedPrompt,
			ParentID:       &parentID,
			OptimizationID: run.ID,
		}
		if err := s.prompts.CreateVersion(ctx, &candidate); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create_prompt_version_failed")
			return false, err
		}
	default:
		span.RecordError(err)
		return false, err
	}

	activated := false
	if run.RolloutStrategy == models.RolloutImmediate {
		if _, err := s.prompts.Activate(ctx, candidate.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "activate_prompt_failed")
			return false, err
		}
		activated = true
	}

	appliedAt := s.now().UTC()
	run.Applied = true
	run.AppliedPromptID = &candidate.ID
	run.AppliedAt = &appliedAt
	if err := s.runs.Update(ctx, &run); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update_optimization_failed")
		return false, err
	}

	s.mu.Lock()
	s.history[run.ID] = run
	s.appendEvolutionLocked(candidate.ID, dto.PromptEvolutionEntry{
		PromptID:        candidate.ID,
		Version:         candidate.Version,
		OptimizationID:  run.ID,
		Event:           EvolutionApplied,
		Score:           run.ImprovedValue,
		RolloutStrategy: run.RolloutStrategy,
		Timestamp:       appliedAt,
	})
	if activated {
		s.appendEvolutionLocked(candidate.ID, dto.PromptEvolutionEntry{
			PromptID:        candidate.ID,
			Version:         candidate.Version,
			OptimizationID:  run.ID,
			Event:           EvolutionActivated,
			Score:           run.ImprovedValue,
			RolloutStrategy: run.RolloutStrategy,
			Timestamp:       appliedAt,
		})
	}
	stale := s.advanceGenerationLocked()
	s.mu.Unlock()

	s.invalidateBenchmarks(ctx, stale)
	if err := s.events.Publish(ctx, SubjectOptimizationApplied, dto.NewOptimizationResult(run)); err != nil {
		s.logger.Warn().Err(err).Str("optimization_id", run.ID).Msg("failed to publish optimization applied event")
	}

	s.logger.Info().
		Str("optimization_id", run.ID).
		Uint("prompt_id", candidate.ID).
		Bool("activated", activated).
		Msg("optimization applied")
	return true, nil
}

// GenerateLearningInsights derives insights from execution feedback in the
// insight window and replaces the stored insight set. History is not touched.
func (s *optimizationService) GenerateLearningInsights(ctx context.Context) ([]dto.LearningInsight, error) {
	ctx, span := s.tracer.Start(ctx, "optimizations.insights")
	defer span.End()

	since := s.now().UTC().AddDate(0, 0, -s.config.InsightWindowDays)

	var prompts []models.AIPrompt
	var executions []models.TestExecution
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		prompts, err = s.prompts.ListByTask(groupCtx, "")
		return err
	})
	group.Go(func() error {
		var err error
		executions, err = s.executions.List(groupCtx, repository.ExecutionQuery{Since: &since})
		return err
	})
	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load_feedback_failed")
		return nil, err
	}

	generatedAt := s.now().UTC()
	byPrompt := make(map[uint][]models.TestExecution)
	for _, execution := range executions {
		byPrompt[execution.PromptID] = append(byPrompt[execution.PromptID], execution)
	}

	insights := make([]dto.LearningInsight, 0)
	for _, prompt := range prompts {
		promptExecutions := byPrompt[prompt.ID]
		if len(promptExecutions) == 0 {
			continue
		}
		for _, insight := range promptInsights(prompt, collectFeedback(promptExecutions)) {
			insight.ID = s.newID()
			insight.GeneratedAt = generatedAt
			insights = append(insights, insight)
		}
	}
	if insight, ok := latencyCorrelationInsight(executions); ok {
		insight.ID = s.newID()
		insight.GeneratedAt = generatedAt
		insights = append(insights, insight)
	}

	sort.SliceStable(insights, func(i, j int) bool {
		return priorityRank(insights[i].Priority) > priorityRank(insights[j].Priority)
	})

	stored := make(map[string]dto.LearningInsight, len(insights))
	for _, insight := range insights {
		stored[insight.ID] = insight
		observability.InsightsGenerated().WithLabelValues(insight.Priority).Inc()
	}
	s.mu.Lock()
	s.insights = stored
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("insights.count", len(insights)))
	return insights, nil
}

func promptInsights(prompt models.AIPrompt, stats feedbackStats) []dto.LearningInsight {
	insights := make([]dto.LearningInsight, 0, 3)

	if stats.ErrorRate > maxErrorRate {
		priority := dto.PriorityHigh
		if stats.ErrorRate >= 2.5*maxErrorRate {
			priority = dto.PriorityCritical
		}
		insights = append(insights, dto.LearningInsight{
			Type:        dto.InsightAnomaly,
			Priority:    priority,
			Title:       "Elevated pipeline failure rate",
			Description: fmt.Sprintf("%d of %d runs failed for prompt v%d of %s", stats.Failed, stats.SampleSize, prompt.Version, prompt.Task),
			Task:        prompt.Task,
			PromptID:    prompt.ID,
			Metric:      "error_rate",
			Value:       stats.ErrorRate,
			Recommendations: []string{
				"Inspect failed executions for malformed model output",
				"Constrain the response to strict JSON that matches the section schema",
			},
		})
	}

	if stats.MeanF1 != nil && *stats.MeanF1 < minF1 {
		priority := dto.PriorityMedium
		if *stats.MeanF1 < minF1/2 {
			priority = dto.PriorityHigh
		}
		insights = append(insights, dto.LearningInsight{
			Type:        dto.InsightPattern,
			Priority:    priority,
			Title:       "Detection accuracy below target",
			Description: fmt.Sprintf("mean F1 %.2f over %d scored runs", *stats.MeanF1, len(stats.F1)),
			Task:        prompt.Task,
			PromptID:    prompt.ID,
			Metric:      dto.TargetF1,
			Value:       *stats.MeanF1,
			Recommendations: []string{
				"Run a detection_accuracy optimization for this prompt",
				"Extend the validation dataset with the failing layouts",
			},
		})
	}

	if stats.MeanValidationScore != nil && *stats.MeanValidationScore < minValidationScore {
		insights = append(insights, dto.LearningInsight{
			Type:        dto.InsightPattern,
			Priority:    dto.PriorityMedium,
			Title:       "Validation score below target",
			Description: fmt.Sprintf("mean validation score %.1f", *stats.MeanValidationScore),
			Task:        prompt.Task,
			PromptID:    prompt.ID,
			Metric:      dto.TargetValidationScore,
			Value:       *stats.MeanValidationScore,
			Recommendations: []string{
				"Describe the expected section schema explicitly in the prompt",
			},
		})
	}

	if significance := welchSignificance(stats.QualityScores); significance >= significantTrendLevel {
		delta := trendDelta(stats.QualityScores)
		insight := dto.LearningInsight{
			Type:     dto.InsightTrend,
			Task:     prompt.Task,
			PromptID: prompt.ID,
			Metric:   "quality_score",
			Value:    delta,
		}
		if delta < 0 {
			insight.Priority = dto.PriorityHigh
			insight.Title = "Quality is declining"
			insight.Description = fmt.Sprintf("quality score dropped by %.3f between the earlier and later half of the window", -delta)
			insight.Recommendations = []string{
				"Compare recent inputs with the validation dataset",
				"Consider rolling back to the previous prompt version",
			}
		} else {
			insight.Priority = dto.PriorityLow
			insight.Title = "Quality is improving"
			insight.Description = fmt.Sprintf("quality score rose by %.3f between the earlier and later half of the window", delta)
			insight.Recommendations = []string{"Keep the current prompt version active"}
		}
		insights = append(insights, insight)
	}

	return insights
}

// latencyCorrelationInsight reports a strong relation between processing time and quality.
func latencyCorrelationInsight(executions []models.TestExecution) (dto.LearningInsight, bool) {
	times := make([]float64, 0, len(executions))
	scores := make([]float64, 0, len(executions))
	for _, execution := range executions {
		if !execution.Succeeded {
			continue
		}
		times = append(times, float64(execution.ProcessingTimeMs))
		scores = append(scores, execution.QualityScore)
	}

	r, ok := correlation(times, scores)
	if !ok || math.Abs(r) < strongCorrelationLevel {
		return dto.LearningInsight{}, false
	}

	insight := dto.LearningInsight{
		Type:     dto.InsightCorrelation,
		Priority: dto.PriorityMedium,
		Metric:   "processing_time_ms",
		Value:    r,
	}
	if r > 0 {
		insight.Title = "Slower runs score higher"
		insight.Description = fmt.Sprintf("processing time and quality correlate positively (r=%.2f)", r)
		insight.Recommendations = []string{"Avoid shortening prompts that currently perform well"}
	} else {
		insight.Title = "Slower runs score lower"
		insight.Description = fmt.Sprintf("processing time and quality correlate negatively (r=%.2f)", r)
		insight.Recommendations = []string{
			"Investigate long-running executions for retries or oversized inputs",
			"Run a processing_time optimization for the slowest prompts",
		}
	}
	return insight, true
}

func trendDelta(series []float64) float64 {
	half := len(series) / 2
	if half == 0 {
		return 0
	}
	return valueOr(meanOf(series[half:]), 0) - valueOr(meanOf(series[:half]), 0)
}

func priorityRank(priority string) int {
	switch priority {
	case dto.PriorityCritical:
		return 3
	case dto.PriorityHigh:
		return 2
	case dto.PriorityMedium:
		return 1
	default:
		return 0
	}
}

// GetOptimizationBenchmarks aggregates optimization history. Results are
// cached until the next recorded or applied optimization.
func (s *optimizationService) GetOptimizationBenchmarks(ctx context.Context) (dto.OptimizationBenchmarks, error) {
	ctx, span := s.tracer.Start(ctx, "optimizations.benchmarks")
	defer span.End()

	s.mu.RLock()
	current := s.generation
	s.mu.RUnlock()
	span.SetAttributes(attribute.String("benchmarks.cache_key", s.benchmarksKey(current)))

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, s.benchmarksKey(current)).Result()
		if err == nil {
			var response dto.OptimizationBenchmarks
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				response.CacheHit = true
				span.SetAttributes(attribute.Bool("benchmarks.cache_hit", true))
				return response, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read benchmarks cache")
			span.RecordError(err)
		}
	}

	runs, generation := s.snapshot()
	benchmarks := buildBenchmarks(runs)

	if s.cache != nil {
		payload, err := json.Marshal(benchmarks)
		if err == nil {
			if err := s.cache.Set(ctx, s.benchmarksKey(generation), payload, s.config.BenchmarkCacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store benchmarks cache")
				span.RecordError(err)
			}
		}
	}

	return benchmarks, nil
}

func buildBenchmarks(runs []models.OptimizationRun) dto.OptimizationBenchmarks {
	benchmarks := dto.OptimizationBenchmarks{
		TotalOptimizations:          len(runs),
		BestPerformingOptimizations: []dto.PromptOptimizationResult{},
		OptimizationTrends:          make([]dto.BenchmarkPoint, 0, len(runs)),
	}

	successful := make([]models.OptimizationRun, 0, len(runs))
	improvementSum := 0.0
	for _, run := range runs {
		benchmarks.OptimizationTrends = append(benchmarks.OptimizationTrends, dto.BenchmarkPoint{
			OptimizationID: run.ID,
			Timestamp:      run.CreatedAt,
			Value:          run.ImprovementPercent,
		})
		if run.Successful {
			successful = append(successful, run)
			improvementSum += run.ImprovementPercent
		}
	}

	benchmarks.SuccessfulOptimizations = len(successful)
	if len(runs) > 0 {
		benchmarks.SuccessRate = float64(len(successful)) / float64(len(runs))
	}
	if len(successful) > 0 {
		benchmarks.AverageImprovement = improvementSum / float64(len(successful))
	}

	sort.SliceStable(successful, func(i, j int) bool {
		return successful[i].ImprovementPercent > successful[j].ImprovementPercent
	})
	if len(successful) > bestPerformingLimit {
		successful = successful[:bestPerformingLimit]
	}
	for _, run := range successful {
		benchmarks.BestPerformingOptimizations = append(benchmarks.BestPerformingOptimizations, dto.NewOptimizationResult(run))
	}

	return benchmarks
}

// snapshot returns the history ordered by creation time together with the
// generation it was taken at.
func (s *optimizationService) snapshot() ([]models.OptimizationRun, uint64) {
	s.mu.RLock()
	runs := make([]models.OptimizationRun, 0, len(s.history))
	for _, run := range s.history {
		runs = append(runs, run)
	}
	generation := s.generation
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, generation
}

func (s *optimizationService) benchmarksKey(generation uint64) string {
	return fmt.Sprintf("%s:%s:%d", benchmarksCachePrefix, s.cacheNamespace, generation)
}

// advanceGenerationLocked must be called with s.mu held. It returns the
// generation that was current before the change.
func (s *optimizationService) advanceGenerationLocked() uint64 {
	previous := s.generation
	s.generation++
	return previous
}

// invalidateBenchmarks drops the entry cached for a superseded generation.
// Entries written later under that key are unreachable and expire on TTL.
func (s *optimizationService) invalidateBenchmarks(ctx context.Context, generation uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.benchmarksKey(generation)).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate benchmarks cache")
	}
}

// PromptEvolution returns the version lineage of a prompt together with the
// optimization events recorded for each version, oldest first.
func (s *optimizationService) PromptEvolution(ctx context.Context, promptID uint) ([]dto.PromptEvolutionEntry, error) {
	lineage, err := s.prompts.ListLineage(ctx, promptID)
	if err != nil {
		return nil, translatePromptError(err)
	}

	entries := make([]dto.PromptEvolutionEntry, 0, len(lineage))
	s.mu.RLock()
	for _, prompt := range lineage {
		entries = append(entries, dto.PromptEvolutionEntry{
			PromptID:       prompt.ID,
			Version:        prompt.Version,
			OptimizationID: prompt.OptimizationID,
			Event:          EvolutionVersionCreated,
			Score:          prompt.PerformanceScore,
			Timestamp:      prompt.CreatedAt,
		})
		for _, entry := range s.evolution[prompt.ID] {
			entry.Version = prompt.Version
			entries = append(entries, entry)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Warm reloads optimization history from the durable store.
func (s *optimizationService) Warm(ctx context.Context) error {
	runs, err := s.runs.List(ctx)
	if err != nil {
		return err
	}

	history := make(map[string]models.OptimizationRun, len(runs))
	evolution := make(map[uint][]dto.PromptEvolutionEntry)
	for _, run := range runs {
		history[run.ID] = run
		evolution[run.PromptID] = append(evolution[run.PromptID], dto.PromptEvolutionEntry{
			PromptID:        run.PromptID,
			OptimizationID:  run.ID,
			Event:           EvolutionOptimized,
			Score:           run.ImprovedValue,
			RolloutStrategy: run.RolloutStrategy,
			Timestamp:       run.CreatedAt,
		})
		if run.Applied && run.AppliedPromptID != nil {
			timestamp := run.CreatedAt
			if run.AppliedAt != nil {
				timestamp = *run.AppliedAt
			}
			evolution[*run.AppliedPromptID] = append(evolution[*run.AppliedPromptID], dto.PromptEvolutionEntry{
				PromptID:        *run.AppliedPromptID,
				OptimizationID:  run.ID,
				Event:           EvolutionApplied,
				Score:           run.ImprovedValue,
				RolloutStrategy: run.RolloutStrategy,
				Timestamp:       timestamp,
			})
		}
	}

	s.mu.Lock()
	s.history = history
	s.evolution = evolution
	stale := s.advanceGenerationLocked()
	s.mu.Unlock()
	s.invalidateBenchmarks(ctx, stale)

	s.logger.Info().Int("optimizations", len(runs)).Msg("optimization history loaded")
	return nil
}

// Start runs the learning sweep on the configured interval until ctx is done.
func (s *optimizationService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("learning sweep stopped")
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *optimizationService) sweep(ctx context.Context) {
	defer func() {
		if recovered := recover(); recovered != nil {
			observability.SweepFailures().Inc()
			s.logger.Error().Interface("panic", recovered).Msg("learning sweep panicked")
		}
	}()

	insights, err := s.GenerateLearningInsights(ctx)
	if err != nil {
		observability.SweepFailures().Inc()
		s.logger.Error().Err(err).Msg("learning sweep failed")
		return
	}

	for _, insight := range insights {
		if insight.Priority != dto.PriorityCritical {
			continue
		}
		s.logger.Warn().
			Str("insight_id", insight.ID).
			Str("task", insight.Task).
			Uint("prompt_id", insight.PromptID).
			Str("metric", insight.Metric).
			Float64("value", insight.Value).
			Msg(insight.Title)
		if err := s.events.Publish(ctx, SubjectCriticalInsightRaised, insight); err != nil {
			s.logger.Warn().Err(err).Str("insight_id", insight.ID).Msg("failed to publish critical insight")
		}
	}
}
