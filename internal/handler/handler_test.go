package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/design-quality-api/internal/dto"
	"github.com/noah-isme/design-quality-api/internal/handler"
	"github.com/noah-isme/design-quality-api/internal/service"
	"github.com/noah-isme/design-quality-api/pkg/metrics"
)

type envelope[T any] struct {
	Success bool              `json:"success"`
	Data    T                 `json:"data"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

type executionServiceStub struct {
	computeResult dto.RunMetricsResponse
	computeErr    error
	recordErr     error
	getErr        error
	runErr        error
	lastLimit     int
	lastDataset   uint
}

func (s *executionServiceStub) Compute(_ context.Context, _ dto.MetricsComputeRequest) (dto.RunMetricsResponse, error) {
	return s.computeResult, s.computeErr
}

func (s *executionServiceStub) Record(_ context.Context, payload dto.TestExecutionCreateRequest) (dto.TestExecutionResponse, error) {
	if s.recordErr != nil {
		return dto.TestExecutionResponse{}, s.recordErr
	}
	return dto.TestExecutionResponse{ID: 11, PromptID: payload.PromptID}, nil
}

func (s *executionServiceStub) RunDataset(_ context.Context, datasetID uint, payload dto.DatasetRunRequest) (dto.DatasetRunResponse, error) {
	s.lastDataset = datasetID
	if s.runErr != nil {
		return dto.DatasetRunResponse{}, s.runErr
	}
	return dto.DatasetRunResponse{DatasetID: datasetID, PromptID: payload.PromptID}, nil
}

func (s *executionServiceStub) Get(_ context.Context, id uint) (dto.TestExecutionResponse, error) {
	if s.getErr != nil {
		return dto.TestExecutionResponse{}, s.getErr
	}
	return dto.TestExecutionResponse{ID: id}, nil
}

func (s *executionServiceStub) ListByPrompt(_ context.Context, promptID uint, limit int) ([]dto.TestExecutionResponse, error) {
	s.lastLimit = limit
	return []dto.TestExecutionResponse{{ID: 1, PromptID: promptID}}, nil
}

func (s *executionServiceStub) Summary(_ context.Context, promptID uint) (dto.PromptSummaryResponse, error) {
	return dto.PromptSummaryResponse{PromptID: promptID}, nil
}

type promptServiceStub struct {
	activateErr error
}

func (s *promptServiceStub) Create(_ context.Context, payload dto.PromptCreateRequest) (dto.PromptResponse, error) {
	return dto.PromptResponse{ID: 3, Task: payload.Task, Version: 1}, nil
}

func (s *promptServiceStub) Get(_ context.Context, id uint) (dto.PromptResponse, error) {
	return dto.PromptResponse{ID: id}, nil
}

func (s *promptServiceStub) List(_ context.Context, task string) ([]dto.PromptResponse, error) {
	return []dto.PromptResponse{{ID: 1, Task: task}}, nil
}

func (s *promptServiceStub) Activate(_ context.Context, id uint) (dto.PromptResponse, error) {
	if s.activateErr != nil {
		return dto.PromptResponse{}, s.activateErr
	}
	return dto.PromptResponse{ID: id, IsActive: true}, nil
}

type datasetServiceStub struct{}

func (datasetServiceStub) Create(_ context.Context, payload dto.DatasetCreateRequest) (dto.DatasetResponse, error) {
	return dto.DatasetResponse{ID: 4, Task: payload.Task, Name: payload.Name}, nil
}

func (datasetServiceStub) Get(_ context.Context, id uint) (dto.DatasetResponse, error) {
	if id == 404 {
		return dto.DatasetResponse{}, service.ErrDatasetNotFound
	}
	return dto.DatasetResponse{ID: id}, nil
}

func (datasetServiceStub) List(_ context.Context, task string) ([]dto.DatasetResponse, error) {
	return []dto.DatasetResponse{{ID: 1, Task: task}}, nil
}

type optimizationServiceStub struct {
	optimizeErr error
	applied     bool
	applyErr    error
	cacheHit    bool
}

func (s *optimizationServiceStub) OptimizePrompts(_ context.Context, request dto.OptimizationRequest) (dto.PromptOptimizationResult, error) {
	if s.optimizeErr != nil {
		return dto.PromptOptimizationResult{}, s.optimizeErr
	}
	return dto.PromptOptimizationResult{OptimizationID: "opt-1", Task: request.Task, TargetMetric: request.TargetMetric}, nil
}

func (s *optimizationServiceStub) ImplementAutomaticOptimization(_ context.Context, _ string) (bool, error) {
	return s.applied, s.applyErr
}

func (s *optimizationServiceStub) GenerateLearningInsights(context.Context) ([]dto.LearningInsight, error) {
	return []dto.LearningInsight{{ID: "ins-1", Priority: dto.PriorityHigh}}, nil
}

func (s *optimizationServiceStub) GetOptimizationBenchmarks(context.Context) (dto.OptimizationBenchmarks, error) {
	return dto.OptimizationBenchmarks{TotalOptimizations: 2, CacheHit: s.cacheHit}, nil
}

func (s *optimizationServiceStub) PromptEvolution(_ context.Context, promptID uint) ([]dto.PromptEvolutionEntry, error) {
	return []dto.PromptEvolutionEntry{{PromptID: promptID, Version: 1, Event: service.EvolutionVersionCreated}}, nil
}

func (s *optimizationServiceStub) Warm(context.Context) error { return nil }

func (s *optimizationServiceStub) Start(context.Context) {}

func denyAll(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusForbidden)
}

func TestExecutionHandlerCompute(t *testing.T) {
	f1 := 0.75
	stub := &executionServiceStub{computeResult: dto.RunMetricsResponse{SectionsDetected: 2, F1: &f1}}
	app := fiber.New()
	handler.NewExecutionHandler(stub, zerolog.Nop()).Register(app)

	resp := doJSON(t, app, http.MethodPost, "/metrics/compute", dto.MetricsComputeRequest{
		Predictions: []metrics.Section{{Type: "hero"}},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body envelope[dto.RunMetricsResponse]
	decodeResponse(t, resp, &body)
	require.True(t, body.Success)
	require.Equal(t, 2, body.Data.SectionsDetected)
	require.InDelta(t, 0.75, *body.Data.F1, 1e-9)
}

func TestExecutionHandlerRejectsMalformedBody(t *testing.T) {
	app := fiber.New()
	handler.NewExecutionHandler(&executionServiceStub{}, zerolog.Nop()).Register(app)

	resp := doJSON(t, app, http.MethodPost, "/executions", "{not json")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestExecutionHandlerReportsValidationErrors(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	err := validate.Struct(dto.DatasetRunRequest{})
	require.Error(t, err)

	app := fiber.New()
	handler.NewExecutionHandler(&executionServiceStub{recordErr: err}, zerolog.Nop()).Register(app)

	resp := doJSON(t, app, http.MethodPost, "/executions", map[string]interface{}{})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var body envelope[interface{}]
	decodeResponse(t, resp, &body)
	require.False(t, body.Success)
	require.Equal(t, "validation failed", body.Message)
	require.Equal(t, "required", body.Errors["PromptID"])
}

func TestExecutionHandlerErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"not found":     {service.ErrExecutionNotFound, fiber.StatusNotFound},
		"unprocessable": {service.ErrPromptTaskMismatch, fiber.StatusUnprocessableEntity},
		"internal":      {errors.New("boom"), fiber.StatusInternalServerError},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			app := fiber.New()
			handler.NewExecutionHandler(&executionServiceStub{getErr: tc.err}, zerolog.Nop()).Register(app)

			resp := doJSON(t, app, http.MethodGet, "/executions/9", nil)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestExecutionHandlerListLimit(t *testing.T) {
	stub := &executionServiceStub{}
	app := fiber.New()
	handler.NewExecutionHandler(stub, zerolog.Nop()).Register(app)

	resp := doJSON(t, app, http.MethodGet, "/prompts/5/executions", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, 50, stub.lastLimit)

	resp = doJSON(t, app, http.MethodGet, "/prompts/5/executions?limit=5", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, 5, stub.lastLimit)

	resp = doJSON(t, app, http.MethodGet, "/prompts/5/executions?limit=-1", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/prompts/abc/executions", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestPromptHandlerAdminGuards(t *testing.T) {
	app := fiber.New()
	handler.NewPromptHandler(&promptServiceStub{}, &optimizationServiceStub{}, zerolog.Nop()).Register(app.Group("/prompts"), denyAll)

	resp := doJSON(t, app, http.MethodGet, "/prompts?task=landing", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/prompts", dto.PromptCreateRequest{Task: "landing", Content: "find sections"})
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/prompts/2/activate", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestPromptHandlerCreateAndActivate(t *testing.T) {
	stub := &promptServiceStub{}
	app := fiber.New()
	handler.NewPromptHandler(stub, &optimizationServiceStub{}, zerolog.Nop()).Register(app.Group("/prompts"))

	resp := doJSON(t, app, http.MethodPost, "/prompts", dto.PromptCreateRequest{Task: "landing", Content: "find sections"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created envelope[dto.PromptResponse]
	decodeResponse(t, resp, &created)
	require.Equal(t, "landing", created.Data.Task)

	resp = doJSON(t, app, http.MethodPost, "/prompts/2/activate", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	stub.activateErr = service.ErrPromptNotFound
	resp = doJSON(t, app, http.MethodPost, "/prompts/2/activate", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPromptHandlerEvolution(t *testing.T) {
	app := fiber.New()
	handler.NewPromptHandler(&promptServiceStub{}, &optimizationServiceStub{}, zerolog.Nop()).Register(app.Group("/prompts"))

	resp := doJSON(t, app, http.MethodGet, "/prompts/7/evolution", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body envelope[[]dto.PromptEvolutionEntry]
	decodeResponse(t, resp, &body)
	require.Len(t, body.Data, 1)
	require.Equal(t, uint(7), body.Data[0].PromptID)
}

func TestDatasetHandlerRunAndLookup(t *testing.T) {
	executions := &executionServiceStub{}
	app := fiber.New()
	handler.NewDatasetHandler(datasetServiceStub{}, executions, zerolog.Nop()).Register(app.Group("/datasets"))

	resp := doJSON(t, app, http.MethodPost, "/datasets/8/run", dto.DatasetRunRequest{
		PromptID: 2,
		Results:  []dto.DatasetCaseResult{{TestCaseID: 1}},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, uint(8), executions.lastDataset)

	executions.runErr = service.ErrTestCaseNotInDataset
	resp = doJSON(t, app, http.MethodPost, "/datasets/8/run", dto.DatasetRunRequest{PromptID: 2})
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/datasets/404", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/datasets/0", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestOptimizationHandlerOptimize(t *testing.T) {
	stub := &optimizationServiceStub{}
	app := fiber.New()
	handler.NewOptimizationHandler(stub, zerolog.Nop()).Register(app.Group("/optimizations"))

	resp := doJSON(t, app, http.MethodPost, "/optimizations", dto.OptimizationRequest{
		TargetMetric:       dto.TargetF1,
		AnalysisPeriodDays: 7,
		Task:               "landing",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var body envelope[dto.PromptOptimizationResult]
	decodeResponse(t, resp, &body)
	require.Equal(t, "opt-1", body.Data.OptimizationID)

	stub.optimizeErr = service.ErrNoActivePrompt
	resp = doJSON(t, app, http.MethodPost, "/optimizations", dto.OptimizationRequest{})
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	stub.optimizeErr = service.ErrOptimizationScopeRequired
	resp = doJSON(t, app, http.MethodPost, "/optimizations", dto.OptimizationRequest{})
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}

func TestOptimizationHandlerApply(t *testing.T) {
	stub := &optimizationServiceStub{applied: true}
	app := fiber.New()
	handler.NewOptimizationHandler(stub, zerolog.Nop()).Register(app.Group("/optimizations"))

	resp := doJSON(t, app, http.MethodPost, "/optimizations/opt-1/apply", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body envelope[map[string]interface{}]
	decodeResponse(t, resp, &body)
	require.Equal(t, "optimization applied", body.Message)
	require.Equal(t, true, body.Data["applied"])
	require.Equal(t, "opt-1", body.Data["optimization_id"])

	stub.applied = false
	resp = doJSON(t, app, http.MethodPost, "/optimizations/opt-1/apply", nil)
	decodeResponse(t, resp, &body)
	require.Equal(t, "optimization not applied", body.Message)

	stub.applyErr = service.ErrOptimizationNotFound
	resp = doJSON(t, app, http.MethodPost, "/optimizations/missing/apply", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestOptimizationHandlerBenchmarksCacheHeader(t *testing.T) {
	stub := &optimizationServiceStub{}
	app := fiber.New()
	handler.NewOptimizationHandler(stub, zerolog.Nop()).Register(app.Group("/optimizations"))

	resp := doJSON(t, app, http.MethodGet, "/optimizations/benchmarks", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "false", resp.Header.Get("X-Cache-Hit"))

	stub.cacheHit = true
	resp = doJSON(t, app, http.MethodGet, "/optimizations/benchmarks", nil)
	require.Equal(t, "true", resp.Header.Get("X-Cache-Hit"))

	resp = doJSON(t, app, http.MethodGet, "/optimizations/insights", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var insights envelope[[]dto.LearningInsight]
	decodeResponse(t, resp, &insights)
	require.Len(t, insights.Data, 1)
}
