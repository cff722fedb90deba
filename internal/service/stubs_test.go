package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/design-quality-api/internal/models"
	"github.com/noah-isme/design-quality-api/internal/repository"
	"github.com/noah-isme/design-quality-api/pkg/ai"
	"github.com/noah-isme/design-quality-api/pkg/metrics"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New()
}

func floatPtr(v float64) *float64 {
	return &v
}

func uintPtr(v uint) *uint {
	return &v
}

func box(x, y, w, h float64) *metrics.BoundingBox {
	return &metrics.BoundingBox{X: x, Y: y, Width: w, Height: h}
}

type promptRepoStub struct {
	mu      sync.Mutex
	prompts map[uint]models.AIPrompt
	nextID  uint
}

func newPromptRepoStub(prompts ...models.AIPrompt) *promptRepoStub {
	stub := &promptRepoStub{prompts: map[uint]models.AIPrompt{}}
	for _, prompt := range prompts {
		stub.prompts[prompt.ID] = prompt
		if prompt.ID > stub.nextID {
			stub.nextID = prompt.ID
		}
	}
	return stub
}

func (p *promptRepoStub) Create(ctx context.Context, prompt *models.AIPrompt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	prompt.ID = p.nextID
	prompt.CreatedAt = time.Now()
	p.prompts[prompt.ID] = *prompt
	return nil
}

func (p *promptRepoStub) Update(ctx context.Context, prompt *models.AIPrompt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts[prompt.ID] = *prompt
	return nil
}

func (p *promptRepoStub) GetByID(ctx context.Context, id uint) (models.AIPrompt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prompt, ok := p.prompts[id]
	if !ok {
		return models.AIPrompt{}, gorm.ErrRecordNotFound
	}
	return prompt, nil
}

func (p *promptRepoStub) GetActive(ctx context.Context, task string) (models.AIPrompt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, prompt := range p.prompts {
		if prompt.Task == task && prompt.IsActive {
			return prompt, nil
		}
	}
	return models.AIPrompt{}, gorm.ErrRecordNotFound
}

func (p *promptRepoStub) ListByTask(ctx context.Context, task string) ([]models.AIPrompt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]models.AIPrompt, 0, len(p.prompts))
	for _, prompt := range p.prompts {
		if task == "" || prompt.Task == task {
			result = append(result, prompt)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (p *promptRepoStub) ListLineage(ctx context.Context, id uint) ([]models.AIPrompt, error) {
	lineage := []models.AIPrompt{}
	current := id
	for {
		prompt, err := p.GetByID(ctx, current)
		if err != nil {
			if len(lineage) > 0 {
				break
			}
			return nil, err
		}
		lineage = append([]models.AIPrompt{prompt}, lineage...)
		if prompt.ParentID == nil {
			break
		}
		current = *prompt.ParentID
	}
	return lineage, nil
}

func (p *promptRepoStub) GetByOptimizationID(ctx context.Context, optimizationID string) (models.AIPrompt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var found *models.AIPrompt
	for _, prompt := range p.prompts {
		if prompt.OptimizationID != optimizationID {
			continue
		}
		if found == nil || prompt.ID < found.ID {
			candidate := prompt
			found = &candidate
		}
	}
	if found == nil {
		return models.AIPrompt{}, gorm.ErrRecordNotFound
	}
	return *found, nil
}

func (p *promptRepoStub) CreateVersion(ctx context.Context, prompt *models.AIPrompt) error {
	p.mu.Lock()
	version := 0
	for _, existing := range p.prompts {
		if existing.Task == prompt.Task && existing.Version > version {
			version = existing.Version
		}
	}
	p.mu.Unlock()
	prompt.Version = version + 1
	return p.Create(ctx, prompt)
}

func (p *promptRepoStub) Activate(ctx context.Context, id uint) (models.AIPrompt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, ok := p.prompts[id]
	if !ok {
		return models.AIPrompt{}, gorm.ErrRecordNotFound
	}
	for key, prompt := range p.prompts {
		if prompt.Task == target.Task {
			prompt.IsActive = prompt.ID == id
			p.prompts[key] = prompt
		}
	}
	return p.prompts[id], nil
}

func (p *promptRepoStub) RecordScore(ctx context.Context, id uint, score float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	prompt, ok := p.prompts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	total := prompt.PerformanceScore*float64(prompt.ExecutionCount) + score
	prompt.ExecutionCount++
	prompt.PerformanceScore = total / float64(prompt.ExecutionCount)
	p.prompts[id] = prompt
	return nil
}

type executionRepoStub struct {
	mu         sync.Mutex
	prompts    *promptRepoStub
	executions []models.TestExecution
	listErr    error
	batchErr   error
}

func (e *executionRepoStub) Create(ctx context.Context, execution *models.TestExecution) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	execution.ID = uint(len(e.executions) + 1)
	e.executions = append(e.executions, *execution)
	return nil
}

func (e *executionRepoStub) CreateBatch(ctx context.Context, executions []models.TestExecution) error {
	if e.batchErr != nil {
		return e.batchErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range executions {
		executions[i].ID = uint(len(e.executions) + 1)
		e.executions = append(e.executions, executions[i])
	}
	return nil
}

func (e *executionRepoStub) GetByID(ctx context.Context, id uint) (models.TestExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, execution := range e.executions {
		if execution.ID == id {
			return execution, nil
		}
	}
	return models.TestExecution{}, gorm.ErrRecordNotFound
}

func (e *executionRepoStub) List(ctx context.Context, query repository.ExecutionQuery) ([]models.TestExecution, error) {
	if e.listErr != nil {
		return nil, e.listErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]models.TestExecution, 0, len(e.executions))
	for _, execution := range e.executions {
		if query.PromptID != nil && execution.PromptID != *query.PromptID {
			continue
		}
		if query.Since != nil && execution.CreatedAt.Before(*query.Since) {
			continue
		}
		if query.Task != "" {
			prompt, err := e.prompts.GetByID(ctx, execution.PromptID)
			if err != nil || prompt.Task != query.Task {
				continue
			}
		}
		result = append(result, execution)
	}
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[len(result)-query.Limit:]
	}
	return result, nil
}

func (e *executionRepoStub) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executions)
}

type datasetRepoStub struct {
	datasets map[uint]models.ValidationDataset
}

func (d *datasetRepoStub) Create(ctx context.Context, dataset *models.ValidationDataset) error {
	if d.datasets == nil {
		d.datasets = map[uint]models.ValidationDataset{}
	}
	dataset.ID = uint(len(d.datasets) + 1)
	for i := range dataset.TestCases {
		dataset.TestCases[i].ID = uint(i + 1)
		dataset.TestCases[i].DatasetID = dataset.ID
	}
	d.datasets[dataset.ID] = *dataset
	return nil
}

func (d *datasetRepoStub) GetByID(ctx context.Context, id uint) (models.ValidationDataset, error) {
	dataset, ok := d.datasets[id]
	if !ok {
		return models.ValidationDataset{}, gorm.ErrRecordNotFound
	}
	return dataset, nil
}

func (d *datasetRepoStub) ListByTask(ctx context.Context, task string) ([]models.ValidationDataset, error) {
	result := []models.ValidationDataset{}
	for _, dataset := range d.datasets {
		if task == "" || dataset.Task == task {
			result = append(result, dataset)
		}
	}
	return result, nil
}

type optimizationRepoStub struct {
	mu        sync.Mutex
	runs      map[string]models.OptimizationRun
	createErr error
	// updateFailures makes the next N Update calls fail with updateErr.
	updateFailures int
	updateErr      error
}

func newOptimizationRepoStub() *optimizationRepoStub {
	return &optimizationRepoStub{runs: map[string]models.OptimizationRun{}}
}

func (o *optimizationRepoStub) Create(ctx context.Context, run *models.OptimizationRun) error {
	if o.createErr != nil {
		return o.createErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs[run.ID] = *run
	return nil
}

func (o *optimizationRepoStub) Update(ctx context.Context, run *models.OptimizationRun) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.updateFailures > 0 {
		o.updateFailures--
		return o.updateErr
	}
	if _, ok := o.runs[run.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	o.runs[run.ID] = *run
	return nil
}

func (o *optimizationRepoStub) List(ctx context.Context) ([]models.OptimizationRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result := make([]models.OptimizationRun, 0, len(o.runs))
	for _, run := range o.runs {
		result = append(result, run)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

type publisherStub struct {
	mu       sync.Mutex
	subjects []string
	payloads []interface{}
	err      error
}

func (p *publisherStub) Publish(ctx context.Context, subject string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return p.err
}

func (p *publisherStub) published(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, s := range p.subjects {
		if s == subject {
			count++
		}
	}
	return count
}

type completerStub struct {
	text  string
	err   error
	calls []ai.CompletionInput
}

func (c *completerStub) Complete(ctx context.Context, input ai.CompletionInput) (ai.CompletionResult, error) {
	c.calls = append(c.calls, input)
	if c.err != nil {
		return ai.CompletionResult{}, c.err
	}
	return ai.CompletionResult{Text: c.text, Model: "stub-model", TokensUsed: 42}, nil
}

var errStubUpstream = errors.New("upstream unavailable")
