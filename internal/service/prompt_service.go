package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/design-quality-api/internal/dto"
	"github.com/noah-isme/design-quality-api/internal/models"
	"github.com/noah-isme/design-quality-api/internal/repository"
)

// PromptService manages prompt versions.
type PromptService interface {
	Create(ctx context.Context, payload dto.PromptCreateRequest) (dto.PromptResponse, error)
	Get(ctx context.Context, id uint) (dto.PromptResponse, error)
	List(ctx context.Context, task string) ([]dto.PromptResponse, error)
	Activate(ctx context.Context, id uint) (dto.PromptResponse, error)
}

type promptService struct {
	prompts   repository.PromptRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewPromptService constructs a prompt service.
func NewPromptService(prompts repository.PromptRepository, validate *validator.Validate, logger zerolog.Logger) PromptService {
	return &promptService{
		prompts:   prompts,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "prompt_service").Logger(),
	}
}

func (s *promptService) Create(ctx context.Context, payload dto.PromptCreateRequest) (dto.PromptResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.PromptResponse{}, err
	}

	task := strings.TrimSpace(payload.Task)
	if payload.ParentID != nil {
		parent, err := s.prompts.GetByID(ctx, *payload.ParentID)
		if err != nil {
			return dto.PromptResponse{}, translatePromptError(err)
		}
		if parent.Task != task {
			return dto.PromptResponse{}, ErrPromptTaskMismatch
		}
	}

	prompt := models.AIPrompt{
		Task:     task,
		Name:     strings.TrimSpace(s.sanitizer.Sanitize(payload.Name)),
		Content:  payload.Content,
		ParentID: payload.ParentID,
	}
	if err := s.prompts.CreateVersion(ctx, &prompt); err != nil {
		return dto.PromptResponse{}, err
	}

	if payload.Activate {
		activated, err := s.prompts.Activate(ctx, prompt.ID)
		if err != nil {
			return dto.PromptResponse{}, err
		}
		prompt = activated
	}

	s.logger.Info().Str("task", prompt.Task).Int("version", prompt.Version).Bool("active", prompt.IsActive).Msg("prompt version created")
	return dto.NewPromptResponse(prompt), nil
}

func (s *promptService) Get(ctx context.Context, id uint) (dto.PromptResponse, error) {
	prompt, err := s.prompts.GetByID(ctx, id)
	if err != nil {
		return dto.PromptResponse{}, translatePromptError(err)
	}
	return dto.NewPromptResponse(prompt), nil
}

func (s *promptService) List(ctx context.Context, task string) ([]dto.PromptResponse, error) {
	prompts, err := s.prompts.ListByTask(ctx, strings.TrimSpace(task))
	if err != nil {
		return nil, err
	}
	return dto.NewPromptResponseSlice(prompts), nil
}

func (s *promptService) Activate(ctx context.Context, id uint) (dto.PromptResponse, error) {
	prompt, err := s.prompts.Activate(ctx, id)
	if err != nil {
		return dto.PromptResponse{}, translatePromptError(err)
	}
	s.logger.Info().Uint("prompt_id", prompt.ID).Str("task", prompt.Task).Msg("prompt version activated")
	return dto.NewPromptResponse(prompt), nil
}

func translatePromptError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPromptNotFound
	}
	return err
}
