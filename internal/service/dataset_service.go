package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/design-quality-api/internal/dto"
	"github.com/noah-isme/design-quality-api/internal/models"
	"github.com/noah-isme/design-quality-api/internal/repository"
)

const defaultDatasetVersion = "1.0"

// DatasetService manages validation datasets.
type DatasetService interface {
	Create(ctx context.Context, payload dto.DatasetCreateRequest) (dto.DatasetResponse, error)
	Get(ctx context.Context, id uint) (dto.DatasetResponse, error)
	List(ctx context.Context, task string) ([]dto.DatasetResponse, error)
}

type datasetService struct {
	datasets  repository.DatasetRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewDatasetService constructs a dataset service.
func NewDatasetService(datasets repository.DatasetRepository, validate *validator.Validate, logger zerolog.Logger) DatasetService {
	return &datasetService{
		datasets:  datasets,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "dataset_service").Logger(),
	}
}

func (s *datasetService) Create(ctx context.Context, payload dto.DatasetCreateRequest) (dto.DatasetResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.DatasetResponse{}, err
	}

	name := strings.TrimSpace(s.sanitizer.Sanitize(payload.Name))
	if name == "" {
		return dto.DatasetResponse{}, errors.New("dataset name empty after sanitization")
	}

	version := strings.TrimSpace(payload.Version)
	if version == "" {
		version = defaultDatasetVersion
	}

	dataset := models.ValidationDataset{
		Task:        strings.TrimSpace(payload.Task),
		Name:        name,
		Version:     version,
		Description: strings.TrimSpace(s.sanitizer.Sanitize(payload.Description)),
		TestCases:   make([]models.ValidationTestCase, 0, len(payload.TestCases)),
	}
	for _, item := range payload.TestCases {
		testCase := models.ValidationTestCase{
			Name:      strings.TrimSpace(s.sanitizer.Sanitize(item.Name)),
			InputData: datatypes.JSONMap(item.InputData),
		}
		testCase.SetExpectedSections(item.ExpectedSections)
		dataset.TestCases = append(dataset.TestCases, testCase)
	}

	if err := s.datasets.Create(ctx, &dataset); err != nil {
		return dto.DatasetResponse{}, err
	}

	s.logger.Info().Uint("dataset_id", dataset.ID).Int("test_cases", len(dataset.TestCases)).Msg("validation dataset created")
	return dto.NewDatasetResponse(dataset), nil
}

func (s *datasetService) Get(ctx context.Context, id uint) (dto.DatasetResponse, error) {
	dataset, err := s.datasets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.DatasetResponse{}, ErrDatasetNotFound
		}
		return dto.DatasetResponse{}, err
	}
	return dto.NewDatasetResponse(dataset), nil
}

func (s *datasetService) List(ctx context.Context, task string) ([]dto.DatasetResponse, error) {
	datasets, err := s.datasets.ListByTask(ctx, strings.TrimSpace(task))
	if err != nil {
		return nil, err
	}
	responses := make([]dto.DatasetResponse, 0, len(datasets))
	for _, dataset := range datasets {
		responses = append(responses, dto.NewDatasetResponse(dataset))
	}
	return responses, nil
}
