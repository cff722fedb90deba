package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/design-quality-api/internal/middleware"
	"github.com/noah-isme/design-quality-api/internal/service"
	"github.com/noah-isme/design-quality-api/internal/utils"
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	parsed, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid identifier")
	}
	return uint(parsed), nil
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := middleware.CorrelationLogger(base, c)
	if c != nil {
		if subject := middleware.Subject(c); subject != "" {
			logger = logger.With().Str("subject", subject).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

// sendServiceError maps service errors onto HTTP responses. Unknown errors
// are logged and reported as 500.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	switch {
	case isValidationError(err):
		return utils.SendValidationError(c, err)
	case errors.Is(err, service.ErrPromptNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "prompt not found")
	case errors.Is(err, service.ErrNoActivePrompt):
		return utils.SendError(c, fiber.StatusNotFound, "no active prompt for task")
	case errors.Is(err, service.ErrDatasetNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "dataset not found")
	case errors.Is(err, service.ErrExecutionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "test execution not found")
	case errors.Is(err, service.ErrOptimizationNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "optimization not found")
	case errors.Is(err, service.ErrPromptTaskMismatch),
		errors.Is(err, service.ErrTestCaseNotInDataset),
		errors.Is(err, service.ErrOptimizationScopeRequired):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	default:
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

// guarded returns a fresh handler chain of the guards followed by h.
func guarded(guards []fiber.Handler, h fiber.Handler) []fiber.Handler {
	chain := make([]fiber.Handler, 0, len(guards)+1)
	chain = append(chain, guards...)
	return append(chain, h)
}
