package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/design-quality-api/internal/dto"
	"github.com/noah-isme/design-quality-api/internal/service"
	"github.com/noah-isme/design-quality-api/internal/utils"
)

const defaultExecutionListLimit = 50

// ExecutionHandler exposes metric computation and test execution endpoints.
type ExecutionHandler struct {
	service service.TestExecutionService
	logger  zerolog.Logger
}

// NewExecutionHandler constructs the handler.
func NewExecutionHandler(service service.TestExecutionService, logger zerolog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		service: service,
		logger:  logger.With().Str("component", "execution_handler").Logger(),
	}
}

// Register attaches execution endpoints to the quality group.
func (h *ExecutionHandler) Register(router fiber.Router) {
	router.Post("/metrics/compute", h.compute)
	router.Post("/executions", h.record)
	router.Get("/executions/:id", h.get)
	router.Get("/prompts/:id/executions", h.listByPrompt)
	router.Get("/prompts/:id/summary", h.summary)
}

func (h *ExecutionHandler) compute(c *fiber.Ctx) error {
	var payload dto.MetricsComputeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Compute(c.UserContext(), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "metrics computed", result)
}

func (h *ExecutionHandler) record(c *fiber.Ctx) error {
	var payload dto.TestExecutionCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	execution, err := h.service.Record(c.UserContext(), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendCreated(c, "test execution recorded", execution)
}

func (h *ExecutionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	execution, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "test execution retrieved", execution)
}

func (h *ExecutionHandler) listByPrompt(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil || limit < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	if limit == 0 {
		limit = defaultExecutionListLimit
	}

	executions, err := h.service.ListByPrompt(c.UserContext(), id, limit)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "test executions retrieved", executions)
}

func (h *ExecutionHandler) summary(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	summary, err := h.service.Summary(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "prompt summary retrieved", summary)
}
