package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/design-quality-api/internal/dto"
	"github.com/noah-isme/design-quality-api/internal/service"
	"github.com/noah-isme/design-quality-api/internal/utils"
)

// DatasetHandler exposes validation dataset endpoints.
type DatasetHandler struct {
	datasets   service.DatasetService
	executions service.TestExecutionService
	logger     zerolog.Logger
}

// NewDatasetHandler constructs the handler.
func NewDatasetHandler(datasets service.DatasetService, executions service.TestExecutionService, logger zerolog.Logger) *DatasetHandler {
	return &DatasetHandler{
		datasets:   datasets,
		executions: executions,
		logger:     logger.With().Str("component", "dataset_handler").Logger(),
	}
}

// Register attaches dataset endpoints. Creation runs behind the admin guards.
func (h *DatasetHandler) Register(router fiber.Router, admin ...fiber.Handler) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("/:id/run", h.run)
	router.Post("", guarded(admin, h.create)...)
}

func (h *DatasetHandler) list(c *fiber.Ctx) error {
	datasets, err := h.datasets.List(c.UserContext(), c.Query("task"))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "datasets retrieved", datasets)
}

func (h *DatasetHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	dataset, err := h.datasets.Get(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "dataset retrieved", dataset)
}

func (h *DatasetHandler) create(c *fiber.Ctx) error {
	var payload dto.DatasetCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	dataset, err := h.datasets.Create(c.UserContext(), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendCreated(c, "dataset created", dataset)
}

func (h *DatasetHandler) run(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.DatasetRunRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.executions.RunDataset(c.UserContext(), id, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendCreated(c, "dataset run recorded", result)
}
