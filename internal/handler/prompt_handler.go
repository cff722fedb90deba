package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/design-quality-api/internal/dto"
	"github.com/noah-isme/design-quality-api/internal/service"
	"github.com/noah-isme/design-quality-api/internal/utils"
)

// PromptHandler manages prompt version endpoints.
type PromptHandler struct {
	prompts       service.PromptService
	optimizations service.OptimizationService
	logger        zerolog.Logger
}

// NewPromptHandler constructs the handler.
func NewPromptHandler(prompts service.PromptService, optimizations service.OptimizationService, logger zerolog.Logger) *PromptHandler {
	return &PromptHandler{
		prompts:       prompts,
		optimizations: optimizations,
		logger:        logger.With().Str("component", "prompt_handler").Logger(),
	}
}

// Register attaches prompt endpoints. Mutations run behind the admin guards.
func (h *PromptHandler) Register(router fiber.Router, admin ...fiber.Handler) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Get("/:id/evolution", h.evolution)
	router.Post("", guarded(admin, h.create)...)
	router.Post("/:id/activate", guarded(admin, h.activate)...)
}

func (h *PromptHandler) list(c *fiber.Ctx) error {
	prompts, err := h.prompts.List(c.UserContext(), c.Query("task"))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "prompts retrieved", prompts)
}

func (h *PromptHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	prompt, err := h.prompts.Get(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "prompt retrieved", prompt)
}

func (h *PromptHandler) create(c *fiber.Ctx) error {
	var payload dto.PromptCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	prompt, err := h.prompts.Create(c.UserContext(), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendCreated(c, "prompt created", prompt)
}

func (h *PromptHandler) activate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	prompt, err := h.prompts.Activate(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "prompt activated", prompt)
}

func (h *PromptHandler) evolution(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	entries, err := h.optimizations.PromptEvolution(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "prompt evolution retrieved", entries)
}
