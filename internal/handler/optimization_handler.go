package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/design-quality-api/internal/dto"
	"github.com/noah-isme/design-quality-api/internal/service"
	"github.com/noah-isme/design-quality-api/internal/utils"
)

// OptimizationHandler exposes the optimization tracker.
type OptimizationHandler struct {
	service service.OptimizationService
	logger  zerolog.Logger
}

// NewOptimizationHandler constructs the handler.
func NewOptimizationHandler(service service.OptimizationService, logger zerolog.Logger) *OptimizationHandler {
	return &OptimizationHandler{
		service: service,
		logger:  logger.With().Str("component", "optimization_handler").Logger(),
	}
}

// Register attaches optimization endpoints. Optimize and apply run behind the
// admin guards.
func (h *OptimizationHandler) Register(router fiber.Router, admin ...fiber.Handler) {
	router.Get("/benchmarks", h.benchmarks)
	router.Get("/insights", h.insights)
	router.Post("", guarded(admin, h.optimize)...)
	router.Post("/:id/apply", guarded(admin, h.apply)...)
}

func (h *OptimizationHandler) optimize(c *fiber.Ctx) error {
	var payload dto.OptimizationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.OptimizePrompts(c.UserContext(), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendCreated(c, "optimization recorded", result)
}

func (h *OptimizationHandler) apply(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	applied, err := h.service.ImplementAutomaticOptimization(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	message := "optimization applied"
	if !applied {
		message = "optimization not applied"
	}
	return utils.SendSuccess(c, message, fiber.Map{"optimization_id": id, "applied": applied})
}

func (h *OptimizationHandler) benchmarks(c *fiber.Ctx) error {
	benchmarks, err := h.service.GetOptimizationBenchmarks(c.UserContext())
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	if benchmarks.CacheHit {
		c.Set("X-Cache-Hit", "true")
	} else {
		c.Set("X-Cache-Hit", "false")
	}
	return utils.SendSuccess(c, "optimization benchmarks retrieved", benchmarks)
}

func (h *OptimizationHandler) insights(c *fiber.Ctx) error {
	insights, err := h.service.GenerateLearningInsights(c.UserContext())
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "learning insights generated", insights)
}
