package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/internal/pipeline"
	"github.com/cnbv-agent/backend/internal/storage/models"
	"github.com/cnbv-agent/backend/pkg/logger"
)

type QueryHandler struct {
	engine *pipeline.Engine
}

func NewQueryHandler(engine *pipeline.Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query      string `json:"query"`
		MetricHint string `json:"metric_hint"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	response, qerr := h.engine.Process(c.Context(), pipeline.Request{
		Text:       req.Query,
		MetricHint: req.MetricHint,
	})

	if qerr != nil {
		return c.Status(statusFor(qerr.Code)).JSON(fiber.Map{
			"error": qerr,
		})
	}

	return c.JSON(response)
}

// Clarification-class failures are the caller's to fix; internal ones get a
// generic 500 with the details kept in the operator logs.
func statusFor(code models.ErrorCode) int {
	switch code {
	case models.ErrAmbiguousQuery, models.ErrUnsupportedMetric, models.ErrUnsupportedBank:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}
