package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/registry"
	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

type TargetHandler struct {
	registry *registry.Registry
	targets  storage.TargetStore
}

func NewTargetHandler(reg *registry.Registry, targets storage.TargetStore) *TargetHandler {
	return &TargetHandler{
		registry: reg,
		targets:  targets,
	}
}

func (h *TargetHandler) CreateTarget(c *fiber.Ctx) error {
	var req struct {
		Kind           string            `json:"kind"`
		EntityID       string            `json:"entity_id"`
		Query          string            `json:"query"`
		Frequency      string            `json:"frequency"`
		AlertThreshold float64           `json:"alert_threshold"`
		Metadata       map[string]string `json:"metadata"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.EntityID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "entity_id is required",
		})
	}

	targetID, err := h.registry.AddTarget(c.Context(), registry.TargetDescriptor{
		Kind:           models.EntityKind(req.Kind),
		EntityID:       req.EntityID,
		Query:          req.Query,
		Frequency:      models.CheckFrequency(req.Frequency),
		AlertThreshold: req.AlertThreshold,
		Metadata:       req.Metadata,
	})
	if err != nil {
		logger.Error("Failed to create target", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create target",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": targetID,
	})
}

func (h *TargetHandler) ListTargets(c *fiber.Ctx) error {
	targets, err := h.targets.ActiveTargets(c.Context())
	if err != nil {
		logger.Error("Failed to list targets", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list targets",
		})
	}

	return c.JSON(fiber.Map{
		"targets": targets,
		"count":   len(targets),
	})
}

func (h *TargetHandler) DeactivateTarget(c *fiber.Ctx) error {
	targetID := c.Params("id")
	if targetID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "target id is required",
		})
	}

	if err := h.registry.Deactivate(c.Context(), targetID); err != nil {
		logger.Error("Failed to deactivate target", zap.String("target_id", targetID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to deactivate target",
		})
	}

	return c.JSON(fiber.Map{
		"status": "deactivated",
	})
}
