package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/analytics"
	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

type AlertHandler struct {
	alerts storage.AlertStore
	stats  *analytics.Aggregator
}

func NewAlertHandler(alerts storage.AlertStore, stats *analytics.Aggregator) *AlertHandler {
	return &AlertHandler{
		alerts: alerts,
		stats:  stats,
	}
}

func (h *AlertHandler) ListAlerts(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	alerts, err := h.alerts.ListAlerts(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to list alerts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list alerts",
		})
	}

	return c.JSON(fiber.Map{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *AlertHandler) GetAlert(c *fiber.Ctx) error {
	alertID := c.Params("id")

	alert, err := h.alerts.GetAlert(c.Context(), alertID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Alert not found",
			})
		}
		logger.Error("Failed to get alert", zap.String("alert_id", alertID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get alert",
		})
	}

	return c.JSON(alert)
}

func (h *AlertHandler) AcknowledgeAlert(c *fiber.Ctx) error {
	alertID := c.Params("id")

	alert, err := h.alerts.GetAlert(c.Context(), alertID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Alert not found",
			})
		}
		logger.Error("Failed to load alert", zap.String("alert_id", alertID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load alert",
		})
	}

	// Status moves forward only: pending -> sent -> acknowledged, or -> failed.
	// Only a sent alert can be acknowledged; failed is terminal.
	if alert.Status != models.AlertSent {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  "Alert cannot be acknowledged in its current status",
			"status": alert.Status,
		})
	}

	if err := h.alerts.UpdateAlertStatus(c.Context(), alertID, models.AlertAcknowledged, time.Now()); err != nil {
		logger.Error("Failed to acknowledge alert", zap.String("alert_id", alertID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to acknowledge alert",
		})
	}

	logger.Info("Alert acknowledged", zap.String("alert_id", alertID))

	return c.JSON(fiber.Map{
		"status": "acknowledged",
	})
}

func (h *AlertHandler) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.stats.Snapshot())
}
