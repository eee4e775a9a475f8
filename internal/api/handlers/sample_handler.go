package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

// SampleHandler ingests metric samples that feed the threshold and
// trend evaluating rules.
type SampleHandler struct {
	samples storage.MetricSampleStore
}

func NewSampleHandler(samples storage.MetricSampleStore) *SampleHandler {
	return &SampleHandler{samples: samples}
}

func (h *SampleHandler) RecordSample(c *fiber.Ctx) error {
	var req struct {
		Name      string            `json:"name"`
		Value     float64           `json:"value"`
		Tags      map[string]string `json:"tags"`
		Timestamp *time.Time        `json:"timestamp"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	sample := &models.MetricSample{
		Name:      req.Name,
		Value:     req.Value,
		Tags:      req.Tags,
		Timestamp: ts,
	}

	if err := h.samples.RecordSample(c.Context(), sample); err != nil {
		logger.Error("Failed to record metric sample", zap.String("metric", req.Name), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record sample",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": "recorded",
	})
}
