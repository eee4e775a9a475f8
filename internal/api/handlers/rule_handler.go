package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

type RuleHandler struct {
	rules storage.RuleStore
}

func NewRuleHandler(rules storage.RuleStore) *RuleHandler {
	return &RuleHandler{rules: rules}
}

type ruleRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	BasePriority string   `json:"base_priority"`
	Channels     []string `json:"channels"`
	Subscribers  []string `json:"subscribers"`
	Active       *bool    `json:"active"`

	Condition struct {
		Type          string  `json:"type"`
		Metric        string  `json:"metric"`
		Operator      string  `json:"operator"`
		Value         float64 `json:"value"`
		TimeWindowSec int64   `json:"time_window_sec"`
		Aggregation   string  `json:"aggregation"`
		EntityID      string  `json:"entity_id"`
		EventCategory string  `json:"event_category"`
		LookbackSec   int64   `json:"lookback_sec"`
		MinConfidence float64 `json:"min_confidence"`
		MinRiskScore  float64 `json:"min_risk_score"`
	} `json:"condition"`

	Threshold struct {
		Warning            float64  `json:"warning"`
		Critical           float64  `json:"critical"`
		Emergency          *float64 `json:"emergency"`
		SuppressionMinutes int      `json:"suppression_minutes"`
	} `json:"threshold"`

	Frequency struct {
		Mode             string `json:"mode"`
		IntervalSec      int64  `json:"interval_sec"`
		QuietHoursStart  int    `json:"quiet_hours_start"`
		QuietHoursEnd    int    `json:"quiet_hours_end"`
		MaxAlertsPerHour int    `json:"max_alerts_per_hour"`
	} `json:"frequency"`
}

func (r *ruleRequest) toModel(id string, createdAt time.Time) *models.AlertRule {
	channels := make([]models.Channel, 0, len(r.Channels))
	for _, ch := range r.Channels {
		channels = append(channels, models.Channel(ch))
	}

	active := true
	if r.Active != nil {
		active = *r.Active
	}

	return &models.AlertRule{
		ID:           id,
		Name:         r.Name,
		Description:  r.Description,
		Category:     models.AlertCategory(r.Category),
		BasePriority: models.Priority(r.BasePriority),
		Condition: models.Condition{
			Type:          models.ConditionType(r.Condition.Type),
			Metric:        r.Condition.Metric,
			Operator:      models.Operator(r.Condition.Operator),
			Value:         r.Condition.Value,
			TimeWindow:    time.Duration(r.Condition.TimeWindowSec) * time.Second,
			Aggregation:   models.Aggregation(r.Condition.Aggregation),
			EntityID:      r.Condition.EntityID,
			EventCategory: models.ChangeCategory(r.Condition.EventCategory),
			Lookback:      time.Duration(r.Condition.LookbackSec) * time.Second,
			MinConfidence: r.Condition.MinConfidence,
			MinRiskScore:  r.Condition.MinRiskScore,
		},
		Threshold: models.Threshold{
			Warning:            r.Threshold.Warning,
			Critical:           r.Threshold.Critical,
			Emergency:          r.Threshold.Emergency,
			SuppressionMinutes: r.Threshold.SuppressionMinutes,
		},
		Frequency: models.Frequency{
			Mode:             models.FrequencyMode(r.Frequency.Mode),
			Interval:         time.Duration(r.Frequency.IntervalSec) * time.Second,
			QuietHoursStart:  r.Frequency.QuietHoursStart,
			QuietHoursEnd:    r.Frequency.QuietHoursEnd,
			MaxAlertsPerHour: r.Frequency.MaxAlertsPerHour,
		},
		Channels:    channels,
		Subscribers: r.Subscribers,
		Active:      active,
		CreatedAt:   createdAt,
	}
}

func (h *RuleHandler) CreateRule(c *fiber.Ctx) error {
	var req ruleRequest
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
	if req.Condition.Type == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "condition.type is required",
		})
	}

	rule := req.toModel(uuid.NewString(), time.Now())
	if err := h.rules.CreateRule(c.Context(), rule); err != nil {
		logger.Error("Failed to create rule", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create rule",
		})
	}

	logger.Info("Alert rule created", zap.String("rule_id", rule.ID), zap.String("name", rule.Name))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": rule.ID,
	})
}

func (h *RuleHandler) ListRules(c *fiber.Ctx) error {
	active, err := h.rules.ActiveRules(c.Context())
	if err != nil {
		logger.Error("Failed to list rules", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list rules",
		})
	}

	return c.JSON(fiber.Map{
		"rules": active,
		"count": len(active),
	})
}

func (h *RuleHandler) UpdateRule(c *fiber.Ctx) error {
	ruleID := c.Params("id")
	if ruleID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "rule id is required",
		})
	}

	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	rule := req.toModel(ruleID, time.Now())
	if err := h.rules.UpdateRule(c.Context(), rule); err != nil {
		logger.Error("Failed to update rule", zap.String("rule_id", ruleID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update rule",
		})
	}

	return c.JSON(fiber.Map{
		"status": "updated",
	})
}
