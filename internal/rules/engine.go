// Package rules evaluates active alert rules against metric data and recent
// change events, and hands triggered rules to the alert factory.
package rules

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/alerts"
	"github.com/marketpulse/backend/internal/metricsource"
	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

// Outcome is the result of evaluating a single rule.
type Outcome string

const (
	OutcomeIdle       Outcome = "idle"
	OutcomeTriggered  Outcome = "triggered"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeInvalid    Outcome = "invalid"
	OutcomeError      Outcome = "error"
)

const defaultTimeWindow = time.Hour

// AlertCreator decouples the engine from the alert factory.
type AlertCreator interface {
	CreateAlert(ctx context.Context, req alerts.CreateRequest) (*models.IntelligentAlert, error)
}

// RateLimiter counts alerts per rule within the current hour. The engine
// fails open when the limiter is unavailable.
type RateLimiter interface {
	IncrAlertCount(ctx context.Context, ruleID string) (int64, error)
	AlertCount(ctx context.Context, ruleID string) (int64, error)
}

type Engine struct {
	rules   storage.RuleStore
	events  storage.ChangeEventStore
	metrics metricsource.Accessor
	factory AlertCreator
	limiter RateLimiter
}

func NewEngine(rules storage.RuleStore, events storage.ChangeEventStore, metrics metricsource.Accessor, factory AlertCreator, limiter RateLimiter) *Engine {
	return &Engine{
		rules:   rules,
		events:  events,
		metrics: metrics,
		factory: factory,
		limiter: limiter,
	}
}

// EvaluateAll runs one evaluation pass over every active rule. A failing rule
// never aborts the pass; its outcome is logged and the next rule proceeds.
func (e *Engine) EvaluateAll(ctx context.Context, now time.Time) map[string]Outcome {
	active, err := e.rules.ActiveRules(ctx)
	if err != nil {
		logger.Error("Failed to load active rules", zap.Error(err))
		return nil
	}

	outcomes := make(map[string]Outcome, len(active))
	for i := range active {
		rule := active[i]
		outcome := e.evaluateRule(ctx, &rule, now)
		outcomes[rule.ID] = outcome
		if outcome == OutcomeTriggered || outcome == OutcomeSuppressed {
			logger.Info("Rule evaluated",
				zap.String("rule_id", rule.ID),
				zap.String("rule_name", rule.Name),
				zap.String("outcome", string(outcome)),
			)
		}
	}
	return outcomes
}

func (e *Engine) evaluateRule(ctx context.Context, rule *models.AlertRule, now time.Time) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Rule evaluation panicked",
				zap.String("rule_id", rule.ID),
				zap.Any("panic", r),
			)
			outcome = OutcomeError
		}
	}()

	if err := validateCondition(rule.Condition); err != nil {
		logger.Warn("Skipping invalid rule",
			zap.String("rule_id", rule.ID),
			zap.String("rule_name", rule.Name),
			zap.Error(err),
		)
		return OutcomeInvalid
	}

	triggered, value, err := e.conditionHolds(ctx, rule.Condition, now)
	if err != nil {
		logger.Error("Rule condition evaluation failed",
			zap.String("rule_id", rule.ID),
			zap.Error(err),
		)
		return OutcomeError
	}
	if !triggered {
		return OutcomeIdle
	}

	if suppressed, reason := e.suppressed(ctx, rule, now); suppressed {
		logger.Debug("Rule suppressed",
			zap.String("rule_id", rule.ID),
			zap.String("reason", reason),
		)
		return OutcomeSuppressed
	}

	severity := severityFor(rule, value)

	alert, err := e.factory.CreateAlert(ctx, alerts.CreateRequest{
		Category:     rule.Category,
		BasePriority: rule.BasePriority,
		Title:        rule.Name,
		Message:      triggerMessage(rule, value),
		Context: models.AlertContext{
			EntityID:    rule.Condition.EntityID,
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Severity:    severity,
			Source:      "rule_engine",
			TriggeredAt: now,
		},
		Metadata: map[string]string{
			"condition_type": string(rule.Condition.Type),
			"metric":         rule.Condition.Metric,
		},
		Channels:   rule.Channels,
		Recipients: rule.Subscribers,
	})
	if err != nil {
		logger.Error("Failed to create alert for rule",
			zap.String("rule_id", rule.ID),
			zap.Error(err),
		)
		return OutcomeError
	}

	if err := e.rules.SetLastTriggered(ctx, rule.ID, now); err != nil {
		logger.Error("Failed to record trigger time",
			zap.String("rule_id", rule.ID),
			zap.Error(err),
		)
	}
	if e.limiter != nil {
		if _, err := e.limiter.IncrAlertCount(ctx, rule.ID); err != nil {
			logger.Debug("Alert rate counter unavailable", zap.Error(err))
		}
	}

	logger.Info("Rule triggered",
		zap.String("rule_id", rule.ID),
		zap.String("alert_id", alert.ID),
		zap.Float64("value", value),
	)
	return OutcomeTriggered
}

// suppressed checks the suppression window, the frequency interval, quiet
// hours, and the hourly rate cap, in that order. The suppression window is
// the hard guarantee; the rate cap fails open when the counter backend is
// down.
func (e *Engine) suppressed(ctx context.Context, rule *models.AlertRule, now time.Time) (bool, string) {
	if rule.Threshold.SuppressionMinutes > 0 && rule.LastTriggered != nil {
		window := time.Duration(rule.Threshold.SuppressionMinutes) * time.Minute
		if now.Sub(*rule.LastTriggered) < window {
			return true, "suppression_window"
		}
	}

	// Batched and scheduled rules alert at most once per interval; immediate
	// rules skip this check.
	if rule.Frequency.Mode != models.ModeImmediate && rule.Frequency.Interval > 0 &&
		rule.LastTriggered != nil && now.Sub(*rule.LastTriggered) < rule.Frequency.Interval {
		return true, "frequency_interval"
	}

	if inQuietHours(rule.Frequency, now) {
		return true, "quiet_hours"
	}

	if rule.Frequency.MaxAlertsPerHour > 0 && e.limiter != nil {
		count, err := e.limiter.AlertCount(ctx, rule.ID)
		if err != nil {
			logger.Debug("Alert rate counter unavailable, not rate limiting",
				zap.String("rule_id", rule.ID),
				zap.Error(err),
			)
		} else if count >= int64(rule.Frequency.MaxAlertsPerHour) {
			return true, "rate_cap"
		}
	}

	return false, ""
}

func inQuietHours(freq models.Frequency, now time.Time) bool {
	start, end := freq.QuietHoursStart, freq.QuietHoursEnd
	if start == end {
		return false
	}
	hour := now.UTC().Hour()
	if start < end {
		return hour >= start && hour < end
	}
	// window wraps midnight, e.g. 22..6
	return hour >= start || hour < end
}

func (e *Engine) conditionHolds(ctx context.Context, cond models.Condition, now time.Time) (bool, float64, error) {
	switch cond.Type {
	case models.ConditionMetricThreshold:
		return e.evalMetricThreshold(ctx, cond)
	case models.ConditionTrendChange:
		return e.evalTrendChange(ctx, cond)
	case models.ConditionCompetitorAction:
		return e.evalEventPresence(ctx, cond, models.ChangeCompetitor, now)
	case models.ConditionMarketEvent:
		return e.evalEventPresence(ctx, cond, models.ChangeContent, now)
	case models.ConditionPredictiveTrigger:
		return e.evalPredictiveTrigger(ctx, cond)
	default:
		return false, 0, fmt.Errorf("unknown condition type %q", cond.Type)
	}
}

func (e *Engine) evalMetricThreshold(ctx context.Context, cond models.Condition) (bool, float64, error) {
	window := cond.TimeWindow
	if window <= 0 {
		window = defaultTimeWindow
	}

	value, ok, err := e.metrics.GetValue(ctx, cond.Metric, window, cond.Aggregation)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read metric %q: %w", cond.Metric, err)
	}
	if !ok {
		return false, 0, nil
	}

	switch cond.Operator {
	case models.OpGreaterThan:
		return value > cond.Value, value, nil
	case models.OpLessThan:
		return value < cond.Value, value, nil
	case models.OpEquals:
		return value == cond.Value, value, nil
	case models.OpNotEquals:
		return value != cond.Value, value, nil
	case models.OpPercentageChange:
		historical, histOK, err := e.metrics.GetHistoricalValue(ctx, cond.Metric, window)
		if err != nil {
			return false, 0, fmt.Errorf("failed to read historical metric %q: %w", cond.Metric, err)
		}
		if !histOK || historical == 0 {
			return false, value, nil
		}
		change := (value - historical) / historical * 100
		return math.Abs(change) >= cond.Value, change, nil
	default:
		return false, 0, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

func (e *Engine) evalTrendChange(ctx context.Context, cond models.Condition) (bool, float64, error) {
	window := cond.TimeWindow
	if window <= 0 {
		window = defaultTimeWindow
	}

	recent, ok, err := e.metrics.GetValue(ctx, cond.Metric, window, models.AggAvg)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read metric %q: %w", cond.Metric, err)
	}
	if !ok {
		return false, 0, nil
	}

	historical, histOK, err := e.metrics.GetHistoricalValue(ctx, cond.Metric, window)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read historical metric %q: %w", cond.Metric, err)
	}
	if !histOK || historical == 0 {
		return false, recent, nil
	}

	change := (recent - historical) / historical * 100
	return math.Abs(change) >= cond.Value, change, nil
}

func (e *Engine) evalEventPresence(ctx context.Context, cond models.Condition, fallback models.ChangeCategory, now time.Time) (bool, float64, error) {
	category := cond.EventCategory
	if category == "" {
		category = fallback
	}
	lookback := cond.Lookback
	if lookback <= 0 {
		lookback = defaultTimeWindow
	}

	events, err := e.events.EventsSince(ctx, category, cond.EntityID, now.Add(-lookback))
	if err != nil {
		return false, 0, fmt.Errorf("failed to load change events: %w", err)
	}
	return len(events) > 0, float64(len(events)), nil
}

// evalPredictiveTrigger fires only when both the confidence and risk-score
// series clear their respective floors.
func (e *Engine) evalPredictiveTrigger(ctx context.Context, cond models.Condition) (bool, float64, error) {
	window := cond.TimeWindow
	if window <= 0 {
		window = defaultTimeWindow
	}

	confidence, ok, err := e.metrics.GetValue(ctx, cond.Metric+".confidence", window, models.AggAvg)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read prediction confidence: %w", err)
	}
	if !ok || confidence < cond.MinConfidence {
		return false, confidence, nil
	}

	risk, ok, err := e.metrics.GetValue(ctx, cond.Metric+".risk_score", window, models.AggAvg)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read prediction risk score: %w", err)
	}
	if !ok || risk < cond.MinRiskScore {
		return false, risk, nil
	}

	return true, risk, nil
}

func validateCondition(cond models.Condition) error {
	switch cond.Type {
	case models.ConditionMetricThreshold:
		if cond.Metric == "" {
			return fmt.Errorf("metric_threshold condition requires a metric name")
		}
		switch cond.Operator {
		case models.OpGreaterThan, models.OpLessThan, models.OpEquals, models.OpNotEquals, models.OpPercentageChange:
		default:
			return fmt.Errorf("unknown operator %q", cond.Operator)
		}
	case models.ConditionTrendChange:
		if cond.Metric == "" {
			return fmt.Errorf("trend_change condition requires a metric name")
		}
	case models.ConditionCompetitorAction, models.ConditionMarketEvent:
		// category and lookback both have defaults
	case models.ConditionPredictiveTrigger:
		if cond.Metric == "" {
			return fmt.Errorf("predictive_trigger condition requires a metric name")
		}
		if cond.MinConfidence <= 0 || cond.MinRiskScore <= 0 {
			return fmt.Errorf("predictive_trigger condition requires confidence and risk-score floors")
		}
	default:
		return fmt.Errorf("unknown condition type %q", cond.Type)
	}
	return nil
}

// severityFor maps the observed value onto the rule's threshold bands.
func severityFor(rule *models.AlertRule, value float64) string {
	if rule.Threshold.Emergency != nil && value >= *rule.Threshold.Emergency {
		return "emergency"
	}
	if rule.Threshold.Critical != 0 && value >= rule.Threshold.Critical {
		return "critical"
	}
	if rule.Threshold.Warning != 0 && value >= rule.Threshold.Warning {
		return "warning"
	}
	return "info"
}

func triggerMessage(rule *models.AlertRule, value float64) string {
	switch rule.Condition.Type {
	case models.ConditionCompetitorAction, models.ConditionMarketEvent:
		return fmt.Sprintf("%s: %.0f matching change event(s) in the last %s", rule.Description, value, lookbackFor(rule.Condition))
	default:
		return fmt.Sprintf("%s: observed value %.2f (threshold %.2f)", rule.Description, value, rule.Condition.Value)
	}
}

func lookbackFor(cond models.Condition) time.Duration {
	if cond.Lookback > 0 {
		return cond.Lookback
	}
	return defaultTimeWindow
}
