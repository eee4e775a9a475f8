package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/backend/internal/alerts"
	"github.com/marketpulse/backend/internal/storage/memory"
	"github.com/marketpulse/backend/internal/storage/models"
)

type fakeMetrics struct {
	values     map[string]float64
	historical map[string]float64
	err        error
}

func (f *fakeMetrics) GetValue(ctx context.Context, metric string, window time.Duration, agg models.Aggregation) (float64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	v, ok := f.values[metric]
	return v, ok, nil
}

func (f *fakeMetrics) GetHistoricalValue(ctx context.Context, metric string, window time.Duration) (float64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	v, ok := f.historical[metric]
	return v, ok, nil
}

type fakeFactory struct {
	created []alerts.CreateRequest
	err     error
}

func (f *fakeFactory) CreateAlert(ctx context.Context, req alerts.CreateRequest) (*models.IntelligentAlert, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	return &models.IntelligentAlert{ID: "alert-1", Title: req.Title}, nil
}

type fakeLimiter struct {
	count    int64
	countErr error
	incrs    int
}

func (f *fakeLimiter) IncrAlertCount(ctx context.Context, ruleID string) (int64, error) {
	f.incrs++
	return f.count + 1, nil
}

func (f *fakeLimiter) AlertCount(ctx context.Context, ruleID string) (int64, error) {
	return f.count, f.countErr
}

func thresholdRule(value float64) models.AlertRule {
	return models.AlertRule{
		ID:           "rule-1",
		Name:         "High error rate",
		Description:  "Error rate above limit",
		Category:     models.AlertPerformance,
		BasePriority: models.PriorityHigh,
		Condition: models.Condition{
			Type:     models.ConditionMetricThreshold,
			Metric:   "errors.rate",
			Operator: models.OpGreaterThan,
			Value:    value,
		},
		Active: true,
	}
}

func TestMetricThresholdTriggers(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	rule := thresholdRule(10)
	require.NoError(t, store.CreateRule(ctx, &rule))

	factory := &fakeFactory{}
	engine := NewEngine(store, store, &fakeMetrics{values: map[string]float64{"errors.rate": 15}}, factory, nil)

	outcomes := engine.EvaluateAll(ctx, time.Now())
	assert.Equal(t, OutcomeTriggered, outcomes["rule-1"])
	require.Len(t, factory.created, 1)
	assert.Equal(t, models.AlertPerformance, factory.created[0].Category)
	assert.Equal(t, "rule_engine", factory.created[0].Context.Source)
}

func TestMetricThresholdBelowLimitIsIdle(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	rule := thresholdRule(10)
	require.NoError(t, store.CreateRule(ctx, &rule))

	factory := &fakeFactory{}
	engine := NewEngine(store, store, &fakeMetrics{values: map[string]float64{"errors.rate": 5}}, factory, nil)

	outcomes := engine.EvaluateAll(ctx, time.Now())
	assert.Equal(t, OutcomeIdle, outcomes["rule-1"])
	assert.Empty(t, factory.created)
}

func TestMissingMetricDataIsIdle(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	rule := thresholdRule(10)
	require.NoError(t, store.CreateRule(ctx, &rule))

	factory := &fakeFactory{}
	engine := NewEngine(store, store, &fakeMetrics{}, factory, nil)

	outcomes := engine.EvaluateAll(ctx, time.Now())
	assert.Equal(t, OutcomeIdle, outcomes["rule-1"])
}

func TestSuppressionWindowBlocksRetrigger(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rule := thresholdRule(10)
	rule.Threshold.SuppressionMinutes = 30
	require.NoError(t, store.CreateRule(ctx, &rule))
	require.NoError(t, store.SetLastTriggered(ctx, rule.ID, now.Add(-10*time.Minute)))

	factory := &fakeFactory{}
	engine := NewEngine(store, store, &fakeMetrics{values: map[string]float64{"errors.rate": 15}}, factory, nil)

	outcomes := engine.EvaluateAll(ctx, now)
	assert.Equal(t, OutcomeSuppressed, outcomes["rule-1"])
	assert.Empty(t, factory.created)

	// Once the window has elapsed the rule fires again.
	outcomes = engine.EvaluateAll(ctx, now.Add(25*time.Minute))
	assert.Equal(t, OutcomeTriggered, outcomes["rule-1"])
	assert.Len(t, factory.created, 1)
}

func TestQuietHoursSuppress(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	rule := thresholdRule(10)
	rule.Frequency.QuietHoursStart = 22
	rule.Frequency.QuietHoursEnd = 6
	require.NoError(t, store.CreateRule(ctx, &rule))

	factory := &fakeFactory{}
	engine := NewEngine(store, store, &fakeMetrics{values: map[string]float64{"errors.rate": 15}}, factory, nil)

	// 23:00 UTC falls inside the 22..6 window that wraps midnight.
	night := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	outcomes := engine.EvaluateAll(ctx, night)
	assert.Equal(t, OutcomeSuppressed, outcomes["rule-1"])

	day := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	outcomes = engine.EvaluateAll(ctx, day)
	assert.Equal(t, OutcomeTriggered, outcomes["rule-1"])
}

func TestRateCapSuppresses(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	rule := thresholdRule(10)
	rule.Frequency.MaxAlertsPerHour = 3
	require.NoError(t, store.CreateRule(ctx, &rule))

	factory := &fakeFactory{}
	limiter := &fakeLimiter{count: 3}
	engine := NewEngine(store, store, &fakeMetrics{values: map[string]float64{"errors.rate": 15}}, factory, limiter)

	outcomes := engine.EvaluateAll(ctx, time.Now())
	assert.Equal(t, OutcomeSuppressed, outcomes["rule-1"])
}

func TestRateCapFailsOpen(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	rule := thresholdRule(10)
	rule.Frequency.MaxAlertsPerHour = 3
	require.NoError(t, store.CreateRule(ctx, &rule))

	factory := &fakeFactory{}
	limiter := &fakeLimiter{count: 100, countErr: errors.New("counter down")}
	engine := NewEngine(store, store, &fakeMetrics{values: map[string]float64{"errors.rate": 15}}, factory, limiter)

	outcomes := engine.EvaluateAll(ctx, time.Now())
	assert.Equal(t, OutcomeTriggered, outcomes["rule-1"])
	assert.Equal(t, 1, limiter.incrs)
}

func TestPercentageChangeZeroHistoricalDoesNotTrigger(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	rule := thresholdRule(20)
	rule.Condition.Operator = models.OpPercentageChange
	require.NoError(t, store.CreateRule(ctx, &rule))

	factory := &fakeFactory{}
	metrics := &fakeMetrics{
		values:     map[string]float64{"errors.rate": 50},
		historical: map[string]float64{"errors.rate": 0},
	}
	engine := NewEngine(store, store, metrics, factory, nil)

	outcomes := engine.EvaluateAll(ctx, time.Now())
	assert.Equal(t, OutcomeIdle, outcomes["rule-1"])
}

func TestPercentageChangeTriggers(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	rule := thresholdRule(20)
	rule.Condition.Operator = models.OpPercentageChange
	require.NoError(t, store.CreateRule(ctx, &rule))

	factory := &fakeFactory{}
	metrics := &fakeMetrics{
		values:     map[string]float64{"errors.rate": 130},
		historical: map[string]float64{"errors.rate": 100},
	}
	engine := NewEngine(store, store, metrics, factory, nil)

	outcomes := engine.EvaluateAll(ctx, time.Now())
	assert.Equal(t, OutcomeTriggered, outcomes["rule-1"])
}

func TestInvalidRuleSkipped(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	rule := thresholdRule(10)
	rule.Condition.Metric = ""
	require.NoError(t, store.CreateRule(ctx, &rule))

	factory := &fakeFactory{}
	engine := NewEngine(store, store, &fakeMetrics{}, factory, nil)

	outcomes := engine.EvaluateAll(ctx, time.Now())
	assert.Equal(t, OutcomeInvalid, outcomes["rule-1"])
	assert.Empty(t, factory.created)
}

func TestEventPresenceTriggers(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Now()

	rule := models.AlertRule{
		ID:           "rule-2",
		Name:         "Competitor moved",
		Description:  "Competitor activity detected",
		Category:     models.AlertCompetitor,
		BasePriority: models.PriorityMedium,
		Condition: models.Condition{
			Type:     models.ConditionCompetitorAction,
			EntityID: "acme",
		},
		Active: true,
	}
	require.NoError(t, store.CreateRule(ctx, &rule))

	require.NoError(t, store.AppendEvent(ctx, &models.ChangeEvent{
		ID:        "evt-1",
		Category:  models.ChangeCompetitor,
		EntityID:  "acme",
		Kind:      models.ChangeModified,
		Timestamp: now.Add(-10 * time.Minute),
	}))

	factory := &fakeFactory{}
	engine := NewEngine(store, store, &fakeMetrics{}, factory, nil)

	outcomes := engine.EvaluateAll(ctx, now)
	assert.Equal(t, OutcomeTriggered, outcomes["rule-2"])
}

func TestEventPresenceOutsideLookbackIsIdle(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Now()

	rule := models.AlertRule{
		ID:           "rule-2",
		Name:         "Competitor moved",
		Category:     models.AlertCompetitor,
		BasePriority: models.PriorityMedium,
		Condition: models.Condition{
			Type:     models.ConditionCompetitorAction,
			EntityID: "acme",
		},
		Active: true,
	}
	require.NoError(t, store.CreateRule(ctx, &rule))

	require.NoError(t, store.AppendEvent(ctx, &models.ChangeEvent{
		ID:        "evt-1",
		Category:  models.ChangeCompetitor,
		EntityID:  "acme",
		Kind:      models.ChangeModified,
		Timestamp: now.Add(-3 * time.Hour),
	}))

	factory := &fakeFactory{}
	engine := NewEngine(store, store, &fakeMetrics{}, factory, nil)

	outcomes := engine.EvaluateAll(ctx, now)
	assert.Equal(t, OutcomeIdle, outcomes["rule-2"])
}

func TestPredictiveTriggerRequiresBothFloors(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	rule := models.AlertRule{
		ID:           "rule-3",
		Name:         "Churn risk",
		Category:     models.AlertMarket,
		BasePriority: models.PriorityHigh,
		Condition: models.Condition{
			Type:          models.ConditionPredictiveTrigger,
			Metric:        "churn",
			MinConfidence: 0.8,
			MinRiskScore:  0.7,
		},
		Active: true,
	}
	require.NoError(t, store.CreateRule(ctx, &rule))

	factory := &fakeFactory{}
	metrics := &fakeMetrics{values: map[string]float64{
		"churn.confidence": 0.9,
		"churn.risk_score": 0.5,
	}}
	engine := NewEngine(store, store, metrics, factory, nil)

	outcomes := engine.EvaluateAll(ctx, time.Now())
	assert.Equal(t, OutcomeIdle, outcomes["rule-3"])

	metrics.values["churn.risk_score"] = 0.75
	outcomes = engine.EvaluateAll(ctx, time.Now())
	assert.Equal(t, OutcomeTriggered, outcomes["rule-3"])
}

func TestSeverityBands(t *testing.T) {
	emergency := 100.0
	rule := thresholdRule(10)
	rule.Threshold = models.Threshold{Warning: 20, Critical: 50, Emergency: &emergency}

	assert.Equal(t, "info", severityFor(&rule, 15))
	assert.Equal(t, "warning", severityFor(&rule, 30))
	assert.Equal(t, "critical", severityFor(&rule, 60))
	assert.Equal(t, "emergency", severityFor(&rule, 150))
}

func TestBatchedRuleAlertsOncePerInterval(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rule := thresholdRule(10)
	rule.Frequency = models.Frequency{Mode: models.ModeBatched, Interval: time.Hour}
	require.NoError(t, store.CreateRule(ctx, &rule))
	require.NoError(t, store.SetLastTriggered(ctx, rule.ID, now.Add(-10*time.Minute)))

	factory := &fakeFactory{}
	engine := NewEngine(store, store, &fakeMetrics{values: map[string]float64{"errors.rate": 15}}, factory, nil)

	outcomes := engine.EvaluateAll(ctx, now)
	assert.Equal(t, OutcomeSuppressed, outcomes["rule-1"])
	assert.Empty(t, factory.created)

	outcomes = engine.EvaluateAll(ctx, now.Add(55*time.Minute))
	assert.Equal(t, OutcomeTriggered, outcomes["rule-1"])
	assert.Len(t, factory.created, 1)
}

func TestImmediateRuleIgnoresInterval(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rule := thresholdRule(10)
	rule.Frequency = models.Frequency{Mode: models.ModeImmediate, Interval: time.Hour}
	require.NoError(t, store.CreateRule(ctx, &rule))
	require.NoError(t, store.SetLastTriggered(ctx, rule.ID, now.Add(-10*time.Minute)))

	factory := &fakeFactory{}
	engine := NewEngine(store, store, &fakeMetrics{values: map[string]float64{"errors.rate": 15}}, factory, nil)

	outcomes := engine.EvaluateAll(ctx, now)
	assert.Equal(t, OutcomeTriggered, outcomes["rule-1"])
	assert.Len(t, factory.created, 1)
}

func TestScheduledRuleNeverTriggeredFiresImmediately(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	rule := thresholdRule(10)
	rule.Frequency = models.Frequency{Mode: models.ModeScheduled, Interval: 6 * time.Hour}
	require.NoError(t, store.CreateRule(ctx, &rule))

	factory := &fakeFactory{}
	engine := NewEngine(store, store, &fakeMetrics{values: map[string]float64{"errors.rate": 15}}, factory, nil)

	outcomes := engine.EvaluateAll(ctx, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, OutcomeTriggered, outcomes["rule-1"])
}
