package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/backend/internal/storage/memory"
	"github.com/marketpulse/backend/internal/storage/models"
)

type stubProvider struct {
	priority   models.Priority
	confidence float64
	insights   []string
	err        error
}

func (p *stubProvider) AdjustPriority(ctx context.Context, category models.AlertCategory, basePriority models.Priority, alertCtx models.AlertContext, metadata map[string]string) (models.Priority, float64, error) {
	if p.err != nil {
		return "", 0, p.err
	}
	return p.priority, p.confidence, nil
}

func (p *stubProvider) GenerateInsights(ctx context.Context, category models.AlertCategory, title, message string, alertCtx models.AlertContext) ([]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.insights, nil
}

func (p *stubProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

type stubArchive struct {
	similar []string
	err     error
}

func (a *stubArchive) SimilarChanges(ctx context.Context, text string, limit int) ([]string, error) {
	return a.similar, a.err
}

type stubCatalog struct {
	peers []string
	err   error
}

func (c *stubCatalog) PeerNames(ctx context.Context, entityID string, limit int) ([]string, error) {
	return c.peers, c.err
}

func TestCreateAlertWithoutProviderUsesFallback(t *testing.T) {
	store := memory.NewStore()
	factory := NewFactory(store, store, nil, nil, nil)

	alert, err := factory.CreateAlert(context.Background(), CreateRequest{
		Category:     models.AlertPricing,
		BasePriority: models.PriorityHigh,
		Title:        "Competitor price drop",
		Message:      "Starter plan dropped 20%",
	})
	require.NoError(t, err)

	assert.Equal(t, models.PriorityHigh, alert.Priority)
	assert.Equal(t, "false", alert.Metadata["priority_adjusted"])
	assert.Len(t, alert.Insights, 3)
	assert.Equal(t, models.AlertPending, alert.Status)
}

func TestCreateAlertProviderFailureFallsBack(t *testing.T) {
	store := memory.NewStore()
	provider := &stubProvider{err: errors.New("upstream unavailable")}
	factory := NewFactory(store, store, provider, nil, nil)

	alert, err := factory.CreateAlert(context.Background(), CreateRequest{
		Category:     models.AlertCompetitor,
		BasePriority: models.PriorityMedium,
		Title:        "New product page",
		Message:      "Competitor shipped a new product",
	})
	require.NoError(t, err)

	// Advisory failures never block alert creation.
	assert.Equal(t, models.PriorityMedium, alert.Priority)
	assert.Equal(t, "false", alert.Metadata["priority_adjusted"])
	assert.Len(t, alert.Insights, 3)
}

func TestCreateAlertAppliesAdjustedPriority(t *testing.T) {
	store := memory.NewStore()
	provider := &stubProvider{
		priority:   models.PriorityCritical,
		confidence: 0.92,
		insights:   []string{"This matches a pattern seen before a major launch."},
	}
	factory := NewFactory(store, store, provider, nil, nil)

	alert, err := factory.CreateAlert(context.Background(), CreateRequest{
		Category:     models.AlertCompetitor,
		BasePriority: models.PriorityMedium,
		Title:        "Pricing page overhaul",
		Message:      "Full pricing page restructure detected",
	})
	require.NoError(t, err)

	assert.Equal(t, models.PriorityCritical, alert.Priority)
	assert.Equal(t, "true", alert.Metadata["priority_adjusted"])
	assert.Equal(t, "0.92", alert.Metadata["adjustment_confidence"])
	assert.Equal(t, provider.insights, alert.Insights)
}

func TestCreateAlertEnrichesFromArchiveAndCatalog(t *testing.T) {
	store := memory.NewStore()
	archive := &stubArchive{similar: []string{"acme dropped prices in March"}}
	catalog := &stubCatalog{peers: []string{"globex", "initech"}}
	factory := NewFactory(store, store, nil, archive, catalog)

	alert, err := factory.CreateAlert(context.Background(), CreateRequest{
		Category:     models.AlertPricing,
		BasePriority: models.PriorityHigh,
		Title:        "Price drop",
		Message:      "Pro plan now cheaper",
		Context:      models.AlertContext{EntityID: "acme"},
	})
	require.NoError(t, err)

	require.Len(t, alert.Insights, 5)
	assert.Contains(t, alert.Insights[3], "acme dropped prices in March")
	assert.Contains(t, alert.Insights[4], "globex, initech")
}

func TestChannelSelectionByPriority(t *testing.T) {
	assert.Equal(t,
		[]models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelSlack, models.ChannelWebhook},
		selectChannels(models.PriorityCritical, models.AlertPerformance, nil),
	)
	assert.Equal(t,
		[]models.Channel{models.ChannelEmail, models.ChannelSlack, models.ChannelWebhook},
		selectChannels(models.PriorityHigh, models.AlertPerformance, nil),
	)
	assert.Equal(t,
		[]models.Channel{models.ChannelEmail, models.ChannelSlack},
		selectChannels(models.PriorityMedium, models.AlertPerformance, nil),
	)
	assert.Equal(t,
		[]models.Channel{models.ChannelEmail},
		selectChannels(models.PriorityLow, models.AlertPerformance, nil),
	)
}

func TestSecurityCategoryAlwaysGetsWebhook(t *testing.T) {
	channels := selectChannels(models.PriorityLow, models.AlertSecurity, nil)
	assert.Contains(t, channels, models.ChannelWebhook)

	// Critical already carries webhook; the security addition must not
	// duplicate it.
	channels = selectChannels(models.PriorityCritical, models.AlertSecurity, nil)
	count := 0
	for _, ch := range channels {
		if ch == models.ChannelWebhook {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestDeliveryFanOutPerChannelAndRecipient(t *testing.T) {
	store := memory.NewStore()
	factory := NewFactory(store, store, nil, nil, nil)

	alert, err := factory.CreateAlert(context.Background(), CreateRequest{
		Category:     models.AlertPerformance,
		BasePriority: models.PriorityHigh,
		Title:        "Latency spike",
		Message:      "p99 above threshold",
		Recipients:   []string{"oncall@marketpulse.io"},
	})
	require.NoError(t, err)

	// high: email+slack+webhook; recipients: ops-team + exec-alerts + oncall.
	deliveries, err := store.DeliveriesForAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Len(t, deliveries, 9)

	for _, d := range deliveries {
		assert.Equal(t, models.DeliveryPending, d.Status)
		assert.Equal(t, alert.ID, d.AlertID)
	}
}

func TestRecipientsDeduped(t *testing.T) {
	recipients := resolveRecipients(models.PriorityCritical, models.AlertPerformance,
		[]string{"ops-team@marketpulse.io", "exec-alerts@marketpulse.io"})
	assert.Equal(t, []string{"ops-team@marketpulse.io", "exec-alerts@marketpulse.io"}, recipients)
}

func TestUnknownCategoryFallsBackToSystemRecipients(t *testing.T) {
	recipients := resolveRecipients(models.PriorityLow, models.AlertCategory("unknown"), nil)
	assert.Equal(t, []string{"ops-team@marketpulse.io"}, recipients)
}

func TestNotifiersObserveCreatedAlerts(t *testing.T) {
	store := memory.NewStore()
	var seen []*models.IntelligentAlert
	factory := NewFactory(store, store, nil, nil, nil, NotifierFunc(func(a *models.IntelligentAlert) {
		seen = append(seen, a)
	}))

	_, err := factory.CreateAlert(context.Background(), CreateRequest{
		Category:     models.AlertSystem,
		BasePriority: models.PriorityLow,
		Title:        "Disk filling up",
		Message:      "85% used",
		Context:      models.AlertContext{TriggeredAt: time.Now()},
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "Disk filling up", seen[0].Title)
}
