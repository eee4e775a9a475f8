// Package alerts assembles fully-formed alerts from triggered rules or ad hoc
// call sites. The two advisory calls (priority adjustment and insight
// generation) are best effort and never fail alert creation.
package alerts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/insight"
	"github.com/marketpulse/backend/internal/metrics"
	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

// fallbackInsights is returned whenever the insight provider is unavailable.
var fallbackInsights = []string{
	"Review the triggering change against your current positioning.",
	"Check whether competitors show related movement in the same period.",
	"Validate the underlying data before acting on this alert.",
}

// Archive looks up descriptions of similar past changes. Optional, best
// effort.
type Archive interface {
	SimilarChanges(ctx context.Context, text string, limit int) ([]string, error)
}

// Catalog names the peers of a changed entity. Optional, best effort.
type Catalog interface {
	PeerNames(ctx context.Context, entityID string, limit int) ([]string, error)
}

// defaultRecipients maps alert categories to recipient groups.
var defaultRecipients = map[models.AlertCategory][]string{
	models.AlertCompetitor:  {"intel-team@marketpulse.io"},
	models.AlertPricing:     {"pricing-team@marketpulse.io"},
	models.AlertMarket:      {"intel-team@marketpulse.io"},
	models.AlertPerformance: {"ops-team@marketpulse.io"},
	models.AlertSecurity:    {"security-team@marketpulse.io"},
	models.AlertSystem:      {"ops-team@marketpulse.io"},
}

// escalationGroup is added for high and critical alerts.
var escalationGroup = []string{"exec-alerts@marketpulse.io"}

// Notifier observes every created alert. Implementations must not block.
type Notifier interface {
	AlertCreated(alert *models.IntelligentAlert)
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(alert *models.IntelligentAlert)

func (f NotifierFunc) AlertCreated(alert *models.IntelligentAlert) {
	f(alert)
}

type Factory struct {
	alerts     storage.AlertStore
	deliveries storage.DeliveryStore
	provider   insight.Provider
	archive    Archive
	catalog    Catalog
	notifiers  []Notifier
}

func NewFactory(alerts storage.AlertStore, deliveries storage.DeliveryStore, provider insight.Provider, archive Archive, catalog Catalog, notifiers ...Notifier) *Factory {
	return &Factory{
		alerts:     alerts,
		deliveries: deliveries,
		provider:   provider,
		archive:    archive,
		catalog:    catalog,
		notifiers:  notifiers,
	}
}

// CreateRequest describes an alert to assemble.
type CreateRequest struct {
	Category     models.AlertCategory
	BasePriority models.Priority
	Title        string
	Message      string
	Context      models.AlertContext
	Metadata     map[string]string
	Channels     []models.Channel
	Recipients   []string
}

// CreateAlert builds, persists, and fans out an alert. One AlertDelivery is
// enqueued per (channel, recipient) pair.
func (f *Factory) CreateAlert(ctx context.Context, req CreateRequest) (*models.IntelligentAlert, error) {
	if req.BasePriority == "" {
		req.BasePriority = models.PriorityMedium
	}

	metadata := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	priority := req.BasePriority
	metadata["priority_adjusted"] = "false"
	if f.provider != nil {
		adjusted, confidence, err := f.provider.AdjustPriority(ctx, req.Category, req.BasePriority, req.Context, req.Metadata)
		if err != nil {
			logger.Warn("Priority adjustment unavailable, using base priority",
				zap.String("base_priority", string(req.BasePriority)),
				zap.Error(err),
			)
		} else if adjusted != req.BasePriority {
			priority = adjusted
			metadata["priority_adjusted"] = "true"
			metadata["adjustment_confidence"] = strconv.FormatFloat(confidence, 'f', 2, 64)
		}
	}

	insights := f.collectInsights(ctx, req)

	channels := selectChannels(priority, req.Category, req.Channels)
	recipients := resolveRecipients(priority, req.Category, req.Recipients)

	alert := &models.IntelligentAlert{
		ID:         uuid.NewString(),
		Category:   req.Category,
		Priority:   priority,
		Title:      req.Title,
		Message:    req.Message,
		Context:    req.Context,
		Insights:   insights,
		Channels:   channels,
		Recipients: recipients,
		Status:     models.AlertPending,
		CreatedAt:  time.Now(),
		Metadata:   metadata,
	}

	if err := f.alerts.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to persist alert: %w", err)
	}

	for _, channel := range channels {
		for _, recipient := range recipients {
			delivery := &models.AlertDelivery{
				ID:        uuid.NewString(),
				AlertID:   alert.ID,
				Channel:   channel,
				Recipient: recipient,
				Status:    models.DeliveryPending,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}
			if err := f.deliveries.CreateDelivery(ctx, delivery); err != nil {
				logger.Error("Failed to enqueue delivery",
					zap.String("alert_id", alert.ID),
					zap.String("channel", string(channel)),
					zap.String("recipient", recipient),
					zap.Error(err),
				)
			}
		}
	}

	metrics.AlertsCreated.WithLabelValues(string(priority), string(req.Category)).Inc()

	for _, notifier := range f.notifiers {
		notifier.AlertCreated(alert)
	}

	logger.Info("Alert created",
		zap.String("alert_id", alert.ID),
		zap.String("priority", string(priority)),
		zap.String("category", string(req.Category)),
		zap.Int("channels", len(channels)),
		zap.Int("recipients", len(recipients)),
	)

	return alert, nil
}

func (f *Factory) collectInsights(ctx context.Context, req CreateRequest) []string {
	insights := append([]string(nil), fallbackInsights...)

	if f.provider != nil {
		generated, err := f.provider.GenerateInsights(ctx, req.Category, req.Title, req.Message, req.Context)
		if err != nil {
			metrics.InsightFallbacks.Inc()
			logger.Warn("Insight generation unavailable, using fallback", zap.Error(err))
		} else {
			insights = generated
		}
	}

	if f.archive != nil {
		similar, err := f.archive.SimilarChanges(ctx, req.Title+" "+req.Message, 3)
		if err != nil {
			logger.Debug("Change archive lookup failed", zap.Error(err))
		} else if len(similar) > 0 {
			insights = append(insights, fmt.Sprintf("Similar past change: %s", similar[0]))
		}
	}

	if f.catalog != nil && req.Context.EntityID != "" {
		peers, err := f.catalog.PeerNames(ctx, req.Context.EntityID, 3)
		if err != nil {
			logger.Debug("Entity catalog lookup failed", zap.Error(err))
		} else if len(peers) > 0 {
			insights = append(insights, fmt.Sprintf("Related entities worth watching: %s", strings.Join(peers, ", ")))
		}
	}

	return insights
}

// selectChannels applies the fixed priority policy, category additions, and
// any rule-specific channels.
func selectChannels(priority models.Priority, category models.AlertCategory, extra []models.Channel) []models.Channel {
	var channels []models.Channel

	switch priority {
	case models.PriorityCritical:
		channels = []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelSlack, models.ChannelWebhook}
	case models.PriorityHigh:
		channels = []models.Channel{models.ChannelEmail, models.ChannelSlack, models.ChannelWebhook}
	case models.PriorityMedium:
		channels = []models.Channel{models.ChannelEmail, models.ChannelSlack}
	default:
		channels = []models.Channel{models.ChannelEmail}
	}

	if category == models.AlertSecurity {
		channels = append(channels, models.ChannelWebhook)
	}

	channels = append(channels, extra...)

	return dedupeChannels(channels)
}

func resolveRecipients(priority models.Priority, category models.AlertCategory, extra []string) []string {
	recipients := append([]string(nil), defaultRecipients[category]...)
	if len(recipients) == 0 {
		recipients = append(recipients, defaultRecipients[models.AlertSystem]...)
	}

	if priority == models.PriorityHigh || priority == models.PriorityCritical {
		recipients = append(recipients, escalationGroup...)
	}

	recipients = append(recipients, extra...)

	return dedupeStrings(recipients)
}

func dedupeChannels(channels []models.Channel) []models.Channel {
	seen := make(map[models.Channel]struct{}, len(channels))
	out := make([]models.Channel, 0, len(channels))
	for _, ch := range channels {
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
