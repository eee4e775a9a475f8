// Package delivery drains the pending delivery queue and pushes alerts out
// through the configured channel senders.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/analytics"
	"github.com/marketpulse/backend/internal/metrics"
	"github.com/marketpulse/backend/internal/storage"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

// Result summarizes one dispatch pass.
type Result struct {
	Sent      int
	Failed    int
	Exhausted int
}

type Dispatcher struct {
	deliveries  storage.DeliveryStore
	alerts      storage.AlertStore
	senders     map[models.Channel]Sender
	stats       *analytics.Aggregator
	maxAttempts int
	batchSize   int
}

func NewDispatcher(deliveries storage.DeliveryStore, alerts storage.AlertStore, senders map[models.Channel]Sender, stats *analytics.Aggregator, maxAttempts, batchSize int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Dispatcher{
		deliveries:  deliveries,
		alerts:      alerts,
		senders:     senders,
		stats:       stats,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
	}
}

// DispatchPending processes one bounded batch of pending deliveries. A single
// failing delivery never blocks the rest of the batch.
func (d *Dispatcher) DispatchPending(ctx context.Context) Result {
	var result Result

	pending, err := d.deliveries.PendingDeliveries(ctx, d.maxAttempts, d.batchSize)
	if err != nil {
		logger.Error("Failed to load pending deliveries", zap.Error(err))
		return result
	}

	touched := make(map[string]struct{})
	for i := range pending {
		delivery := pending[i]
		err := d.process(ctx, &delivery)
		if err != nil {
			result.Failed++
			if delivery.Attempts >= d.maxAttempts {
				result.Exhausted++
			}
		} else {
			result.Sent++
		}
		metrics.DeliveriesTotal.WithLabelValues(string(delivery.Channel), string(delivery.Status)).Inc()
		if d.stats != nil {
			d.stats.RecordDelivery(delivery.Channel, err == nil)
		}
		touched[delivery.AlertID] = struct{}{}
	}

	for alertID := range touched {
		d.rollupAlert(ctx, alertID)
	}

	if result.Sent+result.Failed > 0 {
		logger.Info("Dispatch pass complete",
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Int("exhausted", result.Exhausted),
		)
	}
	return result
}

func (d *Dispatcher) process(ctx context.Context, delivery *models.AlertDelivery) error {
	sender, ok := d.senders[delivery.Channel]
	if !ok {
		// no sender will ever exist for this channel, fail it outright
		delivery.Attempts = d.maxAttempts
		d.finalize(ctx, delivery, fmt.Errorf("no sender for channel %q", delivery.Channel))
		return fmt.Errorf("no sender for channel %q", delivery.Channel)
	}

	alert, err := d.alerts.GetAlert(ctx, delivery.AlertID)
	if err != nil {
		delivery.Attempts++
		d.finalize(ctx, delivery, fmt.Errorf("failed to load alert: %w", err))
		return err
	}

	delivery.Attempts++
	if err := sender.Send(ctx, alert, delivery.Recipient); err != nil {
		d.finalize(ctx, delivery, err)
		return err
	}

	now := time.Now()
	delivery.Status = models.DeliverySent
	delivery.SentAt = &now
	delivery.Error = ""
	delivery.UpdatedAt = now
	if err := d.deliveries.UpdateDelivery(ctx, delivery); err != nil {
		logger.Error("Failed to record successful delivery",
			zap.String("delivery_id", delivery.ID),
			zap.Error(err),
		)
	}
	return nil
}

// finalize records a failed attempt. The delivery stays pending until the
// attempt cap is reached, then it is marked failed for good.
func (d *Dispatcher) finalize(ctx context.Context, delivery *models.AlertDelivery, sendErr error) {
	delivery.Error = sendErr.Error()
	delivery.UpdatedAt = time.Now()
	if delivery.Attempts >= d.maxAttempts {
		delivery.Status = models.DeliveryFailed
		logger.Warn("Delivery failed permanently",
			zap.String("delivery_id", delivery.ID),
			zap.String("channel", string(delivery.Channel)),
			zap.Int("attempts", delivery.Attempts),
			zap.Error(sendErr),
		)
	} else {
		logger.Debug("Delivery attempt failed, will retry",
			zap.String("delivery_id", delivery.ID),
			zap.String("channel", string(delivery.Channel)),
			zap.Int("attempts", delivery.Attempts),
			zap.Error(sendErr),
		)
	}
	if err := d.deliveries.UpdateDelivery(ctx, delivery); err != nil {
		logger.Error("Failed to record delivery attempt",
			zap.String("delivery_id", delivery.ID),
			zap.Error(err),
		)
	}
}

// rollupAlert moves a pending alert to sent or failed once none of its
// deliveries can make further progress. Acknowledged alerts are left alone.
func (d *Dispatcher) rollupAlert(ctx context.Context, alertID string) {
	alert, err := d.alerts.GetAlert(ctx, alertID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Error("Failed to load alert for rollup", zap.String("alert_id", alertID), zap.Error(err))
		}
		return
	}
	if alert.Status != models.AlertPending {
		return
	}

	deliveries, err := d.deliveries.DeliveriesForAlert(ctx, alertID)
	if err != nil {
		logger.Error("Failed to load deliveries for rollup", zap.String("alert_id", alertID), zap.Error(err))
		return
	}

	anySent := false
	for _, delivery := range deliveries {
		if delivery.Status == models.DeliveryPending {
			return
		}
		if delivery.Status == models.DeliverySent || delivery.Status == models.DeliveryDelivered {
			anySent = true
		}
	}

	status := models.AlertFailed
	if anySent {
		status = models.AlertSent
	}
	if err := d.alerts.UpdateAlertStatus(ctx, alertID, status, time.Now()); err != nil {
		logger.Error("Failed to update alert status", zap.String("alert_id", alertID), zap.Error(err))
	}
}
